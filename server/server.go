package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultIdleTimeout ends a raw job whose client stops sending
const DefaultIdleTimeout = 30 * time.Second

// Sink receives raw ESC/POS bytes for the active printer. Each client
// connection is handed over as one stream and printed as one job.
type Sink interface {
	Stream(ctx context.Context, src io.Reader) error
}

// Server represents a TCP server that forwards data to the printer session
type Server struct {
	sink     Sink
	listener net.Listener
	address  string
	idle     time.Duration
	mu       sync.Mutex
	running  bool
	conns    map[net.Conn]struct{}
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	logger   zerolog.Logger
}

// New creates a new server instance
func New(sink Sink, address string, logger zerolog.Logger) *Server {
	return &Server{
		sink:    sink,
		address: address,
		idle:    DefaultIdleTimeout,
		logger:  logger,
		conns:   make(map[net.Conn]struct{}),
	}
}

func (s *Server) listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		s.logger.Error().Msg("Server already running")
		return fmt.Errorf("server already running")
	}

	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to start server")
		return fmt.Errorf("failed to start server: %w", err)
	}

	s.listener = listener
	s.running = true
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.wg.Add(1) // accept loop
	s.logger.Info().Str("address", listener.Addr().String()).Msg("Server listening")
	return nil
}

// Start starts the TCP server and blocks until Stop is called
func (s *Server) Start() error {
	s.logger.Info().Str("address", s.address).Msg("Starting server (blocking mode)")
	if err := s.listen(); err != nil {
		return err
	}

	s.acceptConnections()
	return nil
}

// StartAsync starts the TCP server in a goroutine (non-blocking)
func (s *Server) StartAsync() error {
	s.logger.Info().Str("address", s.address).Msg("Starting server (async mode)")
	if err := s.listen(); err != nil {
		return err
	}

	go s.acceptConnections()
	return nil
}

// acceptConnections handles incoming client connections
func (s *Server) acceptConnections() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if !s.IsRunning() {
				s.logger.Debug().Msg("Server shutting down, stopping accept loop")
				return
			}
			s.logger.Warn().Err(err).Msg("Error accepting connection")
			continue
		}

		s.mu.Lock()
		if !s.running {
			s.mu.Unlock()
			conn.Close()
			return
		}
		s.conns[conn] = struct{}{}
		s.wg.Add(1)
		s.mu.Unlock()

		s.logger.Info().Stringer("client", conn.RemoteAddr()).Msg("Client connected")
		go s.handleConnection(conn)
	}
}

// SetIdleTimeout changes how long a client may stay silent before its job
// is closed
func (s *Server) SetIdleTimeout(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.idle = d
}

// idleReader pushes the read deadline forward before every read
type idleReader struct {
	conn    net.Conn
	timeout time.Duration
}

func (r idleReader) Read(p []byte) (int, error) {
	if err := r.conn.SetReadDeadline(time.Now().Add(r.timeout)); err != nil {
		return 0, err
	}
	return r.conn.Read(p)
}

// handleConnection streams conn to the printer as a single job until the
// client closes, goes idle or a write to the printer fails
func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
		s.logger.Info().Stringer("client", conn.RemoteAddr()).Msg("Client disconnected")
	}()

	clientAddr := conn.RemoteAddr().String()
	s.mu.Lock()
	idle := s.idle
	s.mu.Unlock()

	err := s.sink.Stream(s.ctx, idleReader{conn: conn, timeout: idle})
	switch {
	case err == nil, !s.IsRunning():
	case errors.Is(err, os.ErrDeadlineExceeded):
		s.logger.Debug().Str("client", clientAddr).Dur("idle", idle).Msg("Client idle, job closed")
	default:
		s.logger.Error().Err(err).Str("client", clientAddr).Msg("Raw print job failed")
	}
}

// Stop closes the listener and every client connection, then waits for
// their handlers to return
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}

	s.logger.Info().Msg("Stopping server")
	s.running = false
	listener := s.listener
	for conn := range s.conns {
		conn.Close()
	}
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	err := listener.Close()
	s.wg.Wait()

	s.logger.Info().Msg("Server stopped")
	return err
}

// IsRunning returns whether the server is running
func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Address returns the configured server address
func (s *Server) Address() string {
	return s.address
}

// ListenAddr returns the bound address, which differs from Address when
// port 0 was requested
func (s *Server) ListenAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}
