// Package session owns the single printer connection of the process.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nixxel-company-limited/thermal-receipt-server/adapter"
	"github.com/nixxel-company-limited/thermal-receipt-server/capability"
)

// ErrConnectInProgress is returned when a second connect overlaps a pending one
var ErrConnectInProgress = errors.New("connection attempt already in progress")

// State of the session
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	}
	return "disconnected"
}

// Prober reports transport availability for the requesting origin
type Prober interface {
	Probe(ctx context.Context) capability.Snapshot
}

// Options tune session behaviour
type Options struct {
	// DisconnectOnWriteFailure drops the channel after a failed write. By
	// default the session stays connected so callers can retry without re-pairing.
	DisconnectOnWriteFailure bool `mapstructure:"disconnect_on_write_failure"`
}

// Status is a snapshot of the session for API consumers
type Status struct {
	Connected bool         `json:"connected"`
	Kind      adapter.Kind `json:"kind"`
	State     string       `json:"state"`
}

// Manager holds at most one printer channel. Connect, Disconnect and Write
// may be called from any goroutine; whole print jobs must be serialized by
// the caller. A Disconnect during a connect reports the session as
// disconnected at once, but further connects are refused until the
// abandoned connector returns.
type Manager struct {
	connectors map[adapter.Kind]adapter.Connector
	prober     Prober
	opts       Options
	logger     zerolog.Logger

	mu      sync.Mutex
	state   State
	kind    adapter.Kind
	channel adapter.Channel
	gen     uint64
	dialing bool

	listenersMutex sync.RWMutex
	listeners      map[EventType][]func(Event)
	subscribers    map[int]chan Event
	nextSub        int
}

// New creates a disconnected session that can use the given connectors
func New(prober Prober, connectors []adapter.Connector, opts Options, logger zerolog.Logger) *Manager {
	m := &Manager{
		connectors:  make(map[adapter.Kind]adapter.Connector, len(connectors)),
		prober:      prober,
		opts:        opts,
		logger:      logger,
		kind:        adapter.KindNone,
		listeners:   make(map[EventType][]func(Event)),
		subscribers: make(map[int]chan Event),
	}
	for _, c := range connectors {
		m.connectors[c.Kind()] = c
	}
	return m
}

// Capabilities probes the environment for the origin carried by ctx
func (m *Manager) Capabilities(ctx context.Context) capability.Snapshot {
	return m.prober.Probe(ctx)
}

func available(snap capability.Snapshot, kind adapter.Kind) bool {
	switch kind {
	case adapter.KindWireless:
		return snap.Wireless
	case adapter.KindUSB:
		return snap.USBBulk
	case adapter.KindSerial:
		return snap.SerialCOM
	}
	return false
}

// Connect establishes a channel over kind, tearing down any existing one
// first. The returned error unwraps to one of the adapter error sentinels.
func (m *Manager) Connect(ctx context.Context, kind adapter.Kind) error {
	connector, ok := m.connectors[kind]
	if !ok {
		return &adapter.ConnectError{Kind: kind, Err: adapter.ErrUnsupportedTransport}
	}

	snap := m.prober.Probe(ctx)
	if !snap.SecurePreconditionMet {
		return &adapter.ConnectError{Kind: kind, Err: adapter.ErrInsecureOrigin}
	}
	if !available(snap, kind) {
		return &adapter.ConnectError{Kind: kind, Err: adapter.ErrUnsupportedTransport}
	}

	m.mu.Lock()
	if m.state == StateConnecting || m.dialing {
		m.mu.Unlock()
		return &adapter.ConnectError{Kind: kind, Err: ErrConnectInProgress}
	}
	prev, prevKind := m.channel, m.kind
	m.state = StateConnecting
	m.dialing = true
	m.kind = adapter.KindNone
	m.channel = nil
	m.gen++
	gen := m.gen
	m.mu.Unlock()

	if prev != nil {
		m.logger.Info().Stringer("kind", prevKind).Msg("Tearing down previous printer connection")
		m.teardown(prev)
		m.emit(Event{Type: EventDisconnect, Kind: prevKind})
	}

	m.logger.Info().Stringer("kind", kind).Msg("Connecting to printer")
	ch, err := connector.Connect(ctx)

	m.mu.Lock()
	m.dialing = false
	if gen != m.gen {
		// Disconnect ran while the connector was busy
		m.mu.Unlock()
		if ch != nil {
			m.teardown(ch)
		}
		return &adapter.ConnectError{Kind: kind, Err: adapter.ErrUserCancelled}
	}
	if err != nil {
		m.state = StateDisconnected
		m.mu.Unlock()

		m.logger.Error().Err(err).Stringer("kind", kind).Msg("Printer connection failed")
		cerr := &adapter.ConnectError{Kind: kind, Err: err}
		m.emit(Event{Type: EventError, Kind: kind, Err: cerr})
		return cerr
	}
	m.state = StateConnected
	m.kind = kind
	m.channel = ch
	m.mu.Unlock()

	m.logger.Info().Stringer("kind", kind).Msg("Printer connected")
	m.emit(Event{Type: EventConnect, Kind: kind})
	return nil
}

// Disconnect releases the channel. It is idempotent and never fails;
// teardown errors are logged.
func (m *Manager) Disconnect(ctx context.Context) {
	m.mu.Lock()
	ch, kind, was := m.channel, m.kind, m.state
	m.channel = nil
	m.kind = adapter.KindNone
	m.state = StateDisconnected
	m.gen++
	m.mu.Unlock()

	if ch != nil {
		m.teardown(ch)
	}
	if was != StateDisconnected {
		m.logger.Info().Stringer("kind", kind).Msg("Printer disconnected")
		m.emit(Event{Type: EventDisconnect, Kind: kind})
	}
}

// Write sends data over the active channel. A failed write leaves the
// session connected unless DisconnectOnWriteFailure is set.
func (m *Manager) Write(ctx context.Context, data []byte) error {
	m.mu.Lock()
	ch, kind := m.channel, m.kind
	connected := m.state == StateConnected
	m.mu.Unlock()

	if !connected || ch == nil {
		return adapter.ErrNotConnected
	}

	if err := ch.Write(ctx, data); err != nil {
		if !errors.Is(err, adapter.ErrWriteFailed) && !errors.Is(err, adapter.ErrNotConnected) {
			err = fmt.Errorf("%w: %w", adapter.ErrWriteFailed, err)
		}
		m.emit(Event{Type: EventError, Kind: kind, Err: err})
		if m.opts.DisconnectOnWriteFailure {
			m.drop(ch)
		}
		return err
	}

	m.emit(Event{Type: EventData, Kind: kind, Bytes: len(data)})
	return nil
}

// drop disconnects only if ch is still the active channel
func (m *Manager) drop(ch adapter.Channel) {
	m.mu.Lock()
	if m.channel != ch {
		m.mu.Unlock()
		return
	}
	kind := m.kind
	m.channel = nil
	m.kind = adapter.KindNone
	m.state = StateDisconnected
	m.gen++
	m.mu.Unlock()

	m.logger.Warn().Stringer("kind", kind).Msg("Dropping printer connection after write failure")
	m.teardown(ch)
	m.emit(Event{Type: EventDisconnect, Kind: kind})
}

func (m *Manager) teardown(ch adapter.Channel) {
	if err := ch.Close(); err != nil {
		m.logger.Warn().Err(fmt.Errorf("%w: %w", adapter.ErrTeardownFailed, err)).Stringer("kind", ch.Kind()).Msg("Ignoring teardown error")
	}
}

// IsConnected reports whether a channel is active
func (m *Manager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == StateConnected
}

// Kind returns the active transport, or KindNone
func (m *Manager) Kind() adapter.Kind {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.kind
}

// State returns the current state
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Status returns connected, kind and state together
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{
		Connected: m.state == StateConnected,
		Kind:      m.kind,
		State:     m.state.String(),
	}
}

// EventType represents session events
type EventType int

const (
	EventConnect EventType = iota
	EventDisconnect
	EventData
	EventError
)

func (t EventType) String() string {
	switch t {
	case EventConnect:
		return "connect"
	case EventDisconnect:
		return "disconnect"
	case EventData:
		return "data"
	case EventError:
		return "error"
	}
	return "unknown"
}

// Event represents a session event
type Event struct {
	Type  EventType
	Kind  adapter.Kind
	Bytes int
	Err   error
	Time  time.Time
}

// On adds an event listener. Handlers run on their own goroutine.
func (m *Manager) On(eventType EventType, handler func(Event)) {
	m.listenersMutex.Lock()
	defer m.listenersMutex.Unlock()

	m.listeners[eventType] = append(m.listeners[eventType], handler)
}

// Subscribe returns a channel receiving every event until cancel is called.
// Events are dropped when the buffer is full.
func (m *Manager) Subscribe(buffer int) (<-chan Event, func()) {
	m.listenersMutex.Lock()
	defer m.listenersMutex.Unlock()

	id := m.nextSub
	m.nextSub++
	ch := make(chan Event, buffer)
	m.subscribers[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			m.listenersMutex.Lock()
			defer m.listenersMutex.Unlock()
			delete(m.subscribers, id)
			close(ch)
		})
	}
	return ch, cancel
}

// emit triggers an event
func (m *Manager) emit(event Event) {
	if event.Time.IsZero() {
		event.Time = time.Now()
	}

	m.listenersMutex.RLock()
	defer m.listenersMutex.RUnlock()

	for _, handler := range m.listeners[event.Type] {
		go handler(event)
	}
	for _, ch := range m.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
}
