package adapter

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog"
	"go.bug.st/serial"
)

// BaudRates are tried in this order until the port opens
var BaudRates = []int{9600, 115200, 19200, 38400}

// SerialOptions selects the serial port to open
type SerialOptions struct {
	// Port is the port name (e.g. /dev/ttyUSB0 or COM3). Empty picks the first listed port.
	Port string `mapstructure:"port"`
}

// SerialConnector opens a serial COM port to the printer
type SerialConnector struct {
	opts   SerialOptions
	logger zerolog.Logger
	list   func() ([]string, error)
	open   func(name string, mode *serial.Mode) (io.WriteCloser, error)
}

// NewSerialConnector creates a serial connector
func NewSerialConnector(opts SerialOptions, logger zerolog.Logger) *SerialConnector {
	return &SerialConnector{
		opts:   opts,
		logger: logger.With().Str("transport", string(KindSerial)).Logger(),
		list:   serial.GetPortsList,
		open: func(name string, mode *serial.Mode) (io.WriteCloser, error) {
			return serial.Open(name, mode)
		},
	}
}

func (c *SerialConnector) Kind() Kind { return KindSerial }

// Connect selects a port and opens it at the first baud rate that succeeds
func (c *SerialConnector) Connect(ctx context.Context) (Channel, error) {
	name, err := c.selectPort(ctx)
	if err != nil {
		return nil, err
	}

	for _, baud := range BaudRates {
		mode := &serial.Mode{
			BaudRate: baud,
			DataBits: 8,
			Parity:   serial.NoParity,
			StopBits: serial.OneStopBit,
		}
		port, err := c.open(name, mode)
		if err != nil {
			c.logger.Warn().Err(err).Str("port", name).Int("baud", baud).Msg("Failed to open serial port")
			continue
		}
		c.logger.Info().Str("port", name).Int("baud", baud).Msg("Serial port opened")
		return &SerialChannel{port: port, name: name, baud: baud}, nil
	}

	return nil, fmt.Errorf("%w: %s", ErrNoBaudRateAccepted, name)
}

func (c *SerialConnector) selectPort(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUserCancelled, err)
	}

	ports, err := c.list()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnsupportedTransport, err)
	}

	if c.opts.Port != "" {
		for _, p := range ports {
			if p == c.opts.Port {
				return p, nil
			}
		}
		return "", fmt.Errorf("%w: port %s not found", ErrUserCancelled, c.opts.Port)
	}

	if len(ports) == 0 {
		return "", fmt.Errorf("%w: no serial port available", ErrUserCancelled)
	}
	return ports[0], nil
}

// SerialChannel writes to an open serial port
type SerialChannel struct {
	port io.WriteCloser
	name string
	baud int
	mu   sync.Mutex
}

func (ch *SerialChannel) Kind() Kind { return KindSerial }

// BaudRate returns the rate the port was opened at
func (ch *SerialChannel) BaudRate() int { return ch.baud }

// Port returns the port name
func (ch *SerialChannel) Port() string { return ch.name }

func (ch *SerialChannel) Write(ctx context.Context, data []byte) error {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	if ch.port == nil {
		return ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}

	for len(data) > 0 {
		n, err := ch.port.Write(data)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrWriteFailed, err)
		}
		data = data[n:]
	}
	return nil
}

func (ch *SerialChannel) Close() error {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	if ch.port == nil {
		return nil
	}
	err := ch.port.Close()
	ch.port = nil
	return err
}
