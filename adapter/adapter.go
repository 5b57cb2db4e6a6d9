package adapter

import (
	"context"
	"fmt"
	"strings"
)

// Kind identifies the transport a printer channel runs over
type Kind string

const (
	KindNone     Kind = "none"
	KindWireless Kind = "wireless"
	KindUSB      Kind = "usb"
	KindSerial   Kind = "serial"
)

// Kinds lists the transports in the order they are offered to users
var Kinds = []Kind{KindWireless, KindUSB, KindSerial}

// ParseKind maps a user-supplied transport name to a Kind
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "wireless", "bluetooth", "ble":
		return KindWireless, nil
	case "usb", "usbbulk":
		return KindUSB, nil
	case "serial", "serialcom", "com":
		return KindSerial, nil
	}
	return KindNone, fmt.Errorf("%w: %q", ErrUnsupportedTransport, s)
}

func (k Kind) String() string {
	if k == "" {
		return string(KindNone)
	}
	return string(k)
}

// Channel is a write-only byte sink to a connected printer.
// Every transport provides exactly one implementation.
type Channel interface {
	// Kind reports which transport carries the channel
	Kind() Kind

	// Write sends data to the printer and returns once the transport accepted it
	Write(ctx context.Context, data []byte) error

	// Close releases the underlying link, port or device
	Close() error
}

// Connector establishes a Channel over one transport
type Connector interface {
	Kind() Kind
	Connect(ctx context.Context) (Channel, error)
}
