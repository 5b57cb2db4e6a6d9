package adapter

import (
	"errors"
	"fmt"
)

var (
	ErrUnsupportedTransport = errors.New("transport not supported in this environment")
	ErrInsecureOrigin       = errors.New("printer access requires a loopback or encrypted origin")
	ErrUserCancelled        = errors.New("device selection cancelled")
	ErrNoCompatibleService  = errors.New("no compatible printer service found")
	ErrNoBaudRateAccepted   = errors.New("could not open serial port at any supported baud rate")
	ErrNotConnected         = errors.New("printer not connected")
	ErrWriteFailed          = errors.New("printer write failed")
	ErrTeardownFailed       = errors.New("printer teardown failed")
)

// ConnectError reports a failed connection attempt for one transport
type ConnectError struct {
	Kind Kind
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Kind, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}
