//go:build !linux

package adapter

import "github.com/go-ble/ble"

func defaultBLEDevice() (ble.Device, error) {
	return nil, ErrUnsupportedTransport
}
