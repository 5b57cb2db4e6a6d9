package adapter

import (
	"github.com/go-ble/ble"
	"github.com/go-ble/ble/linux"
)

func defaultBLEDevice() (ble.Device, error) {
	return linux.NewDevice()
}
