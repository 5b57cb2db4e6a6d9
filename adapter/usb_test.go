package adapter

import (
	"context"
	"errors"
	"testing"

	"github.com/google/gousb"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeUSBDevice records the calls the connector and channel make
type fakeUSBDevice struct {
	configErrs map[int]error
	ifaceErrs  map[int]error
	epErrs     map[int]error

	configs   []int
	ifaces    []int
	endpoints []int
	written   map[int][]byte
	closed    bool
}

func newFakeUSBDevice() *fakeUSBDevice {
	return &fakeUSBDevice{
		configErrs: map[int]error{},
		ifaceErrs:  map[int]error{},
		epErrs:     map[int]error{},
		written:    map[int][]byte{},
	}
}

func (f *fakeUSBDevice) SetConfig(num int) error {
	f.configs = append(f.configs, num)
	return f.configErrs[num]
}

func (f *fakeUSBDevice) ClaimInterface(num int) error {
	f.ifaces = append(f.ifaces, num)
	return f.ifaceErrs[num]
}

func (f *fakeUSBDevice) WriteEndpoint(ctx context.Context, num int, data []byte) (int, error) {
	f.endpoints = append(f.endpoints, num)
	if err := f.epErrs[num]; err != nil {
		return 0, err
	}
	f.written[num] = append(f.written[num], data...)
	return len(data), nil
}

func (f *fakeUSBDevice) Close() error {
	f.closed = true
	return nil
}

func newFakeUSBConnector(dev *fakeUSBDevice, openErr error) *USBConnector {
	c := NewUSBConnector(USBOptions{}, zerolog.Nop())
	c.open = func(ctx context.Context) (usbDevice, error) {
		if openErr != nil {
			return nil, openErr
		}
		return dev, nil
	}
	return c
}

func TestUSBConnectorPrefersConfigOneAndInterfaceZero(t *testing.T) {
	dev := newFakeUSBDevice()
	ch, err := newFakeUSBConnector(dev, nil).Connect(context.Background())
	require.NoError(t, err)

	assert.Equal(t, KindUSB, ch.Kind())
	assert.Equal(t, []int{1}, dev.configs)
	assert.Equal(t, []int{0}, dev.ifaces)
}

func TestUSBConnectorFallsBack(t *testing.T) {
	dev := newFakeUSBDevice()
	dev.configErrs[1] = errors.New("busy")
	dev.ifaceErrs[0] = errors.New("claimed by kernel")

	_, err := newFakeUSBConnector(dev, nil).Connect(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []int{1, 0}, dev.configs)
	assert.Equal(t, []int{0, 1}, dev.ifaces)
}

func TestUSBConnectorToleratesEveryOptionalStep(t *testing.T) {
	dev := newFakeUSBDevice()
	for _, n := range []int{0, 1} {
		dev.configErrs[n] = errors.New("no config")
		dev.ifaceErrs[n] = errors.New("no interface")
	}

	ch, err := newFakeUSBConnector(dev, nil).Connect(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, ch)
}

func TestUSBConnectorOpenFailure(t *testing.T) {
	_, err := newFakeUSBConnector(nil, ErrUserCancelled).Connect(context.Background())
	assert.ErrorIs(t, err, ErrUserCancelled)
}

func TestUSBConnectorCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newFakeUSBConnector(newFakeUSBDevice(), nil).Connect(ctx)
	assert.ErrorIs(t, err, ErrUserCancelled)
}

func TestUSBChannelEndpointOrder(t *testing.T) {
	dev := newFakeUSBDevice()
	dev.epErrs[1] = errors.New("stall")

	ch, err := newFakeUSBConnector(dev, nil).Connect(context.Background())
	require.NoError(t, err)

	require.NoError(t, ch.Write(context.Background(), []byte{0x1B, 0x40}))
	assert.Equal(t, []int{1, 2}, dev.endpoints)
	assert.Equal(t, []byte{0x1B, 0x40}, dev.written[2])
	assert.Empty(t, dev.written[3])
}

func TestUSBChannelAllEndpointsFail(t *testing.T) {
	dev := newFakeUSBDevice()
	for _, n := range []int{1, 2, 3} {
		dev.epErrs[n] = errors.New("stall")
	}

	ch, err := newFakeUSBConnector(dev, nil).Connect(context.Background())
	require.NoError(t, err)

	err = ch.Write(context.Background(), []byte("x"))
	assert.ErrorIs(t, err, ErrWriteFailed)
	assert.Equal(t, []int{1, 2, 3}, dev.endpoints)
}

func TestUSBChannelClose(t *testing.T) {
	dev := newFakeUSBDevice()
	ch, err := newFakeUSBConnector(dev, nil).Connect(context.Background())
	require.NoError(t, err)

	require.NoError(t, ch.Close())
	assert.True(t, dev.closed)

	// Double close should not error
	assert.NoError(t, ch.Close())

	err = ch.Write(context.Background(), []byte("x"))
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestIsPrinterVendor(t *testing.T) {
	assert.True(t, IsPrinterVendor(0x04b8))
	assert.True(t, IsPrinterVendor(0x0416))
	assert.False(t, IsPrinterVendor(0xFFFF))
}

func TestIsPrinter(t *testing.T) {
	t.Run("NilDevice", func(t *testing.T) {
		assert.False(t, IsPrinter(nil))
	})

	t.Run("RealDevice", func(t *testing.T) {
		ctx := gousb.NewContext()
		defer ctx.Close()

		devices := FindPrinters(ctx, zerolog.Nop())
		if len(devices) == 0 {
			t.Skip("No USB printers found")
		}

		for _, dev := range devices {
			defer dev.Close()
			assert.True(t, IsPrinterVendor(dev.Desc.Vendor))
		}
	})
}

func TestGetDeviceByVIDPID(t *testing.T) {
	ctx := gousb.NewContext()
	defer ctx.Close()

	// Test with invalid VID/PID
	_, err := GetDeviceByVIDPID(ctx, 0xFFFF, 0xFFFF)
	assert.Error(t, err)
}

func TestGetDeviceBySerial(t *testing.T) {
	ctx := gousb.NewContext()
	defer ctx.Close()

	_, err := GetDeviceBySerial(ctx, "INVALID_SERIAL_NUMBER")
	assert.Error(t, err)
}

func TestUSBConnectorRealDevice(t *testing.T) {
	ctx := gousb.NewContext()
	printers := FindPrinters(ctx, zerolog.Nop())
	for _, p := range printers {
		p.Close()
	}
	ctx.Close()
	if len(printers) == 0 {
		t.Skip("No USB printer found, skipping test")
	}

	ch, err := NewUSBConnector(USBOptions{}, zerolog.Nop()).Connect(context.Background())
	require.NoError(t, err)
	defer ch.Close()

	// ESC @ (Initialize printer)
	assert.NoError(t, ch.Write(context.Background(), []byte{0x1B, 0x40}))
}
