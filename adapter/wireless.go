package adapter

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-ble/ble"
	"github.com/rs/zerolog"
)

// WirelessNamePrefixes are the advertised name prefixes of known printer families
var WirelessNamePrefixes = []string{
	"POS", "Thermal", "Printer", "Receipt",
	"EPSON", "Star", "Citizen", "Bixolon",
	"TSP", "TM-", "CT-", "SRP",
}

// GATTPair is a service with the characteristic that accepts print data
type GATTPair struct {
	Service        ble.UUID
	Characteristic ble.UUID
}

// WirelessServicePairs are tried in order until one is writable
var WirelessServicePairs = []GATTPair{
	// Generic printer service
	{ble.MustParse("000018f0-0000-1000-8000-00805f9b34fb"), ble.MustParse("00002af1-0000-1000-8000-00805f9b34fb")},
	// Serial-over-GATT service
	{ble.MustParse("49535343-fe7d-4ae5-8fa9-9fafd205e455"), ble.MustParse("49535343-1e4d-4bd9-ba61-23c647249616")},
	// Vendor custom service
	{ble.MustParse("0000ff00-0000-1000-8000-00805f9b34fb"), ble.MustParse("0000ff01-0000-1000-8000-00805f9b34fb")},
}

const defaultBLEPayload = ble.DefaultMTU - 3

// gattClient is the subset of ble.Client the wireless transport uses
type gattClient interface {
	Addr() ble.Addr
	DiscoverServices(filter []ble.UUID) ([]*ble.Service, error)
	DiscoverCharacteristics(filter []ble.UUID, s *ble.Service) ([]*ble.Characteristic, error)
	WriteCharacteristic(c *ble.Characteristic, value []byte, noRsp bool) error
	ExchangeMTU(rxMTU int) (int, error)
	CancelConnection() error
	Disconnected() <-chan struct{}
}

// WirelessOptions selects the BLE peripheral to pair with
type WirelessOptions struct {
	// Address pins a peripheral by MAC address. Empty accepts the first
	// advertisement matching the printer name prefixes or services.
	Address string `mapstructure:"address"`
}

// bleDevice is the subset of ble.Device used to find and dial printers
type bleDevice interface {
	Scan(ctx context.Context, allowDup bool, h ble.AdvHandler) error
	Dial(ctx context.Context, a ble.Addr) (ble.Client, error)
}

// WirelessConnector pairs with a BLE GATT printer
type WirelessConnector struct {
	opts   WirelessOptions
	logger zerolog.Logger
	device func() (bleDevice, error)
	scan   func(ctx context.Context, f ble.AdvFilter) (gattClient, error)
	dial   func(ctx context.Context, addr ble.Addr) (gattClient, error)
}

var (
	bleDeviceOnce sync.Once
	hostDevice    ble.Device
	bleDeviceErr  error
)

// hostBLEDevice opens the host controller once per process
func hostBLEDevice() (bleDevice, error) {
	bleDeviceOnce.Do(func() {
		d, err := defaultBLEDevice()
		if err != nil {
			bleDeviceErr = fmt.Errorf("%w: %v", ErrUnsupportedTransport, err)
			return
		}
		hostDevice = d
	})
	if bleDeviceErr != nil {
		return nil, bleDeviceErr
	}
	return hostDevice, nil
}

// NewWirelessConnector creates a BLE connector using the host's default controller
func NewWirelessConnector(opts WirelessOptions, logger zerolog.Logger) *WirelessConnector {
	c := &WirelessConnector{
		opts:   opts,
		logger: logger.With().Str("transport", string(KindWireless)).Logger(),
		device: hostBLEDevice,
	}
	c.scan = c.scanDevice
	c.dial = c.dialDevice
	return c
}

// scanDevice scans until the first advertisement accepted by f, stops the
// scan and dials the advertiser. It returns ctx.Err() as soon as ctx is done.
func (c *WirelessConnector) scanDevice(ctx context.Context, f ble.AdvFilter) (gattClient, error) {
	dev, err := c.device()
	if err != nil {
		return nil, err
	}

	scanCtx, stop := context.WithCancel(ctx)
	defer stop()

	found := make(chan ble.Addr, 1)
	scanned := make(chan error, 1)
	go func() {
		scanned <- dev.Scan(scanCtx, false, func(a ble.Advertisement) {
			if !f(a) {
				return
			}
			select {
			case found <- a.Addr():
				stop()
			default:
			}
		})
	}()

	var addr ble.Addr
	select {
	case addr = <-found:
		// the controller must leave scanning before it can dial
		select {
		case <-scanned:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	case err := <-scanned:
		select {
		case addr = <-found:
		default:
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if err == nil {
				err = errors.New("scan ended without a matching printer")
			}
			return nil, err
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	c.logger.Debug().Str("address", addr.String()).Msg("Found BLE printer")
	return c.dialWith(ctx, dev, addr)
}

func (c *WirelessConnector) dialDevice(ctx context.Context, addr ble.Addr) (gattClient, error) {
	dev, err := c.device()
	if err != nil {
		return nil, err
	}
	return c.dialWith(ctx, dev, addr)
}

func (c *WirelessConnector) dialWith(ctx context.Context, dev bleDevice, addr ble.Addr) (gattClient, error) {
	client, err := dev.Dial(ctx, addr)
	if err != nil {
		return nil, err
	}
	return client, nil
}

func (c *WirelessConnector) Kind() Kind { return KindWireless }

// Connect pairs with a matching peripheral and finds a writable characteristic
func (c *WirelessConnector) Connect(ctx context.Context) (Channel, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUserCancelled, err)
	}

	var (
		client gattClient
		err    error
	)
	if c.opts.Address != "" {
		client, err = c.dial(ctx, ble.NewAddr(c.opts.Address))
	} else {
		client, err = c.scan(ctx, func(a ble.Advertisement) bool {
			return MatchAdvertisement(a.LocalName(), a.Services())
		})
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrUserCancelled, err)
		}
		return nil, err
	}

	ch := &WirelessChannel{
		addr:   client.Addr(),
		dial:   c.dial,
		logger: c.logger,
	}
	if err := ch.attach(client); err != nil {
		_ = client.CancelConnection()
		return nil, err
	}

	c.logger.Info().Str("address", ch.addr.String()).Str("characteristic", ch.char.UUID.String()).Msg("BLE printer paired")
	return ch, nil
}

// MatchAdvertisement reports whether an advertisement looks like a thermal printer
func MatchAdvertisement(name string, services []ble.UUID) bool {
	for _, prefix := range WirelessNamePrefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	for _, svc := range services {
		for _, pair := range WirelessServicePairs {
			if svc.Equal(pair.Service) {
				return true
			}
		}
	}
	return false
}

// resolveWritable walks WirelessServicePairs and returns the first writable characteristic
func resolveWritable(client gattClient) (*ble.Characteristic, error) {
	for _, pair := range WirelessServicePairs {
		services, err := client.DiscoverServices([]ble.UUID{pair.Service})
		if err != nil {
			continue
		}
		for _, svc := range services {
			if !svc.UUID.Equal(pair.Service) {
				continue
			}
			chars, err := client.DiscoverCharacteristics([]ble.UUID{pair.Characteristic}, svc)
			if err != nil {
				continue
			}
			for _, char := range chars {
				if char.UUID.Equal(pair.Characteristic) && char.Property&(ble.CharWrite|ble.CharWriteNR) != 0 {
					return char, nil
				}
			}
		}
	}
	return nil, ErrNoCompatibleService
}

// WirelessChannel writes to a GATT characteristic, re-dialling the
// peripheral whenever the radio link has dropped since the last write.
type WirelessChannel struct {
	addr   ble.Addr
	dial   func(ctx context.Context, addr ble.Addr) (gattClient, error)
	logger zerolog.Logger

	mu      sync.Mutex
	client  gattClient
	char    *ble.Characteristic
	payload int
	closed  bool
}

func (ch *WirelessChannel) Kind() Kind { return KindWireless }

// Address returns the peripheral address
func (ch *WirelessChannel) Address() string { return ch.addr.String() }

func (ch *WirelessChannel) attach(client gattClient) error {
	char, err := resolveWritable(client)
	if err != nil {
		return err
	}

	payload := defaultBLEPayload
	if mtu, err := client.ExchangeMTU(ble.MaxMTU); err != nil {
		ch.logger.Debug().Err(err).Msg("MTU exchange failed, using default payload size")
	} else if mtu > ble.DefaultMTU {
		payload = mtu - 3
	}

	ch.client = client
	ch.char = char
	ch.payload = payload
	return nil
}

func (ch *WirelessChannel) ensureLink(ctx context.Context) error {
	if ch.client != nil {
		select {
		case <-ch.client.Disconnected():
			ch.logger.Info().Str("address", ch.addr.String()).Msg("BLE link dropped, reconnecting")
			ch.client = nil
		default:
			return nil
		}
	}

	client, err := ch.dial(ctx, ch.addr)
	if err != nil {
		return err
	}
	if err := ch.attach(client); err != nil {
		_ = client.CancelConnection()
		return err
	}
	return nil
}

func (ch *WirelessChannel) Write(ctx context.Context, data []byte) error {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	if ch.closed {
		return ErrNotConnected
	}
	if err := ch.ensureLink(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}

	noRsp := ch.char.Property&ble.CharWrite == 0
	for len(data) > 0 {
		n := min(len(data), ch.payload)
		if err := ch.client.WriteCharacteristic(ch.char, data[:n], noRsp); err != nil {
			return fmt.Errorf("%w: %w", ErrWriteFailed, err)
		}
		data = data[n:]
	}
	return nil
}

func (ch *WirelessChannel) Close() error {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	if ch.closed {
		return nil
	}
	ch.closed = true
	if ch.client == nil {
		return nil
	}
	err := ch.client.CancelConnection()
	ch.client = nil
	return err
}
