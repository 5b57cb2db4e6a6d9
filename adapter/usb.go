package adapter

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/google/gousb"
	"github.com/rs/zerolog"
)

// IfaceClassPrinter is the USB printer interface class code
// Reference: http://www.usb.org/developers/defined_class
const IfaceClassPrinter = 0x07

// PrinterVendors is the vendor allow-list for USB thermal printers
var PrinterVendors = []gousb.ID{
	0x04b8, // Epson
	0x0519, // Star Micronics
	0x0fe6, // ICS Advent (Bixolon)
	0x2730, // Citizen
	0x154f, // Wincor Nixdorf
	0x0483, // STMicroelectronics (generic printers)
	0x0416, // Winbond (generic printers)
}

var (
	usbConfigCandidates    = []int{1, 0}
	usbInterfaceCandidates = []int{0, 1}
	usbEndpointCandidates  = []int{1, 2, 3}
)

// USBOptions narrows which device the USB connector selects
type USBOptions struct {
	// Vendor and Product pin a single device when both are set
	Vendor  uint16 `mapstructure:"vendor"`
	Product uint16 `mapstructure:"product"`
	// Serial pins a device by its serial number string
	Serial string `mapstructure:"serial"`
}

// usbDevice is the part of an opened USB device the connector drives
type usbDevice interface {
	SetConfig(num int) error
	ClaimInterface(num int) error
	WriteEndpoint(ctx context.Context, num int, data []byte) (int, error)
	Close() error
}

// USBConnector opens an allow-listed USB printer for bulk transfers
type USBConnector struct {
	opts   USBOptions
	logger zerolog.Logger
	open   func(ctx context.Context) (usbDevice, error)
}

// NewUSBConnector creates a USB connector
func NewUSBConnector(opts USBOptions, logger zerolog.Logger) *USBConnector {
	c := &USBConnector{
		opts:   opts,
		logger: logger.With().Str("transport", string(KindUSB)).Logger(),
	}
	c.open = c.openDevice
	return c
}

func (c *USBConnector) Kind() Kind { return KindUSB }

// Connect opens the selected device, then selects a configuration and claims
// an interface. Both steps are optional because firmware varies.
func (c *USBConnector) Connect(ctx context.Context) (Channel, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUserCancelled, err)
	}

	dev, err := c.open(ctx)
	if err != nil {
		return nil, err
	}

	selected := false
	for _, num := range usbConfigCandidates {
		if err := dev.SetConfig(num); err != nil {
			c.logger.Debug().Err(err).Int("config", num).Msg("USB configuration rejected")
			continue
		}
		selected = true
		break
	}
	if !selected {
		c.logger.Warn().Msg("Could not select USB configuration, continuing")
	}

	claimed := false
	for _, num := range usbInterfaceCandidates {
		if err := dev.ClaimInterface(num); err != nil {
			c.logger.Debug().Err(err).Int("interface", num).Msg("USB interface rejected")
			continue
		}
		claimed = true
		break
	}
	if !claimed {
		c.logger.Warn().Msg("Could not claim USB interface, continuing")
	}

	return &USBChannel{dev: dev, logger: c.logger}, nil
}

func (c *USBConnector) openDevice(ctx context.Context) (usbDevice, error) {
	uctx := gousb.NewContext()

	dev, err := c.selectDevice(uctx)
	if err != nil {
		uctx.Close()
		return nil, err
	}

	// Set auto-detach kernel driver on Linux
	if runtime.GOOS == "linux" {
		if err := dev.SetAutoDetach(true); err != nil {
			c.logger.Warn().Err(err).Msg("Could not enable kernel driver auto-detach")
		}
	}

	c.logger.Info().Str("device", dev.Desc.String()).Msg("USB printer selected")
	return &gousbDevice{ctx: uctx, dev: dev, out: make(map[int]*gousb.OutEndpoint)}, nil
}

func (c *USBConnector) selectDevice(uctx *gousb.Context) (*gousb.Device, error) {
	switch {
	case c.opts.Serial != "":
		dev, err := GetDeviceBySerial(uctx, c.opts.Serial)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUserCancelled, err)
		}
		return dev, nil
	case c.opts.Vendor != 0 && c.opts.Product != 0:
		dev, err := GetDeviceByVIDPID(uctx, c.opts.Vendor, c.opts.Product)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUserCancelled, err)
		}
		return dev, nil
	}

	devices := FindPrinters(uctx, c.logger)
	if len(devices) == 0 {
		return nil, fmt.Errorf("%w: no supported USB printer found", ErrUserCancelled)
	}
	for _, d := range devices[1:] {
		d.Close()
	}
	return devices[0], nil
}

// IsPrinter checks if a device exposes a printer-class interface
func IsPrinter(dev *gousb.Device) bool {
	if dev == nil {
		return false
	}

	cfg, err := dev.ActiveConfigNum()
	if err != nil {
		return false
	}

	cfgDesc, err := dev.Config(cfg)
	if err != nil {
		return false
	}
	defer cfgDesc.Close()

	for _, iface := range cfgDesc.Desc.Interfaces {
		for _, alt := range iface.AltSettings {
			if alt.Class == IfaceClassPrinter {
				return true
			}
		}
	}

	return false
}

// IsPrinterVendor reports whether the vendor ID is on the allow-list
func IsPrinterVendor(vendor gousb.ID) bool {
	for _, v := range PrinterVendors {
		if v == vendor {
			return true
		}
	}
	return false
}

// FindPrinters opens every allow-listed USB device, printer-class devices first
func FindPrinters(ctx *gousb.Context, logger zerolog.Logger) []*gousb.Device {
	var printers, others []*gousb.Device

	devices, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return IsPrinterVendor(desc.Vendor)
	})
	if err != nil {
		// Devices opened before the error are still usable
		logger.Debug().Err(err).Msg("USB enumeration reported an error")
	}

	for _, dev := range devices {
		logger.Debug().Str("device", dev.Desc.String()).Msg("Found device")
		if IsPrinter(dev) {
			printers = append(printers, dev)
		} else {
			others = append(others, dev)
		}
	}

	return append(printers, others...)
}

// GetDeviceByVIDPID opens a device by VID and PID
func GetDeviceByVIDPID(ctx *gousb.Context, vid, pid uint16) (*gousb.Device, error) {
	device, err := ctx.OpenDeviceWithVIDPID(gousb.ID(vid), gousb.ID(pid))
	if err != nil {
		return nil, err
	}
	if device == nil {
		return nil, errors.New("device not found")
	}
	return device, nil
}

// GetDeviceBySerial opens a device by serial number
func GetDeviceBySerial(ctx *gousb.Context, serial string) (*gousb.Device, error) {
	devices, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return true
	})
	if err != nil && len(devices) == 0 {
		return nil, err
	}

	var found *gousb.Device
	for _, dev := range devices {
		if found == nil {
			if s, err := dev.SerialNumber(); err == nil && s == serial {
				found = dev
				continue
			}
		}
		dev.Close()
	}

	if found == nil {
		return nil, errors.New("device with serial number not found")
	}
	return found, nil
}

// USBChannel writes to whichever bulk OUT endpoint accepts the transfer
type USBChannel struct {
	dev    usbDevice
	logger zerolog.Logger
	mu     sync.Mutex
}

func (ch *USBChannel) Kind() Kind { return KindUSB }

// Write tries OUT endpoints 1, 2 and 3 in order for every transfer
func (ch *USBChannel) Write(ctx context.Context, data []byte) error {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	if ch.dev == nil {
		return ErrNotConnected
	}

	var errs []error
	for _, ep := range usbEndpointCandidates {
		if _, err := ch.dev.WriteEndpoint(ctx, ep, data); err != nil {
			errs = append(errs, fmt.Errorf("endpoint %d: %w", ep, err))
			continue
		}
		return nil
	}
	return fmt.Errorf("%w: %w", ErrWriteFailed, errors.Join(errs...))
}

// Close releases the interface, device and libusb context
func (ch *USBChannel) Close() error {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	if ch.dev == nil {
		return nil
	}
	err := ch.dev.Close()
	ch.dev = nil
	return err
}

// gousbDevice adapts gousb handles to usbDevice
type gousbDevice struct {
	ctx   *gousb.Context
	dev   *gousb.Device
	cfg   *gousb.Config
	iface *gousb.Interface
	out   map[int]*gousb.OutEndpoint
}

func (d *gousbDevice) SetConfig(num int) error {
	cfg, err := d.dev.Config(num)
	if err != nil {
		return err
	}
	if d.cfg != nil {
		d.cfg.Close()
	}
	d.cfg = cfg
	return nil
}

func (d *gousbDevice) ClaimInterface(num int) error {
	if d.cfg == nil {
		active, err := d.dev.ActiveConfigNum()
		if err != nil {
			return fmt.Errorf("failed to get active config: %w", err)
		}
		cfg, err := d.dev.Config(active)
		if err != nil {
			return fmt.Errorf("failed to get config: %w", err)
		}
		d.cfg = cfg
	}

	iface, err := d.cfg.Interface(num, 0)
	if err != nil {
		return fmt.Errorf("failed to claim interface: %w", err)
	}
	d.iface = iface
	return nil
}

func (d *gousbDevice) WriteEndpoint(ctx context.Context, num int, data []byte) (int, error) {
	if d.iface == nil {
		return 0, errors.New("no interface claimed")
	}

	ep, ok := d.out[num]
	if !ok {
		var err error
		ep, err = d.iface.OutEndpoint(num)
		if err != nil {
			return 0, err
		}
		d.out[num] = ep
	}
	return ep.WriteContext(ctx, data)
}

func (d *gousbDevice) Close() error {
	var errs []error

	if d.iface != nil {
		d.iface.Close()
		d.iface = nil
	}
	if d.cfg != nil {
		if err := d.cfg.Close(); err != nil {
			errs = append(errs, err)
		}
		d.cfg = nil
	}
	if d.dev != nil {
		if err := d.dev.Close(); err != nil {
			errs = append(errs, err)
		}
		d.dev = nil
	}
	if d.ctx != nil {
		if err := d.ctx.Close(); err != nil {
			errs = append(errs, err)
		}
		d.ctx = nil
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
