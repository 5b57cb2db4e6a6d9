// Package capability reports which printer transports the host can offer
// and whether the requesting origin may use them.
package capability

import (
	"context"
	"net"
	"os"
	"runtime"
	"strings"

	"go.bug.st/serial"
)

// Snapshot is a point-in-time view of transport availability
type Snapshot struct {
	Wireless              bool `json:"wireless"`
	USBBulk               bool `json:"usbBulk"`
	SerialCOM             bool `json:"serialCom"`
	SecurePreconditionMet bool `json:"securePreconditionMet"`
}

// Origin describes where a printer request came from
type Origin struct {
	Host      string
	Encrypted bool
}

// Secure reports whether the origin is loopback or uses an encrypted transport
func (o Origin) Secure() bool {
	return o.Encrypted || IsLoopback(o.Host)
}

// IsLoopback reports whether host (optionally with a port) names the local machine
func IsLoopback(host string) bool {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.Trim(host, "[]")
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

type originKey struct{}

// WithOrigin attaches the request origin to ctx
func WithOrigin(ctx context.Context, o Origin) context.Context {
	return context.WithValue(ctx, originKey{}, o)
}

// OriginFrom returns the origin attached to ctx
func OriginFrom(ctx context.Context) (Origin, bool) {
	o, ok := ctx.Value(originKey{}).(Origin)
	return o, ok
}

// Prober checks transport availability. The check functions report only
// whether the host structurally supports a transport; they must not open devices.
type Prober struct {
	// Default is used when the context carries no origin
	Default Origin

	Bluetooth func() bool
	USB       func() bool
	Serial    func() bool
}

// NewProber returns a prober using the host checks for this platform
func NewProber(def Origin) *Prober {
	return &Prober{
		Default:   def,
		Bluetooth: hasBluetooth,
		USB:       hasUSB,
		Serial:    hasSerial,
	}
}

// Probe computes a fresh snapshot. Every transport flag requires the secure precondition.
func (p *Prober) Probe(ctx context.Context) Snapshot {
	origin, ok := OriginFrom(ctx)
	if !ok {
		origin = p.Default
	}

	secure := origin.Secure()
	return Snapshot{
		Wireless:              secure && check(p.Bluetooth),
		USBBulk:               secure && check(p.USB),
		SerialCOM:             secure && check(p.Serial),
		SecurePreconditionMet: secure,
	}
}

func check(f func() bool) bool {
	return f != nil && f()
}

func hasEntries(dir string) bool {
	entries, err := os.ReadDir(dir)
	return err == nil && len(entries) > 0
}

func hasBluetooth() bool {
	return runtime.GOOS == "linux" && hasEntries("/sys/class/bluetooth")
}

func hasUSB() bool {
	switch runtime.GOOS {
	case "linux":
		return hasEntries("/sys/bus/usb/devices")
	case "darwin", "windows":
		return true
	}
	return false
}

func hasSerial() bool {
	_, err := serial.GetPortsList()
	return err == nil
}
