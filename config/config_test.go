package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nixxel-company-limited/thermal-receipt-server/receipt"
)

func TestDefaults(t *testing.T) {
	cfg, err := LoadFile("")
	require.NoError(t, err)

	assert.Equal(t, "localhost:8080", cfg.HTTP.Address)
	assert.False(t, cfg.HTTP.TLS())
	assert.Equal(t, "localhost:9100", cfg.RawAddress)
	assert.Equal(t, receipt.DefaultOptions(), cfg.Receipt.Options)
	assert.Equal(t, receipt.DefaultProfile(), cfg.Profile)
	assert.False(t, cfg.Receipt.AutoPrint)
	assert.False(t, cfg.Session.DisconnectOnWriteFailure)
	assert.Equal(t, zerolog.InfoLevel, cfg.Level())
}

func TestLoadFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
log_level: debug
http:
  address: 0.0.0.0:8443
  tls_cert: cert.pem
  tls_key: key.pem
  allowed_origins:
    - https://pos.example.com
session:
  disconnect_on_write_failure: true
receipt:
  width: 48
  code_page: cp858
  auto_print: true
profile:
  bill_name: Corner Cafe
usb:
  vendor: 0x04b8
  product: 0x0202
serial:
  port: /dev/ttyUSB0
`), 0o600))

	cfg, err := LoadFile(file)
	require.NoError(t, err)

	assert.Equal(t, zerolog.DebugLevel, cfg.Level())
	assert.True(t, cfg.HTTP.TLS())
	assert.Equal(t, []string{"https://pos.example.com"}, cfg.HTTP.AllowedOrigins)
	assert.True(t, cfg.Session.DisconnectOnWriteFailure)
	assert.Equal(t, 48, cfg.Receipt.Width)
	assert.Equal(t, "cp858", cfg.Receipt.CodePage)
	assert.Equal(t, 3, cfg.Receipt.FeedLines)
	assert.True(t, cfg.Receipt.AutoPrint)
	assert.Equal(t, "Corner Cafe", cfg.Profile.BillName)
	assert.Equal(t, "OLDUSER", cfg.Profile.CouponCode)
	assert.Equal(t, uint16(0x04b8), cfg.USB.Vendor)
	assert.Equal(t, uint16(0x0202), cfg.USB.Product)
	assert.Equal(t, "/dev/ttyUSB0", cfg.Serial.Port)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("SERVER_ADDRESS", "0.0.0.0:9101")
	t.Setenv("THERMAL_RECEIPT_FEED_LINES", "5")
	t.Setenv("THERMAL_WIRELESS_ADDRESS", "aa:bb:cc:dd:ee:ff")

	cfg, err := LoadFile("")
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9101", cfg.RawAddress)
	assert.Equal(t, 5, cfg.Receipt.FeedLines)
	assert.Equal(t, "aa:bb:cc:dd:ee:ff", cfg.Wireless.Address)
}

func TestValidate(t *testing.T) {
	t.Setenv("THERMAL_HTTP_TLS_CERT", "cert.pem")
	_, err := LoadFile("")
	assert.Error(t, err)

	t.Setenv("THERMAL_HTTP_TLS_CERT", "")
	t.Setenv("THERMAL_LOG_LEVEL", "chatty")
	_, err = LoadFile("")
	assert.Error(t, err)
}

func TestMissingFile(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
