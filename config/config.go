package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/nixxel-company-limited/thermal-receipt-server/adapter"
	"github.com/nixxel-company-limited/thermal-receipt-server/receipt"
	"github.com/nixxel-company-limited/thermal-receipt-server/session"
)

// DefaultFile is read when THERMAL_CONFIG is unset and the file exists
const DefaultFile = "config.yaml"

type HTTP struct {
	Address string `mapstructure:"address"`
	Mode    string `mapstructure:"mode"`
	TLSCert string `mapstructure:"tls_cert"`
	TLSKey  string `mapstructure:"tls_key"`

	// AllowedOrigins lists the browser origins besides the API's own that may
	// call it, e.g. https://pos.example.com
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// TLS reports whether the control API is served over HTTPS
func (h HTTP) TLS() bool {
	return h.TLSCert != "" && h.TLSKey != ""
}

type Receipt struct {
	receipt.Options `mapstructure:",squash"`
	AutoPrint       bool `mapstructure:"auto_print"`
}

type Config struct {
	LogLevel   string                  `mapstructure:"log_level"`
	HTTP       HTTP                    `mapstructure:"http"`
	RawAddress string                  `mapstructure:"raw_address"`
	Session    session.Options         `mapstructure:"session"`
	Receipt    Receipt                 `mapstructure:"receipt"`
	Profile    receipt.Profile         `mapstructure:"profile"`
	USB        adapter.USBOptions      `mapstructure:"usb"`
	Serial     adapter.SerialOptions   `mapstructure:"serial"`
	Wireless   adapter.WirelessOptions `mapstructure:"wireless"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("http.address", "localhost:8080")
	v.SetDefault("http.mode", "release")
	v.SetDefault("http.tls_cert", "")
	v.SetDefault("http.tls_key", "")
	v.SetDefault("http.allowed_origins", []string{})
	v.SetDefault("raw_address", "localhost:9100")
	v.SetDefault("session.disconnect_on_write_failure", false)

	opts := receipt.DefaultOptions()
	v.SetDefault("receipt.width", opts.Width)
	v.SetDefault("receipt.feed_lines", opts.FeedLines)
	v.SetDefault("receipt.cut_paper", opts.CutPaper)
	v.SetDefault("receipt.print_coupon", opts.PrintCoupon)
	v.SetDefault("receipt.open_drawer", opts.OpenDrawer)
	v.SetDefault("receipt.currency", opts.Currency)
	v.SetDefault("receipt.time_format", opts.TimeFormat)
	v.SetDefault("receipt.code_page", opts.CodePage)
	v.SetDefault("receipt.auto_print", false)

	p := receipt.DefaultProfile()
	v.SetDefault("profile.bill_name", p.BillName)
	v.SetDefault("profile.address", p.Address)
	v.SetDefault("profile.license_label", p.LicenseLabel)
	v.SetDefault("profile.license", p.License)
	v.SetDefault("profile.system_name", p.SystemName)
	v.SetDefault("profile.coupon_label", p.CouponLabel)
	v.SetDefault("profile.coupon_code", p.CouponCode)
	v.SetDefault("profile.coupon_message", p.CouponMessage)

	v.SetDefault("usb.vendor", 0)
	v.SetDefault("usb.product", 0)
	v.SetDefault("usb.serial", "")
	v.SetDefault("serial.port", "")
	v.SetDefault("wireless.address", "")
}

// Load reads the file named by THERMAL_CONFIG, or config.yaml when present,
// then applies THERMAL_* environment overrides
func Load() (*Config, error) {
	file := os.Getenv("THERMAL_CONFIG")
	if file == "" {
		if _, err := os.Stat(DefaultFile); err == nil {
			file = DefaultFile
		}
	}
	return LoadFile(file)
}

// LoadFile is Load with an explicit file; an empty name uses defaults and
// the environment only
func LoadFile(file string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)

	v.SetEnvPrefix("THERMAL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// SERVER_ADDRESS predates the THERMAL_ prefix
	if err := v.BindEnv("raw_address", "THERMAL_RAW_ADDRESS", "SERVER_ADDRESS"); err != nil {
		return nil, err
	}

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", file, err)
		}
		log.Info().Str("file", file).Msg("Loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.HTTP.Address == "" {
		return errors.New("http.address is required")
	}
	if (c.HTTP.TLSCert == "") != (c.HTTP.TLSKey == "") {
		return errors.New("http.tls_cert and http.tls_key must be set together")
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log_level: %w", err)
	}
	return nil
}

// Level returns the configured log level
func (c *Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}
