package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/nixxel-company-limited/thermal-receipt-server/adapter"
	"github.com/nixxel-company-limited/thermal-receipt-server/capability"
	"github.com/nixxel-company-limited/thermal-receipt-server/config"
	"github.com/nixxel-company-limited/thermal-receipt-server/orders"
	"github.com/nixxel-company-limited/thermal-receipt-server/receipt"
	"github.com/nixxel-company-limited/thermal-receipt-server/server"
	"github.com/nixxel-company-limited/thermal-receipt-server/session"
)

func component(name string) zerolog.Logger {
	return log.With().Str("component", name).Logger()
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.DateTime})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	zerolog.SetGlobalLevel(cfg.Level())

	// Probes without a request origin are judged by the control API address
	host, _, err := net.SplitHostPort(cfg.HTTP.Address)
	if err != nil {
		log.Fatal().Err(err).Str("address", cfg.HTTP.Address).Msg("Invalid HTTP address")
	}
	prober := capability.NewProber(capability.Origin{Host: host, Encrypted: cfg.HTTP.TLS()})

	connectors := []adapter.Connector{
		adapter.NewWirelessConnector(cfg.Wireless, component("wireless")),
		adapter.NewUSBConnector(cfg.USB, component("usb")),
		adapter.NewSerialConnector(cfg.Serial, component("serial")),
	}
	sess := session.New(prober, connectors, cfg.Session, component("session"))
	sess.On(session.EventError, func(e session.Event) {
		log.Warn().Err(e.Err).Stringer("kind", e.Kind).Msg("Printer error")
	})

	composer, err := receipt.NewComposer(cfg.Profile, cfg.Receipt.Options)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid receipt options")
	}
	printer := receipt.NewPrinter(sess, composer, component("printer"))
	store := orders.NewMemoryStore(component("orders"))

	raw := server.New(printer, cfg.RawAddress, component("raw"))
	if err := raw.StartAsync(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start raw print server")
	}

	api := server.NewAPI(sess, printer, store, cfg.Receipt.AutoPrint, component("api"))
	api.AllowOrigins(cfg.HTTP.AllowedOrigins...)
	srv := &http.Server{
		Addr:              cfg.HTTP.Address,
		Handler:           api.Router(cfg.HTTP.Mode),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.HTTP.Address).Bool("tls", cfg.HTTP.TLS()).Msg("Control API started")
		var err error
		if cfg.HTTP.TLS() {
			err = srv.ListenAndServeTLS(cfg.HTTP.TLSCert, cfg.HTTP.TLSKey)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Control API error")
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Control API forced to shutdown")
	}
	if err := raw.Stop(); err != nil {
		log.Warn().Err(err).Msg("Raw print server stop")
	}
	sess.Disconnect(shutdownCtx)
	log.Info().Msg("Server exited gracefully")
}
