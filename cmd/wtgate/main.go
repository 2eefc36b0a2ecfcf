package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zsiec/wtgate/internal/api"
	"github.com/zsiec/wtgate/internal/certs"
	"github.com/zsiec/wtgate/internal/config"
	"github.com/zsiec/wtgate/internal/gateway"
	"github.com/zsiec/wtgate/internal/webhook"
	"github.com/zsiec/wtgate/internal/webtransport"
)

var version = "dev"

func main() {
	configPath := flag.String("config", os.Getenv("GATEWAY_CONFIG"), "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath, os.Getenv)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	cert, err := loadIdentity(cfg)
	if err != nil {
		slog.Error("failed to load TLS identity", "error", err)
		os.Exit(1)
	}
	store := certs.NewStore(cert)
	slog.Info("TLS identity ready",
		"fingerprint", cert.FingerprintHex(),
		"expires", cert.NotAfter.Format(time.RFC3339),
		"self_signed", cfg.SelfSigned(),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	sink := webhook.NewSink(cfg.WebhookURL)
	if !sink.Enabled() {
		slog.Info("webhook disabled")
	}

	wtSrv := webtransport.NewServer(webtransport.Config{
		Addr:      cfg.WebTransportAddr(),
		Path:      cfg.WebTransportPath,
		TLSConfig: store.TLSConfig(),
	})

	apiSrv, err := api.NewServer(api.Config{
		Addr:            cfg.HTTPAddr(),
		Certs:           store,
		WebTransportURL: cfg.WebTransportURL(),
	})
	if err != nil {
		slog.Error("failed to create HTTP server", "error", err)
		os.Exit(1)
	}

	slog.Info("wtgate starting",
		"version", version,
		"http", cfg.HTTPAddr(),
		"webtransport", cfg.WebTransportAddr(),
		"webhook", cfg.WebhookURL,
	)
	slog.Info("HTTP health: GET /health, gateway info: GET /internal/info")

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return apiSrv.ListenAndServe(ctx)
	})

	g.Go(func() error {
		return wtSrv.ListenAndServe(ctx)
	})

	g.Go(func() error {
		return gateway.New(sink).Serve(ctx, wtSrv)
	})

	if !cfg.SelfSigned() {
		g.Go(func() error {
			return store.Watch(ctx, cfg.CertFile, cfg.KeyFile)
		})
	}

	err = g.Wait()

	drainCtx, drainCancel := context.WithTimeout(context.Background(), webhook.Timeout)
	defer drainCancel()
	if derr := sink.Close(drainCtx); derr != nil {
		slog.Warn("webhook deliveries abandoned", "error", derr)
	}

	if err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}

// loadIdentity returns the PEM identity when configured and a fresh
// self-signed certificate otherwise.
func loadIdentity(cfg *config.Config) (*certs.CertInfo, error) {
	if cfg.SelfSigned() {
		slog.Info("generating self-signed certificate")
		return certs.Generate(14 * 24 * time.Hour)
	}
	return certs.Load(cfg.CertFile, cfg.KeyFile)
}
