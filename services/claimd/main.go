package claimd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"feevault/core/state"
	"feevault/native/escrow"
	"feevault/observability"
	"feevault/observability/logging"
	telemetry "feevault/observability/otel"
	"feevault/storage"
)

// Main initialises and runs the claim daemon.
func Main() error {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/claimd/config.yaml", "path to claimd configuration")
	flag.Parse()

	cfg, err := LoadConfig(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := logging.Setup("claimd", cfg.Environment, logging.ParseLevel(cfg.LogLevel))

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "claimd",
		Environment: cfg.Environment,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	platform, err := cfg.PlatformAddress()
	if err != nil {
		return err
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	manager := state.NewManager(db)
	engine := escrow.NewEngine()
	engine.SetState(manager)
	engine.SetPlatform(platform)

	svc, err := New(cfg, NewEngineClient(engine, platform),
		WithLogger(log),
		WithMetrics(observability.Claimd()),
	)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := svc.Start(ctx); err != nil {
		return err
	}
	defer svc.Stop()

	server := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           NewAdminRouter(svc),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serverErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()
	log.Info("admin server listening", "address", cfg.ListenAddress)

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		return fmt.Errorf("admin server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("admin server shutdown", "error", err)
	}
	return nil
}
