// Command authd serves a sessionauth Engine over HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrEthical07/sessionauth"
	"github.com/MrEthical07/sessionauth/internal/httpapi"
	"github.com/MrEthical07/sessionauth/logging"
	"github.com/MrEthical07/sessionauth/metrics/export/prometheus"
)

func main() {
	cfg, err := LoadConfig(os.Args[1:], os.Getenv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := logging.NewJSON(os.Stderr, cfg.LogLevel)
	if err := run(ctx, cfg, log); err != nil {
		log.Error(context.Background(), "authd stopped", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg Config, log logging.Logger) error {
	engineCfg := sessionauth.DefaultConfig()
	engineCfg.Session.TokenExpiry = cfg.TokenExpiry
	engineCfg.Metrics.Enabled = cfg.Metrics
	engineCfg.Metrics.EnableLatencyHistograms = cfg.Metrics
	engineCfg.Audit.Enabled = cfg.Audit

	opts := []sessionauth.OpenOption{sessionauth.OpenWithLogger(log)}
	if cfg.Audit {
		opts = append(opts, sessionauth.OpenWithAuditSink(sessionauth.NewJSONWriterSink(os.Stdout)))
	}

	engine, err := sessionauth.Open(ctx, engineCfg, cfg.DatabaseURL, cfg.RedisURL, opts...)
	if err != nil {
		return fmt.Errorf("open engine: %w", err)
	}
	defer func() {
		if err := engine.Close(); err != nil {
			log.Warn(context.Background(), "engine close", "err", err)
		}
	}()

	if err := bootstrapAdmin(ctx, engine, cfg.BootstrapAdmin, os.Getenv("AUTHD_BOOTSTRAP_PASSWORD"), log); err != nil {
		return err
	}

	var metrics http.Handler
	if cfg.Metrics {
		metrics = prometheus.NewPrometheusExporter(engine).Handler()
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpapi.NewRouter(engine, httpapi.Options{Logger: log, Metrics: metrics}),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info(ctx, "authd listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info(context.Background(), "authd shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// bootstrapAdmin creates the admin account once. An existing account is left
// as it is.
func bootstrapAdmin(ctx context.Context, engine *sessionauth.Engine, email, password string, log logging.Logger) error {
	if email == "" {
		return nil
	}
	if password == "" {
		return errors.New("bootstrap admin requires AUTHD_BOOTSTRAP_PASSWORD")
	}

	id, err := engine.CreateUserWithRole(ctx, email, password, sessionauth.RoleAdmin)
	switch {
	case errors.Is(err, sessionauth.ErrUserAlreadyExists):
		log.Info(ctx, "bootstrap admin already present", "email", email)
		return nil
	case err != nil:
		return fmt.Errorf("bootstrap admin: %w", err)
	}
	log.Info(ctx, "bootstrap admin created", "user_id", id)
	return nil
}
