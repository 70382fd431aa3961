// Command obo-agent serves the container query tool over HTTP.
//
// It validates incoming Entra ID user tokens, exchanges them for downstream
// access tokens with the on-behalf-of grant, and queries the configured
// Function App backend as the calling user.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	obo "github.com/giantswarm/obo-broker"
	"github.com/giantswarm/obo-broker/datatool"
	"github.com/giantswarm/obo-broker/instrumentation"
	"github.com/giantswarm/obo-broker/security"
	"github.com/giantswarm/obo-broker/server"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	cfg, err := obo.FromEnv()
	if err != nil {
		return err
	}
	cfg.Logger = logger

	functionURL := os.Getenv("FUNCTION_APP_URL")
	if functionURL == "" {
		return errors.New("FUNCTION_APP_URL environment variable is required")
	}
	scope := os.Getenv("OBO_SCOPE")
	if scope == "" {
		return errors.New("OBO_SCOPE environment variable is required")
	}

	inst, err := instrumentation.New(instrumentation.Config{
		ServiceName: "obo-agent",
		Enabled:     os.Getenv("OTEL_ENABLED") == "true",
	})
	if err != nil {
		return fmt.Errorf("initializing instrumentation: %w", err)
	}

	broker, err := obo.New(cfg, inst)
	if err != nil {
		return fmt.Errorf("creating broker: %w", err)
	}

	tool, err := datatool.New(datatool.Config{
		Broker:          broker,
		FunctionURL:     functionURL,
		Scope:           scope,
		Logger:          logger,
		Instrumentation: inst,
	})
	if err != nil {
		return fmt.Errorf("creating query tool: %w", err)
	}

	srv, err := server.New(server.Config{
		Tool:            tool,
		Logger:          logger,
		Instrumentation: inst,
		RateLimit: server.RateLimitConfig{
			Rate:       envInt("RATE_LIMIT_RPS", 10),
			Burst:      envInt("RATE_LIMIT_BURST", 20),
			TrustProxy: os.Getenv("TRUST_PROXY") == "true",
		},
		APIKeyHash: os.Getenv("API_KEY_BCRYPT_HASH"),
		Auditor:    security.NewAuditor(logger, os.Getenv("AUDIT_ENABLED") == "true"),
	})
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	defer srv.Close()

	addr := os.Getenv("LISTEN_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := inst.Shutdown(shutdownCtx); err != nil {
		logger.Warn("instrumentation shutdown", "err", err)
	}
	return nil
}

func envInt(name string, fallback int) int {
	v := os.Getenv(name)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
