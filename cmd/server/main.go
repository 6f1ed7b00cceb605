/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the estate billing server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env (if present), then flags over environment (config package)
  2. Build the zap logger
  3. Initialize SQLite store
  4. Seed tariffs from a YAML schedule, or load the demo scenario
  5. Start the period auto-lock scheduler (if configured)
  6. Configure HTTP router
  7. Start server with graceful shutdown

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close database connection
  4. Exit

EXAMPLES:
  # Run with file database and a tariff seed
  ./server -db="./data/billing.db" -tariffs="./tariffs.yaml"

  # Demo data in memory
  ./server -db=":memory:" -demo

  # Require bearer tokens
  BILLING_JWT_SECRET=change-me ./server

SEE ALSO:
  - config/config.go: Every setting
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
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
	_ "time/tzdata"

	"go.uber.org/zap"

	"github.com/warp/estate-billing/api"
	"github.com/warp/estate-billing/config"
	"github.com/warp/estate-billing/export"
	"github.com/warp/estate-billing/store/sqlite"
)

func main() {
	if err := config.LoadEnvFile(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
		os.Exit(1)
	}
	cfg, err := config.Load(os.Args[1:], os.LookupEnv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(2)
	}
	logger, err := cfg.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	// Initialize store
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer store.Close()

	limits := cfg.VehicleLimits
	handler, err := api.NewHandler(store, api.Options{
		Logger:    logger,
		Location:  cfg.Location,
		CacheTTL:  cfg.CacheTTL,
		Building:  export.Building{Name: cfg.BuildingName, Address: cfg.BuildingAddress},
		Limits:    &limits,
		JWTSecret: cfg.JWTSecret,
	})
	if err != nil {
		return err
	}

	ctx := context.Background()
	if cfg.Demo {
		if err := handler.LoadScenarioByID(ctx, "hanoi-residential"); err != nil {
			return fmt.Errorf("failed to load demo data: %w", err)
		}
	} else if cfg.TariffSeedPath != "" {
		doc, err := os.ReadFile(cfg.TariffSeedPath)
		if err != nil {
			return fmt.Errorf("failed to read tariff seed: %w", err)
		}
		seeded, err := handler.SeedTariffs(ctx, doc)
		if err != nil {
			return fmt.Errorf("failed to seed tariffs: %w", err)
		}
		if seeded {
			logger.Info("tariffs seeded", zap.String("path", cfg.TariffSeedPath))
		}
	}
	if !cfg.AuthEnabled() {
		logger.Warn("no JWT secret configured: every API caller is admin")
	}

	closer := api.NewPeriodCloser(handler, cfg.AutoLockDays)
	closer.Start()
	defer closer.Stop()

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      api.NewRouter(handler),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("addr", cfg.Addr()), zap.String("db", cfg.DBPath), zap.String("timezone", cfg.Timezone))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case <-quit:
	}

	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}
