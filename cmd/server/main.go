/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the CT600 gateway server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env (optional) and environment configuration
  2. Open the record store backend (sheets, sqlite or memory)
  3. Build the HMRC token manager and client
  4. Create the filing service and API handler
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -addr    Listen address (overrides CT600_HTTP_ADDR)
  -store   Record store backend (overrides CT600_STORE)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close the store
  4. Exit

  The HMRC token lives only in memory; a restart requires authorizing again.

EXAMPLES:
  # Spreadsheet backend
  GOOGLE_SHEETS_SPREADSHEET_ID=... ./server

  # Local SQLite backend on another port
  ./server -store=sqlite -addr=:3000

SEE ALSO:
  - config/config.go: Environment variables
  - api/server.go: Router configuration
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/warp/ct600-gateway/api"
	"github.com/warp/ct600-gateway/config"
	"github.com/warp/ct600-gateway/filing"
	"github.com/warp/ct600-gateway/filing/store"
	"github.com/warp/ct600-gateway/hmrc"
	"github.com/warp/ct600-gateway/metrics"
	"github.com/warp/ct600-gateway/store/sheets"
	"github.com/warp/ct600-gateway/store/sqlite"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Warn("error loading .env file", "err", err)
	}

	cfg := config.Load()

	// Flags
	addr := flag.String("addr", cfg.HTTPAddr, "HTTP listen address")
	backend := flag.String("store", cfg.Store, "record store backend: sheets, sqlite or memory")
	flag.Parse()
	cfg.HTTPAddr = *addr
	cfg.Store = *backend

	logger := cfg.NewLogger(os.Stdout)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server failed", "err", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize store
	records, ping, closeStore, err := openRecords(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.Store, err)
	}
	defer closeStore()

	// HMRC
	tokens := hmrc.NewTokenManager(cfg.HMRC, hmrc.WithTokenLogger(logger))
	client := hmrc.NewClient(cfg.HMRC, tokens, hmrc.WithLogger(logger))
	if _, err := tokens.AuthorizationURL(); err != nil {
		logger.Warn("HMRC application settings incomplete; authorization will fail until set", "err", err)
	}

	metrics.Init()

	svc := filing.NewService(records, tokens, client, filing.WithLogger(logger))
	handler := api.NewHandler(svc, tokens, logger)
	handler.Ping = ping

	router := api.NewRouter(handler, api.RouterConfig{
		Logger:          logger,
		AllowAllOrigins: cfg.IsDevelopment(),
		AllowedOrigins:  cfg.AllowedOrigins,
		Limiter:         api.NewRateLimiter(ctx, cfg.RateLimitRPS, cfg.RateLimitBurst),
	})

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Submit waits on HMRC, which may take up to the client timeout.
		WriteTimeout: cfg.HMRC.Timeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", cfg.HTTPAddr, "store", cfg.Store, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
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

// openRecords builds the configured RecordStore, a health check for it and
// a close function.
func openRecords(ctx context.Context, cfg config.Config, logger *slog.Logger) (filing.RecordStore, func(context.Context) error, func(), error) {
	noop := func() {}
	switch cfg.Store {
	case config.StoreSQLite:
		db, err := sqlite.New(cfg.SQLitePath)
		if err != nil {
			return nil, nil, noop, err
		}
		return db, db.Ping, func() { db.Close() }, nil

	case config.StoreMemory:
		logger.Warn("using in-memory store; returns are lost on restart")
		return filing.NewRowRecords(store.NewMemory(), logger), nil, noop, nil

	default:
		sheet, err := sheets.New(ctx, cfg.Sheets, logger)
		if err != nil {
			return nil, nil, noop, err
		}
		if err := sheet.EnsureHeader(ctx); err != nil {
			return nil, nil, noop, err
		}
		return filing.NewRowRecords(sheet, logger), nil, noop, nil
	}
}
