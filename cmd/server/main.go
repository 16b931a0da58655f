/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the finance ledger server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, environment, flags)
  2. Open the store selected by STORE_DRIVER (memory, sqlite, postgres)
  3. Build the finance engine and API handler
  4. Optionally load a demo scenario (DEMO_SCENARIO)
  5. Configure HTTP router with the rate limiter
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (overrides PORT)
  -db      SQLite database path (overrides SQLITE_PATH)
           Use ":memory:" for in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close database connection
  4. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/finance.db"

  # Run against PostgreSQL
  STORE_DRIVER=postgres PGSQL_URL=postgres://... ./server

  # Run on different port with the transfer demo loaded
  DEMO_SCENARIO=transfer STORE_DRIVER=memory ./server -port=3000

SEE ALSO:
  - config/config.go: Environment variables
  - api/server.go: Router configuration
  - store/sqlite, store/postgres: Database implementations
*/
package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"

	"github.com/warp/finance-ledger/api"
	"github.com/warp/finance-ledger/config"
	"github.com/warp/finance-ledger/finance"
	"github.com/warp/finance-ledger/finance/store"
	"github.com/warp/finance-ledger/store/postgres"
	"github.com/warp/finance-ledger/store/sqlite"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Flags
	port := flag.String("port", cfg.Port, "HTTP server port")
	dbPath := flag.String("db", cfg.SQLitePath, "SQLite database path")
	flag.Parse()
	cfg.Port = *port
	cfg.SQLitePath = *dbPath

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize store
	txStore, closer, err := openStore(ctx, cfg)
	if err != nil {
		logger.Error("Failed to initialize database", "driver", cfg.StoreDriver, "error", err)
		os.Exit(1)
	}
	defer closer.Close()

	engine := finance.NewEngine(txStore,
		finance.WithLogger(logger),
		finance.WithPostingAccounts(cfg.IncomeAccountCode, cfg.RefundAccountCode),
	)
	handler := api.NewHandler(engine)

	if cfg.LoadDemoScenario != "" {
		if err := handler.ApplyScenario(ctx, cfg.LoadDemoScenario); err != nil {
			logger.Warn("Failed to load demo scenario", "scenario", cfg.LoadDemoScenario, "error", err)
		}
	}

	rate, err := limiter.NewRateFromFormatted(cfg.RateLimit)
	if err != nil {
		logger.Error("Invalid RATE_LIMIT", "value", cfg.RateLimit, "error", err)
		os.Exit(1)
	}

	router := api.NewRouter(handler, api.RouterOptions{
		Logger:         logger,
		Limiter:        limiter.New(memory.NewStore(), rate),
		AllowedOrigins: cfg.CORSAllowedOrigins,
		Scenarios:      !cfg.IsProduction,
	})
	server := api.NewServer(":"+cfg.Port, router)

	// Start server in goroutine
	go func() {
		logger.Info("Server starting", "port", cfg.Port, "driver", cfg.StoreDriver, "production", cfg.IsProduction)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}
	logger.Info("Server stopped")
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func openStore(ctx context.Context, cfg *config.Config) (finance.TxStore, io.Closer, error) {
	switch cfg.StoreDriver {
	case config.DriverMemory:
		return store.NewTxMemory(), nopCloser{}, nil
	case config.DriverPostgres:
		s, err := postgres.New(ctx, cfg.DatabaseURL, cfg.RunMigrations)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	default:
		s, err := sqlite.New(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	}
}
