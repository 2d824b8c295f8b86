/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the PBB collection server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, environment, then flags)
  2. Initialize SQLite store (migrates the schema)
  3. Create engine, auth service and API handler
  4. Configure HTTP router
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (overrides PORT)
  -db      SQLite database path (overrides DATABASE_PATH)
           Use ":memory:" for in-memory database

ENVIRONMENT:
  PORT, DATABASE_PATH, JWT_SECRET (required), TOKEN_TTL, CORS_ORIGINS,
  BCRYPT_COST, LOG_LEVEL, LOG_FORMAT. See config/config.go.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close database connection
  4. Exit

EXAMPLES:
  JWT_SECRET=... ./server -db="./data/pbb.db"
  JWT_SECRET=... ./server -port=3000

SEE ALSO:
  - api/server.go: Router configuration
  - cmd/pbbadmin: Bootstrap CLI (first admin user)
*/
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/warp/pbb-engine/api"
	"github.com/warp/pbb-engine/auth"
	"github.com/warp/pbb-engine/config"
	"github.com/warp/pbb-engine/logging"
	"github.com/warp/pbb-engine/pbb"
	"github.com/warp/pbb-engine/store/sqlite"
)

func main() {
	cfg := config.Load()

	// Flags override the environment
	flag.StringVar(&cfg.Port, "port", cfg.Port, "HTTP server port")
	flag.StringVar(&cfg.DatabasePath, "db", cfg.DatabasePath, "SQLite database path")
	flag.Parse()

	logger := logging.New(logging.DefaultConfig())
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", logging.FieldError, err.Error())
		os.Exit(1)
	}
	logger = logging.New(cfg.Logging())
	logging.SetDefault(logger)

	// Initialize store
	store, err := sqlite.New(cfg.DatabasePath, logger)
	if err != nil {
		logger.Error("failed to initialize database", logging.FieldError, err.Error())
		os.Exit(1)
	}
	defer store.Close()

	hasher := auth.NewHasher(cfg.BcryptCost)
	engine := pbb.NewEngine(store, hasher, logger)
	authService := auth.NewService(store, hasher, auth.NewTokens([]byte(cfg.JWTSecret), cfg.TokenTTL), logger)

	handler := api.NewHandler(engine, authService, store)
	router := api.NewRouter(handler, api.RouterOptions{
		CORSOrigins: cfg.CORSOrigins,
		Logger:      logger,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("server starting", "addr", server.Addr, "db", cfg.DatabasePath)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", logging.FieldError, err.Error())
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", logging.FieldError, err.Error())
		return
	}

	logger.Info("server stopped")
}
