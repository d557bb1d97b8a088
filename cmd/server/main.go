/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the leave management server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env + environment), then command-line flags
  2. Build the zap logger
  3. Initialize SQLite store
  4. Seed the bootstrap admin when there are no employees yet
  5. Create service, authorizer, handler, router
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS (override the environment):
  -port    HTTP server port (env PORT, default: 8080)
  -db      SQLite database path (env DB_PATH, default: leave.db)
           Use ":memory:" for in-memory database

ENVIRONMENT:
  LOG_LEVEL                  debug | info (default) | warn | error
  LEAVE_DEFAULT_ANNUAL_DAYS  allowance for ledger years created on demand (15)
  CORS_ALLOWED_ORIGINS       comma separated
  RATE_LIMIT_RPS / RATE_LIMIT_BURST
  BOOTSTRAP_ADMIN_ID         admin seeded into an empty database ("admin")

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close database connection
  4. Exit

SEE ALSO:
  - api/server.go: Router configuration
  - config/config.go: Settings
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/warp/leave-engine/api"
	"github.com/warp/leave-engine/config"
	"github.com/warp/leave-engine/leave"
	"github.com/warp/leave-engine/store/sqlite"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/time/rate"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Flags
	port := flag.Int("port", cfg.Server.Port, "HTTP server port")
	dbPath := flag.String("db", cfg.Database.Path, "SQLite database path")
	flag.Parse()

	logger, err := newLogger(cfg.Log.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	// Initialize store
	store, err := sqlite.New(*dbPath)
	if err != nil {
		logger.Fatal("failed to initialize database", zap.String("path", *dbPath), zap.Error(err))
	}
	defer store.Close()

	svc := leave.NewService(store, leave.Config{DefaultAnnualDays: cfg.Leave.DefaultAnnualDays}, logger)
	if err := seedAdmin(context.Background(), svc, cfg.Server.BootstrapAdminID); err != nil {
		logger.Fatal("failed to seed admin", zap.Error(err))
	}

	authz, err := api.NewAuthorizer()
	if err != nil {
		logger.Fatal("failed to build authorizer", zap.Error(err))
	}

	handler := api.NewHandler(svc, authz, logger)
	router := api.NewRouter(handler, api.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		RateLimit:      rate.Limit(cfg.Server.RateLimitRPS),
		RateBurst:      cfg.Server.RateLimitBurst,
	})

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("server starting", zap.Int("port", *port), zap.String("db", *dbPath))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
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
		logger.Error("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}

func newLogger(level string) (*zap.Logger, error) {
	if level == "debug" {
		return zap.NewDevelopment()
	}
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	return zcfg.Build()
}

// seedAdmin creates the bootstrap admin in an empty database.
func seedAdmin(ctx context.Context, svc *leave.Service, id string) error {
	if id == "" {
		return nil
	}
	employees, err := svc.Employees(ctx)
	if err != nil {
		return err
	}
	if len(employees) > 0 {
		return nil
	}
	_, err = svc.CreateEmployee(ctx, leave.SystemActor, leave.EmployeeInput{
		ID:   leave.EmployeeID(id),
		Name: "Administrator",
		Role: leave.RoleAdmin,
	})
	return err
}
