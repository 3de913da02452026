/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the attendance punch engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags and load configuration
  2. Build the zap logger
  3. Open the store (SQLite or PostgreSQL)
  4. Build the engine with the audit hook
  5. Configure HTTP router
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  Config file path (default: ./config.yaml or ./config/config.yaml)
  -port    HTTP server port, overrides server.port
  -db      SQLite database path, overrides db.path
           Use ":memory:" for in-memory database

ENVIRONMENT:
  Every config key can be set as ATTENDANCE_<SECTION>_<KEY>, e.g.
  ATTENDANCE_DB_DRIVER=postgres, ATTENDANCE_SCHEDULE_AM_IN=06:30.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close database connection
  4. Exit

SEE ALSO:
  - api/server.go: Router configuration
  - config/config.go: Configuration keys and defaults
*/
package main

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

	"go.uber.org/zap"

	"github.com/warp/attendance-engine/api"
	"github.com/warp/attendance-engine/attendance"
	"github.com/warp/attendance-engine/config"
	"github.com/warp/attendance-engine/logger"
	"github.com/warp/attendance-engine/payroll"
	"github.com/warp/attendance-engine/store/postgres"
	"github.com/warp/attendance-engine/store/sqlite"
)

func main() {
	configPath := flag.String("config", "", "Config file path")
	port := flag.Int("port", 0, "HTTP server port (overrides config)")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	schedule, err := attendance.ParseSchedule(cfg.Schedule)
	if err != nil {
		return err
	}
	rates, err := payroll.ParseRates(cfg.Payroll.HourlyRate, cfg.Payroll.OvertimeMultiplier, cfg.Payroll.Currency)
	if err != nil {
		return err
	}

	// Initialize store
	var (
		store attendance.Store
		sink  api.AuditSink
		ping  func(context.Context) error
	)
	switch cfg.Database.Driver {
	case "postgres":
		pg, err := postgres.Open(postgres.Options{
			DSN:             cfg.Database.DSN(),
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: time.Duration(cfg.Database.ConnMaxLifetime) * time.Minute,
			LogSQL:          cfg.Database.LogSQL,
		}, log)
		if err != nil {
			return err
		}
		defer pg.Close()
		store, sink, ping = pg, pg, pg.Ping
	default:
		sq, err := sqlite.New(cfg.Database.Path)
		if err != nil {
			return err
		}
		defer sq.Close()
		store, sink, ping = sq, sq, sq.Ping
	}

	engine := attendance.NewEngine(store, schedule,
		attendance.WithAuditHook(api.NewAuditHook(log, sink)))

	handler := api.NewHandler(engine, rates, log)
	handler.Ping = ping

	router := api.NewRouter(handler, api.RouterConfig{
		AllowOrigins: cfg.Server.AllowOrigins,
		JWTSecret:    cfg.Auth.JWTSecret,
		JWTIssuer:    cfg.Auth.Issuer,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server starting",
			zap.Int("port", cfg.Server.Port),
			zap.String("db_driver", cfg.Database.Driver),
			zap.String("timezone", schedule.Location.String()),
		)
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

	log.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}

	log.Info("server stopped")
	return nil
}
