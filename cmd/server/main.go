/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the inventory engine HTTP server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env + environment), apply flag overrides
  2. Build the logrus logger
  3. Open the store (SQLite, PostgreSQL or MySQL)
  4. Connect Redis when REDIS_ADDR is set: replay cache, key guard,
     timeline publisher
  5. Create the service, handler, scheduler and router
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (overrides PORT)
  -db      SQLite database path (overrides SQLITE_PATH)
           Use ":memory:" for in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the scheduler, close Redis and the database
  4. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/inventory.db"

  # Run against PostgreSQL with Redis
  DB_DRIVER=postgres DATABASE_URL=postgres://... REDIS_ADDR=localhost:6379 ./server

SEE ALSO:
  - config/config.go: Environment variables
  - api/server.go: Router configuration
  - store/open.go: Backend selection
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

	"github.com/sirupsen/logrus"
	"github.com/warp/inventory-engine/api"
	"github.com/warp/inventory-engine/config"
	"github.com/warp/inventory-engine/inventory"
	"github.com/warp/inventory-engine/notify"
	"github.com/warp/inventory-engine/rediscache"
	"github.com/warp/inventory-engine/store"
)

func main() {
	// Flags
	port := flag.String("port", "", "HTTP server port (overrides PORT)")
	dbPath := flag.String("db", "", "SQLite database path (overrides SQLITE_PATH)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	if *port != "" {
		cfg.Port = *port
	}
	if *dbPath != "" {
		cfg.SQLitePath = *dbPath
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	log := logger.WithField("module", "main")

	// Initialize store
	backend, err := store.Open(cfg, logger)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize database")
	}
	defer backend.Close()

	opts := []inventory.Option{inventory.WithLogger(logger)}
	sinks := notify.Fanout{notify.NewLog(logger)}

	if cfg.RedisAddr != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		rdb, err := rediscache.NewClient(ctx, rediscache.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		cancel()
		if err != nil {
			log.WithError(err).Warn("redis unavailable; running without replay cache and key guard")
		} else {
			defer rdb.Close()
			opts = append(opts,
				inventory.WithReplayCache(rediscache.NewCache(rdb, cfg.ReplayTTL)),
				inventory.WithKeyGuard(rediscache.NewGuard(rdb, 30*time.Second)),
			)
			sinks = append(sinks, rediscache.NewPublisher(rdb, cfg.TimelineChannel))
			log.WithField("addr", cfg.RedisAddr).Info("connected to redis")
		}
	}
	opts = append(opts, inventory.WithNotifier(sinks))

	svc := inventory.NewService(backend, opts...)

	// Initialize handler and scheduler
	handler := api.NewHandler(svc, logger)
	scheduler := api.NewReconciliationScheduler(svc, logger)
	scheduler.CheckInterval = cfg.VerifyInterval
	handler.Scheduler = scheduler
	scheduler.Start()
	defer scheduler.Stop()

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      api.NewRouter(handler),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.WithFields(logrus.Fields{"port": cfg.Port, "driver": cfg.DBDriver}).Info("server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.WithError(err).Error("server forced to shutdown")
	}

	log.Info("server stopped")
}
