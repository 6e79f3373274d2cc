// Command server runs the sentinel risk engine.
//
// Startup:
//   - Load and validate configuration from YAML, SENTINEL_* environment
//     variables and CLI flags
//   - Build the application logger, audit log and tracer provider
//   - Open the content/login/alert store and apply migrations
//   - Serve the moderate and analyze API plus health and metrics
//
// Config file edits to the rule sets apply without a restart. Listener and
// database settings need one.
//
// Graceful Shutdown:
//   - Drains in-flight HTTP requests
//   - Stops the gRPC health listener
//   - Flushes the audit log and exported spans
//   - Closes the store
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/usfnet/sentinel/internal/audit"
	"github.com/usfnet/sentinel/internal/config"
	"github.com/usfnet/sentinel/internal/db"
	"github.com/usfnet/sentinel/internal/logging"
	"github.com/usfnet/sentinel/internal/server"
	"github.com/usfnet/sentinel/internal/tracing"
)

var (
	configPath = flag.String("config", "config.yaml", "Path to configuration file")
	port       = flag.Int("port", 0, "Server port (overrides config)")
	debugMode  = flag.Bool("debug", false, "Enable debug logging")
)

func main() {
	flag.Parse()

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "sentinel: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mgr, err := config.NewConfigManager(*configPath)
	if err != nil {
		return fmt.Errorf("create config manager: %w", err)
	}
	if err := mgr.Load(ctx); err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg := mgr.Get(ctx)
	if *port > 0 {
		cfg.Server.Port = *port
	}
	if *debugMode {
		cfg.Logging.Level = "debug"
	}
	if err := mgr.Validate(ctx); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger, err := logging.New(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	shutdownTracing, err := tracing.Init(cfg.Tracing.ServiceName, cfg.Tracing.Endpoint, cfg.Tracing.Protocol, cfg.Tracing.SamplingRate)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("Tracer shutdown failed", zap.Error(err))
		}
	}()

	auditLog, err := audit.NewLogger(&audit.Config{
		AuditLogPath:  cfg.Logging.AuditLogPath,
		MaxSize:       cfg.Logging.MaxSizeMB,
		MaxBackups:    cfg.Logging.MaxBackups,
		MaxAge:        cfg.Logging.MaxAgeDays,
		Compress:      cfg.Logging.Compress,
		BufferSize:    100,
		FlushInterval: time.Second,
	}, logger)
	if err != nil {
		return fmt.Errorf("init audit log: %w", err)
	}
	defer func() { _ = auditLog.Close() }()

	_ = auditLog.Log(ctx, audit.NewEvent(audit.EventConfigLoaded).
		WithUser("system").
		WithMetadata("path", *configPath).
		WithMetadata("rule_set", cfg.Risk.RuleSetVersion))

	store, err := db.Open(cfg.Database.Type, cfg.DatabaseDSN())
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.Database.Type, err)
	}
	defer func() { _ = store.Close() }()

	srv, err := server.NewServer(cfg, store, auditLog, logger)
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}
	if err := srv.Start(); err != nil {
		return fmt.Errorf("start server: %w", err)
	}

	updates := mgr.Watch(ctx)
	for {
		select {
		case next := <-updates:
			logger.Info("Configuration reloaded", zap.String("rule_set", next.Risk.RuleSetVersion))
			srv.ApplyConfig(&next)
		case <-ctx.Done():
			logger.Info("Received shutdown signal")
			return srv.Stop()
		}
	}
}
