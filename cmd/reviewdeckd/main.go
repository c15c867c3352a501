// Command reviewdeckd is the server entry point: it loads configuration,
// opens C-STORE's backing connection when configured for postgres, wires
// the Application, and runs until SIGINT/SIGTERM, modeled on the teacher's
// cmd/appserver/main.go (flag overrides, config-file load, signal-driven
// graceful shutdown).
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/reviewdeck/core/internal/app"
	"github.com/reviewdeck/core/internal/config"
	"github.com/reviewdeck/core/internal/platform/database"
	"github.com/reviewdeck/core/pkg/logger"
)

func main() {
	addr := flag.String("addr", "", "HTTP listen address (overrides config)")
	dsn := flag.String("dsn", "", "PostgreSQL DSN (overrides config/env; memory store when empty and driver isn't postgres)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if trimmed := strings.TrimSpace(*addr); trimmed != "" {
		parseListenAddr(trimmed, cfg)
	}
	if trimmed := strings.TrimSpace(*dsn); trimmed != "" {
		cfg.Database.Driver = "postgres"
		cfg.Database.DSN = trimmed
	}

	appLog := logger.New(logger.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		FilePrefix: cfg.Logging.FilePrefix,
	})

	rootCtx := context.Background()

	var db *sql.DB
	if cfg.Database.Driver == "postgres" {
		opened, err := database.Open(rootCtx, cfg.Database.DSN)
		if err != nil {
			appLog.Fatalf("connect to postgres: %v", err)
		}
		configurePool(opened, cfg)
		db = opened
		defer db.Close()
	}

	application, err := app.New(rootCtx, cfg, db, appLog)
	if err != nil {
		appLog.Fatalf("initialise application: %v", err)
	}

	listenAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpService := app.NewHTTPService(listenAddr, application.Router, appLog)
	if err := application.Attach(httpService); err != nil {
		appLog.Fatalf("attach http service: %v", err)
	}

	if err := application.Start(rootCtx); err != nil {
		appLog.Fatalf("start application: %v", err)
	}
	appLog.Infof("reviewdeck listening on %s", listenAddr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	appLog.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := application.Stop(shutdownCtx); err != nil {
		appLog.Fatalf("shutdown: %v", err)
	}
}

func parseListenAddr(addr string, cfg *config.Config) {
	host, port, err := splitHostPort(addr)
	if err != nil {
		log.Fatalf("invalid -addr %q: %v", addr, err)
	}
	cfg.Server.Host = host
	cfg.Server.Port = port
}

func splitHostPort(addr string) (string, int, error) {
	idx := strings.LastIndex(addr, ":")
	if idx < 0 {
		return "", 0, fmt.Errorf("missing port")
	}
	host := addr[:idx]
	var port int
	if _, err := fmt.Sscanf(addr[idx+1:], "%d", &port); err != nil {
		return "", 0, fmt.Errorf("invalid port: %w", err)
	}
	return host, port, nil
}

func configurePool(db *sql.DB, cfg *config.Config) {
	if cfg.Database.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	}
	if cfg.Database.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	}
	if cfg.Database.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(time.Duration(cfg.Database.ConnMaxLifetime) * time.Second)
	}
}
