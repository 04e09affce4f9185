// Package store selects the inventory.Store backend from configuration.
package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/warp/inventory-engine/config"
	"github.com/warp/inventory-engine/inventory"
	"github.com/warp/inventory-engine/store/gormstore"
	"github.com/warp/inventory-engine/store/sqlite"
)

// Backend is a store that owns a connection.
type Backend interface {
	inventory.Store
	Close() error
}

// Open connects to the backend named by cfg.DBDriver.
func Open(cfg config.Config, logger *logrus.Logger) (Backend, error) {
	switch cfg.DBDriver {
	case "sqlite":
		if cfg.SQLitePath != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		return sqlite.New(cfg.SQLitePath)
	case gormstore.DriverPostgres, gormstore.DriverMySQL:
		return gormstore.Open(gormstore.Config{
			Driver:       cfg.DBDriver,
			DSN:          cfg.DatabaseURL,
			MaxOpenConns: cfg.DBMaxOpenConns,
			MaxIdleConns: cfg.DBMaxIdleConns,
			Logger:       logger,
		})
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.DBDriver)
	}
}
