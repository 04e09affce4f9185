/*
Package gormstore provides a PostgreSQL / MySQL implementation of
inventory.Store on top of GORM.

PURPOSE:
  Shared-database persistence for deployments that run more than one
  engine process. Row locks (SELECT ... FOR UPDATE) replace the in-process
  mutex used by the SQLite store, so concurrent commands on different
  orders proceed in parallel while commands touching the same snapshot
  rows serialize in the database.

DRIVERS:
  postgres: gorm.io/driver/postgres (pgx), simple protocol
  mysql:    gorm.io/driver/mysql, DSN must carry parseTime=true

TRACING:
  Every query is traced through the otelgorm plugin, so spans nest under
  the inventory.Service command span.

SEE ALSO:
  - store/sqlite: embedded single-file implementation
  - inventory/store.go: Interface definitions
*/
package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sirupsen/logrus"
	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"github.com/warp/inventory-engine/inventory"
	"github.com/warp/inventory-engine/ledger"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Supported drivers.
const (
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
)

// Config selects the database and tunes the pool.
type Config struct {
	Driver       string
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
	// Logger receives GORM's slow-query and error output. Nil is silent.
	Logger *logrus.Logger
}

// Store implements inventory.Store using GORM.
type Store struct {
	db *gorm.DB
}

// Open connects, installs the tracing plugin and migrates the schema.
func Open(cfg Config) (*Store, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case DriverPostgres:
		dialector = postgres.New(postgres.Config{
			DSN:                  cfg.DSN,
			PreferSimpleProtocol: true,
		})
	case DriverMySQL:
		dialector = mysql.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	gormLogger := logger.Discard
	if cfg.Logger != nil {
		gormLogger = logger.New(cfg.Logger, logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		})
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormLogger})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.Driver, err)
	}
	if err := db.Use(otelgorm.NewPlugin()); err != nil {
		return nil, fmt.Errorf("failed to install tracing plugin: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(models...); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(inventory.Tx) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&txStore{db: tx})
	})
}

// Reset drops all data (used by demo scenarios).
func (s *Store) Reset(ctx context.Context) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, m := range []any{
			&operationModel{}, &fulfillmentLineModel{}, &fulfillmentModel{}, &orderLineModel{},
			&orderModel{}, &snapshotModel{}, &entryModel{}, &locationModel{},
		} {
			if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(m).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// txStore is the inventory.Tx view over one GORM transaction.
type txStore struct {
	db *gorm.DB
}

// =============================================================================
// HELPERS
// =============================================================================

func isDuplicateKey(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var myErr *mysqldriver.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}
	return errors.Is(err, gorm.ErrDuplicatedKey)
}

// duplicateOr maps unique violations to ledger.ErrDuplicateOperation.
func duplicateOr(err error, what string) error {
	if err == nil {
		return nil
	}
	if isDuplicateKey(err) {
		return fmt.Errorf("%s: %w", what, ledger.ErrDuplicateOperation)
	}
	return fmt.Errorf("failed to %s: %w", what, err)
}

func requireRow(res *gorm.DB, kind, id string) error {
	if res.Error != nil {
		return fmt.Errorf("failed to save %s: %w", kind, res.Error)
	}
	if res.RowsAffected == 0 {
		return ledger.NotFound(kind, id)
	}
	return nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
