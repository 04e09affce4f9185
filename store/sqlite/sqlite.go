/*
Package sqlite provides a SQLite-backed implementation of inventory.Store.

PURPOSE:
  Embedded persistence for the inventory engine: the ledger, snapshots,
  orders, fulfillments, locations and idempotency records all live in one
  SQLite file and every command commits atomically.

APPEND-ONLY ENFORCEMENT:
  - No UPDATE statements on ledger_entries
  - No DELETE statements on ledger_entries (Reset drops everything)
  - Corrections via compensating entries only

KEY TABLES:
  ledger_entries:    Immutable log of signed stock deltas
  stock_snapshots:   One row per (product, location), projected on append
  sales_orders:      Order headers (status is derived, stored for reads)
  sales_order_lines: Line counters (ordered, allocated, fulfilled)
  fulfillments:      Shipment units and their lifecycle
  fulfillment_lines: Location + quantity per order line, NULL location = backorder
  locations:         Read copy of bin master data
  operations:        Idempotency key -> stored result

QUANTITIES:
  Decimals are stored as TEXT and round-trip exactly through
  shopspring/decimal's Scanner/Valuer.

CONCURRENCY:
  SQLite has no SELECT ... FOR UPDATE. Transactions are opened with
  BEGIN IMMEDIATE (_txlock=immediate), which takes the database write lock
  up front, and are additionally serialized in-process with a mutex.
  The pool is capped at one connection so ":memory:" databases are shared
  by every query.

USAGE:
  store, err := sqlite.New("./data/inventory.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  svc := inventory.NewService(store)

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - inventory/store.go: Interface definitions
  - store/memory: In-memory implementation for testing
  - store/gormstore: PostgreSQL / MySQL implementation
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/warp/inventory-engine/inventory"
	"github.com/warp/inventory-engine/ledger"
)

// Store implements inventory.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Locations (master data read copy)
	CREATE TABLE IF NOT EXISTS locations (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		sellable INTEGER NOT NULL DEFAULT 1,
		is_default INTEGER NOT NULL DEFAULT 0
	);

	-- At most one default location
	CREATE UNIQUE INDEX IF NOT EXISTS idx_locations_single_default
		ON locations(is_default) WHERE is_default = 1;

	-- Ledger (append-only)
	CREATE TABLE IF NOT EXISTS ledger_entries (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		product_id TEXT NOT NULL,
		location_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		on_hand_delta TEXT NOT NULL,
		reserved_delta TEXT NOT NULL,
		on_order_delta TEXT NOT NULL,
		reference_type TEXT,
		reference_id TEXT,
		reference_line_id TEXT,
		reason TEXT,
		idempotency_key TEXT UNIQUE,
		created_at TEXT NOT NULL
	);

	-- Snapshot folds and verification (hot path)
	CREATE INDEX IF NOT EXISTS idx_ledger_entries_key
		ON ledger_entries(product_id, location_id);

	-- Bucket lookups by order / fulfillment
	CREATE INDEX IF NOT EXISTS idx_ledger_entries_reference
		ON ledger_entries(reference_type, reference_id, reference_line_id);

	-- Snapshots (projected in the same transaction as each append)
	CREATE TABLE IF NOT EXISTS stock_snapshots (
		product_id TEXT NOT NULL,
		location_id TEXT NOT NULL,
		on_hand TEXT NOT NULL,
		reserved TEXT NOT NULL,
		on_order TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (product_id, location_id)
	);

	-- Sales orders
	CREATE TABLE IF NOT EXISTS sales_orders (
		id TEXT PRIMARY KEY,
		reference TEXT,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sales_order_lines (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL REFERENCES sales_orders(id),
		position INTEGER NOT NULL,
		product_id TEXT NOT NULL,
		ordered TEXT NOT NULL,
		allocated TEXT NOT NULL,
		fulfilled TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sales_order_lines_order
		ON sales_order_lines(order_id, position);

	-- Fulfillments
	CREATE TABLE IF NOT EXISTS fulfillments (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL REFERENCES sales_orders(id),
		status TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		shipped_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_fulfillments_order
		ON fulfillments(order_id);

	CREATE TABLE IF NOT EXISTS fulfillment_lines (
		id TEXT PRIMARY KEY,
		fulfillment_id TEXT NOT NULL REFERENCES fulfillments(id),
		position INTEGER NOT NULL,
		order_line_id TEXT NOT NULL REFERENCES sales_order_lines(id),
		product_id TEXT NOT NULL,
		location_id TEXT,
		quantity TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_fulfillment_lines_fulfillment
		ON fulfillment_lines(fulfillment_id, position);

	-- Idempotency records
	CREATE TABLE IF NOT EXISTS operations (
		idempotency_key TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		result TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTION SUPPORT
// =============================================================================

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(inventory.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{q: sqlTx}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// txStore is the inventory.Tx view over one *sql.Tx. Every method runs on
// the transaction; nothing falls back to the pool.
type txStore struct {
	q querier
}

// Reset drops all data (used by demo scenarios).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{
		"operations", "fulfillment_lines", "fulfillments", "sales_order_lines",
		"sales_orders", "stock_snapshots", "ledger_entries", "locations",
	}
	for _, t := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+t); err != nil {
			return fmt.Errorf("failed to reset %s: %w", t, err)
		}
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

// Fixed-width so TEXT columns sort chronologically.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeFormat, s)
	return t
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

// duplicateOr maps unique violations to ledger.ErrDuplicateOperation.
func duplicateOr(err error, what string) error {
	if err == nil {
		return nil
	}
	if isUniqueConstraintError(err) {
		return fmt.Errorf("%s: %w", what, ledger.ErrDuplicateOperation)
	}
	return fmt.Errorf("failed to %s: %w", what, err)
}
