/*
store.go - Persistence interfaces for entries and snapshots

PURPOSE:
  Defines the boundary between the ledger and the database. The ledger
  never opens transactions itself: the caller hands it a Tx that is
  already inside one, so entries, snapshots and any domain rows written
  alongside them commit or roll back together.

APPEND-ONLY CONTRACT:
  Tx exposes InsertEntry and nothing that updates or deletes entries.
  SaveSnapshot is an upsert and is only called by the ledger itself.

LOCKING:
  LockSnapshot / LockProductSnapshots take row locks (SELECT ... FOR UPDATE
  on SQL backends). LockProductSnapshots returns rows in ascending
  location id so concurrent transactions acquire them in the same order.

IMPLEMENTATIONS:
  - store/memory:    In-memory for tests and demos
  - store/sqlite:    Embedded SQLite
  - store/gormstore: PostgreSQL / MySQL through gorm

SEE ALSO:
  - ledger.go: Uses Tx on the append path
  - inventory/store.go: Extends Tx with orders and fulfillments
*/
package ledger

import "context"

// Tx is the ledger's view of an open database transaction.
type Tx interface {
	// EntryKeyExists reports whether any entry carries the idempotency key.
	EntryKeyExists(ctx context.Context, idempotencyKey string) (bool, error)

	// InsertEntry persists an entry. Must fail with ErrDuplicateOperation
	// when the idempotency key is already present.
	InsertEntry(ctx context.Context, e Entry) error

	// LockSnapshot locks and returns a snapshot, or nil if the key has none.
	// Backends without table-level write serialization must lock the key
	// even when no row exists yet, and may return a zero snapshot for it.
	LockSnapshot(ctx context.Context, k Key) (*Snapshot, error)

	// LockProductSnapshots locks every snapshot of a product, ordered by
	// location id.
	LockProductSnapshots(ctx context.Context, product ProductID) ([]Snapshot, error)

	// SaveSnapshot inserts or replaces the snapshot row.
	SaveSnapshot(ctx context.Context, s Snapshot) error

	// Entries returns matching entries in append order.
	Entries(ctx context.Context, f EntryFilter) ([]Entry, error)
}

// Reader is the read model: snapshots and history outside a transaction.
type Reader interface {
	// Snapshot returns one snapshot, or nil if the key has none.
	Snapshot(ctx context.Context, k Key) (*Snapshot, error)

	// Snapshots returns a product's snapshots ordered by location id.
	// An empty product returns every snapshot.
	Snapshots(ctx context.Context, product ProductID) ([]Snapshot, error)

	// Entries returns matching entries in append order.
	Entries(ctx context.Context, f EntryFilter) ([]Entry, error)
}
