/*
ledger.go - Append-only inventory ledger

PURPOSE:
  The Ledger is the immutable source of truth for stock. Every receipt,
  reservation, shipment, return and correction is an entry here, and the
  per-(product, location) snapshot is projected from it in the same
  transaction.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: No Update, No Delete. EVER.
  2. PROJECTED: Every append updates its snapshot in the same transaction
  3. NON-NEGATIVE: on_hand, reserved and on_order never drop below zero
  4. IDEMPOTENT: An idempotency key appears at most once in the ledger

CORRECTIONS:
  A mistake is never edited away. A compensating entry with the opposite
  sign is appended and both remain visible in history.

EXAMPLE FLOW:
  1. Receipt of 10 at BIN-A:    on_hand +10              -> 10 / 0
  2. Reserve 6 for order line:  reserved +6              -> 10 / 6
  3. Ship 4:                    on_hand -4, reserved -4  ->  6 / 2
  4. Shipment reverted:         on_hand +4, reserved +4  -> 10 / 6

SEE ALSO:
  - projector.go: Snapshot arithmetic and invariant checks
  - store.go: Tx interface used here
*/
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// LEDGER
// =============================================================================

// Ledger appends entries and keeps snapshots in step with them.
type Ledger interface {
	// Append validates, projects and persists one entry. It is the only
	// write path for stock. Fails with ErrDuplicateOperation if the
	// entry's idempotency key exists.
	Append(ctx context.Context, tx Tx, e Entry) (Entry, error)

	// Rebuild re-folds a key from its full history and overwrites the
	// stored snapshot.
	Rebuild(ctx context.Context, tx Tx, k Key) (Snapshot, error)
}

// =============================================================================
// DEFAULT LEDGER
// =============================================================================

type DefaultLedger struct {
	now   func() time.Time
	newID func() EntryID
}

type Option func(*DefaultLedger)

// WithClock overrides the timestamp source for entries without CreatedAt.
func WithClock(now func() time.Time) Option {
	return func(l *DefaultLedger) { l.now = now }
}

// WithIDs overrides entry id generation.
func WithIDs(next func() EntryID) Option {
	return func(l *DefaultLedger) { l.newID = next }
}

func New(opts ...Option) *DefaultLedger {
	l := &DefaultLedger{
		now:   func() time.Time { return time.Now().UTC() },
		newID: func() EntryID { return EntryID(uuid.NewString()) },
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *DefaultLedger) Append(ctx context.Context, tx Tx, e Entry) (Entry, error) {
	if err := validate(e); err != nil {
		return e, err
	}

	if e.IdempotencyKey != "" {
		exists, err := tx.EntryKeyExists(ctx, e.IdempotencyKey)
		if err != nil {
			return e, err
		}
		if exists {
			return e, fmt.Errorf("entry key %q: %w", e.IdempotencyKey, ErrDuplicateOperation)
		}
	}
	if e.ID == "" {
		e.ID = l.newID()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = l.now()
	}

	current, err := tx.LockSnapshot(ctx, e.Key())
	if err != nil {
		return e, err
	}
	snap := EmptySnapshot(e.Key())
	if current != nil {
		snap = *current
	}

	next, err := Project(snap, e)
	if err != nil {
		return e, err
	}

	if err := tx.InsertEntry(ctx, e); err != nil {
		return e, err
	}
	if err := tx.SaveSnapshot(ctx, next); err != nil {
		return e, err
	}
	return e, nil
}

func (l *DefaultLedger) Rebuild(ctx context.Context, tx Tx, k Key) (Snapshot, error) {
	if _, err := tx.LockSnapshot(ctx, k); err != nil {
		return Snapshot{}, err
	}
	entries, err := tx.Entries(ctx, EntryFilter{ProductID: k.ProductID, LocationID: k.LocationID})
	if err != nil {
		return Snapshot{}, err
	}
	snap, err := Fold(k, entries)
	if err != nil {
		return snap, err
	}
	if snap.UpdatedAt.IsZero() {
		snap.UpdatedAt = l.now()
	}
	if err := tx.SaveSnapshot(ctx, snap); err != nil {
		return snap, err
	}
	return snap, nil
}

// Verify reports every key whose stored snapshot disagrees with its ledger.
func Verify(ctx context.Context, r Reader) ([]Drift, error) {
	snaps, err := r.Snapshots(ctx, "")
	if err != nil {
		return nil, err
	}
	entries, err := r.Entries(ctx, EntryFilter{})
	if err != nil {
		return nil, err
	}
	return FindDrift(snaps, entries), nil
}

func validate(e Entry) error {
	if e.ProductID == "" || e.LocationID == "" {
		return InvalidArgument("entry needs product and location")
	}
	if !e.Kind.Valid() {
		return InvalidArgument("unknown entry kind %q", e.Kind)
	}
	if e.IsZero() {
		return InvalidArgument("%s entry for %s moves no stock", e.Kind, e.Key())
	}
	return nil
}
