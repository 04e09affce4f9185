package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/warp/inventory-engine/ledger"
)

// =============================================================================
// LEDGER ENTRIES
// =============================================================================

const selectEntries = `
	SELECT seq, id, product_id, location_id, kind, on_hand_delta, reserved_delta, on_order_delta,
	       reference_type, reference_id, reference_line_id, reason, idempotency_key, created_at
	FROM ledger_entries`

func insertEntry(ctx context.Context, q querier, e ledger.Entry) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO ledger_entries
		(id, product_id, location_id, kind, on_hand_delta, reserved_delta, on_order_delta,
		 reference_type, reference_id, reference_line_id, reason, idempotency_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID,
		e.ProductID,
		e.LocationID,
		e.Kind,
		e.OnHandDelta.String(),
		e.ReservedDelta.String(),
		e.OnOrderDelta.String(),
		nullString(string(e.Reference.Type)),
		nullString(e.Reference.ID),
		nullString(e.Reference.LineID),
		e.Reason,
		nullString(e.IdempotencyKey),
		formatTime(e.CreatedAt),
	)
	return duplicateOr(err, "append ledger entry")
}

func queryEntries(ctx context.Context, q querier, f ledger.EntryFilter) ([]ledger.Entry, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		where = append(where, cond)
		args = append(args, v)
	}
	if f.ProductID != "" {
		add("product_id = ?", f.ProductID)
	}
	if f.LocationID != "" {
		add("location_id = ?", f.LocationID)
	}
	if f.ReferenceType != "" {
		add("reference_type = ?", f.ReferenceType)
	}
	if f.ReferenceID != "" {
		add("reference_id = ?", f.ReferenceID)
	}
	if f.LineID != "" {
		add("reference_line_id = ?", f.LineID)
	}
	if len(f.Kinds) > 0 {
		marks := make([]string, len(f.Kinds))
		for i, k := range f.Kinds {
			marks[i] = "?"
			args = append(args, k)
		}
		where = append(where, "kind IN ("+strings.Join(marks, ", ")+")")
	}

	query := selectEntries
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger: %w", err)
	}
	defer rows.Close()

	var entries []ledger.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func scanEntry(rows *sql.Rows) (ledger.Entry, error) {
	var (
		e                       ledger.Entry
		refType, refID, refLine sql.NullString
		reason, key             sql.NullString
		createdAt               string
	)
	err := rows.Scan(
		&e.Seq, &e.ID, &e.ProductID, &e.LocationID, &e.Kind,
		&e.OnHandDelta, &e.ReservedDelta, &e.OnOrderDelta,
		&refType, &refID, &refLine, &reason, &key, &createdAt,
	)
	if err != nil {
		return e, fmt.Errorf("failed to scan ledger entry: %w", err)
	}
	e.Reference = ledger.Reference{
		Type:   ledger.ReferenceType(refType.String),
		ID:     refID.String,
		LineID: refLine.String,
	}
	e.Reason = reason.String
	e.IdempotencyKey = key.String
	e.CreatedAt = parseTime(createdAt)
	return e, nil
}

// =============================================================================
// SNAPSHOTS
// =============================================================================

const selectSnapshots = `
	SELECT product_id, location_id, on_hand, reserved, on_order, updated_at
	FROM stock_snapshots`

func getSnapshot(ctx context.Context, q querier, k ledger.Key) (*ledger.Snapshot, error) {
	row := q.QueryRowContext(ctx, selectSnapshots+` WHERE product_id = ? AND location_id = ?`,
		k.ProductID, k.LocationID)
	var (
		s         ledger.Snapshot
		updatedAt string
	)
	err := row.Scan(&s.ProductID, &s.LocationID, &s.OnHand, &s.Reserved, &s.OnOrder, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot %s: %w", k, err)
	}
	s.UpdatedAt = parseTime(updatedAt)
	return &s, nil
}

func listSnapshots(ctx context.Context, q querier, product ledger.ProductID) ([]ledger.Snapshot, error) {
	query := selectSnapshots
	var args []any
	if product != "" {
		query += ` WHERE product_id = ?`
		args = append(args, product)
	}
	query += ` ORDER BY product_id, location_id`

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []ledger.Snapshot
	for rows.Next() {
		var (
			s         ledger.Snapshot
			updatedAt string
		)
		if err := rows.Scan(&s.ProductID, &s.LocationID, &s.OnHand, &s.Reserved, &s.OnOrder, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		s.UpdatedAt = parseTime(updatedAt)
		snaps = append(snaps, s)
	}
	return snaps, rows.Err()
}

// =============================================================================
// ledger.Reader
// =============================================================================

func (s *Store) Snapshot(ctx context.Context, k ledger.Key) (*ledger.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getSnapshot(ctx, s.db, k)
}

func (s *Store) Snapshots(ctx context.Context, product ledger.ProductID) ([]ledger.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listSnapshots(ctx, s.db, product)
}

func (s *Store) Entries(ctx context.Context, f ledger.EntryFilter) ([]ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryEntries(ctx, s.db, f)
}

// =============================================================================
// ledger.Tx
// =============================================================================

func (ts *txStore) EntryKeyExists(ctx context.Context, key string) (bool, error) {
	var count int
	err := ts.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM ledger_entries WHERE idempotency_key = ?`, key,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check entry key: %w", err)
	}
	return count > 0, nil
}

func (ts *txStore) InsertEntry(ctx context.Context, e ledger.Entry) error {
	return insertEntry(ctx, ts.q, e)
}

// LockSnapshot reads inside the IMMEDIATE transaction, which already
// holds the database write lock.
func (ts *txStore) LockSnapshot(ctx context.Context, k ledger.Key) (*ledger.Snapshot, error) {
	return getSnapshot(ctx, ts.q, k)
}

func (ts *txStore) LockProductSnapshots(ctx context.Context, product ledger.ProductID) ([]ledger.Snapshot, error) {
	if product == "" {
		return nil, nil
	}
	return listSnapshots(ctx, ts.q, product)
}

func (ts *txStore) SaveSnapshot(ctx context.Context, snap ledger.Snapshot) error {
	_, err := ts.q.ExecContext(ctx, `
		INSERT INTO stock_snapshots (product_id, location_id, on_hand, reserved, on_order, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(product_id, location_id) DO UPDATE SET
			on_hand = excluded.on_hand,
			reserved = excluded.reserved,
			on_order = excluded.on_order,
			updated_at = excluded.updated_at`,
		snap.ProductID,
		snap.LocationID,
		snap.OnHand.String(),
		snap.Reserved.String(),
		snap.OnOrder.String(),
		formatTime(snap.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save snapshot %s: %w", snap.Key(), err)
	}
	return nil
}

func (ts *txStore) Entries(ctx context.Context, f ledger.EntryFilter) ([]ledger.Entry, error) {
	return queryEntries(ctx, ts.q, f)
}
