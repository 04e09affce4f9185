package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/inventory-engine/ledger"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// =============================================================================
// LEDGER ENTRIES
// =============================================================================

func queryEntries(db *gorm.DB, f ledger.EntryFilter) ([]ledger.Entry, error) {
	q := db.Model(&entryModel{})
	if f.ProductID != "" {
		q = q.Where("product_id = ?", f.ProductID)
	}
	if f.LocationID != "" {
		q = q.Where("location_id = ?", f.LocationID)
	}
	if f.ReferenceType != "" {
		q = q.Where("reference_type = ?", f.ReferenceType)
	}
	if f.ReferenceID != "" {
		q = q.Where("reference_id = ?", f.ReferenceID)
	}
	if f.LineID != "" {
		q = q.Where("reference_line_id = ?", f.LineID)
	}
	if len(f.Kinds) > 0 {
		q = q.Where("kind IN ?", f.Kinds)
	}
	q = q.Order("seq")
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}

	var rows []entryModel
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query ledger: %w", err)
	}
	entries := make([]ledger.Entry, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, r.toDomain())
	}
	return entries, nil
}

// =============================================================================
// SNAPSHOTS
// =============================================================================

func getSnapshot(db *gorm.DB, k ledger.Key) (*ledger.Snapshot, error) {
	var m snapshotModel
	err := db.Where("product_id = ? AND location_id = ?", k.ProductID, k.LocationID).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot %s: %w", k, err)
	}
	snap := m.toDomain()
	return &snap, nil
}

func listSnapshots(db *gorm.DB, product ledger.ProductID) ([]ledger.Snapshot, error) {
	q := db.Model(&snapshotModel{})
	if product != "" {
		q = q.Where("product_id = ?", product)
	}
	var rows []snapshotModel
	if err := q.Order("product_id").Order("location_id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	snaps := make([]ledger.Snapshot, 0, len(rows))
	for _, r := range rows {
		snaps = append(snaps, r.toDomain())
	}
	return snaps, nil
}

// =============================================================================
// ledger.Reader
// =============================================================================

func (s *Store) Snapshot(ctx context.Context, k ledger.Key) (*ledger.Snapshot, error) {
	return getSnapshot(s.db.WithContext(ctx), k)
}

func (s *Store) Snapshots(ctx context.Context, product ledger.ProductID) ([]ledger.Snapshot, error) {
	return listSnapshots(s.db.WithContext(ctx), product)
}

func (s *Store) Entries(ctx context.Context, f ledger.EntryFilter) ([]ledger.Entry, error) {
	return queryEntries(s.db.WithContext(ctx), f)
}

// =============================================================================
// ledger.Tx
// =============================================================================

func (ts *txStore) EntryKeyExists(ctx context.Context, key string) (bool, error) {
	var count int64
	err := ts.db.WithContext(ctx).Model(&entryModel{}).Where("idempotency_key = ?", key).Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check entry key: %w", err)
	}
	return count > 0, nil
}

func (ts *txStore) InsertEntry(ctx context.Context, e ledger.Entry) error {
	m := entryFromDomain(e)
	return duplicateOr(ts.db.WithContext(ctx).Create(&m).Error, "append ledger entry")
}

func (ts *txStore) locking(ctx context.Context) *gorm.DB {
	return ts.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"})
}

// LockSnapshot seeds a zero row before locking: FOR UPDATE on a missing row
// locks nothing, and two first writers to a new key would each fold from
// zero. The seed makes the second writer queue behind the first.
func (ts *txStore) LockSnapshot(ctx context.Context, k ledger.Key) (*ledger.Snapshot, error) {
	seed := snapshotModel{
		ProductID:  string(k.ProductID),
		LocationID: string(k.LocationID),
		OnHand:     decimal.Zero,
		Reserved:   decimal.Zero,
		OnOrder:    decimal.Zero,
		UpdatedAt:  time.Now().UTC(),
	}
	err := ts.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error
	if err != nil {
		return nil, fmt.Errorf("failed to seed snapshot %s: %w", k, err)
	}
	return getSnapshot(ts.locking(ctx), k)
}

func (ts *txStore) LockProductSnapshots(ctx context.Context, product ledger.ProductID) ([]ledger.Snapshot, error) {
	if product == "" {
		return nil, nil
	}
	return listSnapshots(ts.locking(ctx), product)
}

func (ts *txStore) SaveSnapshot(ctx context.Context, snap ledger.Snapshot) error {
	m := snapshotModel{
		ProductID:  string(snap.ProductID),
		LocationID: string(snap.LocationID),
		OnHand:     snap.OnHand,
		Reserved:   snap.Reserved,
		OnOrder:    snap.OnOrder,
		UpdatedAt:  snap.UpdatedAt,
	}
	err := ts.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "product_id"}, {Name: "location_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"on_hand", "reserved", "on_order", "updated_at"}),
	}).Create(&m).Error
	if err != nil {
		return fmt.Errorf("failed to save snapshot %s: %w", snap.Key(), err)
	}
	return nil
}

func (ts *txStore) Entries(ctx context.Context, f ledger.EntryFilter) ([]ledger.Entry, error) {
	return queryEntries(ts.db.WithContext(ctx), f)
}
