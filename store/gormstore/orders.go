package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/warp/inventory-engine/inventory"
	"github.com/warp/inventory-engine/ledger"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// =============================================================================
// LOCATIONS
// =============================================================================

func listLocations(db *gorm.DB) ([]inventory.Location, error) {
	var rows []locationModel
	if err := db.Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list locations: %w", err)
	}
	locs := make([]inventory.Location, 0, len(rows))
	for _, r := range rows {
		locs = append(locs, r.toDomain())
	}
	return locs, nil
}

func (s *Store) Locations(ctx context.Context) ([]inventory.Location, error) {
	return listLocations(s.db.WithContext(ctx))
}

func (s *Store) SaveLocation(ctx context.Context, l inventory.Location) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if l.IsDefault {
			err := tx.Model(&locationModel{}).Where("id <> ?", l.ID).Update("is_default", false).Error
			if err != nil {
				return fmt.Errorf("failed to clear default location: %w", err)
			}
		}
		m := locationModel{ID: string(l.ID), Name: l.Name, Sellable: l.Sellable, IsDefault: l.IsDefault}
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "sellable", "is_default"}),
		}).Create(&m).Error
		if err != nil {
			return fmt.Errorf("failed to save location: %w", err)
		}
		return nil
	})
}

func (ts *txStore) Locations(ctx context.Context) ([]inventory.Location, error) {
	return listLocations(ts.db.WithContext(ctx))
}

func (ts *txStore) Location(ctx context.Context, id ledger.LocationID) (*inventory.Location, error) {
	var m locationModel
	err := ts.db.WithContext(ctx).Where("id = ?", id).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load location: %w", err)
	}
	l := m.toDomain()
	return &l, nil
}

// =============================================================================
// SALES ORDERS
// =============================================================================

func byPosition(db *gorm.DB) *gorm.DB {
	return db.Order("position")
}

func getOrder(db *gorm.DB, id string) (*inventory.SalesOrder, error) {
	var m orderModel
	err := db.Preload("Lines", byPosition).Where("id = ?", id).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load order: %w", err)
	}
	o := m.toDomain()
	return &o, nil
}

func (s *Store) Order(ctx context.Context, id string) (*inventory.SalesOrder, error) {
	return getOrder(s.db.WithContext(ctx), id)
}

func (s *Store) OrderIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).Model(&orderModel{}).Order("created_at").Order("id").Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	return ids, nil
}

func (ts *txStore) InsertOrder(ctx context.Context, o inventory.SalesOrder) error {
	m := orderFromDomain(o)
	if err := ts.db.WithContext(ctx).Create(&m).Error; err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}
	return nil
}

// LockOrder takes the order row lock; lines are read under it.
func (ts *txStore) LockOrder(ctx context.Context, id string) (*inventory.SalesOrder, error) {
	return getOrder(ts.locking(ctx), id)
}

func (ts *txStore) OrderIDForLine(ctx context.Context, lineID string) (string, error) {
	var m orderLineModel
	err := ts.db.WithContext(ctx).Select("order_id").Where("id = ?", lineID).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	return m.OrderID, err
}

func (ts *txStore) SaveLine(ctx context.Context, l inventory.SalesOrderLine) error {
	res := ts.db.WithContext(ctx).Model(&orderLineModel{}).Where("id = ?", l.ID).
		Updates(map[string]any{"allocated": l.Allocated, "fulfilled": l.Fulfilled})
	return requireRow(res, "order line", l.ID)
}

func (ts *txStore) SaveOrderStatus(ctx context.Context, id string, status inventory.OrderStatus, at time.Time) error {
	res := ts.db.WithContext(ctx).Model(&orderModel{}).Where("id = ?", id).
		Updates(map[string]any{"status": string(status), "updated_at": at})
	return requireRow(res, "order", id)
}

// =============================================================================
// FULFILLMENTS
// =============================================================================

func getFulfillment(db *gorm.DB, id string) (*inventory.Fulfillment, error) {
	var m fulfillmentModel
	err := db.Preload("Lines", byPosition).Where("id = ?", id).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load fulfillment: %w", err)
	}
	f := m.toDomain()
	return &f, nil
}

func fulfillmentsByOrder(db *gorm.DB, orderID string) ([]inventory.Fulfillment, error) {
	var rows []fulfillmentModel
	err := db.Preload("Lines", byPosition).Where("order_id = ?", orderID).
		Order("created_at").Order("id").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query fulfillments: %w", err)
	}
	fs := make([]inventory.Fulfillment, 0, len(rows))
	for _, r := range rows {
		fs = append(fs, r.toDomain())
	}
	return fs, nil
}

func (s *Store) Fulfillment(ctx context.Context, id string) (*inventory.Fulfillment, error) {
	return getFulfillment(s.db.WithContext(ctx), id)
}

func (s *Store) Fulfillments(ctx context.Context, orderID string) ([]inventory.Fulfillment, error) {
	return fulfillmentsByOrder(s.db.WithContext(ctx), orderID)
}

func (ts *txStore) InsertFulfillment(ctx context.Context, f inventory.Fulfillment) error {
	m := fulfillmentFromDomain(f)
	m.ShippedAt = nil
	if err := ts.db.WithContext(ctx).Create(&m).Error; err != nil {
		return fmt.Errorf("failed to insert fulfillment: %w", err)
	}
	return nil
}

func (ts *txStore) LockFulfillment(ctx context.Context, id string) (*inventory.Fulfillment, error) {
	return getFulfillment(ts.locking(ctx), id)
}

func (ts *txStore) FulfillmentOrderID(ctx context.Context, id string) (string, error) {
	var m fulfillmentModel
	err := ts.db.WithContext(ctx).Select("order_id").Where("id = ?", id).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	return m.OrderID, err
}

func (ts *txStore) UpdateFulfillment(ctx context.Context, f inventory.Fulfillment) error {
	updates := map[string]any{"status": string(f.Status), "updated_at": f.UpdatedAt}
	if f.ShippedAt != nil {
		updates["shipped_at"] = *f.ShippedAt
	}
	res := ts.db.WithContext(ctx).Model(&fulfillmentModel{}).Where("id = ?", f.ID).Updates(updates)
	return requireRow(res, "fulfillment", f.ID)
}

func (ts *txStore) FulfillmentsByOrder(ctx context.Context, orderID string) ([]inventory.Fulfillment, error) {
	return fulfillmentsByOrder(ts.db.WithContext(ctx), orderID)
}

// =============================================================================
// OPERATIONS (idempotency records)
// =============================================================================

func getOperation(db *gorm.DB, key string) (*inventory.Operation, error) {
	var m operationModel
	err := db.Where("idempotency_key = ?", key).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load operation: %w", err)
	}
	op := m.toDomain()
	return &op, nil
}

func (s *Store) Operation(ctx context.Context, key string) (*inventory.Operation, error) {
	return getOperation(s.db.WithContext(ctx), key)
}

func (ts *txStore) Operation(ctx context.Context, key string) (*inventory.Operation, error) {
	return getOperation(ts.db.WithContext(ctx), key)
}

func (ts *txStore) SaveOperation(ctx context.Context, op inventory.Operation) error {
	m := operationModel{
		IdempotencyKey: op.Key,
		Name:           op.Name,
		Result:         string(op.Result),
		CreatedAt:      op.CreatedAt,
	}
	return duplicateOr(ts.db.WithContext(ctx).Create(&m).Error, "save operation")
}
