package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/warp/inventory-engine/inventory"
	"github.com/warp/inventory-engine/ledger"
)

// =============================================================================
// LOCATIONS
// =============================================================================

func listLocations(ctx context.Context, q querier) ([]inventory.Location, error) {
	rows, err := q.QueryContext(ctx, `SELECT id, name, sellable, is_default FROM locations ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list locations: %w", err)
	}
	defer rows.Close()

	var locs []inventory.Location
	for rows.Next() {
		var l inventory.Location
		if err := rows.Scan(&l.ID, &l.Name, &l.Sellable, &l.IsDefault); err != nil {
			return nil, fmt.Errorf("failed to scan location: %w", err)
		}
		locs = append(locs, l)
	}
	return locs, rows.Err()
}

func (s *Store) Locations(ctx context.Context) ([]inventory.Location, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listLocations(ctx, s.db)
}

func (s *Store) SaveLocation(ctx context.Context, l inventory.Location) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if l.IsDefault {
		if _, err := tx.ExecContext(ctx, `UPDATE locations SET is_default = 0 WHERE id <> ?`, l.ID); err != nil {
			return fmt.Errorf("failed to clear default location: %w", err)
		}
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO locations (id, name, sellable, is_default) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			sellable = excluded.sellable,
			is_default = excluded.is_default`,
		l.ID, l.Name, boolInt(l.Sellable), boolInt(l.IsDefault),
	)
	if err != nil {
		return fmt.Errorf("failed to save location: %w", err)
	}
	return tx.Commit()
}

func (ts *txStore) Locations(ctx context.Context) ([]inventory.Location, error) {
	return listLocations(ctx, ts.q)
}

func (ts *txStore) Location(ctx context.Context, id ledger.LocationID) (*inventory.Location, error) {
	var l inventory.Location
	err := ts.q.QueryRowContext(ctx,
		`SELECT id, name, sellable, is_default FROM locations WHERE id = ?`, id,
	).Scan(&l.ID, &l.Name, &l.Sellable, &l.IsDefault)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load location: %w", err)
	}
	return &l, nil
}

// =============================================================================
// SALES ORDERS
// =============================================================================

func getOrder(ctx context.Context, q querier, id string) (*inventory.SalesOrder, error) {
	var (
		o                    inventory.SalesOrder
		ref                  sql.NullString
		createdAt, updatedAt string
	)
	err := q.QueryRowContext(ctx,
		`SELECT id, reference, status, created_at, updated_at FROM sales_orders WHERE id = ?`, id,
	).Scan(&o.ID, &ref, &o.Status, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load order: %w", err)
	}
	o.Reference = ref.String
	o.CreatedAt = parseTime(createdAt)
	o.UpdatedAt = parseTime(updatedAt)

	rows, err := q.QueryContext(ctx, `
		SELECT id, order_id, position, product_id, ordered, allocated, fulfilled
		FROM sales_order_lines WHERE order_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load order lines: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var l inventory.SalesOrderLine
		if err := rows.Scan(&l.ID, &l.OrderID, &l.Position, &l.ProductID, &l.Ordered, &l.Allocated, &l.Fulfilled); err != nil {
			return nil, fmt.Errorf("failed to scan order line: %w", err)
		}
		o.Lines = append(o.Lines, l)
	}
	return &o, rows.Err()
}

func (s *Store) Order(ctx context.Context, id string) (*inventory.SalesOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getOrder(ctx, s.db, id)
}

func (s *Store) OrderIDs(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT id FROM sales_orders ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (ts *txStore) InsertOrder(ctx context.Context, o inventory.SalesOrder) error {
	_, err := ts.q.ExecContext(ctx, `
		INSERT INTO sales_orders (id, reference, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		o.ID, nullString(o.Reference), o.Status, formatTime(o.CreatedAt), formatTime(o.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}
	for _, l := range o.Lines {
		_, err := ts.q.ExecContext(ctx, `
			INSERT INTO sales_order_lines (id, order_id, position, product_id, ordered, allocated, fulfilled)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			l.ID, o.ID, l.Position, l.ProductID, l.Ordered.String(), l.Allocated.String(), l.Fulfilled.String(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert order line: %w", err)
		}
	}
	return nil
}

// LockOrder reads inside the IMMEDIATE transaction.
func (ts *txStore) LockOrder(ctx context.Context, id string) (*inventory.SalesOrder, error) {
	return getOrder(ctx, ts.q, id)
}

func (ts *txStore) OrderIDForLine(ctx context.Context, lineID string) (string, error) {
	var id string
	err := ts.q.QueryRowContext(ctx, `SELECT order_id FROM sales_order_lines WHERE id = ?`, lineID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return id, err
}

func (ts *txStore) SaveLine(ctx context.Context, l inventory.SalesOrderLine) error {
	res, err := ts.q.ExecContext(ctx,
		`UPDATE sales_order_lines SET allocated = ?, fulfilled = ? WHERE id = ?`,
		l.Allocated.String(), l.Fulfilled.String(), l.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to save order line: %w", err)
	}
	return requireRow(res, "order line", l.ID)
}

func (ts *txStore) SaveOrderStatus(ctx context.Context, id string, status inventory.OrderStatus, at time.Time) error {
	res, err := ts.q.ExecContext(ctx,
		`UPDATE sales_orders SET status = ?, updated_at = ? WHERE id = ?`,
		status, formatTime(at), id,
	)
	if err != nil {
		return fmt.Errorf("failed to save order status: %w", err)
	}
	return requireRow(res, "order", id)
}

// =============================================================================
// FULFILLMENTS
// =============================================================================

const selectFulfillments = `SELECT id, order_id, status, created_at, updated_at, shipped_at FROM fulfillments`

func queryFulfillments(ctx context.Context, q querier, where string, arg any) ([]inventory.Fulfillment, error) {
	rows, err := q.QueryContext(ctx, selectFulfillments+" WHERE "+where+" ORDER BY created_at, id", arg)
	if err != nil {
		return nil, fmt.Errorf("failed to query fulfillments: %w", err)
	}
	var fs []inventory.Fulfillment
	for rows.Next() {
		var (
			f                    inventory.Fulfillment
			createdAt, updatedAt string
			shippedAt            sql.NullString
		)
		if err := rows.Scan(&f.ID, &f.OrderID, &f.Status, &createdAt, &updatedAt, &shippedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan fulfillment: %w", err)
		}
		f.CreatedAt = parseTime(createdAt)
		f.UpdatedAt = parseTime(updatedAt)
		if shippedAt.Valid {
			t := parseTime(shippedAt.String)
			f.ShippedAt = &t
		}
		fs = append(fs, f)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Lines are loaded after the header cursor is closed: the pool has a
	// single connection.
	for i := range fs {
		lines, err := fulfillmentLines(ctx, q, fs[i].ID)
		if err != nil {
			return nil, err
		}
		fs[i].Lines = lines
	}
	return fs, nil
}

func fulfillmentLines(ctx context.Context, q querier, fulfillmentID string) ([]inventory.FulfillmentLine, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, fulfillment_id, order_line_id, product_id, location_id, quantity
		FROM fulfillment_lines WHERE fulfillment_id = ? ORDER BY position`, fulfillmentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load fulfillment lines: %w", err)
	}
	defer rows.Close()

	var lines []inventory.FulfillmentLine
	for rows.Next() {
		var (
			l   inventory.FulfillmentLine
			loc sql.NullString
		)
		if err := rows.Scan(&l.ID, &l.FulfillmentID, &l.OrderLineID, &l.ProductID, &loc, &l.Quantity); err != nil {
			return nil, fmt.Errorf("failed to scan fulfillment line: %w", err)
		}
		l.LocationID = ledger.LocationID(loc.String)
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func getFulfillment(ctx context.Context, q querier, id string) (*inventory.Fulfillment, error) {
	fs, err := queryFulfillments(ctx, q, "id = ?", id)
	if err != nil || len(fs) == 0 {
		return nil, err
	}
	return &fs[0], nil
}

func (s *Store) Fulfillment(ctx context.Context, id string) (*inventory.Fulfillment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getFulfillment(ctx, s.db, id)
}

func (s *Store) Fulfillments(ctx context.Context, orderID string) ([]inventory.Fulfillment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryFulfillments(ctx, s.db, "order_id = ?", orderID)
}

func (ts *txStore) InsertFulfillment(ctx context.Context, f inventory.Fulfillment) error {
	_, err := ts.q.ExecContext(ctx, `
		INSERT INTO fulfillments (id, order_id, status, created_at, updated_at, shipped_at)
		VALUES (?, ?, ?, ?, ?, NULL)`,
		f.ID, f.OrderID, f.Status, formatTime(f.CreatedAt), formatTime(f.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert fulfillment: %w", err)
	}
	for i, l := range f.Lines {
		_, err := ts.q.ExecContext(ctx, `
			INSERT INTO fulfillment_lines (id, fulfillment_id, position, order_line_id, product_id, location_id, quantity)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			l.ID, f.ID, i+1, l.OrderLineID, l.ProductID, nullString(string(l.LocationID)), l.Quantity.String(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert fulfillment line: %w", err)
		}
	}
	return nil
}

func (ts *txStore) LockFulfillment(ctx context.Context, id string) (*inventory.Fulfillment, error) {
	return getFulfillment(ctx, ts.q, id)
}

func (ts *txStore) FulfillmentOrderID(ctx context.Context, id string) (string, error) {
	var orderID string
	err := ts.q.QueryRowContext(ctx, `SELECT order_id FROM fulfillments WHERE id = ?`, id).Scan(&orderID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return orderID, err
}

func (ts *txStore) UpdateFulfillment(ctx context.Context, f inventory.Fulfillment) error {
	var shippedAt sql.NullString
	if f.ShippedAt != nil {
		shippedAt = nullString(formatTime(*f.ShippedAt))
	}
	res, err := ts.q.ExecContext(ctx, `
		UPDATE fulfillments SET status = ?, updated_at = ?, shipped_at = COALESCE(?, shipped_at)
		WHERE id = ?`,
		f.Status, formatTime(f.UpdatedAt), shippedAt, f.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update fulfillment: %w", err)
	}
	return requireRow(res, "fulfillment", f.ID)
}

func (ts *txStore) FulfillmentsByOrder(ctx context.Context, orderID string) ([]inventory.Fulfillment, error) {
	return queryFulfillments(ctx, ts.q, "order_id = ?", orderID)
}

// =============================================================================
// OPERATIONS (idempotency records)
// =============================================================================

func getOperation(ctx context.Context, q querier, key string) (*inventory.Operation, error) {
	var (
		op        inventory.Operation
		result    string
		createdAt string
	)
	err := q.QueryRowContext(ctx,
		`SELECT idempotency_key, name, result, created_at FROM operations WHERE idempotency_key = ?`, key,
	).Scan(&op.Key, &op.Name, &result, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load operation: %w", err)
	}
	op.Result = []byte(result)
	op.CreatedAt = parseTime(createdAt)
	return &op, nil
}

func (s *Store) Operation(ctx context.Context, key string) (*inventory.Operation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getOperation(ctx, s.db, key)
}

func (ts *txStore) Operation(ctx context.Context, key string) (*inventory.Operation, error) {
	return getOperation(ctx, ts.q, key)
}

func (ts *txStore) SaveOperation(ctx context.Context, op inventory.Operation) error {
	_, err := ts.q.ExecContext(ctx,
		`INSERT INTO operations (idempotency_key, name, result, created_at) VALUES (?, ?, ?, ?)`,
		op.Key, op.Name, string(op.Result), formatTime(op.CreatedAt),
	)
	return duplicateOr(err, "save operation")
}

func requireRow(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ledger.NotFound(kind, id)
	}
	return nil
}
