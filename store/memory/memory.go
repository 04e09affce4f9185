// Package memory provides an in-memory inventory.Store for tests and demos.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/inventory-engine/inventory"
	"github.com/warp/inventory-engine/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Store keeps everything in maps behind one RWMutex. WithTx holds the write
// lock for the whole transaction, so transactions are fully serialized.
type Store struct {
	mu           sync.RWMutex
	seq          int64
	entries      []ledger.Entry
	entryKeys    map[string]bool
	snapshots    map[ledger.Key]ledger.Snapshot
	locations    map[ledger.LocationID]inventory.Location
	orders       map[string]inventory.SalesOrder
	lineOrder    map[string]string
	fulfillments map[string]inventory.Fulfillment
	operations   map[string]inventory.Operation
}

func New() *Store {
	return &Store{
		entryKeys:    make(map[string]bool),
		snapshots:    make(map[ledger.Key]ledger.Snapshot),
		locations:    make(map[ledger.LocationID]inventory.Location),
		orders:       make(map[string]inventory.SalesOrder),
		lineOrder:    make(map[string]string),
		fulfillments: make(map[string]inventory.Fulfillment),
		operations:   make(map[string]inventory.Operation),
	}
}

// Reset drops all data (used by demo scenarios).
func (m *Store) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq = 0
	m.entries = nil
	m.entryKeys = make(map[string]bool)
	m.snapshots = make(map[ledger.Key]ledger.Snapshot)
	m.locations = make(map[ledger.LocationID]inventory.Location)
	m.orders = make(map[string]inventory.SalesOrder)
	m.lineOrder = make(map[string]string)
	m.fulfillments = make(map[string]inventory.Fulfillment)
	m.operations = make(map[string]inventory.Operation)
	return nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a transaction.
// Simulated with a snapshot of every map and a restore on error.
func (m *Store) WithTx(ctx context.Context, fn func(inventory.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	saved := m.snapshot()
	if err := fn(&txView{m: m}); err != nil {
		m.restore(saved)
		return err
	}
	return nil
}

type memorySnapshot struct {
	seq          int64
	entries      int
	entryKeys    map[string]bool
	snapshots    map[ledger.Key]ledger.Snapshot
	locations    map[ledger.LocationID]inventory.Location
	orders       map[string]inventory.SalesOrder
	lineOrder    map[string]string
	fulfillments map[string]inventory.Fulfillment
	operations   map[string]inventory.Operation
}

func (m *Store) snapshot() memorySnapshot {
	s := memorySnapshot{
		seq:          m.seq,
		entries:      len(m.entries),
		entryKeys:    make(map[string]bool, len(m.entryKeys)),
		snapshots:    make(map[ledger.Key]ledger.Snapshot, len(m.snapshots)),
		locations:    make(map[ledger.LocationID]inventory.Location, len(m.locations)),
		orders:       make(map[string]inventory.SalesOrder, len(m.orders)),
		lineOrder:    make(map[string]string, len(m.lineOrder)),
		fulfillments: make(map[string]inventory.Fulfillment, len(m.fulfillments)),
		operations:   make(map[string]inventory.Operation, len(m.operations)),
	}
	for k, v := range m.entryKeys {
		s.entryKeys[k] = v
	}
	for k, v := range m.snapshots {
		s.snapshots[k] = v
	}
	for k, v := range m.locations {
		s.locations[k] = v
	}
	for k, v := range m.orders {
		s.orders[k] = v.Clone()
	}
	for k, v := range m.lineOrder {
		s.lineOrder[k] = v
	}
	for k, v := range m.fulfillments {
		s.fulfillments[k] = v.Clone()
	}
	for k, v := range m.operations {
		s.operations[k] = v
	}
	return s
}

func (m *Store) restore(s memorySnapshot) {
	m.seq = s.seq
	m.entries = m.entries[:s.entries]
	m.entryKeys = s.entryKeys
	m.snapshots = s.snapshots
	m.locations = s.locations
	m.orders = s.orders
	m.lineOrder = s.lineOrder
	m.fulfillments = s.fulfillments
	m.operations = s.operations
}

// =============================================================================
// READS (outside transactions)
// =============================================================================

func (m *Store) Snapshot(_ context.Context, k ledger.Key) (*ledger.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.snapshots[k]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (m *Store) Snapshots(_ context.Context, product ledger.ProductID) ([]ledger.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.productSnapshots(product), nil
}

func (m *Store) Entries(_ context.Context, f ledger.EntryFilter) ([]ledger.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.filterEntries(f), nil
}

func (m *Store) Locations(_ context.Context) ([]inventory.Location, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sortedLocations(), nil
}

func (m *Store) SaveLocation(_ context.Context, l inventory.Location) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l.IsDefault {
		for id, other := range m.locations {
			if other.IsDefault && id != l.ID {
				other.IsDefault = false
				m.locations[id] = other
			}
		}
	}
	m.locations[l.ID] = l
	return nil
}

func (m *Store) Order(_ context.Context, id string) (*inventory.SalesOrder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, nil
	}
	o = o.Clone()
	return &o, nil
}

func (m *Store) OrderIDs(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.orders))
	for id := range m.orders {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *Store) Fulfillment(_ context.Context, id string) (*inventory.Fulfillment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.fulfillments[id]
	if !ok {
		return nil, nil
	}
	f = f.Clone()
	return &f, nil
}

func (m *Store) Fulfillments(_ context.Context, orderID string) ([]inventory.Fulfillment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.orderFulfillments(orderID), nil
}

func (m *Store) Operation(_ context.Context, key string) (*inventory.Operation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	op, ok := m.operations[key]
	if !ok {
		return nil, nil
	}
	return &op, nil
}

// =============================================================================
// LOCKED HELPERS (caller holds mu)
// =============================================================================

func (m *Store) productSnapshots(product ledger.ProductID) []ledger.Snapshot {
	var out []ledger.Snapshot
	for k, s := range m.snapshots {
		if product == "" || k.ProductID == product {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ProductID != out[j].ProductID {
			return out[i].ProductID < out[j].ProductID
		}
		return out[i].LocationID < out[j].LocationID
	})
	return out
}

func (m *Store) filterEntries(f ledger.EntryFilter) []ledger.Entry {
	var out []ledger.Entry
	for _, e := range m.entries {
		if !f.Matches(e) {
			continue
		}
		out = append(out, e)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out
}

func (m *Store) sortedLocations() []inventory.Location {
	out := make([]inventory.Location, 0, len(m.locations))
	for _, l := range m.locations {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *Store) orderFulfillments(orderID string) []inventory.Fulfillment {
	var out []inventory.Fulfillment
	for _, f := range m.fulfillments {
		if f.OrderID == orderID {
			out = append(out, f.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// =============================================================================
// TRANSACTIONAL VIEW
// =============================================================================

// txView is handed to WithTx callbacks. The parent's write lock is held
// for its whole lifetime, so it touches the maps directly.
type txView struct {
	m *Store
}

func (t *txView) EntryKeyExists(_ context.Context, key string) (bool, error) {
	return t.m.entryKeys[key], nil
}

func (t *txView) InsertEntry(_ context.Context, e ledger.Entry) error {
	if e.IdempotencyKey != "" {
		if t.m.entryKeys[e.IdempotencyKey] {
			return ledger.ErrDuplicateOperation
		}
		t.m.entryKeys[e.IdempotencyKey] = true
	}
	t.m.seq++
	e.Seq = t.m.seq
	t.m.entries = append(t.m.entries, e)
	return nil
}

func (t *txView) LockSnapshot(_ context.Context, k ledger.Key) (*ledger.Snapshot, error) {
	s, ok := t.m.snapshots[k]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (t *txView) LockProductSnapshots(_ context.Context, product ledger.ProductID) ([]ledger.Snapshot, error) {
	if product == "" {
		return nil, nil
	}
	return t.m.productSnapshots(product), nil
}

func (t *txView) SaveSnapshot(_ context.Context, s ledger.Snapshot) error {
	t.m.snapshots[s.Key()] = s
	return nil
}

func (t *txView) Entries(_ context.Context, f ledger.EntryFilter) ([]ledger.Entry, error) {
	return t.m.filterEntries(f), nil
}

func (t *txView) Locations(_ context.Context) ([]inventory.Location, error) {
	return t.m.sortedLocations(), nil
}

func (t *txView) Location(_ context.Context, id ledger.LocationID) (*inventory.Location, error) {
	l, ok := t.m.locations[id]
	if !ok {
		return nil, nil
	}
	return &l, nil
}

func (t *txView) InsertOrder(_ context.Context, o inventory.SalesOrder) error {
	if _, ok := t.m.orders[o.ID]; ok {
		return ledger.InvalidArgument("order %s already exists", o.ID)
	}
	o = o.Clone()
	sort.SliceStable(o.Lines, func(i, j int) bool { return o.Lines[i].Position < o.Lines[j].Position })
	t.m.orders[o.ID] = o
	for _, l := range o.Lines {
		t.m.lineOrder[l.ID] = o.ID
	}
	return nil
}

func (t *txView) LockOrder(_ context.Context, id string) (*inventory.SalesOrder, error) {
	o, ok := t.m.orders[id]
	if !ok {
		return nil, nil
	}
	o = o.Clone()
	return &o, nil
}

func (t *txView) OrderIDForLine(_ context.Context, lineID string) (string, error) {
	return t.m.lineOrder[lineID], nil
}

func (t *txView) SaveLine(_ context.Context, l inventory.SalesOrderLine) error {
	o, ok := t.m.orders[l.OrderID]
	if !ok {
		return ledger.NotFound("order", l.OrderID)
	}
	for i := range o.Lines {
		if o.Lines[i].ID == l.ID {
			o.Lines[i].Allocated = l.Allocated
			o.Lines[i].Fulfilled = l.Fulfilled
			return nil
		}
	}
	return ledger.NotFound("order line", l.ID)
}

func (t *txView) SaveOrderStatus(_ context.Context, id string, status inventory.OrderStatus, at time.Time) error {
	o, ok := t.m.orders[id]
	if !ok {
		return ledger.NotFound("order", id)
	}
	o.Status = status
	o.UpdatedAt = at
	t.m.orders[id] = o
	return nil
}

func (t *txView) InsertFulfillment(_ context.Context, f inventory.Fulfillment) error {
	if _, ok := t.m.fulfillments[f.ID]; ok {
		return ledger.InvalidArgument("fulfillment %s already exists", f.ID)
	}
	t.m.fulfillments[f.ID] = f.Clone()
	return nil
}

func (t *txView) LockFulfillment(_ context.Context, id string) (*inventory.Fulfillment, error) {
	f, ok := t.m.fulfillments[id]
	if !ok {
		return nil, nil
	}
	f = f.Clone()
	return &f, nil
}

func (t *txView) FulfillmentOrderID(_ context.Context, id string) (string, error) {
	return t.m.fulfillments[id].OrderID, nil
}

func (t *txView) UpdateFulfillment(_ context.Context, f inventory.Fulfillment) error {
	cur, ok := t.m.fulfillments[f.ID]
	if !ok {
		return ledger.NotFound("fulfillment", f.ID)
	}
	cur.Status = f.Status
	cur.UpdatedAt = f.UpdatedAt
	if f.ShippedAt != nil {
		at := *f.ShippedAt
		cur.ShippedAt = &at
	}
	t.m.fulfillments[f.ID] = cur
	return nil
}

func (t *txView) FulfillmentsByOrder(_ context.Context, orderID string) ([]inventory.Fulfillment, error) {
	return t.m.orderFulfillments(orderID), nil
}

func (t *txView) Operation(_ context.Context, key string) (*inventory.Operation, error) {
	op, ok := t.m.operations[key]
	if !ok {
		return nil, nil
	}
	return &op, nil
}

func (t *txView) SaveOperation(_ context.Context, op inventory.Operation) error {
	if _, ok := t.m.operations[op.Key]; ok {
		return ledger.ErrDuplicateOperation
	}
	t.m.operations[op.Key] = op
	return nil
}
