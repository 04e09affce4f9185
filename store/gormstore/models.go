package gormstore

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/inventory-engine/inventory"
	"github.com/warp/inventory-engine/ledger"
)

var models = []any{
	&locationModel{},
	&entryModel{},
	&snapshotModel{},
	&orderModel{},
	&orderLineModel{},
	&fulfillmentModel{},
	&fulfillmentLineModel{},
	&operationModel{},
}

type locationModel struct {
	ID        string `gorm:"primaryKey;size:64"`
	Name      string `gorm:"size:255;not null"`
	Sellable  bool   `gorm:"not null;default:true"`
	IsDefault bool   `gorm:"not null;default:false"`
}

func (locationModel) TableName() string { return "locations" }

func (m locationModel) toDomain() inventory.Location {
	return inventory.Location{
		ID:        ledger.LocationID(m.ID),
		Name:      m.Name,
		Sellable:  m.Sellable,
		IsDefault: m.IsDefault,
	}
}

// entryModel rows are never updated or deleted outside Reset.
type entryModel struct {
	Seq             int64           `gorm:"primaryKey;autoIncrement"`
	ID              string          `gorm:"column:id;size:64;not null;uniqueIndex"`
	ProductID       string          `gorm:"size:64;not null;index:idx_ledger_entries_key,priority:1"`
	LocationID      string          `gorm:"size:64;not null;index:idx_ledger_entries_key,priority:2"`
	Kind            string          `gorm:"size:20;not null"`
	OnHandDelta     decimal.Decimal `gorm:"type:decimal(20,4);not null"`
	ReservedDelta   decimal.Decimal `gorm:"type:decimal(20,4);not null"`
	OnOrderDelta    decimal.Decimal `gorm:"type:decimal(20,4);not null"`
	ReferenceType   *string         `gorm:"size:20;index:idx_ledger_entries_reference,priority:1"`
	ReferenceID     *string         `gorm:"size:64;index:idx_ledger_entries_reference,priority:2"`
	ReferenceLineID *string         `gorm:"size:64;index:idx_ledger_entries_reference,priority:3"`
	Reason          string          `gorm:"size:255"`
	IdempotencyKey  *string         `gorm:"size:191;uniqueIndex"`
	CreatedAt       time.Time       `gorm:"not null"`
}

func (entryModel) TableName() string { return "ledger_entries" }

func entryFromDomain(e ledger.Entry) entryModel {
	return entryModel{
		ID:              string(e.ID),
		ProductID:       string(e.ProductID),
		LocationID:      string(e.LocationID),
		Kind:            string(e.Kind),
		OnHandDelta:     e.OnHandDelta,
		ReservedDelta:   e.ReservedDelta,
		OnOrderDelta:    e.OnOrderDelta,
		ReferenceType:   nullable(string(e.Reference.Type)),
		ReferenceID:     nullable(e.Reference.ID),
		ReferenceLineID: nullable(e.Reference.LineID),
		Reason:          e.Reason,
		IdempotencyKey:  nullable(e.IdempotencyKey),
		CreatedAt:       e.CreatedAt,
	}
}

func (m entryModel) toDomain() ledger.Entry {
	return ledger.Entry{
		ID:            ledger.EntryID(m.ID),
		Seq:           m.Seq,
		ProductID:     ledger.ProductID(m.ProductID),
		LocationID:    ledger.LocationID(m.LocationID),
		Kind:          ledger.Kind(m.Kind),
		OnHandDelta:   m.OnHandDelta,
		ReservedDelta: m.ReservedDelta,
		OnOrderDelta:  m.OnOrderDelta,
		Reference: ledger.Reference{
			Type:   ledger.ReferenceType(deref(m.ReferenceType)),
			ID:     deref(m.ReferenceID),
			LineID: deref(m.ReferenceLineID),
		},
		Reason:         m.Reason,
		IdempotencyKey: deref(m.IdempotencyKey),
		CreatedAt:      m.CreatedAt,
	}
}

type snapshotModel struct {
	ProductID  string          `gorm:"primaryKey;size:64"`
	LocationID string          `gorm:"primaryKey;size:64"`
	OnHand     decimal.Decimal `gorm:"type:decimal(20,4);not null"`
	Reserved   decimal.Decimal `gorm:"type:decimal(20,4);not null"`
	OnOrder    decimal.Decimal `gorm:"type:decimal(20,4);not null"`
	UpdatedAt  time.Time       `gorm:"not null"`
}

func (snapshotModel) TableName() string { return "stock_snapshots" }

func (m snapshotModel) toDomain() ledger.Snapshot {
	return ledger.Snapshot{
		ProductID:  ledger.ProductID(m.ProductID),
		LocationID: ledger.LocationID(m.LocationID),
		OnHand:     m.OnHand,
		Reserved:   m.Reserved,
		OnOrder:    m.OnOrder,
		UpdatedAt:  m.UpdatedAt,
	}
}

type orderModel struct {
	ID        string           `gorm:"primaryKey;size:64"`
	Reference string           `gorm:"size:128"`
	Status    string           `gorm:"size:32;not null;index"`
	Lines     []orderLineModel `gorm:"foreignKey:OrderID;references:ID"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (orderModel) TableName() string { return "sales_orders" }

type orderLineModel struct {
	ID        string          `gorm:"primaryKey;size:64"`
	OrderID   string          `gorm:"size:64;not null;index:idx_sales_order_lines_order,priority:1"`
	Position  int             `gorm:"not null;index:idx_sales_order_lines_order,priority:2"`
	ProductID string          `gorm:"size:64;not null"`
	Ordered   decimal.Decimal `gorm:"type:decimal(20,4);not null"`
	Allocated decimal.Decimal `gorm:"type:decimal(20,4);not null"`
	Fulfilled decimal.Decimal `gorm:"type:decimal(20,4);not null"`
}

func (orderLineModel) TableName() string { return "sales_order_lines" }

func orderFromDomain(o inventory.SalesOrder) orderModel {
	m := orderModel{
		ID:        o.ID,
		Reference: o.Reference,
		Status:    string(o.Status),
		CreatedAt: o.CreatedAt,
		UpdatedAt: o.UpdatedAt,
	}
	for _, l := range o.Lines {
		m.Lines = append(m.Lines, orderLineModel{
			ID:        l.ID,
			OrderID:   o.ID,
			Position:  l.Position,
			ProductID: string(l.ProductID),
			Ordered:   l.Ordered,
			Allocated: l.Allocated,
			Fulfilled: l.Fulfilled,
		})
	}
	return m
}

func (m orderModel) toDomain() inventory.SalesOrder {
	o := inventory.SalesOrder{
		ID:        m.ID,
		Reference: m.Reference,
		Status:    inventory.OrderStatus(m.Status),
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
	for _, l := range m.Lines {
		o.Lines = append(o.Lines, inventory.SalesOrderLine{
			ID:        l.ID,
			OrderID:   l.OrderID,
			Position:  l.Position,
			ProductID: ledger.ProductID(l.ProductID),
			Ordered:   l.Ordered,
			Allocated: l.Allocated,
			Fulfilled: l.Fulfilled,
		})
	}
	return o
}

type fulfillmentModel struct {
	ID        string                 `gorm:"primaryKey;size:64"`
	OrderID   string                 `gorm:"size:64;not null;index"`
	Status    string                 `gorm:"size:32;not null"`
	Lines     []fulfillmentLineModel `gorm:"foreignKey:FulfillmentID;references:ID"`
	CreatedAt time.Time
	UpdatedAt time.Time
	ShippedAt *time.Time
}

func (fulfillmentModel) TableName() string { return "fulfillments" }

// fulfillmentLineModel with a NULL location is a backorder line.
type fulfillmentLineModel struct {
	ID            string          `gorm:"primaryKey;size:64"`
	FulfillmentID string          `gorm:"size:64;not null;index:idx_fulfillment_lines_fulfillment,priority:1"`
	Position      int             `gorm:"not null;index:idx_fulfillment_lines_fulfillment,priority:2"`
	OrderLineID   string          `gorm:"size:64;not null"`
	ProductID     string          `gorm:"size:64;not null"`
	LocationID    *string         `gorm:"size:64"`
	Quantity      decimal.Decimal `gorm:"type:decimal(20,4);not null"`
}

func (fulfillmentLineModel) TableName() string { return "fulfillment_lines" }

func fulfillmentFromDomain(f inventory.Fulfillment) fulfillmentModel {
	m := fulfillmentModel{
		ID:        f.ID,
		OrderID:   f.OrderID,
		Status:    string(f.Status),
		CreatedAt: f.CreatedAt,
		UpdatedAt: f.UpdatedAt,
		ShippedAt: f.ShippedAt,
	}
	for i, l := range f.Lines {
		m.Lines = append(m.Lines, fulfillmentLineModel{
			ID:            l.ID,
			FulfillmentID: f.ID,
			Position:      i + 1,
			OrderLineID:   l.OrderLineID,
			ProductID:     string(l.ProductID),
			LocationID:    nullable(string(l.LocationID)),
			Quantity:      l.Quantity,
		})
	}
	return m
}

func (m fulfillmentModel) toDomain() inventory.Fulfillment {
	f := inventory.Fulfillment{
		ID:        m.ID,
		OrderID:   m.OrderID,
		Status:    inventory.FulfillmentStatus(m.Status),
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
		ShippedAt: m.ShippedAt,
	}
	for _, l := range m.Lines {
		f.Lines = append(f.Lines, inventory.FulfillmentLine{
			ID:            l.ID,
			FulfillmentID: l.FulfillmentID,
			OrderLineID:   l.OrderLineID,
			ProductID:     ledger.ProductID(l.ProductID),
			LocationID:    ledger.LocationID(deref(l.LocationID)),
			Quantity:      l.Quantity,
		})
	}
	return f
}

type operationModel struct {
	IdempotencyKey string `gorm:"primaryKey;size:191"`
	Name           string `gorm:"size:64;not null"`
	Result         string `gorm:"type:text;not null"`
	CreatedAt      time.Time
}

func (operationModel) TableName() string { return "operations" }

func (m operationModel) toDomain() inventory.Operation {
	return inventory.Operation{
		Key:       m.IdempotencyKey,
		Name:      m.Name,
		Result:    []byte(m.Result),
		CreatedAt: m.CreatedAt,
	}
}
