package inventory

import (
	"context"

	"github.com/warp/inventory-engine/ledger"
)

// =============================================================================
// READ MODEL
// =============================================================================

func (s *Service) Order(ctx context.Context, id string) (*SalesOrder, error) {
	o, err := s.store.Order(ctx, id)
	if err != nil {
		return nil, err
	}
	if o == nil {
		return nil, ledger.NotFound("order", id)
	}
	return o, nil
}

func (s *Service) Fulfillment(ctx context.Context, id string) (*Fulfillment, error) {
	f, err := s.store.Fulfillment(ctx, id)
	if err != nil {
		return nil, err
	}
	if f == nil {
		return nil, ledger.NotFound("fulfillment", id)
	}
	return f, nil
}

func (s *Service) Fulfillments(ctx context.Context, orderID string) ([]Fulfillment, error) {
	if _, err := s.Order(ctx, orderID); err != nil {
		return nil, err
	}
	return s.store.Fulfillments(ctx, orderID)
}

// Snapshot returns the balance of one key; a key never touched reads as zero.
func (s *Service) Snapshot(ctx context.Context, k ledger.Key) (ledger.Snapshot, error) {
	snap, err := s.store.Snapshot(ctx, k)
	if err != nil {
		return ledger.Snapshot{}, err
	}
	if snap == nil {
		return ledger.EmptySnapshot(k), nil
	}
	return *snap, nil
}

func (s *Service) Snapshots(ctx context.Context, product ledger.ProductID) ([]ledger.Snapshot, error) {
	return s.store.Snapshots(ctx, product)
}

func (s *Service) Entries(ctx context.Context, f ledger.EntryFilter) ([]ledger.Entry, error) {
	return s.store.Entries(ctx, f)
}

func (s *Service) Locations(ctx context.Context) ([]Location, error) {
	return s.store.Locations(ctx)
}

// SaveLocation upserts master data for a location.
func (s *Service) SaveLocation(ctx context.Context, l Location) error {
	if l.ID == "" {
		return ledger.InvalidArgument("location id is required")
	}
	if l.Name == "" {
		l.Name = string(l.ID)
	}
	return s.store.SaveLocation(ctx, l)
}

func (s *Service) OrderIDs(ctx context.Context) ([]string, error) {
	return s.store.OrderIDs(ctx)
}
