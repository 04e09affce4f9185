package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/inventory-engine/inventory"
	"github.com/warp/inventory-engine/ledger"
	"github.com/warp/inventory-engine/store/sqlite"
	"github.com/warp/inventory-engine/store/storetest"
)

func newTestStore(t *testing.T) *sqlite.Store {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) inventory.Store {
		return newTestStore(t)
	})
}

func TestReset_DropsEverything(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	svc := inventory.NewService(store)

	require.NoError(t, svc.SaveLocation(ctx, inventory.Location{ID: "X", Sellable: true}))
	require.NoError(t, svc.BookReceipt(ctx, inventory.Receipt{ProductID: "P", LocationID: "X", Quantity: decimal.NewFromInt(3)}, "k"))

	require.NoError(t, store.Reset(ctx))

	entries, err := store.Entries(ctx, ledger.EntryFilter{})
	require.NoError(t, err)
	assert.Empty(t, entries)
	locs, err := store.Locations(ctx)
	require.NoError(t, err)
	assert.Empty(t, locs)
	op, err := store.Operation(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, op)
}

func TestFileDatabase_SurvivesReopen(t *testing.T) {
	// GIVEN: A receipt booked into a file database
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "inventory.db")

	store, err := sqlite.New(path)
	require.NoError(t, err)
	svc := inventory.NewService(store)
	require.NoError(t, svc.SaveLocation(ctx, inventory.Location{ID: "X", Sellable: true}))
	require.NoError(t, svc.BookReceipt(ctx, inventory.Receipt{ProductID: "P", LocationID: "X", Quantity: decimal.RequireFromString("7.5")}, ""))
	require.NoError(t, store.Close())

	// WHEN: Reopened
	store, err = sqlite.New(path)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	// THEN: Snapshot and ledger are intact
	snap, err := store.Snapshot(ctx, ledger.Key{ProductID: "P", LocationID: "X"})
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.True(t, snap.OnHand.Equal(decimal.RequireFromString("7.5")))

	drifts, err := ledger.Verify(ctx, store)
	require.NoError(t, err)
	assert.Empty(t, drifts)
}
