package ledger_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/inventory-engine/inventory"
	"github.com/warp/inventory-engine/ledger"
	"github.com/warp/inventory-engine/store/memory"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestLedger(t *testing.T) (*ledger.DefaultLedger, *memory.Store) {
	t.Helper()
	ids := 0
	l := ledger.New(
		ledger.WithClock(func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }),
		ledger.WithIDs(func() ledger.EntryID {
			ids++
			return ledger.EntryID(fmt.Sprintf("E-%d", ids))
		}),
	)
	return l, memory.New()
}

func appendAll(ctx context.Context, l ledger.Ledger, s *memory.Store, entries ...ledger.Entry) error {
	return s.WithTx(ctx, func(tx inventory.Tx) error {
		for _, e := range entries {
			if _, err := l.Append(ctx, tx, e); err != nil {
				return err
			}
		}
		return nil
	})
}

// =============================================================================
// APPEND
// =============================================================================

func TestAppend_ProjectsSnapshotInSameTransaction(t *testing.T) {
	// GIVEN: An empty ledger
	ctx := context.Background()
	l, s := newTestLedger(t)

	// WHEN: 10 received, 6 reserved
	err := appendAll(ctx, l, s,
		entry(keyA, ledger.KindReceipt, 10, 0, 0),
		entry(keyA, ledger.KindReserve, 0, 6, 0),
	)
	require.NoError(t, err)

	// THEN: Snapshot is 10/6 and matches the fold of history
	snap, err := s.Snapshot(ctx, keyA)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.True(t, snap.OnHand.Equal(d(10)))
	assert.True(t, snap.Reserved.Equal(d(6)))

	entries, err := s.Entries(ctx, ledger.EntryFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, ledger.EntryID("E-1"), entries[0].ID)
	assert.Less(t, entries[0].Seq, entries[1].Seq)
	assert.False(t, entries[0].CreatedAt.IsZero())

	drifts, err := ledger.Verify(ctx, s)
	require.NoError(t, err)
	assert.Empty(t, drifts)
}

func TestAppend_InvariantViolationRollsBackWholeTransaction(t *testing.T) {
	// GIVEN: 5 on hand
	ctx := context.Background()
	l, s := newTestLedger(t)
	require.NoError(t, appendAll(ctx, l, s, entry(keyA, ledger.KindReceipt, 5, 0, 0)))

	// WHEN: One transaction reserves 3 and then ships 8
	err := appendAll(ctx, l, s,
		entry(keyA, ledger.KindReserve, 0, 3, 0),
		entry(keyA, ledger.KindSale, -8, -3, 0),
	)

	// THEN: Nothing from that transaction survives
	require.Error(t, err)
	assert.True(t, errors.Is(err, ledger.ErrInvariantViolation))

	snap, err := s.Snapshot(ctx, keyA)
	require.NoError(t, err)
	assert.True(t, snap.OnHand.Equal(d(5)))
	assert.True(t, snap.Reserved.IsZero())

	entries, err := s.Entries(ctx, ledger.EntryFilter{})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestAppend_DuplicateIdempotencyKey(t *testing.T) {
	ctx := context.Background()
	l, s := newTestLedger(t)

	first := entry(keyA, ledger.KindReceipt, 10, 0, 0)
	first.IdempotencyKey = "rcpt-1"
	require.NoError(t, appendAll(ctx, l, s, first))

	err := appendAll(ctx, l, s, first)
	assert.True(t, errors.Is(err, ledger.ErrDuplicateOperation))

	snap, err := s.Snapshot(ctx, keyA)
	require.NoError(t, err)
	assert.True(t, snap.OnHand.Equal(d(10)), "duplicate must not be applied twice")
}

func TestAppend_RejectsMalformedEntries(t *testing.T) {
	ctx := context.Background()
	l, s := newTestLedger(t)

	noLocation := entry(keyA, ledger.KindReceipt, 1, 0, 0)
	noLocation.LocationID = ""
	badKind := entry(keyA, ledger.Kind("gift"), 1, 0, 0)
	empty := entry(keyA, ledger.KindAdjustment, 0, 0, 0)

	for _, e := range []ledger.Entry{noLocation, badKind, empty} {
		err := appendAll(ctx, l, s, e)
		assert.True(t, errors.Is(err, ledger.ErrInvalidArgument), "entry %+v", e)
	}
}

// =============================================================================
// REBUILD / VERIFY
// =============================================================================

func TestRebuild_RepairsDriftedSnapshot(t *testing.T) {
	// GIVEN: A snapshot overwritten behind the ledger's back
	ctx := context.Background()
	l, s := newTestLedger(t)
	require.NoError(t, appendAll(ctx, l, s,
		entry(keyA, ledger.KindReceipt, 10, 0, 0),
		entry(keyA, ledger.KindReserve, 0, 4, 0),
	))
	require.NoError(t, s.WithTx(ctx, func(tx inventory.Tx) error {
		return tx.SaveSnapshot(ctx, snapshot(keyA, 7, 0, 0))
	}))

	drifts, err := ledger.Verify(ctx, s)
	require.NoError(t, err)
	require.Len(t, drifts, 1)
	assert.True(t, drifts[0].Expected.Reserved.Equal(d(4)))

	// WHEN: Rebuilt
	var rebuilt ledger.Snapshot
	require.NoError(t, s.WithTx(ctx, func(tx inventory.Tx) error {
		var err error
		rebuilt, err = l.Rebuild(ctx, tx, keyA)
		return err
	}))

	// THEN: Snapshot equals the fold again
	assert.True(t, rebuilt.OnHand.Equal(d(10)))
	assert.True(t, rebuilt.Reserved.Equal(d(4)))

	drifts, err = ledger.Verify(ctx, s)
	require.NoError(t, err)
	assert.Empty(t, drifts)
}
