package ledger

import (
	"sort"

	"github.com/shopspring/decimal"
)

// =============================================================================
// PROJECTOR - The only place balances change
// =============================================================================

// Project applies one entry to the snapshot of its key and returns the new
// snapshot. A result with a negative on-hand, reserved or on-order balance
// is rejected with *InvariantViolationError and the input is left untouched.
func Project(s Snapshot, e Entry) (Snapshot, error) {
	if s.Key() != e.Key() {
		return s, InvalidArgument("entry for %s projected onto snapshot %s", e.Key(), s.Key())
	}

	checks := []struct {
		field   string
		current decimal.Decimal
		delta   decimal.Decimal
	}{
		{"on_hand", s.OnHand, e.OnHandDelta},
		{"reserved", s.Reserved, e.ReservedDelta},
		{"on_order", s.OnOrder, e.OnOrderDelta},
	}
	for _, c := range checks {
		if c.current.Add(c.delta).IsNegative() {
			return s, &InvariantViolationError{
				Key:     e.Key(),
				EntryID: e.ID,
				Kind:    e.Kind,
				Field:   c.field,
				Current: c.current,
				Delta:   c.delta,
			}
		}
	}

	next := s
	next.OnHand = s.OnHand.Add(e.OnHandDelta)
	next.Reserved = s.Reserved.Add(e.ReservedDelta)
	next.OnOrder = s.OnOrder.Add(e.OnOrderDelta)
	if e.CreatedAt.After(next.UpdatedAt) {
		next.UpdatedAt = e.CreatedAt
	}
	return next, nil
}

// Fold recomputes a key's snapshot from scratch. Entries must be in append
// order; the invariant is checked after every step.
func Fold(k Key, entries []Entry) (Snapshot, error) {
	s := EmptySnapshot(k)
	for _, e := range entries {
		if e.Key() != k {
			continue
		}
		var err error
		if s, err = Project(s, e); err != nil {
			return s, err
		}
	}
	return s, nil
}

// =============================================================================
// DRIFT - Snapshot disagreeing with its ledger fold
// =============================================================================

type Drift struct {
	Key      Key
	Snapshot Snapshot // As stored (zero value if the row is missing)
	Expected Snapshot // Fold of the ledger
	Missing  bool     // No snapshot row although entries exist
	Err      string   // Fold itself failed (corrupt history)
}

// FindDrift compares stored snapshots against the fold of all entries.
// Results are sorted by key.
func FindDrift(snapshots []Snapshot, entries []Entry) []Drift {
	byKey := make(map[Key][]Entry)
	for _, e := range entries {
		byKey[e.Key()] = append(byKey[e.Key()], e)
	}
	stored := make(map[Key]Snapshot, len(snapshots))
	for _, s := range snapshots {
		stored[s.Key()] = s
	}

	keys := make(map[Key]struct{}, len(byKey)+len(stored))
	for k := range byKey {
		keys[k] = struct{}{}
	}
	for k := range stored {
		keys[k] = struct{}{}
	}

	var drifts []Drift
	for k := range keys {
		expected, err := Fold(k, byKey[k])
		s, ok := stored[k]
		switch {
		case err != nil:
			drifts = append(drifts, Drift{Key: k, Snapshot: s, Missing: !ok, Err: err.Error()})
		case !ok:
			drifts = append(drifts, Drift{Key: k, Expected: expected, Missing: true})
		case !s.Balances(expected):
			drifts = append(drifts, Drift{Key: k, Snapshot: s, Expected: expected})
		}
	}

	sort.Slice(drifts, func(i, j int) bool {
		a, b := drifts[i].Key, drifts[j].Key
		if a.ProductID != b.ProductID {
			return a.ProductID < b.ProductID
		}
		return a.LocationID < b.LocationID
	})
	return drifts
}
