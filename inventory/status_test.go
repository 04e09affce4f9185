package inventory

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/warp/inventory-engine/ledger"
)

func line(ordered, allocated, fulfilled int64) SalesOrderLine {
	return SalesOrderLine{
		Ordered:   decimal.NewFromInt(ordered),
		Allocated: decimal.NewFromInt(allocated),
		Fulfilled: decimal.NewFromInt(fulfilled),
	}
}

func TestResolveStatus(t *testing.T) {
	active := []Fulfillment{{Status: FulfillmentPicking}}
	closed := []Fulfillment{{Status: FulfillmentCancelled}, {Status: FulfillmentShipped}}

	cases := []struct {
		name         string
		current      OrderStatus
		lines        []SalesOrderLine
		fulfillments []Fulfillment
		want         OrderStatus
	}{
		{"draft is left alone", OrderDraft, []SalesOrderLine{line(5, 5, 0)}, nil, OrderDraft},
		{"cancelled is left alone", OrderCancelled, []SalesOrderLine{line(5, 0, 5)}, nil, OrderCancelled},
		{"nothing allocated", OrderConfirmed, []SalesOrderLine{line(5, 0, 0)}, nil, OrderConfirmed},
		{"partial allocation", OrderConfirmed, []SalesOrderLine{line(5, 2, 0)}, nil, OrderAwaitingStock},
		{"fully covered", OrderAwaitingStock, []SalesOrderLine{line(5, 5, 0), line(1, 1, 0)}, nil, OrderReserved},
		{"one line uncovered", OrderReserved, []SalesOrderLine{line(5, 5, 0), line(1, 0, 0)}, nil, OrderAwaitingStock},
		{"active fulfillment", OrderReserved, []SalesOrderLine{line(5, 5, 0)}, active, OrderPicking},
		{"closed fulfillments ignored", OrderPicking, []SalesOrderLine{line(5, 5, 0)}, closed, OrderReserved},
		{"some shipped", OrderPicking, []SalesOrderLine{line(6, 2, 4)}, active, OrderPartiallyShipped},
		{"all shipped", OrderPartiallyShipped, []SalesOrderLine{line(6, 0, 6), line(2, 0, 2)}, closed, OrderCompleted},
		{"completed reopens after revert", OrderCompleted, []SalesOrderLine{line(6, 6, 0)}, closed, OrderReserved},
		{"no lines", OrderConfirmed, nil, nil, OrderConfirmed},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ResolveStatus(tc.current, tc.lines, tc.fulfillments))
		})
	}
}

func TestResolveStatus_IsIdempotent(t *testing.T) {
	lines := []SalesOrderLine{line(6, 2, 4)}
	first := ResolveStatus(OrderConfirmed, lines, nil)
	assert.Equal(t, first, ResolveStatus(first, lines, nil))
}

func TestRankBins(t *testing.T) {
	snap := func(loc string, onHand, reserved int64) ledger.Snapshot {
		return ledger.Snapshot{
			ProductID:  "P-1",
			LocationID: ledger.LocationID(loc),
			OnHand:     decimal.NewFromInt(onHand),
			Reserved:   decimal.NewFromInt(reserved),
		}
	}

	// GIVEN: BIN-C and BIN-B tie on available 7, BIN-A has 4
	bins := []ledger.Snapshot{
		snap("BIN-A", 4, 0),
		snap("BIN-C", 9, 2),
		snap("BIN-B", 7, 0),
	}

	RankBins(bins)

	// THEN: Largest first, ties broken by location id
	got := []ledger.LocationID{bins[0].LocationID, bins[1].LocationID, bins[2].LocationID}
	assert.Equal(t, []ledger.LocationID{"BIN-B", "BIN-C", "BIN-A"}, got)
}
