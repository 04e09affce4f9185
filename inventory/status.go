package inventory

// =============================================================================
// ORDER STATUS RESOLVER
// =============================================================================

// ResolveStatus derives an order's status from its line counters and
// fulfillments. It is pure: the same inputs always give the same status,
// so it can be re-run after every command without side effects.
//
// Precedence (first match wins):
//
//	cancelled, draft       -> unchanged (left only by explicit commands)
//	all ordered shipped    -> completed
//	anything shipped       -> partially_shipped
//	active fulfillment     -> picking
//	every line covered     -> reserved
//	some allocation        -> awaiting_stock
//	otherwise              -> confirmed
func ResolveStatus(current OrderStatus, lines []SalesOrderLine, fulfillments []Fulfillment) OrderStatus {
	if current == OrderCancelled || current == OrderDraft {
		return current
	}
	if len(lines) == 0 {
		return OrderConfirmed
	}

	allShipped, anyShipped := true, false
	allCovered, anyAllocated := true, false
	for _, l := range lines {
		if l.Fulfilled.LessThan(l.Ordered) {
			allShipped = false
		}
		if l.Fulfilled.IsPositive() {
			anyShipped = true
		}
		if !l.Covered() {
			allCovered = false
		}
		if l.Allocated.IsPositive() {
			anyAllocated = true
		}
	}

	switch {
	case allShipped:
		return OrderCompleted
	case anyShipped:
		return OrderPartiallyShipped
	}
	for _, f := range fulfillments {
		if f.Status.Active() {
			return OrderPicking
		}
	}
	switch {
	case allCovered && anyAllocated:
		return OrderReserved
	case anyAllocated:
		return OrderAwaitingStock
	}
	return OrderConfirmed
}
