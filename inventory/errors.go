package inventory

import (
	"fmt"

	"github.com/warp/inventory-engine/ledger"
)

// IllegalStateError is returned when a command does not apply to the
// current lifecycle state of an order or fulfillment.
type IllegalStateError struct {
	Entity string // "order" or "fulfillment"
	ID     string
	State  string
	Action string
}

func (e *IllegalStateError) Error() string {
	return fmt.Sprintf("cannot %s %s %s in state %s", e.Action, e.Entity, e.ID, e.State)
}

func (e *IllegalStateError) Unwrap() error {
	return ledger.ErrIllegalStateTransition
}

func orderStateError(o *SalesOrder, action string) error {
	return &IllegalStateError{Entity: "order", ID: o.ID, State: string(o.Status), Action: action}
}

func fulfillmentStateError(f *Fulfillment, action string) error {
	return &IllegalStateError{Entity: "fulfillment", ID: f.ID, State: string(f.Status), Action: action}
}
