// Package notify holds inventory.Notifier sinks that need no broker.
package notify

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/warp/inventory-engine/inventory"
)

// Log writes each committed event as one structured log line.
type Log struct {
	logger *logrus.Logger
}

func NewLog(logger *logrus.Logger) *Log {
	return &Log{logger: logger}
}

func (l *Log) Publish(_ context.Context, events []inventory.Event) error {
	for _, e := range events {
		fields := logrus.Fields{"module": "timeline", "event": string(e.Type)}
		if e.OrderID != "" {
			fields["order_id"] = e.OrderID
		}
		if e.FulfillmentID != "" {
			fields["fulfillment_id"] = e.FulfillmentID
		}
		if e.LineID != "" {
			fields["line_id"] = e.LineID
		}
		if e.ProductID != "" {
			fields["product_id"] = string(e.ProductID)
		}
		if e.LocationID != "" {
			fields["location_id"] = string(e.LocationID)
		}
		if e.Quantity != nil {
			fields["quantity"] = e.Quantity.String()
		}
		if e.Status != "" {
			fields["status"] = e.Status
		}
		l.logger.WithFields(fields).Info("timeline event")
	}
	return nil
}

// Fanout publishes to every sink and joins their errors.
type Fanout []inventory.Notifier

func (f Fanout) Publish(ctx context.Context, events []inventory.Event) error {
	var errs []error
	for _, n := range f {
		if err := n.Publish(ctx, events); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recorder keeps published events in memory. Used by tests and the demo
// scenarios.
type Recorder struct {
	mu     sync.Mutex
	Events []inventory.Event
}

func (r *Recorder) Publish(_ context.Context, events []inventory.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Events = append(r.Events, events...)
	return nil
}

// Types lists recorded event types in order.
func (r *Recorder) Types() []inventory.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	types := make([]inventory.EventType, len(r.Events))
	for i, e := range r.Events {
		types[i] = e.Type
	}
	return types
}
