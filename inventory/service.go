/*
service.go - Command entry point for the inventory engine

PURPOSE:
  Service runs every command as one database transaction:

    read -> decide -> append ledger entries -> update line counters
         -> re-resolve order status -> record idempotency result

  and publishes timeline events only after the transaction commits.

IDEMPOTENCY:
  Each command takes an optional idempotency key. With a key:
  1. The replay cache (Redis) is consulted first, no locks taken
  2. A cross-process guard serializes work on the key
  3. Inside the transaction the operations table is checked; a hit
     replays the stored result without running business logic
  4. Entries written by the command get derived keys "<key>#<n>", so a
     racing duplicate fails on the ledger's unique index and replays
  Reusing a key for a different command is ErrInvalidArgument.

OBSERVABILITY:
  Every command opens an OpenTelemetry span and logs through logrus.
  Invariant violations are logged at error level for operator attention.

SEE ALSO:
  - allocation.go, fulfillment.go, shipment.go, stock.go: Command bodies
  - status.go: Status resolver applied after each command
*/
package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/warp/inventory-engine/ledger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/warp/inventory-engine/inventory"

// =============================================================================
// SERVICE
// =============================================================================

type Service struct {
	store    Store
	ledger   ledger.Ledger
	cache    ReplayCache
	guard    KeyGuard
	notifier Notifier
	logger   *logrus.Logger
	tracer   trace.Tracer
	now      func() time.Time
	newID    func() string
}

type Option func(*Service)

func WithLedger(l ledger.Ledger) Option {
	return func(s *Service) { s.ledger = l }
}

func WithReplayCache(c ReplayCache) Option {
	return func(s *Service) { s.cache = c }
}

func WithKeyGuard(g KeyGuard) Option {
	return func(s *Service) { s.guard = g }
}

func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

func WithLogger(l *logrus.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Service) { s.tracer = t }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDs overrides id generation for orders, lines and fulfillments.
func WithIDs(next func() string) Option {
	return func(s *Service) { s.newID = next }
}

func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:    store,
		ledger:   ledger.New(),
		notifier: nopNotifier{},
		tracer:   otel.Tracer(tracerName),
		now:      func() time.Time { return time.Now().UTC() },
		newID:    newID,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logrus.New()
		s.logger.SetOutput(io.Discard)
	}
	return s
}

func (s *Service) Store() Store {
	return s.store
}

// =============================================================================
// COMMAND RUNNER
// =============================================================================

// writer is handed to command bodies. It appends entries under derived
// idempotency keys and collects events for post-commit publication.
type writer struct {
	tx     Tx
	ledger ledger.Ledger
	key    string
	seq    int
	now    time.Time
	newID  func() string
	events []Event
	log    *logrus.Entry
}

func (w *writer) append(ctx context.Context, e ledger.Entry) error {
	if w.key != "" {
		w.seq++
		e.IdempotencyKey = fmt.Sprintf("%s#%d", w.key, w.seq)
	}
	e.CreatedAt = w.now
	_, err := w.ledger.Append(ctx, w.tx, e)
	return err
}

func (w *writer) emit(e Event) {
	e.At = w.now
	w.events = append(w.events, e)
}

func run[T any](ctx context.Context, s *Service, name, key string, fn func(ctx context.Context, w *writer) (T, error)) (T, error) {
	ctx, span := s.tracer.Start(ctx, "inventory."+name,
		trace.WithAttributes(attribute.String("inventory.idempotency_key", key)))
	defer span.End()

	log := s.logger.WithFields(logrus.Fields{"module": "inventory", "op": name})
	if key != "" {
		log = log.WithField("idempotency_key", key)
	}

	var zero T
	if key != "" && s.cache != nil {
		op, err := s.cache.Get(ctx, key)
		if err != nil {
			log.WithError(err).Warn("replay cache lookup failed")
		} else if op != nil {
			result, err := replay[T](op, name, key)
			if err == nil {
				log.Info("replayed from cache")
			}
			return result, err
		}
	}

	if key != "" && s.guard != nil {
		release, err := s.guard.Acquire(ctx, key)
		if err != nil {
			return zero, err
		}
		defer release()
	}

	var (
		result   T
		events   []Event
		replayed bool
		stored   *Operation
	)
	now := s.now()
	err := s.store.WithTx(ctx, func(tx Tx) error {
		events, replayed, stored = nil, false, nil
		if key != "" {
			op, err := tx.Operation(ctx, key)
			if err != nil {
				return err
			}
			if op != nil {
				r, err := replay[T](op, name, key)
				if err != nil {
					return err
				}
				result, replayed = r, true
				return nil
			}
		}

		w := &writer{tx: tx, ledger: s.ledger, key: key, now: now, newID: s.newID, log: log}
		r, err := fn(ctx, w)
		if err != nil {
			return err
		}
		result, events = r, w.events

		if key != "" {
			raw, err := json.Marshal(r)
			if err != nil {
				return err
			}
			op := Operation{Key: key, Name: name, Result: raw, CreatedAt: now}
			if err := tx.SaveOperation(ctx, op); err != nil {
				return err
			}
			stored = &op
		}
		return nil
	})

	if err != nil && key != "" && errors.Is(err, ledger.ErrDuplicateOperation) {
		// Lost a race with a concurrent request carrying the same key.
		if op, lookupErr := s.store.Operation(ctx, key); lookupErr == nil && op != nil {
			result, err = replay[T](op, name, key)
			replayed = err == nil
		}
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		entry := log.WithError(err)
		switch {
		case errors.Is(err, ledger.ErrInvariantViolation):
			entry.WithField("operator_attention", true).Error("ledger invariant violation, transaction rolled back")
		case ledger.IsClientError(err), ledger.IsNotFound(err):
			entry.Debug("command rejected")
		default:
			entry.Error("command failed")
		}
		return zero, err
	}

	if replayed {
		log.Info("replayed stored result")
		return result, nil
	}

	if stored != nil && s.cache != nil {
		if err := s.cache.Put(ctx, *stored); err != nil {
			log.WithError(err).Warn("replay cache write failed")
		}
	}
	if len(events) > 0 {
		if err := s.notifier.Publish(ctx, events); err != nil {
			log.WithError(err).Warn("timeline publish failed")
		}
	}
	log.WithField("events", len(events)).Debug("command committed")
	return result, nil
}

func replay[T any](op *Operation, name, key string) (T, error) {
	var result T
	if op.Name != name {
		return result, ledger.InvalidArgument("idempotency key %q already used for %s", key, op.Name)
	}
	if err := json.Unmarshal(op.Result, &result); err != nil {
		return result, fmt.Errorf("decode stored result for %q: %w", key, err)
	}
	return result, nil
}

// none is the result type of commands that only report success.
type none struct{}
