/*
rediscache.go - Redis helpers for the inventory service

PURPOSE:
  Three small adapters over one go-redis client:
    Cache     - inventory.ReplayCache, committed operation results keyed
                by idempotency key, expiring after a TTL
    Guard     - inventory.KeyGuard, a redislock lease per idempotency key so
                two processes never run the same command body at once
    Publisher - inventory.Notifier, PUBLISHes committed events as JSON on a
                channel for timeline consumers

  All three are optional. The operations table stays the source of truth:
  a cache miss or a lost lease only costs a trip to the database.

SEE ALSO:
  - inventory/service.go: where the cache and guard sit in the command path
  - notify: log and fan-out notifiers
*/
package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"github.com/warp/inventory-engine/inventory"
	"github.com/warp/inventory-engine/ledger"
)

const (
	operationPrefix = "inventory:op:"
	lockPrefix      = "inventory:lock:"
)

// Options configures the shared client.
type Options struct {
	Addr     string
	Password string
	DB       int
}

// NewClient connects and pings.
func NewClient(ctx context.Context, opts Options) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
		PoolSize: 100,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect redis at %s: %w", opts.Addr, err)
	}
	return rdb, nil
}

// =============================================================================
// REPLAY CACHE
// =============================================================================

// Cache implements inventory.ReplayCache.
type Cache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewCache returns a cache whose entries live for ttl (0 keeps them forever).
func NewCache(rdb *redis.Client, ttl time.Duration) *Cache {
	return &Cache{rdb: rdb, ttl: ttl}
}

func (c *Cache) Get(ctx context.Context, key string) (*inventory.Operation, error) {
	val, err := c.rdb.Get(ctx, operationPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var op inventory.Operation
	if err := json.Unmarshal(val, &op); err != nil {
		return nil, fmt.Errorf("corrupt cached operation %s: %w", key, err)
	}
	return &op, nil
}

func (c *Cache) Put(ctx context.Context, op inventory.Operation) error {
	b, err := json.Marshal(op)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, operationPrefix+op.Key, b, c.ttl).Err()
}

// =============================================================================
// KEY GUARD
// =============================================================================

// Guard implements inventory.KeyGuard with redislock.
type Guard struct {
	locker *redislock.Client
	ttl    time.Duration
	retry  redislock.RetryStrategy
}

// NewGuard leases each key for ttl, retrying every 50ms until ctx ends.
func NewGuard(rdb *redis.Client, ttl time.Duration) *Guard {
	return &Guard{
		locker: redislock.New(rdb),
		ttl:    ttl,
		retry:  redislock.LinearBackoff(50 * time.Millisecond),
	}
}

// Acquire blocks until the lease is held or ctx is done.
func (g *Guard) Acquire(ctx context.Context, key string) (func(), error) {
	lock, err := g.locker.Obtain(ctx, lockPrefix+key, g.ttl, &redislock.Options{RetryStrategy: g.retry})
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, fmt.Errorf("idempotency key %q is in flight: %w", key, ledger.ErrDuplicateOperation)
	}
	if err != nil {
		return nil, err
	}
	return func() {
		// Releasing an expired lease returns ErrLockNotHeld; nothing to undo.
		_ = lock.Release(context.Background())
	}, nil
}

// =============================================================================
// PUBLISHER
// =============================================================================

// Publisher implements inventory.Notifier over Redis pub/sub.
type Publisher struct {
	rdb     *redis.Client
	channel string
}

func NewPublisher(rdb *redis.Client, channel string) *Publisher {
	return &Publisher{rdb: rdb, channel: channel}
}

func (p *Publisher) Publish(ctx context.Context, events []inventory.Event) error {
	if len(events) == 0 {
		return nil
	}
	pipe := p.rdb.Pipeline()
	for _, e := range events {
		b, err := json.Marshal(e)
		if err != nil {
			return err
		}
		pipe.Publish(ctx, p.channel, b)
	}
	_, err := pipe.Exec(ctx)
	return err
}
