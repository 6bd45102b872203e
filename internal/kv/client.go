// Package kv wraps an external key-value + pub/sub server (Redis) with the
// primitives the runtime needs: GET/SET with TTL, DEL, hash ops, list push,
// blocking pop, publish, and pattern-subscribe. It keeps two connections —
// one for commands, one dedicated to blocking subscribe — and fails fast
// through a circuit breaker during outages.
package kv

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nexus-core/agentruntime/internal/backoff"
	"github.com/nexus-core/agentruntime/internal/circuit"
	"github.com/nexus-core/agentruntime/internal/models"
)

// Options configures the Client.
type Options struct {
	Addr         string
	Password     string
	DB           int
	Logger       *slog.Logger
	Breaker      *circuit.Breaker
	WriteBufCap  int // bounded in-memory queue depth for degraded writes
}

// Client is the runtime's KV + pub/sub handle.
type Client struct {
	cmd     redis.UniversalClient
	sub     redis.UniversalClient
	logger  *slog.Logger
	breaker *circuit.Breaker

	mu      sync.Mutex
	writeQ  []bufferedWrite
	writeQN int
}

type bufferedWrite struct {
	run func(ctx context.Context, c redis.UniversalClient) error
}

// New creates a Client against a single Redis address (or cluster-capable
// address list via redis.UniversalOptions semantics callers can extend).
func New(opts Options) *Client {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Breaker == nil {
		opts.Breaker = circuit.New("kv", circuit.Config{}, opts.Logger)
	}
	if opts.WriteBufCap <= 0 {
		opts.WriteBufCap = 1000
	}

	mk := func() redis.UniversalClient {
		return redis.NewClient(&redis.Options{
			Addr:     opts.Addr,
			Password: opts.Password,
			DB:       opts.DB,
		})
	}

	return &Client{
		cmd:     mk(),
		sub:     mk(),
		logger:  opts.Logger,
		breaker: opts.Breaker,
		writeQ:  make([]bufferedWrite, 0, opts.WriteBufCap),
		writeQN: opts.WriteBufCap,
	}
}

// Close releases both underlying connections.
func (c *Client) Close() error {
	err1 := c.cmd.Close()
	err2 := c.sub.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

func (c *Client) guarded(ctx context.Context, fn func(ctx context.Context) error) error {
	if !c.breaker.IsCallPermitted() {
		return models.NewError(models.KindStorageUnavailable, "kv store unavailable", models.ErrUpstreamUnavailable)
	}
	err := fn(ctx)
	if err != nil && err != redis.Nil {
		c.breaker.RecordFailure()
		return err
	}
	c.breaker.RecordSuccess()
	return err
}

// Get reads a key. A missing key returns ("", nil) for read paths; a
// StorageUnavailable error degrades reads to an empty observation rather
// than a hard failure further up the call stack.
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	var val string
	err := c.guarded(ctx, func(ctx context.Context) error {
		v, err := c.cmd.Get(ctx, key).Result()
		if err == redis.Nil {
			return nil
		}
		val = v
		return err
	})
	return val, err
}

// Set writes a key with an optional TTL (ttl<=0 means no expiry).
func (c *Client) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return c.guarded(ctx, func(ctx context.Context) error {
		return c.cmd.Set(ctx, key, value, ttl).Err()
	})
}

// SetNX sets key only if absent, used for advisory locks with a lease TTL.
func (c *Client) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	var ok bool
	err := c.guarded(ctx, func(ctx context.Context) error {
		v, err := c.cmd.SetNX(ctx, key, value, ttl).Result()
		ok = v
		return err
	})
	return ok, err
}

// Del removes one or more keys.
func (c *Client) Del(ctx context.Context, keys ...string) error {
	return c.guarded(ctx, func(ctx context.Context) error {
		return c.cmd.Del(ctx, keys...).Err()
	})
}

// HSet sets hash fields.
func (c *Client) HSet(ctx context.Context, key string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	args := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return c.guarded(ctx, func(ctx context.Context) error {
		return c.cmd.HSet(ctx, key, args...).Err()
	})
}

// HGet reads a single hash field.
func (c *Client) HGet(ctx context.Context, key, field string) (string, error) {
	var val string
	err := c.guarded(ctx, func(ctx context.Context) error {
		v, err := c.cmd.HGet(ctx, key, field).Result()
		if err == redis.Nil {
			return nil
		}
		val = v
		return err
	})
	return val, err
}

// HGetAll reads every field of a hash.
func (c *Client) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	var val map[string]string
	err := c.guarded(ctx, func(ctx context.Context) error {
		v, err := c.cmd.HGetAll(ctx, key).Result()
		val = v
		return err
	})
	if val == nil {
		val = map[string]string{}
	}
	return val, err
}

// SAdd adds members to a set (used for the sub-agent/schedule index sets).
func (c *Client) SAdd(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	vals := make([]any, len(members))
	for i, m := range members {
		vals[i] = m
	}
	return c.guarded(ctx, func(ctx context.Context) error {
		return c.cmd.SAdd(ctx, key, vals...).Err()
	})
}

// SRem removes members from a set.
func (c *Client) SRem(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	vals := make([]any, len(members))
	for i, m := range members {
		vals[i] = m
	}
	return c.guarded(ctx, func(ctx context.Context) error {
		return c.cmd.SRem(ctx, key, vals...).Err()
	})
}

// SMembers lists set members.
func (c *Client) SMembers(ctx context.Context, key string) ([]string, error) {
	var val []string
	err := c.guarded(ctx, func(ctx context.Context) error {
		v, err := c.cmd.SMembers(ctx, key).Result()
		val = v
		return err
	})
	return val, err
}

// LPush pushes a value onto the head of a list.
func (c *Client) LPush(ctx context.Context, key, value string) error {
	return c.guarded(ctx, func(ctx context.Context) error {
		return c.cmd.LPush(ctx, key, value).Err()
	})
}

// BRPop blocks up to timeout waiting for a value on any of keys, returning
// the key that produced it and the value. A timeout with no value returns
// ("", "", nil) so callers can loop without treating it as an error.
func (c *Client) BRPop(ctx context.Context, timeout time.Duration, keys ...string) (key, value string, err error) {
	err = c.guarded(ctx, func(ctx context.Context) error {
		res, e := c.cmd.BRPop(ctx, timeout, keys...).Result()
		if e == redis.Nil {
			return nil
		}
		if e != nil {
			return e
		}
		if len(res) == 2 {
			key, value = res[0], res[1]
		}
		return nil
	})
	return key, value, err
}

// Publish fire-and-forgets a message on channel. Failures are logged,
// never returned to the caller — notification delivery is best-effort.
func (c *Client) Publish(ctx context.Context, channel, payload string) {
	err := c.guarded(ctx, func(ctx context.Context) error {
		return c.cmd.Publish(ctx, channel, payload).Err()
	})
	if err != nil {
		c.logger.Warn("kv publish failed", "channel", channel, "error", err)
	}
}

// PSubscribe pattern-subscribes on the dedicated subscribe connection and
// returns the underlying redis.PubSub for the caller to range over.
func (c *Client) PSubscribe(ctx context.Context, patterns ...string) *redis.PubSub {
	return c.sub.PSubscribe(ctx, patterns...)
}

// QueueWrite buffers a write to retry once the breaker closes, bounded by
// WriteBufCap; oldest entries are dropped once full. Used for writes the
// loop must not block on (e.g. tool-result persistence) during an outage.
func (c *Client) QueueWrite(run func(ctx context.Context, cmd redis.UniversalClient) error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.writeQ) >= c.writeQN {
		c.writeQ = c.writeQ[1:]
	}
	c.writeQ = append(c.writeQ, bufferedWrite{run: run})
}

// FlushBuffered drains the buffered write queue, stopping at the first
// failure (left requeued) so a reconnect storm doesn't lose ordering.
func (c *Client) FlushBuffered(ctx context.Context) {
	c.mu.Lock()
	pending := c.writeQ
	c.writeQ = nil
	c.mu.Unlock()

	for i, w := range pending {
		if err := w.run(ctx, c.cmd); err != nil {
			c.logger.Warn("buffered kv write failed, re-queuing remainder", "error", err)
			c.mu.Lock()
			c.writeQ = append(pending[i:], c.writeQ...)
			c.mu.Unlock()
			return
		}
	}
}

// ReconnectLoop watches the breaker and flushes buffered writes once it
// returns to Closed, backing off per the storage profile between checks.
func (c *Client) ReconnectLoop(ctx context.Context) {
	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}
		if c.breaker.State() == circuit.Closed {
			c.FlushBuffered(ctx)
			attempt = 0
		}
		attempt++
		if err := backoff.SleepWithBackoff(ctx, backoff.Storage, attempt); err != nil {
			return
		}
	}
}
