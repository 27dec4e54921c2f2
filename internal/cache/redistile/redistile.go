// Package redistile is the shared remote cache for composited tiles. Every
// write is also recorded in a per-layer index set so that an invalidation
// event can purge a whole layer without scanning the keyspace.
package redistile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	maintnotifications "github.com/redis/go-redis/v9/maintnotifications"

	"github.com/tylerbrawl/rocky/internal/cache/keys"
	"github.com/tylerbrawl/rocky/internal/observability"
	"github.com/tylerbrawl/rocky/internal/tiling"
)

type Option func(*redis.Options)

func WithPoolSize(n int) Option {
	return func(o *redis.Options) { o.PoolSize = n }
}

func WithMinIdleConns(n int) Option {
	return func(o *redis.Options) { o.MinIdleConns = n }
}

func WithDialTimeout(d time.Duration) Option {
	return func(o *redis.Options) { o.DialTimeout = d }
}

func WithReadTimeout(d time.Duration) Option {
	return func(o *redis.Options) { o.ReadTimeout = d }
}

func WithWriteTimeout(d time.Duration) Option {
	return func(o *redis.Options) { o.WriteTimeout = d }
}

type Client struct {
	rdb *redis.Client
	ttl time.Duration
}

func New(ctx context.Context, addr string, ttl time.Duration, opts ...Option) (*Client, error) {
	if addr == "" {
		return nil, errors.New("redis address is required")
	}

	ro := &redis.Options{
		Addr:         addr,
		PoolSize:     64,
		MinIdleConns: 4,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
		MaintNotificationsConfig: &maintnotifications.Config{
			Mode: maintnotifications.ModeDisabled,
		},
	}
	for _, f := range opts {
		f(ro)
	}

	rdb := redis.NewClient(ro)

	start := time.Now()
	err := rdb.Ping(ctx).Err()
	observability.ObserveCacheOp("ping", err, time.Since(start).Seconds())
	if err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{rdb: rdb, ttl: ttl}, nil
}

// GetTile fetches one cached tile payload. A miss returns (nil, nil).
func (c *Client) GetTile(ctx context.Context, layer string, key tiling.TileKey) ([]byte, error) {
	k := keys.Tile(layer, key)
	start := time.Now()
	raw, err := c.rdb.Get(ctx, k).Bytes()
	if errors.Is(err, redis.Nil) {
		observability.ObserveCacheOp("get", nil, time.Since(start).Seconds())
		observability.IncCacheMiss("redis")
		return nil, nil
	}
	observability.ObserveCacheOp("get", err, time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("redis GET %q: %w", k, err)
	}
	observability.IncCacheHit("redis")
	return raw, nil
}

// PutTile stores one tile payload and records its key in the layer index so
// InvalidateLayer can find it later. Both writes ride one pipeline.
func (c *Client) PutTile(ctx context.Context, layer string, key tiling.TileKey, payload []byte) error {
	k := keys.Tile(layer, key)
	idx := keys.LayerIndex(layer)
	start := time.Now()
	_, err := c.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, k, payload, c.ttl)
		p.SAdd(ctx, idx, k)
		// the index must not outlive its newest member by much
		p.Expire(ctx, idx, c.ttl+time.Minute)
		return nil
	})
	observability.ObserveCacheOp("put", err, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("redis SET %q: %w", k, err)
	}
	return nil
}

// InvalidateLayer deletes every cached tile recorded for the layer along with
// the index set itself. Returns the number of tile keys removed.
func (c *Client) InvalidateLayer(ctx context.Context, layer string) (int, error) {
	idx := keys.LayerIndex(layer)
	start := time.Now()
	members, err := c.rdb.SMembers(ctx, idx).Result()
	if err != nil {
		observability.ObserveCacheOp("invalidate", err, time.Since(start).Seconds())
		return 0, fmt.Errorf("redis SMEMBERS %q: %w", idx, err)
	}
	_, err = c.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		const batch = 512
		for i := 0; i < len(members); i += batch {
			end := min(i+batch, len(members))
			p.Del(ctx, members[i:end]...)
		}
		p.Del(ctx, idx)
		return nil
	})
	observability.ObserveCacheOp("invalidate", err, time.Since(start).Seconds())
	if err != nil {
		return 0, fmt.Errorf("redis DEL layer %q: %w", layer, err)
	}
	return len(members), nil
}

func (c *Client) Close() error {
	if err := c.rdb.Close(); err != nil {
		return fmt.Errorf("redis close: %w", err)
	}
	return nil
}
