// Package cache keeps recent aggregate analytics results in Redis and
// collapses concurrent identical loads into one upstream fan-out.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/pabbly/hookdash/internal/analytics"
	"github.com/pabbly/hookdash/pkg/logger"
	"github.com/pabbly/hookdash/pkg/metrics"
	pkgredis "github.com/pabbly/hookdash/pkg/redis"
)

const keyPrefix = "analytics:"

// Store is the key-value backend. *pkgredis.Client implements it; Get must
// return pkgredis.ErrMiss for an absent key.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	DeletePattern(ctx context.Context, pattern string) (int64, error)
}

// DefaultLoadTimeout bounds a shared load once it no longer follows any
// single caller's context.
const DefaultLoadTimeout = time.Minute

// Cache stores successful results only. A failed load is never cached, so
// the next request tries the analytics service again. Entries and shared
// loads are scoped to the caller's token: a result fetched with one token is
// never handed to a caller presenting another.
type Cache struct {
	store       Store
	ttl         time.Duration
	loadTimeout time.Duration
	group       singleflight.Group
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

type Option func(*Cache)

// WithLoadTimeout bounds each shared load. Zero or less keeps the default.
func WithLoadTimeout(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.loadTimeout = d
		}
	}
}

// New creates a Cache. A nil store disables caching but concurrent identical
// loads from the same caller are still shared.
func New(store Store, ttl time.Duration, m *metrics.Metrics, opts ...Option) *Cache {
	if ttl <= 0 {
		ttl = time.Minute
	}
	c := &Cache{
		store:       store,
		ttl:         ttl,
		loadTimeout: DefaultLoadTimeout,
		metrics:     m,
		logger:      logger.WithComponent("analytics-cache"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Enabled reports whether results are stored between requests.
func (c *Cache) Enabled() bool {
	return c.store != nil
}

// Get returns the result cached for f under token.
func (c *Cache) Get(ctx context.Context, f analytics.Filters, token string) (*analytics.Result, bool) {
	if c.store == nil {
		return nil, false
	}
	key := Key(f, token)
	data, err := c.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, pkgredis.ErrMiss) {
			c.logger.Error("cache get failed", "key", key, "error", err)
		}
		c.miss()
		return nil, false
	}
	var res analytics.Result
	if err := json.Unmarshal(data, &res); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		c.miss()
		return nil, false
	}
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.Inc()
	}
	return &res, true
}

// Set stores res for f under token.
func (c *Cache) Set(ctx context.Context, f analytics.Filters, token string, res *analytics.Result) {
	if c.store == nil || res == nil {
		return
	}
	key := Key(f, token)
	data, err := json.Marshal(res)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	if err := c.store.Set(ctx, key, data, c.ttl); err != nil {
		c.logger.Error("cache set failed", "key", key, "error", err)
	}
}

// GetOrCompute returns the result cached for f and token, or runs compute
// once for all concurrent callers presenting the same filters and token.
// cached reports a cache hit.
//
// The shared load keeps ctx's values but not its cancellation, so one caller
// going away does not fail the others; each caller stops waiting when its
// own ctx ends.
func (c *Cache) GetOrCompute(
	ctx context.Context,
	f analytics.Filters,
	token string,
	compute func(ctx context.Context) (*analytics.Result, error),
) (res *analytics.Result, cached bool, err error) {
	if res, ok := c.Get(ctx, f, token); ok {
		return res, true, nil
	}
	ch := c.group.DoChan(Key(f, token), func() (any, error) {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.loadTimeout)
		defer cancel()
		if res, ok := c.Get(lctx, f, token); ok {
			return res, nil
		}
		res, err := compute(lctx)
		if err != nil {
			return nil, err
		}
		c.Set(lctx, f, token, res)
		return res, nil
	})
	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, false, r.Err
		}
		return r.Val.(*analytics.Result), false, nil
	}
}

// Invalidate drops every cached result.
func (c *Cache) Invalidate(ctx context.Context) (int64, error) {
	if c.store == nil {
		return 0, nil
	}
	deleted, err := c.store.DeletePattern(ctx, keyPrefix+"*")
	if err != nil {
		return deleted, fmt.Errorf("invalidating analytics cache: %w", err)
	}
	c.logger.Info("analytics cache invalidated", "keys_deleted", deleted)
	return deleted, nil
}

// Key derives the cache key from the caller's token and the query string
// the filters produce. Filters that send the same request with the same
// token share an entry. The token only enters the key hashed.
func Key(f analytics.Filters, token string) string {
	h := sha256.New()
	h.Write([]byte(token))
	h.Write([]byte{0})
	h.Write([]byte(analytics.BuildQueryString(f)))
	return fmt.Sprintf("%s%x", keyPrefix, h.Sum(nil)[:16])
}

func (c *Cache) miss() {
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.Inc()
	}
}
