package engine

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/YoshitsuguKoike/deeflow/internal/app"
	"github.com/YoshitsuguKoike/deeflow/internal/domain/model/cache"
	"github.com/YoshitsuguKoike/deeflow/internal/domain/model/node"
	"github.com/YoshitsuguKoike/deeflow/internal/domain/repository"
)

// ConditionEvaluator is the uncached condition check
type ConditionEvaluator interface {
	Evaluate(ctx context.Context, cond node.Descriptor, snapshot map[string]string) (bool, error)
}

// CacheStats counts lookups served from the store and evaluator invocations
type CacheStats struct {
	Hits   int64
	Misses int64
}

// ConditionCache memoizes condition results per evaluation site for a TTL.
//
// Lookups take the most recently appended entry for (cacheKey, conditionKey);
// a hit requires now < expiresAt. Concurrent misses on the same key share
// one evaluation.
type ConditionCache struct {
	evaluator ConditionEvaluator
	store     repository.ConditionCacheRepository
	ttl       int64
	now       func() time.Time

	group  singleflight.Group
	hits   atomic.Int64
	misses atomic.Int64
}

// CacheOption configures a ConditionCache
type CacheOption func(*ConditionCache)

// WithTTL sets the entry lifetime in seconds; non-positive values keep the default
func WithTTL(seconds int) CacheOption {
	return func(c *ConditionCache) {
		if seconds > 0 {
			c.ttl = int64(seconds)
		}
	}
}

// WithCacheClock replaces the wall clock
func WithCacheClock(now func() time.Time) CacheOption {
	return func(c *ConditionCache) { c.now = now }
}

// NewConditionCache creates a cache in front of evaluator
func NewConditionCache(evaluator ConditionEvaluator, store repository.ConditionCacheRepository, opts ...CacheOption) *ConditionCache {
	c := &ConditionCache{
		evaluator: evaluator,
		store:     store,
		ttl:       cache.DefaultTTLSeconds,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Evaluate returns the condition result for the evaluation site cacheKey.
// An empty cacheKey bypasses the cache.
func (c *ConditionCache) Evaluate(ctx context.Context, cond node.Descriptor, cacheKey string, snapshot map[string]string) (bool, error) {
	if cacheKey == "" {
		c.misses.Add(1)
		return c.evaluator.Evaluate(ctx, cond, snapshot)
	}

	key := cache.Key{NodeID: cacheKey, ConditionKey: ConditionKey(cond, snapshot)}
	entry, ok, err := c.store.Latest(ctx, key)
	if err != nil {
		return false, fmt.Errorf("condition cache lookup %s: %w", cacheKey, err)
	}
	if ok && entry.UsableAt(c.now()) {
		c.hits.Add(1)
		app.GetLogger().Debug("condition cache hit node=%s cond=%s result=%t", cacheKey, cond, entry.Result)
		return entry.Result, nil
	}

	v, err, _ := c.group.Do(key.NodeID+"\x00"+key.ConditionKey, func() (interface{}, error) {
		// a flight that finished after our lookup may have filled the entry
		if entry, ok, err := c.store.Latest(ctx, key); err == nil && ok && entry.UsableAt(c.now()) {
			c.hits.Add(1)
			return entry.Result, nil
		}
		c.misses.Add(1)
		result, err := c.evaluator.Evaluate(ctx, cond, snapshot)
		if err != nil {
			return false, err
		}
		fresh := cache.NewEntry(key.NodeID, key.ConditionKey, result, c.now(), c.ttl)
		if err := c.store.Append(ctx, fresh); err != nil {
			return false, fmt.Errorf("condition cache append %s: %w", cacheKey, err)
		}
		return result, nil
	})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

// Stats returns hit and miss counters
func (c *ConditionCache) Stats() CacheStats {
	return CacheStats{Hits: c.hits.Load(), Misses: c.misses.Load()}
}

// ConditionKey identifies a condition within an evaluation site. Memory
// checks include the value they read, so a changed value is a new key;
// external signals are keyed by the descriptor alone.
func ConditionKey(cond node.Descriptor, snapshot map[string]string) string {
	if cond.Type != node.ConditionMemoryCheck {
		return cond.Fingerprint()
	}
	v, ok := snapshot[cond.Key]
	if !ok {
		return node.FingerprintOf(cond.Fingerprint(), "absent")
	}
	return node.FingerprintOf(cond.Fingerprint(), "value", v)
}
