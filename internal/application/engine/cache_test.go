package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YoshitsuguKoike/deeflow/internal/application/engine"
	"github.com/YoshitsuguKoike/deeflow/internal/domain/model/cache"
	"github.com/YoshitsuguKoike/deeflow/internal/domain/model/node"
	"github.com/YoshitsuguKoike/deeflow/internal/infra/persistence/inmem"
)

type stubEvaluator struct {
	mu     sync.Mutex
	calls  int
	result bool
	err    error
	gate   chan struct{}
}

func (e *stubEvaluator) Evaluate(ctx context.Context, cond node.Descriptor, snapshot map[string]string) (bool, error) {
	if e.gate != nil {
		<-e.gate
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	return e.result, e.err
}

func (e *stubEvaluator) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

var suiteGreen = node.Descriptor{Type: node.ConditionTestResult, Key: "suite", Expected: "passed"}

func TestConditionCache_TTLWindow(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	ev := &stubEvaluator{result: true}
	c := engine.NewConditionCache(ev, inmem.NewConditionCache(), engine.WithTTL(5), engine.WithCacheClock(clock.Now))

	got, err := c.Evaluate(ctx, suiteGreen, "k1", nil)
	require.NoError(t, err)
	assert.True(t, got)
	assert.Equal(t, 1, ev.Calls(), "t=0 is a miss")

	clock.Advance(3 * time.Second)
	got, err = c.Evaluate(ctx, suiteGreen, "k1", nil)
	require.NoError(t, err)
	assert.True(t, got)
	assert.Equal(t, 1, ev.Calls(), "t=3 is a hit")

	clock.Advance(3 * time.Second)
	_, err = c.Evaluate(ctx, suiteGreen, "k1", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, ev.Calls(), "t=6 is past the ttl")

	assert.Equal(t, engine.CacheStats{Hits: 1, Misses: 2}, c.Stats())
}

func TestConditionCache_ExpiryIsExclusive(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	ev := &stubEvaluator{result: true}
	c := engine.NewConditionCache(ev, inmem.NewConditionCache(), engine.WithTTL(5), engine.WithCacheClock(clock.Now))

	_, err := c.Evaluate(ctx, suiteGreen, "k1", nil)
	require.NoError(t, err)
	clock.Advance(5 * time.Second)
	_, err = c.Evaluate(ctx, suiteGreen, "k1", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, ev.Calls())
}

func TestConditionCache_HitReturnsCachedValueEvenIfSignalChanged(t *testing.T) {
	ctx := context.Background()
	ev := &stubEvaluator{result: true}
	c := engine.NewConditionCache(ev, inmem.NewConditionCache())

	first, err := c.Evaluate(ctx, suiteGreen, "k", nil)
	require.NoError(t, err)
	ev.result = false
	second, err := c.Evaluate(ctx, suiteGreen, "k", nil)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, ev.Calls())
}

func TestConditionCache_NoKeyNeverCaches(t *testing.T) {
	ctx := context.Background()
	ev := &stubEvaluator{result: true}
	store := inmem.NewConditionCache()
	c := engine.NewConditionCache(ev, store)

	for i := 0; i < 3; i++ {
		_, err := c.Evaluate(ctx, suiteGreen, "", nil)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, ev.Calls())
	assert.Zero(t, store.Len())
}

func TestConditionCache_SitesAreIndependent(t *testing.T) {
	ctx := context.Background()
	ev := &stubEvaluator{result: true}
	c := engine.NewConditionCache(ev, inmem.NewConditionCache())

	_, _ = c.Evaluate(ctx, suiteGreen, "loop-a", nil)
	_, _ = c.Evaluate(ctx, suiteGreen, "loop-b", nil)
	_, _ = c.Evaluate(ctx, suiteGreen, "loop-a", nil)
	assert.Equal(t, 2, ev.Calls())
}

func TestConditionCache_LatestAppendedEntryWins(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store := inmem.NewConditionCache()
	key := cache.Key{NodeID: "k", ConditionKey: suiteGreen.Fingerprint()}

	// older entry with a long ttl, newer entry already expired
	require.NoError(t, store.Append(ctx, cache.NewEntry(key.NodeID, key.ConditionKey, true, clock.Now(), 600)))
	require.NoError(t, store.Append(ctx, cache.NewEntry(key.NodeID, key.ConditionKey, true, clock.Now().Add(-time.Hour), 1)))

	ev := &stubEvaluator{result: false}
	c := engine.NewConditionCache(ev, store, engine.WithCacheClock(clock.Now))
	got, err := c.Evaluate(ctx, suiteGreen, "k", nil)
	require.NoError(t, err)
	assert.False(t, got)
	assert.Equal(t, 1, ev.Calls())
}

func TestConditionCache_MemoryValueIsPartOfTheKey(t *testing.T) {
	ctx := context.Background()
	ev := &countingEvaluator{inner: newRealEvaluator()}
	c := engine.NewConditionCache(ev, inmem.NewConditionCache())
	cond := *memEquals("status", "passing")

	got, err := c.Evaluate(ctx, cond, "loop", map[string]string{"status": "failing"})
	require.NoError(t, err)
	assert.False(t, got)

	got, err = c.Evaluate(ctx, cond, "loop", map[string]string{"status": "passing"})
	require.NoError(t, err)
	assert.True(t, got)

	got, err = c.Evaluate(ctx, cond, "loop", map[string]string{"status": "failing"})
	require.NoError(t, err)
	assert.False(t, got)
	assert.Equal(t, 2, ev.Calls())
}

func TestConditionCache_ErrorsAreNotCached(t *testing.T) {
	ctx := context.Background()
	ev := &stubEvaluator{err: errors.New("provider down")}
	store := inmem.NewConditionCache()
	c := engine.NewConditionCache(ev, store)

	_, err := c.Evaluate(ctx, suiteGreen, "k", nil)
	require.Error(t, err)
	assert.Zero(t, store.Len())

	ev.err = nil
	ev.result = true
	got, err := c.Evaluate(ctx, suiteGreen, "k", nil)
	require.NoError(t, err)
	assert.True(t, got)
}

func TestConditionCache_ConcurrentMissesEvaluateOnce(t *testing.T) {
	ctx := context.Background()
	ev := &stubEvaluator{result: true, gate: make(chan struct{})}
	c := engine.NewConditionCache(ev, inmem.NewConditionCache())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := c.Evaluate(ctx, suiteGreen, "shared", nil)
			assert.NoError(t, err)
			assert.True(t, got)
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(ev.gate)
	wg.Wait()

	assert.Equal(t, 1, ev.Calls())
	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Misses)
}
