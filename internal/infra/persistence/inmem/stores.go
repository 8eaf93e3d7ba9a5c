// Package inmem provides process-local implementations of the engine stores.
// They follow the same append-only contract as the durable stores.
package inmem

import (
	"context"
	"sync"

	"github.com/YoshitsuguKoike/deeflow/internal/domain/model/cache"
	"github.com/YoshitsuguKoike/deeflow/internal/domain/model/event"
	"github.com/YoshitsuguKoike/deeflow/internal/domain/model/feedback"
	"github.com/YoshitsuguKoike/deeflow/internal/domain/repository"
)

var (
	_ repository.StateLog                 = (*StateLog)(nil)
	_ repository.ConditionCacheRepository = (*ConditionCache)(nil)
	_ repository.FeedbackQueue            = (*FeedbackQueue)(nil)
)

// StateLog keeps events in an append-only slice
type StateLog struct {
	mu     sync.RWMutex
	events []event.Event
}

// NewStateLog creates an empty log
func NewStateLog() *StateLog {
	return &StateLog{}
}

// Append records an event
func (l *StateLog) Append(ctx context.Context, e event.Event) error {
	if err := e.Validate(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
	return nil
}

// Events returns a snapshot; the capacity is clipped so later appends never alias it
func (l *StateLog) Events(ctx context.Context) ([]event.Event, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := len(l.events)
	return l.events[:n:n], nil
}

// ConditionCache keeps entries in append order with a latest-position index
type ConditionCache struct {
	mu      sync.RWMutex
	entries []cache.Entry
	latest  map[cache.Key]int
}

// NewConditionCache creates an empty cache store
func NewConditionCache() *ConditionCache {
	return &ConditionCache{latest: make(map[cache.Key]int)}
}

// Append records an entry; it becomes the latest for its key
func (c *ConditionCache) Append(ctx context.Context, e cache.Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, e)
	c.latest[e.Key()] = len(c.entries) - 1
	return nil
}

// Latest returns the most recently appended entry for key
func (c *ConditionCache) Latest(ctx context.Context, key cache.Key) (cache.Entry, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	i, ok := c.latest[key]
	if !ok {
		return cache.Entry{}, false, nil
	}
	return c.entries[i], true, nil
}

// Len returns the number of appended entries
func (c *ConditionCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// FeedbackQueue keeps message records in append order
type FeedbackQueue struct {
	mu      sync.RWMutex
	records []feedback.Message
}

// NewFeedbackQueue creates an empty queue
func NewFeedbackQueue() *FeedbackQueue {
	return &FeedbackQueue{}
}

// Append records a message
func (q *FeedbackQueue) Append(ctx context.Context, m feedback.Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.records = append(q.records, m)
	return nil
}

// History returns a snapshot of all records
func (q *FeedbackQueue) History(ctx context.Context) (feedback.History, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	n := len(q.records)
	return feedback.History(q.records[:n:n]), nil
}
