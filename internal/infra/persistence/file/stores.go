package file

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"

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

// StateLog persists events to events.ndjson and reads them back from disk
type StateLog struct {
	log *Log[event.Event]
}

// NewStateLog opens the event log at path
func NewStateLog(fs afero.Fs, path string) *StateLog {
	return &StateLog{log: NewLog[event.Event](fs, path)}
}

// Append validates and records one event
func (s *StateLog) Append(ctx context.Context, e event.Event) error {
	if err := e.Validate(); err != nil {
		return err
	}
	return s.log.Append(e)
}

// Events returns every complete event on disk
func (s *StateLog) Events(ctx context.Context) ([]event.Event, error) {
	return s.log.ReadAll()
}

// Recover truncates a torn trailing event
func (s *StateLog) Recover() (int64, error) {
	return s.log.Recover()
}

// ConditionCache persists entries to cache.ndjson and serves lookups from
// an index built at open time and extended on every append.
type ConditionCache struct {
	log *Log[cache.Entry]

	mu     sync.RWMutex
	latest map[cache.Key]cache.Entry
}

// OpenConditionCache loads existing entries from path
func OpenConditionCache(fs afero.Fs, path string) (*ConditionCache, error) {
	c := &ConditionCache{
		log:    NewLog[cache.Entry](fs, path),
		latest: make(map[cache.Key]cache.Entry),
	}
	entries, err := c.log.ReadAll()
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		c.latest[e.Key()] = e
	}
	return c, nil
}

// Append records an entry; it becomes the latest for its key
func (c *ConditionCache) Append(ctx context.Context, e cache.Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.log.Append(e); err != nil {
		return err
	}
	c.latest[e.Key()] = e
	return nil
}

// Latest returns the most recently appended entry for key
func (c *ConditionCache) Latest(ctx context.Context, key cache.Key) (cache.Entry, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.latest[key]
	return e, ok, nil
}

// Recover truncates a torn trailing entry
func (c *ConditionCache) Recover() (int64, error) {
	return c.log.Recover()
}

// FeedbackQueue persists message records to feedback.ndjson
type FeedbackQueue struct {
	log *Log[feedback.Message]

	mu      sync.RWMutex
	records []feedback.Message
}

// OpenFeedbackQueue loads existing records from path
func OpenFeedbackQueue(fs afero.Fs, path string) (*FeedbackQueue, error) {
	q := &FeedbackQueue{log: NewLog[feedback.Message](fs, path)}
	records, err := q.log.ReadAll()
	if err != nil {
		return nil, err
	}
	q.records = records
	return q, nil
}

// Append records a message in its current status
func (q *FeedbackQueue) Append(ctx context.Context, m feedback.Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.log.Append(m); err != nil {
		return err
	}
	q.records = append(q.records, m)
	return nil
}

// History returns every record in append order
func (q *FeedbackQueue) History(ctx context.Context) (feedback.History, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	n := len(q.records)
	return feedback.History(q.records[:n:n]), nil
}

// Recover truncates a torn trailing record
func (q *FeedbackQueue) Recover() (int64, error) {
	return q.log.Recover()
}

// RunStores groups the NDJSON stores of one run
type RunStores struct {
	Dir      string
	Events   *StateLog
	Cache    *ConditionCache
	Feedback *FeedbackQueue
}

// OpenRun opens (or creates lazily) the stores under <home>/var/runs/<runID>
func OpenRun(fs afero.Fs, home, runID string) (*RunStores, error) {
	dir := RunDir(home, runID)
	c, err := OpenConditionCache(fs, filepath.Join(dir, CacheFile))
	if err != nil {
		return nil, fmt.Errorf("open condition cache: %w", err)
	}
	q, err := OpenFeedbackQueue(fs, filepath.Join(dir, FeedbackFile))
	if err != nil {
		return nil, fmt.Errorf("open feedback queue: %w", err)
	}
	return &RunStores{
		Dir:      dir,
		Events:   NewStateLog(fs, filepath.Join(dir, EventsFile)),
		Cache:    c,
		Feedback: q,
	}, nil
}

// Recover truncates torn records in every log of the run and returns the
// number of bytes dropped per file name.
func (r *RunStores) Recover() (map[string]int64, error) {
	out := make(map[string]int64)
	steps := []struct {
		name string
		fn   func() (int64, error)
	}{
		{EventsFile, r.Events.Recover},
		{CacheFile, r.Cache.Recover},
		{FeedbackFile, r.Feedback.Recover},
	}
	for _, s := range steps {
		n, err := s.fn()
		if err != nil {
			return out, fmt.Errorf("recover %s: %w", s.name, err)
		}
		out[s.name] = n
	}
	return out, nil
}

// SetStrictFsync makes fsync failures on any log of the run fail the append
func (r *RunStores) SetStrictFsync(strict bool) {
	r.Events.log.WithStrictFsync(strict)
	r.Cache.log.WithStrictFsync(strict)
	r.Feedback.log.WithStrictFsync(strict)
}
