// Package memory implements the working memory shared by nodes in a run.
//
// Writes are ordered: Get returns the value of the most recent Set for a key.
// The durable variant appends every write to memory.ndjson and rebuilds the
// map by replaying the file in order, so last-write-wins holds across restarts.
package memory

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/text/unicode/norm"

	"github.com/YoshitsuguKoike/deeflow/internal/domain/repository"
	"github.com/YoshitsuguKoike/deeflow/internal/infra/persistence/file"
)

var (
	_ repository.WorkingMemory = (*Store)(nil)
)

// Record is one persisted write
type Record struct {
	Seq   int64     `json:"seq"`
	Key   string    `json:"key"`
	Value string    `json:"value"`
	At    time.Time `json:"at"`
}

// Store is a concurrency-safe key/value store with optional NDJSON persistence
type Store struct {
	mu     sync.RWMutex
	values map[string]string
	seq    int64
	log    *file.Log[Record]
	now    func() time.Time
}

// New returns a process-local store
func New() *Store {
	return &Store{values: make(map[string]string), now: time.Now}
}

// Open returns a store backed by the NDJSON file at path, replaying existing writes
func Open(fs afero.Fs, path string) (*Store, error) {
	s := New()
	s.log = file.NewLog[Record](fs, path)
	records, err := s.log.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("load working memory: %w", err)
	}
	for _, r := range records {
		s.values[r.Key] = r.Value
		if r.Seq > s.seq {
			s.seq = r.Seq
		}
	}
	return s, nil
}

// NormalizeKey applies NFKC and trims surrounding space
func NormalizeKey(key string) string {
	return strings.TrimSpace(norm.NFKC.String(key))
}

// Get returns the latest value written for key
func (s *Store) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[NormalizeKey(key)]
	return v, ok
}

// Set writes value for key; persisted stores append before updating the map
func (s *Store) Set(key, value string) error {
	key = NormalizeKey(key)
	if key == "" {
		return fmt.Errorf("memory: empty key")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.log != nil {
		rec := Record{Seq: s.seq + 1, Key: key, Value: value, At: s.now().UTC()}
		if err := s.log.Append(rec); err != nil {
			return fmt.Errorf("memory: persist %s: %w", key, err)
		}
	}
	s.seq++
	s.values[key] = value
	return nil
}

// Snapshot returns a copy of the current values
func (s *Store) Snapshot() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// Recover truncates a torn trailing write in the backing file
func (s *Store) Recover() (int64, error) {
	if s.log == nil {
		return 0, nil
	}
	return s.log.Recover()
}
