package file

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"

	"github.com/YoshitsuguKoike/deeflow/internal/app"
)

// Log is an append-only NDJSON file holding one record of type T per line.
//
// A trailing record without its newline, or one that does not decode, is a
// torn write from a crash: reads skip it and Recover truncates it. A bad
// record anywhere else is corruption and is reported as an error.
type Log[T any] struct {
	fs          afero.Fs
	path        string
	strictFsync bool

	mu        sync.Mutex
	recovered bool
}

// NewLog creates a log at path; the file is created on first append
func NewLog[T any](fs afero.Fs, path string) *Log[T] {
	return &Log[T]{fs: fs, path: path}
}

// WithStrictFsync makes fsync failures fail the append instead of warning
func (l *Log[T]) WithStrictFsync(strict bool) *Log[T] {
	l.strictFsync = strict
	return l
}

// Path returns the file path
func (l *Log[T]) Path() string {
	return l.path
}

// Append writes one record and syncs it to disk
func (l *Log[T]) Append(v T) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("ndjson: marshal record: %w", err)
	}
	b = append(b, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.recovered {
		if _, err := l.recoverLocked(); err != nil {
			return err
		}
		l.recovered = true
	}

	if err := l.fs.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("ndjson: create directory: %w", err)
	}
	f, err := l.fs.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("ndjson: open %s: %w", l.path, err)
	}
	defer f.Close()

	if _, err := f.Write(b); err != nil {
		return fmt.Errorf("ndjson: write %s: %w", l.path, err)
	}
	if err := f.Sync(); err != nil {
		if l.strictFsync {
			return fmt.Errorf("ndjson: fsync %s: %w", l.path, err)
		}
		app.GetLogger().Warn("failed to fsync %s: %v", l.path, err)
	}
	return nil
}

// ReadAll returns every complete record in file order
func (l *Log[T]) ReadAll() ([]T, error) {
	data, err := afero.ReadFile(l.fs, l.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("ndjson: read %s: %w", l.path, err)
	}
	records, _, err := decode[T](data, l.path)
	return records, err
}

// Recover truncates a torn trailing record and reports how many bytes were dropped
func (l *Log[T]) Recover() (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	dropped, err := l.recoverLocked()
	if err == nil {
		l.recovered = true
	}
	return dropped, err
}

func (l *Log[T]) recoverLocked() (int64, error) {
	data, err := afero.ReadFile(l.fs, l.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("ndjson: read %s: %w", l.path, err)
	}
	_, good, err := decode[T](data, l.path)
	if err != nil {
		return 0, err
	}
	dropped := int64(len(data)) - good
	if dropped == 0 {
		return 0, nil
	}

	f, err := l.fs.OpenFile(l.path, os.O_WRONLY, 0o644)
	if err != nil {
		return 0, fmt.Errorf("ndjson: open %s: %w", l.path, err)
	}
	defer f.Close()
	if err := f.Truncate(good); err != nil {
		return 0, fmt.Errorf("ndjson: truncate %s: %w", l.path, err)
	}
	if err := f.Sync(); err != nil {
		app.GetLogger().Warn("failed to fsync %s after recovery: %v", l.path, err)
	}
	app.GetLogger().Warn("dropped %d bytes of torn record at end of %s", dropped, l.path)
	return dropped, nil
}

// decode parses records and returns the byte offset just past the last good one
func decode[T any](data []byte, path string) ([]T, int64, error) {
	var (
		out    []T
		offset int64
		lineNo int
	)
	rest := data
	for len(rest) > 0 {
		lineNo++
		i := bytes.IndexByte(rest, '\n')
		if i < 0 {
			// no newline: torn final record
			break
		}
		line := rest[:i]
		next := rest[i+1:]
		if len(bytes.TrimSpace(line)) == 0 {
			offset += int64(i + 1)
			rest = next
			continue
		}
		var v T
		if err := json.Unmarshal(line, &v); err != nil {
			if len(bytes.TrimSpace(next)) == 0 {
				// undecodable final record: treat as torn
				break
			}
			return nil, 0, fmt.Errorf("ndjson: %s line %d: %w", path, lineNo, err)
		}
		out = append(out, v)
		offset += int64(i + 1)
		rest = next
	}
	return out, offset, nil
}
