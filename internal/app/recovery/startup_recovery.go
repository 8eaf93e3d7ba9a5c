// Package recovery repairs run logs left torn by a crash.
package recovery

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/spf13/afero"

	"github.com/YoshitsuguKoike/deeflow/internal/app"
	"github.com/YoshitsuguKoike/deeflow/internal/app/memory"
	"github.com/YoshitsuguKoike/deeflow/internal/infra/persistence/file"
)

// RecoveryResult reports the bytes truncated per run and file
type RecoveryResult struct {
	Truncated map[string]map[string]int64
	Errors    []error
}

// TruncatedBytes sums every truncation
func (r RecoveryResult) TruncatedBytes() int64 {
	var n int64
	for _, files := range r.Truncated {
		for _, b := range files {
			n += b
		}
	}
	return n
}

// RecoverRun truncates torn trailing records in every NDJSON log of a run,
// working memory included.
func RecoverRun(fs afero.Fs, home, runID string) (map[string]int64, error) {
	stores, err := file.OpenRun(fs, home, runID)
	if err != nil {
		return nil, fmt.Errorf("open run %s: %w", runID, err)
	}
	out, err := stores.Recover()
	if err != nil {
		return out, fmt.Errorf("run %s: %w", runID, err)
	}

	mem, err := memory.Open(fs, filepath.Join(stores.Dir, file.MemoryFile))
	if err != nil {
		return out, fmt.Errorf("run %s: %w", runID, err)
	}
	n, err := mem.Recover()
	if err != nil {
		return out, fmt.Errorf("run %s: recover %s: %w", runID, file.MemoryFile, err)
	}
	out[file.MemoryFile] = n
	return out, nil
}

// RecoverAllRuns runs RecoverRun over every run under home.
// A failing run is reported and does not stop the others.
func RecoverAllRuns(fs afero.Fs, home string) (RecoveryResult, error) {
	result := RecoveryResult{Truncated: make(map[string]map[string]int64)}
	runs, err := file.ListRuns(fs, home)
	if err != nil {
		return result, fmt.Errorf("startup recovery failed: %w", err)
	}

	for _, runID := range runs {
		files, err := RecoverRun(fs, home, runID)
		if err != nil {
			result.Errors = append(result.Errors, err)
			continue
		}
		for name, n := range files {
			if n == 0 {
				continue
			}
			if result.Truncated[runID] == nil {
				result.Truncated[runID] = make(map[string]int64)
			}
			result.Truncated[runID][name] = n
		}
	}

	if len(result.Truncated) > 0 {
		ids := make([]string, 0, len(result.Truncated))
		for id := range result.Truncated {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		app.GetLogger().Info("Startup recovery truncated %d bytes across runs %v", result.TruncatedBytes(), ids)
	}
	if len(result.Errors) > 0 {
		app.GetLogger().Warn("Recovery completed with %d errors", len(result.Errors))
		for _, err := range result.Errors {
			app.GetLogger().Warn("  - %v", err)
		}
	}
	return result, nil
}
