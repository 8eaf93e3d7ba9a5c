package file

import (
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/afero"

	"github.com/YoshitsuguKoike/deeflow/internal/app"
)

// Run file names inside <home>/var/runs/<runID>/
const (
	EventsFile   = "events.ndjson"
	CacheFile    = "cache.ndjson"
	FeedbackFile = "feedback.ndjson"
	MemoryFile   = "memory.ndjson"
	ManifestFile = "run.json"
)

// RunDir resolves the directory of one run
func RunDir(home, runID string) string {
	return app.ResolvePaths(home).RunDir(runID)
}

// RunStatus is the coarse lifecycle recorded in the manifest
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "success"
	RunFailed    RunStatus = "failure"
	RunTimedOut  RunStatus = "timeout"
	RunAborted   RunStatus = "aborted"
)

// Manifest describes a run; it is rewritten atomically on start and finish
type Manifest struct {
	RunID      string    `json:"run_id"`
	Workflow   string    `json:"workflow"`
	RootNode   string    `json:"root_node"`
	Store      string    `json:"store"`
	Status     RunStatus `json:"status"`
	Detail     string    `json:"detail,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
}

// SaveManifest writes run.json into the run directory
func SaveManifest(fs afero.Fs, home string, m Manifest) error {
	if m.RunID == "" {
		return fmt.Errorf("manifest: run id is required")
	}
	return WriteJSONAtomic(fs, filepath.Join(RunDir(home, m.RunID), ManifestFile), m)
}

// LoadManifest reads run.json for runID
func LoadManifest(fs afero.Fs, home, runID string) (Manifest, error) {
	var m Manifest
	err := ReadJSON(fs, filepath.Join(RunDir(home, runID), ManifestFile), &m)
	return m, err
}

// ListRuns returns run ids under home, oldest first (ULIDs sort by time)
func ListRuns(fs afero.Fs, home string) ([]string, error) {
	runs := app.ResolvePaths(home).Runs
	entries, err := afero.ReadDir(fs, runs)
	if err != nil {
		if ok, _ := afero.DirExists(fs, runs); !ok {
			return nil, nil
		}
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}
