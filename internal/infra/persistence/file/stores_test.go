package file_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YoshitsuguKoike/deeflow/internal/domain/model/cache"
	"github.com/YoshitsuguKoike/deeflow/internal/domain/model/event"
	"github.com/YoshitsuguKoike/deeflow/internal/domain/model/feedback"
	"github.com/YoshitsuguKoike/deeflow/internal/infra/persistence/file"
)

var t0 = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func TestStateLog_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()

	stores, err := file.OpenRun(fs, "/home", "run-1")
	require.NoError(t, err)
	e1 := event.New(t0, "run-1", "loop", event.TypeLoopStart, map[string]interface{}{"max_iterations": 3})
	e2 := event.New(t0, "run-1", "loop", event.TypeLoopIteration, map[string]interface{}{"iteration": 1})
	require.NoError(t, stores.Events.Append(ctx, e1))
	require.NoError(t, stores.Events.Append(ctx, e2))

	reopened, err := file.OpenRun(fs, "/home", "run-1")
	require.NoError(t, err)
	got, err := reopened.Events.Events(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, e1.ID, got[0].ID)
	assert.Equal(t, 3, got[0].Int("max_iterations"))
	assert.Equal(t, 1, got[1].Int("iteration"))

	assert.Equal(t, filepath.Join("/home", "var", "runs", "run-1"), reopened.Dir)
}

func TestStateLog_ConcurrentAppendsFromIndependentSubtrees(t *testing.T) {
	ctx := context.Background()
	l := file.NewStateLog(afero.NewMemMapFs(), "/home/var/runs/run-1/events.ndjson")

	const workers, perWorker = 8, 25
	var wg sync.WaitGroup
	errs := make(chan error, workers*perWorker)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			nodeID := fmt.Sprintf("subtree-%d", w)
			for i := 1; i <= perWorker; i++ {
				e := event.New(t0, "run-1", nodeID, event.TypeLoopIteration, map[string]interface{}{"iteration": i})
				if err := l.Append(ctx, e); err != nil {
					errs <- err
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got, err := l.Events(ctx)
	require.NoError(t, err)
	require.Len(t, got, workers*perWorker)

	ids := make(map[string]bool)
	next := make(map[string]int)
	for _, e := range got {
		assert.False(t, ids[e.ID], "duplicate event %s", e.ID)
		ids[e.ID] = true
		next[e.NodeID]++
		assert.Equal(t, next[e.NodeID], e.Int("iteration"), "events of %s out of order", e.NodeID)
	}
	assert.Len(t, next, workers)
}

func TestStateLog_RejectsInvalidEvent(t *testing.T) {
	l := file.NewStateLog(afero.NewMemMapFs(), "/e.ndjson")
	err := l.Append(context.Background(), event.Event{ID: "x", NodeID: "n", Type: "bogus"})
	assert.Error(t, err)
}

func TestConditionCache_LatestAppendWinsAfterReopen(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()
	path := "/cache.ndjson"

	c, err := file.OpenConditionCache(fs, path)
	require.NoError(t, err)
	// the second entry expires earlier but was appended later
	require.NoError(t, c.Append(ctx, cache.NewEntry("loop", "k", true, t0, 300)))
	require.NoError(t, c.Append(ctx, cache.NewEntry("loop", "k", false, t0, 10)))

	reopened, err := file.OpenConditionCache(fs, path)
	require.NoError(t, err)
	e, ok, err := reopened.Latest(ctx, cache.Key{NodeID: "loop", ConditionKey: "k"})
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, e.Result)
	assert.Equal(t, t0.Unix()+10, e.ExpiresAtUnix)

	_, ok, err = reopened.Latest(ctx, cache.Key{NodeID: "other", ConditionKey: "k"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFeedbackQueue_HistoryAfterReopen(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()
	path := "/fb.ndjson"

	q, err := file.OpenFeedbackQueue(fs, path)
	require.NoError(t, err)
	m := feedback.Message{
		ID: "FB-1", FromNode: "impl", ToNode: "design", Type: feedback.TypeFixRequest,
		Message: "fix", Priority: feedback.PriorityNormal, Round: 1, Status: feedback.StatusQueued, CreatedAt: t0,
	}
	require.NoError(t, q.Append(ctx, m))
	require.NoError(t, q.Append(ctx, m.WithStatus(feedback.StatusResolved, "")))

	reopened, err := file.OpenFeedbackQueue(fs, path)
	require.NoError(t, err)
	h, err := reopened.History(ctx)
	require.NoError(t, err)
	require.Len(t, h, 2)
	latest := h.LatestByID()
	require.Len(t, latest, 1)
	assert.Equal(t, feedback.StatusResolved, latest[0].Status)
}

func TestRunStores_Recover(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()

	stores, err := file.OpenRun(fs, "/home", "r")
	require.NoError(t, err)
	require.NoError(t, stores.Events.Append(ctx, event.New(t0, "r", "a", event.TypeNodeStart, nil)))

	eventsPath := filepath.Join(stores.Dir, file.EventsFile)
	f, err := fs.OpenFile(eventsPath, os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	_, err = f.Write([]byte(`{"id":"torn`))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	dropped, err := stores.Recover()
	require.NoError(t, err)
	assert.Equal(t, int64(len(`{"id":"torn`)), dropped[file.EventsFile])
	assert.Zero(t, dropped[file.CacheFile])
	assert.Zero(t, dropped[file.FeedbackFile])

	got, err := stores.Events.Events(ctx)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}
