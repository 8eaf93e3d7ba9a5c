package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YoshitsuguKoike/deeflow/internal/domain/model/cache"
	"github.com/YoshitsuguKoike/deeflow/internal/domain/model/event"
	"github.com/YoshitsuguKoike/deeflow/internal/domain/model/feedback"
)

// setupTestDB opens a private in-memory database and migrates it
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	require.NoError(t, NewMigrator(db).Migrate())
	t.Cleanup(func() { db.Close() })
	return db
}

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestMigrator_Idempotent(t *testing.T) {
	db := setupTestDB(t)
	m := NewMigrator(db)

	require.NoError(t, m.Migrate())
	version, err := m.Version()
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion, version)

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count))
	assert.Equal(t, 1, count)
}

func TestSplitSQLStatements(t *testing.T) {
	stmts := splitSQLStatements("-- header\nCREATE TABLE a (x INT);\n\n-- note\nCREATE INDEX i ON a(x);\n")
	assert.Equal(t, []string{"CREATE TABLE a (x INT)", "CREATE INDEX i ON a(x)"}, stmts)
}

func TestStateLog_AppendOrderAndRunScope(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	r1 := OpenRun(db, "R1")
	r2 := OpenRun(db, "R2")

	e1 := event.New(t0, "R1", "loop", event.TypeLoopStart, map[string]interface{}{"max_iterations": 3})
	e2 := event.New(t0.Add(time.Second), "R1", "loop", event.TypeLoopIteration, nil)
	require.NoError(t, r1.Events.Append(ctx, e1))
	require.NoError(t, r1.Events.Append(ctx, e2))
	require.NoError(t, r2.Events.Append(ctx, event.New(t0, "R2", "a", event.TypeNodeStart, nil)))

	got, err := r1.Events.Events(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, e1.ID, got[0].ID)
	assert.Equal(t, event.TypeLoopStart, got[0].Type)
	assert.Equal(t, float64(3), got[0].Payload["max_iterations"])
	assert.True(t, t0.Equal(got[0].Timestamp))
	assert.Nil(t, got[1].Payload)

	runs, err := Runs(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, []string{"R1", "R2"}, runs)
}

func TestStateLog_RejectsInvalidAndDuplicate(t *testing.T) {
	ctx := context.Background()
	stores := OpenRun(setupTestDB(t), "R")

	assert.Error(t, stores.Events.Append(ctx, event.Event{ID: "x"}))

	e := event.New(t0, "R", "a", event.TypeNodeStart, nil)
	require.NoError(t, stores.Events.Append(ctx, e))
	assert.Error(t, stores.Events.Append(ctx, e), "event ids are unique")
}

func TestConditionCache_LatestInsertedWins(t *testing.T) {
	ctx := context.Background()
	stores := OpenRun(setupTestDB(t), "R")
	key := cache.Key{NodeID: "loop", ConditionKey: "k"}

	_, ok, err := stores.Cache.Latest(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, stores.Cache.Append(ctx, cache.NewEntry("loop", "k", true, t0, 600)))
	require.NoError(t, stores.Cache.Append(ctx, cache.NewEntry("loop", "k", false, t0, 10)))

	got, ok, err := stores.Cache.Latest(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, got.Result, "append order wins over the later expiry")
	assert.Equal(t, t0.Unix()+10, got.ExpiresAtUnix)
	assert.Equal(t, key, got.Key())
}

func TestFeedbackQueue_History(t *testing.T) {
	ctx := context.Background()
	stores := OpenRun(setupTestDB(t), "R")

	m := feedback.Message{
		ID: "FB-1", FromNode: "test", ToNode: "design", Type: feedback.TypeFixRequest,
		Message: "api drift", Priority: feedback.PriorityHigh, Round: 1,
		Status: feedback.StatusQueued, CreatedAt: t0,
	}
	require.NoError(t, stores.Feedback.Append(ctx, m))
	require.NoError(t, stores.Feedback.Append(ctx, m.WithStatus(feedback.StatusResolved, "")))

	h, err := stores.Feedback.History(ctx)
	require.NoError(t, err)
	require.Len(t, h, 2)
	assert.Equal(t, m, h[0])
	latest := h.LatestByID()
	require.Len(t, latest, 1)
	assert.Equal(t, feedback.StatusResolved, latest[0].Status)
	assert.Equal(t, 1, h.LatestRound(m.Pair()))
}

func TestInTransaction_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	stores := OpenRun(db, "R")
	boom := errors.New("boom")

	err := InTransaction(ctx, db, func(txCtx context.Context) error {
		require.NoError(t, stores.Events.Append(txCtx, event.New(t0, "R", "a", event.TypeNodeStart, nil)))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := stores.Events.Events(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRunLocks_AcquireRelease(t *testing.T) {
	ctx := context.Background()
	locks := NewRunLocks(setupTestDB(t))

	l, err := locks.Acquire(ctx, "R", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "R", l.RunID)

	_, err = locks.Acquire(ctx, "R", time.Minute)
	assert.ErrorIs(t, err, ErrRunLocked)

	require.NoError(t, locks.Release(ctx, "R"))
	assert.Error(t, locks.Release(ctx, "R"))

	_, err = locks.Acquire(ctx, "R", time.Minute)
	assert.NoError(t, err)
}

func TestRunLocks_StaleHolderIsReplaced(t *testing.T) {
	ctx := context.Background()
	locks := NewRunLocks(setupTestDB(t))

	tests := []struct {
		name    string
		ttl     time.Duration
		running bool
	}{
		{"expired", -time.Minute, true},
		{"dead process", time.Hour, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runID := "R-" + tt.name
			_, err := locks.Acquire(ctx, runID, tt.ttl)
			require.NoError(t, err)

			locks.running = func(int) bool { return tt.running }
			defer func() { locks.running = isProcessRunning }()

			l, err := locks.Acquire(ctx, runID, time.Hour)
			require.NoError(t, err)
			assert.True(t, l.ExpiresAt.After(l.AcquiredAt))
		})
	}
}

func TestOpen_CreatesAndMigrates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "var", "deeflow.db")
	db, err := Open(path)
	require.NoError(t, err)
	defer db.Close()

	version, err := NewMigrator(db).Version()
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion, version)
}
