package memory_test

import (
	"fmt"
	"sync"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YoshitsuguKoike/deeflow/internal/app/memory"
)

func TestStore_LastWriteWins(t *testing.T) {
	s := memory.New()
	require.NoError(t, s.Set("build.status", "failed"))
	require.NoError(t, s.Set("build.status", "passed"))

	v, ok := s.Get("build.status")
	require.True(t, ok)
	assert.Equal(t, "passed", v)

	_, ok = s.Get("missing")
	assert.False(t, ok)
}

func TestStore_SnapshotIsACopy(t *testing.T) {
	s := memory.New()
	require.NoError(t, s.Set("a", "1"))

	snap := s.Snapshot()
	snap["a"] = "mutated"
	require.NoError(t, s.Set("b", "2"))

	v, _ := s.Get("a")
	assert.Equal(t, "1", v)
	assert.NotContains(t, snap, "b")
}

func TestStore_KeysAreNormalized(t *testing.T) {
	s := memory.New()
	// full-width characters fold to ASCII under NFKC
	require.NoError(t, s.Set(" ｓｔａｔｕｓ ", "ok"))

	v, ok := s.Get("status")
	require.True(t, ok)
	assert.Equal(t, "ok", v)

	assert.Error(t, s.Set("   ", "x"))
}

func TestStore_PersistedLastWriteWinsAcrossReopen(t *testing.T) {
	fs := afero.NewMemMapFs()
	path := "/runs/r/memory.ndjson"

	s, err := memory.Open(fs, path)
	require.NoError(t, err)
	require.NoError(t, s.Set("k", "1"))
	require.NoError(t, s.Set("other", "x"))
	require.NoError(t, s.Set("k", "2"))

	reopened, err := memory.Open(fs, path)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"k": "2", "other": "x"}, reopened.Snapshot())

	require.NoError(t, reopened.Set("k", "3"))
	again, err := memory.Open(fs, path)
	require.NoError(t, err)
	v, _ := again.Get("k")
	assert.Equal(t, "3", v)
}

func TestStore_ConcurrentWriters(t *testing.T) {
	s := memory.New()
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_ = s.Set(fmt.Sprintf("w%d", w), fmt.Sprint(i))
				_ = s.Snapshot()
			}
		}(w)
	}
	wg.Wait()

	snap := s.Snapshot()
	require.Len(t, snap, 8)
	for w := 0; w < 8; w++ {
		assert.Equal(t, "49", snap[fmt.Sprintf("w%d", w)])
	}
}
