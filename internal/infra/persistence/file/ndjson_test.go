package file_test

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YoshitsuguKoike/deeflow/internal/infra/persistence/file"
)

type record struct {
	N int    `json:"n"`
	S string `json:"s"`
}

func TestLog_AppendAndReadAll(t *testing.T) {
	fs := afero.NewMemMapFs()
	l := file.NewLog[record](fs, "/runs/r1/x.ndjson")

	got, err := l.ReadAll()
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, l.Append(record{N: 1, S: "a"}))
	require.NoError(t, l.Append(record{N: 2, S: "b"}))

	got, err = l.ReadAll()
	require.NoError(t, err)
	assert.Equal(t, []record{{1, "a"}, {2, "b"}}, got)

	raw, err := afero.ReadFile(fs, "/runs/r1/x.ndjson")
	require.NoError(t, err)
	assert.Equal(t, "{\"n\":1,\"s\":\"a\"}\n{\"n\":2,\"s\":\"b\"}\n", string(raw))
}

func TestLog_TornTrailingRecord(t *testing.T) {
	tests := []struct {
		name string
		tail string
	}{
		{"missing newline", `{"n":3,"s":"c"}`},
		{"truncated json", `{"n":3,"s":`},
		{"garbage final line", "\x00\x00\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := afero.NewMemMapFs()
			path := "/x.ndjson"
			good := "{\"n\":1,\"s\":\"a\"}\n"
			require.NoError(t, afero.WriteFile(fs, path, []byte(good+tt.tail), 0o644))

			l := file.NewLog[record](fs, path)
			got, err := l.ReadAll()
			require.NoError(t, err)
			assert.Equal(t, []record{{1, "a"}}, got)

			dropped, err := l.Recover()
			require.NoError(t, err)
			assert.Equal(t, int64(len(tt.tail)), dropped)

			raw, err := afero.ReadFile(fs, path)
			require.NoError(t, err)
			assert.Equal(t, good, string(raw))
		})
	}
}

func TestLog_AppendAfterTornRecordRecoversFirst(t *testing.T) {
	fs := afero.NewMemMapFs()
	path := "/x.ndjson"
	require.NoError(t, afero.WriteFile(fs, path, []byte("{\"n\":1,\"s\":\"a\"}\n{\"n\":2"), 0o644))

	l := file.NewLog[record](fs, path)
	require.NoError(t, l.Append(record{N: 9, S: "z"}))

	got, err := l.ReadAll()
	require.NoError(t, err)
	assert.Equal(t, []record{{1, "a"}, {9, "z"}}, got)
}

func TestLog_CorruptionBeforeTailIsAnError(t *testing.T) {
	fs := afero.NewMemMapFs()
	path := "/x.ndjson"
	require.NoError(t, afero.WriteFile(fs, path, []byte("{\"n\":1}\nnot-json\n{\"n\":2}\n"), 0o644))

	l := file.NewLog[record](fs, path)
	_, err := l.ReadAll()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")

	_, err = l.Recover()
	assert.Error(t, err)
}

func TestLog_BlankLinesAreSkipped(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/x.ndjson", []byte("\n{\"n\":1}\n\n{\"n\":2}\n"), 0o644))

	got, err := file.NewLog[record](fs, "/x.ndjson").ReadAll()
	require.NoError(t, err)
	assert.Equal(t, []record{{N: 1}, {N: 2}}, got)
}

func TestLog_RecoverCleanFileIsNoop(t *testing.T) {
	fs := afero.NewMemMapFs()
	l := file.NewLog[record](fs, "/x.ndjson")
	dropped, err := l.Recover()
	require.NoError(t, err)
	assert.Zero(t, dropped)

	require.NoError(t, l.Append(record{N: 1}))
	dropped, err = l.Recover()
	require.NoError(t, err)
	assert.Zero(t, dropped)
}
