package embed

import (
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetTemplates(t *testing.T) {
	templates, err := GetTemplates()
	require.NoError(t, err)

	paths := make(map[string]bool)
	for _, tmpl := range templates {
		paths[filepath.ToSlash(tmpl.Path)] = true
		assert.NotEmpty(t, tmpl.Content, tmpl.Path)
	}
	assert.True(t, paths["workflows/example.yaml"])
	assert.True(t, paths["predicates/ready.go"])
}

func TestWriteTemplate_SkipAndForce(t *testing.T) {
	fs := afero.NewMemMapFs()
	tmpl := Template{Path: filepath.Join("workflows", "a.yaml"), Content: []byte("v1"), Mode: 0o644}

	res, err := WriteTemplate(fs, "/home", tmpl, false)
	require.NoError(t, err)
	assert.Equal(t, "WROTE", res.Action)

	tmpl.Content = []byte("v2")
	res, err = WriteTemplate(fs, "/home", tmpl, false)
	require.NoError(t, err)
	assert.Equal(t, "SKIP", res.Action)
	data, _ := afero.ReadFile(fs, "/home/workflows/a.yaml")
	assert.Equal(t, "v1", string(data))

	res, err = WriteTemplate(fs, "/home", tmpl, true)
	require.NoError(t, err)
	assert.Equal(t, "WROTE (force)", res.Action)
	data, _ = afero.ReadFile(fs, "/home/workflows/a.yaml")
	assert.Equal(t, "v2", string(data))

	exists, _ := afero.Exists(fs, "/home/workflows/a.yaml.tmp")
	assert.False(t, exists)
}
