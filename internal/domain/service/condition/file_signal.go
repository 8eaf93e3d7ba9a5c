package condition

import (
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/afero"
)

// fileExists checks a plain path, or a doublestar glob when the key has meta characters
func fileExists(fsys afero.Fs, key string) (bool, error) {
	if !hasMeta(key) {
		return afero.Exists(fsys, key)
	}

	pattern := filepath.ToSlash(key)
	base := fsys
	if strings.HasPrefix(pattern, "/") {
		base = afero.NewBasePathFs(fsys, "/")
		pattern = strings.TrimPrefix(pattern, "/")
	}
	pattern = strings.TrimPrefix(pattern, "./")
	if !doublestar.ValidatePattern(pattern) {
		return false, doublestar.ErrBadPattern
	}

	matches, err := doublestar.Glob(afero.NewIOFS(base), pattern)
	if err != nil {
		return false, err
	}
	return len(matches) > 0, nil
}

func hasMeta(path string) bool {
	return strings.ContainsAny(path, "*?[{")
}
