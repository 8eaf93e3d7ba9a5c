package app

import "path/filepath"

// Paths holds the resolved layout of a deeflow home
type Paths struct {
	Home       string // .deeflow
	Var        string // .deeflow/var
	Runs       string // .deeflow/var/runs
	Predicates string // .deeflow/predicates
	Workflows  string // .deeflow/workflows

	// Key files
	Setting string // .deeflow/setting.json
}

// ResolvePaths returns the layout rooted at home
func ResolvePaths(home string) Paths {
	p := Paths{
		Home:       home,
		Var:        filepath.Join(home, "var"),
		Predicates: filepath.Join(home, "predicates"),
		Workflows:  filepath.Join(home, "workflows"),
		Setting:    filepath.Join(home, "setting.json"),
	}
	p.Runs = filepath.Join(p.Var, "runs")
	return p
}

// RunDir returns the directory of one run
func (p Paths) RunDir(runID string) string {
	return filepath.Join(p.Runs, runID)
}
