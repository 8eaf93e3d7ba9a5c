package workflow

import "github.com/YoshitsuguKoike/deeflow/internal/domain/model/node"

// Workflow is a loaded and validated workflow definition
type Workflow struct {
	Name        string            `yaml:"name"`
	Description string            `yaml:"description,omitempty"`
	Vars        map[string]string `yaml:"vars,omitempty"`
	Root        *node.Node        `yaml:"root"`

	// Path is the file the workflow was loaded from, if any
	Path string `yaml:"-"`
	// Index is the parent-pointer view over Root
	Index *node.Index `yaml:"-"`
}
