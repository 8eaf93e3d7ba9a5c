package common

import "time"

// Issue types
const (
	IssueOK    = "ok"
	IssueWarn  = "warn"
	IssueError = "error"
)

// ValidationIssue represents a single validation issue
type ValidationIssue struct {
	Type    string `json:"type"` // "ok", "warn", "error"
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// LineResult represents validation result for a single NDJSON line
type LineResult struct {
	Line   int               `json:"line"`
	Issues []ValidationIssue `json:"issues"`
}

// ValidationResult represents the complete validation result of one file
type ValidationResult struct {
	Version     int          `json:"version"`
	GeneratedAt string       `json:"generated_at"`
	File        string       `json:"file"`
	Lines       []LineResult `json:"lines"`
	Summary     Summary      `json:"summary"`
}

// Summary contains validation statistics
type Summary struct {
	Lines int `json:"lines"`
	OK    int `json:"ok"`
	Warn  int `json:"warn"`
	Error int `json:"error"`
}

// NewValidationResult creates a new validation result for file
func NewValidationResult(file string) *ValidationResult {
	return &ValidationResult{
		Version:     1,
		GeneratedAt: time.Now().UTC().Format(time.RFC3339Nano),
		File:        file,
		Lines:       []LineResult{},
	}
}

// AddLineResult adds a line result and updates summary.
// A line counts once, as its most severe issue.
func (vr *ValidationResult) AddLineResult(lr LineResult) {
	vr.Lines = append(vr.Lines, lr)
	vr.Summary.Lines++

	hasError := false
	hasWarn := false
	for _, issue := range lr.Issues {
		switch issue.Type {
		case IssueError:
			hasError = true
		case IssueWarn:
			hasWarn = true
		}
	}

	if hasError {
		vr.Summary.Error++
	} else if hasWarn {
		vr.Summary.Warn++
	} else {
		vr.Summary.OK++
	}
}

// Failed reports whether any line has an error
func (vr *ValidationResult) Failed() bool {
	return vr.Summary.Error > 0
}
