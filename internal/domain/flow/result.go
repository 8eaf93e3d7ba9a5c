package flow

import "github.com/YoshitsuguKoike/deeflow/internal/domain/model/feedback"

// Status is the terminal status of a node execution
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
	StatusTimeout Status = "timeout"
)

// String returns the string representation
func (s Status) String() string {
	return string(s)
}

// IsValid validates the status
func (s Status) IsValid() bool {
	switch s {
	case StatusSuccess, StatusFailure, StatusTimeout:
		return true
	default:
		return false
	}
}

// Result is the outcome of executing a node.
// Feedback is set when the node asks an ancestor for a fix.
type Result struct {
	Status   Status
	Detail   string
	Feedback *feedback.Message
}

// Success builds a successful result
func Success(detail string) Result {
	return Result{Status: StatusSuccess, Detail: detail}
}

// Failure builds a failed result
func Failure(detail string) Result {
	return Result{Status: StatusFailure, Detail: detail}
}

// Timeout builds a timed out result
func Timeout(detail string) Result {
	return Result{Status: StatusTimeout, Detail: detail}
}

// OK reports whether the result is a success
func (r Result) OK() bool {
	return r.Status == StatusSuccess
}
