package flow

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Error represents a coded control-flow error.
// Details carries the node id, round/iteration and condition needed to
// explain the failure from the state log alone.
type Error struct {
	Code    string
	Message string
	Details map[string]interface{}
}

// Error implements the error interface
func (e Error) Error() string {
	if len(e.Details) == 0 {
		return fmt.Sprintf("[%s] %s", e.Code, e.Message)
	}
	keys := make([]string, 0, len(e.Details))
	for k := range e.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, e.Details[k]))
	}
	return fmt.Sprintf("[%s] %s (%s)", e.Code, e.Message, strings.Join(parts, " "))
}

// Is matches errors by code so callers can use errors.Is against the sentinels
func (e Error) Is(target error) bool {
	var other Error
	if !errors.As(target, &other) {
		return false
	}
	return e.Code == other.Code
}

// WithDetails returns a copy of the error carrying details
func (e Error) WithDetails(details map[string]interface{}) Error {
	e.Details = details
	return e
}

// WithMessage returns a copy of the error with a more specific message
func (e Error) WithMessage(format string, args ...interface{}) Error {
	e.Message = fmt.Sprintf(format, args...)
	return e
}

// Control-flow error taxonomy
var (
	ErrInvalidCondition = Error{
		Code:    "INVALID_CONDITION",
		Message: "Condition descriptor cannot be evaluated",
	}

	ErrInvalidNode = Error{
		Code:    "INVALID_NODE",
		Message: "Node configuration is invalid",
	}

	ErrMissingBranch = Error{
		Code:    "MISSING_BRANCH",
		Message: "Conditional has no branch for the evaluated outcome",
	}

	ErrInvalidFeedback = Error{
		Code:    "INVALID_FEEDBACK",
		Message: "Feedback message is malformed",
	}

	ErrRoundLimitExceeded = Error{
		Code:    "ROUND_LIMIT_EXCEEDED",
		Message: "Feedback round limit reached for this node pair",
	}

	ErrChainTooDeep = Error{
		Code:    "CHAIN_TOO_DEEP",
		Message: "Feedback chain exceeds the maximum depth",
	}

	ErrCycleDetected = Error{
		Code:    "CYCLE_DETECTED",
		Message: "Feedback chain revisits a node",
	}

	ErrTargetNotAncestor = Error{
		Code:    "TARGET_NOT_ANCESTOR",
		Message: "Feedback target is not an ancestor of the sender",
	}

	ErrMaxRoundsExhausted = Error{
		Code:    "MAX_ROUNDS_EXHAUSTED",
		Message: "Feedback rounds exhausted without successful verification",
	}

	ErrLoopMaxIterations = Error{
		Code:    "LOOP_MAX_ITERATIONS",
		Message: "Loop exhausted its iteration budget",
	}

	ErrLoopTimedOut = Error{
		Code:    "LOOP_TIMED_OUT",
		Message: "Loop exceeded its time budget",
	}
)

// CodeOf extracts the error code, or "" when err is not a flow error
func CodeOf(err error) string {
	var fe Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return ""
}

// IsConfigError reports whether err is a configuration error that must fail fast
func IsConfigError(err error) bool {
	switch CodeOf(err) {
	case ErrInvalidCondition.Code, ErrInvalidNode.Code, ErrMissingBranch.Code:
		return true
	default:
		return false
	}
}

// IsLoopPrevention reports whether err is one of the feedback loop-prevention refusals
func IsLoopPrevention(err error) bool {
	switch CodeOf(err) {
	case ErrRoundLimitExceeded.Code, ErrChainTooDeep.Code, ErrCycleDetected.Code, ErrTargetNotAncestor.Code:
		return true
	default:
		return false
	}
}
