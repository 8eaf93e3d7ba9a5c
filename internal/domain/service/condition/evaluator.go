package condition

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/spf13/afero"

	"github.com/YoshitsuguKoike/deeflow/internal/domain/flow"
	"github.com/YoshitsuguKoike/deeflow/internal/domain/model/node"
)

// TestResultProvider reports the latest status of a named test target
type TestResultProvider interface {
	Status(ctx context.Context, key string) (string, error)
}

// TestResultFunc adapts a function to TestResultProvider
type TestResultFunc func(ctx context.Context, key string) (string, error)

// Status implements TestResultProvider
func (f TestResultFunc) Status(ctx context.Context, key string) (string, error) {
	return f(ctx, key)
}

// Predicate is an injected check used by custom conditions
type Predicate func(ctx context.Context, cond node.Descriptor, snapshot map[string]string) (bool, error)

// Evaluator maps a condition descriptor and a memory snapshot to a boolean.
// It only compares; raw signals come from the injected providers.
type Evaluator struct {
	fs         afero.Fs
	tests      TestResultProvider
	predicates map[string]Predicate

	regexMu sync.Mutex
	regexes map[string]*regexp.Regexp
}

// Option configures an Evaluator
type Option func(*Evaluator)

// WithFs sets the filesystem used by file_exists conditions
func WithFs(fs afero.Fs) Option {
	return func(e *Evaluator) { e.fs = fs }
}

// WithTestResults sets the provider used by test_result conditions
func WithTestResults(p TestResultProvider) Option {
	return func(e *Evaluator) { e.tests = p }
}

// WithPredicate registers a custom predicate under name
func WithPredicate(name string, p Predicate) Option {
	return func(e *Evaluator) { e.predicates[name] = p }
}

// WithPredicates registers several custom predicates
func WithPredicates(ps map[string]Predicate) Option {
	return func(e *Evaluator) {
		for name, p := range ps {
			e.predicates[name] = p
		}
	}
}

// NewEvaluator creates an evaluator backed by the OS filesystem unless overridden
func NewEvaluator(opts ...Option) *Evaluator {
	e := &Evaluator{
		fs:         afero.NewOsFs(),
		predicates: make(map[string]Predicate),
		regexes:    make(map[string]*regexp.Regexp),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate resolves the condition's signal and compares it with Expected
func (e *Evaluator) Evaluate(ctx context.Context, cond node.Descriptor, snapshot map[string]string) (bool, error) {
	if err := node.ValidateDescriptor(cond); err != nil {
		return false, err
	}

	var (
		actual   string
		present  = true
		expected = cond.Expected
	)

	switch cond.Type {
	case node.ConditionMemoryCheck:
		actual, present = snapshot[cond.Key]

	case node.ConditionTestResult:
		if e.tests == nil {
			return false, invalid(cond, "no test result provider configured")
		}
		status, err := e.tests.Status(ctx, cond.Key)
		if err != nil {
			return false, fmt.Errorf("test result %q: %w", cond.Key, err)
		}
		actual = status
		if expected == "" {
			expected = "passed"
		}

	case node.ConditionFileExists:
		exists, err := fileExists(e.fs, cond.Key)
		if err != nil {
			return false, invalid(cond, "file check: %v", err)
		}
		actual = strconv.FormatBool(exists)
		if expected == "" {
			expected = "true"
		}

	case node.ConditionCustom:
		p, ok := e.predicates[cond.Key]
		if !ok {
			return false, invalid(cond, "no custom predicate named %q", cond.Key)
		}
		held, err := p(ctx, cond, snapshot)
		if err != nil {
			return false, fmt.Errorf("custom predicate %q: %w", cond.Key, err)
		}
		actual = strconv.FormatBool(held)
		if expected == "" {
			expected = "true"
		}

	default:
		return false, invalid(cond, "unknown condition type %q", cond.Type)
	}

	return e.compare(cond, actual, present, expected)
}

func (e *Evaluator) compare(cond node.Descriptor, actual string, present bool, expected string) (bool, error) {
	op := cond.EffectiveOperator()
	switch op {
	case node.OpExists:
		return present, nil
	case node.OpNotExists:
		return !present, nil
	case node.OpEquals:
		return equal(actual, expected), nil
	case node.OpNotEquals:
		return !equal(actual, expected), nil
	case node.OpContains:
		return strings.Contains(actual, expected), nil
	case node.OpNotContains:
		return !strings.Contains(actual, expected), nil
	case node.OpGreaterThan:
		return order(actual, expected) > 0, nil
	case node.OpLessThan:
		return order(actual, expected) < 0, nil
	case node.OpMatchesRegex:
		re, err := e.regex(expected)
		if err != nil {
			return false, invalid(cond, "regex compile failed: %v", err)
		}
		return re.MatchString(actual), nil
	default:
		return false, invalid(cond, "unknown operator %q", op)
	}
}

func (e *Evaluator) regex(pattern string) (*regexp.Regexp, error) {
	e.regexMu.Lock()
	defer e.regexMu.Unlock()
	if re, ok := e.regexes[pattern]; ok {
		return re, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	e.regexes[pattern] = re
	return re, nil
}

// equal compares numerically when both sides are numbers
func equal(a, b string) bool {
	if x, y, ok := numbers(a, b); ok {
		return x == y
	}
	return a == b
}

// order compares numerically when possible, lexicographically otherwise
func order(a, b string) int {
	if x, y, ok := numbers(a, b); ok {
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		default:
			return 0
		}
	}
	return strings.Compare(a, b)
}

func numbers(a, b string) (float64, float64, bool) {
	x, err := strconv.ParseFloat(strings.TrimSpace(a), 64)
	if err != nil {
		return 0, 0, false
	}
	y, err := strconv.ParseFloat(strings.TrimSpace(b), 64)
	if err != nil {
		return 0, 0, false
	}
	return x, y, true
}

func invalid(cond node.Descriptor, format string, args ...interface{}) error {
	return flow.ErrInvalidCondition.WithMessage(format, args...).WithDetails(map[string]interface{}{
		"condition": cond.String(),
	})
}
