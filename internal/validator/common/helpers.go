package common

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// ValidateRFC3339NanoUTC validates that a timestamp string is RFC3339Nano UTC format with Z suffix
func ValidateRFC3339NanoUTC(ts string, fieldName string, issues *[]ValidationIssue) (time.Time, bool) {
	if ts == "" {
		*issues = append(*issues, ValidationIssue{
			Type:    IssueError,
			Field:   fieldName,
			Message: "timestamp cannot be empty",
		})
		return time.Time{}, false
	}

	parsed, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		*issues = append(*issues, ValidationIssue{
			Type:    IssueError,
			Field:   fieldName,
			Message: fmt.Sprintf("invalid RFC3339Nano format: %v", err),
		})
		return time.Time{}, false
	}

	// Must end with Z (UTC)
	if !strings.HasSuffix(ts, "Z") {
		*issues = append(*issues, ValidationIssue{
			Type:    IssueError,
			Field:   fieldName,
			Message: "timestamp must be UTC (Z suffix)",
		})
		return parsed, false
	}
	return parsed, true
}

// ValidateRequiredKeys checks that all required keys are present and warns about keys outside known
func ValidateRequiredKeys(data map[string]interface{}, required []string, known []string, issues *[]ValidationIssue) {
	for _, key := range required {
		if _, exists := data[key]; !exists {
			*issues = append(*issues, ValidationIssue{
				Type:    IssueError,
				Field:   key,
				Message: fmt.Sprintf("missing required key: %s", key),
			})
		}
	}

	knownSet := make(map[string]bool, len(known))
	for _, k := range known {
		knownSet[k] = true
	}
	var unknown []string
	for key := range data {
		if !knownSet[key] {
			unknown = append(unknown, key)
		}
	}
	sort.Strings(unknown)
	for _, key := range unknown {
		*issues = append(*issues, ValidationIssue{
			Type:    IssueWarn,
			Field:   key,
			Message: fmt.Sprintf("unknown key: %s", key),
		})
	}
}

// ValidateStringValue validates that a value is a non-empty string and returns it
func ValidateStringValue(value interface{}, fieldName string, issues *[]ValidationIssue) (string, bool) {
	s, ok := value.(string)
	if !ok {
		*issues = append(*issues, ValidationIssue{
			Type:    IssueError,
			Field:   fieldName,
			Message: "must be a string",
		})
		return "", false
	}
	if strings.TrimSpace(s) == "" {
		*issues = append(*issues, ValidationIssue{
			Type:    IssueError,
			Field:   fieldName,
			Message: "must not be empty",
		})
		return "", false
	}
	return s, true
}

// ValidateIntValue validates an integer value with an optional lower bound
func ValidateIntValue(value interface{}, fieldName string, minValue *int, issues *[]ValidationIssue) {
	f, ok := value.(float64) // JSON numbers are float64
	if !ok || f != float64(int(f)) {
		*issues = append(*issues, ValidationIssue{
			Type:    IssueError,
			Field:   fieldName,
			Message: "must be an integer",
		})
		return
	}
	if minValue != nil && int(f) < *minValue {
		*issues = append(*issues, ValidationIssue{
			Type:    IssueError,
			Field:   fieldName,
			Message: fmt.Sprintf("must be >= %d", *minValue),
		})
	}
}
