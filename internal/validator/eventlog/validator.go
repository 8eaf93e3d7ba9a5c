// Package eventlog checks a run's events.ndjson for records the engine
// could not have written: malformed JSON, unknown event types, non-UTC
// timestamps, duplicate ids and completions without a start.
package eventlog

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/YoshitsuguKoike/deeflow/internal/domain/model/event"
	"github.com/YoshitsuguKoike/deeflow/internal/validator/common"
)

// maxLineSize bounds one record; payloads carry command output tails only
const maxLineSize = 4 << 20

var (
	requiredKeys = []string{"id", "ts", "node_id", "event_type"}
	knownKeys    = []string{"id", "ts", "run_id", "node_id", "event_type", "payload"}
)

// Validator checks one event log. It is stateful: records are checked in order.
type Validator struct {
	filePath string
	seen     map[string]int
	open     map[string]int
	lastTS   time.Time
}

// NewValidator creates a validator for the file at filePath
func NewValidator(filePath string) *Validator {
	return &Validator{
		filePath: filePath,
		seen:     make(map[string]int),
		open:     make(map[string]int),
	}
}

// ValidateFile validates an NDJSON event log and returns per-line results
func (v *Validator) ValidateFile(reader io.Reader) (*common.ValidationResult, error) {
	result := common.NewValidationResult(v.filePath)

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("error reading file: %w", err)
	}
	torn := len(data) > 0 && data[len(data)-1] != '\n'

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	lineNumber := 0
	total := bytes.Count(data, []byte("\n"))
	if torn {
		total++
	}
	for scanner.Scan() {
		lineNumber++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if torn && lineNumber == total {
			result.AddLineResult(common.LineResult{Line: lineNumber, Issues: []common.ValidationIssue{{
				Type:    common.IssueError,
				Message: "torn trailing record without newline (run \"deeflow recover\")",
			}}})
			continue
		}
		result.AddLineResult(v.validateLine(line, lineNumber))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading file: %w", err)
	}
	return result, nil
}

func (v *Validator) validateLine(line []byte, lineNumber int) common.LineResult {
	result := common.LineResult{Line: lineNumber, Issues: []common.ValidationIssue{}}

	var raw map[string]interface{}
	if err := json.Unmarshal(line, &raw); err != nil {
		result.Issues = append(result.Issues, common.ValidationIssue{
			Type:    common.IssueError,
			Message: fmt.Sprintf("invalid JSON: %v", err),
		})
		return result
	}

	common.ValidateRequiredKeys(raw, requiredKeys, knownKeys, &result.Issues)

	if id, ok := raw["id"]; ok {
		if s, ok := common.ValidateStringValue(id, "id", &result.Issues); ok {
			if prev, dup := v.seen[s]; dup {
				result.Issues = append(result.Issues, common.ValidationIssue{
					Type:    common.IssueError,
					Field:   "id",
					Message: fmt.Sprintf("duplicate event id (first seen on line %d)", prev),
				})
			} else {
				v.seen[s] = lineNumber
			}
		}
	}

	if ts, ok := raw["ts"].(string); ok {
		if parsed, ok := common.ValidateRFC3339NanoUTC(ts, "ts", &result.Issues); ok {
			if parsed.Before(v.lastTS) {
				result.Issues = append(result.Issues, common.ValidationIssue{
					Type:    common.IssueWarn,
					Field:   "ts",
					Message: "timestamp earlier than the previous record",
				})
			}
			v.lastTS = parsed
		}
	} else if _, present := raw["ts"]; present {
		result.Issues = append(result.Issues, common.ValidationIssue{
			Type:    common.IssueError,
			Field:   "ts",
			Message: "must be a string",
		})
	}

	var nodeID string
	if n, ok := raw["node_id"]; ok {
		nodeID, _ = common.ValidateStringValue(n, "node_id", &result.Issues)
	}

	var payload map[string]interface{}
	if p, ok := raw["payload"]; ok && p != nil {
		if payload, ok = p.(map[string]interface{}); !ok {
			result.Issues = append(result.Issues, common.ValidationIssue{
				Type:    common.IssueError,
				Field:   "payload",
				Message: "must be an object",
			})
		}
	}

	if t, ok := raw["event_type"]; ok {
		if s, ok := common.ValidateStringValue(t, "event_type", &result.Issues); ok {
			typ := event.Type(s)
			if !typ.IsValid() {
				result.Issues = append(result.Issues, common.ValidationIssue{
					Type:    common.IssueError,
					Field:   "event_type",
					Message: fmt.Sprintf("unknown event type: %s", s),
				})
			} else {
				v.checkType(typ, nodeID, payload, &result.Issues)
			}
		}
	}
	return result
}

// checkType applies per-type rules
func (v *Validator) checkType(typ event.Type, nodeID string, payload map[string]interface{}, issues *[]common.ValidationIssue) {
	one := 1
	switch typ {
	case event.TypeNodeStart:
		v.open[nodeID]++
	case event.TypeNodeComplete:
		if v.open[nodeID] == 0 {
			*issues = append(*issues, common.ValidationIssue{
				Type:    common.IssueWarn,
				Field:   "node_id",
				Message: fmt.Sprintf("node_complete for %s without node_start", nodeID),
			})
			return
		}
		v.open[nodeID]--
	case event.TypeLoopIteration:
		it, ok := payload["iteration"]
		if !ok {
			*issues = append(*issues, common.ValidationIssue{
				Type:    common.IssueError,
				Field:   "payload.iteration",
				Message: "missing iteration",
			})
			return
		}
		common.ValidateIntValue(it, "payload.iteration", &one, issues)
	}
}

// Unfinished returns the nodes whose last start has no completion yet
func (v *Validator) Unfinished() []string {
	var out []string
	for id, n := range v.open {
		if n > 0 {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}
