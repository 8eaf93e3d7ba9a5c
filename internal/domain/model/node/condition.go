package node

import (
	"encoding/hex"
	"strconv"

	"github.com/zeebo/blake3"
)

// ConditionType selects where a condition reads its signal from
type ConditionType string

const (
	ConditionMemoryCheck ConditionType = "memory_check"
	ConditionTestResult  ConditionType = "test_result"
	ConditionFileExists  ConditionType = "file_exists"
	ConditionCustom      ConditionType = "custom"
)

// IsValid validates the condition type
func (t ConditionType) IsValid() bool {
	switch t {
	case ConditionMemoryCheck, ConditionTestResult, ConditionFileExists, ConditionCustom:
		return true
	default:
		return false
	}
}

// Operator is a comparison operator
type Operator string

const (
	OpEquals       Operator = "equals"
	OpNotEquals    Operator = "notEquals"
	OpContains     Operator = "contains"
	OpNotContains  Operator = "notContains"
	OpGreaterThan  Operator = "greaterThan"
	OpLessThan     Operator = "lessThan"
	OpMatchesRegex Operator = "matchesRegex"
	OpExists       Operator = "exists"
	OpNotExists    Operator = "notExists"
)

// IsValid validates the operator
func (o Operator) IsValid() bool {
	switch o {
	case OpEquals, OpNotEquals, OpContains, OpNotContains,
		OpGreaterThan, OpLessThan, OpMatchesRegex, OpExists, OpNotExists:
		return true
	default:
		return false
	}
}

// Descriptor is an immutable condition value compared structurally
type Descriptor struct {
	Type     ConditionType `yaml:"type" json:"type"`
	Key      string        `yaml:"key" json:"key"`
	Operator Operator      `yaml:"operator,omitempty" json:"operator,omitempty"`
	Expected string        `yaml:"expected,omitempty" json:"expected,omitempty"`
}

// EffectiveOperator defaults an empty operator to equals
func (d Descriptor) EffectiveOperator() Operator {
	if d.Operator == "" {
		return OpEquals
	}
	return d.Operator
}

// Fingerprint returns a stable structural key for the descriptor.
// Equal descriptors always produce the same fingerprint.
func (d Descriptor) Fingerprint() string {
	return FingerprintOf(string(d.Type), d.Key, string(d.EffectiveOperator()), d.Expected)
}

// FingerprintOf hashes length-prefixed parts so that no two part lists collide
func FingerprintOf(parts ...string) string {
	h := blake3.New()
	for _, p := range parts {
		_, _ = h.Write([]byte(strconv.Itoa(len(p)) + ":" + p))
	}
	sum := h.Sum(nil)
	return hex.EncodeToString(sum[:16])
}

// String renders the descriptor for logs and event payloads
func (d Descriptor) String() string {
	return string(d.Type) + "(" + d.Key + " " + string(d.EffectiveOperator()) + " " + d.Expected + ")"
}
