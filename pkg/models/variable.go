package models

import (
	"encoding/json"
	"regexp"
)

// VariableType distinguishes sequence-scoped variable kinds.
type VariableType string

const (
	// VariableGlobal is a fixed value available throughout the sequence.
	VariableGlobal VariableType = "global"
	// VariableInput is supplied (or overridden) at run time.
	VariableInput VariableType = "input"
)

// Valid reports whether t is a known variable type.
func (t VariableType) Valid() bool {
	return t == VariableGlobal || t == VariableInput
}

// VariableNameRe constrains variable names to template-addressable
// identifiers.
var VariableNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Variable is a sequence-scoped named value. For GLOBAL variables the
// payload is {"value": ...}; for INPUT variables {"default": ..., "type_hint": ...}.
// Names are unique within a sequence.
type Variable struct {
	ID          int64           `json:"id"`
	SequenceID  int64           `json:"sequence_id"`
	Name        string          `json:"name"`
	Type        VariableType    `json:"type"`
	Value       json.RawMessage `json:"value_json,omitempty"`
	Description string          `json:"description,omitempty"`
}

// GlobalValue extracts the "value" field of a GLOBAL variable's payload.
// Returns (nil, false) when the payload is absent or has no value key.
func (v *Variable) GlobalValue() (any, bool) {
	return v.payloadField("value")
}

// InputDefault extracts the "default" field of an INPUT variable's payload.
func (v *Variable) InputDefault() (any, bool) {
	return v.payloadField("default")
}

func (v *Variable) payloadField(key string) (any, bool) {
	if len(v.Value) == 0 {
		return nil, false
	}
	var payload map[string]any
	if err := json.Unmarshal(v.Value, &payload); err != nil {
		return nil, false
	}
	val, ok := payload[key]
	return val, ok
}

// AvailableVariable is one addressable name in a sequence's templates,
// tagged by where it comes from. Feeds prompt-authoring UIs.
type AvailableVariable struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Source      string `json:"source"`
	Description string `json:"description,omitempty"`
}
