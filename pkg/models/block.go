package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// BlockType identifies the execution semantics of a block.
type BlockType string

const (
	BlockStandard       BlockType = "standard"
	BlockDiscretization BlockType = "discretization"
	BlockSingleList     BlockType = "single_list"
	BlockMultiList      BlockType = "multi_list"
)

// Valid reports whether t is a known block type.
func (t BlockType) Valid() bool {
	switch t {
	case BlockStandard, BlockDiscretization, BlockSingleList, BlockMultiList:
		return true
	}
	return false
}

// Block is one step of a sequence. Config is a tagged variant: exactly one
// of the payload pointers is non-nil, matching Type. Invalid configs are
// rejected when the block is decoded, not when it executes.
type Block struct {
	ID         int64     `json:"id"`
	SequenceID int64     `json:"sequence_id"`
	Name       string    `json:"name"`
	Type       BlockType `json:"type"`

	// Order is the integer key for total ordering within the sequence.
	// Ties are broken by id.
	Order int `json:"order"`

	Config    BlockConfig `json:"config"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// BlockConfig holds the typed configuration for a block. Exactly one field
// is non-nil for a given block type.
type BlockConfig struct {
	Standard       *StandardConfig       `json:"-"`
	Discretization *DiscretizationConfig `json:"-"`
	SingleList     *SingleListConfig     `json:"-"`
	MultiList      *MultiListConfig      `json:"-"`
}

// StandardConfig renders one prompt, calls the LLM once, and stores the
// reply under OutputVariableName.
type StandardConfig struct {
	Prompt             string `json:"prompt"`
	OutputVariableName string `json:"output_variable_name"`
}

// DiscretizationConfig renders one prompt and parses the reply into the
// named fields of OutputNames.
type DiscretizationConfig struct {
	Prompt      string   `json:"prompt"`
	OutputNames []string `json:"output_names"`
}

// SingleListConfig fans the prompt out over each item of an input list.
type SingleListConfig struct {
	Prompt                 string `json:"prompt"`
	InputListVariableName  string `json:"input_list_variable_name"`
	OutputListVariableName string `json:"output_list_variable_name,omitempty"`
}

// InputListRef names one input list of a multi-list block. Priority is
// reserved for lock-step iteration; lists with distinct priorities are
// cross-producted in declared order.
type InputListRef struct {
	Name     string `json:"name"`
	Priority int    `json:"priority"`
}

// MultiListConfig fans the prompt out over the outer product of two or
// more input lists, producing a nested result matrix.
type MultiListConfig struct {
	Prompt                   string         `json:"prompt"`
	InputLists               []InputListRef `json:"input_lists_config"`
	OutputMatrixVariableName string         `json:"output_matrix_variable_name,omitempty"`
}

// ConfigError reports a block config that does not match its type.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "invalid block config: " + e.Reason
}

// DecodeBlockConfig parses raw config JSON for the given block type,
// applies defaults, and validates the result.
func DecodeBlockConfig(t BlockType, raw json.RawMessage) (BlockConfig, error) {
	var cfg BlockConfig
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	switch t {
	case BlockStandard:
		var c StandardConfig
		if err := json.Unmarshal(raw, &c); err != nil {
			return cfg, &ConfigError{Reason: err.Error()}
		}
		if strings.TrimSpace(c.OutputVariableName) == "" {
			c.OutputVariableName = "output"
		}
		cfg.Standard = &c
	case BlockDiscretization:
		var c DiscretizationConfig
		if err := json.Unmarshal(raw, &c); err != nil {
			return cfg, &ConfigError{Reason: err.Error()}
		}
		if len(c.OutputNames) == 0 {
			return cfg, &ConfigError{Reason: "discretization block requires non-empty output_names"}
		}
		seen := make(map[string]bool, len(c.OutputNames))
		for _, name := range c.OutputNames {
			if strings.TrimSpace(name) == "" {
				return cfg, &ConfigError{Reason: "output_names entries must be non-empty"}
			}
			if seen[name] {
				return cfg, &ConfigError{Reason: fmt.Sprintf("duplicate output name %q", name)}
			}
			seen[name] = true
		}
		cfg.Discretization = &c
	case BlockSingleList:
		var c SingleListConfig
		if err := json.Unmarshal(raw, &c); err != nil {
			return cfg, &ConfigError{Reason: err.Error()}
		}
		if strings.TrimSpace(c.InputListVariableName) == "" {
			return cfg, &ConfigError{Reason: "single_list block requires input_list_variable_name"}
		}
		cfg.SingleList = &c
	case BlockMultiList:
		var c MultiListConfig
		if err := json.Unmarshal(raw, &c); err != nil {
			return cfg, &ConfigError{Reason: err.Error()}
		}
		if len(c.InputLists) < 2 {
			return cfg, &ConfigError{Reason: "multi_list block requires at least two input lists"}
		}
		names := make(map[string]bool, len(c.InputLists))
		priorities := make(map[int]bool, len(c.InputLists))
		for _, ref := range c.InputLists {
			if strings.TrimSpace(ref.Name) == "" {
				return cfg, &ConfigError{Reason: "input list name must be non-empty"}
			}
			if ref.Priority < 1 {
				return cfg, &ConfigError{Reason: fmt.Sprintf("input list %q has priority %d; must be >= 1", ref.Name, ref.Priority)}
			}
			if names[ref.Name] {
				return cfg, &ConfigError{Reason: fmt.Sprintf("duplicate input list %q", ref.Name)}
			}
			// Lock-step iteration of equal-priority lists is not supported;
			// reject rather than silently cross-product.
			if priorities[ref.Priority] {
				return cfg, &ConfigError{Reason: fmt.Sprintf("duplicate priority %d: lock-step lists are not supported", ref.Priority)}
			}
			names[ref.Name] = true
			priorities[ref.Priority] = true
		}
		cfg.MultiList = &c
	default:
		return cfg, &ConfigError{Reason: fmt.Sprintf("unknown block type %q", t)}
	}
	return cfg, nil
}

// EncodeBlockConfig serializes the populated config variant back to JSON.
func EncodeBlockConfig(cfg BlockConfig) (json.RawMessage, error) {
	switch {
	case cfg.Standard != nil:
		return json.Marshal(cfg.Standard)
	case cfg.Discretization != nil:
		return json.Marshal(cfg.Discretization)
	case cfg.SingleList != nil:
		return json.Marshal(cfg.SingleList)
	case cfg.MultiList != nil:
		return json.Marshal(cfg.MultiList)
	}
	return nil, &ConfigError{Reason: "no config variant set"}
}

// MarshalJSON emits the populated variant as the flat config object used on
// the wire and in the blocks table.
func (c BlockConfig) MarshalJSON() ([]byte, error) {
	raw, err := EncodeBlockConfig(c)
	if err != nil {
		return []byte("{}"), nil
	}
	return raw, nil
}

// OutputListName returns the single-list output variable name, falling back
// to the id-derived default.
func (b *Block) OutputListName() string {
	if c := b.Config.SingleList; c != nil && strings.TrimSpace(c.OutputListVariableName) != "" {
		return c.OutputListVariableName
	}
	return fmt.Sprintf("output_list_%d", b.ID)
}

// OutputMatrixName returns the multi-list output variable name, falling back
// to the id-derived default.
func (b *Block) OutputMatrixName() string {
	if c := b.Config.MultiList; c != nil && strings.TrimSpace(c.OutputMatrixVariableName) != "" {
		return c.OutputMatrixVariableName
	}
	return fmt.Sprintf("output_matrix_%d", b.ID)
}
