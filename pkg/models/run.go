package models

import (
	"encoding/json"
	"time"
)

// RunStatus is the lifecycle state shared by runs and block runs.
// Transitions are monotone: pending -> running -> terminal.
type RunStatus string

const (
	StatusPending   RunStatus = "pending"
	StatusRunning   RunStatus = "running"
	StatusCompleted RunStatus = "completed"
	StatusFailed    RunStatus = "failed"
	StatusCancelled RunStatus = "cancelled"
)

// Terminal reports whether s is a terminal status.
func (s RunStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Run is one execution attempt of a sequence. Runs are append-only once
// started; completed_at is set iff the status is terminal.
type Run struct {
	ID             int64           `json:"id"`
	SequenceID     int64           `json:"sequence_id"`
	UserID         int64           `json:"user_id"`
	Status         RunStatus       `json:"status"`
	StartedAt      *time.Time      `json:"started_at,omitempty"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
	InputOverrides json.RawMessage `json:"input_overrides_json,omitempty"`
	ResultsSummary json.RawMessage `json:"results_summary_json,omitempty"`

	// BlockRuns are loaded eagerly on aggregate reads, ordered by started_at.
	BlockRuns []*BlockRun `json:"block_runs,omitempty"`
}

// TokenUsage mirrors the provider's token accounting; the orchestrator
// persists it unchanged.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// BlockRun is the per-block trace within a run. Block name and type are
// snapshotted so later block edits do not rewrite history; block_id may
// dangle after the block is deleted.
type BlockRun struct {
	ID                int64     `json:"id"`
	RunID             int64     `json:"run_id"`
	BlockID           int64     `json:"block_id"`
	BlockNameSnapshot string    `json:"block_name_snapshot"`
	BlockTypeSnapshot string    `json:"block_type_snapshot"`
	Status            RunStatus `json:"status"`

	PromptText    string `json:"prompt_text,omitempty"`
	LLMOutputText string `json:"llm_output_text,omitempty"`

	// At most one of the three output payloads is non-nil, matching the
	// block type snapshot.
	NamedOutputs  json.RawMessage `json:"named_outputs_json,omitempty"`
	ListOutputs   json.RawMessage `json:"list_outputs_json,omitempty"`
	MatrixOutputs json.RawMessage `json:"matrix_outputs_json,omitempty"`

	ErrorMessage string      `json:"error_message,omitempty"`
	StartedAt    *time.Time  `json:"started_at,omitempty"`
	CompletedAt  *time.Time  `json:"completed_at,omitempty"`
	TokenUsage   *TokenUsage `json:"token_usage_json,omitempty"`
	Cost         *float64    `json:"cost,omitempty"`
}
