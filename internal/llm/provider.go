// Package llm abstracts the completion provider behind a small interface so
// the execution engine can be tested against a fake.
package llm

import (
	"context"
	"errors"

	"github.com/promptseq/promptseq/pkg/models"
)

var (
	// ErrUnavailable is returned when the provider rejects or cannot reach
	// the upstream API.
	ErrUnavailable = errors.New("llm provider unavailable")

	// ErrTimeout is returned when a call exceeds its deadline.
	ErrTimeout = errors.New("llm request timed out")

	// ErrMalformedResponse is returned when the upstream reply carries no
	// usable text content.
	ErrMalformedResponse = errors.New("llm response malformed")
)

// Request is a single-turn completion request.
type Request struct {
	Prompt    string
	Model     string
	MaxTokens int64
}

// Completion is the provider's reply plus accounting.
type Completion struct {
	Text    string
	Usage   models.TokenUsage
	CostUSD float64
}

// Provider issues one blocking completion per call. Implementations must be
// safe for concurrent use; list blocks fan calls out in parallel.
type Provider interface {
	Complete(ctx context.Context, req Request) (*Completion, error)
}
