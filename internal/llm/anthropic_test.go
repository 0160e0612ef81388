package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/promptseq/promptseq/internal/config"
	"github.com/promptseq/promptseq/internal/observability"
	"github.com/promptseq/promptseq/pkg/models"
)

// The SDK's message service has pointer-receiver methods; the provider must
// hold it by pointer.
var _ MessagesClient = &sdk.MessageService{}

type fakeMessages struct {
	lastParams sdk.MessageNewParams
	msg        *sdk.Message
	err        error
}

func (f *fakeMessages) New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error) {
	f.lastParams = body
	if f.err != nil {
		return nil, f.err
	}
	return f.msg, nil
}

func testLogger() *observability.Logger {
	return observability.NewLogger(observability.LogConfig{Level: "error", Format: "text"})
}

func newTestProvider(fake *fakeMessages) *AnthropicProvider {
	cfg := config.LLMConfig{DefaultModel: "claude-3-opus-20240229", MaxTokens: 256, Timeout: time.Second}
	return NewAnthropicProviderWithClient(fake, cfg, testLogger(), nil)
}

func TestCompleteReturnsTextAndUsage(t *testing.T) {
	fake := &fakeMessages{
		msg: &sdk.Message{
			Content: []sdk.ContentBlockUnion{
				{Type: "text", Text: "hello "},
				{Type: "text", Text: "world"},
			},
			Usage: sdk.Usage{InputTokens: 12, OutputTokens: 3},
		},
	}
	p := newTestProvider(fake)

	got, err := p.Complete(context.Background(), Request{Prompt: "say hello"})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if got.Text != "hello world" {
		t.Fatalf("unexpected text %q", got.Text)
	}
	if got.Usage.PromptTokens != 12 || got.Usage.CompletionTokens != 3 {
		t.Fatalf("unexpected usage %+v", got.Usage)
	}
	if got.CostUSD <= 0 {
		t.Fatalf("expected positive cost, got %f", got.CostUSD)
	}
	if string(fake.lastParams.Model) != "claude-3-opus-20240229" {
		t.Fatalf("default model not applied: %s", fake.lastParams.Model)
	}
	if fake.lastParams.MaxTokens != 256 {
		t.Fatalf("default max tokens not applied: %d", fake.lastParams.MaxTokens)
	}
}

func TestCompleteOverridesModel(t *testing.T) {
	fake := &fakeMessages{
		msg: &sdk.Message{
			Content: []sdk.ContentBlockUnion{{Type: "text", Text: "ok"}},
		},
	}
	p := newTestProvider(fake)

	if _, err := p.Complete(context.Background(), Request{Prompt: "p", Model: "claude-3-haiku-20240307", MaxTokens: 64}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if string(fake.lastParams.Model) != "claude-3-haiku-20240307" {
		t.Fatalf("model override lost: %s", fake.lastParams.Model)
	}
	if fake.lastParams.MaxTokens != 64 {
		t.Fatalf("max tokens override lost: %d", fake.lastParams.MaxTokens)
	}
}

func TestCompleteEmptyContentIsMalformed(t *testing.T) {
	fake := &fakeMessages{msg: &sdk.Message{}}
	p := newTestProvider(fake)

	_, err := p.Complete(context.Background(), Request{Prompt: "p"})
	if !errors.Is(err, ErrMalformedResponse) {
		t.Fatalf("want ErrMalformedResponse, got %v", err)
	}
}

func TestCompleteTimeout(t *testing.T) {
	fake := &fakeMessages{err: context.DeadlineExceeded}
	p := newTestProvider(fake)

	_, err := p.Complete(context.Background(), Request{Prompt: "p"})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("want ErrTimeout, got %v", err)
	}
}

func TestCompleteUpstreamError(t *testing.T) {
	fake := &fakeMessages{err: errors.New("connection refused")}
	p := newTestProvider(fake)

	_, err := p.Complete(context.Background(), Request{Prompt: "p"})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("want ErrUnavailable, got %v", err)
	}
}

func TestEstimateCostUnknownModel(t *testing.T) {
	cost := estimateCost("some-other-model", models.TokenUsage{PromptTokens: 1000, CompletionTokens: 1000})
	if cost != 0 {
		t.Fatalf("unknown model should cost 0, got %f", cost)
	}
}
