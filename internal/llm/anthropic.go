package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/promptseq/promptseq/internal/config"
	"github.com/promptseq/promptseq/internal/observability"
	"github.com/promptseq/promptseq/pkg/models"
)

// MessagesClient is the slice of the Anthropic SDK used here. Narrowing to
// the one method keeps the provider mockable in tests.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// pricePerMTok is USD per million tokens, input/output.
type pricePerMTok struct {
	in  float64
	out float64
}

// modelPrices covers the models the service is expected to run. Unknown
// models report zero cost rather than guessing.
var modelPrices = map[string]pricePerMTok{
	"claude-3-opus-20240229":     {in: 15.0, out: 75.0},
	"claude-3-sonnet-20240229":   {in: 3.0, out: 15.0},
	"claude-3-haiku-20240307":    {in: 0.25, out: 1.25},
	"claude-3-5-sonnet-20241022": {in: 3.0, out: 15.0},
	"claude-sonnet-4-20250514":   {in: 3.0, out: 15.0},
	"claude-opus-4-20250514":     {in: 15.0, out: 75.0},
}

// AnthropicProvider implements Provider over the official SDK with a fixed
// per-call deadline.
type AnthropicProvider struct {
	client       MessagesClient
	defaultModel string
	maxTokens    int64
	timeout      time.Duration
	logger       *observability.Logger
	metrics      *observability.Metrics
}

// NewAnthropicProvider builds a provider from config, creating a real SDK
// client from the API key.
func NewAnthropicProvider(cfg config.LLMConfig, logger *observability.Logger, metrics *observability.Metrics) (*AnthropicProvider, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	client := sdk.NewClient(option.WithAPIKey(cfg.APIKey))
	return NewAnthropicProviderWithClient(&client.Messages, cfg, logger, metrics), nil
}

// NewAnthropicProviderWithClient wires an explicit messages client; tests
// pass a fake.
func NewAnthropicProviderWithClient(client MessagesClient, cfg config.LLMConfig, logger *observability.Logger, metrics *observability.Metrics) *AnthropicProvider {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 2048
	}
	return &AnthropicProvider{
		client:       client,
		defaultModel: cfg.DefaultModel,
		maxTokens:    int64(maxTokens),
		timeout:      timeout,
		logger:       logger,
		metrics:      metrics,
	}
}

// Complete issues one non-streaming messages call and returns the
// concatenated text blocks of the reply.
func (p *AnthropicProvider) Complete(ctx context.Context, req Request) (*Completion, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.maxTokens
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	msg, err := p.client.New(ctx, sdk.MessageNewParams{
		Model:     sdk.Model(model),
		MaxTokens: maxTokens,
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(req.Prompt)),
		},
	})
	elapsed := time.Since(start)
	if p.metrics != nil {
		p.metrics.LLMRequestDuration.WithLabelValues(model).Observe(elapsed.Seconds())
	}
	if err != nil {
		p.countRequest(model, "error")
		p.logger.Warn(ctx, "llm request failed", "model", model, "duration_ms", elapsed.Milliseconds(), "error", err)
		return nil, p.wrapError(err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		p.countRequest(model, "error")
		return nil, fmt.Errorf("%w: no text content in reply", ErrMalformedResponse)
	}

	usage := models.TokenUsage{
		PromptTokens:     int(msg.Usage.InputTokens),
		CompletionTokens: int(msg.Usage.OutputTokens),
	}
	p.countRequest(model, "success")
	if p.metrics != nil {
		p.metrics.LLMTokensUsed.WithLabelValues(model, "prompt").Add(float64(usage.PromptTokens))
		p.metrics.LLMTokensUsed.WithLabelValues(model, "completion").Add(float64(usage.CompletionTokens))
	}
	p.logger.Debug(ctx, "llm request completed",
		"model", model,
		"duration_ms", elapsed.Milliseconds(),
		"prompt_tokens", usage.PromptTokens,
		"completion_tokens", usage.CompletionTokens,
	)

	return &Completion{
		Text:    text.String(),
		Usage:   usage,
		CostUSD: estimateCost(model, usage),
	}, nil
}

func (p *AnthropicProvider) countRequest(model, status string) {
	if p.metrics != nil {
		p.metrics.LLMRequestCounter.WithLabelValues(model, status).Inc()
	}
}

func (p *AnthropicProvider) wrapError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%w: status %d: %v", ErrUnavailable, apiErr.StatusCode, err)
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

// estimateCost converts token usage to USD using the static price table.
func estimateCost(model string, usage models.TokenUsage) float64 {
	price, ok := modelPrices[model]
	if !ok {
		return 0
	}
	return float64(usage.PromptTokens)/1e6*price.in + float64(usage.CompletionTokens)/1e6*price.out
}
