package providers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/fathomlabs/fathom/internal/metrics"
)

// OpenAIGenerator adapts an OpenAI-compatible chat endpoint to the Generator
// contract. One instance serves one role; build three for a provider Set.
type OpenAIGenerator struct {
	client *openai.Client
	model  string
	role   string
	logger *zap.Logger

	maxRetries  uint64
	maxInterval time.Duration
}

// NewOpenAIGenerator creates an adapter for a role. baseURL may be empty for
// the default endpoint; search-grounded providers point it elsewhere.
func NewOpenAIGenerator(apiKey, baseURL, model, role string, logger *zap.Logger) *OpenAIGenerator {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIGenerator{
		client:      openai.NewClientWithConfig(cfg),
		model:       model,
		role:        role,
		logger:      logger,
		maxRetries:  4,
		maxInterval: 8 * time.Second,
	}
}

// Model returns the adapter's model name for price-table lookup.
func (g *OpenAIGenerator) Model() string { return g.model }

// Generate runs one chat completion with bounded exponential retry on rate
// limits and server errors. Client errors (4xx other than 429) fail fast.
func (g *OpenAIGenerator) Generate(ctx context.Context, prompt string, opts Options) (Generation, error) {
	req := openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: opts.Temperature,
	}
	if opts.Instructions != "" {
		req.Messages = append([]openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: opts.Instructions},
		}, req.Messages...)
	}
	if opts.MaxTokens > 0 {
		req.MaxTokens = opts.MaxTokens
	}

	start := time.Now()
	var resp openai.ChatCompletionResponse
	operation := func() error {
		var err error
		resp, err = g.client.CreateChatCompletion(ctx, req)
		if err == nil {
			return nil
		}
		if retryable(err) {
			return err
		}
		return backoff.Permanent(err)
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(newExponential(g.maxInterval), g.maxRetries), ctx)
	err := backoff.Retry(operation, policy)
	metrics.ProviderCallDuration.WithLabelValues(g.role).Observe(float64(time.Since(start).Milliseconds()))
	if err != nil {
		metrics.ProviderCalls.WithLabelValues(g.role, "error").Inc()
		g.logger.Warn("Provider call failed after retries",
			zap.String("role", g.role),
			zap.String("model", g.model),
			zap.Error(err),
		)
		return Generation{}, fmt.Errorf("%s generation: %w", g.role, err)
	}
	if len(resp.Choices) == 0 {
		metrics.ProviderCalls.WithLabelValues(g.role, "empty").Inc()
		return Generation{}, fmt.Errorf("%s generation: no choices returned", g.role)
	}

	metrics.ProviderCalls.WithLabelValues(g.role, "ok").Inc()
	return Generation{
		Text: resp.Choices[0].Message.Content,
		Usage: Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}, nil
}

func newExponential(maxInterval time.Duration) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = maxInterval
	return b
}

func retryable(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == 429 || reqErr.HTTPStatusCode >= 500
	}
	// Transport-level errors (timeouts, resets) are retryable.
	return true
}
