// Package llm is the boundary to the language model that writes executive
// reports.
package llm

import (
	"context"
	"errors"
	"net/http"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/wakala/reconagent/internal/resilience"
)

// ErrThrottled marks a request the provider rejected for rate or capacity
// reasons. Server-side failures come back as resilience.TransientError.
var ErrThrottled = eris.New("model throttled")

// Client completes a single-turn prompt and returns the model's text.
type Client interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// AnthropicConfig configures AnthropicClient.
type AnthropicConfig struct {
	APIKey    string
	Model     string
	MaxTokens int64
	BaseURL   string
}

// AnthropicClient implements Client using the official anthropic-sdk-go.
type AnthropicClient struct {
	client    sdk.Client
	model     string
	maxTokens int64
}

// NewAnthropicClient creates a client backed by the SDK. SDK-level retries
// are disabled; callers own the retry policy.
func NewAnthropicClient(cfg AnthropicConfig) *AnthropicClient {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return &AnthropicClient{
		client:    sdk.NewClient(opts...),
		model:     cfg.Model,
		maxTokens: maxTokens,
	}
}

func (c *AnthropicClient) Complete(ctx context.Context, prompt string) (string, error) {
	msg, err := c.client.Messages.New(ctx, sdk.MessageNewParams{
		Model:       sdk.Model(c.model),
		MaxTokens:   c.maxTokens,
		Temperature: sdk.Float(0),
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		if isThrottle(err) {
			return "", eris.Wrapf(ErrThrottled, "anthropic: %v", err)
		}
		if status := unavailableStatus(err); status != 0 {
			return "", resilience.NewTransientError(eris.Wrap(err, "anthropic: create message"), status)
		}
		return "", eris.Wrap(err, "anthropic: create message")
	}

	zap.L().Debug("model response",
		zap.String("model", string(msg.Model)),
		zap.Int64("input_tokens", msg.Usage.InputTokens),
		zap.Int64("output_tokens", msg.Usage.OutputTokens),
	)

	var sb strings.Builder
	for _, b := range msg.Content {
		if b.Type == "text" {
			sb.WriteString(b.Text)
		}
	}
	return sb.String(), nil
}

// unavailableStatus returns the status of a 500/502/503/504 response, or 0.
func unavailableStatus(err error) int {
	var apiErr *sdk.Error
	if !errors.As(err, &apiErr) {
		return 0
	}
	switch apiErr.StatusCode {
	case http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return apiErr.StatusCode
	}
	return 0
}

// isThrottle reports 429 and 529 (overloaded) responses.
func isThrottle(err error) bool {
	var apiErr *sdk.Error
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode == 529
}
