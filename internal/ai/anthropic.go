package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const anthropicDefaultMaxTokens = 8192

// AnthropicClient implements AIClient on the Anthropic Messages API
type AnthropicClient struct {
	client anthropic.Client
	usageTracker
}

// NewAnthropicClient creates a new Anthropic client
func NewAnthropicClient(apiKey string, opts ...option.RequestOption) *AnthropicClient {
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &AnthropicClient{client: anthropic.NewClient(opts...)}
}

func (c *AnthropicClient) GetProvider() AIProvider { return ProviderAnthropic }

func (c *AnthropicClient) GetUsage() *ProviderUsage { return c.snapshot(ProviderAnthropic) }

// Generate implements the AIClient interface for Anthropic
func (c *AnthropicClient) Generate(ctx context.Context, req *AIRequest) (*AIResponse, error) {
	start := time.Now()

	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = anthropicDefaultMaxTokens
	}

	system := req.System
	if req.JSONMode {
		// The Messages API has no JSON response format; the instruction is the contract.
		system = strings.TrimSpace(system + "\n\nRespond with a single valid JSON object and nothing else.")
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(req.Model),
		MaxTokens:   maxTokens,
		Messages:    []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt))},
		Temperature: anthropic.Float(float64(req.Temperature)),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	message, err := c.client.Messages.New(ctx, params)
	if err != nil {
		err = classifyAnthropicError(req.Model, err)
		c.record(nil, err, time.Since(start))
		return nil, err
	}

	var content strings.Builder
	for _, block := range message.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			content.WriteString(variant.Text)
		}
	}
	if content.Len() == 0 {
		err := &ProviderError{Provider: ProviderAnthropic, Model: req.Model, Kind: ErrKindEmpty, Err: errors.New("no text content in response")}
		c.record(nil, err, time.Since(start))
		return nil, err
	}

	resp := &AIResponse{
		Provider: ProviderAnthropic,
		Model:    req.Model,
		Content:  content.String(),
		Usage: &Usage{
			PromptTokens:     int(message.Usage.InputTokens),
			CompletionTokens: int(message.Usage.OutputTokens),
			TotalTokens:      int(message.Usage.InputTokens + message.Usage.OutputTokens),
		},
		Duration:  time.Since(start),
		CreatedAt: time.Now(),
	}
	c.record(resp, nil, resp.Duration)
	return resp, nil
}

func classifyAnthropicError(model string, err error) error {
	pe := &ProviderError{Provider: ProviderAnthropic, Model: model, Kind: ErrKindUnknown, Err: err}
	var apiErr *anthropic.Error
	switch {
	case errors.As(err, &apiErr):
		pe.Status = apiErr.StatusCode
		pe.Kind = classifyStatus(apiErr.StatusCode)
	case errors.Is(err, context.DeadlineExceeded):
		pe.Kind = ErrKindTimeout
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("anthropic request canceled: %w", err)
	}
	return pe
}
