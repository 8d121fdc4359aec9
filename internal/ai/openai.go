package ai

import (
	"context"
	"errors"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIClient implements AIClient on the OpenAI chat completions API
type OpenAIClient struct {
	client *openai.Client
	usageTracker
}

// NewOpenAIClient creates a new OpenAI client
func NewOpenAIClient(apiKey string) *OpenAIClient {
	return &OpenAIClient{client: openai.NewClient(apiKey)}
}

// NewOpenAIClientWithConfig allows a custom base URL, mainly for tests.
func NewOpenAIClientWithConfig(cfg openai.ClientConfig) *OpenAIClient {
	return &OpenAIClient{client: openai.NewClientWithConfig(cfg)}
}

func (c *OpenAIClient) GetProvider() AIProvider { return ProviderOpenAI }

func (c *OpenAIClient) GetUsage() *ProviderUsage { return c.snapshot(ProviderOpenAI) }

// Generate implements the AIClient interface for OpenAI
func (c *OpenAIClient) Generate(ctx context.Context, req *AIRequest) (*AIResponse, error) {
	start := time.Now()

	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.Prompt})

	chatReq := openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	if req.JSONMode {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	completion, err := c.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		err = classifyOpenAIError(req.Model, err)
		c.record(nil, err, time.Since(start))
		return nil, err
	}

	if len(completion.Choices) == 0 || completion.Choices[0].Message.Content == "" {
		err := &ProviderError{Provider: ProviderOpenAI, Model: req.Model, Kind: ErrKindEmpty, Err: errors.New("no choices in response")}
		c.record(nil, err, time.Since(start))
		return nil, err
	}

	resp := &AIResponse{
		Provider: ProviderOpenAI,
		Model:    req.Model,
		Content:  completion.Choices[0].Message.Content,
		Usage: &Usage{
			PromptTokens:     completion.Usage.PromptTokens,
			CompletionTokens: completion.Usage.CompletionTokens,
			TotalTokens:      completion.Usage.TotalTokens,
		},
		Duration:  time.Since(start),
		CreatedAt: time.Now(),
	}
	c.record(resp, nil, resp.Duration)
	return resp, nil
}

func classifyOpenAIError(model string, err error) error {
	pe := &ProviderError{Provider: ProviderOpenAI, Model: model, Kind: ErrKindUnknown, Err: err}
	var (
		apiErr *openai.APIError
		reqErr *openai.RequestError
	)
	switch {
	case errors.As(err, &apiErr):
		pe.Status = apiErr.HTTPStatusCode
		pe.Kind = classifyStatus(apiErr.HTTPStatusCode)
	case errors.As(err, &reqErr):
		pe.Status = reqErr.HTTPStatusCode
		pe.Kind = classifyStatus(reqErr.HTTPStatusCode)
	case errors.Is(err, context.DeadlineExceeded):
		pe.Kind = ErrKindTimeout
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("openai request canceled: %w", err)
	}
	return pe
}
