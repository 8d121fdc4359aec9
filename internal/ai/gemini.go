package ai

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/genai"
)

// GeminiClient implements AIClient on the Gemini API
type GeminiClient struct {
	client  *genai.Client
	initErr error
	usageTracker
}

// NewGeminiClient creates a new Gemini client. A client that fails to
// initialize reports the error on first use.
func NewGeminiClient(ctx context.Context, apiKey string) *GeminiClient {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return &GeminiClient{initErr: fmt.Errorf("failed to initialize Gemini client: %w", err)}
	}
	return &GeminiClient{client: client}
}

func (c *GeminiClient) GetProvider() AIProvider { return ProviderGemini }

func (c *GeminiClient) GetUsage() *ProviderUsage { return c.snapshot(ProviderGemini) }

// Generate implements the AIClient interface for Gemini
func (c *GeminiClient) Generate(ctx context.Context, req *AIRequest) (*AIResponse, error) {
	if c.initErr != nil {
		return nil, &ProviderError{Provider: ProviderGemini, Model: req.Model, Kind: ErrKindAuth, Err: c.initErr}
	}
	start := time.Now()

	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(req.Temperature),
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if req.JSONMode {
		cfg.ResponseMIMEType = "application/json"
	}

	contents := []*genai.Content{genai.NewContentFromText(req.Prompt, genai.RoleUser)}
	result, err := c.client.Models.GenerateContent(ctx, req.Model, contents, cfg)
	if err != nil {
		err = classifyGeminiError(req.Model, err)
		c.record(nil, err, time.Since(start))
		return nil, err
	}

	text := result.Text()
	if text == "" {
		err := &ProviderError{Provider: ProviderGemini, Model: req.Model, Kind: ErrKindEmpty, Err: errors.New("empty response from Gemini")}
		c.record(nil, err, time.Since(start))
		return nil, err
	}

	resp := &AIResponse{
		Provider:  ProviderGemini,
		Model:     req.Model,
		Content:   text,
		Duration:  time.Since(start),
		CreatedAt: time.Now(),
	}
	if md := result.UsageMetadata; md != nil {
		resp.Usage = &Usage{
			PromptTokens:     int(md.PromptTokenCount),
			CompletionTokens: int(md.CandidatesTokenCount),
			TotalTokens:      int(md.TotalTokenCount),
		}
	}
	c.record(resp, nil, resp.Duration)
	return resp, nil
}

func classifyGeminiError(model string, err error) error {
	pe := &ProviderError{Provider: ProviderGemini, Model: model, Kind: ErrKindUnknown, Err: err}
	var apiErr genai.APIError
	var apiErrPtr *genai.APIError
	switch {
	case errors.As(err, &apiErr):
		pe.Status = apiErr.Code
		pe.Kind = classifyStatus(apiErr.Code)
	case errors.As(err, &apiErrPtr):
		pe.Status = apiErrPtr.Code
		pe.Kind = classifyStatus(apiErrPtr.Code)
	case errors.Is(err, context.DeadlineExceeded):
		pe.Kind = ErrKindTimeout
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("gemini request canceled: %w", err)
	}
	return pe
}
