package ai

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// AIProvider represents the available AI providers
type AIProvider string

const (
	ProviderAnthropic AIProvider = "anthropic"
	ProviderOpenAI    AIProvider = "openai"
	ProviderGemini    AIProvider = "gemini"
)

// AllProviders lists every supported provider.
var AllProviders = []AIProvider{ProviderAnthropic, ProviderOpenAI, ProviderGemini}

// AIRequest represents a request to an AI provider
type AIRequest struct {
	Model       string  `json:"model"`
	System      string  `json:"system,omitempty"`
	Prompt      string  `json:"prompt"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float32 `json:"temperature,omitempty"`
	// JSONMode asks the provider to return a single JSON object.
	JSONMode bool `json:"json_mode,omitempty"`
}

// AIResponse represents a response from an AI provider
type AIResponse struct {
	Provider  AIProvider    `json:"provider"`
	Model     string        `json:"model"`
	Content   string        `json:"content"`
	Usage     *Usage        `json:"usage,omitempty"`
	Duration  time.Duration `json:"duration"`
	CreatedAt time.Time     `json:"created_at"`
}

// Usage represents token usage for an AI request
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// AIClient interface that all AI providers must implement
type AIClient interface {
	// Generate generates content based on the request
	Generate(ctx context.Context, req *AIRequest) (*AIResponse, error)

	// GetProvider returns the provider identifier
	GetProvider() AIProvider

	// GetUsage returns usage statistics
	GetUsage() *ProviderUsage
}

// ProviderUsage tracks usage statistics for a provider
type ProviderUsage struct {
	Provider     AIProvider `json:"provider"`
	RequestCount int64      `json:"request_count"`
	TotalTokens  int64      `json:"total_tokens"`
	AvgLatency   float64    `json:"avg_latency"`
	ErrorCount   int64      `json:"error_count"`
	LastUsed     time.Time  `json:"last_used"`
}

// usageTracker is embedded by provider clients.
type usageTracker struct {
	mu    sync.Mutex
	usage ProviderUsage
}

func (u *usageTracker) record(resp *AIResponse, err error, latency time.Duration) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.usage.RequestCount++
	u.usage.LastUsed = time.Now()
	if err != nil {
		u.usage.ErrorCount++
		return
	}
	if resp != nil && resp.Usage != nil {
		u.usage.TotalTokens += int64(resp.Usage.TotalTokens)
	}
	n := float64(u.usage.RequestCount - u.usage.ErrorCount)
	if n > 0 {
		u.usage.AvgLatency = (u.usage.AvgLatency*(n-1) + latency.Seconds()) / n
	}
}

func (u *usageTracker) snapshot(p AIProvider) *ProviderUsage {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := u.usage
	out.Provider = p
	return &out
}

// ErrorKind classifies provider failures for retry decisions.
type ErrorKind string

const (
	ErrKindRateLimit   ErrorKind = "rate_limit"
	ErrKindAuth        ErrorKind = "auth"
	ErrKindUnavailable ErrorKind = "unavailable"
	ErrKindBadRequest  ErrorKind = "bad_request"
	ErrKindTimeout     ErrorKind = "timeout"
	ErrKindEmpty       ErrorKind = "empty_response"
	ErrKindUnknown     ErrorKind = "unknown"
)

// ProviderError wraps an SDK error with its classification.
type ProviderError struct {
	Provider AIProvider
	Model    string
	Kind     ErrorKind
	Status   int
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s %s: %s (status %d): %v", e.Provider, e.Model, e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("%s %s: %s: %v", e.Provider, e.Model, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

var (
	// ErrProviderNotConfigured is returned when no client serves a model's provider.
	ErrProviderNotConfigured = errors.New("provider not configured")
	// ErrUnknownModel is returned when a model id matches no provider.
	ErrUnknownModel = errors.New("unknown model")
)

// KindOf returns the classification of err, or ErrKindUnknown.
func KindOf(err error) ErrorKind {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrKindTimeout
	}
	return ErrKindUnknown
}

// IsRetriable reports whether repeating the call (possibly on another model)
// can succeed.
func IsRetriable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrUnknownModel) {
		return false
	}
	switch KindOf(err) {
	case ErrKindAuth, ErrKindBadRequest:
		return false
	default:
		return true
	}
}

// classifyStatus maps an HTTP status from a provider API to an ErrorKind.
func classifyStatus(status int) ErrorKind {
	switch {
	case status == 429:
		return ErrKindRateLimit
	case status == 401 || status == 403:
		return ErrKindAuth
	case status == 408 || status == 504:
		return ErrKindTimeout
	case status == 529 || status >= 500:
		return ErrKindUnavailable
	case status >= 400:
		return ErrKindBadRequest
	default:
		return ErrKindUnknown
	}
}
