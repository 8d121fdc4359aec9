package ai

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/lmnhd/keyvex-sub008/internal/logging"
	"github.com/lmnhd/keyvex-sub008/internal/metrics"
)

// RouterConfig holds configuration for the AI router
type RouterConfig struct {
	// RateLimits is requests per minute per provider. Zero means unlimited.
	RateLimits map[AIProvider]int `json:"rate_limits"`
	// DefaultModel is used when a request names no model.
	DefaultModel string `json:"default_model"`
	// RequestTimeout bounds a single provider call.
	RequestTimeout time.Duration `json:"request_timeout"`
}

// DefaultRouterConfig returns the default router configuration
func DefaultRouterConfig() *RouterConfig {
	return &RouterConfig{
		RateLimits: map[AIProvider]int{
			ProviderAnthropic: 50,
			ProviderOpenAI:    60,
			ProviderGemini:    60,
		},
		DefaultModel:   ModelClaudeSonnet,
		RequestTimeout: 3 * time.Minute,
	}
}

// AIRouter routes requests to the provider serving the requested model
type AIRouter struct {
	clients  map[AIProvider]AIClient
	limiters map[AIProvider]*rate.Limiter
	config   *RouterConfig
	mu       sync.RWMutex
}

// NewAIRouter creates a router over the given clients
func NewAIRouter(config *RouterConfig, clients ...AIClient) *AIRouter {
	if config == nil {
		config = DefaultRouterConfig()
	}
	r := &AIRouter{
		clients:  make(map[AIProvider]AIClient),
		limiters: make(map[AIProvider]*rate.Limiter),
		config:   config,
	}
	for _, c := range clients {
		if c != nil {
			r.clients[c.GetProvider()] = c
		}
	}
	for provider, rpm := range config.RateLimits {
		if rpm > 0 {
			r.limiters[provider] = rate.NewLimiter(rate.Every(time.Minute/time.Duration(rpm)), max(1, rpm/10))
		}
	}
	return r
}

// NewAIRouterFromKeys builds clients for every non-empty key.
func NewAIRouterFromKeys(ctx context.Context, config *RouterConfig, anthropicKey, openAIKey, geminiKey string) *AIRouter {
	var clients []AIClient
	if anthropicKey != "" {
		clients = append(clients, NewAnthropicClient(anthropicKey))
	}
	if openAIKey != "" {
		clients = append(clients, NewOpenAIClient(openAIKey))
	}
	if geminiKey != "" {
		clients = append(clients, NewGeminiClient(ctx, geminiKey))
	}
	return NewAIRouter(config, clients...)
}

// Providers lists providers with a configured client.
func (r *AIRouter) Providers() []AIProvider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]AIProvider, 0, len(r.clients))
	for _, p := range AllProviders {
		if _, ok := r.clients[p]; ok {
			out = append(out, p)
		}
	}
	return out
}

// HasProvider reports whether the provider has a client.
func (r *AIRouter) HasProvider(p AIProvider) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.clients[p]
	return ok
}

// Generate routes an AI request to the provider of req.Model
func (r *AIRouter) Generate(ctx context.Context, req *AIRequest) (*AIResponse, error) {
	if req.Model == "" {
		req.Model = r.config.DefaultModel
	}

	provider, err := ProviderForModel(req.Model)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	client, ok := r.clients[provider]
	limiter := r.limiters[provider]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s (model %s)", ErrProviderNotConfigured, provider, req.Model)
	}

	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return nil, &ProviderError{Provider: provider, Model: req.Model, Kind: ErrKindRateLimit, Err: err}
		}
	}

	if r.config.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.config.RequestTimeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := client.Generate(ctx, req)
	duration := time.Since(start)

	if err != nil {
		metrics.Get().RecordAIRequest(string(provider), req.Model, "error", duration, 0, 0)
		logging.L().Warn("ai request failed",
			zap.String("provider", string(provider)),
			zap.String("model", req.Model),
			zap.String("kind", string(KindOf(err))),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		return nil, err
	}

	in, out := 0, 0
	if resp.Usage != nil {
		in, out = resp.Usage.PromptTokens, resp.Usage.CompletionTokens
	}
	metrics.Get().RecordAIRequest(string(provider), req.Model, "success", duration, in, out)
	logging.L().Debug("ai request completed",
		zap.String("provider", string(provider)),
		zap.String("model", req.Model),
		zap.Int("input_tokens", in),
		zap.Int("output_tokens", out),
		zap.Duration("duration", duration),
	)
	return resp, nil
}

// GetProviderUsage returns usage statistics for all providers
func (r *AIRouter) GetProviderUsage() map[AIProvider]*ProviderUsage {
	r.mu.RLock()
	defer r.mu.RUnlock()
	usage := make(map[AIProvider]*ProviderUsage, len(r.clients))
	for provider, client := range r.clients {
		usage[provider] = client.GetUsage()
	}
	return usage
}
