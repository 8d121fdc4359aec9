package agents

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/lmnhd/keyvex-sub008/internal/ai"
	"github.com/lmnhd/keyvex-sub008/internal/logging"
	"github.com/lmnhd/keyvex-sub008/internal/metrics"
	"github.com/lmnhd/keyvex-sub008/internal/progress"
	"github.com/lmnhd/keyvex-sub008/internal/tcc"
)

// RetryPolicy bounds agent retries.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy is three attempts with a short exponential delay.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     3,
		InitialInterval: 2 * time.Second,
		MaxInterval:     15 * time.Second,
	}
}

// Attempt describes one model call of an agent run.
type Attempt struct {
	Number int      `json:"number"`
	Model  string   `json:"model"`
	Hints  []string `json:"hints,omitempty"`
}

// RetryManager re-runs a failed agent call, switching between the primary
// and fallback model and feeding earlier errors back as prompt hints.
type RetryManager struct {
	policy   RetryPolicy
	registry *ai.ModelRegistry
	emitter  progress.Emitter
}

// NewRetryManager creates a retry manager. A nil emitter discards events.
func NewRetryManager(policy RetryPolicy, registry *ai.ModelRegistry, emitter progress.Emitter) *RetryManager {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	if emitter == nil {
		emitter = progress.Nop{}
	}
	return &RetryManager{policy: policy, registry: registry, emitter: emitter}
}

// ModelForAttempt is the primary on odd attempts and the fallback on even
// ones. Without a fallback every attempt uses the primary.
func ModelForAttempt(n int, primary, fallback string) string {
	if fallback == "" || n%2 == 1 {
		return primary
	}
	return fallback
}

// Do runs fn until it succeeds, fails permanently or attempts run out. It
// returns the last attempt made.
func (r *RetryManager) Do(ctx context.Context, t *tcc.TCC, agent tcc.AgentID, primary string, onAttempt func(context.Context, Attempt), fn func(context.Context, Attempt) error) (Attempt, error) {
	fallback := ""
	if r.registry != nil {
		fallback = r.registry.FallbackFor(string(agent), primary)
	}
	log := logging.ForJob(t.JobID, zap.String("agent", string(agent)))
	step, _ := tcc.StepForAgent(agent)

	var (
		current Attempt
		hints   []string
	)

	operation := func() error {
		current = Attempt{
			Number: current.Number + 1,
			Model:  ModelForAttempt(current.Number+1, primary, fallback),
			Hints:  append([]string(nil), hints...),
		}
		if onAttempt != nil {
			onAttempt(ctx, current)
		}
		if current.Number > 1 && current.Model != primary {
			metrics.Get().RecordAIFallback(primary, current.Model)
		}

		err := fn(ctx, current)
		if err == nil {
			return nil
		}
		hints = append(hints, hintsFor(err)...)
		if !retriable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		next := current.Number + 1
		nextModel := ModelForAttempt(next, primary, fallback)
		metrics.Get().RecordAgentRetry(string(agent), string(ai.KindOf(err)))
		log.Warn("agent attempt failed, retrying",
			zap.Int("attempt", current.Number),
			zap.String("model", current.Model),
			zap.String("next_model", nextModel),
			zap.Duration("wait", wait),
			zap.Error(err),
		)

		ev := progress.NewEvent(t.JobID, progress.EventAgentRetrying, step)
		ev.AgentID = agent
		ev.Message = "Retrying after: " + err.Error()
		ev.Data = map[string]any{
			"attempt":       next,
			"maxAttempts":   r.policy.MaxAttempts,
			"model":         nextModel,
			"previousModel": current.Model,
		}
		r.emitter.Emit(ctx, ev)
	}

	err := backoff.RetryNotify(operation, r.backoff(ctx), notify)
	return current, err
}

func (r *RetryManager) backoff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.policy.InitialInterval
	b.MaxInterval = r.policy.MaxInterval
	b.MaxElapsedTime = 0
	b.RandomizationFactor = 0.2
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(r.policy.MaxAttempts-1)), ctx)
}

// retriable: schema failures and transient provider errors are worth
// another attempt; missing inputs, auth and cancellation are not.
func retriable(err error) bool {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		return true
	case errors.Is(err, ErrMissingInput), errors.Is(err, ErrValidationFailed):
		return false
	default:
		return ai.IsRetriable(err)
	}
}

func hintsFor(err error) []string {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr.Issues
	}
	return []string{err.Error()}
}
