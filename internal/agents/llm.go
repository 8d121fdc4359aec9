package agents

import (
	"context"

	"github.com/lmnhd/keyvex-sub008/internal/prompts"
	"github.com/lmnhd/keyvex-sub008/internal/tcc"
)

// llmAgent is embedded by agents that call the model.
type llmAgent struct {
	interaction *InteractionManager
	retry       *RetryManager
}

// generated is the accepted output of an LLM agent run.
type generated[T any] struct {
	value   *T
	result  *ObjectResult
	attempt Attempt
}

// generate runs one structured call per attempt until the output decodes,
// validates and passes check.
func generate[T any](ctx context.Context, a llmAgent, t *tcc.TCC, agent tcc.AgentID, opts RunOptions, check func(*T) []string) (*generated[T], error) {
	primary := a.interaction.ResolveModel(agent, t, opts.Model)

	var out generated[T]
	attempt, err := a.retry.Do(ctx, t, agent, primary, opts.OnAttempt, func(ctx context.Context, at Attempt) error {
		value := new(T)
		req := ObjectRequest{
			AgentID: agent,
			TCC:     t,
			Model:   at.Model,
			Prompt:  prompts.Options{Attempt: at.Number, RetryHints: at.Hints},
		}
		if check != nil {
			req.Check = func(v any) []string { return check(v.(*T)) }
		}
		res, err := a.interaction.GenerateObject(ctx, req, value)
		if err != nil {
			return err
		}
		out.value = value
		out.result = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	out.attempt = attempt
	return &out, nil
}

func resultFrom[T any](agent tcc.AgentID, g *generated[T], fragment *Fragment) *Result {
	return &Result{
		AgentID:  agent,
		Fragment: fragment,
		Model:    g.result.Model,
		Provider: g.result.Provider,
		Attempts: g.attempt.Number,
		Score:    g.result.Score,
		Warnings: g.result.Issues,
	}
}
