package agents

import (
	"context"
	"errors"
	"sync"

	"github.com/lmnhd/keyvex-sub008/internal/ai"
	"github.com/lmnhd/keyvex-sub008/internal/progress"
	"github.com/lmnhd/keyvex-sub008/internal/prompts"
	"github.com/lmnhd/keyvex-sub008/internal/tcc"
)

type reply struct {
	content string
	err     error
}

// scriptedGen answers Generate calls from a fixed queue.
type scriptedGen struct {
	mu      sync.Mutex
	replies []reply
	calls   []*ai.AIRequest
}

func (g *scriptedGen) Generate(_ context.Context, req *ai.AIRequest) (*ai.AIResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, req)
	if len(g.replies) == 0 {
		return nil, errors.New("no scripted reply")
	}
	r := g.replies[0]
	g.replies = g.replies[1:]
	if r.err != nil {
		return nil, r.err
	}
	provider, _ := ai.ProviderForModel(req.Model)
	return &ai.AIResponse{Provider: provider, Model: req.Model, Content: r.content, Usage: &ai.Usage{TotalTokens: 10}}, nil
}

func (g *scriptedGen) models() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, len(g.calls))
	for i, c := range g.calls {
		out[i] = c.Model
	}
	return out
}

type eventRecorder struct {
	mu     sync.Mutex
	events []progress.Event
}

func (r *eventRecorder) Emit(_ context.Context, ev progress.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *eventRecorder) all() []progress.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]progress.Event(nil), r.events...)
}

type testDeps struct {
	gen         *scriptedGen
	events      *eventRecorder
	interaction *InteractionManager
	retry       *RetryManager
	registry    *Registry
}

func newTestDeps(replies ...reply) *testDeps {
	gen := &scriptedGen{replies: replies}
	events := &eventRecorder{}
	models := ai.NewModelRegistry("", ai.AllProviders)
	interaction := NewInteractionManager(gen, prompts.MustNew(), models)
	retry := NewRetryManager(RetryPolicy{MaxAttempts: 3}, models, events)
	return &testDeps{
		gen:         gen,
		events:      events,
		interaction: interaction,
		retry:       retry,
		registry:    NewRegistry(interaction, retry),
	}
}

func ok(content string) reply { return reply{content: content} }

func newJob() *tcc.TCC {
	return tcc.New("user-1", tcc.UserInput{
		Description: "Mortgage payment calculator for first-time buyers.",
		Industry:    "real estate",
		Features:    []string{"amortization"},
	}, tcc.Options{JobID: "job-test"})
}

const validStateLogic = `{
  "stateVariables": [
    {"name": "loanAmount", "type": "number", "initialValue": 250000},
    {"name": "payment", "type": "number"}
  ],
  "functions": [
    {"name": "handleCalculate", "body": "setPayment(loanAmount / 360);"}
  ],
  "imports": ["useState"]
}`

const styledMarkup = `<div data-style-id="root" className="p-6">
  <input data-style-id="amount" className="border" value={loanAmount} onChange={handleCalculate} />
  <p data-style-id="result" className="text-lg">{payment}</p>
</div>`
