package orchestration

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/goleak"

	"github.com/lmnhd/keyvex-sub008/internal/agents"
	"github.com/lmnhd/keyvex-sub008/internal/progress"
	"github.com/lmnhd/keyvex-sub008/internal/tcc"
	"github.com/lmnhd/keyvex-sub008/pkg/models"
)

// ignoreInitGoroutines skips workers started by dependency package init.
var ignoreInitGoroutines = []goleak.Option{
	goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"),
}

// fakeAgent returns a fixed fragment, or err.
type fakeAgent struct {
	id       tcc.AgentID
	fragment *agents.Fragment
	err      error

	mu    sync.Mutex
	calls int
	model string
}

func (a *fakeAgent) ID() tcc.AgentID { return a.id }

func (a *fakeAgent) Run(_ context.Context, _ *tcc.TCC, opts agents.RunOptions) (*agents.Result, error) {
	a.mu.Lock()
	a.calls++
	a.model = opts.Model
	a.mu.Unlock()
	if a.err != nil {
		return nil, a.err
	}
	return &agents.Result{AgentID: a.id, Fragment: a.fragment, Model: opts.Model, Attempts: 1}, nil
}

func (a *fakeAgent) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

func fragments() map[tcc.AgentID]*agents.Fragment {
	return map[tcc.AgentID]*agents.Fragment{
		tcc.AgentFunctionPlanner: {DefinedFunctionSignatures: []tcc.FunctionSignature{{Name: "handleCalculate"}}},
		tcc.AgentStateDesign: {StateLogic: &tcc.StateLogic{
			StateVariables: []tcc.StateVariable{{Name: "amount", Type: "number", InitialValue: 0}},
		}},
		tcc.AgentJSXLayout:       {JSXLayout: &tcc.JSXLayout{ComponentStructure: "<div id=\"root\"></div>"}},
		tcc.AgentTailwindStyling: {Styling: &tcc.Styling{StyledComponentCode: "<div className=\"p-4\"></div>"}},
		tcc.AgentComponentAssembler: {
			AssembledComponentCode: "export default function LoanCalculator() { return null }",
		},
		tcc.AgentCodeValidator: {ValidationResult: &tcc.ValidationResult{IsValid: true}},
		tcc.AgentToolFinalizer: {FinalProduct: &tcc.ProductToolDefinition{
			ID:            "tool-1",
			Slug:          "loan-calculator-tool1",
			Version:       "1.0.0",
			ComponentCode: "export default function LoanCalculator() { return null }",
			Metadata:      tcc.ToolMetadata{ID: "tool-1", Slug: "loan-calculator-tool1", Title: "Loan Calculator"},
		}},
	}
}

// fakeRegistry registers a fake for every agent.
func fakeRegistry() (*agents.Registry, map[tcc.AgentID]*fakeAgent) {
	reg := agents.NewRegistry(nil, nil)
	fakes := make(map[tcc.AgentID]*fakeAgent)
	for id, frag := range fragments() {
		a := &fakeAgent{id: id, fragment: frag}
		fakes[id] = a
		reg.Register(a)
	}
	return reg, fakes
}

type triggerCall struct {
	kind  string
	jobID string
	agent tcc.AgentID
}

// recordingTrigger records dispatches without running them.
type recordingTrigger struct {
	mu    sync.Mutex
	calls []triggerCall
}

func (r *recordingTrigger) add(c triggerCall) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, c)
}

func (r *recordingTrigger) Step(_ context.Context, jobID string) {
	r.add(triggerCall{kind: "step", jobID: jobID})
}

func (r *recordingTrigger) Agent(_ context.Context, jobID string, agent tcc.AgentID) {
	r.add(triggerCall{kind: "agent", jobID: jobID, agent: agent})
}

func (r *recordingTrigger) CheckParallel(_ context.Context, jobID string) {
	r.add(triggerCall{kind: "check", jobID: jobID})
}

func (r *recordingTrigger) snapshot() []triggerCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]triggerCall(nil), r.calls...)
}

// eventLog records events and signals terminal ones.
type eventLog struct {
	mu       sync.Mutex
	events   []progress.Event
	terminal chan progress.Event
}

func newEventLog() *eventLog {
	return &eventLog{terminal: make(chan progress.Event, 4)}
}

func (l *eventLog) Emit(_ context.Context, ev progress.Event) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
	if ev.Type.Terminal() {
		l.terminal <- ev
	}
}

func (l *eventLog) types() []progress.EventType {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]progress.EventType, len(l.events))
	for i, ev := range l.events {
		out[i] = ev.Type
	}
	return out
}

func (l *eventLog) wait(timeout time.Duration) (progress.Event, error) {
	select {
	case ev := <-l.terminal:
		return ev, nil
	case <-time.After(timeout):
		return progress.Event{}, errors.New("timed out waiting for a terminal event")
	}
}

// fakePublisher records published tools.
type fakePublisher struct {
	mu        sync.Mutex
	published []*tcc.ProductToolDefinition
	err       error
}

func (p *fakePublisher) Publish(_ context.Context, def *tcc.ProductToolDefinition, userID, jobID string) (*models.ProductTool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	p.published = append(p.published, def)
	return &models.ProductTool{ID: def.ID, Slug: def.Slug, UserID: userID, JobID: jobID, BundleKeys: []string{"tools/" + def.ID + "/1.0.0/component.tsx"}}, nil
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.published)
}

type fixture struct {
	store     *tcc.MemoryStore
	fakes     map[tcc.AgentID]*fakeAgent
	events    *eventLog
	publisher *fakePublisher
	trigger   *recordingTrigger
	orch      *Orchestrator
}

func newFixture() *fixture {
	reg, fakes := fakeRegistry()
	f := &fixture{
		store:     tcc.NewMemoryStore(),
		fakes:     fakes,
		events:    newEventLog(),
		publisher: &fakePublisher{},
		trigger:   &recordingTrigger{},
	}
	f.orch = New(f.store, reg, f.events, f.publisher, Options{AgentTimeout: time.Minute})
	f.orch.SetTrigger(f.trigger)
	return f
}

// seedJob stores a job owned by userID positioned at step.
func (f *fixture) seedJob(userID string, step tcc.OrchestrationStep) *tcc.TCC {
	t := tcc.New(userID, tcc.UserInput{Description: "A loan payment calculator"}, tcc.Options{})
	t.CurrentOrchestrationStep = step
	if err := f.store.Create(context.Background(), t); err != nil {
		panic(err)
	}
	return t
}

// completedJob stores a finished job with every output set.
func (f *fixture) completedJob(userID string) *tcc.TCC {
	t := tcc.New(userID, tcc.UserInput{Description: "A loan payment calculator"}, tcc.Options{})
	for _, frag := range fragments() {
		frag.Apply(t)
	}
	for _, step := range tcc.Steps() {
		t.MarkStepCompleted(step)
	}
	t.CurrentOrchestrationStep = tcc.StepCompleted
	t.Status = tcc.StatusCompleted
	if err := f.store.Create(context.Background(), t); err != nil {
		panic(err)
	}
	return t
}
