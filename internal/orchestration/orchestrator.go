// Package orchestration sequences the pipeline agents over the stored tool
// construction context. Each call does one unit of work and hands the next
// one to a Trigger, so a job advances through a chain of short requests.
package orchestration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lmnhd/keyvex-sub008/internal/agents"
	"github.com/lmnhd/keyvex-sub008/internal/logging"
	"github.com/lmnhd/keyvex-sub008/internal/metrics"
	"github.com/lmnhd/keyvex-sub008/internal/progress"
	"github.com/lmnhd/keyvex-sub008/internal/tcc"
	"github.com/lmnhd/keyvex-sub008/pkg/models"
)

var (
	ErrForbidden      = errors.New("job belongs to another user")
	ErrInvalidRequest = errors.New("invalid orchestration request")
	ErrStepMismatch   = errors.New("agent does not run in the current step")
	ErrJobFailed      = errors.New("job has failed")
	ErrJobNotEditable = errors.New("only completed jobs can be edited")
	ErrAgentFailed    = errors.New("agent failed")
)

// Publisher stores the finalized tool. *producttools.Publisher implements it.
type Publisher interface {
	Publish(ctx context.Context, def *tcc.ProductToolDefinition, userID, jobID string) (*models.ProductTool, error)
}

// Trigger hands the next unit of work to whoever runs it. Calls return
// immediately; failures are logged by the trigger.
type Trigger interface {
	Step(ctx context.Context, jobID string)
	Agent(ctx context.Context, jobID string, agent tcc.AgentID)
	CheckParallel(ctx context.Context, jobID string)
}

// Options tune the orchestrator.
type Options struct {
	// AgentTimeout bounds a single agent run including its retries.
	AgentTimeout time.Duration
}

// Orchestrator drives jobs through the pipeline.
type Orchestrator struct {
	store     tcc.Store
	agents    *agents.Registry
	emitter   progress.Emitter
	publisher Publisher
	trigger   Trigger
	opts      Options
}

// New creates an orchestrator. A nil emitter discards events and a nil
// publisher skips persisting finished tools. SetTrigger must be called
// before jobs are started.
func New(store tcc.Store, registry *agents.Registry, emitter progress.Emitter, publisher Publisher, opts Options) *Orchestrator {
	if emitter == nil {
		emitter = progress.Nop{}
	}
	return &Orchestrator{
		store:     store,
		agents:    registry,
		emitter:   emitter,
		publisher: publisher,
		opts:      opts,
	}
}

// SetTrigger sets the dispatcher for follow-up work.
func (o *Orchestrator) SetTrigger(t Trigger) {
	o.trigger = t
}

// StartRequest is the body of a new generation job.
type StartRequest struct {
	UserInput         tcc.UserInput          `json:"userInput"`
	SelectedModel     string                 `json:"selectedModel"`
	AgentModelMapping map[tcc.AgentID]string `json:"agentModelMapping"`
	BrainstormData    map[string]any         `json:"brainstormData"`
	EditMode          *EditRequest           `json:"editMode"`
}

// EditRequest revises an earlier result.
type EditRequest struct {
	Instructions []tcc.EditInstruction `json:"instructions"`
	Context      string                `json:"context"`
	BaseJobID    string                `json:"baseJobId"`
}

// normalizeInstructions validates instructions and fills their defaults.
func normalizeInstructions(in []tcc.EditInstruction) ([]tcc.EditInstruction, error) {
	if len(in) == 0 {
		return nil, fmt.Errorf("%w: at least one edit instruction is required", ErrInvalidRequest)
	}
	now := time.Now().UTC()
	out := make([]tcc.EditInstruction, len(in))
	for i, inst := range in {
		if !inst.TargetAgent.Valid() {
			return nil, fmt.Errorf("%w: unknown target agent %q", ErrInvalidRequest, inst.TargetAgent)
		}
		if inst.Instructions == "" {
			return nil, fmt.Errorf("%w: instruction for %s is empty", ErrInvalidRequest, inst.TargetAgent)
		}
		if inst.EditType == "" {
			inst.EditType = tcc.EditRefine
		}
		if inst.Priority == "" {
			inst.Priority = tcc.PriorityMedium
		}
		if inst.CreatedAt.IsZero() {
			inst.CreatedAt = now
		}
		out[i] = inst
	}
	return out, nil
}

// Start creates a job for userID and triggers its first step. An edit
// request with a base job seeds the new context from that job's outputs and
// starts at the earliest step the instructions target.
func (o *Orchestrator) Start(ctx context.Context, userID string, req StartRequest) (*tcc.TCC, error) {
	opts := tcc.Options{
		SelectedModel:     req.SelectedModel,
		AgentModelMapping: req.AgentModelMapping,
		BrainstormData:    req.BrainstormData,
	}

	var base *tcc.TCC
	if req.EditMode != nil {
		instructions, err := normalizeInstructions(req.EditMode.Instructions)
		if err != nil {
			return nil, err
		}
		opts.EditMode = &tcc.EditModeContext{
			IsEditMode:   true,
			Instructions: instructions,
			Context:      req.EditMode.Context,
		}
		if req.EditMode.BaseJobID != "" {
			base, err = o.store.Get(ctx, req.EditMode.BaseJobID)
			if err != nil {
				return nil, fmt.Errorf("load base job: %w", err)
			}
			if base.UserID != userID {
				return nil, ErrForbidden
			}
		}
	}
	if base == nil && req.UserInput.Description == "" {
		return nil, fmt.Errorf("%w: userInput.description is required", ErrInvalidRequest)
	}

	t := tcc.New(userID, req.UserInput, opts)
	if base != nil {
		t.SeedFrom(base, tcc.EarliestStepFor(opts.EditMode.Instructions))
	}
	if err := o.store.Create(ctx, t); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	metrics.JobStarted()
	log := logging.ForJob(t.JobID)
	log.Info("job started",
		zap.String("user_id", userID),
		zap.String("step", string(t.CurrentOrchestrationStep)),
		zap.Bool("edit_mode", opts.EditMode != nil),
	)

	ev := progress.NewEvent(t.JobID, progress.EventJobStarted, t.CurrentOrchestrationStep)
	ev.Message = "Tool generation started"
	ev.Data = map[string]any{"editMode": opts.EditMode != nil}
	if base != nil {
		ev.Data["baseJobId"] = base.JobID
	}
	o.emitter.Emit(ctx, ev)

	o.trigger.Step(ctx, t.JobID)
	return t, nil
}

// StepResult reports what a step call dispatched.
type StepResult struct {
	JobID      string                `json:"jobId"`
	Step       tcc.OrchestrationStep `json:"step"`
	Dispatched []tcc.AgentID         `json:"dispatched"`
}

// RunStep dispatches the agents of the job's current step. The parallel
// group dispatches each design agent that has not produced output yet;
// completed jobs are a no-op.
func (o *Orchestrator) RunStep(ctx context.Context, jobID string) (*StepResult, error) {
	t, err := o.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if t.Status == tcc.StatusError {
		return nil, fmt.Errorf("%w: %s", ErrJobFailed, t.ErrorMessage)
	}

	step := t.CurrentOrchestrationStep
	res := &StepResult{JobID: jobID, Step: step, Dispatched: []tcc.AgentID{}}
	if step == tcc.StepCompleted {
		return res, nil
	}

	if step.IsParallel() {
		missing := tcc.MissingParallel(t)
		if len(missing) == 0 {
			o.trigger.CheckParallel(ctx, jobID)
			return res, nil
		}
		for _, agent := range missing {
			o.trigger.Agent(ctx, jobID, agent)
		}
		res.Dispatched = missing
		return res, nil
	}

	ids := tcc.AgentsForStep(step)
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: step %q has no agent", ErrInvalidRequest, step)
	}
	o.trigger.Agent(ctx, jobID, ids[0])
	res.Dispatched = ids
	return res, nil
}

// AgentOptions adjust a single agent invocation.
type AgentOptions struct {
	// UserID restricts the call to the job owner. Empty for internal calls.
	UserID string
	// Model overrides the job's model for this run.
	Model string
	// IsolatedTest runs the agent without advancing the pipeline.
	IsolatedTest bool
}

// AgentResult is the outcome of RunAgent.
type AgentResult struct {
	AgentID  tcc.AgentID           `json:"agentId"`
	Step     tcc.OrchestrationStep `json:"step"`
	Model    string                `json:"model,omitempty"`
	Attempts int                   `json:"attempts"`
	Score    float64               `json:"score,omitempty"`
	Warnings []string              `json:"warnings,omitempty"`
	Duration time.Duration         `json:"duration"`
	// Skipped is set when the agent's step had already completed.
	Skipped bool `json:"skipped,omitempty"`
}

// RunAgent runs one agent against the stored context, persists its fragment
// and continues the pipeline: parallel agents go to the parallel check, the
// finalizer publishes the tool, every other agent advances to the next step.
func (o *Orchestrator) RunAgent(ctx context.Context, jobID string, id tcc.AgentID, opts AgentOptions) (*AgentResult, error) {
	agent, err := o.agents.Get(id)
	if err != nil {
		return nil, err
	}
	step, _ := tcc.StepForAgent(id)

	t, err := o.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if opts.UserID != "" && opts.UserID != t.UserID {
		return nil, ErrForbidden
	}

	res := &AgentResult{AgentID: id, Step: step}
	if !opts.IsolatedTest {
		if t.Status == tcc.StatusError {
			return nil, fmt.Errorf("%w: %s", ErrJobFailed, t.ErrorMessage)
		}
		current := t.CurrentOrchestrationStep
		if current != step && !(current.IsParallel() && step.IsParallel()) {
			return nil, fmt.Errorf("%w: %s runs in %s, job is at %s", ErrStepMismatch, id, step, current)
		}
		if t.Step(step).Status == tcc.StatusCompleted {
			res.Skipped = true
			return res, nil
		}
	}

	log := logging.ForJob(jobID, zap.String("agent", string(id)), zap.String("step", string(step)))

	t, err = o.store.Update(ctx, jobID, func(doc *tcc.TCC) error {
		doc.MarkStepStarted(step)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("mark step started: %w", err)
	}
	ev := progress.NewEvent(jobID, progress.EventStepStarted, step)
	ev.AgentID = id
	o.emitter.Emit(ctx, ev)

	// Bookkeeping outlives the caller so a canceled run is still recorded.
	saveCtx := context.WithoutCancel(ctx)

	runCtx := ctx
	if o.opts.AgentTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, o.opts.AgentTimeout)
		defer cancel()
	}

	model := opts.Model
	if model == "" {
		model = t.ModelFor(id)
	}
	started := time.Now()
	out, runErr := agent.Run(runCtx, t, agents.RunOptions{
		Model: model,
		OnAttempt: func(_ context.Context, a agents.Attempt) {
			log.Debug("agent attempt", zap.Int("attempt", a.Number), zap.String("model", a.Model))
			if a.Number < 2 {
				return
			}
			if _, err := o.store.Update(saveCtx, jobID, func(doc *tcc.TCC) error {
				doc.Step(step).Attempts++
				return nil
			}); err != nil {
				log.Warn("record retry attempt", zap.Error(err))
			}
		},
	})
	elapsed := time.Since(started)

	if runErr != nil {
		metrics.Get().RecordAgentRun(string(id), "error", elapsed)
		log.Error("agent failed", zap.Duration("duration", elapsed), zap.Error(runErr))
		o.fail(saveCtx, jobID, step, id, runErr, !opts.IsolatedTest)
		return nil, fmt.Errorf("%w: %s: %w", ErrAgentFailed, id, runErr)
	}
	metrics.Get().RecordAgentRun(string(id), "success", elapsed)

	if _, err := o.store.Update(saveCtx, jobID, func(doc *tcc.TCC) error {
		out.Fragment.Apply(doc)
		doc.MarkStepCompleted(step)
		return nil
	}); err != nil {
		return nil, fmt.Errorf("save %s output: %w", id, err)
	}

	res.Model = out.Model
	res.Attempts = out.Attempts
	res.Score = out.Score
	res.Warnings = out.Warnings
	res.Duration = elapsed
	log.Info("agent completed",
		zap.String("model", out.Model),
		zap.Int("attempts", out.Attempts),
		zap.Duration("duration", elapsed),
	)

	ev = progress.NewEvent(jobID, progress.EventStepCompleted, step)
	ev.AgentID = id
	ev.Data = map[string]any{
		"model":      out.Model,
		"attempts":   out.Attempts,
		"durationMs": elapsed.Milliseconds(),
	}
	if len(out.Warnings) > 0 {
		ev.Data["warnings"] = out.Warnings
	}
	o.emitter.Emit(saveCtx, ev)

	if opts.IsolatedTest {
		return res, nil
	}

	switch {
	case step.IsParallel():
		o.trigger.CheckParallel(saveCtx, jobID)
	case step == tcc.StepFinalizingTool:
		if err := o.finalize(saveCtx, jobID); err != nil {
			return nil, err
		}
	default:
		advanced, _, err := o.store.AdvanceStep(saveCtx, jobID, []tcc.OrchestrationStep{step}, tcc.NextStep(step))
		if err != nil {
			return nil, fmt.Errorf("advance from %s: %w", step, err)
		}
		if advanced {
			o.trigger.Step(saveCtx, jobID)
		}
	}
	return res, nil
}

// ParallelStatus reports the state of the parallel design group.
type ParallelStatus struct {
	JobID    string                `json:"jobId"`
	Complete bool                  `json:"complete"`
	Advanced bool                  `json:"advanced"`
	Missing  []tcc.AgentID         `json:"missing,omitempty"`
	Step     tcc.OrchestrationStep `json:"currentStep"`
}

// CheckParallel advances the job past the design group once both design
// outputs exist. Only the caller that wins the advance triggers the next
// step.
func (o *Orchestrator) CheckParallel(ctx context.Context, jobID string) (*ParallelStatus, error) {
	t, err := o.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	status := &ParallelStatus{JobID: jobID, Step: t.CurrentOrchestrationStep}
	if !tcc.ParallelComplete(t) {
		status.Missing = tcc.MissingParallel(t)
		return status, nil
	}
	status.Complete = true
	if !t.CurrentOrchestrationStep.IsParallel() {
		return status, nil
	}

	advanced, t, err := o.store.AdvanceStep(ctx, jobID, tcc.ParallelSteps, tcc.StepApplyingTailwind)
	if err != nil {
		return nil, fmt.Errorf("advance parallel group: %w", err)
	}
	status.Advanced = advanced
	status.Step = t.CurrentOrchestrationStep
	if advanced {
		logging.ForJob(jobID).Info("parallel design complete")
		o.trigger.Step(ctx, jobID)
	}
	return status, nil
}

// finalize publishes the final product and completes the job.
func (o *Orchestrator) finalize(ctx context.Context, jobID string) error {
	t, err := o.store.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if t.FinalProduct == nil {
		err := errors.New("finalizer produced no tool definition")
		o.fail(ctx, jobID, tcc.StepFinalizingTool, tcc.AgentToolFinalizer, err, true)
		return err
	}

	data := map[string]any{"toolId": t.FinalProduct.ID, "slug": t.FinalProduct.Slug}
	if o.publisher != nil {
		tool, err := o.publisher.Publish(ctx, t.FinalProduct, t.UserID, jobID)
		if err != nil {
			err = fmt.Errorf("publish tool: %w", err)
			o.fail(ctx, jobID, tcc.StepFinalizingTool, tcc.AgentToolFinalizer, err, true)
			return err
		}
		data["bundleKeys"] = tool.BundleKeys
	}

	advanced, _, err := o.store.AdvanceStep(ctx, jobID, []tcc.OrchestrationStep{tcc.StepFinalizingTool}, tcc.StepCompleted)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	if !advanced {
		return nil
	}

	metrics.JobFinished(string(tcc.StatusCompleted))
	logging.ForJob(jobID).Info("job completed", zap.String("tool_id", t.FinalProduct.ID))
	ev := progress.NewEvent(jobID, progress.EventJobCompleted, tcc.StepCompleted)
	ev.Message = "Tool generation completed"
	ev.Data = data
	o.emitter.Emit(ctx, ev)
	return nil
}

// fail records an agent failure. failJob also fails the whole job.
func (o *Orchestrator) fail(ctx context.Context, jobID string, step tcc.OrchestrationStep, id tcc.AgentID, cause error, failJob bool) {
	_, err := o.store.Update(ctx, jobID, func(doc *tcc.TCC) error {
		if failJob {
			doc.MarkStepFailed(step, cause)
			return nil
		}
		st := doc.Step(step)
		st.Status = tcc.StatusError
		st.Error = cause.Error()
		return nil
	})
	if err != nil {
		logging.ForJob(jobID).Error("record step failure", zap.Error(err))
	}

	ev := progress.NewEvent(jobID, progress.EventStepFailed, step)
	ev.AgentID = id
	ev.Message = cause.Error()
	o.emitter.Emit(ctx, ev)

	if failJob {
		metrics.JobFinished(string(tcc.StatusError))
		ev = progress.NewEvent(jobID, progress.EventJobFailed, step)
		ev.AgentID = id
		ev.Message = cause.Error()
		o.emitter.Emit(ctx, ev)
	}
}

// Job returns the context of a job owned by userID.
func (o *Orchestrator) Job(ctx context.Context, jobID, userID string) (*tcc.TCC, error) {
	t, err := o.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if t.UserID != userID {
		return nil, ErrForbidden
	}
	return t, nil
}

// Edit appends instructions to a completed job and restarts it from the
// earliest step they target. Outputs from that step on are regenerated with
// the previous outputs as the baseline.
func (o *Orchestrator) Edit(ctx context.Context, jobID, userID string, instructions []tcc.EditInstruction) (*tcc.TCC, error) {
	normalized, err := normalizeInstructions(instructions)
	if err != nil {
		return nil, err
	}
	from := tcc.EarliestStepFor(normalized)

	t, err := o.store.Update(ctx, jobID, func(doc *tcc.TCC) error {
		if doc.UserID != userID {
			return ErrForbidden
		}
		if doc.Status != tcc.StatusCompleted {
			return fmt.Errorf("%w: job is %s", ErrJobNotEditable, doc.Status)
		}
		if doc.EditModeContext == nil {
			doc.EditModeContext = &tcc.EditModeContext{}
		}
		edit := doc.EditModeContext
		edit.IsEditMode = true
		edit.Instructions = append(edit.Instructions, normalized...)
		edit.Baseline = &tcc.Baseline{
			DefinedFunctionSignatures: doc.DefinedFunctionSignatures,
			StateLogic:                doc.StateLogic,
			JSXLayout:                 doc.JSXLayout,
			Styling:                   doc.Styling,
			AssembledComponentCode:    doc.AssembledComponentCode,
			FinalProduct:              doc.FinalProduct,
		}

		doc.ResetFrom(from)
		doc.CurrentOrchestrationStep = from
		doc.Status = tcc.StatusInProgress
		doc.ErrorMessage = ""
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.JobStarted()
	logging.ForJob(jobID).Info("job edit started", zap.String("step", string(from)), zap.Int("instructions", len(normalized)))
	ev := progress.NewEvent(jobID, progress.EventJobStarted, from)
	ev.Message = "Tool edit started"
	ev.Data = map[string]any{"editMode": true, "instructions": len(normalized)}
	o.emitter.Emit(ctx, ev)

	o.trigger.Step(ctx, jobID)
	return t, nil
}
