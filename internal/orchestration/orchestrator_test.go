package orchestration

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/lmnhd/keyvex-sub008/internal/progress"
	"github.com/lmnhd/keyvex-sub008/internal/tcc"
)

func TestStartCreatesJob(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	job, err := f.orch.Start(ctx, "user-1", StartRequest{
		UserInput:         tcc.UserInput{Description: "A mortgage affordability calculator"},
		SelectedModel:     "claude-3-5-sonnet-20241022",
		AgentModelMapping: map[tcc.AgentID]string{tcc.AgentCodeValidator: "gpt-4o"},
	})
	require.NoError(t, err)
	assert.Equal(t, tcc.StepPlanningFunctions, job.CurrentOrchestrationStep)
	assert.Equal(t, tcc.StatusInProgress, job.Status)

	stored, err := f.store.Get(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, "user-1", stored.UserID)
	assert.Equal(t, "gpt-4o", stored.ModelFor(tcc.AgentCodeValidator))

	assert.Equal(t, []triggerCall{{kind: "step", jobID: job.JobID}}, f.trigger.snapshot())
	assert.Equal(t, []progress.EventType{progress.EventJobStarted}, f.events.types())
}

func TestStartValidation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	other := f.completedJob("user-2")

	tests := []struct {
		name string
		req  StartRequest
		want error
	}{
		{"missing description", StartRequest{}, ErrInvalidRequest},
		{"edit without instructions", StartRequest{
			UserInput: tcc.UserInput{Description: "x"},
			EditMode:  &EditRequest{},
		}, ErrInvalidRequest},
		{"unknown target agent", StartRequest{
			UserInput: tcc.UserInput{Description: "x"},
			EditMode:  &EditRequest{Instructions: []tcc.EditInstruction{{TargetAgent: "nobody", Instructions: "x"}}},
		}, ErrInvalidRequest},
		{"base job of another user", StartRequest{
			EditMode: &EditRequest{
				BaseJobID:    other.JobID,
				Instructions: []tcc.EditInstruction{{TargetAgent: tcc.AgentTailwindStyling, Instructions: "darker"}},
			},
		}, ErrForbidden},
		{"missing base job", StartRequest{
			EditMode: &EditRequest{
				BaseJobID:    "missing",
				Instructions: []tcc.EditInstruction{{TargetAgent: tcc.AgentTailwindStyling, Instructions: "darker"}},
			},
		}, tcc.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.orch.Start(ctx, "user-1", tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.Empty(t, f.trigger.snapshot())
}

func TestStartEditSeedsFromBase(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	base := f.completedJob("user-1")

	job, err := f.orch.Start(ctx, "user-1", StartRequest{
		EditMode: &EditRequest{
			BaseJobID:    base.JobID,
			Instructions: []tcc.EditInstruction{{TargetAgent: tcc.AgentTailwindStyling, Instructions: "use a dark theme"}},
		},
	})
	require.NoError(t, err)
	assert.NotEqual(t, base.JobID, job.JobID)
	assert.Equal(t, tcc.StepApplyingTailwind, job.CurrentOrchestrationStep)
	assert.Equal(t, base.UserInput, job.UserInput)
	assert.NotNil(t, job.StateLogic)
	assert.NotNil(t, job.JSXLayout)
	assert.Nil(t, job.Styling)
	assert.Nil(t, job.FinalProduct)

	require.NotNil(t, job.EditModeContext)
	assert.Equal(t, base.JobID, job.EditModeContext.BaseJobID)
	require.Len(t, job.EditModeContext.Instructions, 1)
	assert.Equal(t, tcc.PriorityMedium, job.EditModeContext.Instructions[0].Priority)
	require.NotNil(t, job.EditModeContext.Baseline)
	assert.NotNil(t, job.EditModeContext.Baseline.Styling)
}

func TestRunStepDispatch(t *testing.T) {
	ctx := context.Background()

	t.Run("single agent", func(t *testing.T) {
		f := newFixture()
		job := f.seedJob("user-1", tcc.StepPlanningFunctions)
		res, err := f.orch.RunStep(ctx, job.JobID)
		require.NoError(t, err)
		assert.Equal(t, []tcc.AgentID{tcc.AgentFunctionPlanner}, res.Dispatched)
		assert.Equal(t, []triggerCall{{kind: "agent", jobID: job.JobID, agent: tcc.AgentFunctionPlanner}}, f.trigger.snapshot())
	})

	t.Run("parallel group skips finished agents", func(t *testing.T) {
		f := newFixture()
		job := f.seedJob("user-1", tcc.StepDesigningStateLogic)
		_, err := f.store.Update(ctx, job.JobID, func(doc *tcc.TCC) error {
			doc.StateLogic = &tcc.StateLogic{StateVariables: []tcc.StateVariable{{Name: "amount"}}}
			return nil
		})
		require.NoError(t, err)

		res, err := f.orch.RunStep(ctx, job.JobID)
		require.NoError(t, err)
		assert.Equal(t, []tcc.AgentID{tcc.AgentJSXLayout}, res.Dispatched)
	})

	t.Run("parallel group both dispatched", func(t *testing.T) {
		f := newFixture()
		job := f.seedJob("user-1", tcc.StepDesigningStateLogic)
		res, err := f.orch.RunStep(ctx, job.JobID)
		require.NoError(t, err)
		assert.ElementsMatch(t, []tcc.AgentID{tcc.AgentStateDesign, tcc.AgentJSXLayout}, res.Dispatched)
	})

	t.Run("completed is a no-op", func(t *testing.T) {
		f := newFixture()
		job := f.completedJob("user-1")
		res, err := f.orch.RunStep(ctx, job.JobID)
		require.NoError(t, err)
		assert.Empty(t, res.Dispatched)
		assert.Empty(t, f.trigger.snapshot())
	})

	t.Run("failed job", func(t *testing.T) {
		f := newFixture()
		job := f.seedJob("user-1", tcc.StepValidatingCode)
		_, err := f.store.Update(ctx, job.JobID, func(doc *tcc.TCC) error {
			doc.MarkStepFailed(tcc.StepValidatingCode, errors.New("boom"))
			return nil
		})
		require.NoError(t, err)
		_, err = f.orch.RunStep(ctx, job.JobID)
		assert.ErrorIs(t, err, ErrJobFailed)
	})

	t.Run("unknown job", func(t *testing.T) {
		f := newFixture()
		_, err := f.orch.RunStep(ctx, "missing")
		assert.ErrorIs(t, err, tcc.ErrNotFound)
	})
}

func TestRunAgentAdvances(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	job := f.seedJob("user-1", tcc.StepPlanningFunctions)

	res, err := f.orch.RunAgent(ctx, job.JobID, tcc.AgentFunctionPlanner, AgentOptions{Model: "gpt-4o"})
	require.NoError(t, err)
	assert.Equal(t, tcc.StepPlanningFunctions, res.Step)
	assert.Equal(t, "gpt-4o", res.Model)
	assert.Equal(t, 1, res.Attempts)

	stored, err := f.store.Get(ctx, job.JobID)
	require.NoError(t, err)
	assert.Len(t, stored.DefinedFunctionSignatures, 1)
	assert.Equal(t, tcc.StatusCompleted, stored.Step(tcc.StepPlanningFunctions).Status)
	assert.Equal(t, tcc.StepDesigningStateLogic, stored.CurrentOrchestrationStep)

	assert.Equal(t, []triggerCall{{kind: "step", jobID: job.JobID}}, f.trigger.snapshot())
	assert.Equal(t, []progress.EventType{progress.EventStepStarted, progress.EventStepCompleted}, f.events.types())
}

func TestRunAgentUsesJobModel(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	job := tcc.New("user-1", tcc.UserInput{Description: "quiz"}, tcc.Options{
		SelectedModel:     "claude-3-5-sonnet-20241022",
		AgentModelMapping: map[tcc.AgentID]string{tcc.AgentFunctionPlanner: "gpt-4o-mini"},
	})
	require.NoError(t, f.store.Create(ctx, job))

	_, err := f.orch.RunAgent(ctx, job.JobID, tcc.AgentFunctionPlanner, AgentOptions{})
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", f.fakes[tcc.AgentFunctionPlanner].model)
}

func TestRunAgentParallelChecksCompletion(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	job := f.seedJob("user-1", tcc.StepDesigningStateLogic)

	_, err := f.orch.RunAgent(ctx, job.JobID, tcc.AgentJSXLayout, AgentOptions{})
	require.NoError(t, err)

	stored, err := f.store.Get(ctx, job.JobID)
	require.NoError(t, err)
	assert.NotNil(t, stored.JSXLayout)
	assert.Equal(t, tcc.StepDesigningStateLogic, stored.CurrentOrchestrationStep)
	assert.Equal(t, []triggerCall{{kind: "check", jobID: job.JobID}}, f.trigger.snapshot())

	// a duplicate dispatch of a finished parallel agent does nothing
	res, err := f.orch.RunAgent(ctx, job.JobID, tcc.AgentJSXLayout, AgentOptions{})
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, 1, f.fakes[tcc.AgentJSXLayout].callCount())
}

func TestRunAgentRejects(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	job := f.seedJob("user-1", tcc.StepPlanningFunctions)

	_, err := f.orch.RunAgent(ctx, job.JobID, tcc.AgentTailwindStyling, AgentOptions{})
	assert.ErrorIs(t, err, ErrStepMismatch)

	_, err = f.orch.RunAgent(ctx, job.JobID, tcc.AgentFunctionPlanner, AgentOptions{UserID: "user-2"})
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.orch.RunAgent(ctx, job.JobID, "nobody", AgentOptions{})
	assert.Error(t, err)

	assert.Zero(t, f.fakes[tcc.AgentTailwindStyling].callCount())
}

func TestRunAgentIsolatedTest(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	job := f.seedJob("user-1", tcc.StepPlanningFunctions)

	res, err := f.orch.RunAgent(ctx, job.JobID, tcc.AgentTailwindStyling, AgentOptions{UserID: "user-1", IsolatedTest: true})
	require.NoError(t, err)
	assert.Equal(t, tcc.StepApplyingTailwind, res.Step)

	stored, err := f.store.Get(ctx, job.JobID)
	require.NoError(t, err)
	assert.NotNil(t, stored.Styling)
	assert.Equal(t, tcc.StepPlanningFunctions, stored.CurrentOrchestrationStep)
	assert.Empty(t, f.trigger.snapshot())
}

func TestRunAgentFailureFailsJob(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.fakes[tcc.AgentFunctionPlanner].err = errors.New("model unavailable")
	job := f.seedJob("user-1", tcc.StepPlanningFunctions)

	_, err := f.orch.RunAgent(ctx, job.JobID, tcc.AgentFunctionPlanner, AgentOptions{})
	require.ErrorIs(t, err, ErrAgentFailed)

	stored, err := f.store.Get(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, tcc.StatusError, stored.Status)
	assert.Equal(t, "model unavailable", stored.ErrorMessage)
	assert.Equal(t, tcc.StatusError, stored.Step(tcc.StepPlanningFunctions).Status)

	assert.Equal(t, []progress.EventType{
		progress.EventStepStarted,
		progress.EventStepFailed,
		progress.EventJobFailed,
	}, f.events.types())
	assert.Empty(t, f.trigger.snapshot())

	_, err = f.orch.RunAgent(ctx, job.JobID, tcc.AgentFunctionPlanner, AgentOptions{})
	assert.ErrorIs(t, err, ErrJobFailed)
}

func TestCheckParallel(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	job := f.seedJob("user-1", tcc.StepDesigningStateLogic)

	status, err := f.orch.CheckParallel(ctx, job.JobID)
	require.NoError(t, err)
	assert.False(t, status.Complete)
	assert.Equal(t, []tcc.AgentID{tcc.AgentStateDesign, tcc.AgentJSXLayout}, status.Missing)

	_, err = f.store.Update(ctx, job.JobID, func(doc *tcc.TCC) error {
		fragments()[tcc.AgentStateDesign].Apply(doc)
		fragments()[tcc.AgentJSXLayout].Apply(doc)
		return nil
	})
	require.NoError(t, err)

	status, err = f.orch.CheckParallel(ctx, job.JobID)
	require.NoError(t, err)
	assert.True(t, status.Complete)
	assert.True(t, status.Advanced)
	assert.Equal(t, tcc.StepApplyingTailwind, status.Step)

	status, err = f.orch.CheckParallel(ctx, job.JobID)
	require.NoError(t, err)
	assert.True(t, status.Complete)
	assert.False(t, status.Advanced)

	// only the winning check triggers the next step
	assert.Equal(t, []triggerCall{{kind: "step", jobID: job.JobID}}, f.trigger.snapshot())
}

func TestFinalizePublishes(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	job := f.seedJob("user-1", tcc.StepFinalizingTool)

	_, err := f.orch.RunAgent(ctx, job.JobID, tcc.AgentToolFinalizer, AgentOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, f.publisher.count())

	stored, err := f.store.Get(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, tcc.StepCompleted, stored.CurrentOrchestrationStep)
	assert.Equal(t, tcc.StatusCompleted, stored.Status)

	ev, err := f.events.wait(time.Second)
	require.NoError(t, err)
	assert.Equal(t, progress.EventJobCompleted, ev.Type)
	assert.Equal(t, "tool-1", ev.Data["toolId"])
}

func TestFinalizePublishFailure(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.publisher.err = errors.New("database is down")
	job := f.seedJob("user-1", tcc.StepFinalizingTool)

	_, err := f.orch.RunAgent(ctx, job.JobID, tcc.AgentToolFinalizer, AgentOptions{})
	require.Error(t, err)

	stored, err := f.store.Get(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, tcc.StatusError, stored.Status)
	assert.Contains(t, stored.ErrorMessage, "database is down")

	ev, err := f.events.wait(time.Second)
	require.NoError(t, err)
	assert.Equal(t, progress.EventJobFailed, ev.Type)
}

func TestJob(t *testing.T) {
	f := newFixture()
	job := f.seedJob("user-1", tcc.StepPlanningFunctions)

	got, err := f.orch.Job(context.Background(), job.JobID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, job.JobID, got.JobID)

	_, err = f.orch.Job(context.Background(), job.JobID, "user-2")
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestEdit(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	job := f.completedJob("user-1")
	instructions := []tcc.EditInstruction{
		{TargetAgent: tcc.AgentCodeValidator, Instructions: "be stricter"},
		{TargetAgent: tcc.AgentJSXLayout, Instructions: "add a results panel", Priority: tcc.PriorityHigh},
	}

	_, err := f.orch.Edit(ctx, job.JobID, "user-2", instructions)
	assert.ErrorIs(t, err, ErrForbidden)

	edited, err := f.orch.Edit(ctx, job.JobID, "user-1", instructions)
	require.NoError(t, err)
	assert.Equal(t, tcc.StepDesigningStateLogic, edited.CurrentOrchestrationStep)
	assert.Equal(t, tcc.StatusInProgress, edited.Status)
	assert.NotEmpty(t, edited.DefinedFunctionSignatures)
	assert.Nil(t, edited.StateLogic)
	assert.Nil(t, edited.JSXLayout)
	assert.Nil(t, edited.FinalProduct)
	assert.Equal(t, tcc.StatusPending, edited.Step(tcc.StepApplyingTailwind).Status)

	require.NotNil(t, edited.EditModeContext)
	assert.True(t, edited.EditModeContext.IsEditMode)
	assert.Len(t, edited.EditModeContext.Instructions, 2)
	require.NotNil(t, edited.EditModeContext.Baseline)
	assert.NotNil(t, edited.EditModeContext.Baseline.JSXLayout)

	assert.Equal(t, []triggerCall{{kind: "step", jobID: job.JobID}}, f.trigger.snapshot())

	// the job is running again, so a second edit is refused
	_, err = f.orch.Edit(ctx, job.JobID, "user-1", instructions)
	assert.ErrorIs(t, err, ErrJobNotEditable)

	_, err = f.orch.Edit(ctx, job.JobID, "user-1", nil)
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestPipelineRunsInProcess(t *testing.T) {
	defer goleak.VerifyNone(t, ignoreInitGoroutines...)

	f := newFixture()
	trigger := NewInProcessTrigger(f.orch, 4)
	f.orch.SetTrigger(trigger)

	job, err := f.orch.Start(context.Background(), "user-1", StartRequest{
		UserInput: tcc.UserInput{Description: "A loan payment calculator"},
	})
	require.NoError(t, err)

	ev, err := f.events.wait(5 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, progress.EventJobCompleted, ev.Type)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, trigger.Close(ctx))

	stored, err := f.store.Get(context.Background(), job.JobID)
	require.NoError(t, err)
	assert.Equal(t, tcc.StatusCompleted, stored.Status)
	for _, step := range tcc.Steps() {
		assert.Equal(t, tcc.StatusCompleted, stored.Step(step).Status, step)
	}
	for id, a := range f.fakes {
		assert.Equal(t, 1, a.callCount(), id)
	}
	assert.Equal(t, 1, f.publisher.count())
}

func TestInProcessTriggerDropsAfterClose(t *testing.T) {
	defer goleak.VerifyNone(t, ignoreInitGoroutines...)

	f := newFixture()
	trigger := NewInProcessTrigger(f.orch, 1)
	require.NoError(t, trigger.Close(context.Background()))

	job := f.seedJob("user-1", tcc.StepPlanningFunctions)
	trigger.Step(context.Background(), job.JobID)
	assert.Zero(t, f.fakes[tcc.AgentFunctionPlanner].callCount())
}
