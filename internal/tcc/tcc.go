package tcc

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Options configure a new TCC.
type Options struct {
	JobID             string
	SelectedModel     string
	AgentModelMapping map[AgentID]string
	BrainstormData    map[string]any
	EditMode          *EditModeContext
}

// New creates a fresh context positioned at function planning.
func New(userID string, input UserInput, opts Options) *TCC {
	now := time.Now().UTC()
	jobID := opts.JobID
	if jobID == "" {
		jobID = uuid.NewString()
	}

	t := &TCC{
		JobID:                    jobID,
		UserID:                   userID,
		Status:                   StatusInProgress,
		CurrentOrchestrationStep: StepPlanningFunctions,
		TCCVersion:               1,
		SelectedModel:            opts.SelectedModel,
		AgentModelMapping:        make(map[AgentID]string, len(opts.AgentModelMapping)),
		UserInput:                input,
		BrainstormData:           opts.BrainstormData,
		Steps:                    make(map[OrchestrationStep]*StepState, len(stepOrder)),
		EditModeContext:          opts.EditMode,
		CreatedAt:                now,
		UpdatedAt:                now,
	}
	for agent, model := range opts.AgentModelMapping {
		if agent.Valid() && model != "" {
			t.AgentModelMapping[agent] = model
		}
	}
	for _, step := range stepOrder {
		t.Steps[step] = &StepState{Status: StatusPending}
	}
	t.Steps[StepInitialization] = &StepState{Status: StatusCompleted, StartedAt: &now, CompletedAt: &now}
	return t
}

// Clone returns a deep copy of t.
func (t *TCC) Clone() (*TCC, error) {
	raw, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("marshal tcc: %w", err)
	}
	var out TCC
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("unmarshal tcc: %w", err)
	}
	return &out, nil
}

// SeedFrom copies the agent outputs of base into t for an edit run. Outputs
// from step onward are dropped so those agents regenerate them; the edit
// context keeps them as the baseline to revise.
func (t *TCC) SeedFrom(base *TCC, from OrchestrationStep) {
	if base == nil {
		return
	}
	if t.EditModeContext != nil {
		t.EditModeContext.BaseJobID = base.JobID
		t.EditModeContext.Baseline = &Baseline{
			DefinedFunctionSignatures: base.DefinedFunctionSignatures,
			StateLogic:                base.StateLogic,
			JSXLayout:                 base.JSXLayout,
			Styling:                   base.Styling,
			AssembledComponentCode:    base.AssembledComponentCode,
		}
	}
	t.UserInput = base.UserInput
	if t.BrainstormData == nil {
		t.BrainstormData = base.BrainstormData
	}
	t.DefinedFunctionSignatures = base.DefinedFunctionSignatures
	t.StateLogic = base.StateLogic
	t.JSXLayout = base.JSXLayout
	t.Styling = base.Styling
	t.AssembledComponentCode = base.AssembledComponentCode
	t.AssemblyMetadata = base.AssemblyMetadata

	for _, step := range stepOrder {
		if step.Index() < from.Index() {
			if st, ok := base.Steps[step]; ok && st.Status == StatusCompleted {
				t.Steps[step] = &StepState{Status: StatusCompleted, StartedAt: st.StartedAt, CompletedAt: st.CompletedAt}
			}
		}
	}
	t.CurrentOrchestrationStep = from
	t.ResetFrom(from)
}

// ResetFrom clears the outputs produced at or after step so those agents
// run again.
func (t *TCC) ResetFrom(step OrchestrationStep) {
	idx := step.Index()
	if idx < 0 {
		return
	}
	if StepValidatingCode.Index() >= idx {
		t.ValidationResult = nil
	}
	t.FinalProduct = nil
	if StepAssemblingComponent.Index() >= idx {
		t.AssembledComponentCode = ""
		t.AssemblyMetadata = nil
	}
	if StepApplyingTailwind.Index() >= idx {
		t.Styling = nil
	}
	if StepDesigningStateLogic.Index() >= idx {
		t.StateLogic = nil
		t.JSXLayout = nil
	}
	if StepPlanningFunctions.Index() >= idx {
		t.DefinedFunctionSignatures = nil
	}
	for _, s := range stepOrder[idx:] {
		*t.Step(s) = StepState{Status: StatusPending}
	}
}

// EarliestStepFor returns the earliest pipeline step among the agents the
// instructions target.
func EarliestStepFor(instructions []EditInstruction) OrchestrationStep {
	earliest := StepFinalizingTool
	for _, inst := range instructions {
		step, ok := StepForAgent(inst.TargetAgent)
		if !ok {
			continue
		}
		// editing one design agent restarts the whole parallel group
		if step.IsParallel() {
			step = StepDesigningStateLogic
		}
		if step.Index() < earliest.Index() {
			earliest = step
		}
	}
	return earliest
}
