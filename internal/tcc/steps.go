package tcc

import (
	"time"
)

// stepOrder is the linear pipeline. The two design steps run as a parallel
// group; the orchestrator leaves the group only through the parallel check.
var stepOrder = []OrchestrationStep{
	StepInitialization,
	StepPlanningFunctions,
	StepDesigningStateLogic,
	StepDesigningJSXLayout,
	StepApplyingTailwind,
	StepAssemblingComponent,
	StepValidatingCode,
	StepFinalizingTool,
	StepCompleted,
}

var stepProgress = map[OrchestrationStep]int{
	StepInitialization:      0,
	StepPlanningFunctions:   10,
	StepDesigningStateLogic: 25,
	StepDesigningJSXLayout:  25,
	StepApplyingTailwind:    50,
	StepAssemblingComponent: 65,
	StepValidatingCode:      80,
	StepFinalizingTool:      90,
	StepCompleted:           100,
}

var stepAgent = map[OrchestrationStep]AgentID{
	StepPlanningFunctions:   AgentFunctionPlanner,
	StepDesigningStateLogic: AgentStateDesign,
	StepDesigningJSXLayout:  AgentJSXLayout,
	StepApplyingTailwind:    AgentTailwindStyling,
	StepAssemblingComponent: AgentComponentAssembler,
	StepValidatingCode:      AgentCodeValidator,
	StepFinalizingTool:      AgentToolFinalizer,
}

// ParallelSteps is the step group whose agents run concurrently.
var ParallelSteps = []OrchestrationStep{StepDesigningStateLogic, StepDesigningJSXLayout}

// Steps returns the pipeline order.
func Steps() []OrchestrationStep {
	out := make([]OrchestrationStep, len(stepOrder))
	copy(out, stepOrder)
	return out
}

// Valid reports whether s is a known step.
func (s OrchestrationStep) Valid() bool {
	_, ok := stepProgress[s]
	return ok
}

// IsParallel reports whether s belongs to the parallel design group.
func (s OrchestrationStep) IsParallel() bool {
	return s == StepDesigningStateLogic || s == StepDesigningJSXLayout
}

// Index returns the position of s in the pipeline, or -1.
func (s OrchestrationStep) Index() int {
	for i, step := range stepOrder {
		if step == s {
			return i
		}
	}
	return -1
}

// NextStep returns the step after s. Both parallel steps are followed by
// tailwind styling; completed is terminal.
func NextStep(s OrchestrationStep) OrchestrationStep {
	if s.IsParallel() {
		return StepApplyingTailwind
	}
	idx := s.Index()
	if idx < 0 || idx >= len(stepOrder)-1 {
		return StepCompleted
	}
	return stepOrder[idx+1]
}

// ProgressPercent returns the UI progress of a step.
func ProgressPercent(s OrchestrationStep) int {
	return stepProgress[s]
}

// StepForAgent returns the step an agent runs in.
func StepForAgent(agent AgentID) (OrchestrationStep, bool) {
	for step, a := range stepAgent {
		if a == agent {
			return step, true
		}
	}
	return "", false
}

// AgentsForStep returns the agents to dispatch for a step. The first parallel
// step dispatches both design agents.
func AgentsForStep(s OrchestrationStep) []AgentID {
	if s.IsParallel() {
		return []AgentID{AgentStateDesign, AgentJSXLayout}
	}
	if a, ok := stepAgent[s]; ok {
		return []AgentID{a}
	}
	return nil
}

// ParallelComplete reports whether both design outputs are present.
func ParallelComplete(t *TCC) bool {
	return t.StateLogic != nil && t.JSXLayout != nil
}

// MissingParallel lists the design agents that have not produced output.
func MissingParallel(t *TCC) []AgentID {
	var missing []AgentID
	if t.StateLogic == nil {
		missing = append(missing, AgentStateDesign)
	}
	if t.JSXLayout == nil {
		missing = append(missing, AgentJSXLayout)
	}
	return missing
}

// Bump increments the document version and stamps the update time.
func Bump(t *TCC) {
	t.TCCVersion++
	t.UpdatedAt = time.Now().UTC()
}

// Step returns the state of step s, creating it if needed.
func (t *TCC) Step(s OrchestrationStep) *StepState {
	if t.Steps == nil {
		t.Steps = make(map[OrchestrationStep]*StepState)
	}
	st, ok := t.Steps[s]
	if !ok {
		st = &StepState{Status: StatusPending}
		t.Steps[s] = st
	}
	return st
}

// MarkStepStarted records the start of a step attempt.
func (t *TCC) MarkStepStarted(s OrchestrationStep) {
	now := time.Now().UTC()
	st := t.Step(s)
	st.Status = StatusInProgress
	if st.StartedAt == nil {
		st.StartedAt = &now
	}
	st.Attempts++
	st.Error = ""
}

// MarkStepCompleted records successful completion of a step.
func (t *TCC) MarkStepCompleted(s OrchestrationStep) {
	now := time.Now().UTC()
	st := t.Step(s)
	st.Status = StatusCompleted
	st.CompletedAt = &now
	st.Error = ""
}

// MarkStepFailed records a terminal step failure and fails the job.
func (t *TCC) MarkStepFailed(s OrchestrationStep, err error) {
	st := t.Step(s)
	st.Status = StatusError
	if err != nil {
		st.Error = err.Error()
		t.ErrorMessage = err.Error()
	}
	t.Status = StatusError
}

// ModelFor returns the model configured for an agent, or "" when the agent
// should use the registry default.
func (t *TCC) ModelFor(agent AgentID) string {
	if m := t.AgentModelMapping[agent]; m != "" {
		return m
	}
	return t.SelectedModel
}
