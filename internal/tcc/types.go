// Package tcc defines the Tool Construction Context, the shared document
// every pipeline agent reads from and writes into, and the stores that
// persist it between orchestration calls.
package tcc

import (
	"time"
)

// OrchestrationStep names a phase of the tool-creation pipeline.
type OrchestrationStep string

const (
	StepInitialization      OrchestrationStep = "initialization"
	StepPlanningFunctions   OrchestrationStep = "planning_function_signatures"
	StepDesigningStateLogic OrchestrationStep = "designing_state_logic"
	StepDesigningJSXLayout  OrchestrationStep = "designing_jsx_layout"
	StepApplyingTailwind    OrchestrationStep = "applying_tailwind_styling"
	StepAssemblingComponent OrchestrationStep = "assembling_component"
	StepValidatingCode      OrchestrationStep = "validating_code"
	StepFinalizingTool      OrchestrationStep = "finalizing_tool"
	StepCompleted           OrchestrationStep = "completed"
)

// Status is the overall job status.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// AgentID identifies a pipeline agent.
type AgentID string

const (
	AgentFunctionPlanner    AgentID = "function-planner"
	AgentStateDesign        AgentID = "state-design"
	AgentJSXLayout          AgentID = "jsx-layout"
	AgentTailwindStyling    AgentID = "tailwind-styling"
	AgentComponentAssembler AgentID = "component-assembler"
	AgentCodeValidator      AgentID = "code-validator"
	AgentToolFinalizer      AgentID = "tool-finalizer"
)

// AllAgents lists agents in pipeline order.
var AllAgents = []AgentID{
	AgentFunctionPlanner,
	AgentStateDesign,
	AgentJSXLayout,
	AgentTailwindStyling,
	AgentComponentAssembler,
	AgentCodeValidator,
	AgentToolFinalizer,
}

// Valid reports whether id names a known agent.
func (id AgentID) Valid() bool {
	for _, a := range AllAgents {
		if a == id {
			return true
		}
	}
	return false
}

// TCC is the Tool Construction Context.
type TCC struct {
	JobID                    string                           `json:"jobId"`
	UserID                   string                           `json:"userId,omitempty"`
	Status                   Status                           `json:"status"`
	CurrentOrchestrationStep OrchestrationStep                `json:"currentOrchestrationStep"`
	TCCVersion               int                              `json:"tccVersion"`
	SelectedModel            string                           `json:"selectedModel,omitempty"`
	AgentModelMapping        map[AgentID]string               `json:"agentModelMapping,omitempty"`
	UserInput                UserInput                        `json:"userInput"`
	BrainstormData           map[string]any                   `json:"brainstormData,omitempty"`
	Steps                    map[OrchestrationStep]*StepState `json:"steps"`

	DefinedFunctionSignatures []FunctionSignature    `json:"definedFunctionSignatures,omitempty"`
	StateLogic                *StateLogic            `json:"stateLogic,omitempty"`
	JSXLayout                 *JSXLayout             `json:"jsxLayout,omitempty"`
	Styling                   *Styling               `json:"styling,omitempty"`
	AssembledComponentCode    string                 `json:"assembledComponentCode,omitempty"`
	AssemblyMetadata          *AssemblyMetadata      `json:"assemblyMetadata,omitempty"`
	ValidationResult          *ValidationResult      `json:"validationResult,omitempty"`
	FinalProduct              *ProductToolDefinition `json:"finalProduct,omitempty"`

	EditModeContext *EditModeContext `json:"editModeContext,omitempty"`
	ErrorMessage    string           `json:"errorMessage,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// UserInput is what the user asked for.
type UserInput struct {
	Description       string   `json:"description"`
	ToolType          string   `json:"toolType,omitempty"`
	TargetAudience    string   `json:"targetAudience,omitempty"`
	Industry          string   `json:"industry,omitempty"`
	Features          []string `json:"features,omitempty"`
	AdditionalContext string   `json:"additionalContext,omitempty"`
}

// StepState tracks one orchestration step.
type StepState struct {
	Status      Status     `json:"status"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	Attempts    int        `json:"attempts,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// FunctionSignature is one planned interaction handler of the tool.
type FunctionSignature struct {
	Name        string `json:"name" validate:"required"`
	Description string `json:"description,omitempty"`
}

// StateVariable is a React state declaration.
type StateVariable struct {
	Name         string `json:"name" validate:"required"`
	Type         string `json:"type,omitempty"`
	InitialValue any    `json:"initialValue"`
	Description  string `json:"description,omitempty"`
}

// StateFunction is a handler or derived computation inside the component.
type StateFunction struct {
	Name         string   `json:"name" validate:"required"`
	Body         string   `json:"body" validate:"required"`
	Dependencies []string `json:"dependencies,omitempty"`
	Description  string   `json:"description,omitempty"`
}

// StateLogic is the state-design agent's output.
type StateLogic struct {
	StateVariables []StateVariable `json:"stateVariables" validate:"required,min=1,dive"`
	Functions      []StateFunction `json:"functions" validate:"dive"`
	Imports        []string        `json:"imports,omitempty"`
}

// ElementMapEntry describes one element of the layout.
type ElementMapEntry struct {
	ElementID   string `json:"elementId" validate:"required"`
	Type        string `json:"type" validate:"required"`
	Purpose     string `json:"purpose,omitempty"`
	Placeholder string `json:"placeholder,omitempty"`
}

// JSXLayout is the jsx-layout agent's output.
type JSXLayout struct {
	ComponentStructure    string            `json:"componentStructure" validate:"required"`
	ElementMap            []ElementMapEntry `json:"elementMap" validate:"dive"`
	AccessibilityFeatures []string          `json:"accessibilityFeatures,omitempty"`
	ResponsiveBreakpoints []string          `json:"responsiveBreakpoints,omitempty"`
}

// TextColors groups text colors of a scheme.
type TextColors struct {
	Primary   string `json:"primary"`
	Secondary string `json:"secondary"`
	Muted     string `json:"muted"`
}

// ColorScheme is the palette applied to a tool.
type ColorScheme struct {
	Primary    string     `json:"primary"`
	Secondary  string     `json:"secondary"`
	Accent     string     `json:"accent,omitempty"`
	Background string     `json:"background"`
	Surface    string     `json:"surface,omitempty"`
	Text       TextColors `json:"text"`
	Border     string     `json:"border,omitempty"`
	Success    string     `json:"success,omitempty"`
	Warning    string     `json:"warning,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// Styling is the tailwind-styling agent's output.
type Styling struct {
	StyledComponentCode string            `json:"styledComponentCode" validate:"required"`
	StyleMap            map[string]string `json:"styleMap"`
	ColorScheme         ColorScheme       `json:"colorScheme"`
	DesignTokens        map[string]any    `json:"designTokens,omitempty"`
}

// AssemblyMetadata describes the assembled component.
type AssemblyMetadata struct {
	ComponentName string   `json:"componentName"`
	Hooks         []string `json:"hooks"`
	Dependencies  []string `json:"dependencies"`
	LineCount     int      `json:"lineCount"`
}

// Severity of a validation issue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// ValidationIssue is one finding of the code validator.
type ValidationIssue struct {
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	Rule     string   `json:"rule,omitempty"`
	Line     int      `json:"line,omitempty"`
	Source   string   `json:"source,omitempty"` // static | ai
}

// ValidationResult is the code-validator agent's output.
type ValidationResult struct {
	IsValid     bool              `json:"isValid"`
	Errors      []ValidationIssue `json:"errors"`
	Warnings    []ValidationIssue `json:"warnings"`
	Suggestions []string          `json:"suggestions,omitempty"`
	AIReview    string            `json:"aiReview,omitempty"`
	CheckedAt   time.Time         `json:"checkedAt"`
}

// EditType is how an edit instruction changes an agent's previous output.
type EditType string

const (
	EditRefine  EditType = "refine"
	EditReplace EditType = "replace"
	EditEnhance EditType = "enhance"
)

// Priority orders edit instructions.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Rank returns a sortable weight, higher first.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	default:
		return 0
	}
}

// EditInstruction is a natural-language revision aimed at one agent.
type EditInstruction struct {
	TargetAgent  AgentID   `json:"targetAgent" binding:"required"`
	EditType     EditType  `json:"editType"`
	Instructions string    `json:"instructions" binding:"required"`
	Priority     Priority  `json:"priority"`
	CreatedAt    time.Time `json:"createdAt"`
}

// EditModeContext switches agents from generating to revising.
type EditModeContext struct {
	IsEditMode   bool              `json:"isEditMode"`
	Instructions []EditInstruction `json:"instructions"`
	Context      string            `json:"context,omitempty"`
	BaseJobID    string            `json:"baseJobId,omitempty"`
	Baseline     *Baseline         `json:"baseline,omitempty"`
}

// Baseline holds the agent outputs an edit run revises.
type Baseline struct {
	DefinedFunctionSignatures []FunctionSignature    `json:"definedFunctionSignatures,omitempty"`
	StateLogic                *StateLogic            `json:"stateLogic,omitempty"`
	JSXLayout                 *JSXLayout             `json:"jsxLayout,omitempty"`
	Styling                   *Styling               `json:"styling,omitempty"`
	AssembledComponentCode    string                 `json:"assembledComponentCode,omitempty"`
	FinalProduct              *ProductToolDefinition `json:"finalProduct,omitempty"`
}

// InstructionsFor returns the instructions aimed at agent, highest priority
// first, oldest first within a priority.
func (e *EditModeContext) InstructionsFor(agent AgentID) []EditInstruction {
	if e == nil || !e.IsEditMode {
		return nil
	}
	var out []EditInstruction
	for _, inst := range e.Instructions {
		if inst.TargetAgent == agent {
			out = append(out, inst)
		}
	}
	// insertion sort keeps it stable
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Priority.Rank() > out[j-1].Priority.Rank(); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// ToolIcon is the icon shown on a tool card.
type ToolIcon struct {
	Type  string `json:"type"` // lucide | emoji
	Value string `json:"value"`
}

// ToolMetadata is the descriptive part of a product tool.
type ToolMetadata struct {
	ID                      string   `json:"id"`
	Slug                    string   `json:"slug"`
	Title                   string   `json:"title"`
	Description             string   `json:"description"`
	ShortDescription        string   `json:"shortDescription,omitempty"`
	Type                    string   `json:"type"`
	Category                string   `json:"category,omitempty"`
	TargetAudience          string   `json:"targetAudience,omitempty"`
	Industry                string   `json:"industry,omitempty"`
	Tags                    []string `json:"tags"`
	Features                []string `json:"features"`
	EstimatedCompletionTime int      `json:"estimatedCompletionTime"`
	DifficultyLevel         string   `json:"difficultyLevel"`
	Icon                    ToolIcon `json:"icon"`
}

// ToolAnalytics tracks usage of a published tool.
type ToolAnalytics struct {
	Enabled     bool    `json:"enabled"`
	Completions int     `json:"completions"`
	AverageTime float64 `json:"averageTime"`
}

// ProductToolDefinition is the finalized, storable tool.
type ProductToolDefinition struct {
	ID              string            `json:"id"`
	Slug            string            `json:"slug"`
	Version         string            `json:"version"`
	Status          string            `json:"status"`
	Metadata        ToolMetadata      `json:"metadata"`
	ComponentCode   string            `json:"componentCode"`
	ColorScheme     ColorScheme       `json:"colorScheme"`
	InitialStyleMap map[string]string `json:"initialStyleMap"`
	CurrentStyleMap map[string]string `json:"currentStyleMap"`
	Analytics       ToolAnalytics     `json:"analytics"`
	CreatedAt       time.Time         `json:"createdAt"`
	UpdatedAt       time.Time         `json:"updatedAt"`
	CreatedBy       string            `json:"createdBy,omitempty"`
}
