// Package agents implements the pipeline agents that build a tool component
// step by step, plus the model interaction, response parsing and retry
// machinery they share.
package agents

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lmnhd/keyvex-sub008/internal/tcc"
)

var (
	// ErrMissingInput is returned when the context lacks an agent's prerequisites.
	ErrMissingInput = errors.New("missing agent input")
	// ErrUnknownAgent is returned for ids outside the registry.
	ErrUnknownAgent = errors.New("unknown agent")
	// ErrValidationFailed is returned by the finalizer for invalid code.
	ErrValidationFailed = errors.New("component failed validation")
)

func missing(agent tcc.AgentID, fields ...string) error {
	return fmt.Errorf("%w: %s needs %s", ErrMissingInput, agent, strings.Join(fields, ", "))
}

// Agent produces one fragment of the tool construction context.
type Agent interface {
	ID() tcc.AgentID
	// Run reads t and returns the agent's fragment. It does not modify t.
	Run(ctx context.Context, t *tcc.TCC, opts RunOptions) (*Result, error)
}

// RunOptions adjust a single agent run.
type RunOptions struct {
	// Model overrides the job's model mapping for this run.
	Model string
	// OnAttempt is called before every model attempt.
	OnAttempt func(ctx context.Context, attempt Attempt)
}

// Fragment is the part of the context an agent writes.
type Fragment struct {
	DefinedFunctionSignatures []tcc.FunctionSignature    `json:"definedFunctionSignatures,omitempty"`
	StateLogic                *tcc.StateLogic            `json:"stateLogic,omitempty"`
	JSXLayout                 *tcc.JSXLayout             `json:"jsxLayout,omitempty"`
	Styling                   *tcc.Styling               `json:"styling,omitempty"`
	AssembledComponentCode    string                     `json:"assembledComponentCode,omitempty"`
	AssemblyMetadata          *tcc.AssemblyMetadata      `json:"assemblyMetadata,omitempty"`
	ValidationResult          *tcc.ValidationResult      `json:"validationResult,omitempty"`
	FinalProduct              *tcc.ProductToolDefinition `json:"finalProduct,omitempty"`
}

// Apply writes the fragment's set fields into t.
func (f *Fragment) Apply(t *tcc.TCC) {
	if f == nil {
		return
	}
	if f.DefinedFunctionSignatures != nil {
		t.DefinedFunctionSignatures = f.DefinedFunctionSignatures
	}
	if f.StateLogic != nil {
		t.StateLogic = f.StateLogic
	}
	if f.JSXLayout != nil {
		t.JSXLayout = f.JSXLayout
	}
	if f.Styling != nil {
		t.Styling = f.Styling
	}
	if f.AssembledComponentCode != "" {
		t.AssembledComponentCode = f.AssembledComponentCode
	}
	if f.AssemblyMetadata != nil {
		t.AssemblyMetadata = f.AssemblyMetadata
	}
	if f.ValidationResult != nil {
		t.ValidationResult = f.ValidationResult
	}
	if f.FinalProduct != nil {
		t.FinalProduct = f.FinalProduct
	}
}

// Result is the outcome of one agent run.
type Result struct {
	AgentID  tcc.AgentID   `json:"agentId"`
	Fragment *Fragment     `json:"fragment"`
	Model    string        `json:"model,omitempty"`
	Provider string        `json:"provider,omitempty"`
	Attempts int           `json:"attempts"`
	Score    float64       `json:"score,omitempty"`
	Warnings []string      `json:"warnings,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Registry maps agent ids to implementations.
type Registry struct {
	agents map[tcc.AgentID]Agent
}

// NewRegistry wires the seven pipeline agents.
func NewRegistry(interaction *InteractionManager, retry *RetryManager) *Registry {
	r := &Registry{agents: make(map[tcc.AgentID]Agent)}
	base := llmAgent{interaction: interaction, retry: retry}
	r.Register(&FunctionPlanner{llmAgent: base})
	r.Register(&StateDesigner{llmAgent: base})
	r.Register(&JSXLayoutDesigner{llmAgent: base})
	r.Register(&TailwindStylist{llmAgent: base})
	r.Register(&ComponentAssembler{})
	r.Register(&CodeValidator{llmAgent: base})
	r.Register(&ToolFinalizer{})
	return r
}

// Register adds or replaces an agent.
func (r *Registry) Register(a Agent) {
	r.agents[a.ID()] = a
}

// Get returns the agent for id.
func (r *Registry) Get(id tcc.AgentID) (Agent, error) {
	a, ok := r.agents[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAgent, id)
	}
	return a, nil
}
