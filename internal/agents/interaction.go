package agents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/lmnhd/keyvex-sub008/internal/ai"
	"github.com/lmnhd/keyvex-sub008/internal/logging"
	"github.com/lmnhd/keyvex-sub008/internal/metrics"
	"github.com/lmnhd/keyvex-sub008/internal/prompts"
	"github.com/lmnhd/keyvex-sub008/internal/tcc"
)

// Generator is the model call behind the interaction manager. *ai.AIRouter
// implements it.
type Generator interface {
	Generate(ctx context.Context, req *ai.AIRequest) (*ai.AIResponse, error)
}

// ValidationError reports a response that parsed but did not meet the
// agent's schema.
type ValidationError struct {
	AgentID tcc.AgentID
	Issues  []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: invalid response: %s", e.AgentID, strings.Join(e.Issues, "; "))
}

// ObjectRequest is one structured generation call.
type ObjectRequest struct {
	AgentID tcc.AgentID
	TCC     *tcc.TCC
	// Model is used as is when set.
	Model  string
	Prompt prompts.Options
	// Check runs after schema validation and returns semantic issues.
	Check func(out any) []string
}

// ObjectResult describes a successful structured generation.
type ObjectResult struct {
	Model    string    `json:"model"`
	Provider string    `json:"provider"`
	Raw      string    `json:"raw"`
	Score    float64   `json:"score"`
	Issues   []string  `json:"issues,omitempty"`
	Usage    *ai.Usage `json:"usage,omitempty"`
}

// InteractionManager turns an agent request into a validated result struct.
type InteractionManager struct {
	gen      Generator
	prompts  *prompts.Manager
	registry *ai.ModelRegistry
	validate *validator.Validate
}

// NewInteractionManager creates an interaction manager.
func NewInteractionManager(gen Generator, pm *prompts.Manager, registry *ai.ModelRegistry) *InteractionManager {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(jsonFieldName)
	return &InteractionManager{gen: gen, prompts: pm, registry: registry, validate: v}
}

// Registry exposes the model registry for fallback selection.
func (m *InteractionManager) Registry() *ai.ModelRegistry { return m.registry }

// ResolveModel picks the model for an agent: explicit, then the job's
// mapping or selected model, then the registry default.
func (m *InteractionManager) ResolveModel(agent tcc.AgentID, t *tcc.TCC, explicit string) string {
	if explicit != "" {
		return explicit
	}
	if t != nil {
		if model := t.ModelFor(agent); model != "" {
			return model
		}
	}
	return m.registry.PrimaryFor(string(agent))
}

// GenerateObject calls the model in JSON mode and decodes the normalized
// response into out, which must be a pointer to a struct.
func (m *InteractionManager) GenerateObject(ctx context.Context, req ObjectRequest, out any) (*ObjectResult, error) {
	model := m.ResolveModel(req.AgentID, req.TCC, req.Model)
	editMode := req.TCC != nil && req.TCC.EditModeContext != nil && req.TCC.EditModeContext.IsEditMode
	tpl := m.prompts.Template(req.AgentID)

	resp, err := m.gen.Generate(ctx, &ai.AIRequest{
		Model:       model,
		System:      m.prompts.System(req.AgentID, editMode),
		Prompt:      m.prompts.User(req.AgentID, req.TCC, req.Prompt),
		MaxTokens:   tpl.MaxTokens,
		Temperature: tpl.Temperature,
		JSONMode:    true,
	})
	if err != nil {
		return nil, err
	}

	raw, err := ai.ExtractJSON(resp.Content)
	if err != nil {
		return nil, &ValidationError{AgentID: req.AgentID, Issues: []string{err.Error()}}
	}

	parsed, err := ParseResponse(req.AgentID, raw)
	if err != nil {
		return nil, &ValidationError{AgentID: req.AgentID, Issues: []string{err.Error()}}
	}
	metrics.Get().RecordAgentScore(string(req.AgentID), parsed.Score)

	result := &ObjectResult{
		Model:    resp.Model,
		Provider: string(resp.Provider),
		Raw:      parsed.JSON,
		Score:    parsed.Score,
		Issues:   parsed.Issues,
		Usage:    resp.Usage,
	}

	if parsed.Score < MinScore {
		issues := append([]string{fmt.Sprintf("response score %.2f below %.2f", parsed.Score, MinScore)}, parsed.Issues...)
		return result, &ValidationError{AgentID: req.AgentID, Issues: issues}
	}

	if err := json.Unmarshal([]byte(parsed.JSON), out); err != nil {
		return result, &ValidationError{AgentID: req.AgentID, Issues: []string{"decode: " + err.Error()}}
	}

	if err := m.validate.Struct(out); err != nil {
		return result, &ValidationError{AgentID: req.AgentID, Issues: describeValidation(err)}
	}

	if req.Check != nil {
		if issues := req.Check(out); len(issues) > 0 {
			return result, &ValidationError{AgentID: req.AgentID, Issues: issues}
		}
	}

	logging.L().Debug("structured response accepted",
		zap.String("agent", string(req.AgentID)),
		zap.String("model", resp.Model),
		zap.Float64("score", parsed.Score),
	)
	return result, nil
}

func jsonFieldName(fld reflect.StructField) string {
	name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
	if name == "-" {
		return ""
	}
	if name == "" {
		return fld.Name
	}
	return name
}

func describeValidation(err error) []string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []string{err.Error()}
	}
	out := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		path := fe.Namespace()
		if i := strings.IndexByte(path, '.'); i != -1 {
			path = path[i+1:]
		}
		switch fe.Tag() {
		case "required":
			out = append(out, fmt.Sprintf("%s is required", path))
		case "min":
			out = append(out, fmt.Sprintf("%s needs at least %s item(s)", path, fe.Param()))
		default:
			out = append(out, fmt.Sprintf("%s failed %s", path, fe.Tag()))
		}
	}
	return out
}
