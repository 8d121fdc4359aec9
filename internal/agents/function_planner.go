package agents

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/lmnhd/keyvex-sub008/internal/tcc"
)

var identifierRe = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*$`)

// FunctionPlanner lists the interaction handlers the tool needs.
type FunctionPlanner struct {
	llmAgent
}

type functionPlan struct {
	Signatures []tcc.FunctionSignature `json:"signatures" validate:"required,min=1,dive"`
}

func (a *FunctionPlanner) ID() tcc.AgentID { return tcc.AgentFunctionPlanner }

func (a *FunctionPlanner) Run(ctx context.Context, t *tcc.TCC, opts RunOptions) (*Result, error) {
	if strings.TrimSpace(t.UserInput.Description) == "" {
		return nil, missing(a.ID(), "userInput.description")
	}
	start := time.Now()

	g, err := generate(ctx, a.llmAgent, t, a.ID(), opts, checkSignatures)
	if err != nil {
		return nil, err
	}

	res := resultFrom(a.ID(), g, &Fragment{DefinedFunctionSignatures: dedupeSignatures(g.value.Signatures)})
	res.Duration = time.Since(start)
	return res, nil
}

func checkSignatures(plan *functionPlan) []string {
	var issues []string
	for _, sig := range plan.Signatures {
		if !identifierRe.MatchString(sig.Name) {
			issues = append(issues, fmt.Sprintf("signature name %q is not a valid identifier", sig.Name))
		}
	}
	return issues
}

func dedupeSignatures(in []tcc.FunctionSignature) []tcc.FunctionSignature {
	seen := make(map[string]bool, len(in))
	out := make([]tcc.FunctionSignature, 0, len(in))
	for _, sig := range in {
		if seen[sig.Name] {
			continue
		}
		seen[sig.Name] = true
		out = append(out, sig)
	}
	return out
}
