package agents

import (
	"context"
	"fmt"
	"time"

	"github.com/lmnhd/keyvex-sub008/internal/tcc"
)

// StateDesigner designs the component's React state and handlers.
type StateDesigner struct {
	llmAgent
}

func (a *StateDesigner) ID() tcc.AgentID { return tcc.AgentStateDesign }

func (a *StateDesigner) Run(ctx context.Context, t *tcc.TCC, opts RunOptions) (*Result, error) {
	if len(t.DefinedFunctionSignatures) == 0 {
		return nil, missing(a.ID(), "definedFunctionSignatures")
	}
	start := time.Now()

	check := func(sl *tcc.StateLogic) []string {
		return checkStateLogic(sl, t.DefinedFunctionSignatures)
	}
	g, err := generate(ctx, a.llmAgent, t, a.ID(), opts, check)
	if err != nil {
		return nil, err
	}

	res := resultFrom(a.ID(), g, &Fragment{StateLogic: g.value})
	res.Duration = time.Since(start)
	return res, nil
}

// checkStateLogic requires valid identifiers and an implementation for every
// planned signature.
func checkStateLogic(sl *tcc.StateLogic, planned []tcc.FunctionSignature) []string {
	var issues []string
	declared := make(map[string]bool)
	for _, v := range sl.StateVariables {
		if !identifierRe.MatchString(v.Name) {
			issues = append(issues, fmt.Sprintf("state variable %q is not a valid identifier", v.Name))
		}
		if declared[v.Name] {
			issues = append(issues, fmt.Sprintf("state variable %q is declared twice", v.Name))
		}
		declared[v.Name] = true
	}
	implemented := make(map[string]bool)
	for _, f := range sl.Functions {
		if !identifierRe.MatchString(f.Name) {
			issues = append(issues, fmt.Sprintf("function %q is not a valid identifier", f.Name))
		}
		implemented[f.Name] = true
	}
	for _, sig := range planned {
		if !implemented[sig.Name] {
			issues = append(issues, fmt.Sprintf("planned function %q is not implemented", sig.Name))
		}
	}
	return issues
}
