package agents

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lmnhd/keyvex-sub008/internal/ai"
	"github.com/lmnhd/keyvex-sub008/internal/tcc"
)

func mustStateLogic(t *testing.T) *tcc.StateLogic {
	t.Helper()
	var sl tcc.StateLogic
	require.NoError(t, json.Unmarshal([]byte(validStateLogic), &sl))
	return &sl
}

// readyForAssembly returns a job that has passed the styling step.
func readyForAssembly(t *testing.T) *tcc.TCC {
	job := newJob()
	job.DefinedFunctionSignatures = []tcc.FunctionSignature{{Name: "handleCalculate"}}
	job.StateLogic = mustStateLogic(t)
	job.JSXLayout = &tcc.JSXLayout{
		ComponentStructure: `<div data-style-id="root"><input data-style-id="amount" /><p data-style-id="result">{payment}</p></div>`,
		ElementMap: []tcc.ElementMapEntry{
			{ElementID: "root", Type: "div"},
			{ElementID: "amount", Type: "input"},
			{ElementID: "result", Type: "p"},
		},
	}
	job.Styling = &tcc.Styling{
		StyledComponentCode: styledMarkup,
		StyleMap:            map[string]string{"root": "p-6", "amount": "border", "result": "text-lg"},
		ColorScheme:         tcc.ColorScheme{Primary: "#2563eb", Background: "#ffffff"},
	}
	return job
}

func TestRegistry(t *testing.T) {
	d := newTestDeps()
	for _, id := range tcc.AllAgents {
		a, err := d.registry.Get(id)
		require.NoError(t, err, id)
		assert.Equal(t, id, a.ID())
	}
	_, err := d.registry.Get("poet")
	assert.ErrorIs(t, err, ErrUnknownAgent)
}

func TestFunctionPlanner(t *testing.T) {
	d := newTestDeps(ok("```json\n" + `{"signatures":[
		{"name":"handleCalculate","description":"Compute the payment"},
		{"name":"handleCalculate"},
		{"name":"handleReset","description":"Clear inputs"}]}` + "\n```"))
	a, err := d.registry.Get(tcc.AgentFunctionPlanner)
	require.NoError(t, err)

	res, err := a.Run(context.Background(), newJob(), RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, ai.ModelClaudeSonnet, res.Model)
	assert.Equal(t, string(ai.ProviderAnthropic), res.Provider)
	assert.Equal(t, 1.0, res.Score)

	sigs := res.Fragment.DefinedFunctionSignatures
	require.Len(t, sigs, 2)
	assert.Equal(t, "handleCalculate", sigs[0].Name)
	assert.Equal(t, "handleReset", sigs[1].Name)

	require.Len(t, d.gen.calls, 1)
	req := d.gen.calls[0]
	assert.True(t, req.JSONMode)
	assert.Contains(t, req.System, "You plan the interactive behaviour")
	assert.Contains(t, req.Prompt, "## Tool request")
	assert.Contains(t, req.Prompt, "Mortgage payment calculator")
	assert.InDelta(t, 0.2, req.Temperature, 0.001)
}

func TestFunctionPlannerRetriesInvalidIdentifiers(t *testing.T) {
	d := newTestDeps(
		ok(`{"signatures":[{"name":"handle calculate"}]}`),
		ok(`{"signatures":[{"name":"handleCalculate"}]}`),
	)
	a, _ := d.registry.Get(tcc.AgentFunctionPlanner)

	var attempts []Attempt
	res, err := a.Run(context.Background(), newJob(), RunOptions{
		OnAttempt: func(_ context.Context, at Attempt) { attempts = append(attempts, at) },
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, ai.ModelGPT4o, res.Model)
	assert.Equal(t, []string{ai.ModelClaudeSonnet, ai.ModelGPT4o}, d.gen.models())
	require.Len(t, attempts, 2)

	second := d.gen.calls[1].Prompt
	assert.Contains(t, second, "## Previous attempt failed")
	assert.Contains(t, second, "This is attempt 2.")
	assert.Contains(t, second, `"handle calculate" is not a valid identifier`)
}

func TestFunctionPlannerRequiresDescription(t *testing.T) {
	d := newTestDeps()
	a, _ := d.registry.Get(tcc.AgentFunctionPlanner)
	job := tcc.New("u", tcc.UserInput{Description: "  "}, tcc.Options{})

	_, err := a.Run(context.Background(), job, RunOptions{})
	assert.ErrorIs(t, err, ErrMissingInput)
	assert.Empty(t, d.gen.calls)
}

func TestFunctionPlannerUsesJobModel(t *testing.T) {
	d := newTestDeps(ok(`{"signatures":[{"name":"handleCalculate"}]}`))
	a, _ := d.registry.Get(tcc.AgentFunctionPlanner)
	job := tcc.New("u", tcc.UserInput{Description: "BMI calculator"}, tcc.Options{
		AgentModelMapping: map[tcc.AgentID]string{tcc.AgentFunctionPlanner: ai.ModelGeminiPro},
	})

	res, err := a.Run(context.Background(), job, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, ai.ModelGeminiPro, res.Model)
	assert.Equal(t, string(ai.ProviderGemini), res.Provider)
}

func TestStateDesignerRequiresEveryPlannedFunction(t *testing.T) {
	complete := strings.Replace(validStateLogic, `"functions": [`,
		`"functions": [{"name": "handleReset", "body": "setPayment(0);"},`, 1)
	d := newTestDeps(ok(validStateLogic), ok(complete))
	a, _ := d.registry.Get(tcc.AgentStateDesign)

	job := newJob()
	job.DefinedFunctionSignatures = []tcc.FunctionSignature{{Name: "handleCalculate"}, {Name: "handleReset"}}

	res, err := a.Run(context.Background(), job, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Attempts)
	require.NotNil(t, res.Fragment.StateLogic)
	assert.Len(t, res.Fragment.StateLogic.Functions, 2)
	assert.Contains(t, d.gen.calls[0].Prompt, "## Planned functions")
	assert.Contains(t, d.gen.calls[1].Prompt, `planned function "handleReset" is not implemented`)
}

func TestStateDesignerNeedsSignatures(t *testing.T) {
	d := newTestDeps()
	a, _ := d.registry.Get(tcc.AgentStateDesign)
	_, err := a.Run(context.Background(), newJob(), RunOptions{})
	assert.ErrorIs(t, err, ErrMissingInput)
}

func TestCheckStateLogic(t *testing.T) {
	sl := &tcc.StateLogic{
		StateVariables: []tcc.StateVariable{{Name: "total"}, {Name: "total"}, {Name: "2x"}},
		Functions:      []tcc.StateFunction{{Name: "handleAdd", Body: "x"}},
	}
	issues := checkStateLogic(sl, []tcc.FunctionSignature{{Name: "handleAdd"}, {Name: "handleClear"}})
	assert.ElementsMatch(t, []string{
		`state variable "total" is declared twice`,
		`state variable "2x" is not a valid identifier`,
		`planned function "handleClear" is not implemented`,
	}, issues)
}

func TestJSXLayoutDesigner(t *testing.T) {
	partial := `{"componentStructure":"<div data-style-id=\"root\"><button data-style-id=\"go\" onClick={handleCalculate}>Go</button></div>","elementMap":[{"elementId":"root","type":"div"}]}`
	full := `{"componentStructure":"<div data-style-id=\"root\"><button data-style-id=\"go\" onClick={handleCalculate}>Go</button></div>","elementMap":[{"elementId":"root","type":"div"},{"elementId":"go","type":"button"}]}`
	d := newTestDeps(ok(partial), ok(full))
	a, _ := d.registry.Get(tcc.AgentJSXLayout)

	job := newJob()
	job.DefinedFunctionSignatures = []tcc.FunctionSignature{{Name: "handleCalculate"}}

	res, err := a.Run(context.Background(), job, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Attempts)
	assert.Len(t, res.Fragment.JSXLayout.ElementMap, 2)
	assert.Contains(t, d.gen.calls[1].Prompt, `data-style-id "go" missing from elementMap`)
}

func TestCheckLayout(t *testing.T) {
	issues := checkLayout(&tcc.JSXLayout{ComponentStructure: "plain text"})
	assert.Contains(t, issues, "componentStructure must start with a JSX element")
	assert.Contains(t, issues, "componentStructure has no data-style-id attributes")

	assert.Equal(t, []string{"a", "b"}, StyleIDs(`<div data-style-id="a"><p data-style-id='b'/><i data-style-id="a"/></div>`))
}

func TestTailwindStylist(t *testing.T) {
	lost := `{"styledComponentCode":"<div data-style-id=\"root\" className=\"p-6\"></div>","styleMap":{"root":"p-6"},"colorScheme":{"primary":"#2563eb","background":"#fff"}}`
	d := newTestDeps(ok(lost), ok(`{
		"styledComponentCode": `+jsonString(styledMarkup)+`,
		"styleMap": {"root": "p-6", "amount": "border", "result": "text-lg"},
		"colorScheme": {"primary": "#2563eb", "background": "#ffffff", "text": {"primary": "#0f172a"}}
	}`))
	a, _ := d.registry.Get(tcc.AgentTailwindStyling)

	job := readyForAssembly(t)
	job.Styling = nil

	res, err := a.Run(context.Background(), job, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Attempts)
	s := res.Fragment.Styling
	require.NotNil(t, s)
	assert.Equal(t, "text-lg", s.StyleMap["result"])
	assert.Equal(t, "#0f172a", s.ColorScheme.Text.Primary)
	assert.Contains(t, d.gen.calls[1].Prompt, `data-style-id "amount" was removed from the layout`)
}

func TestTailwindStylistNeedsLayout(t *testing.T) {
	d := newTestDeps()
	a, _ := d.registry.Get(tcc.AgentTailwindStyling)
	_, err := a.Run(context.Background(), newJob(), RunOptions{})
	assert.ErrorIs(t, err, ErrMissingInput)
}

func TestComponentAssembler(t *testing.T) {
	job := readyForAssembly(t)
	res, err := (&ComponentAssembler{}).Run(context.Background(), job, RunOptions{})
	require.NoError(t, err)

	code := res.Fragment.AssembledComponentCode
	assert.True(t, strings.HasPrefix(code, "'use client';\n"))
	assert.Contains(t, code, "import React, { useState } from 'react';")
	assert.Contains(t, code, "export default function MortgagePaymentCalculatorForFirstTimeBuyers() {")
	assert.Contains(t, code, "const [loanAmount, setLoanAmount] = useState(250000);")
	assert.Contains(t, code, "const [payment, setPayment] = useState(0);")
	assert.Contains(t, code, "const handleCalculate = (event) => {\n    setPayment(loanAmount / 360);\n  };")
	assert.Contains(t, code, `<p data-style-id="result" className="text-lg">{payment}</p>`)

	meta := res.Fragment.AssemblyMetadata
	require.NotNil(t, meta)
	assert.Equal(t, "MortgagePaymentCalculatorForFirstTimeBuyers", meta.ComponentName)
	assert.Equal(t, []string{"useState"}, meta.Hooks)
	assert.Equal(t, strings.Count(code, "\n")+1, meta.LineCount)

	vr := StaticCheck(code, job.StateLogic, job.Styling.StyleMap)
	assert.True(t, vr.IsValid, "%+v", vr.Errors)
	assert.Empty(t, vr.Warnings)
}

func TestComponentAssemblerFallsBackToLayout(t *testing.T) {
	job := readyForAssembly(t)
	job.Styling = nil
	res, err := (&ComponentAssembler{}).Run(context.Background(), job, RunOptions{})
	require.NoError(t, err)
	assert.Contains(t, res.Fragment.AssembledComponentCode, `<input data-style-id="amount" />`)

	job.JSXLayout = nil
	_, err = (&ComponentAssembler{}).Run(context.Background(), job, RunOptions{})
	assert.ErrorIs(t, err, ErrMissingInput)
}

func TestToolTitleAndComponentName(t *testing.T) {
	job := newJob()
	assert.Equal(t, "Mortgage Payment Calculator For First Time Buyers", ToolTitle(job))

	job.BrainstormData = map[string]any{"toolTitle": "  Home Loan Planner "}
	assert.Equal(t, "Home Loan Planner", ToolTitle(job))

	assert.Equal(t, "HomeLoanPlanner", ComponentName("Home loan planner"))
	assert.Equal(t, "Tool401kEstimator", ComponentName("401k estimator"))
	assert.Equal(t, "GeneratedTool", ComponentName("!!!"))
}

func TestJSLiteral(t *testing.T) {
	assert.Equal(t, "0", jsLiteral(nil, "number"))
	assert.Equal(t, "''", jsLiteral(nil, "string"))
	assert.Equal(t, "[]", jsLiteral(nil, "string[]"))
	assert.Equal(t, "null", jsLiteral(nil, "Date"))
	assert.Equal(t, `"hi"`, jsLiteral("hi", "string"))
	assert.Equal(t, "true", jsLiteral(true, "boolean"))
}

func TestCodeValidatorMergesReview(t *testing.T) {
	d := newTestDeps(ok(`{"issues":[
		{"severity":"error","message":"handleReset is referenced but not defined","line":3},
		{"severity":"warning","message":"payment is never formatted"}],
		"summary":"One broken handler.","suggestions":["Format currency"]}`))
	a, _ := d.registry.Get(tcc.AgentCodeValidator)

	job := readyForAssembly(t)
	asm, err := (&ComponentAssembler{}).Run(context.Background(), job, RunOptions{})
	require.NoError(t, err)
	asm.Fragment.Apply(job)

	res, err := a.Run(context.Background(), job, RunOptions{})
	require.NoError(t, err)
	vr := res.Fragment.ValidationResult
	require.NotNil(t, vr)
	assert.False(t, vr.IsValid)
	require.Len(t, vr.Errors, 1)
	assert.Equal(t, "ai-review", vr.Errors[0].Rule)
	assert.Equal(t, 3, vr.Errors[0].Line)
	assert.Len(t, vr.Warnings, 1)
	assert.Equal(t, "One broken handler.", vr.AIReview)
	assert.Equal(t, []string{"Format currency"}, vr.Suggestions)
	assert.Equal(t, ai.ModelClaudeHaiku, res.Model)
	assert.False(t, vr.CheckedAt.IsZero())
}

func TestCodeValidatorDegradesWithoutReview(t *testing.T) {
	authErr := &ai.ProviderError{Provider: ai.ProviderAnthropic, Kind: ai.ErrKindAuth, Status: 401, Err: errors.New("bad key")}
	d := newTestDeps(reply{err: authErr})
	a, _ := d.registry.Get(tcc.AgentCodeValidator)

	job := readyForAssembly(t)
	asm, _ := (&ComponentAssembler{}).Run(context.Background(), job, RunOptions{})
	asm.Fragment.Apply(job)

	res, err := a.Run(context.Background(), job, RunOptions{})
	require.NoError(t, err)
	vr := res.Fragment.ValidationResult
	assert.True(t, vr.IsValid)
	require.Len(t, vr.Warnings, 1)
	assert.Equal(t, "ai-review", vr.Warnings[0].Rule)
	assert.Contains(t, vr.Warnings[0].Message, "AI review unavailable")
}

func TestCodeValidatorNeedsCode(t *testing.T) {
	_, err := (&CodeValidator{}).Run(context.Background(), newJob(), RunOptions{})
	assert.ErrorIs(t, err, ErrMissingInput)
}

func TestStaticCheck(t *testing.T) {
	const header = "import React, { useState } from 'react';\n\nexport default function Tool() {\n"
	tests := []struct {
		name      string
		code      string
		wantRules []string
		valid     bool
	}{
		{
			name:  "clean",
			code:  header + "  return (<p>Don't panic</p>);\n}\n",
			valid: true,
		},
		{
			name:      "empty",
			code:      "   ",
			wantRules: []string{"non-empty"},
		},
		{
			name:      "eval and cookies",
			code:      header + "  eval('1');\n  const c = document.cookie;\n  return (<p>{c}</p>);\n}\n",
			wantRules: []string{"no-eval", "no-cookie-access"},
		},
		{
			name:      "foreign import",
			code:      "import axios from 'axios';\n" + header + "  return (<p/>);\n}\n",
			wantRules: []string{"allowed-imports"},
		},
		{
			name:      "unbalanced",
			code:      header + "  return (<p>{value</p>);\n}\n",
			wantRules: []string{"balanced-brackets"},
		},
		{
			name:      "no component",
			code:      "const x = 1;\n",
			wantRules: []string{"component-declaration", "component-return"},
		},
		{
			name:      "arrow component",
			code:      "const Tool = () => {\n  return (<div dangerouslySetInnerHTML={{ __html: x }} />);\n};\n",
			wantRules: []string{"no-dangerous-html"},
		},
		{
			name:  "brackets in strings and comments",
			code:  header + "  // closing ) here\n  /* { */\n  const s = \"(\";\n  return (<p>{s}</p>);\n}\n",
			valid: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vr := StaticCheck(tt.code, nil, nil)
			assert.Equal(t, tt.valid, vr.IsValid)
			var rules []string
			for _, e := range vr.Errors {
				rules = append(rules, e.Rule)
			}
			assert.ElementsMatch(t, tt.wantRules, rules)
		})
	}
}

func TestStaticCheckWarnings(t *testing.T) {
	code := "export default function Tool() {\n  const [unused, setUnused] = useState(0);\n  return (<p data-style-id=\"a\">hi</p>);\n}\n"
	sl := &tcc.StateLogic{StateVariables: []tcc.StateVariable{{Name: "unused"}}}
	vr := StaticCheck(code, sl, map[string]string{"a": "p-2", "ghost": "m-1"})
	assert.True(t, vr.IsValid)

	var rules []string
	for _, w := range vr.Warnings {
		rules = append(rules, w.Rule)
	}
	assert.ElementsMatch(t, []string{"unused-state", "style-map"}, rules)
}

func TestToolFinalizer(t *testing.T) {
	job := readyForAssembly(t)
	asm, _ := (&ComponentAssembler{}).Run(context.Background(), job, RunOptions{})
	asm.Fragment.Apply(job)

	fin := &ToolFinalizer{NewID: func() string { return "ABCDEF12-0000-0000-0000-000000000000" }}

	_, err := fin.Run(context.Background(), job, RunOptions{})
	assert.ErrorIs(t, err, ErrMissingInput)

	job.ValidationResult = &tcc.ValidationResult{IsValid: false, Errors: []tcc.ValidationIssue{{Message: "boom"}}}
	_, err = fin.Run(context.Background(), job, RunOptions{})
	assert.ErrorIs(t, err, ErrValidationFailed)
	assert.Contains(t, err.Error(), "boom")

	job.ValidationResult = &tcc.ValidationResult{IsValid: true}
	res, err := fin.Run(context.Background(), job, RunOptions{})
	require.NoError(t, err)

	def := res.Fragment.FinalProduct
	require.NotNil(t, def)
	assert.Equal(t, "mortgage-payment-calculator-for-first-time-buyers-abcdef", def.Slug)
	assert.Equal(t, InitialVersion, def.Version)
	assert.Equal(t, StatusDraft, def.Status)
	assert.Equal(t, "user-1", def.CreatedBy)
	assert.Equal(t, job.AssembledComponentCode, def.ComponentCode)
	assert.Equal(t, "calculator", def.Metadata.Type)
	assert.Equal(t, []string{"calculator", "real estate", "amortization"}, def.Metadata.Tags)
	assert.Equal(t, "Calculator", def.Metadata.Icon.Value)
	assert.Equal(t, "beginner", def.Metadata.DifficultyLevel)
	assert.Equal(t, "Mortgage payment calculator for first-time buyers.", def.Metadata.ShortDescription)
	assert.True(t, def.Analytics.Enabled)

	job.Styling.StyleMap["root"] = "changed"
	assert.Equal(t, "p-6", def.InitialStyleMap["root"])
	def.CurrentStyleMap["amount"] = "edited"
	assert.Equal(t, "border", def.InitialStyleMap["amount"])
}

func TestToolFinalizerRevisesEditedTool(t *testing.T) {
	job := readyForAssembly(t)
	asm, _ := (&ComponentAssembler{}).Run(context.Background(), job, RunOptions{})
	asm.Fragment.Apply(job)
	job.ValidationResult = &tcc.ValidationResult{IsValid: true}

	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	job.EditModeContext = &tcc.EditModeContext{
		IsEditMode: true,
		Baseline: &tcc.Baseline{FinalProduct: &tcc.ProductToolDefinition{
			ID:        "tool-1",
			Slug:      "old-title-abc123",
			Version:   "1.2.0",
			Status:    "published",
			CreatedAt: created,
		}},
	}

	fin := &ToolFinalizer{NewID: func() string { panic("edited tools keep their id") }}
	res, err := fin.Run(context.Background(), job, RunOptions{})
	require.NoError(t, err)

	def := res.Fragment.FinalProduct
	assert.Equal(t, "tool-1", def.ID)
	assert.Equal(t, "tool-1", def.Metadata.ID)
	assert.Equal(t, "old-title-abc123", def.Slug)
	assert.Equal(t, "1.3.0", def.Version)
	assert.Equal(t, "published", def.Status)
	assert.Equal(t, created, def.CreatedAt)
	assert.True(t, def.UpdatedAt.After(created))
}

func TestNextVersion(t *testing.T) {
	assert.Equal(t, "1.1.0", NextVersion("1.0.0"))
	assert.Equal(t, "2.4.0", NextVersion("2.3.7"))
	assert.Equal(t, "1.1.0", NextVersion(""))
	assert.Equal(t, "1.1.0", NextVersion("v1"))
}

func TestSlugify(t *testing.T) {
	assert.Equal(t, "roi-calculator-2025", Slugify("  ROI Calculator (2025)! "))
	assert.Equal(t, "tool", Slugify("???"))
	assert.LessOrEqual(t, len(Slugify(strings.Repeat("word ", 40))), 60)
}

func TestFragmentApply(t *testing.T) {
	job := newJob()
	(&Fragment{AssembledComponentCode: "code"}).Apply(job)
	(&Fragment{}).Apply(job)
	var nilFragment *Fragment
	nilFragment.Apply(job)
	assert.Equal(t, "code", job.AssembledComponentCode)
}

func TestResolveModel(t *testing.T) {
	d := newTestDeps()
	job := tcc.New("u", tcc.UserInput{Description: "x"}, tcc.Options{
		SelectedModel:     ai.ModelGPT4o,
		AgentModelMapping: map[tcc.AgentID]string{tcc.AgentJSXLayout: ai.ModelGeminiFlash},
	})
	assert.Equal(t, ai.ModelClaudeHaiku, d.interaction.ResolveModel(tcc.AgentJSXLayout, job, ai.ModelClaudeHaiku))
	assert.Equal(t, ai.ModelGeminiFlash, d.interaction.ResolveModel(tcc.AgentJSXLayout, job, ""))
	assert.Equal(t, ai.ModelGPT4o, d.interaction.ResolveModel(tcc.AgentStateDesign, job, ""))
	assert.Equal(t, ai.ModelClaudeHaiku, d.interaction.ResolveModel(tcc.AgentCodeValidator, newJob(), ""))
	assert.Equal(t, ai.ModelClaudeSonnet, d.interaction.ResolveModel(tcc.AgentStateDesign, nil, ""))
}

func TestGenerateObjectRejectsProse(t *testing.T) {
	d := newTestDeps(ok("I cannot help with that."))
	var out functionPlan
	_, err := d.interaction.GenerateObject(context.Background(), ObjectRequest{AgentID: tcc.AgentFunctionPlanner, TCC: newJob()}, &out)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, tcc.AgentFunctionPlanner, verr.AgentID)
}

func TestGenerateObjectLowScore(t *testing.T) {
	d := newTestDeps(ok(`{"componentStructure":"","elementMap":[]}`))
	var out tcc.JSXLayout
	res, err := d.interaction.GenerateObject(context.Background(), ObjectRequest{AgentID: tcc.AgentJSXLayout, TCC: newJob()}, &out)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.NotNil(t, res)
	assert.Less(t, res.Score, MinScore)
	assert.Contains(t, verr.Issues[0], "below 0.50")
}

func TestGenerateObjectSchemaErrors(t *testing.T) {
	d := newTestDeps(ok(`{"stateVariables":[{"type":"number"}],"functions":[{"name":"f","body":"x"}]}`))
	var out tcc.StateLogic
	_, err := d.interaction.GenerateObject(context.Background(), ObjectRequest{AgentID: tcc.AgentStateDesign, TCC: newJob()}, &out)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Issues, "stateVariables[0].name is required")
}

func jsonString(s string) string {
	data, _ := json.Marshal(s)
	return string(data)
}
