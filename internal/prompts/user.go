package prompts

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lmnhd/keyvex-sub008/internal/tcc"
)

// Options adjust a user prompt for a particular attempt.
type Options struct {
	// Attempt is 1-based.
	Attempt int
	// RetryHints are the errors of earlier attempts.
	RetryHints []string
	// Extra is appended verbatim at the end.
	Extra string
}

type section int

const (
	sectionUserInput section = iota
	sectionSignatures
	sectionStateLogic
	sectionLayout
	sectionStyling
	sectionCode
)

// inputs lists, per agent, the context sections it consumes in prompt order.
var inputs = map[tcc.AgentID][]section{
	tcc.AgentFunctionPlanner:    {sectionUserInput},
	tcc.AgentStateDesign:        {sectionUserInput, sectionSignatures},
	tcc.AgentJSXLayout:          {sectionUserInput, sectionSignatures},
	tcc.AgentTailwindStyling:    {sectionUserInput, sectionLayout},
	tcc.AgentComponentAssembler: {sectionUserInput, sectionStateLogic, sectionStyling},
	tcc.AgentCodeValidator:      {sectionStateLogic, sectionStyling, sectionCode},
	tcc.AgentToolFinalizer:      {sectionUserInput, sectionCode},
}

// User builds the user prompt for agentID from the fields of t it consumes.
func (m *Manager) User(agentID tcc.AgentID, t *tcc.TCC, opts Options) string {
	var b strings.Builder

	sections, ok := inputs[agentID]
	if !ok {
		sections = []section{sectionUserInput}
	}
	for _, s := range sections {
		writeSection(&b, s, t)
	}

	if t.EditModeContext != nil && t.EditModeContext.IsEditMode {
		writeEditMode(&b, agentID, t.EditModeContext)
	}

	if len(opts.RetryHints) > 0 {
		fmt.Fprintf(&b, "## Previous attempt failed\n")
		if opts.Attempt > 1 {
			fmt.Fprintf(&b, "This is attempt %d. ", opts.Attempt)
		}
		b.WriteString("Fix these problems from the previous attempt:\n")
		for _, h := range opts.RetryHints {
			fmt.Fprintf(&b, "- %s\n", h)
		}
		b.WriteString("\n")
	}

	if opts.Extra != "" {
		b.WriteString(opts.Extra)
		b.WriteString("\n")
	}

	return strings.TrimSpace(b.String())
}

func writeSection(b *strings.Builder, s section, t *tcc.TCC) {
	switch s {
	case sectionUserInput:
		in := t.UserInput
		b.WriteString("## Tool request\n")
		fmt.Fprintf(b, "Description: %s\n", in.Description)
		writeField(b, "Tool type", in.ToolType)
		writeField(b, "Target audience", in.TargetAudience)
		writeField(b, "Industry", in.Industry)
		if len(in.Features) > 0 {
			fmt.Fprintf(b, "Features: %s\n", strings.Join(in.Features, ", "))
		}
		writeField(b, "Additional context", in.AdditionalContext)
		if len(t.BrainstormData) > 0 {
			writeJSON(b, "Brainstorm", t.BrainstormData)
		}
		b.WriteString("\n")
	case sectionSignatures:
		if len(t.DefinedFunctionSignatures) == 0 {
			return
		}
		b.WriteString("## Planned functions\n")
		for _, sig := range t.DefinedFunctionSignatures {
			if sig.Description != "" {
				fmt.Fprintf(b, "- %s: %s\n", sig.Name, sig.Description)
			} else {
				fmt.Fprintf(b, "- %s\n", sig.Name)
			}
		}
		b.WriteString("\n")
	case sectionStateLogic:
		if t.StateLogic != nil {
			writeJSON(b, "## State logic", t.StateLogic)
			b.WriteString("\n")
		}
	case sectionLayout:
		if t.JSXLayout != nil {
			b.WriteString("## JSX layout\n")
			b.WriteString(t.JSXLayout.ComponentStructure)
			b.WriteString("\n\n")
			if len(t.JSXLayout.ElementMap) > 0 {
				writeJSON(b, "Element map", t.JSXLayout.ElementMap)
				b.WriteString("\n")
			}
		}
	case sectionStyling:
		if t.Styling != nil {
			b.WriteString("## Styled JSX\n")
			b.WriteString(t.Styling.StyledComponentCode)
			b.WriteString("\n\n")
		}
	case sectionCode:
		if t.AssembledComponentCode != "" {
			b.WriteString("## Component code\n")
			b.WriteString(numberLines(t.AssembledComponentCode))
			b.WriteString("\n")
		}
	}
}

func writeEditMode(b *strings.Builder, agentID tcc.AgentID, edit *tcc.EditModeContext) {
	instructions := edit.InstructionsFor(agentID)
	if len(instructions) == 0 {
		return
	}

	if current := currentOutput(agentID, edit.Baseline); current != nil {
		writeJSON(b, "## Current result to revise", current)
		b.WriteString("\n")
	}

	b.WriteString("## Edit instructions\n")
	for i, inst := range instructions {
		editType := inst.EditType
		if editType == "" {
			editType = tcc.EditRefine
		}
		priority := inst.Priority
		if priority == "" {
			priority = tcc.PriorityMedium
		}
		fmt.Fprintf(b, "%d. [%s, %s priority] %s\n", i+1, editType, priority, inst.Instructions)
	}
	if edit.Context != "" {
		fmt.Fprintf(b, "Context: %s\n", edit.Context)
	}
	b.WriteString("\n")
}

// currentOutput is the baseline fragment owned by agentID.
func currentOutput(agentID tcc.AgentID, base *tcc.Baseline) any {
	if base == nil {
		return nil
	}
	switch agentID {
	case tcc.AgentFunctionPlanner:
		if len(base.DefinedFunctionSignatures) > 0 {
			return map[string]any{"signatures": base.DefinedFunctionSignatures}
		}
	case tcc.AgentStateDesign:
		if base.StateLogic != nil {
			return base.StateLogic
		}
	case tcc.AgentJSXLayout:
		if base.JSXLayout != nil {
			return base.JSXLayout
		}
	case tcc.AgentTailwindStyling:
		if base.Styling != nil {
			return base.Styling
		}
	case tcc.AgentComponentAssembler:
		if base.AssembledComponentCode != "" {
			return map[string]any{"code": base.AssembledComponentCode}
		}
	}
	return nil
}

func writeField(b *strings.Builder, label, value string) {
	if value != "" {
		fmt.Fprintf(b, "%s: %s\n", label, value)
	}
}

func writeJSON(b *strings.Builder, label string, v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return
	}
	fmt.Fprintf(b, "%s:\n%s\n", label, data)
}

func numberLines(code string) string {
	lines := strings.Split(code, "\n")
	var b strings.Builder
	for i, l := range lines {
		fmt.Fprintf(&b, "%4d | %s\n", i+1, l)
	}
	return b.String()
}
