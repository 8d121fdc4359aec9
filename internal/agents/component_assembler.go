package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/lmnhd/keyvex-sub008/internal/tcc"
)

// reactHooks are the hooks the assembler may import, in import order.
var reactHooks = []string{"useState", "useEffect", "useMemo", "useCallback", "useRef", "useReducer"}

var hookCallRe = func() map[string]*regexp.Regexp {
	out := make(map[string]*regexp.Regexp, len(reactHooks))
	for _, h := range reactHooks {
		out[h] = regexp.MustCompile(`\b` + h + `\s*\(`)
	}
	return out
}()

// ComponentAssembler stitches state logic and styled markup into a single
// React component. It does not call the model.
type ComponentAssembler struct{}

func (a *ComponentAssembler) ID() tcc.AgentID { return tcc.AgentComponentAssembler }

func (a *ComponentAssembler) Run(_ context.Context, t *tcc.TCC, _ RunOptions) (*Result, error) {
	if t.StateLogic == nil {
		return nil, missing(a.ID(), "stateLogic")
	}
	markup := ""
	switch {
	case t.Styling != nil && strings.TrimSpace(t.Styling.StyledComponentCode) != "":
		markup = t.Styling.StyledComponentCode
	case t.JSXLayout != nil && strings.TrimSpace(t.JSXLayout.ComponentStructure) != "":
		markup = t.JSXLayout.ComponentStructure
	default:
		return nil, missing(a.ID(), "styling", "jsxLayout")
	}
	start := time.Now()

	name := ComponentName(ToolTitle(t))
	code, hooks := assemble(name, t.StateLogic, markup)

	return &Result{
		AgentID: a.ID(),
		Fragment: &Fragment{
			AssembledComponentCode: code,
			AssemblyMetadata: &tcc.AssemblyMetadata{
				ComponentName: name,
				Hooks:         hooks,
				Dependencies:  []string{"react"},
				LineCount:     strings.Count(code, "\n") + 1,
			},
		},
		Attempts: 1,
		Duration: time.Since(start),
	}, nil
}

func assemble(name string, sl *tcc.StateLogic, markup string) (string, []string) {
	var body strings.Builder

	for _, v := range sl.StateVariables {
		fmt.Fprintf(&body, "  const [%s, %s] = useState(%s);\n", v.Name, setterName(v.Name), jsLiteral(v.InitialValue, v.Type))
	}
	if len(sl.StateVariables) > 0 && len(sl.Functions) > 0 {
		body.WriteString("\n")
	}
	for i, f := range sl.Functions {
		if i > 0 {
			body.WriteString("\n")
		}
		fmt.Fprintf(&body, "  const %s = (event) => {\n", f.Name)
		for _, line := range strings.Split(strings.TrimSpace(f.Body), "\n") {
			fmt.Fprintf(&body, "    %s\n", strings.TrimRight(line, " \t"))
		}
		body.WriteString("  };\n")
	}

	body.WriteString("\n  return (\n")
	for _, line := range strings.Split(strings.TrimSpace(markup), "\n") {
		fmt.Fprintf(&body, "    %s\n", strings.TrimRight(line, " \t"))
	}
	body.WriteString("  );\n")

	hooks := detectHooks(sl, body.String())

	var code strings.Builder
	code.WriteString("'use client';\n\n")
	if len(hooks) > 0 {
		fmt.Fprintf(&code, "import React, { %s } from 'react';\n\n", strings.Join(hooks, ", "))
	} else {
		code.WriteString("import React from 'react';\n\n")
	}
	fmt.Fprintf(&code, "export default function %s() {\n", name)
	code.WriteString(body.String())
	code.WriteString("}\n")
	return code.String(), hooks
}

// detectHooks returns the hooks the code uses or the state logic asks for.
func detectHooks(sl *tcc.StateLogic, code string) []string {
	wanted := make(map[string]bool)
	for _, imp := range sl.Imports {
		wanted[strings.TrimSpace(imp)] = true
	}
	var out []string
	for _, h := range reactHooks {
		used := hookCallRe[h].MatchString(code)
		if used || (wanted[h] && h != "useReducer") {
			out = append(out, h)
		}
	}
	return out
}

func setterName(name string) string {
	if name == "" {
		return "set"
	}
	r := []rune(name)
	r[0] = unicode.ToUpper(r[0])
	return "set" + string(r)
}

// jsLiteral renders an initial state value. Missing values fall back to the
// zero value of the declared type.
func jsLiteral(v any, typ string) string {
	if v == nil {
		switch strings.ToLower(typ) {
		case "number", "int", "integer", "float":
			return "0"
		case "string", "text":
			return "''"
		case "boolean", "bool":
			return "false"
		case "array", "list":
			return "[]"
		case "object", "map", "record":
			return "{}"
		default:
			if strings.HasSuffix(typ, "[]") {
				return "[]"
			}
			return "null"
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(data)
}

var titleWordRe = regexp.MustCompile(`[A-Za-z0-9]+`)

// ToolTitle derives a display title from brainstorm data or the description.
func ToolTitle(t *tcc.TCC) string {
	if t.BrainstormData != nil {
		for _, key := range []string{"title", "toolTitle", "name"} {
			if s, ok := t.BrainstormData[key].(string); ok && strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s)
			}
		}
	}
	desc := strings.TrimSpace(t.UserInput.Description)
	if i := strings.IndexAny(desc, ".!?\n"); i > 0 {
		desc = desc[:i]
	}
	words := titleWordRe.FindAllString(desc, -1)
	if len(words) > 8 {
		words = words[:8]
	}
	for i, w := range words {
		words[i] = upperFirst(w)
	}
	if len(words) == 0 {
		if t.UserInput.ToolType != "" {
			return upperFirst(t.UserInput.ToolType) + " Tool"
		}
		return "Interactive Tool"
	}
	return strings.Join(words, " ")
}

// ComponentName turns a title into a PascalCase identifier.
func ComponentName(title string) string {
	words := titleWordRe.FindAllString(title, -1)
	var b strings.Builder
	for _, w := range words {
		b.WriteString(upperFirst(strings.ToLower(w)))
	}
	name := b.String()
	if name == "" {
		return "GeneratedTool"
	}
	if unicode.IsDigit(rune(name[0])) {
		name = "Tool" + name
	}
	return name
}

func upperFirst(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

// sortedKeys returns map keys in order.
func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
