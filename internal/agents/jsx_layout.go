package agents

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/lmnhd/keyvex-sub008/internal/tcc"
)

var styleIDRe = regexp.MustCompile(`data-style-id=["']([^"']+)["']`)

// JSXLayoutDesigner designs the component's markup.
type JSXLayoutDesigner struct {
	llmAgent
}

func (a *JSXLayoutDesigner) ID() tcc.AgentID { return tcc.AgentJSXLayout }

func (a *JSXLayoutDesigner) Run(ctx context.Context, t *tcc.TCC, opts RunOptions) (*Result, error) {
	if len(t.DefinedFunctionSignatures) == 0 {
		return nil, missing(a.ID(), "definedFunctionSignatures")
	}
	start := time.Now()

	g, err := generate(ctx, a.llmAgent, t, a.ID(), opts, checkLayout)
	if err != nil {
		return nil, err
	}

	res := resultFrom(a.ID(), g, &Fragment{JSXLayout: g.value})
	res.Duration = time.Since(start)
	return res, nil
}

func checkLayout(l *tcc.JSXLayout) []string {
	var issues []string
	markup := strings.TrimSpace(l.ComponentStructure)
	if !strings.HasPrefix(markup, "<") {
		issues = append(issues, "componentStructure must start with a JSX element")
	}
	if len(StyleIDs(markup)) == 0 {
		issues = append(issues, "componentStructure has no data-style-id attributes")
	}
	mapped := make(map[string]bool, len(l.ElementMap))
	for _, e := range l.ElementMap {
		mapped[e.ElementID] = true
	}
	for _, id := range StyleIDs(markup) {
		if !mapped[id] {
			issues = append(issues, fmt.Sprintf("data-style-id %q missing from elementMap", id))
		}
	}
	return issues
}

// StyleIDs returns the data-style-id values in markup, in order, without
// duplicates.
func StyleIDs(markup string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, m := range styleIDRe.FindAllStringSubmatch(markup, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			out = append(out, m[1])
		}
	}
	return out
}
