package agents

import (
	"context"
	"fmt"
	"time"

	"github.com/lmnhd/keyvex-sub008/internal/tcc"
)

// TailwindStylist applies Tailwind classes to the layout.
type TailwindStylist struct {
	llmAgent
}

func (a *TailwindStylist) ID() tcc.AgentID { return tcc.AgentTailwindStyling }

func (a *TailwindStylist) Run(ctx context.Context, t *tcc.TCC, opts RunOptions) (*Result, error) {
	if t.JSXLayout == nil || t.JSXLayout.ComponentStructure == "" {
		return nil, missing(a.ID(), "jsxLayout")
	}
	start := time.Now()

	layoutIDs := StyleIDs(t.JSXLayout.ComponentStructure)
	check := func(s *tcc.Styling) []string {
		return checkStyling(s, layoutIDs)
	}
	g, err := generate(ctx, a.llmAgent, t, a.ID(), opts, check)
	if err != nil {
		return nil, err
	}
	if g.value.StyleMap == nil {
		g.value.StyleMap = map[string]string{}
	}

	res := resultFrom(a.ID(), g, &Fragment{Styling: g.value})
	res.Duration = time.Since(start)
	return res, nil
}

// checkStyling requires the layout's style ids to survive styling.
func checkStyling(s *tcc.Styling, layoutIDs []string) []string {
	styled := make(map[string]bool)
	for _, id := range StyleIDs(s.StyledComponentCode) {
		styled[id] = true
	}
	var issues []string
	for _, id := range layoutIDs {
		if !styled[id] {
			issues = append(issues, fmt.Sprintf("data-style-id %q was removed from the layout", id))
		}
	}
	return issues
}
