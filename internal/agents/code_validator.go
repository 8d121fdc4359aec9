package agents

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lmnhd/keyvex-sub008/internal/logging"
	"github.com/lmnhd/keyvex-sub008/internal/tcc"
)

const (
	sourceStatic = "static"
	sourceAI     = "ai"
)

var (
	importRe    = regexp.MustCompile(`(?m)^\s*import\s+(?:[^'"]*?\s+from\s+)?['"]([^'"]+)['"]`)
	componentRe = regexp.MustCompile(`(?m)(?:^|\s)(?:function\s+[A-Z]\w*\s*\(|(?:const|let)\s+[A-Z]\w*\s*=\s*(?:\([^)]*\)|\w+)\s*=>)`)
	returnRe    = regexp.MustCompile(`\breturn\b`)
	forbiddenAPIs = []struct {
		re   *regexp.Regexp
		rule string
		msg  string
	}{
		{regexp.MustCompile(`\beval\s*\(`), "no-eval", "eval() is not allowed"},
		{regexp.MustCompile(`\bnew\s+Function\s*\(`), "no-new-function", "new Function() is not allowed"},
		{regexp.MustCompile(`dangerouslySetInnerHTML`), "no-dangerous-html", "dangerouslySetInnerHTML is not allowed"},
		{regexp.MustCompile(`document\.cookie`), "no-cookie-access", "document.cookie access is not allowed"},
	}
)

// CodeValidator runs static checks on the assembled component followed by a
// model review.
type CodeValidator struct {
	llmAgent
}

type codeReview struct {
	Issues      []reviewIssue `json:"issues" validate:"dive"`
	Summary     string        `json:"summary"`
	Suggestions []string      `json:"suggestions"`
}

type reviewIssue struct {
	Severity string `json:"severity"`
	Message  string `json:"message" validate:"required"`
	Line     int    `json:"line"`
}

func (a *CodeValidator) ID() tcc.AgentID { return tcc.AgentCodeValidator }

func (a *CodeValidator) Run(ctx context.Context, t *tcc.TCC, opts RunOptions) (*Result, error) {
	if t.AssembledComponentCode == "" {
		return nil, missing(a.ID(), "assembledComponentCode")
	}
	start := time.Now()

	var styleMap map[string]string
	if t.Styling != nil {
		styleMap = t.Styling.StyleMap
	}
	vr := StaticCheck(t.AssembledComponentCode, t.StateLogic, styleMap)

	res := &Result{AgentID: a.ID(), Attempts: 0}
	if a.interaction != nil && a.retry != nil {
		g, err := generate[codeReview](ctx, a.llmAgent, t, a.ID(), opts, nil)
		switch {
		case err == nil:
			mergeReview(vr, g.value)
			res.Model = g.result.Model
			res.Provider = g.result.Provider
			res.Attempts = g.attempt.Number
			res.Score = g.result.Score
		case errors.Is(err, context.Canceled):
			return nil, err
		default:
			logging.ForJob(t.JobID, zap.String("agent", string(a.ID()))).Warn("code review unavailable", zap.Error(err))
			vr.Warnings = append(vr.Warnings, tcc.ValidationIssue{
				Severity: tcc.SeverityWarning,
				Message:  "AI review unavailable: " + err.Error(),
				Rule:     "ai-review",
				Source:   sourceAI,
			})
		}
	}

	vr.IsValid = len(vr.Errors) == 0
	vr.CheckedAt = time.Now().UTC()
	res.Fragment = &Fragment{ValidationResult: vr}
	res.Duration = time.Since(start)
	return res, nil
}

func mergeReview(vr *tcc.ValidationResult, review *codeReview) {
	for _, issue := range review.Issues {
		vi := tcc.ValidationIssue{
			Message: issue.Message,
			Line:    issue.Line,
			Rule:    "ai-review",
			Source:  sourceAI,
		}
		if strings.EqualFold(issue.Severity, string(tcc.SeverityError)) {
			vi.Severity = tcc.SeverityError
			vr.Errors = append(vr.Errors, vi)
		} else {
			vi.Severity = tcc.SeverityWarning
			vr.Warnings = append(vr.Warnings, vi)
		}
	}
	vr.AIReview = review.Summary
	vr.Suggestions = append(vr.Suggestions, review.Suggestions...)
}

// StaticCheck validates component code without running it.
func StaticCheck(code string, sl *tcc.StateLogic, styleMap map[string]string) *tcc.ValidationResult {
	vr := &tcc.ValidationResult{Errors: []tcc.ValidationIssue{}, Warnings: []tcc.ValidationIssue{}}
	fail := func(rule, msg string, line int) {
		vr.Errors = append(vr.Errors, tcc.ValidationIssue{Severity: tcc.SeverityError, Message: msg, Rule: rule, Line: line, Source: sourceStatic})
	}
	warn := func(rule, msg string, line int) {
		vr.Warnings = append(vr.Warnings, tcc.ValidationIssue{Severity: tcc.SeverityWarning, Message: msg, Rule: rule, Line: line, Source: sourceStatic})
	}

	if strings.TrimSpace(code) == "" {
		fail("non-empty", "component code is empty", 0)
		vr.IsValid = false
		return vr
	}

	if line, msg := checkBalanced(code); msg != "" {
		fail("balanced-brackets", msg, line)
	}

	for _, m := range importRe.FindAllStringSubmatchIndex(code, -1) {
		module := code[m[2]:m[3]]
		if module != "react" {
			fail("allowed-imports", fmt.Sprintf("import from %q is not allowed; only react is available", module), lineAt(code, m[0]))
		}
	}

	for _, f := range forbiddenAPIs {
		for _, loc := range f.re.FindAllStringIndex(code, -1) {
			fail(f.rule, f.msg, lineAt(code, loc[0]))
		}
	}

	if !componentRe.MatchString(code) {
		fail("component-declaration", "no React component declaration found", 0)
	}
	if !returnRe.MatchString(code) {
		fail("component-return", "component has no return statement", 0)
	}

	if sl != nil {
		for _, v := range sl.StateVariables {
			if v.Name == "" {
				continue
			}
			re := regexp.MustCompile(`\b` + regexp.QuoteMeta(v.Name) + `\b`)
			if len(re.FindAllStringIndex(code, 2)) < 2 {
				warn("unused-state", fmt.Sprintf("state variable %q is declared but never used", v.Name), 0)
			}
		}
	}

	for _, id := range sortedKeys(styleMap) {
		if !strings.Contains(code, `data-style-id="`+id+`"`) && !strings.Contains(code, `data-style-id='`+id+`'`) {
			warn("style-map", fmt.Sprintf("styleMap key %q has no matching data-style-id", id), 0)
		}
	}

	vr.IsValid = len(vr.Errors) == 0
	return vr
}

// checkBalanced verifies (), [] and {} nesting outside strings and comments.
// It returns the line and message of the first problem.
func checkBalanced(code string) (int, string) {
	type open struct {
		ch   byte
		line int
	}
	pairs := map[byte]byte{')': '(', ']': '[', '}': '{'}
	var (
		stack []open
		quote byte
		line  = 1
	)

	for i := 0; i < len(code); i++ {
		c := code[i]
		if c == '\n' {
			line++
		}

		if quote != 0 {
			switch {
			case c == '\\':
				i++
			case c == quote:
				quote = 0
			case c == '\n' && quote != '`':
				// unterminated single-line string; give up on it
				quote = 0
			}
			continue
		}

		switch c {
		case '/':
			if i+1 < len(code) && code[i+1] == '/' && (i == 0 || code[i-1] != ':') {
				for i < len(code) && code[i] != '\n' {
					i++
				}
				line++
				continue
			}
			if i+1 < len(code) && code[i+1] == '*' {
				end := strings.Index(code[i+2:], "*/")
				if end == -1 {
					return line, "unterminated block comment"
				}
				line += strings.Count(code[i:i+2+end], "\n")
				i += end + 3
				continue
			}
		case '"', '`':
			quote = c
		case '\'':
			if opensString(code, i) {
				quote = c
			}
		case '(', '[', '{':
			stack = append(stack, open{c, line})
		case ')', ']', '}':
			if len(stack) == 0 || stack[len(stack)-1].ch != pairs[c] {
				return line, fmt.Sprintf("unexpected %q", c)
			}
			stack = stack[:len(stack)-1]
		}
	}

	if len(stack) > 0 {
		top := stack[len(stack)-1]
		return top.line, fmt.Sprintf("unclosed %q", top.ch)
	}
	return 0, ""
}

// opensString distinguishes a JS string quote from an apostrophe in JSX text.
func opensString(code string, i int) bool {
	j := i - 1
	for j >= 0 && (code[j] == ' ' || code[j] == '\t') {
		j--
	}
	if j < 0 || code[j] == '\n' {
		return true
	}
	switch code[j] {
	case '=', '(', ',', ':', '[', '{', '?', '+', '!', '&', '|', ';', '>', '<':
		return true
	}
	return strings.HasSuffix(code[:j+1], "return") || strings.HasSuffix(code[:j+1], "from") || strings.HasSuffix(code[:j+1], "case")
}

func lineAt(code string, offset int) int {
	return strings.Count(code[:offset], "\n") + 1
}
