package agents

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/lmnhd/keyvex-sub008/internal/tcc"
)

// MinScore is the lowest acceptable response score.
const MinScore = 0.5

// emptyListPenalty is subtracted per expected list that is present but empty.
const emptyListPenalty = 0.1

// Shape describes what an agent's JSON response should contain.
type Shape struct {
	// Primary is the list field a bare top-level array is moved into.
	Primary string
	// Expected are gjson paths that must be present and non-empty.
	Expected []string
	// Lists are gjson paths of arrays that should not be empty.
	Lists []string
}

var shapes = map[tcc.AgentID]Shape{
	tcc.AgentFunctionPlanner: {
		Primary:  "signatures",
		Expected: []string{"signatures"},
		Lists:    []string{"signatures"},
	},
	tcc.AgentStateDesign: {
		Primary:  "stateVariables",
		Expected: []string{"stateVariables", "functions"},
		Lists:    []string{"stateVariables", "functions"},
	},
	tcc.AgentJSXLayout: {
		Primary:  "elementMap",
		Expected: []string{"componentStructure", "elementMap"},
		Lists:    []string{"elementMap"},
	},
	tcc.AgentTailwindStyling: {
		Expected: []string{"styledComponentCode", "styleMap", "colorScheme.primary", "colorScheme.background"},
	},
	tcc.AgentCodeValidator: {
		Primary:  "issues",
		Expected: []string{"summary"},
	},
}

// ShapeFor returns the response shape of an agent.
func ShapeFor(agent tcc.AgentID) Shape {
	return shapes[agent]
}

// Parsed is a normalized response.
type Parsed struct {
	JSON   string
	Score  float64
	Issues []string
}

// ParseResponse normalizes raw model JSON for agent and scores it.
func ParseResponse(agent tcc.AgentID, raw string) (*Parsed, error) {
	shape := ShapeFor(agent)

	doc := gjson.Parse(raw)
	if doc.IsArray() {
		if shape.Primary == "" {
			return nil, fmt.Errorf("%s: unexpected top-level array", agent)
		}
		raw = fmt.Sprintf(`{%q:%s}`, shape.Primary, doc.Raw)
	} else if !doc.IsObject() {
		return nil, fmt.Errorf("%s: response is not a JSON object", agent)
	}

	raw = unwrapEnvelope(raw, shape)

	normalized, err := trimStrings(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: normalize response: %w", agent, err)
	}

	score, issues := scoreResponse(normalized, shape)
	return &Parsed{JSON: normalized, Score: score, Issues: issues}, nil
}

// unwrapEnvelope strips up to two single-key wrappers such as
// {"result": {...}} that do not name an expected field.
func unwrapEnvelope(raw string, shape Shape) string {
	for i := 0; i < 2; i++ {
		doc := gjson.Parse(raw)
		fields := doc.Map()
		if len(fields) != 1 {
			return raw
		}
		for key, value := range fields {
			if isShapeKey(key, shape) {
				return raw
			}
			switch {
			case value.IsObject():
				raw = value.Raw
			case value.IsArray() && shape.Primary != "":
				raw = fmt.Sprintf(`{%q:%s}`, shape.Primary, value.Raw)
			default:
				return raw
			}
		}
	}
	return raw
}

func isShapeKey(key string, shape Shape) bool {
	if key == shape.Primary {
		return true
	}
	for _, p := range append(append([]string{}, shape.Expected...), shape.Lists...) {
		if p == key || strings.HasPrefix(p, key+".") {
			return true
		}
	}
	return false
}

func trimStrings(raw string) (string, error) {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return "", err
	}
	v = trimValue(v)

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}

func trimValue(v any) any {
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x)
	case []any:
		for i := range x {
			x[i] = trimValue(x[i])
		}
		return x
	case map[string]any:
		for k, val := range x {
			x[k] = trimValue(val)
		}
		return x
	default:
		return v
	}
}

// scoreResponse is the fraction of expected paths present and non-empty,
// minus a penalty per empty expected list.
func scoreResponse(normalized string, shape Shape) (float64, []string) {
	paths := uniquePaths(shape)
	if len(paths) == 0 {
		return 1, nil
	}

	var (
		hits   int
		issues []string
	)
	for _, p := range paths {
		r := gjson.Get(normalized, p)
		switch {
		case !r.Exists() || r.Type == gjson.Null:
			issues = append(issues, fmt.Sprintf("missing field %q", p))
		case isEmpty(r):
			issues = append(issues, fmt.Sprintf("field %q is empty", p))
		default:
			hits++
		}
	}

	score := float64(hits) / float64(len(paths))
	for _, p := range shape.Lists {
		r := gjson.Get(normalized, p)
		if r.IsArray() && len(r.Array()) == 0 {
			score -= emptyListPenalty
		}
	}
	score = math.Max(0, math.Min(1, score))
	return math.Round(score*100) / 100, issues
}

func uniquePaths(shape Shape) []string {
	seen := make(map[string]bool)
	var out []string
	for _, p := range append(append([]string{}, shape.Expected...), shape.Lists...) {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}

func isEmpty(r gjson.Result) bool {
	switch {
	case r.IsArray():
		return len(r.Array()) == 0
	case r.IsObject():
		return len(r.Map()) == 0
	case r.Type == gjson.String:
		return r.Str == ""
	default:
		return false
	}
}
