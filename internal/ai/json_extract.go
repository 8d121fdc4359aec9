package ai

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// ErrNoJSON is returned when model output holds no parseable JSON.
var ErrNoJSON = errors.New("no valid JSON in model output")

// ExtractJSON returns the JSON document embedded in model output. It accepts
// a bare document, one wrapped in a markdown fence, or an object surrounded
// by prose (first '{' to last '}'). A top-level array is accepted only when
// it is the whole response.
func ExtractJSON(text string) (string, error) {
	body := stripCodeFence(text)
	if body != "" && gjson.Valid(body) {
		first := body[0]
		if first == '{' || first == '[' {
			return body, nil
		}
	}

	start := strings.Index(body, "{")
	end := strings.LastIndex(body, "}")
	if start != -1 && end > start {
		candidate := body[start : end+1]
		if gjson.Valid(candidate) {
			return candidate, nil
		}
	}

	preview := strings.TrimSpace(text)
	if len(preview) > 100 {
		preview = preview[:100] + "..."
	}
	return "", fmt.Errorf("%w: %q", ErrNoJSON, preview)
}

func stripCodeFence(text string) string {
	trimmed := strings.TrimSpace(text)

	if i := strings.Index(trimmed, "```"); i != -1 {
		rest := trimmed[i+3:]
		// drop the info string (```json, ```JSON, ```javascript)
		if nl := strings.IndexByte(rest, '\n'); nl != -1 && !strings.ContainsAny(rest[:nl], "{[") {
			rest = rest[nl+1:]
		}
		if j := strings.LastIndex(rest, "```"); j != -1 {
			rest = rest[:j]
		}
		return strings.TrimSpace(rest)
	}
	return trimmed
}
