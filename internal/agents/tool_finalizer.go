package agents

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lmnhd/keyvex-sub008/internal/tcc"
)

const (
	// InitialVersion is the version of a newly finalized tool.
	InitialVersion = "1.0.0"
	// StatusDraft is the status of a newly finalized tool.
	StatusDraft = "draft"
)

var slugStripRe = regexp.MustCompile(`[^a-z0-9]+`)

// ToolFinalizer packages a validated component as a product tool definition.
type ToolFinalizer struct {
	// NewID generates tool ids. Defaults to uuid.NewString.
	NewID func() string
}

func (a *ToolFinalizer) ID() tcc.AgentID { return tcc.AgentToolFinalizer }

func (a *ToolFinalizer) Run(_ context.Context, t *tcc.TCC, _ RunOptions) (*Result, error) {
	if t.AssembledComponentCode == "" {
		return nil, missing(a.ID(), "assembledComponentCode")
	}
	if t.ValidationResult == nil {
		return nil, missing(a.ID(), "validationResult")
	}
	if !t.ValidationResult.IsValid {
		return nil, fmt.Errorf("%w: %d error(s), first: %s", ErrValidationFailed, len(t.ValidationResult.Errors), firstIssue(t.ValidationResult))
	}
	start := time.Now()

	newID := a.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	now := time.Now().UTC()
	title := ToolTitle(t)
	var id, slug string
	version, status, createdAt := InitialVersion, StatusDraft, now
	// an in-place edit revises the tool it published before
	if prev := previousProduct(t); prev != nil {
		id, slug = prev.ID, prev.Slug
		version = NextVersion(prev.Version)
		if prev.Status != "" {
			status = prev.Status
		}
		if !prev.CreatedAt.IsZero() {
			createdAt = prev.CreatedAt
		}
	} else {
		id = newID()
		slug = Slugify(title) + "-" + ShortSuffix(id)
	}

	var (
		colors   tcc.ColorScheme
		styleMap = map[string]string{}
	)
	if t.Styling != nil {
		colors = t.Styling.ColorScheme
		for k, v := range t.Styling.StyleMap {
			styleMap[k] = v
		}
	}
	current := make(map[string]string, len(styleMap))
	for k, v := range styleMap {
		current[k] = v
	}

	toolType := toolTypeOf(t)
	inputs := countInputs(t)

	def := &tcc.ProductToolDefinition{
		ID:      id,
		Slug:    slug,
		Version: version,
		Status:  status,
		Metadata: tcc.ToolMetadata{
			ID:                      id,
			Slug:                    slug,
			Title:                   title,
			Description:             t.UserInput.Description,
			ShortDescription:        shortDescription(t.UserInput.Description),
			Type:                    toolType,
			Category:                toolType,
			TargetAudience:          t.UserInput.TargetAudience,
			Industry:                t.UserInput.Industry,
			Tags:                    tagsFor(t, toolType),
			Features:                append([]string{}, t.UserInput.Features...),
			EstimatedCompletionTime: max(2, (inputs+1)/2),
			DifficultyLevel:         difficultyFor(inputs),
			Icon:                    iconFor(toolType),
		},
		ComponentCode:   t.AssembledComponentCode,
		ColorScheme:     colors,
		InitialStyleMap: styleMap,
		CurrentStyleMap: current,
		Analytics:       tcc.ToolAnalytics{Enabled: true},
		CreatedAt:       createdAt,
		UpdatedAt:       now,
		CreatedBy:       t.UserID,
	}

	return &Result{
		AgentID:  a.ID(),
		Fragment: &Fragment{FinalProduct: def},
		Attempts: 1,
		Duration: time.Since(start),
	}, nil
}

func previousProduct(t *tcc.TCC) *tcc.ProductToolDefinition {
	edit := t.EditModeContext
	if edit == nil || edit.Baseline == nil || edit.Baseline.FinalProduct == nil {
		return nil
	}
	if prev := edit.Baseline.FinalProduct; prev.ID != "" && prev.Slug != "" {
		return prev
	}
	return nil
}

// NextVersion bumps the minor part of a major.minor.patch version. Versions
// it cannot parse restart at 1.1.0.
func NextVersion(v string) string {
	parts := strings.Split(v, ".")
	if len(parts) != 3 {
		return "1.1.0"
	}
	major, err1 := strconv.Atoi(parts[0])
	minor, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil {
		return "1.1.0"
	}
	return fmt.Sprintf("%d.%d.0", major, minor+1)
}

func firstIssue(vr *tcc.ValidationResult) string {
	if len(vr.Errors) == 0 {
		return "unknown"
	}
	return vr.Errors[0].Message
}

// Slugify lowercases s and joins its words with dashes.
func Slugify(s string) string {
	slug := strings.Trim(slugStripRe.ReplaceAllString(strings.ToLower(s), "-"), "-")
	if len(slug) > 60 {
		slug = strings.TrimRight(slug[:60], "-")
	}
	if slug == "" {
		return "tool"
	}
	return slug
}

// ShortSuffix is the lowercase first six id characters without dashes.
func ShortSuffix(id string) string {
	clean := strings.ReplaceAll(id, "-", "")
	if len(clean) > 6 {
		clean = clean[:6]
	}
	return strings.ToLower(clean)
}

func shortDescription(desc string) string {
	desc = strings.TrimSpace(desc)
	if i := strings.IndexAny(desc, ".!?"); i > 0 {
		desc = desc[:i+1]
	}
	if len(desc) > 140 {
		desc = strings.TrimSpace(desc[:137]) + "..."
	}
	return desc
}

var knownTypes = []string{"calculator", "quiz", "assessment", "survey", "checklist", "configurator", "estimator"}

func toolTypeOf(t *tcc.TCC) string {
	if t.UserInput.ToolType != "" {
		return strings.ToLower(t.UserInput.ToolType)
	}
	desc := strings.ToLower(t.UserInput.Description)
	for _, k := range knownTypes {
		if strings.Contains(desc, k) {
			return k
		}
	}
	return "tool"
}

func tagsFor(t *tcc.TCC, toolType string) []string {
	seen := make(map[string]bool)
	var tags []string
	add := func(s string) {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" && !seen[s] {
			seen[s] = true
			tags = append(tags, s)
		}
	}
	add(toolType)
	add(t.UserInput.Industry)
	add(t.UserInput.TargetAudience)
	for _, f := range t.UserInput.Features {
		if len(tags) >= 8 {
			break
		}
		add(f)
	}
	if tags == nil {
		tags = []string{}
	}
	return tags
}

// countInputs counts the form controls in the layout.
func countInputs(t *tcc.TCC) int {
	if t.JSXLayout == nil {
		return 0
	}
	n := 0
	for _, e := range t.JSXLayout.ElementMap {
		switch strings.ToLower(e.Type) {
		case "input", "select", "textarea", "slider", "checkbox", "radio":
			n++
		}
	}
	return n
}

func difficultyFor(inputs int) string {
	switch {
	case inputs <= 3:
		return "beginner"
	case inputs <= 8:
		return "intermediate"
	default:
		return "advanced"
	}
}

func iconFor(toolType string) tcc.ToolIcon {
	switch toolType {
	case "calculator", "estimator":
		return tcc.ToolIcon{Type: "lucide", Value: "Calculator"}
	case "quiz":
		return tcc.ToolIcon{Type: "lucide", Value: "HelpCircle"}
	case "assessment", "checklist":
		return tcc.ToolIcon{Type: "lucide", Value: "ClipboardCheck"}
	case "survey":
		return tcc.ToolIcon{Type: "lucide", Value: "MessageSquare"}
	default:
		return tcc.ToolIcon{Type: "lucide", Value: "Sparkles"}
	}
}
