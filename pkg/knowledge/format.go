package knowledge

import (
	"fmt"
	"sort"
	"strings"
)

// Format renders the knowledge base as a prompt-ready block. It applies
// the presentation-time filter independently of the storage gate:
// inferred facts and facts below the display floor are omitted even if
// an older, looser gate let them in. Returns "" when nothing qualifies.
func Format(base *Base, displayFloor float64) string {
	if base == nil {
		return ""
	}
	if displayFloor <= 0 {
		displayFloor = DefaultDisplayConfidenceFloor
	}

	show := func(p Provenance) bool {
		return p.SourceType == SourceExplicit && p.Confidence >= displayFloor
	}

	var sections []string

	if base.DisplayName != "" {
		sections = append(sections, "Name: "+base.DisplayName)
	}

	var lines []string
	for _, e := range base.Entities {
		if !show(e.Provenance) {
			continue
		}
		lines = append(lines, fmt.Sprintf("- %s (%s)%s", e.Name, e.Type, attributeSuffix(e.Attributes)))
	}
	if len(lines) > 0 {
		sections = append(sections, "Entities:\n"+strings.Join(lines, "\n"))
	}

	lines = nil
	for _, p := range base.Preferences {
		if !show(p.Provenance) {
			continue
		}
		verb := "likes"
		if !p.Liked {
			verb = "dislikes"
		}
		lines = append(lines, fmt.Sprintf("- %s %s (%s)%s", verb, p.Item, p.Category, attributeSuffix(p.Attributes)))
	}
	if len(lines) > 0 {
		sections = append(sections, "Preferences:\n"+strings.Join(lines, "\n"))
	}

	lines = nil
	for _, m := range base.Medical {
		if !show(m.Provenance) {
			continue
		}
		line := "- " + m.Condition
		if m.Status != "" {
			line += ": " + m.Status
		}
		lines = append(lines, line+attributeSuffix(m.Attributes))
	}
	if len(lines) > 0 {
		sections = append(sections, "Health:\n"+strings.Join(lines, "\n"))
	}

	lines = nil
	for _, r := range base.Relationships {
		if !show(r.Provenance) {
			continue
		}
		lines = append(lines, fmt.Sprintf("- %s: %s%s", r.Relation, r.Name, attributeSuffix(r.Attributes)))
	}
	if len(lines) > 0 {
		sections = append(sections, "Relationships:\n"+strings.Join(lines, "\n"))
	}

	lines = nil
	for _, m := range base.Milestones {
		if !show(m.Provenance) {
			continue
		}
		line := "- " + m.Title
		if m.Date != "" {
			line += " (" + m.Date + ")"
		}
		lines = append(lines, line+attributeSuffix(m.Attributes))
	}
	if len(lines) > 0 {
		sections = append(sections, "Milestones:\n"+strings.Join(lines, "\n"))
	}

	return strings.Join(sections, "\n\n")
}

// attributeSuffix renders scalar attributes inline, keys sorted for
// stable output. Nested maps are skipped; the bullet stays readable.
func attributeSuffix(attrs map[string]interface{}) string {
	if len(attrs) == 0 {
		return ""
	}
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		if _, nested := attrs[k].(map[string]interface{}); nested {
			continue
		}
		keys = append(keys, k)
	}
	if len(keys) == 0 {
		return ""
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, attrs[k])
	}
	return " [" + strings.Join(parts, ", ") + "]"
}
