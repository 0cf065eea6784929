package specengine

import "fmt"

// Gap is a single structural gap found by GenerateGaps: something a
// complete specification would normally declare but this one doesn't.
type Gap struct {
	Path    string
	Message string
}

// GapSet is the result of generateGaps (SPEC_FULL.md §4.3), a public
// operation of the Spec Engine.
type GapSet struct {
	Gaps []Gap
}

// requiredSectionHints names sections whose absence is worth flagging even
// though they're not schema-mandatory (unlike "capabilities", which
// assert.go enforces as an error).
var requiredSectionHints = []string{"services", "databases", "frontends"}

// GenerateGaps analyzes a resolved document for structural gaps: missing
// conventional sections, artifacts with no description, and services with
// no declared language. It never fails — an incomplete or odd document
// simply produces more gaps.
func GenerateGaps(resolved map[string]any) GapSet {
	var gaps []Gap

	for _, section := range requiredSectionHints {
		v, ok := resolved[section]
		if !ok {
			gaps = append(gaps, Gap{Path: section, Message: fmt.Sprintf("no %q section is declared", section)})
			continue
		}
		m, ok := v.(map[string]any)
		if !ok || len(m) == 0 {
			gaps = append(gaps, Gap{Path: section, Message: fmt.Sprintf("%q section is present but empty", section)})
		}
	}

	if services, ok := resolved["services"].(map[string]any); ok {
		for name, raw := range services {
			svc, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			if _, ok := svc["language"]; !ok {
				gaps = append(gaps, Gap{Path: "services." + name + ".language", Message: fmt.Sprintf("service %q has no declared language", name)})
			}
			if desc, ok := svc["description"].(string); !ok || desc == "" {
				gaps = append(gaps, Gap{Path: "services." + name + ".description", Message: fmt.Sprintf("service %q has no description", name)})
			}
		}
	}

	return GapSet{Gaps: gaps}
}
