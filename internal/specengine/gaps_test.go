package specengine

import "testing"

func TestGenerateGapsFlagsMissingSections(t *testing.T) {
	gaps := GenerateGaps(map[string]any{})
	if len(gaps.Gaps) < 3 {
		t.Fatalf("expected gaps for all 3 missing section hints, got %+v", gaps.Gaps)
	}
}

func TestGenerateGapsFlagsServiceWithoutLanguage(t *testing.T) {
	resolved := map[string]any{
		"services":  map[string]any{"api": map[string]any{"description": "the api"}},
		"databases": map[string]any{"pg": map[string]any{}},
		"frontends": map[string]any{"web": map[string]any{}},
	}
	gaps := GenerateGaps(resolved)
	found := false
	for _, g := range gaps.Gaps {
		if g.Path == "services.api.language" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a gap for services.api.language, got %+v", gaps.Gaps)
	}
}

func TestGenerateGapsCleanDocumentHasNoServiceGaps(t *testing.T) {
	resolved := map[string]any{
		"services":  map[string]any{"api": map[string]any{"language": "go", "description": "the api"}},
		"databases": map[string]any{"pg": map[string]any{}},
		"frontends": map[string]any{"web": map[string]any{}},
	}
	gaps := GenerateGaps(resolved)
	for _, g := range gaps.Gaps {
		if g.Path == "services.api.language" || g.Path == "services.api.description" {
			t.Errorf("unexpected gap for a complete service: %+v", g)
		}
	}
}
