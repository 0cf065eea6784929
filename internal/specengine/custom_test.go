package specengine

import "testing"

func TestRunCustomValidatorsNoArtifacts(t *testing.T) {
	warnings := runCustomValidators(map[string]any{"capabilities": map[string]any{}})
	found := false
	for _, w := range warnings {
		if w.ErrorType == "no-artifacts" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected no-artifacts warning, got %+v", warnings)
	}
}

func TestRunCustomValidatorsDuplicateName(t *testing.T) {
	resolved := map[string]any{
		"services":  map[string]any{"shared": map[string]any{}},
		"databases": map[string]any{"shared": map[string]any{}},
	}
	warnings := runCustomValidators(resolved)
	found := false
	for _, w := range warnings {
		if w.ErrorType == "duplicate-name" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected duplicate-name warning, got %+v", warnings)
	}
}

func TestRunCustomValidatorsNoWarningsWithUniqueArtifacts(t *testing.T) {
	resolved := map[string]any{
		"services":  map[string]any{"api": map[string]any{}},
		"databases": map[string]any{"pg": map[string]any{}},
	}
	warnings := runCustomValidators(resolved)
	if len(warnings) != 0 {
		t.Errorf("expected no warnings, got %+v", warnings)
	}
}
