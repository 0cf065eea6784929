package specengine

import (
	"github.com/arbiterlabs/specd/internal/idgen"
	"github.com/arbiterlabs/specd/internal/model"
)

// ExtractArtifacts derives a project's Artifact set from a resolved
// document, per SPEC_FULL.md §4.3 step 6 ("extracts derived artifacts").
// It walks the same artifactBuckets map runCustomValidators uses for its
// duplicate-name check, so the two stay in lockstep by construction.
func ExtractArtifacts(projectID string, resolved map[string]any) []model.Artifact {
	var artifacts []model.Artifact
	for bucket, artifactType := range artifactBuckets {
		section, ok := resolved[bucket].(map[string]any)
		if !ok {
			continue
		}
		for name, raw := range section {
			def, _ := raw.(map[string]any)
			artifacts = append(artifacts, model.Artifact{
				ID:          idgen.New(),
				ProjectID:   projectID,
				Name:        name,
				Type:        artifactType,
				Description: stringField(def, "description"),
				Language:    stringField(def, "language"),
				Framework:   stringField(def, "framework"),
				Metadata:    metadataField(def),
				FilePath:    stringField(def, "filePath"),
			})
		}
	}
	return artifacts
}

func stringField(def map[string]any, key string) string {
	s, _ := def[key].(string)
	return s
}

func metadataField(def map[string]any) map[string]any {
	if m, ok := def["metadata"].(map[string]any); ok {
		return m
	}
	return nil
}
