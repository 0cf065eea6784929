package specengine

import (
	"fmt"

	"github.com/arbiterlabs/specd/internal/diagnostics"
	"github.com/arbiterlabs/specd/internal/model"
)

// artifactBuckets are the resolved-document top-level keys that enumerate
// artifacts of each model.ArtifactType (SPEC_FULL.md §3).
var artifactBuckets = map[string]model.ArtifactType{
	"services":       model.ArtifactService,
	"databases":      model.ArtifactDatabase,
	"frontends":      model.ArtifactFrontend,
	"views":          model.ArtifactView,
	"packages":       model.ArtifactPackage,
	"tools":          model.ArtifactTool,
	"infrastructure": model.ArtifactInfrastructure,
}

// runCustomValidators applies domain checks beyond the generic JSON-schema
// assertions in assert.go: duplicate names across capability namespaces, and
// presence of at least one declared artifact. Violations are warnings, not
// errors, per SPEC_FULL.md §4.3 step 6.
func runCustomValidators(resolved map[string]any) []diagnostics.Diagnostic {
	var warnings []diagnostics.Diagnostic

	seen := map[string]string{} // name -> bucket it was first seen in
	anyArtifacts := false
	for bucket := range artifactBuckets {
		section, ok := resolved[bucket].(map[string]any)
		if !ok {
			continue
		}
		for name := range section {
			anyArtifacts = true
			if prevBucket, dup := seen[name]; dup {
				warnings = append(warnings, diagnostics.Diagnostic{
					FriendlyMessage: "Duplicate name across capability namespaces",
					Explanation:     fmt.Sprintf("%q is declared in both %q and %q; names must be unique across all artifact namespaces.", name, prevBucket, bucket),
					Suggestions:     []string{fmt.Sprintf("Rename one of the two %q declarations", name)},
					Category:        diagnostics.CategoryStructure,
					Severity:        diagnostics.SeverityWarning,
					ErrorType:       "duplicate-name",
					Path:            bucket + "." + name,
				})
				continue
			}
			seen[name] = bucket
		}
	}

	if !anyArtifacts {
		warnings = append(warnings, diagnostics.Diagnostic{
			FriendlyMessage: "No artifacts declared",
			Explanation:     "The resolved document declares capabilities but no services, databases, or other artifacts derive from them.",
			Suggestions:     []string{"Add at least one service, database, or other artifact section"},
			Category:        diagnostics.CategoryStructure,
			Severity:        diagnostics.SeverityWarning,
			ErrorType:       "no-artifacts",
		})
	}

	return warnings
}
