package specengine

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/arbiterlabs/specd/internal/specerr"
)

// Fragment is the minimal view of a fragment the Spec Engine needs: a
// normalized path and its content. Callers (the Mutation Orchestrator)
// translate internal/model.Fragment into this shape.
type Fragment struct {
	Path    string
	Content string
}

// fragmentsDir is the subdirectory of a project's workspace the validator
// and projector run against.
func fragmentsDir(workdir, projectID string) string {
	return filepath.Join(workdir, projectID, "fragments")
}

// materialize writes fragments to workdir/<projectID>/fragments/<path>,
// per SPEC_FULL.md §4.3 step 1. Writes are best-effort idempotent: a
// fragment whose content already matches on disk is not rewritten. Any I/O
// failure short-circuits with a *specerr.Error of kind validation.custom,
// wrapping the underlying cause, matching spec.md's "short-circuits the
// pipeline with a custom error".
func materialize(workdir, projectID string, fragments []Fragment) error {
	dir := fragmentsDir(workdir, projectID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return specerr.Wrap(specerr.KindValidationCustom, "create project workspace", err)
	}
	for _, f := range fragments {
		normPath, err := NormalizePath(f.Path, dir)
		if err != nil {
			return err
		}
		full := filepath.Join(dir, normPath)
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			return specerr.Wrap(specerr.KindValidationCustom, fmt.Sprintf("create directory for %s", normPath), err)
		}
		if existing, err := os.ReadFile(full); err == nil && string(existing) == f.Content {
			continue
		}
		if err := os.WriteFile(full, []byte(f.Content), 0o644); err != nil {
			return specerr.Wrap(specerr.KindValidationCustom, fmt.Sprintf("write fragment %s", normPath), err)
		}
	}
	return nil
}
