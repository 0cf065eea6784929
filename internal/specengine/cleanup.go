package specengine

import (
	"os"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// CleanupProject removes a project's entire workspace tree, per
// SPEC_FULL.md §4.3's `cleanupProject(projectId)`. It is best-effort: a
// missing directory is not an error.
func (e *Engine) CleanupProject(projectID string) error {
	dir := filepath.Join(e.cfg.WorkDir, projectID)
	if err := os.RemoveAll(dir); err != nil {
		return err
	}
	return nil
}

// startWorkspaceSweep schedules a periodic sweep of stray formatter/editor
// temp files left behind under the engine's workdir (e.g. "*.tmp",
// "*.cue.orig") using doublestar globbing, on the cron cadence from
// config — grounded on SPEC_FULL.md's DOMAIN STACK entry for robfig/cron's
// "@every" interval syntax rather than a bare time.Ticker, so the sweep
// cadence is operator-reconfigurable without a rebuild.
func (e *Engine) startWorkspaceSweep(spec string, logger *zap.Logger) (*cron.Cron, error) {
	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		if err := e.sweepStaleFiles(); err != nil {
			logger.Warn("workspace sweep failed", zap.Error(err))
		}
	})
	if err != nil {
		return nil, err
	}
	c.Start()
	return c, nil
}

var staleFilePatterns = []string{"**/*.tmp", "**/*.cue.orig", "**/.#*"}

func (e *Engine) sweepStaleFiles() error {
	for _, pattern := range staleFilePatterns {
		matches, err := doublestar.Glob(os.DirFS(e.cfg.WorkDir), pattern)
		if err != nil {
			return err
		}
		for _, m := range matches {
			_ = os.Remove(filepath.Join(e.cfg.WorkDir, m))
		}
	}
	return nil
}
