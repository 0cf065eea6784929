// Package specengine implements the Spec Engine (SPEC_FULL.md §4.3): the
// validate → project → hash → assert → custom pipeline that turns a
// project's fragments into a resolved document and a content-addressed
// specHash, plus the supporting formatFragment, generateGaps, and
// cleanupProject operations. It shells out to the configured validator and
// projector binaries via internal/toolrunner and never touches the Durable
// Store or HTTP layer directly.
package specengine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/arbiterlabs/specd/internal/config"
	"github.com/arbiterlabs/specd/internal/diagnostics"
	"github.com/arbiterlabs/specd/internal/specerr"
	"github.com/arbiterlabs/specd/internal/toolrunner"
)

// Engine runs the validate/project/hash/assert/custom pipeline for one or
// more projects. It is safe for concurrent use: ValidateProject calls share
// a bounded worker pool so a burst of submissions can't fork unbounded
// validator processes (SPEC_FULL.md §5).
type Engine struct {
	cfg    config.Config
	logger *zap.Logger
	slots  chan struct{}
	sweep  *cron.Cron
}

// Result is the outcome of ValidateProject (SPEC_FULL.md §4.3's
// `validateProject(projectId, fragments) -> { ok, specHash, resolved?,
// errors[], warnings[] }`).
type Result struct {
	OK       bool
	SpecHash string
	Resolved map[string]any
	Errors   []diagnostics.Diagnostic
	Warnings []diagnostics.Diagnostic
}

// NewEngine constructs an Engine and starts its workspace-sweep cron job.
// Callers must call Close to stop the scheduler.
func NewEngine(cfg config.Config, logger *zap.Logger) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		cfg:    cfg,
		logger: logger,
		slots:  make(chan struct{}, cfg.MaxConcurrency),
	}
	sweep, err := e.startWorkspaceSweep(cfg.WorkspaceSweepCron, logger)
	if err != nil {
		return nil, fmt.Errorf("schedule workspace sweep: %w", err)
	}
	e.sweep = sweep
	return e, nil
}

// Close stops the engine's background cron scheduler. It does not remove
// any workspace; call CleanupProject explicitly for that.
func (e *Engine) Close() {
	if e.sweep != nil {
		e.sweep.Stop()
	}
}

// acquire blocks until a worker-pool slot is free or ctx is done.
func (e *Engine) acquire(ctx context.Context) error {
	select {
	case e.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) release() {
	<-e.slots
}

// ValidateProject runs the full pipeline against the given fragments:
// materialize to disk, run the validator, on failure translate its stderr
// to diagnostics and stop; otherwise run the projector, parse its JSON
// output, compute specHash, then run the Assert and custom-validator
// stages. A tool spawn or timeout failure and a resolved-document parse
// failure both short-circuit with OK=false and populated Errors; everything
// past that point (Assert, custom validators) can only add Warnings plus,
// for Assert, additional Errors, never abort early, since SPEC_FULL.md §7
// treats them as independent checks over an already-resolved document.
func (e *Engine) ValidateProject(ctx context.Context, projectID string, fragments []Fragment) (Result, error) {
	if err := e.acquire(ctx); err != nil {
		return Result{}, err
	}
	defer e.release()

	dir := fragmentsDir(e.cfg.WorkDir, projectID)
	if err := materialize(e.cfg.WorkDir, projectID, fragments); err != nil {
		return Result{}, err
	}

	toolCtx, cancel := context.WithTimeout(ctx, e.cfg.ToolTimeout())
	defer cancel()

	validateRes := toolrunner.Run(toolCtx, e.cfg.ValidatorBinary, []string{"vet", "."}, toolrunner.Options{Cwd: dir, Timeout: e.cfg.ToolTimeout()})
	if !validateRes.OK {
		return Result{
			OK:     false,
			Errors: diagnostics.TranslateFailure(validateRes),
		}, nil
	}

	projectRes := toolrunner.Run(toolCtx, e.cfg.ProjectorBinary, []string{"export", "--out", "json"}, toolrunner.Options{Cwd: dir, Timeout: e.cfg.ToolTimeout()})
	if !projectRes.OK {
		return Result{
			OK:     false,
			Errors: diagnostics.TranslateFailure(projectRes),
		}, nil
	}

	var resolved map[string]any
	if err := json.Unmarshal([]byte(projectRes.Stdout), &resolved); err != nil {
		return Result{
			OK: false,
			Errors: []diagnostics.Diagnostic{{
				RawMessage:      err.Error(),
				FriendlyMessage: "Projector produced invalid JSON",
				Explanation:     "The projector exited successfully but its output could not be parsed as JSON: " + err.Error(),
				Category:        diagnostics.CategoryStructure,
				Severity:        diagnostics.SeverityError,
				ErrorType:       "malformed-projection",
			}},
		}, nil
	}

	hash, _, err := specHash(resolved)
	if err != nil {
		return Result{}, specerr.Wrap(specerr.KindInternal, "compute spec hash", err)
	}

	result := Result{
		OK:       true,
		SpecHash: hash,
		Resolved: resolved,
	}

	result.Errors = append(result.Errors, runAssertions(resolved)...)
	result.Warnings = append(result.Warnings, runCustomValidators(resolved)...)
	if len(result.Errors) > 0 {
		result.OK = false
	}

	return result, nil
}
