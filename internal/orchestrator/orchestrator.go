// Package orchestrator implements the Mutation Orchestrator (SPEC_FULL.md
// §4.8): the end-to-end fragment-write path that ties the Ticket
// Authority, Durable Store, Spec Engine, Event Journal, and Fan-out Fabric
// together. Grounded on internal/server/handlers.go's handleSubmitPipeline
// (validate input, create run state, launch the engine, stream progress)
// generalized from "one pipeline run" to "one fragment mutation".
package orchestrator

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/arbiterlabs/specd/internal/fanout"
	"github.com/arbiterlabs/specd/internal/journal"
	"github.com/arbiterlabs/specd/internal/model"
	"github.com/arbiterlabs/specd/internal/specengine"
	"github.com/arbiterlabs/specd/internal/specerr"
	"github.com/arbiterlabs/specd/internal/store"
	"github.com/arbiterlabs/specd/internal/ticket"
)

// Orchestrator wires the components SPEC_FULL.md §4.8 names.
type Orchestrator struct {
	store     store.Store
	engine    *specengine.Engine
	journal   *journal.Journal
	fabric    *fanout.Fabric
	tickets   *ticket.Authority
	logger    *zap.Logger
	enforce   bool // whether ticket enforcement (step 3) is on
}

// New constructs an Orchestrator. tickets may be nil iff enforceTickets is
// false.
func New(s store.Store, engine *specengine.Engine, j *journal.Journal, f *fanout.Fabric, tickets *ticket.Authority, enforceTickets bool, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{store: s, engine: engine, journal: j, fabric: f, tickets: tickets, enforce: enforceTickets, logger: logger}
}

// ValidationSummary is what UpsertFragment returns alongside the persisted
// fragment row.
type ValidationSummary struct {
	OK       bool
	SpecHash string
	Errors   []string
	Warnings []string
}

// UpsertFragment runs the full write path from SPEC_FULL.md §4.8: validate
// the path, ensure the project exists, optionally check a ticket, persist
// the fragment, journal and broadcast the write event, run the Spec Engine,
// journal and broadcast the validation event, and persist derived state on
// success. A store failure before
// step 5 aborts with an error; a Spec Engine failure does not — the
// fragment write is retained and the event carries the failure.
func (o *Orchestrator) UpsertFragment(ctx context.Context, projectID, rawPath, content, author, message, ticketID, planHash string) (model.Fragment, ValidationSummary, error) {
	normPath, err := specengine.NormalizeFragmentPath(rawPath)
	if err != nil {
		return model.Fragment{}, ValidationSummary{}, err
	}
	if projectID == "" {
		return model.Fragment{}, ValidationSummary{}, specerr.New(specerr.KindBadRequest, "projectId is required")
	}

	if _, err := o.store.EnsureProject(ctx, projectID, projectID); err != nil {
		return model.Fragment{}, ValidationSummary{}, specerr.Wrap(specerr.KindInternal, "ensure project", err)
	}

	if o.enforce {
		if o.tickets == nil {
			return model.Fragment{}, ValidationSummary{}, specerr.New(specerr.KindTicketInvalid, "ticket enforcement is on but no ticket authority is configured")
		}
		if ok, reason := o.tickets.Verify(ticketID, planHash); !ok {
			return model.Fragment{}, ValidationSummary{}, specerr.New(specerr.KindTicketInvalid, reason)
		}
	}

	_, existed, err := o.store.GetFragment(ctx, projectID, normPath)
	if err != nil {
		return model.Fragment{}, ValidationSummary{}, specerr.Wrap(specerr.KindInternal, "read existing fragment", err)
	}

	fragment, err := o.store.UpsertFragment(ctx, model.Fragment{
		ProjectID: projectID,
		Path:      normPath,
		Content:   content,
		Author:    author,
		Message:   message,
	})
	if err != nil {
		return model.Fragment{}, ValidationSummary{}, specerr.Wrap(specerr.KindInternal, "write fragment", err)
	}

	writeEventType := model.EventFragmentCreated
	if existed {
		writeEventType = model.EventFragmentUpdated
	}
	writeEvent, err := o.journal.Append(ctx, projectID, writeEventType, map[string]any{
		"path": normPath, "author": author, "message": message,
	})
	if err != nil {
		return fragment, ValidationSummary{}, err
	}
	o.broadcast(ctx, projectID, writeEvent)

	fragments, err := o.store.ListFragments(ctx, projectID)
	if err != nil {
		return fragment, ValidationSummary{}, specerr.Wrap(specerr.KindInternal, "list fragments for validation", err)
	}
	engineFragments := make([]specengine.Fragment, len(fragments))
	for i, f := range fragments {
		engineFragments[i] = specengine.Fragment{Path: f.Path, Content: f.Content}
	}

	result, engErr := o.engine.ValidateProject(ctx, projectID, engineFragments)
	if engErr != nil {
		validationEvent, _ := o.journal.Append(ctx, projectID, model.EventValidationFailed, map[string]any{
			"error": engErr.Error(),
		})
		o.broadcast(ctx, projectID, validationEvent)
		return fragment, ValidationSummary{OK: false, Errors: []string{engErr.Error()}}, nil
	}

	summary := ValidationSummary{OK: result.OK, SpecHash: result.SpecHash}
	for _, d := range result.Errors {
		summary.Errors = append(summary.Errors, d.FriendlyMessage)
	}
	for _, d := range result.Warnings {
		summary.Warnings = append(summary.Warnings, d.FriendlyMessage)
	}

	validationType := model.EventValidationCompleted
	if !result.OK {
		validationType = model.EventValidationFailed
	}
	validationEvent, err := o.journal.Append(ctx, projectID, validationType, map[string]any{
		"specHash": result.SpecHash, "errors": summary.Errors, "warnings": summary.Warnings,
	})
	if err != nil {
		return fragment, summary, err
	}
	o.broadcast(ctx, projectID, validationEvent)

	if result.OK {
		if err := o.persistResolve(ctx, projectID, result); err != nil {
			return fragment, summary, err
		}
	}

	return fragment, summary, nil
}

func (o *Orchestrator) persistResolve(ctx context.Context, projectID string, result specengine.Result) error {
	resolvedJSON, err := json.Marshal(result.Resolved)
	if err != nil {
		return specerr.Wrap(specerr.KindInternal, "marshal resolved document", err)
	}
	if _, err := o.store.EnsureVersion(ctx, model.Version{ProjectID: projectID, SpecHash: result.SpecHash, ResolvedJSON: string(resolvedJSON)}); err != nil {
		return specerr.Wrap(specerr.KindInternal, "persist version", err)
	}

	artifacts := specengine.ExtractArtifacts(projectID, result.Resolved)
	if err := o.store.ReplaceArtifacts(ctx, projectID, artifacts); err != nil {
		return specerr.Wrap(specerr.KindInternal, "replace artifacts", err)
	}

	return o.refreshCounters(ctx, projectID)
}

// refreshCounters recomputes Project.Counters as a pure projection of the
// current Artifact set (SPEC_FULL.md §9's Open Question resolution:
// Artifact-set derivation, not an event-stream tally).
func (o *Orchestrator) refreshCounters(ctx context.Context, projectID string) error {
	artifacts, err := o.store.ListArtifacts(ctx, projectID)
	if err != nil {
		return specerr.Wrap(specerr.KindInternal, "list artifacts for counters", err)
	}
	counters := make(map[string]int)
	for _, a := range artifacts {
		counters[string(a.Type)]++
	}
	if err := o.store.UpdateCounters(ctx, projectID, counters); err != nil {
		return specerr.Wrap(specerr.KindInternal, "update counters", err)
	}
	return nil
}

// SetHead wraps journal.SetHead with the counter-recompute and broadcast
// steps SPEC_FULL.md §4.4/§9 require of every head operation: since
// counters are Artifact-set derived rather than event-stream derived, the
// recompute here is idempotent (artifacts don't change with head position)
// but still runs, keeping the invariant textually true regardless of which
// derivation a reader assumes.
func (o *Orchestrator) SetHead(ctx context.Context, projectID, targetEventID string) (journal.HeadResult, error) {
	res, err := o.journal.SetHead(ctx, projectID, targetEventID)
	if err != nil {
		return journal.HeadResult{}, err
	}
	if err := o.refreshCounters(ctx, projectID); err != nil {
		return res, err
	}
	syntheticEvent, err := o.journal.Append(ctx, projectID, model.EventHeadUpdated, map[string]any{
		"reactivatedIds": res.ReactivatedIDs, "deactivatedIds": res.DeactivatedIDs,
	})
	if err != nil {
		return res, err
	}
	o.broadcast(ctx, projectID, syntheticEvent)
	return res, nil
}

// Revert wraps journal.Revert the same way SetHead wraps journal.SetHead.
func (o *Orchestrator) Revert(ctx context.Context, projectID string, eventIDs []string) (journal.HeadResult, error) {
	res, err := o.journal.Revert(ctx, projectID, eventIDs)
	if err != nil {
		return journal.HeadResult{}, err
	}
	if err := o.refreshCounters(ctx, projectID); err != nil {
		return res, err
	}
	syntheticEvent, err := o.journal.Append(ctx, projectID, model.EventsReverted, map[string]any{
		"revertedIds": res.DeactivatedIDs,
	})
	if err != nil {
		return res, err
	}
	o.broadcast(ctx, projectID, syntheticEvent)
	return res, nil
}

func (o *Orchestrator) broadcast(ctx context.Context, projectID string, e model.Event) {
	if o.fabric == nil {
		return
	}
	o.fabric.Broadcast(ctx, projectID, map[string]any{
		"event_type": string(e.Type),
		"id":         e.ID,
		"created_at": e.CreatedAt.Format(time.RFC3339Nano),
		"data":       e.Data,
	})
}
