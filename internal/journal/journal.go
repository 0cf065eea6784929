// Package journal implements the Event Journal & Head Control
// (SPEC_FULL.md §4.4): an append-only log of mutation/state-transition
// events per project, with a movable head pointer that setHead/revert
// reposition. Grounded on internal/attractor/runstate snapshot ordering and
// internal/cxdb/kilroy_registry.go's typed, timestamped event-turn
// modeling, generalized from "one registry bundle" to "one event per
// mutation". Per-project serialization (SPEC_FULL.md §5) mirrors the
// teacher's per-pipeline sync.Mutex in server.PipelineState.
package journal

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/arbiterlabs/specd/internal/idgen"
	"github.com/arbiterlabs/specd/internal/model"
	"github.com/arbiterlabs/specd/internal/specerr"
	"github.com/arbiterlabs/specd/internal/store"
)

// Journal owns the append/list/head/setHead/revert operations for every
// project. Mutations to a single project are serialized through a
// per-project mutex obtained from locks; reads (List, Head) take no lock
// beyond what the underlying Store already provides, so they can run
// concurrently with an in-flight head operation and observe either the
// pre- or post-state, never a torn one.
type Journal struct {
	events store.EventStore

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New constructs a Journal backed by events.
func New(events store.EventStore) *Journal {
	return &Journal{events: events, locks: make(map[string]*sync.Mutex)}
}

func (j *Journal) lockFor(projectID string) *sync.Mutex {
	j.mu.Lock()
	defer j.mu.Unlock()
	l, ok := j.locks[projectID]
	if !ok {
		l = &sync.Mutex{}
		j.locks[projectID] = l
	}
	return l
}

// Append assigns a fresh id and timestamp to a new event, marks it active,
// and writes it atomically with respect to concurrent head operations on
// the same project (SPEC_FULL.md §4.4).
func (j *Journal) Append(ctx context.Context, projectID string, typ model.EventType, data map[string]any) (model.Event, error) {
	l := j.lockFor(projectID)
	l.Lock()
	defer l.Unlock()

	e := model.Event{
		ID:        idgen.New(),
		ProjectID: projectID,
		Type:      typ,
		Data:      data,
		CreatedAt: time.Now(),
		IsActive:  true,
	}
	if err := j.events.AppendEvent(ctx, e); err != nil {
		return model.Event{}, specerr.Wrap(specerr.KindInternal, "append event", err)
	}
	return e, nil
}

// List returns events for a project in ascending creation-time order, most
// recent limit entries, optionally filtered to events created after
// sinceTimestamp and to active-only events.
func (j *Journal) List(ctx context.Context, projectID string, limit int, sinceTimestamp time.Time, includeInactive bool) ([]model.Event, error) {
	all, err := j.events.ListEvents(ctx, projectID)
	if err != nil {
		return nil, specerr.Wrap(specerr.KindInternal, "list events", err)
	}
	var out []model.Event
	for _, e := range all {
		if !sinceTimestamp.IsZero() && !e.CreatedAt.After(sinceTimestamp) {
			continue
		}
		if !includeInactive && !e.IsActive {
			continue
		}
		out = append(out, e)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// Head returns the most recent active event for a project, or false if
// none exists (either the project has no events, or all are inactive).
func (j *Journal) Head(ctx context.Context, projectID string) (model.Event, bool, error) {
	all, err := j.events.ListEvents(ctx, projectID)
	if err != nil {
		return model.Event{}, false, specerr.Wrap(specerr.KindInternal, "list events", err)
	}
	for i := len(all) - 1; i >= 0; i-- {
		if all[i].IsActive {
			return all[i], true, nil
		}
	}
	return model.Event{}, false, nil
}

// HeadResult is the outcome of SetHead/Revert.
type HeadResult struct {
	Head           *model.Event
	ReactivatedIDs []string
	DeactivatedIDs []string
}

// SetHead reassigns the active/inactive boundary: every event with creation
// time at or before the target's event becomes active, every later event
// becomes inactive. Passing an empty targetEventID deactivates every event.
// Atomic with respect to concurrent Append on the same project.
func (j *Journal) SetHead(ctx context.Context, projectID, targetEventID string) (HeadResult, error) {
	l := j.lockFor(projectID)
	l.Lock()
	defer l.Unlock()

	all, err := j.events.ListEvents(ctx, projectID)
	if err != nil {
		return HeadResult{}, specerr.Wrap(specerr.KindInternal, "list events", err)
	}
	if len(all) == 0 {
		return HeadResult{}, specerr.New(specerr.KindNotFound, "unknown project "+projectID)
	}

	var targetTime time.Time
	if targetEventID != "" {
		idx := indexOf(all, targetEventID)
		if idx < 0 {
			return HeadResult{}, specerr.New(specerr.KindBadRequest, "unknown eventId "+targetEventID)
		}
		targetTime = all[idx].CreatedAt
	}

	var reactivated, deactivated []string
	for _, e := range all {
		shouldBeActive := targetEventID != "" && !e.CreatedAt.After(targetTime)
		if shouldBeActive && !e.IsActive {
			reactivated = append(reactivated, e.ID)
		}
		if !shouldBeActive && e.IsActive {
			deactivated = append(deactivated, e.ID)
		}
	}
	if len(reactivated) > 0 {
		if err := j.events.SetEventsActive(ctx, projectID, reactivated, true); err != nil {
			return HeadResult{}, specerr.Wrap(specerr.KindInternal, "reactivate events", err)
		}
	}
	if len(deactivated) > 0 {
		if err := j.events.SetEventsActive(ctx, projectID, deactivated, false); err != nil {
			return HeadResult{}, specerr.Wrap(specerr.KindInternal, "deactivate events", err)
		}
	}

	result := HeadResult{ReactivatedIDs: reactivated, DeactivatedIDs: deactivated}
	if targetEventID != "" {
		idx := indexOf(all, targetEventID)
		head := all[idx]
		head.IsActive = true
		result.Head = &head
	}
	return result, nil
}

// Revert deactivates the given events and, for each, every strictly-later
// event, then sets head to the latest remaining active event. Atomic with
// respect to concurrent Append on the same project.
func (j *Journal) Revert(ctx context.Context, projectID string, eventIDs []string) (HeadResult, error) {
	l := j.lockFor(projectID)
	l.Lock()
	defer l.Unlock()

	all, err := j.events.ListEvents(ctx, projectID)
	if err != nil {
		return HeadResult{}, specerr.Wrap(specerr.KindInternal, "list events", err)
	}
	if len(all) == 0 {
		return HeadResult{}, specerr.New(specerr.KindNotFound, "unknown project "+projectID)
	}

	var earliestTarget time.Time
	found := false
	for _, id := range eventIDs {
		idx := indexOf(all, id)
		if idx < 0 {
			return HeadResult{}, specerr.New(specerr.KindBadRequest, "unknown eventId "+id)
		}
		if !found || all[idx].CreatedAt.Before(earliestTarget) {
			earliestTarget = all[idx].CreatedAt
			found = true
		}
	}

	var reverted []string
	for _, e := range all {
		if e.IsActive && !e.CreatedAt.Before(earliestTarget) {
			reverted = append(reverted, e.ID)
		}
	}
	if len(reverted) > 0 {
		if err := j.events.SetEventsActive(ctx, projectID, reverted, false); err != nil {
			return HeadResult{}, specerr.Wrap(specerr.KindInternal, "deactivate events", err)
		}
	}

	var head *model.Event
	sort.Slice(all, func(i, k int) bool { return all[i].CreatedAt.Before(all[k].CreatedAt) })
	deactivated := toSet(reverted)
	for i := len(all) - 1; i >= 0; i-- {
		if all[i].IsActive && !deactivated[all[i].ID] {
			h := all[i]
			head = &h
			break
		}
	}

	return HeadResult{Head: head, DeactivatedIDs: reverted}, nil
}

func indexOf(events []model.Event, id string) int {
	for i, e := range events {
		if e.ID == id {
			return i
		}
	}
	return -1
}

func toSet(ids []string) map[string]bool {
	m := make(map[string]bool, len(ids))
	for _, id := range ids {
		m[id] = true
	}
	return m
}
