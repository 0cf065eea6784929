// Package store defines specd's Durable Store boundary (SPEC_FULL.md §6:
// "interface-only" in the distilled spec) plus two concrete
// implementations: an in-memory store for tests and single-process
// deployments, grounded on internal/server/registry.go's id-keyed,
// mutex-guarded map pattern, and a modernc.org/sqlite-backed store grounded
// on madhatter5501-Factory's internal/db/sqlite.go (WAL mode, numbered
// migrations) and store.go (JSON-marshaled struct columns). Nothing outside
// this package knows which implementation is live.
package store

import (
	"context"

	"github.com/arbiterlabs/specd/internal/model"
)

// ProjectStore persists Project rows and their derived counters.
type ProjectStore interface {
	EnsureProject(ctx context.Context, id, name string) (model.Project, error)
	GetProject(ctx context.Context, id string) (model.Project, bool, error)
	UpdateCounters(ctx context.Context, id string, counters map[string]int) error
}

// FragmentStore persists Fragment rows, unique on (ProjectID, Path).
type FragmentStore interface {
	UpsertFragment(ctx context.Context, f model.Fragment) (model.Fragment, error)
	GetFragment(ctx context.Context, projectID, path string) (model.Fragment, bool, error)
	ListFragments(ctx context.Context, projectID string) ([]model.Fragment, error)
}

// VersionStore persists resolved-document snapshots, created at most once
// per (ProjectID, SpecHash).
type VersionStore interface {
	EnsureVersion(ctx context.Context, v model.Version) (model.Version, error)
	GetVersion(ctx context.Context, projectID, specHash string) (model.Version, bool, error)
}

// ArtifactStore persists the artifact set derived from the most recent
// successful resolve; each call to ReplaceArtifacts wholesale replaces the
// prior set for that project.
type ArtifactStore interface {
	ReplaceArtifacts(ctx context.Context, projectID string, artifacts []model.Artifact) error
	ListArtifacts(ctx context.Context, projectID string) ([]model.Artifact, error)
}

// EventStore persists the append-only Event Journal.
type EventStore interface {
	AppendEvent(ctx context.Context, e model.Event) error
	ListEvents(ctx context.Context, projectID string) ([]model.Event, error)
	SetEventsActive(ctx context.Context, projectID string, eventIDs []string, active bool) error
}

// Store is the full Durable Store contract the Mutation Orchestrator and
// Event Journal depend on.
type Store interface {
	ProjectStore
	FragmentStore
	VersionStore
	ArtifactStore
	EventStore
}
