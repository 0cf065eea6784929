// Package model holds the entities shared across specd's components, per
// the data model in SPEC_FULL.md §3. These are plain structs; behavior
// lives in the packages that own each entity (journal owns Event, ticket
// owns Ticket, and so on).
package model

import "time"

// Project is one logical workspace. Counters are a pure projection of the
// current Artifact set (SPEC_FULL.md §9 Open Question resolution).
type Project struct {
	ID        string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
	Counters  map[string]int
}

// Fragment is a named text unit of the declarative language. (ProjectID,
// Path) is unique; fragments are replaced in place on re-write.
type Fragment struct {
	ID        string
	ProjectID string
	Path      string
	Content   string
	Author    string
	Message   string
	// ContentHash is a BLAKE3 fingerprint of Content. Both stores persist
	// it, but the write path neither sets nor reads it: every write is
	// materialized and validated regardless. It is not part of the public
	// contract in spec.md §3.
	ContentHash string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Version is a resolved-document snapshot, created at most once per
// (ProjectID, SpecHash).
type Version struct {
	ID           string
	ProjectID    string
	SpecHash     string
	ResolvedJSON string
	CreatedAt    time.Time
}

// ArtifactType enumerates the kinds of artifact the resolved spec can
// derive.
type ArtifactType string

const (
	ArtifactService        ArtifactType = "service"
	ArtifactDatabase       ArtifactType = "database"
	ArtifactFrontend       ArtifactType = "frontend"
	ArtifactView           ArtifactType = "view"
	ArtifactPackage        ArtifactType = "package"
	ArtifactTool           ArtifactType = "tool"
	ArtifactInfrastructure ArtifactType = "infrastructure"
)

// Artifact is derived from the resolved spec. Prior artifacts of a project
// are replaced wholesale on each successful resolve.
type Artifact struct {
	ID          string
	ProjectID   string
	Name        string
	Type        ArtifactType
	Description string
	Language    string
	Framework   string
	Metadata    map[string]any
	FilePath    string
}

// EventType enumerates the journaled mutation/state-transition kinds.
type EventType string

const (
	EventFragmentCreated    EventType = "fragment_created"
	EventFragmentUpdated    EventType = "fragment_updated"
	EventValidationStarted  EventType = "validation_started"
	EventValidationCompleted EventType = "validation_completed"
	EventValidationFailed   EventType = "validation_failed"
	EventVersionFrozen      EventType = "version_frozen"
	EventHeadUpdated        EventType = "event_head_updated"
	EventsReverted          EventType = "events_reverted"
)

// Event is an append-only journal record.
type Event struct {
	ID        string
	ProjectID string
	Type      EventType
	Data      map[string]any
	CreatedAt time.Time
	IsActive  bool
}

// TicketScope names an action a Ticket authorizes.
type TicketScope string

// Ticket is a server-issued, HMAC-bound mutation authorization. Held in
// memory only; never persisted.
type Ticket struct {
	TicketID  string
	PlanHash  string
	RepoSHA   string
	Scopes    []TicketScope
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// PatchOperation enumerates the kinds of filesystem change a stamped patch
// can describe.
type PatchOperation string

const (
	PatchWrite  PatchOperation = "write"
	PatchDelete PatchOperation = "delete"
)

// StampedPatch is a single HMAC-authenticated file mutation bound to a
// Ticket and a repo state.
type StampedPatch struct {
	PatchID   string
	TicketID  string
	FilePath  string
	Operation PatchOperation
	Content   string
	Stamp     string
}

// Connection is an ephemeral duplex-channel peer, owned exclusively by the
// Fan-out Fabric.
type Connection struct {
	ID            string
	AuthContext   AuthContext
	Subscriptions map[string]struct{}
	LastSeen      time.Time
}

// AuthContext is the interface boundary to the (out-of-scope) authentication
// middleware: it answers "can this caller see project P", nothing more.
type AuthContext interface {
	CanAccessProject(projectID string) bool
	Identity() string
}
