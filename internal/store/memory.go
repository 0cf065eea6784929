package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/arbiterlabs/specd/internal/idgen"
	"github.com/arbiterlabs/specd/internal/model"
	"github.com/arbiterlabs/specd/internal/specerr"
)

// Memory is an in-process Store, grounded on internal/server/registry.go's
// PipelineRegistry: one sync.RWMutex guarding several id-keyed maps. It
// never persists to disk and is the default store for tests and for
// single-process deployments that don't need durability across restarts.
type Memory struct {
	mu        sync.RWMutex
	projects  map[string]model.Project
	fragments map[string]map[string]model.Fragment // projectID -> path -> Fragment
	versions  map[string]map[string]model.Version  // projectID -> specHash -> Version
	artifacts map[string][]model.Artifact          // projectID -> artifacts
	events    map[string][]model.Event             // projectID -> events, ascending CreatedAt
}

// NewMemory constructs an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		projects:  make(map[string]model.Project),
		fragments: make(map[string]map[string]model.Fragment),
		versions:  make(map[string]map[string]model.Version),
		artifacts: make(map[string][]model.Artifact),
		events:    make(map[string][]model.Event),
	}
}

func (m *Memory) EnsureProject(ctx context.Context, id, name string) (model.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.projects[id]; ok {
		return p, nil
	}
	now := time.Now()
	p := model.Project{ID: id, Name: name, CreatedAt: now, UpdatedAt: now, Counters: map[string]int{}}
	m.projects[id] = p
	return p, nil
}

func (m *Memory) GetProject(ctx context.Context, id string) (model.Project, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.projects[id]
	return p, ok, nil
}

func (m *Memory) UpdateCounters(ctx context.Context, id string, counters map[string]int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[id]
	if !ok {
		return specerr.New(specerr.KindNotFound, "unknown project "+id)
	}
	p.Counters = counters
	p.UpdatedAt = time.Now()
	m.projects[id] = p
	return nil
}

func (m *Memory) UpsertFragment(ctx context.Context, f model.Fragment) (model.Fragment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byPath, ok := m.fragments[f.ProjectID]
	if !ok {
		byPath = make(map[string]model.Fragment)
		m.fragments[f.ProjectID] = byPath
	}
	now := time.Now()
	if existing, ok := byPath[f.Path]; ok {
		f.ID = existing.ID
		f.CreatedAt = existing.CreatedAt
	} else {
		f.ID = idgen.New()
		f.CreatedAt = now
	}
	f.UpdatedAt = now
	byPath[f.Path] = f
	return f, nil
}

func (m *Memory) GetFragment(ctx context.Context, projectID, path string) (model.Fragment, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	byPath, ok := m.fragments[projectID]
	if !ok {
		return model.Fragment{}, false, nil
	}
	f, ok := byPath[path]
	return f, ok, nil
}

func (m *Memory) ListFragments(ctx context.Context, projectID string) ([]model.Fragment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	byPath := m.fragments[projectID]
	out := make([]model.Fragment, 0, len(byPath))
	for _, f := range byPath {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (m *Memory) EnsureVersion(ctx context.Context, v model.Version) (model.Version, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byHash, ok := m.versions[v.ProjectID]
	if !ok {
		byHash = make(map[string]model.Version)
		m.versions[v.ProjectID] = byHash
	}
	if existing, ok := byHash[v.SpecHash]; ok {
		return existing, nil
	}
	v.ID = idgen.New()
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now()
	}
	byHash[v.SpecHash] = v
	return v, nil
}

func (m *Memory) GetVersion(ctx context.Context, projectID, specHash string) (model.Version, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	byHash, ok := m.versions[projectID]
	if !ok {
		return model.Version{}, false, nil
	}
	v, ok := byHash[specHash]
	return v, ok, nil
}

func (m *Memory) ReplaceArtifacts(ctx context.Context, projectID string, artifacts []model.Artifact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]model.Artifact, len(artifacts))
	copy(cp, artifacts)
	m.artifacts[projectID] = cp
	return nil
}

func (m *Memory) ListArtifacts(ctx context.Context, projectID string) ([]model.Artifact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Artifact, len(m.artifacts[projectID]))
	copy(out, m.artifacts[projectID])
	return out, nil
}

func (m *Memory) AppendEvent(ctx context.Context, e model.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[e.ProjectID] = append(m.events[e.ProjectID], e)
	return nil
}

func (m *Memory) ListEvents(ctx context.Context, projectID string) ([]model.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	src := m.events[projectID]
	out := make([]model.Event, len(src))
	copy(out, src)
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) SetEventsActive(ctx context.Context, projectID string, eventIDs []string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	want := make(map[string]struct{}, len(eventIDs))
	for _, id := range eventIDs {
		want[id] = struct{}{}
	}
	events := m.events[projectID]
	for i := range events {
		if _, ok := want[events[i].ID]; ok {
			events[i].IsActive = active
		}
	}
	return nil
}
