package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/arbiterlabs/specd/internal/model"
)

func conformanceSuite(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	p, err := s.EnsureProject(ctx, "proj-1", "Demo")
	if err != nil {
		t.Fatalf("EnsureProject: %v", err)
	}
	if p.ID != "proj-1" {
		t.Errorf("ID = %q, want proj-1", p.ID)
	}
	again, err := s.EnsureProject(ctx, "proj-1", "Demo")
	if err != nil || again.CreatedAt != p.CreatedAt {
		t.Errorf("EnsureProject should be idempotent, got %+v, %v", again, err)
	}

	if err := s.UpdateCounters(ctx, "proj-1", map[string]int{"service": 2}); err != nil {
		t.Fatalf("UpdateCounters: %v", err)
	}
	got, ok, err := s.GetProject(ctx, "proj-1")
	if err != nil || !ok {
		t.Fatalf("GetProject: %v %v", ok, err)
	}
	if got.Counters["service"] != 2 {
		t.Errorf("Counters[service] = %d, want 2", got.Counters["service"])
	}

	f, err := s.UpsertFragment(ctx, model.Fragment{ProjectID: "proj-1", Path: "a.cue", Content: "x: 1"})
	if err != nil {
		t.Fatalf("UpsertFragment: %v", err)
	}
	if f.ID == "" {
		t.Error("expected UpsertFragment to assign an ID")
	}
	f2, err := s.UpsertFragment(ctx, model.Fragment{ProjectID: "proj-1", Path: "a.cue", Content: "x: 2"})
	if err != nil {
		t.Fatalf("UpsertFragment (update): %v", err)
	}
	if f2.ID != f.ID {
		t.Errorf("expected re-upsert to keep the same ID, got %q vs %q", f2.ID, f.ID)
	}
	fetched, ok, err := s.GetFragment(ctx, "proj-1", "a.cue")
	if err != nil || !ok || fetched.Content != "x: 2" {
		t.Fatalf("GetFragment mismatch: %+v %v %v", fetched, ok, err)
	}
	list, err := s.ListFragments(ctx, "proj-1")
	if err != nil || len(list) != 1 {
		t.Fatalf("ListFragments: %+v %v", list, err)
	}

	v, err := s.EnsureVersion(ctx, model.Version{ProjectID: "proj-1", SpecHash: "deadbeef", ResolvedJSON: "{}"})
	if err != nil || v.ID == "" {
		t.Fatalf("EnsureVersion: %+v %v", v, err)
	}
	v2, err := s.EnsureVersion(ctx, model.Version{ProjectID: "proj-1", SpecHash: "deadbeef", ResolvedJSON: "{}"})
	if err != nil || v2.ID != v.ID {
		t.Errorf("EnsureVersion should be idempotent per (project, hash): %+v vs %+v", v2, v)
	}

	if err := s.ReplaceArtifacts(ctx, "proj-1", []model.Artifact{
		{ProjectID: "proj-1", Name: "api", Type: model.ArtifactService, Metadata: map[string]any{"x": 1}},
	}); err != nil {
		t.Fatalf("ReplaceArtifacts: %v", err)
	}
	arts, err := s.ListArtifacts(ctx, "proj-1")
	if err != nil || len(arts) != 1 || arts[0].Name != "api" {
		t.Fatalf("ListArtifacts: %+v %v", arts, err)
	}

	e1 := model.Event{ID: "ev-1", ProjectID: "proj-1", Type: model.EventFragmentCreated, Data: map[string]any{"path": "a.cue"}, IsActive: true}
	if err := s.AppendEvent(ctx, e1); err != nil {
		t.Fatalf("AppendEvent: %v", err)
	}
	events, err := s.ListEvents(ctx, "proj-1")
	if err != nil || len(events) != 1 {
		t.Fatalf("ListEvents: %+v %v", events, err)
	}
	if err := s.SetEventsActive(ctx, "proj-1", []string{"ev-1"}, false); err != nil {
		t.Fatalf("SetEventsActive: %v", err)
	}
	events, _ = s.ListEvents(ctx, "proj-1")
	if events[0].IsActive {
		t.Error("expected event to be deactivated")
	}
}

func TestMemoryConformance(t *testing.T) {
	conformanceSuite(t, NewMemory())
}

func TestSQLiteConformance(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "specd.db")
	s, err := OpenSQLite(dbPath)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer s.Close()
	conformanceSuite(t, s)
}
