package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/arbiterlabs/specd/internal/config"
	"github.com/arbiterlabs/specd/internal/fanout"
	"github.com/arbiterlabs/specd/internal/journal"
	"github.com/arbiterlabs/specd/internal/model"
	"github.com/arbiterlabs/specd/internal/specengine"
	"github.com/arbiterlabs/specd/internal/specerr"
	"github.com/arbiterlabs/specd/internal/store"
	"github.com/arbiterlabs/specd/internal/ticket"
)

func writeFakeBinary(t *testing.T, dir, name, script string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script+"\n"), 0o755); err != nil {
		t.Fatalf("write fake binary: %v", err)
	}
	return path
}

func newTestOrchestrator(t *testing.T, validatorScript, projectorScript string, enforce bool) (*Orchestrator, store.Store) {
	t.Helper()
	bindir := t.TempDir()
	validator := writeFakeBinary(t, bindir, "validator", validatorScript)
	projector := writeFakeBinary(t, bindir, "projector", projectorScript)

	cfg := config.Default()
	cfg.WorkDir = t.TempDir()
	cfg.ValidatorBinary = validator
	cfg.ProjectorBinary = projector
	cfg.MaxConcurrency = 2
	cfg.ToolTimeoutMS = 2000
	cfg.WorkspaceSweepCron = "@every 1h"

	engine, err := specengine.NewEngine(cfg, nil)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	t.Cleanup(engine.Close)

	s := store.NewMemory()
	j := journal.New(s)
	f := fanout.New(fanout.Config{HeartbeatInterval: time.Hour}, nil, nil)
	t.Cleanup(f.Close)

	var authority *ticket.Authority
	if enforce {
		authority = ticket.New([]byte("test-server-key-0123456789abcde"))
	}

	return New(s, engine, j, f, authority, enforce, nil), s
}

func TestUpsertFragmentHappyPathPersistsEverything(t *testing.T) {
	o, s := newTestOrchestrator(t, "exit 0",
		`echo '{"capabilities":{"auth":{}},"services":{"api":{"language":"go","description":"api service"}}}'`, false)

	fragment, summary, err := o.UpsertFragment(context.Background(), "proj-1", "main.cue", "capabilities: auth: {}", "alice", "initial commit", "", "")
	if err != nil {
		t.Fatalf("UpsertFragment: %v", err)
	}
	if !summary.OK {
		t.Fatalf("expected validation OK, got errors %v", summary.Errors)
	}
	if fragment.Path != "main.cue" {
		t.Errorf("Path = %q, want main.cue", fragment.Path)
	}

	artifacts, err := s.ListArtifacts(context.Background(), "proj-1")
	if err != nil {
		t.Fatalf("ListArtifacts: %v", err)
	}
	if len(artifacts) != 1 || artifacts[0].Name != "api" {
		t.Errorf("expected one artifact named api, got %+v", artifacts)
	}

	proj, ok, err := s.GetProject(context.Background(), "proj-1")
	if err != nil || !ok {
		t.Fatalf("GetProject: ok=%v err=%v", ok, err)
	}
	if proj.Counters["service"] != 1 {
		t.Errorf("Counters[service] = %d, want 1", proj.Counters["service"])
	}

	events, err := journal.New(s).List(context.Background(), "proj-1", 0, time.Time{}, true)
	if err != nil {
		t.Fatalf("List events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events (write + validation), got %d: %+v", len(events), events)
	}
	if events[0].Type != model.EventFragmentCreated {
		t.Errorf("events[0].Type = %q, want fragment_created", events[0].Type)
	}
	if events[1].Type != model.EventValidationCompleted {
		t.Errorf("events[1].Type = %q, want validation_completed", events[1].Type)
	}
}

func TestUpsertFragmentSecondWriteIsUpdate(t *testing.T) {
	o, _ := newTestOrchestrator(t, "exit 0", `echo '{"services":{"api":{}}}'`, false)
	ctx := context.Background()

	if _, _, err := o.UpsertFragment(ctx, "proj-1", "main.cue", "v1", "alice", "first", "", ""); err != nil {
		t.Fatalf("first UpsertFragment: %v", err)
	}
	if _, _, err := o.UpsertFragment(ctx, "proj-1", "main.cue", "v2", "alice", "second", "", ""); err != nil {
		t.Fatalf("second UpsertFragment: %v", err)
	}

	events, err := o.journal.List(ctx, "proj-1", 0, time.Time{}, true)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	var writeTypes []model.EventType
	for _, e := range events {
		if e.Type == model.EventFragmentCreated || e.Type == model.EventFragmentUpdated {
			writeTypes = append(writeTypes, e.Type)
		}
	}
	if len(writeTypes) != 2 || writeTypes[0] != model.EventFragmentCreated || writeTypes[1] != model.EventFragmentUpdated {
		t.Errorf("write event types = %v, want [fragment_created fragment_updated]", writeTypes)
	}
}

func TestUpsertFragmentValidatorFailureKeepsFragmentWritten(t *testing.T) {
	o, s := newTestOrchestrator(t, "echo 'boom' 1>&2; exit 1", "exit 0", false)

	fragment, summary, err := o.UpsertFragment(context.Background(), "proj-1", "main.cue", "broken", "alice", "oops", "", "")
	if err != nil {
		t.Fatalf("UpsertFragment should not abort the request on a tool failure: %v", err)
	}
	if summary.OK {
		t.Fatal("expected validation summary to report failure")
	}
	if fragment.Content != "broken" {
		t.Errorf("Content = %q, want broken", fragment.Content)
	}

	stored, ok, err := s.GetFragment(context.Background(), "proj-1", "main.cue")
	if err != nil || !ok {
		t.Fatalf("expected the fragment write to survive a validator failure: ok=%v err=%v", ok, err)
	}
	if stored.Content != "broken" {
		t.Errorf("stored Content = %q, want broken", stored.Content)
	}

	artifacts, _ := s.ListArtifacts(context.Background(), "proj-1")
	if len(artifacts) != 0 {
		t.Errorf("expected no artifacts to be persisted on validation failure, got %+v", artifacts)
	}
}

func TestUpsertFragmentRejectsBadPath(t *testing.T) {
	o, _ := newTestOrchestrator(t, "exit 0", "echo '{}'", false)

	_, _, err := o.UpsertFragment(context.Background(), "proj-1", "../../etc/passwd", "x", "alice", "msg", "", "")
	if !specerr.Is(err, specerr.KindBadPath) {
		t.Fatalf("expected a bad-path error, got %v", err)
	}
}

func TestUpsertFragmentEnforcesTicketWhenEnabled(t *testing.T) {
	o, s := newTestOrchestrator(t, "exit 0", "echo '{}'", true)

	_, _, err := o.UpsertFragment(context.Background(), "proj-1", "main.cue", "x", "alice", "msg", "bogus-ticket", "plan-hash")
	if !specerr.Is(err, specerr.KindTicketInvalid) {
		t.Fatalf("expected a ticket.invalid error, got %v", err)
	}

	if _, ok, _ := s.GetFragment(context.Background(), "proj-1", "main.cue"); ok {
		t.Error("expected no fragment to be written when ticket verification fails")
	}
}

func TestUpsertFragmentAcceptsValidTicket(t *testing.T) {
	o, _ := newTestOrchestrator(t, "exit 0", "echo '{}'", true)
	tk := o.tickets.Issue("plan-hash", "repo-sha", []model.TicketScope{"write"}, time.Minute)

	_, _, err := o.UpsertFragment(context.Background(), "proj-1", "main.cue", "x", "alice", "msg", tk.TicketID, "plan-hash")
	if err != nil {
		t.Fatalf("UpsertFragment with a valid ticket: %v", err)
	}
}

func TestSetHeadRefreshesCountersAndAppendsSyntheticEvent(t *testing.T) {
	o, s := newTestOrchestrator(t, "exit 0", `echo '{"capabilities":{"auth":{}},"services":{"api":{}}}'`, false)
	ctx := context.Background()

	_, _, err := o.UpsertFragment(ctx, "proj-1", "main.cue", "v1", "alice", "first", "", "")
	if err != nil {
		t.Fatalf("UpsertFragment: %v", err)
	}

	head, ok, err := o.journal.Head(ctx, "proj-1")
	if err != nil || !ok {
		t.Fatalf("Head: ok=%v err=%v", ok, err)
	}

	res, err := o.SetHead(ctx, "proj-1", head.ID)
	if err != nil {
		t.Fatalf("SetHead: %v", err)
	}
	_ = res

	events, err := o.journal.List(ctx, "proj-1", 0, time.Time{}, true)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	last := events[len(events)-1]
	if last.Type != model.EventHeadUpdated {
		t.Errorf("last event type = %q, want event_head_updated", last.Type)
	}

	proj, _, _ := s.GetProject(ctx, "proj-1")
	if proj.Counters["service"] != 1 {
		t.Errorf("Counters[service] = %d, want 1 after SetHead recompute", proj.Counters["service"])
	}
}
