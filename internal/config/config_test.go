package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadAppliesDefaultsWithNoFile(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\"): %v", err)
	}
	if cfg.MaxConcurrency != 4 {
		t.Errorf("MaxConcurrency = %d, want 4", cfg.MaxConcurrency)
	}
	if cfg.TicketTTLMinutes != 30 {
		t.Errorf("TicketTTLMinutes = %d, want 30", cfg.TicketTTLMinutes)
	}
}

func TestLoadOverridesFromFile(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "specd.yaml")
	if err := os.WriteFile(p, []byte("max_concurrency: 8\nworkdir: /tmp/specd\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MaxConcurrency != 8 {
		t.Errorf("MaxConcurrency = %d, want 8", cfg.MaxConcurrency)
	}
	if cfg.WorkDir != "/tmp/specd" {
		t.Errorf("WorkDir = %q, want /tmp/specd", cfg.WorkDir)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "specd.yaml")
	if err := os.WriteFile(p, []byte("not_a_real_field: 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(p); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestLoadRejectsInvalidConcurrency(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "specd.yaml")
	if err := os.WriteFile(p, []byte("max_concurrency: 0\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(p); err == nil {
		t.Fatal("expected error for zero concurrency")
	}
}

func TestEnvOverridesServerKey(t *testing.T) {
	t.Setenv("SPECD_SERVER_KEY", "from-env")
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ServerKey != "from-env" {
		t.Errorf("ServerKey = %q, want from-env", cfg.ServerKey)
	}
}
