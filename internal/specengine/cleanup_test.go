package specengine

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSweepStaleFilesRemovesMatchesOnly(t *testing.T) {
	bindir := t.TempDir()
	validator := writeFakeBinary(t, bindir, "validator", "exit 0")
	projector := writeFakeBinary(t, bindir, "projector", `echo '{}'`)

	cfg := testConfig(t, validator, projector)
	e, err := NewEngine(cfg, nil)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	defer e.Close()

	projDir := filepath.Join(cfg.WorkDir, "proj", "fragments")
	if err := os.MkdirAll(projDir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	stale := filepath.Join(projDir, "scratch.tmp")
	keep := filepath.Join(projDir, "main.cue")
	if err := os.WriteFile(stale, []byte("x"), 0o644); err != nil {
		t.Fatalf("write stale: %v", err)
	}
	if err := os.WriteFile(keep, []byte("x"), 0o644); err != nil {
		t.Fatalf("write keep: %v", err)
	}

	if err := e.sweepStaleFiles(); err != nil {
		t.Fatalf("sweepStaleFiles: %v", err)
	}

	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Errorf("expected %s to be removed, stat err = %v", stale, err)
	}
	if _, err := os.Stat(keep); err != nil {
		t.Errorf("expected %s to survive the sweep: %v", keep, err)
	}
}
