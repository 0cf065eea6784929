package toolrunner

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestRunCapturesStdoutAndExitCode(t *testing.T) {
	res := Run(context.Background(), "sh", []string{"-c", "echo hello; exit 0"}, Options{Timeout: time.Second})
	if !res.OK {
		t.Fatalf("expected ok, got %+v", res)
	}
	if strings.TrimSpace(res.Stdout) != "hello" {
		t.Errorf("Stdout = %q, want hello", res.Stdout)
	}
	if res.ExitCode != 0 {
		t.Errorf("ExitCode = %d, want 0", res.ExitCode)
	}
}

func TestRunCapturesNonzeroExit(t *testing.T) {
	res := Run(context.Background(), "sh", []string{"-c", "echo oops 1>&2; exit 3"}, Options{Timeout: time.Second})
	if res.OK {
		t.Fatal("expected not-ok for nonzero exit")
	}
	if res.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", res.ExitCode)
	}
	if !strings.Contains(res.Stderr, "oops") {
		t.Errorf("Stderr = %q, want to contain oops", res.Stderr)
	}
}

func TestRunKillsOnTimeout(t *testing.T) {
	start := time.Now()
	res := Run(context.Background(), "sh", []string{"-c", "sleep 5"}, Options{Timeout: 50 * time.Millisecond})
	if res.OK {
		t.Fatal("expected timeout to report not-ok")
	}
	if res.SpawnFailure != SpawnTimeout {
		t.Errorf("SpawnFailure = %q, want timeout", res.SpawnFailure)
	}
	if !strings.Contains(res.Stderr, "timeout") {
		t.Errorf("Stderr = %q, want timeout marker", res.Stderr)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Run took %v after a 50ms timeout, process may have leaked", elapsed)
	}
}

func TestRunUnderTimeoutSucceeds(t *testing.T) {
	res := Run(context.Background(), "sh", []string{"-c", "sleep 0.01; echo done"}, Options{Timeout: time.Second})
	if !res.OK {
		t.Fatalf("expected ok for fast command under timeout, got %+v", res)
	}
}

func TestRunClassifiesSpawnFailure(t *testing.T) {
	res := Run(context.Background(), "/no/such/binary-specd-test", nil, Options{Timeout: time.Second})
	if res.OK {
		t.Fatal("expected spawn failure to be not-ok")
	}
	if res.SpawnFailure != SpawnNotFound {
		t.Errorf("SpawnFailure = %q, want not-found", res.SpawnFailure)
	}
}

func TestRunRespectsCwd(t *testing.T) {
	dir := t.TempDir()
	res := Run(context.Background(), "pwd", nil, Options{Timeout: time.Second, Cwd: dir})
	if !res.OK {
		t.Fatalf("pwd failed: %+v", res)
	}
	if !strings.Contains(strings.TrimSpace(res.Stdout), strings.TrimSuffix(dir, "/")) {
		t.Errorf("Stdout = %q, want to reference cwd %q", res.Stdout, dir)
	}
}
