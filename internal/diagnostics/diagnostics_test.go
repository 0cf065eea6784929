package diagnostics

import (
	"strings"
	"testing"

	"github.com/arbiterlabs/specd/internal/toolrunner"
)

func TestTranslateTypeConflict(t *testing.T) {
	diags := Translate(`fragments/port.cue:3:1: conflicting values 8080 and "8080"`)
	if len(diags) != 1 {
		t.Fatalf("got %d diagnostics, want 1", len(diags))
	}
	d := diags[0]
	if d.Category != CategoryTypes {
		t.Errorf("Category = %q, want types", d.Category)
	}
	if !strings.Contains(strings.ToLower(d.FriendlyMessage), "conflict") {
		t.Errorf("FriendlyMessage = %q, want to mention conflict", d.FriendlyMessage)
	}
	if d.Severity != SeverityError {
		t.Errorf("Severity = %q, want error", d.Severity)
	}
	if len(d.Suggestions) == 0 {
		t.Error("expected at least one suggestion")
	}
	if d.Filename != "fragments/port.cue" || d.Line != 3 || d.Column != 1 {
		t.Errorf("location = %s:%d:%d, want fragments/port.cue:3:1", d.Filename, d.Line, d.Column)
	}
}

func TestTranslateIncompleteValue(t *testing.T) {
	diags := Translate(`auth.cue:1:1: incomplete value string`)
	if len(diags) != 1 {
		t.Fatalf("got %d diagnostics, want 1", len(diags))
	}
	if !strings.Contains(diags[0].Explanation, "incomplete") {
		t.Errorf("Explanation = %q, want to contain incomplete", diags[0].Explanation)
	}
	if len(diags[0].Suggestions) == 0 {
		t.Error("expected at least one suggestion")
	}
}

func TestTranslateUnrecognizedLineProducesCatchAll(t *testing.T) {
	diags := Translate("something completely unexpected happened")
	if len(diags) != 1 {
		t.Fatalf("got %d diagnostics, want 1", len(diags))
	}
	if diags[0].ErrorType != "unrecognized" {
		t.Errorf("ErrorType = %q, want unrecognized", diags[0].ErrorType)
	}
}

func TestTranslateEmptyStderrYieldsNoDiagnostics(t *testing.T) {
	if diags := Translate(""); len(diags) != 0 {
		t.Fatalf("got %d diagnostics for empty input, want 0", len(diags))
	}
}

func TestTranslateFailureSynthesizesCatchAllOnEmptyStderr(t *testing.T) {
	// Invariant (SPEC_FULL.md §4.2): a nonzero exit always yields >=1 diagnostic.
	diags := TranslateFailure(toolrunner.Result{OK: false, ExitCode: 1, Stderr: ""})
	if len(diags) == 0 {
		t.Fatal("expected at least one diagnostic for a failed run with empty stderr")
	}
}

func TestTranslateFailureSpawnNotFound(t *testing.T) {
	diags := TranslateFailure(toolrunner.Result{OK: false, SpawnFailure: toolrunner.SpawnNotFound, Stderr: "exec: not found"})
	if len(diags) != 1 {
		t.Fatalf("got %d diagnostics, want 1", len(diags))
	}
	d := diags[0]
	if d.FriendlyMessage != "CUE validation error" {
		t.Errorf("FriendlyMessage = %q, want %q", d.FriendlyMessage, "CUE validation error")
	}
	if d.Category != CategoryValidation || d.Severity != SeverityError {
		t.Errorf("got category=%s severity=%s, want validation/error", d.Category, d.Severity)
	}
	found := false
	for _, s := range d.Suggestions {
		if strings.Contains(strings.ToLower(s), "binary") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a suggestion referencing the binary, got %v", d.Suggestions)
	}
}

func TestTranslateFailureTimeout(t *testing.T) {
	diags := TranslateFailure(toolrunner.Result{OK: false, SpawnFailure: toolrunner.SpawnTimeout})
	if len(diags) != 1 || diags[0].ErrorType != "timeout" {
		t.Fatalf("got %+v, want single timeout diagnostic", diags)
	}
}

func TestTranslateMultipleLines(t *testing.T) {
	stderr := "a.cue:1:1: syntax error: expected ':' found '='\nb.cue:2:2: undefined field: foo.bar\n"
	diags := Translate(stderr)
	if len(diags) != 2 {
		t.Fatalf("got %d diagnostics, want 2", len(diags))
	}
	if diags[0].Category != CategorySyntax {
		t.Errorf("diags[0].Category = %q, want syntax", diags[0].Category)
	}
	if diags[1].Category != CategoryReferences {
		t.Errorf("diags[1].Category = %q, want references", diags[1].Category)
	}
}
