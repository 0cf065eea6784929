// Package diagnostics translates raw external-validator stderr into the
// structured, categorized Diagnostic shape from SPEC_FULL.md §4.2.
// Grounded on internal/attractor/validate.go's Diagnostic struct and its
// one-function-per-rule shape, generalized here from "one lint rule, one
// diagnostic" to "one recognized stderr line pattern, one diagnostic".
package diagnostics

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/arbiterlabs/specd/internal/toolrunner"
)

// Category enumerates the diagnostic categories from SPEC_FULL.md §4.2.
type Category string

const (
	CategoryValidation Category = "validation"
	CategoryTypes      Category = "types"
	CategoryStructure  Category = "structure"
	CategoryReferences Category = "references"
	CategorySyntax     Category = "syntax"
)

// Severity enumerates diagnostic severities.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Diagnostic is a single translated finding.
type Diagnostic struct {
	RawMessage      string   `json:"rawMessage"`
	FriendlyMessage string   `json:"friendlyMessage"`
	Explanation     string   `json:"explanation"`
	Suggestions     []string `json:"suggestions"`
	Category        Category `json:"category"`
	Severity        Severity `json:"severity"`
	Filename        string   `json:"filename,omitempty"`
	Line            int      `json:"line,omitempty"`
	Column          int      `json:"column,omitempty"`
	Path            string   `json:"path,omitempty"`
	ErrorType       string   `json:"errorType,omitempty"`
	Context         string   `json:"context,omitempty"`
}

type pattern struct {
	errorType string
	category  Category
	re        *regexp.Regexp
	build     func(m []string, raw string) Diagnostic
}

var patterns = []pattern{
	{
		errorType: "incomplete-value",
		category:  CategoryValidation,
		re:        regexp.MustCompile(`(?i)(?:incomplete value|non-concrete value)\s+(?P<path>[\w.\[\]"-]+)`),
		build: func(m []string, raw string) Diagnostic {
			path := m[1]
			return Diagnostic{
				FriendlyMessage: "Field is incomplete",
				Explanation:     "The field '" + path + "' is declared but has no concrete value; the document is incomplete until one is supplied.",
				Suggestions: []string{
					"Assign a concrete literal value to " + path,
					"If this field is intentionally left open, provide a default in a base fragment",
				},
				Category:  CategoryValidation,
				ErrorType: "incomplete-value",
				Path:      path,
			}
		},
	},
	{
		errorType: "type-conflict",
		category:  CategoryTypes,
		re:        regexp.MustCompile(`(?i)conflicting values\s+(?P<a>\S+)\s+and\s+(?P<b>\S+)`),
		build: func(m []string, raw string) Diagnostic {
			return Diagnostic{
				FriendlyMessage: "Type conflict between two assignments",
				Explanation:     "Two fragments assign incompatible values (" + m[1] + " vs " + m[2] + ") to the same field; declarative merge cannot unify them.",
				Suggestions: []string{
					"Make both fragments agree on the field's type and value",
					"Remove the redundant assignment from one fragment",
				},
				Category:  CategoryTypes,
				ErrorType: "type-conflict",
			}
		},
	},
	{
		errorType: "undefined-field",
		category:  CategoryReferences,
		re:        regexp.MustCompile(`(?i)(?:undefined field|reference .* not found):?\s*(?P<path>[\w.\[\]"-]+)`),
		build: func(m []string, raw string) Diagnostic {
			path := m[1]
			return Diagnostic{
				FriendlyMessage: "Reference to an undefined field",
				Explanation:     "'" + path + "' is referenced but never defined in any fragment.",
				Suggestions: []string{
					"Define " + path + " in a fragment",
					"Check for a typo in the field path",
				},
				Category:  CategoryReferences,
				ErrorType: "undefined-field",
				Path:      path,
			}
		},
	},
	{
		errorType: "syntax-error",
		category:  CategorySyntax,
		re:        regexp.MustCompile(`(?i)(?:syntax error|expected .* found .*)`),
		build: func(m []string, raw string) Diagnostic {
			return Diagnostic{
				FriendlyMessage: "Syntax error",
				Explanation:     "The fragment could not be parsed: " + strings.TrimSpace(raw),
				Suggestions: []string{
					"Check for unbalanced braces or missing commas near the reported location",
					"Run the fragment through a formatter to surface the exact position",
				},
				Category:  CategorySyntax,
				ErrorType: "syntax-error",
			}
		},
	},
}

// locationRe pulls a "<file>:<line>:<col>" prefix off a diagnostic line, the
// common shape for validator tool output.
var locationRe = regexp.MustCompile(`^(?P<file>[^:\s]+):(?P<line>\d+):(?P<col>\d+):\s*(?P<rest>.*)$`)

// Translate parses raw stderr text into a list of Diagnostics, one per
// recognized line, splitting on newlines. Unrecognized nonempty lines fall
// back to a generic validation/error diagnostic; empty or blank input yields
// no diagnostics. The catch-all for a failed process with nothing to
// translate is synthesized by TranslateFailure, not here.
func Translate(rawStderr string) []Diagnostic {
	lines := strings.Split(strings.TrimRight(rawStderr, "\n"), "\n")
	var out []Diagnostic
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		out = append(out, translateLine(line))
	}
	return out
}

// TranslateFailure is the entry point from the Spec Engine: it always
// returns at least one diagnostic when the tool reported failure, even if
// stderr was empty or nothing matched a known pattern (SPEC_FULL.md §4.2's
// invariant).
func TranslateFailure(res toolrunner.Result) []Diagnostic {
	if res.SpawnFailure != "" && res.SpawnFailure != toolrunner.SpawnTimeout {
		return []Diagnostic{spawnFailureDiagnostic(res)}
	}
	if res.SpawnFailure == toolrunner.SpawnTimeout {
		return []Diagnostic{timeoutDiagnostic(res)}
	}
	diags := Translate(res.Stderr)
	if len(diags) == 0 {
		diags = []Diagnostic{catchAllDiagnostic(res.Stderr)}
	}
	return diags
}

func translateLine(line string) Diagnostic {
	raw := line
	file, ln, col, rest := "", 0, 0, line
	if m := locationRe.FindStringSubmatch(line); m != nil {
		file = m[1]
		ln, _ = strconv.Atoi(m[2])
		col, _ = strconv.Atoi(m[3])
		rest = m[4]
	}

	for _, p := range patterns {
		if m := p.re.FindStringSubmatch(rest); m != nil {
			d := p.build(m, raw)
			d.RawMessage = raw
			d.Filename = file
			d.Line = ln
			d.Column = col
			d.Context = rest
			if d.Severity == "" {
				d.Severity = SeverityError
			}
			return d
		}
	}

	d := catchAllDiagnostic(raw)
	d.Filename = file
	d.Line = ln
	d.Column = col
	return d
}

func catchAllDiagnostic(raw string) Diagnostic {
	return Diagnostic{
		RawMessage:      raw,
		FriendlyMessage: "CUE validation error",
		Explanation:     "The validator reported a problem that didn't match a known pattern; see the raw message for details.",
		Suggestions: []string{
			"Inspect the validator's raw output above",
			"Confirm the validator binary path is correct and up to date",
		},
		Category:  CategoryValidation,
		Severity:  SeverityError,
		ErrorType: "unrecognized",
	}
}

func spawnFailureDiagnostic(res toolrunner.Result) Diagnostic {
	return Diagnostic{
		RawMessage:      res.Stderr,
		FriendlyMessage: "CUE validation error",
		Explanation:     "The validator process could not be started: " + string(res.SpawnFailure) + ".",
		Suggestions: []string{
			"Confirm the validator binary exists and is executable",
			"Check that the configured validatorBinary path is correct",
		},
		Category:  CategoryValidation,
		Severity:  SeverityError,
		ErrorType: "spawn-failure",
	}
}

func timeoutDiagnostic(res toolrunner.Result) Diagnostic {
	return Diagnostic{
		RawMessage:      res.Stderr,
		FriendlyMessage: "Validator timed out",
		Explanation:     "The validator did not finish within the configured timeout and was terminated.",
		Suggestions: []string{
			"Increase toolTimeoutMs if the spec is legitimately large",
			"Check for an infinite loop or runaway recursion in the fragments",
		},
		Category:  CategoryValidation,
		Severity:  SeverityError,
		ErrorType: "timeout",
	}
}
