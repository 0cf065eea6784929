package specengine

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/arbiterlabs/specd/internal/diagnostics"
)

// AssertionSchema is the structural contract the post-hoc Assert stage
// checks the resolved document against (SPEC_FULL.md §4.3 step 5): it must
// have a non-empty capabilities section. Compiled once at init, grounded on
// internal/agent/tool_registry.go's compileSchema pattern.
var assertionSchema = mustCompileAssertionSchema()

func mustCompileAssertionSchema() *jsonschema.Schema {
	raw := `{
		"type": "object",
		"properties": {
			"capabilities": {
				"type": "object",
				"minProperties": 1
			}
		},
		"required": ["capabilities"]
	}`
	c := jsonschema.NewCompiler()
	if err := c.AddResource("resolved-spec.json", strings.NewReader(raw)); err != nil {
		panic(err)
	}
	s, err := c.Compile("resolved-spec.json")
	if err != nil {
		panic(err)
	}
	return s
}

var unresolvedTemplateRe = regexp.MustCompile(`\$\{[^}]*\}`)

// runAssertions runs the configured post-hoc queries from SPEC_FULL.md §4.3
// step 5 over the resolved document. Multiple failures are aggregated with
// hashicorp/go-multierror before being projected to diagnostics, matching
// spec.md §7's "errors are arrays; multiple diagnostics per request are
// normal".
func runAssertions(resolved any) []diagnostics.Diagnostic {
	var merr *multierror.Error

	if err := assertionSchema.Validate(resolved); err != nil {
		merr = multierror.Append(merr, fmt.Errorf("capabilities: %w", err))
	}

	if raw, err := json.Marshal(resolved); err == nil {
		if loc := unresolvedTemplateRe.FindString(string(raw)); loc != "" {
			merr = multierror.Append(merr, fmt.Errorf("unresolved template reference %s remains in the resolved document", loc))
		}
	}

	if merr == nil {
		return nil
	}

	var diags []diagnostics.Diagnostic
	for _, e := range merr.Errors {
		diags = append(diags, diagnostics.Diagnostic{
			RawMessage:      e.Error(),
			FriendlyMessage: "Assertion failed",
			Explanation:     e.Error(),
			Suggestions:     []string{"Review the resolved document against the declared assertions"},
			Category:        diagnostics.CategoryStructure,
			Severity:        diagnostics.SeverityError,
			ErrorType:       "assertion",
		})
	}
	return diags
}
