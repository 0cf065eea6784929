package specengine

import (
	"context"
	"strings"

	"github.com/arbiterlabs/specd/internal/toolrunner"
)

// FormatResult is the outcome of formatFragment (SPEC_FULL.md §4.3).
type FormatResult struct {
	Formatted string
	OK        bool
	Error     string
}

// FormatFragment runs the configured validator binary's formatter
// (`fmt -`) over content, reading from stdin and returning the formatted
// text. Unlike validate/project, this doesn't touch the workspace
// filesystem: it's a pure text transform used by editors for on-type
// formatting, so it runs on the short analysis timeout (SPEC_FULL.md §5).
func (e *Engine) FormatFragment(ctx context.Context, content string) FormatResult {
	res := toolrunner.Run(ctx, e.cfg.ValidatorBinary, []string{"fmt", "-"}, toolrunner.Options{
		Timeout: e.cfg.AnalysisTimeout(),
		Stdin:   strings.NewReader(content),
	})
	if !res.OK {
		errMsg := res.Stderr
		if errMsg == "" {
			errMsg = "formatter exited nonzero"
		}
		return FormatResult{OK: false, Error: errMsg}
	}
	return FormatResult{OK: true, Formatted: res.Stdout}
}
