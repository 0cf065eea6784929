package specengine

import (
	"fmt"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/arbiterlabs/specd/internal/specerr"
)

// DefaultFragmentPath is the path a fragment gets when normalization yields
// an empty result (SPEC_FULL.md §6).
const DefaultFragmentPath = "assembly.cue"

var allowedPathChars = regexp.MustCompile(`^[A-Za-z0-9._/-]+$`)

// NormalizeFragmentPath applies the fragment path rules from SPEC_FULL.md §6
// and returns the canonical relative path, without resolving it against any
// workspace root. Used by callers that only need the canonical (ProjectID,
// Path) key — the Mutation Orchestrator's store layer — and don't have (or
// need) a filesystem base to escape-check against; that check is materialize's
// job when fragments actually get written to disk.
func NormalizeFragmentPath(raw string) (string, error) {
	if strings.ContainsRune(raw, 0) {
		return "", specerr.New(specerr.KindBadPath, "path contains a NUL byte")
	}

	p := strings.ReplaceAll(raw, "\\", "/")
	for strings.HasPrefix(p, "./") {
		p = strings.TrimPrefix(p, "./")
	}
	for strings.HasPrefix(p, "/") {
		p = strings.TrimPrefix(p, "/")
	}
	p = strings.TrimSpace(p)

	if p == "" {
		p = DefaultFragmentPath
	}

	if !allowedPathChars.MatchString(p) {
		return "", specerr.New(specerr.KindBadPath, fmt.Sprintf("path %q contains disallowed characters", raw))
	}

	for _, seg := range strings.Split(p, "/") {
		if seg == "" || strings.HasPrefix(seg, "..") {
			return "", specerr.New(specerr.KindBadPath, fmt.Sprintf("path %q has an invalid segment %q", raw, seg))
		}
	}

	cleaned := path.Clean(p)
	if cleaned != p {
		// "//" and trailing slashes are already rejected by the empty-segment
		// check above, so what reaches here is a "." segment (e.g. "a/./b"),
		// which is rejected rather than silently rewritten.
		return "", specerr.New(specerr.KindBadPath, fmt.Sprintf("path %q did not normalize cleanly", raw))
	}
	return cleaned, nil
}

// NormalizePath applies NormalizeFragmentPath and additionally resolves the
// result under base, guaranteeing it lies inside base (SPEC_FULL.md §8's
// escape-proof testable property).
func NormalizePath(raw, base string) (string, error) {
	cleaned, err := NormalizeFragmentPath(raw)
	if err != nil {
		return "", err
	}

	absBase, err := filepath.Abs(base)
	if err != nil {
		return "", specerr.Wrap(specerr.KindInternal, "resolve base dir", err)
	}
	full := filepath.Join(absBase, cleaned)
	if !strings.HasPrefix(full, absBase+string(filepath.Separator)) && full != absBase {
		return "", specerr.New(specerr.KindBadPath, fmt.Sprintf("path %q escapes workspace root", raw))
	}

	return cleaned, nil
}
