// Package obs holds the ambient observability stack: structured logging and
// metrics, injected into every other component rather than reached for as a
// package-level global (SPEC_FULL.md's AMBIENT STACK section; SPEC_FULL.md
// §9 design note against ad-hoc singletons).
package obs

import "go.uber.org/zap"

// NewLogger builds the process logger. Production builds want JSON output;
// tests and local runs want the friendlier console encoder.
func NewLogger(production bool) (*zap.Logger, error) {
	if production {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

// NewNop returns a logger that discards everything, for tests that don't
// care about log output but need to satisfy a constructor signature.
func NewNop() *zap.Logger {
	return zap.NewNop()
}
