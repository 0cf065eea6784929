// Package idgen generates time-sortable identifiers for journal, ticket,
// fragment, and connection entities.
package idgen

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	mu  sync.Mutex
	src = ulid.Monotonic(rand.Reader, 0)
)

// New returns a new ULID for the current time. Monotonic within a process:
// two calls in the same millisecond still sort in call order.
func New() string {
	return NewAt(time.Now())
}

// NewAt returns a new ULID for a specific timestamp, for tests that need
// deterministic-but-ordered ids.
func NewAt(t time.Time) string {
	mu.Lock()
	defer mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), src).String()
}

// Time extracts the embedded timestamp from an id produced by this package.
func Time(id string) (time.Time, error) {
	parsed, err := ulid.Parse(id)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}
