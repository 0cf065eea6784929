// Package ticket implements the Ticketed Mutation Guard's Ticket Authority
// (SPEC_FULL.md §4.5): issuing, verifying, and expiring HMAC-bound mutation
// tickets, and stamping/verifying the patches those tickets authorize.
// Grounded on internal/cxdb/kilroy_registry.go's content-addressing
// pattern (hash a canonical bundle to an ID), generalized here from
// "hash a bundle for an ID" to "HMAC a patch for a ticket". crypto/hmac and
// crypto/sha256 are mandated verbatim by SPEC_FULL.md §4.5's stamp formula,
// so they are stdlib by requirement rather than a missed opportunity (see
// DESIGN.md).
package ticket

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"sync"
	"time"

	"github.com/arbiterlabs/specd/internal/idgen"
	"github.com/arbiterlabs/specd/internal/model"
	"github.com/arbiterlabs/specd/internal/specerr"
)

// Authority issues and verifies tickets and stamped patches. Its ticket
// store is a concurrent map with TTL (SPEC_FULL.md §5): reads take a
// read-lock, and an expired ticket is evicted opportunistically when it is
// looked up. EvictExpired sweeps all expired tickets on demand; nothing in
// this package calls it on a schedule.
type Authority struct {
	serverKey []byte

	mu      sync.RWMutex
	tickets map[string]model.Ticket
	revoked map[string]struct{}
}

// GenerateServerKey produces a fresh 256-bit HMAC key, used when no
// serverKey is configured at startup (SPEC_FULL.md §4.5: "if not provided
// ... the system generates one and logs a warning").
func GenerateServerKey() ([]byte, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	return key, nil
}

// New constructs an Authority with the given 256-bit server key.
func New(serverKey []byte) *Authority {
	return &Authority{
		serverKey: serverKey,
		tickets:   make(map[string]model.Ticket),
		revoked:   make(map[string]struct{}),
	}
}

// Issue creates and stores a new Ticket, capping ttl at 24h per SPEC_FULL.md
// §4.5.
func (a *Authority) Issue(planHash, repoSHA string, scopes []model.TicketScope, ttl time.Duration) model.Ticket {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	if ttl > 24*time.Hour {
		ttl = 24 * time.Hour
	}
	now := time.Now()
	t := model.Ticket{
		TicketID:  idgen.New(),
		PlanHash:  planHash,
		RepoSHA:   repoSHA,
		Scopes:    scopes,
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
	}
	a.mu.Lock()
	a.tickets[t.TicketID] = t
	a.mu.Unlock()
	return t
}

// Revoke immediately invalidates a ticket regardless of its expiry.
func (a *Authority) Revoke(ticketID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.revoked[ticketID] = struct{}{}
}

// EvictExpired drops every ticket whose ExpiresAt has passed, returning how
// many were removed. It complements the eager eviction Verify and
// VerifyStamp do for the ticket they look up.
func (a *Authority) EvictExpired() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	now := time.Now()
	n := 0
	for id, t := range a.tickets {
		if now.After(t.ExpiresAt) {
			delete(a.tickets, id)
			delete(a.revoked, id)
			n++
		}
	}
	return n
}

// lookup returns the ticket if it exists, is unrevoked, and unexpired; it
// evicts the ticket eagerly if found but expired.
func (a *Authority) lookup(ticketID string) (model.Ticket, string) {
	a.mu.RLock()
	t, ok := a.tickets[ticketID]
	_, revoked := a.revoked[ticketID]
	a.mu.RUnlock()

	if !ok {
		return model.Ticket{}, "not-found"
	}
	if revoked {
		return model.Ticket{}, "revoked"
	}
	if time.Now().After(t.ExpiresAt) {
		a.mu.Lock()
		delete(a.tickets, ticketID)
		a.mu.Unlock()
		return model.Ticket{}, "expired"
	}
	return t, ""
}

// Verify checks that ticketID exists, is unexpired and unrevoked, and was
// issued for planHash.
func (a *Authority) Verify(ticketID, planHash string) (ok bool, reason string) {
	t, reason := a.lookup(ticketID)
	if reason != "" {
		return false, reason
	}
	if t.PlanHash != planHash {
		return false, "plan-hash-mismatch"
	}
	return true, ""
}

// HasScope reports whether ticketID (assumed already verified) carries
// scope.
func (a *Authority) HasScope(ticketID string, scope model.TicketScope) bool {
	a.mu.RLock()
	t, ok := a.tickets[ticketID]
	a.mu.RUnlock()
	if !ok {
		return false
	}
	for _, s := range t.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// computeStamp implements SPEC_FULL.md §4.5's
// HMAC-SHA256(serverKey, repoSHA ":" planHash ":" ticketID ":" content).
func (a *Authority) computeStamp(ticketID, repoSHA, planHash, content string) []byte {
	mac := hmac.New(sha256.New, a.serverKey)
	mac.Write([]byte(repoSHA))
	mac.Write([]byte(":"))
	mac.Write([]byte(planHash))
	mac.Write([]byte(":"))
	mac.Write([]byte(ticketID))
	mac.Write([]byte(":"))
	mac.Write([]byte(content))
	return mac.Sum(nil)
}

// Stamp produces the base64-encoded HMAC tag binding content to ticketID,
// repoSHA, and planHash. It does not itself verify the ticket; callers
// should Verify first.
func (a *Authority) Stamp(ticketID, repoSHA, planHash, content string) string {
	return base64.StdEncoding.EncodeToString(a.computeStamp(ticketID, repoSHA, planHash, content))
}

// VerifyStamp recomputes the HMAC and compares it to stamp in constant
// time, also checking the ticket itself is unexpired and unrevoked.
func (a *Authority) VerifyStamp(stamp, ticketID, repoSHA, planHash, content string) (ok bool, reason string) {
	if _, reason := a.lookup(ticketID); reason != "" {
		return false, reason
	}
	decoded, err := base64.StdEncoding.DecodeString(stamp)
	if err != nil {
		return false, "malformed-stamp"
	}
	expected := a.computeStamp(ticketID, repoSHA, planHash, content)
	if subtle.ConstantTimeCompare(decoded, expected) != 1 {
		return false, "hmac-mismatch"
	}
	return true, ""
}

// CreateStampedPatch builds a StampedPatch for ticketID, failing with a
// ticket.invalid error (SPEC_FULL.md §7) if the ticket can't be verified
// against planHash.
func (a *Authority) CreateStampedPatch(ticketID, repoSHA, planHash, filePath string, op model.PatchOperation, content string) (model.StampedPatch, error) {
	if ok, reason := a.Verify(ticketID, planHash); !ok {
		return model.StampedPatch{}, specerr.New(specerr.KindTicketInvalid, reason)
	}
	return model.StampedPatch{
		PatchID:   idgen.New(),
		TicketID:  ticketID,
		FilePath:  filePath,
		Operation: op,
		Content:   content,
		Stamp:     a.Stamp(ticketID, repoSHA, planHash, content),
	}, nil
}

// VerifyStampedPatch recomputes and checks p.Stamp against the given
// repoSHA/planHash/content triple bound into p.
func (a *Authority) VerifyStampedPatch(p model.StampedPatch, repoSHA, planHash string) (ok bool, reason string) {
	return a.VerifyStamp(p.Stamp, p.TicketID, repoSHA, planHash, p.Content)
}
