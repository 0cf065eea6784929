package specengine

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/zeebo/blake3"
)

// specHash computes the SHA-256 of the canonical JSON projection of
// resolved, per SPEC_FULL.md §4.3 step 4, which names SHA-256 explicitly —
// this is the one place in the engine that is stdlib crypto/sha256 by
// requirement, not by omission (see DESIGN.md).
//
// encoding/json.Marshal already sorts map keys, which is what makes this
// reproducible across invocations on byte-identical inputs: re-marshaling
// the same decoded document always produces the same bytes regardless of
// the original key order in the projector's stdout.
func specHash(resolved any) (string, []byte, error) {
	canonical, err := json.Marshal(resolved)
	if err != nil {
		return "", nil, err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), canonical, nil
}

// fragmentContentHash is an internal fast-hash fingerprint distinct from
// specHash (SPEC_FULL.md §3's SUPPLEMENTED Fragment.contentHash). The
// engine's pipeline does not call it: materialize compares file contents
// directly and validation always runs. Grounded on internal/attractor/engine/cxdb_sink.go's own use
// of blake3.New() for content-addressing artifact blobs.
func fragmentContentHash(content string) string {
	h := blake3.New()
	_, _ = h.Write([]byte(content))
	return hex.EncodeToString(h.Sum(nil))
}
