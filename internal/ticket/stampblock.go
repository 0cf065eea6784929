package ticket

import "regexp"

// StampBlock is one `ARBITER:BEGIN <patchId> stamp=<base64>` ...
// `ARBITER:END <patchId>` block extracted from a text file (SPEC_FULL.md
// §6's embedded stamp-block grammar).
type StampBlock struct {
	PatchID string
	Stamp   string
	Content string
}

// beginRe and endRe are matched independently (rather than a single
// multi-line regex) so ExtractStampBlocks tolerates arbitrary surrounding
// text and more than one block per file, per SPEC_FULL.md §8's multi-block
// testable property.
var (
	beginRe = regexp.MustCompile(`(?m)^ARBITER:BEGIN (\S+) stamp=(\S+)\s*$`)
	endRe   = regexp.MustCompile(`(?m)^ARBITER:END (\S+)\s*$`)
)

// ExtractStampBlocks scans text for ARBITER:BEGIN/END pairs, returning one
// StampBlock per well-formed pair in order of appearance. A BEGIN with no
// matching END (by patchId) for it is skipped — its content never got
// closed off, so it can't be a valid patch.
func ExtractStampBlocks(text string) []StampBlock {
	begins := beginRe.FindAllStringSubmatchIndex(text, -1)
	ends := endRe.FindAllStringSubmatchIndex(text, -1)

	var blocks []StampBlock
	for _, b := range begins {
		patchID := text[b[2]:b[3]]
		stamp := text[b[4]:b[5]]
		contentStart := b[1]
		if contentStart < len(text) && text[contentStart] == '\n' {
			contentStart++
		}

		for _, e := range ends {
			if e[0] < contentStart {
				continue
			}
			endPatchID := text[e[2]:e[3]]
			if endPatchID != patchID {
				continue
			}
			content := text[contentStart:e[0]]
			if len(content) > 0 && content[len(content)-1] == '\n' {
				content = content[:len(content)-1]
			}
			blocks = append(blocks, StampBlock{PatchID: patchID, Stamp: stamp, Content: content})
			break
		}
	}
	return blocks
}
