package digest

import (
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/blake2b"

	"collabdraft-server/internal/domain"
)

// Content returns the blake2b-256 hex digest of a content string.
func Content(content string) string {
	sum := blake2b.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// Batch digests a change batch for flush audit logging: each change's
// identity and splice parameters feed the hash in order, so the digest also
// witnesses batch ordering.
func Batch(changes []*domain.DocumentChange) string {
	h, _ := blake2b.New256(nil)
	for _, ch := range changes {
		fmt.Fprintf(h, "%s|%s|%d|%d|%s\n", ch.ID, ch.Kind, ch.Position, ch.Length, ch.Content)
	}
	return hex.EncodeToString(h.Sum(nil))
}
