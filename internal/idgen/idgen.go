// Package idgen generates the random identifiers used across the service
// (sess_, alr_, red_, ach_ and friends).
package idgen

import (
	"crypto/rand"
	"encoding/hex"
)

const randomBytes = 12

// WithPrefix returns prefix + 24 lowercase hex characters of crypto/rand
// entropy. IDs are opaque; ordering and uniqueness guarantees come from the
// stores, not from the ID itself.
func WithPrefix(prefix string) string {
	b := make([]byte, randomBytes)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand failing means the host is broken; IDs minted from a
		// degraded source would silently collide.
		panic("idgen: crypto/rand failed: " + err.Error())
	}
	return prefix + hex.EncodeToString(b)
}
