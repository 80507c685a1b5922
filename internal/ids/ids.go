package ids

import (
	"crypto/rand"
	"encoding/hex"
)

// New returns a 32-character random hex identifier.
func New() string {
	return random(16)
}

// NewToken returns a 64-character random hex token. Lease tokens use the
// longer form so that holding a token is proof of ownership.
func NewToken() string {
	return random(32)
}

func random(size int) string {
	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	return hex.EncodeToString(buf)
}
