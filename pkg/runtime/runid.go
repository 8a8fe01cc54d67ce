package runtime

import (
	"crypto/rand"
	"fmt"
	"time"
)

// GenerateRunID returns a sortable, collision-resistant run identifier,
// e.g. "20260830T142501-9f3a1c2e".
func GenerateRunID() string {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand is documented never to fail on supported platforms.
		panic(fmt.Sprintf("reading random bytes: %v", err))
	}
	return fmt.Sprintf("%s-%x", time.Now().UTC().Format("20060102T150405"), b)
}
