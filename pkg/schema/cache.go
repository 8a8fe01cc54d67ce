package schema

import (
	"crypto/sha256"
	"fmt"
	"os"
	"sync"
)

// Cache holds validated scenario documents keyed by content fingerprint.
// Entries are never evicted within a run, so a scenario invoked repeatedly
// (loops, nested invocations) is parsed and validated exactly once per
// content revision. A file whose content changes between loads gets a new
// fingerprint and is re-validated.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*Document
}

// NewCache creates an empty scenario cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[string]*Document)}
}

// Fingerprint returns the sha256 content fingerprint of a scenario file.
func Fingerprint(data []byte) string {
	return fmt.Sprintf("%x", sha256.Sum256(data))
}

// Load returns the validated document for path, parsing and validating on
// first sight of the file's current content. Validation errors are returned
// as-is; a document that fails validation is not cached.
func (c *Cache) Load(path string) (*Document, []*ValidationError) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, []*ValidationError{{
			Phase:    "structural",
			Path:     "",
			Message:  fmt.Sprintf("read scenario: %v", err),
			Severity: "error",
		}}
	}
	fp := Fingerprint(data)

	c.mu.Lock()
	if doc, ok := c.entries[fp]; ok {
		c.mu.Unlock()
		return doc, nil
	}
	c.mu.Unlock()

	doc, errs := ValidateFile(path)
	if HasBlocking(errs) {
		return doc, errs
	}

	c.mu.Lock()
	c.entries[fp] = doc
	c.mu.Unlock()
	return doc, errs
}

// Len reports the number of cached documents.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
