package testutil

import (
	"fmt"
	"sync"
)

// SequentialKeys generates predictable string keys ("<prefix>-0001", ...)
// in place of random UUIDs, so golden files stay byte-identical.
//
// Thread-safety: Generate is safe for concurrent use.
type SequentialKeys struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequentialKeys creates a generator. An empty prefix uses "key".
func NewSequentialKeys(prefix string) *SequentialKeys {
	if prefix == "" {
		prefix = "key"
	}
	return &SequentialKeys{prefix: prefix}
}

// Generate returns the next key.
func (g *SequentialKeys) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%04d", g.prefix, g.n)
}
