package testutil

import (
	"fmt"
	"sync"
)

// SequentialIDs hands out predictable document identifiers
// ("doc-00000001", "doc-00000002", ...) in place of random UUIDs.
//
// This keeps registry listings and golden files stable across runs.
//
// Thread-safety: all methods are safe for concurrent use via internal mutex.
type SequentialIDs struct {
	mu     sync.Mutex
	prefix string
	seq    int64
}

// NewSequentialIDs creates a generator. An empty prefix means "doc".
func NewSequentialIDs(prefix string) *SequentialIDs {
	if prefix == "" {
		prefix = "doc"
	}
	return &SequentialIDs{prefix: prefix}
}

// NewID returns the next identifier.
func (g *SequentialIDs) NewID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	return fmt.Sprintf("%s-%08d", g.prefix, g.seq)
}

// Reset restarts the sequence, so the next NewID returns the first value again.
func (g *SequentialIDs) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq = 0
}
