package assembler

import (
	"sync"
	"unicode/utf8"
)

// Tracker bounds how much rendered text a context may hold.
type Tracker interface {
	Remaining() int
	CanAdd(text string) bool
	RecordUsage(input, output string)
}

// CharTracker counts runes against a fixed capacity.
type CharTracker struct {
	mu       sync.Mutex
	capacity int
	used     int
}

func NewCharTracker(capacity int) *CharTracker {
	return &CharTracker{capacity: capacity}
}

// NewTokenTracker sizes a CharTracker for a token budget at roughly four
// characters per token.
func NewTokenTracker(tokens int) *CharTracker {
	return NewCharTracker(tokens * 4)
}

func (t *CharTracker) Remaining() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.capacity - t.used
}

func (t *CharTracker) CanAdd(text string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.used+utf8.RuneCountInString(text) <= t.capacity
}

func (t *CharTracker) RecordUsage(input, output string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.used += utf8.RuneCountInString(input) + utf8.RuneCountInString(output)
}

// Used returns the charged size so far.
func (t *CharTracker) Used() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.used
}
