package clock

import "sync/atomic"

// Sequence is a monotonic counter used to order entries that share a fire
// time. Values come from the counter, never from the wall clock.
//
// Thread-safety: Sequence is safe for concurrent use (atomic operations).
type Sequence struct {
	seq atomic.Int64
}

// NewSequenceAt creates a sequence whose next value is start+1.
func NewSequenceAt(start int64) *Sequence {
	s := &Sequence{}
	s.seq.Store(start)
	return s
}

// Next returns the next value and advances the counter.
// Each call returns a unique, increasing value.
func (s *Sequence) Next() int64 {
	return s.seq.Add(1)
}

// Current returns the last value handed out without advancing.
func (s *Sequence) Current() int64 {
	return s.seq.Load()
}
