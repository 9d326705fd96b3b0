package clock

import (
	"sync"
	"time"
)

// Source is the underlying time source a Clock is based on.
type Source interface {
	// Now returns the current time of the source.
	Now() time.Duration

	// Sleep blocks (or advances, for simulated sources) for d.
	Sleep(d time.Duration)

	// Rate returns how fast the source runs relative to wall-clock time.
	Rate() float64
}

// SystemSource reads the wall clock. Now is the time since the Unix epoch.
type SystemSource struct{}

// Now returns the wall-clock time since the Unix epoch.
func (SystemSource) Now() time.Duration {
	return time.Duration(time.Now().UnixNano())
}

// Sleep blocks for d.
func (SystemSource) Sleep(d time.Duration) {
	time.Sleep(d)
}

// Rate returns 1.
func (SystemSource) Rate() float64 {
	return 1.0
}

// FastSource is a simulated source that only moves when Sleep or Advance is
// called. Sleeping returns immediately.
//
// Thread-safety: all methods are safe for concurrent use.
type FastSource struct {
	mu  sync.Mutex
	now time.Duration
}

// NewFastSource creates a simulated source starting at 0.
func NewFastSource() *FastSource {
	return &FastSource{}
}

// Now returns the simulated time.
func (s *FastSource) Now() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// Sleep advances the simulated time by d without blocking.
func (s *FastSource) Sleep(d time.Duration) {
	s.Advance(d)
}

// Advance moves the simulated time forward by d.
func (s *FastSource) Advance(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now += d
}

// Rate returns 1.
func (s *FastSource) Rate() float64 {
	return 1.0
}
