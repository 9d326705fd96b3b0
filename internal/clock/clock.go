// Package clock implements the pausable document clock and its deferred
// callback scheduler.
//
// A Clock is either stopped or running. A stopped clock reports a frozen
// time; a running clock reports the source time minus an epoch. Start and
// Stop rebase the epoch so elapsed time is continuous across transitions.
//
// The underlying source can be swapped out temporarily (ReplaceSource) to
// preview at a hypothetical rate. RestoreSource computes how far time moved
// on the replacement and can fold that drift back out again.
//
// Callbacks are kept in a min-heap keyed on (fire time, sequence number), so
// callbacks scheduled for the same time run in the order they were scheduled.
package clock

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"
)

// Never is returned by NextEventTime when nothing is scheduled. It compares
// greater than every finite time, so callers can treat it as an infinite wait.
const Never time.Duration = math.MaxInt64

var (
	// ErrAlreadyReplaced is returned when ReplaceSource is called twice
	// without an intervening RestoreSource.
	ErrAlreadyReplaced = errors.New("clock source already replaced")

	// ErrNotReplaced is returned by RestoreSource when no replacement is active.
	ErrNotReplaced = errors.New("clock source not replaced")

	// ErrNoEvents is returned by SleepUntilNextEvent on an empty schedule.
	ErrNoEvents = errors.New("no events are scheduled")
)

// Clock is a pausable, rebasable clock with a deferred-callback queue.
//
// Thread-safety: all methods are safe for concurrent use. Callbacks are
// dispatched without the clock lock held.
type Clock struct {
	mu sync.Mutex

	epoch   time.Duration
	running bool

	source          Source
	original        Source
	replacementTime time.Duration

	queue        entryHeap
	seq          Sequence
	queueChanged func()
}

// New creates a stopped clock at time 0 on the given source.
func New(source Source) *Clock {
	return &Clock{source: source, original: source}
}

// NewRunning creates a clock at time 0 that is already running.
func NewRunning(source Source) *Clock {
	c := New(source)
	c.Start()
	return c
}

// Now returns the current time of the clock.
func (c *Clock) Now() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now()
}

func (c *Clock) now() time.Duration {
	if !c.running {
		return c.epoch
	}
	return c.source.Now() - c.epoch
}

// Running reports whether the clock is running.
func (c *Clock) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// OffsetFromSource returns how far the clock is ahead of its source.
func (c *Clock) OffsetFromSource() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return -c.epoch
	}
	return c.epoch - c.source.Now()
}

// Start sets the clock running from its current time. No-op if running.
func (c *Clock) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.start()
}

func (c *Clock) start() {
	if !c.running {
		c.epoch = c.source.Now() - c.epoch
		c.running = true
	}
}

// Stop freezes the clock at its current time. No-op if stopped.
func (c *Clock) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stop()
}

func (c *Clock) stop() {
	if c.running {
		c.epoch = c.source.Now() - c.epoch
		c.running = false
	}
}

// Rate returns the source rate while running and 0 while stopped.
func (c *Clock) Rate() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return c.source.Rate()
	}
	return 0.0
}

// Set moves the clock to now, keeping its running state.
func (c *Clock) Set(now time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	wasRunning := c.running
	c.stop()
	c.epoch = now
	if wasRunning {
		c.start()
	}
}

// Adjust shifts the clock by delta. Every scheduled callback moves with it,
// so the remaining delay of each callback is unchanged.
func (c *Clock) Adjust(delta time.Duration) {
	c.mu.Lock()
	wasRunning := c.running
	c.stop()
	c.adjust(delta)
	if wasRunning {
		c.start()
	}
	c.mu.Unlock()
	c.notifyQueueChanged()
}

// adjust must be called with the clock stopped and the lock held.
func (c *Clock) adjust(delta time.Duration) {
	entries := c.queue.drain()
	c.epoch += delta
	for _, e := range entries {
		e.at += delta
		c.queue.push(e)
	}
}

// ReplaceSource temporarily runs the clock on a different source. The
// clock's current time is kept.
func (c *Clock) ReplaceSource(source Source) error {
	if source == nil {
		return errors.New("replacement source is nil")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.source != c.original {
		return ErrAlreadyReplaced
	}
	wasRunning := c.running
	c.stop()
	c.source = source
	c.replacementTime = c.now()
	if wasRunning {
		c.start()
	}
	return nil
}

// RestoreSource switches back to the original source. It returns the
// adjustment that would undo the time that passed on the replacement; when
// apply is true the adjustment is folded into the clock (and its schedule),
// discarding that time.
func (c *Clock) RestoreSource(apply bool) (time.Duration, error) {
	c.mu.Lock()
	if c.source == c.original {
		c.mu.Unlock()
		return 0, ErrNotReplaced
	}
	wasRunning := c.running
	c.stop()
	adjustment := c.replacementTime - c.now()
	if apply {
		c.adjust(adjustment)
	}
	c.source = c.original
	if wasRunning {
		c.start()
	}
	c.mu.Unlock()
	if apply {
		c.notifyQueueChanged()
	}
	return adjustment, nil
}

// Dump returns a one-line description of the clock and its schedule.
func (c *Clock) Dump() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	state := "stopped"
	if c.running {
		state = "running"
	}
	rv := fmt.Sprintf("%s at %s, %d events", state, c.now(), c.queue.Len())
	if c.queue.Len() > 0 {
		rv += fmt.Sprintf(", next in %s", c.queue.peek().at-c.now())
	}
	return rv
}

// Seconds converts a clock time to fractional seconds.
func Seconds(d time.Duration) float64 {
	return d.Seconds()
}

// FromSeconds converts fractional seconds to a clock time.
func FromSeconds(s float64) time.Duration {
	return time.Duration(math.Round(s * float64(time.Second)))
}
