package clock

import (
	"container/heap"
	"log/slog"
	"time"
)

// lateWarning is how late a callback may fire before it is reported.
const lateWarning = 100 * time.Millisecond

// Dispatcher runs callbacks that have become due.
type Dispatcher interface {
	Dispatch(fn func())
}

// DispatchFunc adapts a function to the Dispatcher interface.
type DispatchFunc func(fn func())

// Dispatch calls f(fn).
func (f DispatchFunc) Dispatch(fn func()) {
	f(fn)
}

// Immediate runs every callback synchronously on the calling goroutine.
var Immediate Dispatcher = DispatchFunc(func(fn func()) { fn() })

type entry struct {
	at  time.Duration
	seq int64
	fn  func()
}

// entryHeap orders entries by (at, seq).
type entryHeap []*entry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	if h[i].at != h[j].at {
		return h[i].at < h[j].at
	}
	return h[i].seq < h[j].seq
}

func (h entryHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *entryHeap) Push(x any) { *h = append(*h, x.(*entry)) }

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

func (h *entryHeap) push(e *entry) { heap.Push(h, e) }

func (h *entryHeap) pop() *entry { return heap.Pop(h).(*entry) }

func (h entryHeap) peek() *entry { return h[0] }

// drain empties the heap and returns its entries in no particular order.
func (h *entryHeap) drain() []*entry {
	entries := *h
	*h = nil
	return entries
}

// SetQueueChanged registers a callback invoked (without the clock lock held)
// whenever the earliest scheduled time may have changed. A scheduling loop
// uses it to wake up and recompute its sleep.
func (c *Clock) SetQueueChanged(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queueChanged = fn
}

func (c *Clock) notifyQueueChanged() {
	c.mu.Lock()
	fn := c.queueChanged
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Schedule runs fn after delay, measured on this clock.
func (c *Clock) Schedule(delay time.Duration, fn func()) {
	c.mu.Lock()
	at := c.now() + delay
	c.queue.push(&entry{at: at, seq: c.seq.Next(), fn: fn})
	c.mu.Unlock()
	c.notifyQueueChanged()
}

// ScheduleAt runs fn when the clock reaches at.
func (c *Clock) ScheduleAt(at time.Duration, fn func()) {
	c.mu.Lock()
	c.queue.push(&entry{at: at, seq: c.seq.Next(), fn: fn})
	c.mu.Unlock()
	c.notifyQueueChanged()
}

// Len returns the number of scheduled callbacks.
func (c *Clock) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queue.Len()
}

// NextEventTime returns the delay until the earliest scheduled callback, or
// Never if nothing is scheduled. The delay is negative for overdue callbacks.
// It is reported whether or not the clock is running; a stopped clock does
// not get any closer to it.
func (c *Clock) NextEventTime() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.queue.Len() == 0 {
		return Never
	}
	return c.queue.peek().at - c.now()
}

// SleepUntilNextEvent sleeps on the underlying source until the earliest
// callback is due. It is for single-consumer cooperative loops only.
// It returns ErrNoEvents when nothing is scheduled, and false without
// sleeping when the clock is stopped.
func (c *Clock) SleepUntilNextEvent() (bool, error) {
	c.mu.Lock()
	if c.queue.Len() == 0 {
		c.mu.Unlock()
		return false, ErrNoEvents
	}
	if !c.running {
		c.mu.Unlock()
		return false, nil
	}
	delta := c.queue.peek().at - c.now()
	source := c.source
	c.mu.Unlock()
	if delta > 0 {
		source.Sleep(delta)
	}
	return true, nil
}

// HandleEvents dispatches every callback whose time has come, in (time,
// scheduling order) order. Callbacks run without the clock lock held, so they
// may schedule further callbacks. It returns the number dispatched.
func (c *Clock) HandleEvents(d Dispatcher) int {
	c.mu.Lock()
	now := c.now()
	var due []*entry
	for c.queue.Len() > 0 && c.queue.peek().at <= now {
		due = append(due, c.queue.pop())
	}
	c.mu.Unlock()

	for _, e := range due {
		if late := now - e.at; late > lateWarning {
			slog.Warn("scheduled callback fired late", "late", late)
		}
		d.Dispatch(e.fn)
	}
	return len(due)
}

// Flush dispatches every scheduled callback regardless of its time and
// returns how many ran.
func (c *Clock) Flush(d Dispatcher) int {
	c.mu.Lock()
	var all []*entry
	for c.queue.Len() > 0 {
		all = append(all, c.queue.pop())
	}
	c.mu.Unlock()
	for _, e := range all {
		d.Dispatch(e.fn)
	}
	return len(all)
}
