// Package forward numbers journal batches, keeps the replay history and
// pushes each batch to the registered remote listeners.
//
// Numbering and queueing happen under the document lock (Prepare, Queue);
// delivery happens after the lock is released (Flush), so a slow listener
// never blocks other users of the document. Flush sends queued batches one
// at a time in queue order, so listeners see generations in sequence even
// when several edits finish concurrently. A listener that fails or times
// out is dropped; the local edit has already committed and is not undone.
package forward

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/stagehand/internal/fault"
	"github.com/roach88/stagehand/internal/journal"
)

// DefaultTimeout bounds a single delivery attempt.
const DefaultTimeout = 5 * time.Second

// Listener receives forwarded batches.
type Listener interface {
	// Name identifies the listener in logs and listings.
	Name() string

	// Deliver hands over one batch. wantState asks this listener to also
	// start reporting playback state back to the document.
	Deliver(ctx context.Context, batch journal.Batch, wantState bool) error
}

// HistorySink persists batches. Failures are logged and otherwise ignored.
type HistorySink interface {
	SaveBatch(ctx context.Context, batch journal.Batch) error
}

// Forwarder owns the generation counter, the history and the listener set
// of one document.
//
// Thread-safety: all methods are safe for concurrent use.
type Forwarder struct {
	mu         sync.Mutex
	generation int64
	history    []journal.Batch
	listeners  []Listener
	timeout    time.Duration
	sink       HistorySink
	queue      []queued

	// sending is held while batches are handed to listeners.
	sending sync.Mutex
}

type queued struct {
	batch     journal.Batch
	wantState bool
}

// New creates a forwarder starting at generation 0.
func New(timeout time.Duration) *Forwarder {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Forwarder{timeout: timeout}
}

// SetSink installs (or with nil removes) the history sink.
func (f *Forwarder) SetSink(sink HistorySink) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sink = sink
}

// Generation returns the generation of the last forwarded batch.
func (f *Forwarder) Generation() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.generation
}

// Reset sets the generation and forgets the history, for a freshly loaded
// document.
func (f *Forwarder) Reset(generation int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.generation = generation
	f.history = nil
	f.queue = nil
}

// Prepare numbers a command list. An empty list leaves the generation and
// history alone and returns ok=false; otherwise the batch gets the next
// generation and is appended to the history.
func (f *Forwarder) Prepare(cmds []journal.Command) (journal.Batch, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(cmds) == 0 {
		return journal.Batch{Generation: f.generation}, false
	}
	f.generation++
	b := journal.Batch{Generation: f.generation, Operations: cmds}
	f.history = append(f.history, b)
	return b, true
}

// PrepareAt is Prepare for a replica: the batch keeps the generation the
// primary assigned.
func (f *Forwarder) PrepareAt(generation int64, cmds []journal.Command) journal.Batch {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.generation = generation
	b := journal.Batch{Generation: generation, Operations: cmds}
	if len(cmds) > 0 {
		f.history = append(f.history, b)
	}
	return b
}

// History returns the batches from index from onwards.
func (f *Forwarder) History(from int) []journal.Batch {
	f.mu.Lock()
	defer f.mu.Unlock()
	if from < 0 {
		from = 0
	}
	if from >= len(f.history) {
		return []journal.Batch{}
	}
	out := make([]journal.Batch, len(f.history)-from)
	copy(out, f.history[from:])
	return out
}

// AddListener registers l. Registering the same listener twice is a no-op.
func (f *Forwarder) AddListener(l Listener) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.listeners {
		if existing == l {
			return
		}
	}
	f.listeners = append(f.listeners, l)
}

// RemoveListener unregisters l.
func (f *Forwarder) RemoveListener(l Listener) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removeLocked(l)
}

func (f *Forwarder) removeLocked(l Listener) {
	for i, existing := range f.listeners {
		if existing == l {
			f.listeners = append(f.listeners[:i], f.listeners[i+1:]...)
			return
		}
	}
}

// HasListeners reports whether any listener is registered.
func (f *Forwarder) HasListeners() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.listeners) > 0
}

// Listeners returns the names of the registered listeners.
func (f *Forwarder) Listeners() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, len(f.listeners))
	for i, l := range f.listeners {
		names[i] = l.Name()
	}
	return names
}

// Queue appends a batch to the delivery queue. Call it under the same lock
// that numbered the batch so the queue stays in generation order.
func (f *Forwarder) Queue(batch journal.Batch, wantState bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queue = append(f.queue, queued{batch: batch, wantState: wantState})
}

// Deliver queues the batch and flushes the queue.
//
// Must not be called with the document lock held.
func (f *Forwarder) Deliver(ctx context.Context, batch journal.Batch, wantState bool) int {
	f.Queue(batch, wantState)
	return f.Flush(ctx)
}

// Flush hands every queued batch, oldest first, to the listeners. A caller
// that finds another flush in progress waits for it. When Flush returns,
// every batch queued before the call has been sent. It returns the number
// of successful deliveries made by this call.
//
// Must not be called with the document lock held.
func (f *Forwarder) Flush(ctx context.Context) int {
	f.sending.Lock()
	defer f.sending.Unlock()

	delivered := 0
	for {
		f.mu.Lock()
		if len(f.queue) == 0 {
			f.mu.Unlock()
			return delivered
		}
		next := f.queue[0]
		f.queue = f.queue[1:]
		f.mu.Unlock()

		delivered += f.send(ctx, next.batch, next.wantState)
	}
}

// send persists the batch (best effort) and pushes it to every listener,
// one at a time. When wantState is set, the first listener that accepts the
// batch is the one asked for state. Listeners that fail are removed.
func (f *Forwarder) send(ctx context.Context, batch journal.Batch, wantState bool) int {
	f.mu.Lock()
	listeners := make([]Listener, len(f.listeners))
	copy(listeners, f.listeners)
	sink := f.sink
	timeout := f.timeout
	f.mu.Unlock()

	if sink != nil {
		if err := sink.SaveBatch(ctx, batch); err != nil {
			slog.Warn("failed to persist batch", "generation", batch.Generation, "error", err)
		}
	}

	delivered := 0
	for _, l := range listeners {
		dctx, cancel := context.WithTimeout(ctx, timeout)
		err := l.Deliver(dctx, batch, wantState)
		cancel()
		if err != nil {
			slog.Warn("dropping listener after failed delivery",
				"listener", l.Name(),
				"generation", batch.Generation,
				"error", fault.Delivery(l.Name(), err))
			f.RemoveListener(l)
			continue
		}
		delivered++
		wantState = false
	}
	return delivered
}
