package pubsub

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/stagehand/internal/events"
	"github.com/roach88/stagehand/internal/fault"
)

// StateUpdate is a playback state report for one document.
type StateUpdate struct {
	Document string
	States   map[string]events.ElementState
}

// StateHandler applies state reports. Implemented by document.Registry.
type StateHandler interface {
	SetDocumentState(ctx context.Context, documentID string, states map[string]events.ElementState) error
}

// DefaultRetryDelay is how long the inbox waits before retrying an update
// that hit an edit in progress.
const DefaultRetryDelay = 50 * time.Millisecond

// Inbox is a thread-safe FIFO of inbound state updates, drained by a single
// Run loop.
//
// The queue is unbounded so that the websocket read loops never block on a
// busy document.
type Inbox struct {
	mu      sync.Mutex
	updates []StateUpdate
	closed  bool
	signal  chan struct{} // buffered, size 1

	retryDelay time.Duration
}

// NewInbox creates an empty inbox.
func NewInbox() *Inbox {
	return &Inbox{
		signal:     make(chan struct{}, 1),
		retryDelay: DefaultRetryDelay,
	}
}

// Enqueue adds an update. It returns false once the inbox is closed.
// Thread-safe: may be called from any goroutine.
func (q *Inbox) Enqueue(u StateUpdate) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.updates = append(q.updates, u)
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue removes the front update without blocking.
func (q *Inbox) TryDequeue() (StateUpdate, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.updates) == 0 {
		return StateUpdate{}, false
	}
	u := q.updates[0]
	q.updates[0] = StateUpdate{}
	if len(q.updates) == 1 {
		q.updates = q.updates[:0]
	} else {
		q.updates = q.updates[1:]
	}
	return u, true
}

// Len returns the number of queued updates.
func (q *Inbox) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.updates)
}

// Close stops accepting updates and wakes the Run loop.
func (q *Inbox) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}

// Run hands queued updates to h until ctx is cancelled or the inbox is
// closed and drained. An update that meets an edit in progress is retried
// after a short delay; any other failure is logged and the update dropped.
// Must be called from exactly one goroutine.
func (q *Inbox) Run(ctx context.Context, h StateHandler) error {
	for {
		u, ok := q.TryDequeue()
		if ok {
			if err := q.handle(ctx, h, u); err != nil {
				return err
			}
			continue
		}

		select {
		case <-ctx.Done():
			q.Close()
			return ctx.Err()
		case <-q.signal:
			q.mu.Lock()
			done := q.closed && len(q.updates) == 0
			q.mu.Unlock()
			if done {
				return nil
			}
		}
	}
}

func (q *Inbox) handle(ctx context.Context, h StateHandler, u StateUpdate) error {
	for {
		err := h.SetDocumentState(ctx, u.Document, u.States)
		if err == nil {
			return nil
		}
		if !fault.Is(err, fault.CodeConflictingEdit) {
			slog.Error("state update failed", "document", u.Document, "error", err)
			return nil
		}
		slog.Debug("document busy, retrying state update", "document", u.Document)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(q.retryDelay):
		}
	}
}
