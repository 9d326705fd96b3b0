package journal

import (
	"sync"
	"sync/atomic"

	"github.com/roach88/stagehand/internal/tree"
)

// Journal records the structural changes made to one Store while an edit
// scope is open.
//
// Only one scope can be open at a time. StartListening fails instead of
// blocking when another scope is open; callers surface that as a conflict.
// Commands are only recorded when the scope was opened with record set,
// which the document does when at least one listener is registered.
//
// Thread-safety: StartListening and StopListening are safe for concurrent
// use. The observer callbacks run under the document lock.
type Journal struct {
	store *tree.Store

	open atomic.Bool

	mu        sync.Mutex
	recording bool
	cmds      []Command
}

// New creates a journal and installs it as store's observer.
func New(store *tree.Store) *Journal {
	j := &Journal{store: store}
	store.SetObserver(j)
	return j
}

// Attach moves the journal to a freshly loaded store. Must not be called
// while a scope is recording.
func (j *Journal) Attach(store *tree.Store) {
	j.store.SetObserver(nil)
	j.store = store
	store.SetObserver(j)
}

// StartListening opens an edit scope. It returns false, and changes
// nothing, when a scope is already open.
func (j *Journal) StartListening(record bool) bool {
	if !j.open.CompareAndSwap(false, true) {
		return false
	}
	j.mu.Lock()
	j.recording = record
	j.cmds = nil
	j.mu.Unlock()
	return true
}

// Suspend stops recording and returns what was recorded so far. The scope
// stays open until StopListening, so changes made in between are neither
// recorded nor observed by another scope.
func (j *Journal) Suspend() []Command {
	j.mu.Lock()
	defer j.mu.Unlock()
	cmds := j.cmds
	j.cmds = nil
	j.recording = false
	return cmds
}

// StopListening closes the scope and returns what was recorded (possibly
// nothing).
func (j *Journal) StopListening() []Command {
	j.mu.Lock()
	cmds := j.cmds
	j.cmds = nil
	j.recording = false
	j.mu.Unlock()
	j.open.Store(false)
	return cmds
}

// Listening reports whether a scope is open.
func (j *Journal) Listening() bool {
	return j.open.Load()
}

func (j *Journal) record(c Command) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.recording {
		j.cmds = append(j.cmds, c)
	}
}

func (j *Journal) isRecording() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.recording
}

// Added implements tree.Observer.
func (j *Journal) Added(n *tree.Node) {
	if !j.isRecording() {
		return
	}
	parent := j.store.Parent(n)
	i := parent.IndexOf(n)
	if i > 0 {
		j.record(Add(j.store.PathOf(parent.Children[i-1]), tree.After, tree.Serialize(n)))
		return
	}
	j.record(Add(j.store.PathOf(parent), tree.Begin, tree.Serialize(n)))
}

// Removing implements tree.Observer.
func (j *Journal) Removing(n *tree.Node) {
	if !j.isRecording() {
		return
	}
	j.record(Delete(j.store.PathOf(n)))
}

// Changed implements tree.Observer.
func (j *Journal) Changed(n *tree.Node, textChanged bool) {
	if !j.isRecording() {
		return
	}
	var text *string
	if textChanged {
		t := n.Text
		text = &t
	}
	j.record(Change(j.store.PathOf(n), n.Attrs, text))
}
