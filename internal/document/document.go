// Package document ties the element store, the edit journal, the event
// engine, the clock and the forwarder together into one editable document.
//
// Every public method takes the document lock for its duration. Methods that
// change the tree run inside an edit scope: the journal records what the
// change did, the forwarder numbers the result, and delivery to remote
// listeners happens after the lock is released.
//
// Only one edit scope can be open at a time. A second edit that arrives
// while one is in progress fails with a ConflictingEdit fault instead of
// waiting.
package document

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/roach88/stagehand/internal/clock"
	"github.com/roach88/stagehand/internal/events"
	"github.com/roach88/stagehand/internal/fault"
	"github.com/roach88/stagehand/internal/forward"
	"github.com/roach88/stagehand/internal/journal"
	"github.com/roach88/stagehand/internal/tree"
)

// AttrGeneration is stamped on the root after every forwarded batch.
const AttrGeneration = "tls:generation"

// Publisher broadcasts messages to subscribers of a topic.
type Publisher interface {
	Publish(topic string, payload any) error
}

// Persister stores snapshots and operation history of documents.
type Persister interface {
	SaveBatch(ctx context.Context, documentID string, batch journal.Batch) error
	SaveSnapshot(ctx context.Context, documentID string, xml string, generation int64) error
}

// Services are the external service URLs handed to players.
type Services struct {
	Layout    string
	Websocket string
	Timeline  string
}

// Options configures a Document.
type Options struct {
	// Mode is the playback mode (standalone or tv).
	Mode string

	// BaseURL resolves relative preview URLs in event descriptors.
	BaseURL string

	// ForwardTimeout bounds one delivery to a remote listener.
	ForwardTimeout time.Duration

	// Source drives the document clock. Nil means the wall clock.
	Source clock.Source

	Services  Services
	Publisher Publisher
	Persister Persister
}

// Document is one editable timeline document.
//
// Thread-safety: all methods are safe for concurrent use.
type Document struct {
	id   string
	opts Options

	mu        sync.Mutex
	store     *tree.Store
	journal   *journal.Journal
	events    *events.Engine
	clock     *clock.Clock
	forwarder *forward.Forwarder
	source    string

	broadcastPending bool
	wake             chan struct{}
}

// New creates an empty document.
func New(id string, opts Options) *Document {
	if opts.Source == nil {
		opts.Source = clock.SystemSource{}
	}
	store, _ := tree.NewStore(tree.NewNode("document"))
	d := &Document{
		id:        id,
		opts:      opts,
		store:     store,
		journal:   journal.New(store),
		clock:     clock.New(opts.Source),
		forwarder: forward.New(opts.ForwardTimeout),
		wake:      make(chan struct{}, 1),
	}
	d.events = events.New(store, d.clock, events.Options{Mode: opts.Mode, BaseURL: opts.BaseURL})
	if opts.Persister != nil {
		d.forwarder.SetSink(historySink{id: id, p: opts.Persister})
	}
	d.clock.SetQueueChanged(d.poke)
	return d
}

// ID returns the document identifier.
func (d *Document) ID() string {
	return d.id
}

// LoadXML replaces the document content. The generation restarts at the
// value stamped on the root, or 0.
func (d *Document) LoadXML(data []byte) error {
	store, err := tree.ParseStore(data)
	if err != nil {
		return err
	}
	if !d.journal.StartListening(false) {
		return fault.ConflictingEdit()
	}
	defer d.journal.StopListening()

	d.mu.Lock()
	d.store = store
	d.journal.Attach(store)
	d.events = events.New(store, d.clock, events.Options{Mode: d.opts.Mode, BaseURL: d.opts.BaseURL})
	generation, _ := strconv.ParseInt(store.Root().Attr(AttrGeneration), 10, 64)
	d.forwarder.Reset(generation)
	d.scheduleBroadcastLocked()
	d.mu.Unlock()

	slog.Info("document loaded", "document", d.id, "elements", store.Count(), "generation", generation)
	return nil
}

// Load fetches the document from an http(s) or file URL.
func (d *Document) Load(ctx context.Context, rawURL string) error {
	data, err := fetch(ctx, rawURL)
	if err != nil {
		return err
	}
	if err := d.LoadXML(data); err != nil {
		return err
	}
	d.mu.Lock()
	d.source = rawURL
	d.mu.Unlock()
	return nil
}

func fetch(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fault.MalformedWrap(err, "bad document url")
	}
	switch u.Scheme {
	case "file":
		data, err := os.ReadFile(u.Path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", u.Path, err)
		}
		return data, nil
	case "http", "https":
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, err
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("fetch %s: %s", rawURL, resp.Status)
		}
		return io.ReadAll(resp.Body)
	default:
		return nil, fault.Malformed("unsupported document url scheme %q", u.Scheme)
	}
}

// Save writes the serialized document to path.
func (d *Document) Save(path string) error {
	d.mu.Lock()
	data := tree.Serialize(d.store.Root())
	d.mu.Unlock()
	if err := os.WriteFile(path, []byte(data+"\n"), 0o644); err != nil {
		return fmt.Errorf("save document %s: %w", d.id, err)
	}
	return nil
}

// Count returns the number of elements in the document.
func (d *Document) Count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.store.Count()
}

// Description returns the root's tt:name, or its tag.
func (d *Document) Description() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	root := d.store.Root()
	if name := root.Attr(tree.AttrName); name != "" {
		return name
	}
	return root.Tag
}

// Generation returns the generation of the last forwarded batch.
func (d *Document) Generation() int64 {
	return d.forwarder.Generation()
}

// Dump returns a multi-line debugging description.
func (d *Document) Dump() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return fmt.Sprintf("document %s\nsource: %s\nelements: %d\ngeneration: %d\nlisteners: %v\nclock: %s\n",
		d.id, d.source, d.store.Count(), d.forwarder.Generation(), d.forwarder.Listeners(), d.clock.Dump())
}

// AddListener registers an HTTP listener that receives every forwarded batch.
func (d *Document) AddListener(rawURL string) error {
	l, err := forward.NewHTTPListener(rawURL, nil)
	if err != nil {
		return fault.MalformedWrap(err, "bad listener")
	}
	d.forwarder.AddListener(l)
	slog.Info("listener added", "document", d.id, "listener", rawURL)
	return nil
}

// AddReplica forwards every batch to another in-process document.
func (d *Document) AddReplica(replica *Document) {
	d.forwarder.AddListener(forward.NewReplica(replica.ID(), replica))
}

// Listeners returns the names of the registered listeners.
func (d *Document) Listeners() []string {
	return d.forwarder.Listeners()
}

// edit runs fn in an edit scope and forwards what it changed.
func (d *Document) edit(ctx context.Context, fn func() error) error {
	record := d.forwarder.HasListeners() || d.opts.Persister != nil
	if !d.journal.StartListening(record) {
		return fault.ConflictingEdit()
	}

	d.mu.Lock()
	err := fn()
	cmds := d.journal.Suspend()
	batch, ok := d.forwarder.Prepare(cmds)
	snapshot := d.commitLocked(batch, ok)
	if err == nil {
		d.scheduleBroadcastLocked()
	}
	if ok {
		d.forwarder.Queue(batch, !d.events.Authoritative())
	}
	d.journal.StopListening()
	d.mu.Unlock()

	if ok {
		d.deliver(ctx, batch, snapshot)
	}
	return err
}

// ApplyBatch applies a batch forwarded by another document. The batch keeps
// its generation and is forwarded on to this document's own listeners.
func (d *Document) ApplyBatch(ctx context.Context, batch journal.Batch) error {
	record := d.forwarder.HasListeners() || d.opts.Persister != nil
	if !d.journal.StartListening(record) {
		return fault.ConflictingEdit()
	}

	d.mu.Lock()
	err := journal.Apply(d.store, batch.Operations)
	cmds := d.journal.Suspend()
	next := d.forwarder.PrepareAt(batch.Generation, cmds)
	snapshot := d.commitLocked(next, true)
	d.scheduleBroadcastLocked()
	if len(cmds) > 0 {
		d.forwarder.Queue(next, !d.events.Authoritative())
	}
	d.journal.StopListening()
	d.mu.Unlock()

	if err != nil {
		slog.Error("forwarded batch did not apply", "document", d.id, "generation", batch.Generation, "error", err)
	}
	if len(cmds) > 0 {
		d.deliver(ctx, next, snapshot)
	}
	return err
}

// commitLocked stamps the generation on the root while the scope is open
// but no longer recording, and returns the snapshot to persist ("" when
// there is nothing to save).
func (d *Document) commitLocked(batch journal.Batch, ok bool) string {
	if !ok {
		return ""
	}
	if err := d.store.DeclareNamespace("tls", events.NSState); err != nil {
		slog.Warn("cannot declare state namespace", "document", d.id, "error", err)
	}
	if err := d.store.SetAttributes(d.store.Root(), []tree.AttrUpdate{
		{Name: AttrGeneration, Value: strconv.FormatInt(batch.Generation, 10)},
	}); err != nil {
		slog.Warn("cannot stamp generation", "document", d.id, "error", err)
	}
	if d.opts.Persister == nil {
		return ""
	}
	return tree.Serialize(d.store.Root())
}

// deliver flushes the forwarder queue, which holds batch or has already
// sent it, then saves the snapshot.
func (d *Document) deliver(ctx context.Context, batch journal.Batch, snapshot string) {
	delivered := d.forwarder.Flush(ctx)
	slog.Debug("batch forwarded",
		"document", d.id,
		"generation", batch.Generation,
		"operations", len(batch.Operations),
		"delivered", delivered)
	if snapshot != "" {
		if err := d.opts.Persister.SaveSnapshot(ctx, d.id, snapshot, batch.Generation); err != nil {
			slog.Warn("failed to persist snapshot", "document", d.id, "generation", batch.Generation, "error", err)
		}
	}
}

type historySink struct {
	id string
	p  Persister
}

func (s historySink) SaveBatch(ctx context.Context, batch journal.Batch) error {
	return s.p.SaveBatch(ctx, s.id, batch)
}
