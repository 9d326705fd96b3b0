package document

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/roach88/stagehand/internal/events"
	"github.com/roach88/stagehand/internal/fault"
)

// IDGenerator creates document identifiers.
// Implemented by UUIDv7Generator (production) and testutil.SequentialIDs
// (tests).
type IDGenerator interface {
	NewID() string
}

// UUIDv7Generator creates time-ordered UUIDv7 identifiers.
type UUIDv7Generator struct{}

// NewID returns a new UUIDv7 string.
func (UUIDv7Generator) NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Catalog records which documents exist and their initial content.
type Catalog interface {
	Persister
	CreateDocument(ctx context.Context, documentID, initialXML string) error
	DeleteDocument(ctx context.Context, documentID string) error
}

// Info describes one document in a listing.
type Info struct {
	ID          string `json:"id"`
	Description string `json:"description"`
}

// Registry holds the documents served by this process.
//
// Thread-safety: all methods are safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	docs    map[string]*Document
	ids     IDGenerator
	opts    Options
	catalog Catalog

	runCtx  context.Context
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// NewRegistry creates an empty registry. Documents it creates get opts; a
// non-nil catalog also becomes their Persister.
func NewRegistry(ids IDGenerator, opts Options, catalog Catalog) *Registry {
	if ids == nil {
		ids = UUIDv7Generator{}
	}
	if catalog != nil {
		opts.Persister = catalog
	}
	return &Registry{
		docs:    make(map[string]*Document),
		cancels: make(map[string]context.CancelFunc),
		ids:     ids,
		opts:    opts,
		catalog: catalog,
	}
}

// Create makes a new document from XML.
func (r *Registry) Create(ctx context.Context, data []byte) (*Document, error) {
	d := r.newDocument()
	if err := d.LoadXML(data); err != nil {
		return nil, err
	}
	return r.add(ctx, d)
}

// CreateFromURL makes a new document from an http(s) or file URL.
func (r *Registry) CreateFromURL(ctx context.Context, rawURL string) (*Document, error) {
	d := r.newDocument()
	if err := d.Load(ctx, rawURL); err != nil {
		return nil, err
	}
	return r.add(ctx, d)
}

func (r *Registry) newDocument() *Document {
	r.mu.RLock()
	opts := r.opts
	r.mu.RUnlock()
	return New(r.ids.NewID(), opts)
}

func (r *Registry) add(ctx context.Context, d *Document) (*Document, error) {
	if r.catalog != nil {
		if err := r.catalog.CreateDocument(ctx, d.ID(), d.Timeline(false)); err != nil {
			slog.Warn("failed to persist new document", "document", d.ID(), "error", err)
		}
	}
	r.mu.Lock()
	r.docs[d.ID()] = d
	r.startLocked(d)
	r.mu.Unlock()
	slog.Info("document created", "document", d.ID(), "description", d.Description())
	return d, nil
}

// Get returns the document id.
func (r *Registry) Get(id string) (*Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.docs[id]
	if !ok {
		return nil, &fault.Error{Code: fault.CodeNotFound, Message: "no such document", ID: id}
	}
	return d, nil
}

// Delete drops the document id.
func (r *Registry) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	_, ok := r.docs[id]
	delete(r.docs, id)
	if cancel, running := r.cancels[id]; running {
		cancel()
		delete(r.cancels, id)
	}
	r.mu.Unlock()
	if !ok {
		return &fault.Error{Code: fault.CodeNotFound, Message: "no such document", ID: id}
	}
	if r.catalog != nil {
		if err := r.catalog.DeleteDocument(ctx, id); err != nil {
			slog.Warn("failed to delete persisted document", "document", id, "error", err)
		}
	}
	return nil
}

// List describes every document, ordered by identifier.
func (r *Registry) List() []Info {
	r.mu.RLock()
	docs := make([]*Document, 0, len(r.docs))
	for _, d := range r.docs {
		docs = append(docs, d)
	}
	r.mu.RUnlock()

	out := make([]Info, len(docs))
	for i, d := range docs {
		out[i] = Info{ID: d.ID(), Description: d.Description()}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SetMode changes the playback mode of every current and future document.
func (r *Registry) SetMode(mode string) {
	r.mu.Lock()
	r.opts.Mode = mode
	docs := make([]*Document, 0, len(r.docs))
	for _, d := range r.docs {
		docs = append(docs, d)
	}
	r.mu.Unlock()
	for _, d := range docs {
		d.SetMode(mode)
	}
}

// SetDocumentState routes a playback state report to its document.
func (r *Registry) SetDocumentState(ctx context.Context, id string, states map[string]events.ElementState) error {
	d, err := r.Get(id)
	if err != nil {
		return err
	}
	_, err = d.SetDocumentState(ctx, states)
	return err
}

// Run dispatches the scheduled callbacks of every document, including ones
// created later, until ctx is cancelled.
func (r *Registry) Run(ctx context.Context) {
	r.mu.Lock()
	r.runCtx = ctx
	for _, d := range r.docs {
		r.startLocked(d)
	}
	r.mu.Unlock()

	<-ctx.Done()
	r.mu.Lock()
	r.runCtx = nil
	r.cancels = make(map[string]context.CancelFunc)
	r.mu.Unlock()
	r.wg.Wait()
}

func (r *Registry) startLocked(d *Document) {
	if r.runCtx == nil {
		return
	}
	ctx, cancel := context.WithCancel(r.runCtx)
	r.cancels[d.ID()] = cancel
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		_ = d.Run(ctx)
	}()
}
