// Package events implements the trigger engine on top of a tree.Store.
//
// Events are classified by where they sit in the document, not by a stored
// state field:
//
//	abstract  a child (with xml:id) of a tt:events element: a template
//	ready     a child of tt:completeEvents: a template copy with its
//	          parameters already filled in
//	active    a child of a trigger target (the element that holds
//	          tt:events) with xml:id and tt:name that carries
//	          tt:modparameters or playback state
//	finished  an active element whose tls:finished flag is set; it is no
//	          longer listed
//
// The trigger target of a template is always its grandparent.
//
// The Engine is not safe for concurrent use; the owning document calls it
// with its lock held.
package events

import (
	"net/url"
	"strings"

	"github.com/roach88/stagehand/internal/clock"
	"github.com/roach88/stagehand/internal/tree"
)

// Namespace URIs of the reserved vocabularies.
const (
	NSTrigger = "http://jackjansen.nl/2017/ns/trigger"
	NSState   = "http://jackjansen.nl/2018/ns/timeline-state"
)

// Reserved element names.
const (
	TagEvents         = "tt:events"
	TagCompleteEvents = "tt:completeEvents"
	TagParameters     = "tt:parameters"
	TagModParameters  = "tt:modparameters"
	TagParameter      = "tt:parameter"
	TagOption         = "tt:option"
)

// Reserved attribute names.
const (
	AttrParameter       = "tt:parameter"
	AttrType            = "tt:type"
	AttrValue           = "tt:value"
	AttrRequired        = "tt:required"
	AttrVerb            = "tt:verb"
	AttrPreviewURL      = "tt:previewUrl"
	AttrLongDesc        = "tt:longdesc"
	AttrProductionID    = "tt:productionId"
	AttrProductionGroup = "tt:productionGroup"
	AttrTransient       = "tt:transient"

	AttrRunning  = "tls:running"
	AttrEpoch    = "tls:epoch"
	AttrFinished = "tls:finished"
)

// State is the derived lifecycle state of an event element.
type State string

const (
	StateAbstract State = "abstract"
	StateReady    State = "ready"
	StateActive   State = "active"
	StateFinished State = "finished"
)

// Option is one allowed value of a set-typed parameter.
type Option struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Parameter describes one user-facing parameter of an event.
type Parameter struct {
	Name      string   `json:"name"`
	Parameter string   `json:"parameter"`
	Type      string   `json:"type,omitempty"`
	Value     string   `json:"value,omitempty"`
	Required  bool     `json:"required,omitempty"`
	Options   []Option `json:"options,omitempty"`
}

// Descriptor is the client-facing description of one event.
type Descriptor struct {
	ID              string      `json:"id"`
	Name            string      `json:"name"`
	Trigger         bool        `json:"trigger"`
	Modify          bool        `json:"modify"`
	State           State       `json:"state"`
	Parameters      []Parameter `json:"parameters"`
	Verb            string      `json:"verb,omitempty"`
	PreviewURL      string      `json:"previewUrl,omitempty"`
	LongDesc        string      `json:"longdesc,omitempty"`
	ProductionID    string      `json:"productionId"`
	ProductionGroup string      `json:"productionGroup"`
}

// Snapshot is the answer to Get and the payload of event broadcasts.
type Snapshot struct {
	Events []Descriptor `json:"events"`
	Mode   string       `json:"mode"`
}

// Param is one parameter value supplied by a client. Parameter is a path
// relative to the event element, optionally ending in an attribute.
type Param struct {
	Parameter string `json:"parameter"`
	Value     string `json:"value"`
}

// Options configures an Engine.
type Options struct {
	// Mode is the playback mode reported to clients (standalone or tv).
	Mode string

	// BaseURL resolves relative preview URLs. Empty leaves them as they are.
	BaseURL string
}

// Engine triggers, modifies and tracks events in one document.
type Engine struct {
	store         *tree.Store
	clock         *clock.Clock
	mode          string
	base          *url.URL
	authoritative bool
}

// New creates an engine for store, reading elapsed time from clk.
func New(store *tree.Store, clk *clock.Clock, opts Options) *Engine {
	e := &Engine{store: store, clock: clk, mode: opts.Mode}
	if opts.BaseURL != "" {
		if u, err := url.Parse(opts.BaseURL); err == nil {
			e.base = u
		}
	}
	return e
}

// SetMode changes the reported playback mode.
func (e *Engine) SetMode(mode string) {
	e.mode = mode
}

// Authoritative reports whether the last word on playback state came from
// the remote player (true) or whether a local trigger has happened since
// (false).
func (e *Engine) Authoritative() bool {
	return e.authoritative
}

// Get lists every abstract, ready and active event in document order.
// It never modifies the document.
func (e *Engine) Get() Snapshot {
	snap := Snapshot{Events: []Descriptor{}, Mode: e.mode}
	e.store.Root().Walk(func(n *tree.Node) bool {
		if d, ok := e.describe(n); ok {
			snap.Events = append(snap.Events, d)
		}
		return true
	})
	return snap
}

// Classify returns the state of n, or "" when n is not an event element.
func (e *Engine) Classify(n *tree.Node) State {
	parent := e.store.Parent(n)
	if parent == nil || n.ID() == "" {
		return ""
	}
	switch parent.Tag {
	case TagEvents:
		return StateAbstract
	case TagCompleteEvents:
		return StateReady
	}
	if n.Tag == TagEvents || n.Tag == TagCompleteEvents || parent.FindChild(TagEvents) == nil {
		return ""
	}
	if _, named := n.Get(tree.AttrName); !named {
		return ""
	}
	if n.Attr(AttrFinished) == "true" {
		return StateFinished
	}
	_, running := n.Get(AttrRunning)
	_, epoch := n.Get(AttrEpoch)
	if n.FindChild(TagModParameters) != nil || running || epoch {
		return StateActive
	}
	return ""
}

func (e *Engine) describe(n *tree.Node) (Descriptor, bool) {
	state := e.Classify(n)
	var paramsTag string
	switch state {
	case StateAbstract, StateReady:
		paramsTag = TagParameters
	case StateActive:
		paramsTag = TagModParameters
	default:
		return Descriptor{}, false
	}
	d := Descriptor{
		ID:              n.ID(),
		Name:            n.Attr(tree.AttrName),
		Trigger:         state != StateActive,
		State:           state,
		Parameters:      []Parameter{},
		Verb:            n.Attr(AttrVerb),
		LongDesc:        n.Attr(AttrLongDesc),
		ProductionID:    n.Attr(AttrProductionID),
		ProductionGroup: n.Attr(AttrProductionGroup),
	}
	if d.Name == "" {
		d.Name = d.ID
	}
	if preview := n.Attr(AttrPreviewURL); preview != "" {
		d.PreviewURL = e.resolveURL(preview)
	}
	if holder := n.FindChild(paramsTag); holder != nil {
		for _, p := range holder.ChildrenByTag(TagParameter) {
			d.Parameters = append(d.Parameters, describeParameter(p))
		}
	}
	d.Modify = state == StateActive && n.FindChild(TagModParameters) != nil
	return d, true
}

func describeParameter(p *tree.Node) Parameter {
	out := Parameter{
		Name:      p.Attr(tree.AttrName),
		Parameter: p.Attr(AttrParameter),
		Type:      p.Attr(AttrType),
		Value:     p.Attr(AttrValue),
		Required:  p.Attr(AttrRequired) == "true",
	}
	for _, o := range p.ChildrenByTag(TagOption) {
		out.Options = append(out.Options, Option{Name: o.Attr(tree.AttrName), Value: o.Attr(AttrValue)})
	}
	return out
}

func (e *Engine) resolveURL(ref string) string {
	if e.base == nil {
		return ref
	}
	u, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return ref
	}
	return e.base.ResolveReference(u).String()
}
