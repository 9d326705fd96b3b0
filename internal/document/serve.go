package document

import (
	"context"
	"log/slog"
	"time"

	"github.com/roach88/stagehand/internal/clock"
	"github.com/roach88/stagehand/internal/events"
	"github.com/roach88/stagehand/internal/journal"
	"github.com/roach88/stagehand/internal/tree"
)

// authoringOnly are stripped from the viewer timeline.
var authoringOnly = map[string]bool{
	events.TagEvents:         true,
	events.TagCompleteEvents: true,
	events.TagParameters:     true,
	events.TagModParameters:  true,
}

// Timeline returns the serialized document. In viewer mode the trigger
// authoring elements are left out.
func (d *Document) Timeline(viewer bool) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	root := d.store.Root()
	if !viewer {
		return tree.Serialize(root)
	}
	c := root.Clone()
	c.Walk(func(n *tree.Node) bool {
		kept := n.Children[:0]
		for _, ch := range n.Children {
			if !authoringOnly[ch.Tag] {
				kept = append(kept, ch)
			}
		}
		n.Children = kept
		return true
	})
	return tree.Serialize(c)
}

// History returns the forwarded batches from index oldest onwards.
func (d *Document) History(oldest int) []journal.Batch {
	return d.forwarder.History(oldest)
}

// LiveInfo is what a late-joining player needs to synchronize.
type LiveInfo struct {
	Generation            int64   `json:"generation"`
	Clock                 float64 `json:"clock"`
	Running               bool    `json:"running"`
	TimelineAuthoritative bool    `json:"timelineAuthoritative"`
	Mode                  string  `json:"mode"`
}

// LiveInfo returns the current generation and clock state.
func (d *Document) LiveInfo() LiveInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	return LiveInfo{
		Generation:            d.forwarder.Generation(),
		Clock:                 clock.Seconds(d.clock.Now()),
		Running:               d.clock.Running(),
		TimelineAuthoritative: d.events.Authoritative(),
		Mode:                  d.opts.Mode,
	}
}

// ServiceInput names the documents a player loads.
type ServiceInput struct {
	Layout   string `json:"layout,omitempty"`
	Timeline string `json:"timeline"`
}

// ClientConfig is the bootstrap document for a player.
type ClientConfig struct {
	Mode            string            `json:"mode"`
	Base            string            `json:"base,omitempty"`
	ServiceInput    ServiceInput      `json:"serviceInput"`
	ServiceOverride map[string]string `json:"serviceOverride,omitempty"`
}

// ClientConfig builds the player bootstrap for the given document URLs. An
// empty mode means the document's mode.
func (d *Document) ClientConfig(input ServiceInput, base, mode string) ClientConfig {
	d.mu.Lock()
	defer d.mu.Unlock()
	if mode == "" {
		mode = d.opts.Mode
	}
	cfg := ClientConfig{Mode: mode, Base: base, ServiceInput: input}
	overrides := map[string]string{
		"layoutService":    d.opts.Services.Layout,
		"websocketService": d.opts.Services.Websocket,
		"timelineService":  d.opts.Services.Timeline,
	}
	for k, v := range overrides {
		if v == "" {
			continue
		}
		if cfg.ServiceOverride == nil {
			cfg.ServiceOverride = make(map[string]string)
		}
		cfg.ServiceOverride[k] = v
	}
	return cfg
}

// EventsTopic is the publish/subscribe topic for a document's event list.
func EventsTopic(documentID string) string {
	return "events/" + documentID
}

// StateTopic is the topic players report playback state on.
func StateTopic(documentID string) string {
	return "state/" + documentID
}

// EventsMessage is published on EventsTopic.
type EventsMessage struct {
	Document string `json:"document"`
	events.Snapshot
}

// RequestBroadcast publishes the event list now.
func (d *Document) RequestBroadcast() error {
	if d.opts.Publisher == nil {
		return nil
	}
	msg := EventsMessage{Document: d.id, Snapshot: d.Events()}
	return d.opts.Publisher.Publish(EventsTopic(d.id), msg)
}

// scheduleBroadcastLocked queues one broadcast on the clock; changes made
// before it runs share it.
func (d *Document) scheduleBroadcastLocked() {
	if d.opts.Publisher == nil || d.broadcastPending {
		return
	}
	d.broadcastPending = true
	d.clock.Schedule(0, func() {
		d.mu.Lock()
		d.broadcastPending = false
		d.mu.Unlock()
		if err := d.RequestBroadcast(); err != nil {
			slog.Warn("event broadcast failed", "document", d.id, "error", err)
		}
	})
}

// poke wakes the Run loop.
func (d *Document) poke() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// idleWait bounds how long Run sleeps when nothing is due or the clock is
// stopped, so a clock that was started without a queue change is noticed.
const idleWait = time.Second

// Run dispatches the document's scheduled callbacks until ctx is cancelled.
// It must be called from a single goroutine.
func (d *Document) Run(ctx context.Context) error {
	for {
		d.clock.HandleEvents(clock.Immediate)

		wait := d.clock.NextEventTime()
		switch {
		case wait == clock.Never, wait > idleWait && !d.clock.Running():
			wait = idleWait
		case wait < 0:
			wait = 0
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-d.wake:
		case <-timer.C:
		}
		timer.Stop()
	}
}
