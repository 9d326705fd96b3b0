package document

import (
	"context"

	"github.com/roach88/stagehand/internal/events"
)

// Events lists the document's triggerable and modifiable events.
func (d *Document) Events() events.Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.events.Get()
}

// Trigger triggers the template id and returns the identifier of the new
// element.
func (d *Document) Trigger(ctx context.Context, id string, params []events.Param) (string, error) {
	var newID string
	err := d.edit(ctx, func() error {
		var err error
		newID, err = d.events.Trigger(id, params)
		return err
	})
	return newID, err
}

// Enqueue stages a filled-in copy of the template id.
func (d *Document) Enqueue(ctx context.Context, id string, params []events.Param) (string, error) {
	var newID string
	err := d.edit(ctx, func() error {
		var err error
		newID, err = d.events.Enqueue(id, params)
		return err
	})
	return newID, err
}

// Dequeue removes the staged copy id. It reports false when id is gone.
func (d *Document) Dequeue(ctx context.Context, id string) (bool, error) {
	var removed bool
	err := d.edit(ctx, func() error {
		var err error
		removed, err = d.events.Dequeue(id)
		return err
	})
	return removed, err
}

// Modify changes the parameters of the active event id.
func (d *Document) Modify(ctx context.Context, id string, params []events.Param) error {
	return d.edit(ctx, func() error {
		return d.events.Modify(id, params)
	})
}

// SetDocumentState reconciles playback state reported by a player.
func (d *Document) SetDocumentState(ctx context.Context, states map[string]events.ElementState) (int, error) {
	var changed int
	err := d.edit(ctx, func() error {
		var err error
		changed, err = d.events.SetDocumentState(states)
		return err
	})
	d.poke()
	return changed, err
}

// SetMode changes the playback mode reported with the event list.
func (d *Document) SetMode(mode string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.opts.Mode = mode
	d.events.SetMode(mode)
}
