package events

import (
	"github.com/roach88/stagehand/internal/fault"
	"github.com/roach88/stagehand/internal/tree"
)

// Trigger clones the abstract or ready template id into its trigger target,
// applies params and returns the identifier of the new element.
func (e *Engine) Trigger(id string, params []Param) (string, error) {
	tpl, holder, err := e.template(id, TagEvents, TagCompleteEvents)
	if err != nil {
		return "", err
	}
	target := e.store.Parent(holder)

	clone := tpl.Clone()
	e.store.AfterCopy(clone)
	if holder.Tag == TagCompleteEvents {
		clone.Attrs = clone.Attrs.Set(AttrTransient, "true")
	}
	if err := e.fill(clone, target, params); err != nil {
		return "", err
	}
	if err := e.store.Insert(target, clone, tree.End); err != nil {
		return "", err
	}
	e.authoritative = false
	return clone.ID(), nil
}

// Enqueue stages a filled-in copy of the abstract template id in the
// tt:completeEvents holding area next to its tt:events, creating the holding
// area if needed. The copy gets a tt:productionId and can later be triggered
// without parameters.
func (e *Engine) Enqueue(id string, params []Param) (string, error) {
	tpl, holder, err := e.template(id, TagEvents)
	if err != nil {
		return "", err
	}
	target := e.store.Parent(holder)

	clone := tpl.Clone()
	e.store.AfterCopy(clone)
	if err := e.fill(clone, target, params); err != nil {
		return "", err
	}
	if _, ok := clone.Get(AttrProductionID); !ok {
		clone.Attrs = clone.Attrs.Set(AttrProductionID, clone.ID())
	}

	complete := target.FindChild(TagCompleteEvents)
	if complete == nil {
		complete = tree.NewNode(TagCompleteEvents)
		if err := e.store.Insert(holder, complete, tree.After); err != nil {
			return "", err
		}
	}
	if err := e.store.Insert(complete, clone, tree.End); err != nil {
		return "", err
	}
	return clone.ID(), nil
}

// Dequeue removes the ready copy id. It reports false without error when id
// is already gone.
func (e *Engine) Dequeue(id string) (bool, error) {
	n, ok := e.store.ByID(id)
	if !ok {
		return false, nil
	}
	if parent := e.store.Parent(n); parent == nil || parent.Tag != TagCompleteEvents {
		return false, &fault.Error{Code: fault.CodeMalformedPayload, Message: "element is not a staged event", ID: id}
	}
	if err := e.store.Remove(n); err != nil {
		return false, err
	}
	return true, nil
}

// Modify applies params to the active event id in place. Every touched
// element receives a single attribute change.
func (e *Engine) Modify(id string, params []Param) error {
	n, ok := e.store.ByID(id)
	if !ok {
		return fault.NotFoundID(id)
	}
	if e.Classify(n) != StateActive {
		return &fault.Error{Code: fault.CodeMalformedPayload, Message: "element is not an active event", ID: id}
	}
	w := newWriter(e, n, e.store.Parent(n), false)
	for _, p := range params {
		if err := w.apply(p.Parameter, p.Value); err != nil {
			return err
		}
	}
	return w.flush()
}

// template looks up id and checks that its parent is one of holders.
func (e *Engine) template(id string, holders ...string) (*tree.Node, *tree.Node, error) {
	tpl, ok := e.store.ByID(id)
	if !ok {
		return nil, nil, fault.NotFoundID(id)
	}
	holder := e.store.Parent(tpl)
	if holder != nil && e.store.Parent(holder) != nil {
		for _, h := range holders {
			if holder.Tag == h {
				return tpl, holder, nil
			}
		}
	}
	return nil, nil, &fault.Error{Code: fault.CodeMalformedPayload, Message: "element is not a trigger template", ID: id}
}

// fill applies supplied params and declared defaults to the detached clone,
// checks required parameters and drops the tt:parameters block.
func (e *Engine) fill(clone, target *tree.Node, params []Param) error {
	var declared []*tree.Node
	if block := clone.FindChild(TagParameters); block != nil {
		declared = block.ChildrenByTag(TagParameter)
	}
	supplied := make(map[string]bool, len(params))
	for _, p := range params {
		supplied[p.Parameter] = true
	}

	w := newWriter(e, clone, target, true)
	for _, d := range declared {
		path := d.Attr(AttrParameter)
		if supplied[path] {
			continue
		}
		if def, ok := d.Get(AttrValue); ok {
			if err := w.apply(path, def); err != nil {
				return err
			}
			continue
		}
		if d.Attr(AttrRequired) == "true" {
			return fault.Malformed("missing required parameter %q (%s)", d.Attr(tree.AttrName), path)
		}
	}
	for _, p := range params {
		if err := w.apply(p.Parameter, p.Value); err != nil {
			return err
		}
	}

	kept := clone.Children[:0]
	for _, ch := range clone.Children {
		if ch.Tag != TagParameters {
			kept = append(kept, ch)
		}
	}
	clone.Children = kept
	return nil
}

// writer resolves parameter destinations relative to an event element and
// writes the computed values. Detached writers edit the clone directly;
// attached ones collect the writes per element and hand them to the store in
// flush, one SetAttributes per element.
type writer struct {
	e        *Engine
	self     *tree.Node
	target   *tree.Node
	detached bool
	order    []*tree.Node
	pending  map[*tree.Node][]tree.AttrUpdate
}

func newWriter(e *Engine, self, target *tree.Node, detached bool) *writer {
	return &writer{
		e:        e,
		self:     self,
		target:   target,
		detached: detached,
		pending:  make(map[*tree.Node][]tree.AttrUpdate),
	}
}

// apply writes value through the parameter path. A path ending in an
// attribute is a single destination; a path naming an element fans out over
// that element's children, each of which names one destination and a value
// template (default "{value()}").
func (w *writer) apply(path, value string) error {
	elemPath, attr := tree.SplitAttr(path)
	if attr != "" {
		return w.write(elemPath, attr, value, value)
	}
	fan, err := w.resolve(path)
	if err != nil {
		return err
	}
	for _, f := range fan {
		for _, dest := range f.Children {
			destPath, ok := dest.Get(AttrParameter)
			if !ok {
				continue
			}
			tmpl, ok := dest.Get(AttrValue)
			if !ok {
				tmpl = "{value()}"
			}
			destElem, destAttr := tree.SplitAttr(destPath)
			if destAttr == "" {
				return fault.Malformed("parameter destination %q names no attribute", destPath)
			}
			if err := w.write(destElem, destAttr, tmpl, value); err != nil {
				return err
			}
		}
	}
	return nil
}

func (w *writer) write(elemPath, attr, tmpl, value string) error {
	if elemPath == "" {
		elemPath = "."
	}
	nodes, err := w.resolve(elemPath)
	if err != nil {
		return err
	}
	if len(nodes) == 0 {
		return fault.NotFoundPath(elemPath)
	}
	computed := w.e.computeValue(tmpl, value, w)
	for _, n := range nodes {
		if w.detached {
			n.Attrs = n.Attrs.Set(attr, computed)
			continue
		}
		if _, seen := w.pending[n]; !seen {
			w.order = append(w.order, n)
		}
		w.pending[n] = append(w.pending[n], tree.AttrUpdate{Name: attr, Value: computed})
	}
	return nil
}

func (w *writer) resolve(path string) ([]*tree.Node, error) {
	return w.e.store.ResolveAll(path, w.self)
}

// attr reads an attribute, seeing writes that are still pending.
func (w *writer) attr(n *tree.Node, name string) (string, bool) {
	updates := w.pending[n]
	for i := len(updates) - 1; i >= 0; i-- {
		if updates[i].Name == name {
			return updates[i].Value, true
		}
	}
	return n.Get(name)
}

func (w *writer) flush() error {
	for _, n := range w.order {
		if err := w.e.store.SetAttributes(n, w.pending[n]); err != nil {
			return err
		}
	}
	w.order = nil
	w.pending = make(map[*tree.Node][]tree.AttrUpdate)
	return nil
}
