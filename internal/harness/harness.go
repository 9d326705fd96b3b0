package harness

import (
	"context"
	"fmt"
	"maps"
	"os"
	"slices"
	"strconv"

	"github.com/roach88/stagehand/internal/clock"
	"github.com/roach88/stagehand/internal/document"
	"github.com/roach88/stagehand/internal/events"
	"github.com/roach88/stagehand/internal/fault"
	"github.com/roach88/stagehand/internal/textdiff"
	"github.com/roach88/stagehand/internal/tree"
)

// Harness executes the steps of one scenario.
type Harness struct {
	primary *document.Document
	replica *document.Document
	seq     *clock.Sequence
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs against a fresh document and replica. Execution flow:
// 1. Load the starting document into primary and replica
// 2. Execute steps, checking each against its expect clause
// 3. Check replica and replay equivalence
// 4. Evaluate assertions against the final document and trace
//
// An error is returned only when the scenario cannot run at all.
func Run(scenario *Scenario) (*Result, error) {
	start, err := startingDocument(scenario)
	if err != nil {
		return nil, err
	}
	newDoc := func(id string) (*document.Document, error) {
		d := document.New(id, document.Options{Mode: scenario.Mode, Source: clock.NewFastSource()})
		if err := d.LoadXML(start); err != nil {
			return nil, fmt.Errorf("failed to load document: %w", err)
		}
		return d, nil
	}

	primary, err := newDoc("primary")
	if err != nil {
		return nil, err
	}
	replica, err := newDoc("replica")
	if err != nil {
		return nil, err
	}
	primary.AddReplica(replica)

	h := &Harness{primary: primary, replica: replica, seq: clock.NewSequenceAt(0)}
	ctx := context.Background()
	result := NewResult()

	for i, step := range scenario.Steps {
		h.executeStep(ctx, i, step, result)
	}

	rebuilt, err := newDoc("rebuilt")
	if err != nil {
		return nil, err
	}
	h.checkReplay(ctx, rebuilt, result)

	result.Generation = primary.Generation()
	result.Count = primary.Count()
	result.Timeline = primary.Timeline(false)

	for _, msg := range EvaluateAssertions(result, scenario.Assertions, primary) {
		result.AddError(msg)
	}
	return result, nil
}

func startingDocument(s *Scenario) ([]byte, error) {
	if s.Document == "" {
		return []byte(s.XML), nil
	}
	data, err := os.ReadFile(s.Document)
	if err != nil {
		return nil, fmt.Errorf("failed to read document: %w", err)
	}
	return data, nil
}

// executeStep runs one step, traces it and checks it against its expect
// clause.
func (h *Harness) executeStep(ctx context.Context, index int, step Step, result *Result) {
	out, err := h.apply(ctx, step)

	ev := TraceEvent{
		Seq:        h.seq.Next(),
		Op:         step.Op,
		Target:     step.Path,
		Result:     out,
		Generation: h.primary.Generation(),
	}
	if step.ID != "" {
		ev.Target = step.ID
	}
	if err != nil {
		ev.Error = string(fault.CodeOf(err))
		if ev.Error == "" {
			ev.Error = err.Error()
		}
	}
	result.AddTrace(ev)

	want := Expect{}
	if step.Expect != nil {
		want = *step.Expect
	}
	if ev.Error != want.Error {
		result.AddError(fmt.Sprintf("steps[%d] %s: expected error %q, got %q (%v)", index, step.Op, want.Error, ev.Error, err))
		return
	}
	if want.Result != nil && *want.Result != out {
		result.AddError(fmt.Sprintf("steps[%d] %s: expected result %q, got %q", index, step.Op, *want.Result, out))
	}
}

// apply runs the document operation a step names and returns its value as
// text.
func (h *Harness) apply(ctx context.Context, s Step) (string, error) {
	d := h.primary
	mimetype := s.Mimetype
	if mimetype == "" {
		mimetype = document.MimeXML
	}

	switch s.Op {
	case OpPaste, OpCopy, OpMove:
		where, err := parseWhere(s.Where)
		if err != nil {
			return "", err
		}
		switch s.Op {
		case OpPaste:
			return d.Paste(ctx, s.Path, where, s.Tag, s.Data, mimetype)
		case OpCopy:
			return d.Copy(ctx, s.Path, where, s.Source)
		default:
			return d.Move(ctx, s.Path, where, s.Source)
		}
	case OpCut:
		return d.Cut(ctx, s.Path, mimetype)
	case OpModifyAttributes:
		return "", d.ModifyAttributes(ctx, s.Path, s.Data)
	case OpModifyData:
		return "", d.ModifyData(ctx, s.Path, s.Data)
	case OpTrigger:
		return d.Trigger(ctx, s.ID, params(s.Params))
	case OpEnqueue:
		return d.Enqueue(ctx, s.ID, params(s.Params))
	case OpDequeue:
		ok, err := d.Dequeue(ctx, s.ID)
		return strconv.FormatBool(ok), err
	case OpModify:
		return "", d.Modify(ctx, s.ID, params(s.Params))
	case OpSetState:
		n, err := d.SetDocumentState(ctx, states(s.States))
		return strconv.Itoa(n), err
	default:
		return "", fault.Malformed("unknown op %q", s.Op)
	}
}

// parseWhere defaults an empty position to end.
func parseWhere(s string) (tree.Where, error) {
	if s == "" {
		return tree.End, nil
	}
	return tree.ParseWhere(s)
}

// params orders parameters by path so runs are repeatable.
func params(m map[string]string) []events.Param {
	if len(m) == 0 {
		return nil
	}
	out := make([]events.Param, 0, len(m))
	for _, k := range slices.Sorted(maps.Keys(m)) {
		out = append(out, events.Param{Parameter: k, Value: m[k]})
	}
	return out
}

func states(m map[string]StateReport) map[string]events.ElementState {
	out := make(map[string]events.ElementState, len(m))
	for id, r := range m {
		out[id] = events.ElementState{Running: r.Running, Progress: r.Progress}
	}
	return out
}

// checkReplay compares the replica, and a fresh document rebuilt from the
// forwarded history, against the primary.
func (h *Harness) checkReplay(ctx context.Context, rebuilt *document.Document, result *Result) {
	want := h.primary.Timeline(false)

	if got := h.replica.Timeline(false); got != want {
		result.AddError("replica diverged from primary:\n" + textdiff.XML(want, got))
	}

	for _, batch := range h.primary.History(0) {
		if err := rebuilt.ApplyBatch(ctx, batch); err != nil {
			result.AddError(fmt.Sprintf("replay of generation %d failed: %v", batch.Generation, err))
			return
		}
	}
	if got := rebuilt.Timeline(false); got != want {
		result.AddError("replayed history diverged from primary:\n" + textdiff.XML(want, got))
	}
}
