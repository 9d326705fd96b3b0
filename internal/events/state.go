package events

import (
	"log/slog"
	"math"
	"sort"
	"strconv"

	"github.com/roach88/stagehand/internal/clock"
	"github.com/roach88/stagehand/internal/tree"
)

// EpochTolerance is the largest epoch difference, in seconds, that still
// counts as unchanged when reconciling playback state.
const EpochTolerance = 0.1

// ElementState is the playback state a remote player reports for one
// element. A nil Progress on a stopped element means idle; a non-nil
// Progress on a stopped element means finished.
type ElementState struct {
	Running  bool     `json:"running"`
	Progress *float64 `json:"progress"`
}

// SetDocumentState reconciles the lifecycle attributes of the listed
// elements with the reported state and returns how many elements changed.
// Unknown identifiers are skipped. Afterwards the clock runs if and only if
// some element in the document is running, and the remote state is
// considered authoritative.
func (e *Engine) SetDocumentState(states map[string]ElementState) (int, error) {
	ids := make([]string, 0, len(states))
	for id := range states {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	now := clock.Seconds(e.clock.Now())
	changed := 0
	for _, id := range ids {
		n, ok := e.store.ByID(id)
		if !ok {
			slog.Debug("state for unknown element", "id", id)
			continue
		}
		diff := stateDiff(n, states[id], now)
		if len(diff) == 0 {
			continue
		}
		if err := e.store.DeclareNamespace("tls", NSState); err != nil {
			return changed, err
		}
		wasFinished := n.Attr(AttrFinished) == "true"
		if err := e.store.SetAttributes(n, diff); err != nil {
			return changed, err
		}
		changed++
		if !wasFinished && n.Attr(AttrFinished) == "true" && n.Attr(AttrTransient) == "true" {
			if err := e.dropStagedCopy(n); err != nil {
				return changed, err
			}
		}
	}

	if e.anyRunning() {
		e.clock.Start()
	} else {
		e.clock.Stop()
	}
	e.authoritative = true
	return changed, nil
}

// stateDiff returns the attribute updates that move n to st, or nil when n
// already matches st within EpochTolerance.
func stateDiff(n *tree.Node, st ElementState, now float64) []tree.AttrUpdate {
	var (
		running  = st.Running
		finished = !st.Running && st.Progress != nil
		hasEpoch = st.Running || finished
		epoch    float64
	)
	if hasEpoch {
		progress := 0.0
		if st.Progress != nil {
			progress = *st.Progress
		}
		epoch = now - progress
	}

	oldRaw, oldHasEpoch := n.Get(AttrEpoch)
	oldEpoch, _ := strconv.ParseFloat(oldRaw, 64)
	epochSame := oldHasEpoch == hasEpoch && (!hasEpoch || math.Abs(oldEpoch-epoch) < EpochTolerance)
	if epochSame &&
		(n.Attr(AttrRunning) == "true") == running &&
		(n.Attr(AttrFinished) == "true") == finished {
		return nil
	}

	var diff []tree.AttrUpdate
	flag := func(name string, on bool) {
		if on {
			diff = append(diff, tree.AttrUpdate{Name: name, Value: "true"})
		} else {
			diff = append(diff, tree.AttrUpdate{Name: name, Delete: true})
		}
	}
	flag(AttrRunning, running)
	flag(AttrFinished, finished)
	switch {
	case !hasEpoch:
		diff = append(diff, tree.AttrUpdate{Name: AttrEpoch, Delete: true})
	case !epochSame:
		diff = append(diff, tree.AttrUpdate{Name: AttrEpoch, Value: formatSeconds(epoch)})
	}
	return diff
}

// dropStagedCopy removes the ready copy that shares n's production id.
func (e *Engine) dropStagedCopy(n *tree.Node) error {
	production := n.Attr(AttrProductionID)
	if production == "" {
		return nil
	}
	target := e.store.Parent(n)
	if target == nil {
		return nil
	}
	complete := target.FindChild(TagCompleteEvents)
	if complete == nil {
		return nil
	}
	for _, staged := range complete.Children {
		if staged.Attr(AttrProductionID) == production {
			slog.Debug("removing staged copy of finished event", "id", staged.ID(), "production", production)
			return e.store.Remove(staged)
		}
	}
	return nil
}

func (e *Engine) anyRunning() bool {
	running := false
	e.store.Root().Walk(func(n *tree.Node) bool {
		if n.Attr(AttrRunning) == "true" {
			running = true
		}
		return !running
	})
	return running
}
