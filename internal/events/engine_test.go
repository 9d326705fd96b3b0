package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/stagehand/internal/clock"
	"github.com/roach88/stagehand/internal/fault"
	"github.com/roach88/stagehand/internal/journal"
	"github.com/roach88/stagehand/internal/testutil"
	"github.com/roach88/stagehand/internal/tree"
)

type fixture struct {
	engine *Engine
	store  *tree.Store
	source *clock.FastSource
	clock  *clock.Clock
}

func newFixture(t *testing.T, doc string) *fixture {
	t.Helper()
	store, err := tree.ParseStore([]byte(doc))
	require.NoError(t, err)
	source := clock.NewFastSource()
	clk := clock.New(source)
	return &fixture{
		engine: New(store, clk, Options{Mode: "standalone", BaseURL: "http://media.example/"}),
		store:  store,
		source: source,
		clock:  clk,
	}
}

func (f *fixture) byID(t *testing.T, id string) *tree.Node {
	t.Helper()
	n, ok := f.store.ByID(id)
	require.True(t, ok, "no element %q", id)
	return n
}

func ids(snap Snapshot) []string {
	out := make([]string, len(snap.Events))
	for i, d := range snap.Events {
		out[i] = d.ID
	}
	return out
}

func TestGet_ListsTemplatesAndActiveEvents(t *testing.T) {
	f := newFixture(t, testutil.Events)

	snap := f.engine.Get()
	require.Len(t, snap.Events, 4)
	assert.Equal(t, "standalone", snap.Mode)
	assert.Equal(t, []string{"event1", "event2", "event3", "event4"}, ids(snap))

	one := snap.Events[0]
	assert.Equal(t, "Event One", one.Name)
	assert.True(t, one.Trigger)
	assert.False(t, one.Modify)
	assert.Equal(t, StateAbstract, one.State)
	assert.Equal(t, []Parameter{{Name: "Label", Parameter: "./@tt:label", Type: "string"}}, one.Parameters)

	two := snap.Events[1]
	require.Len(t, two.Parameters, 1)
	assert.True(t, two.Parameters[0].Required)

	four := snap.Events[3]
	assert.Equal(t, StateActive, four.State)
	assert.False(t, four.Trigger)
	assert.True(t, four.Modify)
	require.Len(t, four.Parameters, 1)
	assert.Equal(t, []Option{{Name: "Loud", Value: "1.0"}, {Name: "Quiet", Value: "0.2"}}, four.Parameters[0].Options)
	assert.Equal(t, testutil.EventsCount, f.store.Count(), "get never modifies the document")
}

func TestGet_ResolvesPreviewURL(t *testing.T) {
	f := newFixture(t, testutil.Events)
	require.NoError(t, f.store.SetAttributes(f.byID(t, "event1"), []tree.AttrUpdate{
		{Name: AttrPreviewURL, Value: "previews/one.png"},
	}))

	snap := f.engine.Get()
	assert.Equal(t, "http://media.example/previews/one.png", snap.Events[0].PreviewURL)
}

func TestTrigger_ClonesIntoTarget(t *testing.T) {
	f := newFixture(t, testutil.Events)
	count := f.store.Count()

	first, err := f.engine.Trigger("event1", nil)
	require.NoError(t, err)
	assert.Equal(t, count+3, f.store.Count())

	second, err := f.engine.Trigger("event1", nil)
	require.NoError(t, err)
	assert.Equal(t, count+6, f.store.Count())

	assert.Equal(t, "event1-1", first)
	assert.Equal(t, "event1-2", second)

	clone := f.byID(t, first)
	target := f.byID(t, "target")
	assert.Same(t, target, f.store.Parent(clone))
	assert.Same(t, clone, target.Children[len(target.Children)-2])
	assert.Equal(t, "Event One (1)", clone.Attr(tree.AttrName))
	assert.Equal(t, "Event One (2)", f.byID(t, second).Attr(tree.AttrName))
	assert.Nil(t, clone.FindChild(TagParameters))
	assert.False(t, f.engine.Authoritative())
}

func TestTrigger_UnknownAndNonTemplate(t *testing.T) {
	f := newFixture(t, testutil.Events)

	_, err := f.engine.Trigger("nope", nil)
	assert.True(t, fault.Is(err, fault.CodeNotFound))

	_, err = f.engine.Trigger("event4", nil)
	assert.True(t, fault.Is(err, fault.CodeMalformedPayload))
	assert.Equal(t, testutil.EventsCount, f.store.Count())
}

func TestTrigger_RequiredParameter(t *testing.T) {
	f := newFixture(t, testutil.Events)

	_, err := f.engine.Trigger("event2", nil)
	require.Error(t, err)
	assert.True(t, fault.Is(err, fault.CodeMalformedPayload))
	assert.Equal(t, testutil.EventsCount, f.store.Count())

	id, err := f.engine.Trigger("event2", []Param{{Parameter: "./tl:sleep/@tl:dur", Value: "42"}})
	require.NoError(t, err)
	assert.Equal(t, testutil.EventsCount+5, f.store.Count())

	clone := f.byID(t, id)
	assert.Equal(t, "42", clone.FindChild("tl:sleep").Attr("tl:dur"))
	assert.Equal(t, "0", f.byID(t, "event2").FindChild("tl:sleep").Attr("tl:dur"), "template is untouched")
	_, ok := f.store.ByID("event2-ref-1")
	assert.True(t, ok, "nested identifiers are disambiguated")
}

func TestTrigger_DefaultValueThenModify(t *testing.T) {
	f := newFixture(t, testutil.Events)

	id, err := f.engine.Trigger("event3", nil)
	require.NoError(t, err)
	assert.Equal(t, testutil.EventsCount+7, f.store.Count())

	snap := f.engine.Get()
	require.Len(t, snap.Events, 5)
	live := snap.Events[4]
	assert.Equal(t, id, live.ID)
	assert.Equal(t, StateActive, live.State)
	assert.True(t, live.Modify)

	require.NoError(t, f.engine.Modify(id, []Param{{Parameter: "./tl:sleep/@tl:dur", Value: "5"}}))
	assert.Equal(t, "5", f.byID(t, id).FindChild("tl:sleep").Attr("tl:dur"))
}

func TestModify_CoalescesPerElement(t *testing.T) {
	f := newFixture(t, testutil.Events)
	j := journal.New(f.store)

	require.True(t, j.StartListening(true))
	require.NoError(t, f.engine.Modify("event4", []Param{
		{Parameter: "./tl:ref/@tl:volume", Value: "0.2"},
		{Parameter: "./tl:ref/@tl:src", Value: "d.mp4"},
	}))
	cmds := j.StopListening()

	require.Len(t, cmds, 1)
	assert.Equal(t, journal.VerbChange, cmds[0].Verb)
	ref := f.byID(t, "event4").FindChild("tl:ref")
	assert.Equal(t, "0.2", ref.Attr("tl:volume"))
	assert.Equal(t, "d.mp4", ref.Attr("tl:src"))
}

func TestModify_NothingSupplied(t *testing.T) {
	f := newFixture(t, testutil.Events)
	j := journal.New(f.store)

	require.True(t, j.StartListening(true))
	require.NoError(t, f.engine.Modify("event4", nil))
	assert.Empty(t, j.StopListening())
}

func TestModify_Errors(t *testing.T) {
	f := newFixture(t, testutil.Events)

	assert.True(t, fault.Is(f.engine.Modify("nope", nil), fault.CodeNotFound))
	assert.True(t, fault.Is(f.engine.Modify("event1", nil), fault.CodeMalformedPayload))
	err := f.engine.Modify("event4", []Param{{Parameter: "./tl:missing/@tl:x", Value: "1"}})
	assert.True(t, fault.Is(err, fault.CodeNotFound))
}

func TestTrigger_FanOut(t *testing.T) {
	f := newFixture(t, testutil.FanOut)
	f.clock.Set(12500 * time.Millisecond)

	id, err := f.engine.Trigger("show", []Param{{Parameter: "./tt:fanout", Value: "hello"}})
	require.NoError(t, err)

	clone := f.byID(t, id)
	ref := clone.FindChild("tl:ref")
	assert.Equal(t, "hello", ref.Attr("tl:text"))
	assert.Equal(t, "12.5", ref.Attr("tl:begin"))
	assert.Equal(t, "hello", clone.FindChild("tl:label").Attr("tl:copy"))
}

func TestComputeValue(t *testing.T) {
	f := newFixture(t, testutil.FanOut)
	show := f.byID(t, "show")
	w := newWriter(f.engine, show, f.byID(t, "target"), true)

	tests := []struct {
		name string
		tmpl string
		want string
	}{
		{"literal", "plain", "plain"},
		{"value", "pre-{value()}-post", "pre-v-post"},
		{"clock", "{clock(.)}", "0"},
		{"element text", "[{./tl:label}]", "[caption]"},
		{"attribute", "{./@tt:name}", "Show"},
		{"no match", "{./tl:missing}", ""},
		{"two spans", "{value()}{value()}", "{value()}{value()}"},
		{"unbalanced", "}value(){", "}value(){"},
		{"unresolvable", "x{unknown()}y", "x{unknown()}y"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, f.engine.computeValue(tt.tmpl, "v", w))
		})
	}
}

func TestComputeValue_ClockUsesEpoch(t *testing.T) {
	f := newFixture(t, testutil.Events)
	f.clock.Set(10 * time.Second)
	event4 := f.byID(t, "event4")
	require.NoError(t, f.store.SetAttributes(event4, []tree.AttrUpdate{{Name: AttrEpoch, Value: "7.5"}}))

	w := newWriter(f.engine, event4, f.byID(t, "target"), false)
	assert.Equal(t, "2.5", f.engine.computeValue("{clock(.)}", "", w))
	assert.Equal(t, "10", f.engine.computeValue("{clock(..)}", "", w))
}

func TestEnqueueTriggerAndFinish(t *testing.T) {
	f := newFixture(t, testutil.Events)

	staged, err := f.engine.Enqueue("event1", []Param{{Parameter: "./@tt:label", Value: "hi"}})
	require.NoError(t, err)
	assert.Equal(t, "event1-1", staged)

	node := f.byID(t, staged)
	holder := f.store.Parent(node)
	assert.Equal(t, TagCompleteEvents, holder.Tag)
	assert.Same(t, f.byID(t, "target").Children[1], holder, "holding area follows tt:events")
	assert.Equal(t, "hi", node.Attr("tt:label"))
	assert.Equal(t, staged, node.Attr(AttrProductionID))

	snap := f.engine.Get()
	require.Len(t, snap.Events, 5)
	assert.Equal(t, StateReady, snap.Events[3].State)
	assert.Equal(t, staged, snap.Events[3].ProductionID)

	live, err := f.engine.Trigger(staged, nil)
	require.NoError(t, err)
	liveNode := f.byID(t, live)
	assert.Equal(t, "true", liveNode.Attr(AttrTransient))
	assert.Equal(t, staged, liveNode.Attr(AttrProductionID))
	assert.Equal(t, "hi", liveNode.Attr("tt:label"))

	progress := 3.0
	changed, err := f.engine.SetDocumentState(map[string]ElementState{live: {Progress: &progress}})
	require.NoError(t, err)
	assert.Equal(t, 1, changed)
	assert.Equal(t, "true", liveNode.Attr(AttrFinished))

	_, ok := f.store.ByID(staged)
	assert.False(t, ok, "staged copy is removed once its transient instance finishes")
	removed, err := f.engine.Dequeue(staged)
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestDequeue(t *testing.T) {
	f := newFixture(t, testutil.Events)
	staged, err := f.engine.Enqueue("event1", nil)
	require.NoError(t, err)
	count := f.store.Count()

	removed, err := f.engine.Dequeue(staged)
	require.NoError(t, err)
	assert.True(t, removed)
	assert.Equal(t, count-3, f.store.Count())

	_, err = f.engine.Dequeue("event4")
	assert.True(t, fault.Is(err, fault.CodeMalformedPayload))

	_, err = f.engine.Enqueue("event4", nil)
	assert.True(t, fault.Is(err, fault.CodeMalformedPayload))
}

func TestSetDocumentState_Lifecycle(t *testing.T) {
	f := newFixture(t, testutil.Events)
	f.clock.Set(10 * time.Second)
	event4 := f.byID(t, "event4")

	progress := 2.0
	changed, err := f.engine.SetDocumentState(map[string]ElementState{
		"event4":  {Running: true, Progress: &progress},
		"missing": {Running: true},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, changed)
	assert.Equal(t, "true", event4.Attr(AttrRunning))
	assert.Equal(t, "8", event4.Attr(AttrEpoch))
	assert.Equal(t, NSState, f.store.Root().Attr("xmlns:tls"))
	assert.True(t, f.clock.Running())
	assert.True(t, f.engine.Authoritative())

	f.source.Advance(time.Second)
	drift := 3.05
	changed, err = f.engine.SetDocumentState(map[string]ElementState{"event4": {Running: true, Progress: &drift}})
	require.NoError(t, err)
	assert.Equal(t, 0, changed, "sub-tolerance drift is not a change")
	assert.Equal(t, "8", event4.Attr(AttrEpoch))

	changed, err = f.engine.SetDocumentState(map[string]ElementState{"event4": {}})
	require.NoError(t, err)
	assert.Equal(t, 1, changed)
	_, running := event4.Get(AttrRunning)
	_, epoch := event4.Get(AttrEpoch)
	assert.False(t, running)
	assert.False(t, epoch)
	assert.False(t, f.clock.Running())
}

func TestSetDocumentState_FinishedIsNotListed(t *testing.T) {
	f := newFixture(t, testutil.Events)
	progress := 4.0

	_, err := f.engine.SetDocumentState(map[string]ElementState{"event4": {Progress: &progress}})
	require.NoError(t, err)

	assert.Equal(t, StateFinished, f.engine.Classify(f.byID(t, "event4")))
	assert.Equal(t, []string{"event1", "event2", "event3"}, ids(f.engine.Get()))
}
