package document

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/stagehand/internal/clock"
	"github.com/roach88/stagehand/internal/events"
	"github.com/roach88/stagehand/internal/fault"
	"github.com/roach88/stagehand/internal/forward"
	"github.com/roach88/stagehand/internal/journal"
	"github.com/roach88/stagehand/internal/testutil"
	"github.com/roach88/stagehand/internal/tree"
)

func load(t *testing.T, doc string, opts Options) *Document {
	t.Helper()
	if opts.Source == nil {
		opts.Source = clock.NewFastSource()
	}
	d := New("doc", opts)
	require.NoError(t, d.LoadXML([]byte(doc)))
	return d
}

func TestGet(t *testing.T) {
	d := load(t, testutil.Document, Options{})

	for _, path := range []string{"/testDocument/first/firstChild2", "first/firstChild2"} {
		got, err := d.Get(path, MimeXML)
		require.NoError(t, err)
		assert.Equal(t, `<firstChild2 attr="value" />`, got)
	}

	got, err := d.Get("first/firstChild2", MimeJSON)
	require.NoError(t, err)
	assert.JSONEq(t, `{"attr":"value"}`, got)
	assert.Equal(t, testutil.DocumentCount, d.Count())

	_, err = d.Get("first/firstChild2", "text/plain")
	assert.True(t, fault.Is(err, fault.CodeMalformedPayload))
	_, err = d.Get("nothing", MimeXML)
	assert.True(t, fault.Is(err, fault.CodeNotFound))
}

func TestPaste_XML(t *testing.T) {
	d := load(t, testutil.Document, Options{})
	ctx := context.Background()

	path, err := d.Paste(ctx, "third", tree.Begin, "", `<thirdChild><thirdGrandChild depth="3" /></thirdChild>`, MimeXML)
	require.NoError(t, err)
	assert.Equal(t, "/testDocument/third[1]/thirdChild[1]", path)
	assert.Equal(t, testutil.DocumentCount+2, d.Count())

	got, err := d.Get("third/thirdChild/thirdGrandChild", MimeJSON)
	require.NoError(t, err)
	assert.JSONEq(t, `{"depth":"3"}`, got)
}

func TestPaste_JSON(t *testing.T) {
	d := load(t, testutil.Document, Options{})

	path, err := d.Paste(context.Background(), "third", tree.Begin, "thirdChild", `{"depth":"2"}`, MimeJSON)
	require.NoError(t, err)
	assert.Equal(t, "/testDocument/third[1]/thirdChild[1]", path)
	assert.Equal(t, testutil.DocumentCount+1, d.Count())

	_, err = d.Paste(context.Background(), "third", tree.Begin, "", `{}`, MimeJSON)
	assert.True(t, fault.Is(err, fault.CodeMalformedPayload))
	_, err = d.Paste(context.Background(), "third", tree.Begin, "", `<broken`, MimeXML)
	assert.True(t, fault.Is(err, fault.CodeMalformedPayload))
}

func TestPaste_Positions(t *testing.T) {
	d := load(t, testutil.Document, Options{})
	ctx := context.Background()

	path, err := d.Paste(ctx, "third", tree.Begin, "third3", "{}", MimeJSON)
	require.NoError(t, err)
	_, err = d.Paste(ctx, path, tree.Before, "third2", "{}", MimeJSON)
	require.NoError(t, err)
	_, err = d.Paste(ctx, path, tree.After, "third4", "{}", MimeJSON)
	require.NoError(t, err)
	_, err = d.Paste(ctx, "third", tree.Begin, "third1", "{}", MimeJSON)
	require.NoError(t, err)
	_, err = d.Paste(ctx, "third", tree.End, "third5", "{}", MimeJSON)
	require.NoError(t, err)

	assert.Equal(t, testutil.DocumentCount+5, d.Count())
	got, err := d.Get("third", MimeXML)
	require.NoError(t, err)
	assert.Equal(t, "<third><third1 /><third2 /><third3 /><third4 /><third5 /></third>", got)
}

func TestMove(t *testing.T) {
	d := load(t, testutil.Document, Options{})
	ctx := context.Background()

	path, err := d.Move(ctx, "second/second2", tree.Before, "second/second3")
	require.NoError(t, err)
	assert.Equal(t, "/testDocument/second[1]/second3[1]", path)

	path, err = d.Move(ctx, "second/second2", tree.After, "second/second1")
	require.NoError(t, err)
	assert.Equal(t, "/testDocument/second[1]/second1[1]", path)

	got, err := d.Get("second", MimeXML)
	require.NoError(t, err)
	assert.Equal(t, "<second><second3 /><second2 /><second1 /></second>", got)
	assert.Equal(t, testutil.DocumentCount, d.Count())
}

func TestMove_IntoItself(t *testing.T) {
	d := load(t, testutil.Document, Options{})

	_, err := d.Move(context.Background(), "first/firstChild1", tree.End, "first")
	assert.True(t, fault.Is(err, fault.CodeMalformedPayload))
	assert.Equal(t, testutil.DocumentCount, d.Count())
}

func TestCopy(t *testing.T) {
	d := load(t, testutil.Document, Options{})
	ctx := context.Background()

	path, err := d.Copy(ctx, "second/second2", tree.Before, "second/second3")
	require.NoError(t, err)
	assert.Equal(t, "/testDocument/second[1]/second3[1]", path)

	path, err = d.Copy(ctx, "second/second2", tree.After, "second/second1")
	require.NoError(t, err)
	assert.Equal(t, "/testDocument/second[1]/second1[2]", path)

	got, err := d.Get("second", MimeXML)
	require.NoError(t, err)
	assert.Equal(t, "<second><second1 /><second3 /><second2 /><second1 /><second3 /></second>", got)
	assert.Equal(t, testutil.DocumentCount+2, d.Count())
}

func TestCutAndModify(t *testing.T) {
	d := load(t, testutil.Document, Options{})
	ctx := context.Background()

	cut, err := d.Cut(ctx, "first/firstChild2", MimeXML)
	require.NoError(t, err)
	assert.Equal(t, `<firstChild2 attr="value" />`, cut)
	assert.Equal(t, testutil.DocumentCount-1, d.Count())

	require.NoError(t, d.ModifyAttributes(ctx, "third", `{"a":"1","b":"2"}`))
	require.NoError(t, d.ModifyAttributes(ctx, "third", `{"a":null}`))
	require.NoError(t, d.ModifyData(ctx, "third", "hello"))
	got, err := d.Get("third", MimeXML)
	require.NoError(t, err)
	assert.Equal(t, `<third b="2">hello</third>`, got)
}

func TestEdit_ConflictWhileScopeOpen(t *testing.T) {
	d := load(t, testutil.Events, Options{})
	require.True(t, d.journal.StartListening(false))

	_, err := d.Trigger(context.Background(), "event1", nil)
	assert.True(t, fault.Is(err, fault.CodeConflictingEdit))
	assert.Equal(t, testutil.EventsCount, d.Count())

	d.journal.StopListening()
	_, err = d.Trigger(context.Background(), "event1", nil)
	assert.NoError(t, err)
}

func TestEvents_TriggerTwice(t *testing.T) {
	d := load(t, testutil.Events, Options{})
	ctx := context.Background()
	assert.Len(t, d.Events().Events, 4)

	first, err := d.Trigger(ctx, "event1", nil)
	require.NoError(t, err)
	second, err := d.Trigger(ctx, "event1", nil)
	require.NoError(t, err)

	assert.NotEqual(t, "event1", first)
	assert.NotEqual(t, first, second)
	assert.Equal(t, testutil.EventsCount+6, d.Count())
}

func TestReplica_MatchesPrimary(t *testing.T) {
	primary := load(t, testutil.Events, Options{})
	replica := load(t, testutil.Events, Options{})
	primary.AddReplica(replica)
	ctx := context.Background()
	oldCount := primary.Count()

	_, err := primary.Trigger(ctx, "event1", nil)
	require.NoError(t, err)
	_, err = primary.Trigger(ctx, "event1", nil)
	require.NoError(t, err)
	assert.Equal(t, oldCount+6, primary.Count())
	assert.Equal(t, oldCount+6, replica.Count())

	id, err := primary.Trigger(ctx, "event3", []events.Param{{Parameter: "./tl:sleep/@tl:dur", Value: "42"}})
	require.NoError(t, err)
	require.NoError(t, primary.Modify(ctx, id, []events.Param{{Parameter: "./tl:sleep/@tl:dur", Value: "0"}}))
	require.NoError(t, primary.Modify(ctx, "event4", nil))
	progress := 1.5
	_, err = primary.SetDocumentState(ctx, map[string]events.ElementState{"event4": {Running: true, Progress: &progress}})
	require.NoError(t, err)

	assert.Equal(t, primary.Generation(), replica.Generation())
	assert.Equal(t, primary.Count(), replica.Count())
	assert.Equal(t, primary.Timeline(false), replica.Timeline(false))
	assert.Equal(t, []string{"doc"}, primary.Listeners())
}

// gatedListener holds back generation 1 until released.
type gatedListener struct {
	forward.Listener
	entered chan struct{}
	release chan struct{}

	mu    sync.Mutex
	order []int64
}

func (l *gatedListener) Deliver(ctx context.Context, b journal.Batch, wantState bool) error {
	if b.Generation == 1 {
		close(l.entered)
		<-l.release
	}
	l.mu.Lock()
	l.order = append(l.order, b.Generation)
	l.mu.Unlock()
	return l.Listener.Deliver(ctx, b, wantState)
}

func TestReplica_ConcurrentEditsArriveInOrder(t *testing.T) {
	primary := load(t, testutil.Document, Options{})
	replica := load(t, testutil.Document, Options{})
	gate := &gatedListener{
		Listener: forward.NewReplica(replica.ID(), replica),
		entered:  make(chan struct{}),
		release:  make(chan struct{}),
	}
	primary.forwarder.AddListener(gate)
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := primary.Paste(ctx, "third", tree.End, "", "<x />", MimeXML)
		assert.NoError(t, err)
	}()
	<-gate.entered

	go func() {
		defer wg.Done()
		_, err := primary.Paste(ctx, "third/x", tree.After, "", "<y />", MimeXML)
		assert.NoError(t, err)
	}()
	require.Eventually(t, func() bool {
		return primary.Count() == testutil.DocumentCount+2
	}, 5*time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(gate.release)
	wg.Wait()

	assert.Equal(t, []int64{1, 2}, gate.order)
	assert.Equal(t, primary.Count(), replica.Count())
	assert.Equal(t, primary.Timeline(false), replica.Timeline(false))
	assert.Equal(t, []string{"doc"}, primary.Listeners())
}

func TestReplay_HistoryRebuildsDocument(t *testing.T) {
	primary := load(t, testutil.Events, Options{})
	primary.AddReplica(load(t, testutil.Events, Options{}))
	ctx := context.Background()

	_, err := primary.Trigger(ctx, "event2", []events.Param{{Parameter: "./tl:sleep/@tl:dur", Value: "42"}})
	require.NoError(t, err)
	_, err = primary.Enqueue(ctx, "event1", nil)
	require.NoError(t, err)
	_, err = primary.Paste(ctx, "/tl:document", tree.End, "tl:extra", `{"x":"1"}`, MimeJSON)
	require.NoError(t, err)

	history := primary.History(0)
	require.Len(t, history, 3)
	assert.Len(t, primary.History(2), 1)

	rebuilt := load(t, testutil.Events, Options{})
	for _, b := range history {
		require.NoError(t, rebuilt.ApplyBatch(ctx, b))
	}
	assert.Equal(t, primary.Timeline(false), rebuilt.Timeline(false))
}

func TestApplyBatch_Failure(t *testing.T) {
	d := load(t, testutil.Document, Options{})
	err := d.ApplyBatch(context.Background(), journal.Batch{
		Generation: 3,
		Operations: []journal.Command{journal.Delete("/testDocument/nothing[1]")},
	})
	assert.True(t, fault.Is(err, fault.CodeNotFound))
	assert.Equal(t, testutil.DocumentCount, d.Count())
}

func TestEdit_NoBatchWithoutListeners(t *testing.T) {
	d := load(t, testutil.Events, Options{})

	_, err := d.Trigger(context.Background(), "event1", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), d.Generation())
	assert.Empty(t, d.History(0))
}

type fakePersister struct {
	mu        sync.Mutex
	batches   []int64
	snapshots map[int64]string
}

func (p *fakePersister) SaveBatch(_ context.Context, _ string, b journal.Batch) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.batches = append(p.batches, b.Generation)
	return nil
}

func (p *fakePersister) SaveSnapshot(_ context.Context, _ string, xml string, gen int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.snapshots == nil {
		p.snapshots = make(map[int64]string)
	}
	p.snapshots[gen] = xml
	return nil
}

func TestEdit_PersistsBatchAndSnapshot(t *testing.T) {
	p := &fakePersister{}
	d := load(t, testutil.Events, Options{Persister: p})

	_, err := d.Trigger(context.Background(), "event1", nil)
	require.NoError(t, err)

	assert.Equal(t, []int64{1}, p.batches)
	assert.Equal(t, d.Timeline(false), p.snapshots[1])
	assert.Contains(t, p.snapshots[1], `tls:generation="1"`)
}

func TestTimeline_Viewer(t *testing.T) {
	d := load(t, testutil.Events, Options{})

	full := d.Timeline(false)
	viewer := d.Timeline(true)
	assert.Contains(t, full, "<tt:events>")
	assert.NotContains(t, viewer, "tt:events")
	assert.NotContains(t, viewer, "tt:modparameters")
	assert.Contains(t, viewer, `xml:id="event4"`)
	assert.Equal(t, testutil.EventsCount, d.Count(), "viewer rendering leaves the document alone")
}

func TestLiveInfoAndClientConfig(t *testing.T) {
	source := clock.NewFastSource()
	d := load(t, testutil.Events, Options{
		Mode:     "tv",
		Source:   source,
		Services: Services{Websocket: "ws://ws.example"},
	})
	progress := 2.0
	_, err := d.SetDocumentState(context.Background(), map[string]events.ElementState{"event4": {Running: true, Progress: &progress}})
	require.NoError(t, err)
	source.Advance(1500 * time.Millisecond)

	info := d.LiveInfo()
	assert.Equal(t, LiveInfo{Clock: 1.5, Running: true, TimelineAuthoritative: true, Mode: "tv"}, info)

	cfg := d.ClientConfig(ServiceInput{Timeline: "http://x/timeline.xml"}, "", "")
	assert.Equal(t, "tv", cfg.Mode)
	assert.Equal(t, map[string]string{"websocketService": "ws://ws.example"}, cfg.ServiceOverride)
	assert.Equal(t, "standalone", d.ClientConfig(ServiceInput{}, "", "standalone").Mode)
}

func TestLoad_FileAndHTTP(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.xml")
	require.NoError(t, os.WriteFile(path, []byte(testutil.Document), 0o644))

	d := New("doc", Options{})
	require.NoError(t, d.Load(context.Background(), "file://"+path))
	assert.Equal(t, testutil.DocumentCount, d.Count())
	assert.Equal(t, "testDocument", d.Description())

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(testutil.Events))
	}))
	defer srv.Close()
	require.NoError(t, d.Load(context.Background(), srv.URL+"/events.xml"))
	assert.Equal(t, testutil.EventsCount, d.Count())
	assert.Contains(t, d.Dump(), srv.URL+"/events.xml")

	err := d.Load(context.Background(), "ftp://example.com/doc.xml")
	assert.True(t, fault.Is(err, fault.CodeMalformedPayload))
}

func TestSave(t *testing.T) {
	d := load(t, testutil.Document, Options{})
	path := filepath.Join(t.TempDir(), "out.xml")
	require.NoError(t, d.Save(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, d.Timeline(false)+"\n", string(data))
}

type fakePublisher struct {
	mu       sync.Mutex
	topics   []string
	messages []EventsMessage
}

func (p *fakePublisher) Publish(topic string, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	p.messages = append(p.messages, payload.(EventsMessage))
	return nil
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.messages)
}

func TestRun_BroadcastsAfterChanges(t *testing.T) {
	pub := &fakePublisher{}
	d := load(t, testutil.Events, Options{Publisher: pub})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	assert.Eventually(t, func() bool { return pub.count() == 1 }, time.Second, 5*time.Millisecond, "load broadcasts")

	_, err := d.Trigger(context.Background(), "event3", nil)
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return pub.count() == 2 }, time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	pub.mu.Lock()
	defer pub.mu.Unlock()
	assert.Equal(t, EventsTopic("doc"), pub.topics[1])
	assert.Equal(t, "doc", pub.messages[1].Document)
	assert.Len(t, pub.messages[1].Events, 5)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(testutil.NewSequentialIDs(""), Options{Source: clock.NewFastSource()}, nil)
	ctx := context.Background()

	a, err := r.Create(ctx, []byte(testutil.Document))
	require.NoError(t, err)
	b, err := r.Create(ctx, []byte(testutil.Events))
	require.NoError(t, err)
	assert.Equal(t, "doc-00000001", a.ID())

	_, err = r.Create(ctx, []byte("<broken"))
	assert.True(t, fault.Is(err, fault.CodeMalformedPayload))

	assert.Equal(t, []Info{
		{ID: "doc-00000001", Description: "testDocument"},
		{ID: "doc-00000002", Description: "tl:document"},
	}, r.List())

	got, err := r.Get(b.ID())
	require.NoError(t, err)
	assert.Same(t, b, got)

	progress := 1.0
	require.NoError(t, r.SetDocumentState(ctx, b.ID(), map[string]events.ElementState{"event4": {Running: true, Progress: &progress}}))
	assert.True(t, b.LiveInfo().Running)

	r.SetMode("tv")
	assert.Equal(t, "tv", b.Events().Mode)

	require.NoError(t, r.Delete(ctx, a.ID()))
	_, err = r.Get(a.ID())
	assert.True(t, fault.Is(err, fault.CodeNotFound))
	assert.True(t, fault.Is(r.Delete(ctx, a.ID()), fault.CodeNotFound))
}

func TestUUIDv7Generator(t *testing.T) {
	g := UUIDv7Generator{}
	a, b := g.NewID(), g.NewID()
	assert.Len(t, a, 36)
	assert.NotEqual(t, a, b)
}
