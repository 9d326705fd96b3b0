package tree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/stagehand/internal/fault"
	"github.com/roach88/stagehand/internal/testutil"
)

func loadStore(t *testing.T, doc string) *Store {
	t.Helper()
	s, err := ParseStore([]byte(doc))
	require.NoError(t, err)
	return s
}

// recorder captures observer notifications as short strings.
type recorder struct {
	s      *Store
	events []string
}

func (r *recorder) Added(n *Node)    { r.events = append(r.events, "add "+r.s.PathOf(n)) }
func (r *recorder) Removing(n *Node) { r.events = append(r.events, "delete "+r.s.PathOf(n)) }
func (r *recorder) Changed(n *Node, text bool) {
	kind := "attrs "
	if text {
		kind = "text "
	}
	r.events = append(r.events, "change "+kind+r.s.PathOf(n))
}

func TestParse_Count(t *testing.T) {
	s := loadStore(t, testutil.Document)
	assert.Equal(t, testutil.DocumentCount, s.Count())

	s = loadStore(t, testutil.Events)
	assert.Equal(t, testutil.EventsCount, s.Count())
}

func TestParse_Errors(t *testing.T) {
	for name, doc := range map[string]string{
		"empty":        "",
		"unclosed":     "<a><b></a>",
		"two roots":    "<a/><b/>",
		"trailing":     "<a/>junk",
		"duplicate id": `<a><b xml:id="x"/><c xml:id="x"/></a>`,
		"dup attr":     `<a x="1" x="2"/>`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseStore([]byte(doc))
			require.Error(t, err)
			assert.True(t, fault.Is(err, fault.CodeMalformedPayload), "got %v", err)
		})
	}
}

func TestSerialize_RoundTrip(t *testing.T) {
	const doc = `<tl:doc xmlns:tl="urn:x" a="1"><second><second1 /><second2 b="&quot;q&quot; &amp; &lt;" /></second>text &amp; more<third>t</third></tl:doc>`
	root, err := Parse([]byte(doc))
	require.NoError(t, err)

	assert.Equal(t, doc, Serialize(root))
}

func TestSerialize_KeepsWhitespace(t *testing.T) {
	root, err := Parse([]byte(testutil.Document))
	require.NoError(t, err)

	out := Serialize(root)
	assert.Contains(t, out, "<first>\n        <firstChild1 />\n        <firstChild2 attr=\"value\" />\n    </first>")
	assert.NotContains(t, Serialize(root.Children[0]), "<second>", "subtree serialization stops at the element")
}

func TestParse_DropsCommentsAndDeclarations(t *testing.T) {
	root, err := Parse([]byte("<?xml version=\"1.0\"?>\n<!-- hi --><a><!-- inner --><b/></a>\n"))
	require.NoError(t, err)
	assert.Equal(t, "<a><b /></a>", Serialize(root))
}

func TestPathOf_RoundTrip(t *testing.T) {
	for _, doc := range []string{testutil.Document, testutil.Events, testutil.FanOut} {
		s := loadStore(t, doc)
		s.Root().Walk(func(n *Node) bool {
			p := s.PathOf(n)
			got, err := s.Resolve(p, nil)
			require.NoError(t, err, "path %s", p)
			assert.Same(t, n, got, "path %s", p)
			return true
		})
	}
}

func TestPathOf_Format(t *testing.T) {
	s := loadStore(t, testutil.Document)

	second3, err := s.Resolve("second/second3", nil)
	require.NoError(t, err)
	assert.Equal(t, "/testDocument/second[1]/second3[1]", s.PathOf(second3))
	assert.Equal(t, "/testDocument", s.PathOf(s.Root()))
	assert.Equal(t, "", s.PathOf(NewNode("detached")))
}

func TestResolve_Forms(t *testing.T) {
	s := loadStore(t, testutil.Events)

	tests := []struct {
		path string
		id   string
	}{
		{"/tl:document/tl:par/tt:events/tl:par[1]", "event1"},
		{"tl:par/tt:events/tl:seq", "event2"},
		{"//tl:par[@xml:id='event3']", "event3"},
		{"//tl:ref[@xml:id]", "event2-ref"},
		{"tl:par/tt:events/*[2]", "event2"},
		{"//tl:ref[@xml:id]/../..", "event2"},
		{"tl:par/./tl:par", "event4"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			n, err := s.Resolve(tt.path, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.id, n.ID())
		})
	}
}

func TestResolve_Relative(t *testing.T) {
	s := loadStore(t, testutil.Events)
	event2, ok := s.ByID("event2")
	require.True(t, ok)

	n, err := s.Resolve("./tl:sleep", event2)
	require.NoError(t, err)
	assert.Equal(t, "0", n.Attr("tl:dur"))

	n, err = s.Resolve(".", event2)
	require.NoError(t, err)
	assert.Same(t, event2, n)
}

func TestResolve_Errors(t *testing.T) {
	s := loadStore(t, testutil.Document)

	_, err := s.Resolve("second/nothing", nil)
	assert.True(t, fault.Is(err, fault.CodeNotFound))

	_, err = s.Resolve("second/*", nil)
	assert.True(t, fault.Is(err, fault.CodeAmbiguousMatch))
	assert.Contains(t, err.Error(), "path matches 3 elements")

	_, err = s.Resolve("second[0]", nil)
	assert.True(t, fault.Is(err, fault.CodeMalformedPayload))

	_, err = s.Resolve("/", nil)
	assert.True(t, fault.Is(err, fault.CodeMalformedPayload))

	_, err = s.Resolve("/..", nil)
	assert.Error(t, err)
}

func TestSplitAttr(t *testing.T) {
	tests := []struct{ in, elem, attr string }{
		{"./tl:sleep/@tl:dur", "./tl:sleep", "tl:dur"},
		{"@tt:label", ".", "tt:label"},
		{"./@tt:label", ".", "tt:label"},
		{"a/b", "a/b", ""},
		{"a[@x='1']/b", "a[@x='1']/b", ""},
	}
	for _, tt := range tests {
		elem, attr := SplitAttr(tt.in)
		assert.Equal(t, tt.elem, elem, tt.in)
		assert.Equal(t, tt.attr, attr, tt.in)
	}
}

func TestInsert_Positions(t *testing.T) {
	s := loadStore(t, testutil.Document)
	third, err := s.Resolve("third", nil)
	require.NoError(t, err)

	t3 := NewNode("third3")
	require.NoError(t, s.Insert(third, t3, Begin))
	require.NoError(t, s.Insert(t3, NewNode("third2"), Before))
	require.NoError(t, s.Insert(t3, NewNode("third4"), After))
	require.NoError(t, s.Insert(third, NewNode("third1"), Begin))
	require.NoError(t, s.Insert(third, NewNode("third5"), End))

	assert.Equal(t, testutil.DocumentCount+5, s.Count())
	assert.Equal(t, "<third><third1 /><third2 /><third3 /><third4 /><third5 /></third>", Serialize(third))
	assert.Equal(t, "/testDocument/third[1]/third3[1]", s.PathOf(t3))
}

func TestInsert_Replace(t *testing.T) {
	s := loadStore(t, `<a><b xml:id="x"><c xml:id="y"/></b><d/></a>`)
	rec := &recorder{s: s}
	s.SetObserver(rec)

	b, _ := s.ByID("x")
	repl := &Node{Tag: "e", Attrs: Attrs{{AttrID, "x"}}}
	require.NoError(t, s.Insert(b, repl, Replace))

	assert.Equal(t, `<a><e xml:id="x" /><d /></a>`, Serialize(s.Root()))
	got, ok := s.ByID("x")
	assert.True(t, ok)
	assert.Same(t, repl, got)
	_, ok = s.ByID("y")
	assert.False(t, ok)
	assert.Equal(t, []string{"delete /a/b[1]", "add /a/e[1]"}, rec.events)
}

func TestInsert_ClearsTail(t *testing.T) {
	s := loadStore(t, `<a><b/></a>`)
	n := &Node{Tag: "c", Tail: "\n   "}
	require.NoError(t, s.Insert(s.Root(), n, End))
	assert.Equal(t, `<a><b /><c /></a>`, Serialize(s.Root()))
}

func TestInsert_Validation(t *testing.T) {
	s := loadStore(t, `<a><b xml:id="x"/></a>`)
	rec := &recorder{s: s}
	s.SetObserver(rec)
	before := Serialize(s.Root())

	err := s.Insert(s.Root(), &Node{Tag: "c", Attrs: Attrs{{AttrID, "x"}}}, End)
	assert.True(t, fault.Is(err, fault.CodeMalformedPayload))

	err = s.Insert(s.Root(), NewNode("c"), Before)
	assert.True(t, fault.Is(err, fault.CodeMalformedPayload))

	err = s.Insert(NewNode("detached"), NewNode("c"), End)
	assert.True(t, fault.Is(err, fault.CodeMalformedPayload))

	b, _ := s.ByID("x")
	err = s.Insert(s.Root(), b, End)
	assert.True(t, fault.Is(err, fault.CodeMalformedPayload))

	assert.Equal(t, before, Serialize(s.Root()), "failed inserts leave the tree untouched")
	assert.Empty(t, rec.events)
}

func TestRemove(t *testing.T) {
	s := loadStore(t, testutil.Events)
	rec := &recorder{s: s}
	s.SetObserver(rec)

	event2, _ := s.ByID("event2")
	ref := event2.Children[2].Children[0]
	require.NoError(t, s.Remove(event2))

	assert.Equal(t, testutil.EventsCount-7, s.Count())
	assert.False(t, s.Contains(event2))
	assert.False(t, s.Contains(ref), "descendants are unregistered")
	_, ok := s.ByID("event2-ref")
	assert.False(t, ok)
	assert.True(t, s.HasName("Event Two"), "names are never dropped")
	assert.Equal(t, []string{"delete /tl:document/tl:par[1]/tt:events[1]/tl:seq[1]"}, rec.events)

	assert.Error(t, s.Remove(event2))
	assert.Error(t, s.Remove(s.Root()))
}

func TestSetAttributes(t *testing.T) {
	s := loadStore(t, `<a><b xml:id="x" p="1" q="2"/></a>`)
	rec := &recorder{s: s}
	s.SetObserver(rec)
	b, _ := s.ByID("x")

	require.NoError(t, s.SetAttributes(b, []AttrUpdate{
		{Name: "q", Value: "3"},
		{Name: "p", Delete: true},
		{Name: "r", Value: "4"},
	}))
	assert.Equal(t, `<b xml:id="x" q="3" r="4" />`, Serialize(b))
	assert.Len(t, rec.events, 1, "one change for the whole diff")

	require.NoError(t, s.SetAttributes(b, []AttrUpdate{{Name: "q", Value: "3"}}))
	assert.Len(t, rec.events, 1, "no-op diffs are not reported")

	require.NoError(t, s.SetAttributes(b, []AttrUpdate{{Name: AttrID, Value: "y"}}))
	_, ok := s.ByID("x")
	assert.False(t, ok)
	got, ok := s.ByID("y")
	assert.True(t, ok)
	assert.Same(t, b, got)
}

func TestSetAttributes_DuplicateID(t *testing.T) {
	s := loadStore(t, `<a><b xml:id="x"/><c xml:id="y"/></a>`)
	c, _ := s.ByID("y")

	err := s.SetAttributes(c, []AttrUpdate{{Name: AttrID, Value: "x"}})
	assert.True(t, fault.Is(err, fault.CodeMalformedPayload))
	assert.Equal(t, "y", c.ID())
}

func TestSetText(t *testing.T) {
	s := loadStore(t, `<a><b>old</b></a>`)
	rec := &recorder{s: s}
	s.SetObserver(rec)
	b := s.Root().Children[0]

	require.NoError(t, s.SetText(b, "new & improved"))
	assert.Equal(t, `<a><b>new &amp; improved</b></a>`, Serialize(s.Root()))
	assert.Equal(t, []string{"change text /a/b[1]"}, rec.events)
}

func TestAfterCopy_IdentifierSequence(t *testing.T) {
	s := loadStore(t, `<a><b xml:id="x"/></a>`)
	b, _ := s.ByID("x")

	first := b.Clone()
	s.AfterCopy(first)
	require.NoError(t, s.Insert(s.Root(), first, End))
	assert.Equal(t, "x-1", first.ID())

	second := b.Clone()
	s.AfterCopy(second)
	require.NoError(t, s.Insert(s.Root(), second, End))
	assert.Equal(t, "x-2", second.ID())

	third := first.Clone()
	s.AfterCopy(third)
	assert.Equal(t, "x-3", third.ID(), "an existing suffix is incremented")
}

func TestAfterCopy_RetiredIdentifiersNotReused(t *testing.T) {
	s := loadStore(t, `<a><b xml:id="x"/><b xml:id="x-1"/></a>`)
	gone, _ := s.ByID("x-1")
	require.NoError(t, s.Remove(gone))

	b, _ := s.ByID("x")
	c := b.Clone()
	s.AfterCopy(c)
	assert.Equal(t, "x-2", c.ID())
}

func TestAfterCopy_Subtree(t *testing.T) {
	s := loadStore(t, testutil.Events)
	event2, _ := s.ByID("event2")

	c := event2.Clone()
	s.AfterCopy(c)

	assert.Equal(t, "event2-1", c.ID())
	assert.Equal(t, "event2-ref-1", c.Children[2].Children[0].ID())
	assert.Equal(t, "Event Two (1)", c.Attr(AttrName))
	assert.Equal(t, "", c.Children[2].Children[1].ID(), "nodes without identifiers stay without")
}

func TestAfterCopy_NameSequence(t *testing.T) {
	s := loadStore(t, `<a><b tt:name="Show"/><b tt:name="Show (1)"/></a>`)
	c := s.Root().Children[0].Clone()
	s.AfterCopy(c)
	assert.Equal(t, "Show (2)", c.Attr(AttrName))
}

func TestAfterCopy_HugeSuffix(t *testing.T) {
	tests := []struct {
		id   string
		want string
	}{
		{"x-9223372036854775806", "x-9223372036854775807"},
		{"x-9223372036854775807", "x-9223372036854775807-1"},
		{"x-99999999999999999999", "x-99999999999999999999-1"},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			s := loadStore(t, `<a><b xml:id="`+tt.id+`"/></a>`)
			c := s.Root().Children[0].Clone()
			s.AfterCopy(c)
			assert.Equal(t, tt.want, c.ID())
		})
	}

	s := loadStore(t, `<a><b tt:name="Show (99999999999999999999)"/></a>`)
	c := s.Root().Children[0].Clone()
	s.AfterCopy(c)
	assert.Equal(t, "Show (99999999999999999999) (1)", c.Attr(AttrName))
}

func TestAttrs_Helpers(t *testing.T) {
	a := Attrs{{"x", "1"}}
	a = a.Set("y", "2").Set("x", "3")
	assert.Equal(t, Attrs{{"x", "3"}, {"y", "2"}}, a)
	assert.Equal(t, Attrs{{"y", "2"}}, a.Clone().Delete("x"))
	assert.True(t, a.Equal(a.Clone()))

	n := &Node{Tag: "label", Text: "cap", Children: []*Node{{Tag: "i", Text: "ti", Tail: "on"}}}
	assert.Equal(t, "caption", n.TextContent())
}

func TestParseWhere(t *testing.T) {
	w, err := ParseWhere("after")
	require.NoError(t, err)
	assert.Equal(t, After, w)
	assert.Equal(t, "replace", Replace.String())

	_, err = ParseWhere("sideways")
	assert.True(t, fault.Is(err, fault.CodeMalformedPayload))
}
