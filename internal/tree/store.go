package tree

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/roach88/stagehand/internal/fault"
)

// Where is an insertion position relative to an anchor element.
type Where int

const (
	Begin Where = iota
	End
	Before
	After
	Replace
)

var whereNames = [...]string{"begin", "end", "before", "after", "replace"}

// String returns the wire name of w.
func (w Where) String() string {
	if w < 0 || int(w) >= len(whereNames) {
		return fmt.Sprintf("Where(%d)", int(w))
	}
	return whereNames[w]
}

// ParseWhere parses an insertion position. Unknown names are a
// MalformedPayload fault.
func ParseWhere(s string) (Where, error) {
	for i, name := range whereNames {
		if s == name {
			return Where(i), nil
		}
	}
	return 0, fault.Malformed("unknown insertion position %q", s)
}

// Observer is told about every structural change made through a Store.
// Added is called after the subtree is in place, Removing before it is
// detached, Changed after attributes or text were updated.
type Observer interface {
	Added(n *Node)
	Removing(n *Node)
	Changed(n *Node, textChanged bool)
}

// AttrUpdate is one entry of an attribute diff. Delete removes the attribute
// and ignores Value.
type AttrUpdate struct {
	Name   string
	Value  string
	Delete bool
}

// Store owns a tree and its derived indices.
//
// Thread-safety: a Store is not safe for concurrent use. The owning
// document serializes access with its own lock.
type Store struct {
	root     *Node
	wrapper  *Node
	parents  map[*Node]*Node
	ids      map[string]*Node
	names    map[string]struct{}
	retired  map[string]struct{}
	observer Observer
}

// NewStore takes ownership of root and indexes it. Duplicate identifiers in
// the input are a MalformedPayload fault.
func NewStore(root *Node) (*Store, error) {
	s := &Store{
		root:    root,
		wrapper: &Node{Children: []*Node{root}},
		parents: make(map[*Node]*Node),
		ids:     make(map[string]*Node),
		names:   make(map[string]struct{}),
		retired: make(map[string]struct{}),
	}
	if err := s.checkIDs(root, nil); err != nil {
		return nil, err
	}
	s.register(root, nil)
	return s, nil
}

// ParseStore parses data and indexes the result.
func ParseStore(data []byte) (*Store, error) {
	root, err := Parse(data)
	if err != nil {
		return nil, fault.MalformedWrap(err, "document is not well-formed")
	}
	return NewStore(root)
}

// SetObserver installs the structural-change observer (nil to remove).
func (s *Store) SetObserver(o Observer) {
	s.observer = o
}

// Root returns the document element.
func (s *Store) Root() *Node {
	return s.root
}

// Count returns the number of elements in the document.
func (s *Store) Count() int {
	return s.root.Count()
}

// Contains reports whether n is part of this document.
func (s *Store) Contains(n *Node) bool {
	if n == s.root {
		return true
	}
	_, ok := s.parents[n]
	return ok
}

// Parent returns the parent of n, or nil for the root and detached nodes.
func (s *Store) Parent(n *Node) *Node {
	return s.parents[n]
}

// ByID returns the element carrying xml:id id.
func (s *Store) ByID(id string) (*Node, bool) {
	n, ok := s.ids[id]
	return n, ok
}

// HasName reports whether name has ever been used as a tt:name in this document.
func (s *Store) HasName(name string) bool {
	_, ok := s.names[name]
	return ok
}

// PathOf returns an absolute path that resolves back to n. Every segment
// below the root carries a 1-based index among same-tag siblings.
func (s *Store) PathOf(n *Node) string {
	if n == s.root {
		return "/" + n.Tag
	}
	var segments []string
	for cur := n; cur != s.root; {
		parent, ok := s.parents[cur]
		if !ok {
			return ""
		}
		index := 1
		for _, sib := range parent.Children {
			if sib == cur {
				break
			}
			if sib.Tag == cur.Tag {
				index++
			}
		}
		segments = append(segments, cur.Tag+"["+strconv.Itoa(index)+"]")
		cur = parent
	}
	var sb strings.Builder
	sb.WriteString("/")
	sb.WriteString(s.root.Tag)
	for i := len(segments) - 1; i >= 0; i-- {
		sb.WriteByte('/')
		sb.WriteString(segments[i])
	}
	return sb.String()
}

// ResolveAll returns every element path selects. Relative paths start at ctx,
// or at the root when ctx is nil.
func (s *Store) ResolveAll(path string, ctx *Node) ([]*Node, error) {
	p, err := ParsePath(path)
	if err != nil {
		return nil, fault.MalformedWrap(err, "bad path")
	}
	if ctx == nil {
		ctx = s.root
	}
	nodes := p.selectAll(ctx, s.wrapper, func(n *Node) *Node {
		if n == s.root {
			return s.wrapper
		}
		return s.parents[n]
	})
	out := nodes[:0]
	for _, n := range nodes {
		if n != s.wrapper {
			out = append(out, n)
		}
	}
	return out, nil
}

// Resolve returns the single element path selects. Zero matches is a
// NotFound fault, more than one an AmbiguousMatch fault.
func (s *Store) Resolve(path string, ctx *Node) (*Node, error) {
	nodes, err := s.ResolveAll(path, ctx)
	if err != nil {
		return nil, err
	}
	switch len(nodes) {
	case 0:
		return nil, fault.NotFoundPath(path)
	case 1:
		return nodes[0], nil
	default:
		return nil, fault.Ambiguous(path, len(nodes))
	}
}

// Insert places the detached subtree n relative to anchor. The tail of n is
// cleared. Replace removes anchor first and puts n in its place.
func (s *Store) Insert(anchor *Node, n *Node, where Where) error {
	if !s.Contains(anchor) {
		return fault.Malformed("insertion anchor <%s> is not part of the document", anchor.Tag)
	}
	if s.Contains(n) {
		return fault.Malformed("element <%s> is already part of the document", n.Tag)
	}
	var (
		parent *Node
		index  int
	)
	switch where {
	case Begin:
		parent, index = anchor, 0
	case End:
		parent, index = anchor, len(anchor.Children)
	case Before, After, Replace:
		if anchor == s.root {
			return fault.Malformed("cannot insert %s the document root", where)
		}
		parent = s.parents[anchor]
		index = parent.IndexOf(anchor)
		if where == After {
			index++
		}
	default:
		return fault.Malformed("unknown insertion position %d", int(where))
	}
	var replaced *Node
	if where == Replace {
		replaced = anchor
	}
	if err := s.checkIDs(n, replaced); err != nil {
		return err
	}
	if replaced != nil {
		s.remove(replaced)
	}
	n.Tail = ""
	parent.insertChild(index, n)
	s.register(n, parent)
	if s.observer != nil {
		s.observer.Added(n)
	}
	return nil
}

// Remove detaches n and its subtree. The root cannot be removed.
func (s *Store) Remove(n *Node) error {
	if n == s.root {
		return fault.Malformed("cannot remove the document root")
	}
	if !s.Contains(n) {
		return fault.Malformed("element <%s> is not part of the document", n.Tag)
	}
	s.remove(n)
	return nil
}

func (s *Store) remove(n *Node) {
	if s.observer != nil {
		s.observer.Removing(n)
	}
	parent := s.parents[n]
	parent.removeChild(parent.IndexOf(n))
	s.unregister(n)
}

// SetAttributes applies diff to n in order. The observer sees one change for
// the whole diff, and none if nothing actually changed.
func (s *Store) SetAttributes(n *Node, diff []AttrUpdate) error {
	if !s.Contains(n) {
		return fault.Malformed("element <%s> is not part of the document", n.Tag)
	}
	next := n.Attrs.Clone()
	for _, u := range diff {
		if u.Delete {
			next = next.Delete(u.Name)
		} else {
			next = next.Set(u.Name, u.Value)
		}
	}
	return s.ReplaceAttributes(n, next)
}

// ReplaceAttributes sets n's complete attribute list.
func (s *Store) ReplaceAttributes(n *Node, attrs Attrs) error {
	if !s.Contains(n) {
		return fault.Malformed("element <%s> is not part of the document", n.Tag)
	}
	if n.Attrs.Equal(attrs) {
		return nil
	}
	oldID, hadID := n.Attrs.Get(AttrID)
	newID, hasID := attrs.Get(AttrID)
	if hasID && (!hadID || newID != oldID) {
		if _, taken := s.ids[newID]; taken {
			return fault.Malformed("identifier %q is already in use", newID)
		}
	}
	if hadID && (!hasID || newID != oldID) {
		delete(s.ids, oldID)
		s.retired[oldID] = struct{}{}
	}
	if hasID {
		s.ids[newID] = n
	}
	if name, ok := attrs.Get(AttrName); ok {
		s.names[name] = struct{}{}
	}
	n.Attrs = attrs.Clone()
	if s.observer != nil {
		s.observer.Changed(n, false)
	}
	return nil
}

// DeclareNamespace adds xmlns:prefix="uri" to the root unless prefix is
// already declared there.
func (s *Store) DeclareNamespace(prefix, uri string) error {
	name := "xmlns:" + prefix
	if _, ok := s.root.Get(name); ok {
		return nil
	}
	return s.SetAttributes(s.root, []AttrUpdate{{Name: name, Value: uri}})
}

// SetText replaces the character data before n's first child.
func (s *Store) SetText(n *Node, text string) error {
	if !s.Contains(n) {
		return fault.Malformed("element <%s> is not part of the document", n.Tag)
	}
	n.Text = text
	if s.observer != nil {
		s.observer.Changed(n, true)
	}
	return nil
}

// checkIDs verifies that the identifiers inside the detached subtree n are
// unique among themselves and against the document. Identifiers held by
// replacing (which is about to be removed) do not count as taken.
func (s *Store) checkIDs(n *Node, replacing *Node) error {
	freed := make(map[string]bool)
	if replacing != nil {
		replacing.Walk(func(m *Node) bool {
			if id := m.ID(); id != "" {
				freed[id] = true
			}
			return true
		})
	}
	local := make(map[string]bool)
	var err error
	n.Walk(func(m *Node) bool {
		id, ok := m.Get(AttrID)
		if !ok || err != nil {
			return err == nil
		}
		_, taken := s.ids[id]
		if local[id] || (taken && !freed[id]) {
			err = fault.Malformed("identifier %q is already in use", id)
			return false
		}
		local[id] = true
		return true
	})
	return err
}

func (s *Store) register(n *Node, parent *Node) {
	if parent != nil {
		s.parents[n] = parent
	}
	if id, ok := n.Get(AttrID); ok {
		s.ids[id] = n
	}
	if name, ok := n.Get(AttrName); ok {
		s.names[name] = struct{}{}
	}
	for _, ch := range n.Children {
		s.register(ch, n)
	}
}

// unregister drops n's subtree from the parent table and identifier map.
// Names stay in the name set and identifiers are retired.
func (s *Store) unregister(n *Node) {
	delete(s.parents, n)
	if id, ok := n.Get(AttrID); ok && s.ids[id] == n {
		delete(s.ids, id)
		s.retired[id] = struct{}{}
	}
	for _, ch := range n.Children {
		s.unregister(ch)
	}
}

var (
	idSuffix   = regexp.MustCompile(`^(.*)-([0-9]+)$`)
	nameSuffix = regexp.MustCompile(`^(.*) \(([0-9]+)\)$`)
)

// AfterCopy makes a freshly copied, detached subtree safe to insert: every
// identifier that is already in use (or was used before) gets a "-N" suffix
// bumped until it is free, and a tt:name on the subtree root that has been
// seen before gets a " (N)" suffix the same way.
func (s *Store) AfterCopy(n *Node) {
	assigned := make(map[string]bool)
	n.Walk(func(m *Node) bool {
		id, ok := m.Get(AttrID)
		if !ok {
			return true
		}
		taken := func(c string) bool {
			_, live := s.ids[c]
			_, old := s.retired[c]
			return live || old || assigned[c]
		}
		if taken(id) {
			id = bump(id, idSuffix, "%s-%d", taken)
			m.Attrs = m.Attrs.Set(AttrID, id)
		}
		assigned[id] = true
		return true
	})
	if name, ok := n.Get(AttrName); ok && s.HasName(name) {
		name = bump(name, nameSuffix, "%s (%d)", s.HasName)
		n.Attrs = n.Attrs.Set(AttrName, name)
	}
}

// bump increments a trailing numeric suffix until the result is free. A
// suffix too large to increment counts as part of the base.
func bump(value string, suffix *regexp.Regexp, format string, taken func(string) bool) string {
	base, counter := value, 0
	if m := suffix.FindStringSubmatch(value); m != nil {
		if n, err := strconv.Atoi(m[2]); err == nil && n < math.MaxInt {
			base, counter = m[1], n
		}
	}
	for {
		counter++
		candidate := fmt.Sprintf(format, base, counter)
		if !taken(candidate) {
			return candidate
		}
	}
}
