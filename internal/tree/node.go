// Package tree implements the path-addressable element store.
//
// A Store owns one element tree and keeps three derived structures in step
// with it: a child→parent table, an identifier map keyed on xml:id and a
// name set fed from tt:name. Every structural change goes through the
// Store's mutation primitives (Insert, Remove, SetAttributes, SetText), which
// validate their arguments before touching anything, so a failed call leaves
// the tree and the derived structures unchanged.
//
// Nodes carry no back-pointers. Parentage lives in the Store only.
package tree

import "strings"

// Reserved attribute names.
const (
	// AttrID is the document-unique identifier attribute.
	AttrID = "xml:id"

	// AttrName is the display name attribute, disambiguated on copy.
	AttrName = "tt:name"
)

// Attr is a single attribute. Names keep their namespace prefix ("tl:dur").
type Attr struct {
	Name  string
	Value string
}

// Attrs is an ordered attribute list with unique names.
type Attrs []Attr

// Get returns the value of name.
func (a Attrs) Get(name string) (string, bool) {
	for _, at := range a {
		if at.Name == name {
			return at.Value, true
		}
	}
	return "", false
}

// Set returns a with name set to value. An existing attribute keeps its
// position; a new one is appended.
func (a Attrs) Set(name, value string) Attrs {
	for i := range a {
		if a[i].Name == name {
			a[i].Value = value
			return a
		}
	}
	return append(a, Attr{Name: name, Value: value})
}

// Delete returns a without name.
func (a Attrs) Delete(name string) Attrs {
	for i := range a {
		if a[i].Name == name {
			return append(a[:i], a[i+1:]...)
		}
	}
	return a
}

// Clone returns a copy of a.
func (a Attrs) Clone() Attrs {
	if a == nil {
		return nil
	}
	out := make(Attrs, len(a))
	copy(out, a)
	return out
}

// Equal reports whether a and b hold the same attributes in the same order.
func (a Attrs) Equal(b Attrs) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Node is one element. Text is the character data before the first child,
// Tail the character data after the element's end tag.
type Node struct {
	Tag      string
	Attrs    Attrs
	Children []*Node
	Text     string
	Tail     string
}

// NewNode creates an element with the given tag and attributes.
func NewNode(tag string, attrs ...Attr) *Node {
	return &Node{Tag: tag, Attrs: Attrs(attrs)}
}

// Get returns the value of an attribute.
func (n *Node) Get(name string) (string, bool) {
	return n.Attrs.Get(name)
}

// Attr returns the value of an attribute, or "" if absent.
func (n *Node) Attr(name string) string {
	v, _ := n.Attrs.Get(name)
	return v
}

// ID returns the node's xml:id, or "".
func (n *Node) ID() string {
	return n.Attr(AttrID)
}

// Clone deep-copies n. The copy is detached and unregistered.
func (n *Node) Clone() *Node {
	c := &Node{
		Tag:   n.Tag,
		Attrs: n.Attrs.Clone(),
		Text:  n.Text,
		Tail:  n.Tail,
	}
	if len(n.Children) > 0 {
		c.Children = make([]*Node, len(n.Children))
		for i, ch := range n.Children {
			c.Children[i] = ch.Clone()
		}
	}
	return c
}

// Walk calls fn for n and every descendant in document order. Returning
// false from fn skips that node's descendants.
func (n *Node) Walk(fn func(*Node) bool) {
	if !fn(n) {
		return
	}
	for _, ch := range n.Children {
		ch.Walk(fn)
	}
}

// Count returns the number of elements in the subtree rooted at n.
func (n *Node) Count() int {
	count := 0
	n.Walk(func(*Node) bool {
		count++
		return true
	})
	return count
}

// TextContent returns the concatenated character data inside n, excluding
// n's own tail.
func (n *Node) TextContent() string {
	var sb strings.Builder
	n.textContent(&sb)
	return sb.String()
}

func (n *Node) textContent(sb *strings.Builder) {
	sb.WriteString(n.Text)
	for _, ch := range n.Children {
		ch.textContent(sb)
		sb.WriteString(ch.Tail)
	}
}

// IndexOf returns the position of child in n's children, or -1.
func (n *Node) IndexOf(child *Node) int {
	for i, ch := range n.Children {
		if ch == child {
			return i
		}
	}
	return -1
}

// FindChild returns the first child with the given tag.
func (n *Node) FindChild(tag string) *Node {
	for _, ch := range n.Children {
		if ch.Tag == tag {
			return ch
		}
	}
	return nil
}

// ChildrenByTag returns every child with the given tag.
func (n *Node) ChildrenByTag(tag string) []*Node {
	var out []*Node
	for _, ch := range n.Children {
		if ch.Tag == tag {
			out = append(out, ch)
		}
	}
	return out
}

func (n *Node) insertChild(i int, child *Node) {
	n.Children = append(n.Children, nil)
	copy(n.Children[i+1:], n.Children[i:])
	n.Children[i] = child
}

func (n *Node) removeChild(i int) {
	copy(n.Children[i:], n.Children[i+1:])
	n.Children[len(n.Children)-1] = nil
	n.Children = n.Children[:len(n.Children)-1]
}
