package tree

import (
	"fmt"
	"strconv"
	"strings"
)

// Path is a parsed element path.
//
// Grammar (a fixed subset of XPath):
//
//	path      := ["/"] step ("/" step)*
//	step      := "." | ".." | "*" | name predicate*   (an empty step means "//")
//	predicate := "[" N "]" | "[@" name "]" | "[@" name "='" value "']"
//
// Absolute paths are resolved against a synthetic wrapper whose only child
// is the document root, so "/doc" selects the root element itself.
type Path struct {
	Absolute bool
	steps    []step
	source   string
}

type axis int

const (
	axisChild axis = iota
	axisDescendant
	axisSelf
	axisParent
)

type predicate struct {
	index    int // 1-based; 0 when this is an attribute test
	attr     string
	value    string
	hasValue bool
}

type step struct {
	axis  axis
	name  string // "*" matches any tag
	preds []predicate
}

// String returns the path as written.
func (p Path) String() string {
	return p.source
}

// SplitAttr separates a trailing attribute selector ("a/b/@tl:dur") from the
// element part of a path. It returns the element path ("a/b", "." when the
// path is only an attribute) and the attribute name ("" when there is none).
func SplitAttr(path string) (string, string) {
	i := strings.LastIndex(path, "/")
	last := path[i+1:]
	if !strings.HasPrefix(last, "@") {
		return path, ""
	}
	elem := strings.TrimSuffix(path[:i+1], "/")
	switch {
	case i < 0:
		elem = "."
	case elem == "":
		elem = "/"
	}
	return elem, last[1:]
}

// ParsePath parses a path expression.
func ParsePath(s string) (Path, error) {
	p := Path{source: s}
	rest := s
	if strings.HasPrefix(rest, "/") {
		p.Absolute = true
		rest = rest[1:]
	}
	if rest == "" {
		if p.Absolute {
			return p, fmt.Errorf("path %q selects nothing", s)
		}
		p.steps = []step{{axis: axisSelf}}
		return p, nil
	}
	pendingDescendant := false
	for _, raw := range splitSteps(rest) {
		if raw == "" {
			if pendingDescendant {
				return p, fmt.Errorf("path %q: empty step", s)
			}
			pendingDescendant = true
			continue
		}
		st, err := parseStep(raw)
		if err != nil {
			return p, fmt.Errorf("path %q: %w", s, err)
		}
		if pendingDescendant {
			if st.axis != axisChild {
				return p, fmt.Errorf("path %q: %q cannot follow //", s, raw)
			}
			st.axis = axisDescendant
			pendingDescendant = false
		}
		p.steps = append(p.steps, st)
	}
	if pendingDescendant {
		return p, fmt.Errorf("path %q ends with a separator", s)
	}
	return p, nil
}

// splitSteps splits on "/" outside of predicates, so "[@a='x/y']" survives.
func splitSteps(s string) []string {
	var (
		out   []string
		depth int
		quote rune
		start int
	)
	for i, r := range s {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '\'' || r == '"':
			quote = r
		case r == '[':
			depth++
		case r == ']':
			depth--
		case r == '/' && depth == 0:
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	return append(out, s[start:])
}

func parseStep(raw string) (step, error) {
	switch raw {
	case ".":
		return step{axis: axisSelf}, nil
	case "..":
		return step{axis: axisParent}, nil
	}
	name := raw
	var preds string
	if i := strings.IndexByte(raw, '['); i >= 0 {
		name, preds = raw[:i], raw[i:]
	}
	if name == "" || strings.HasPrefix(name, "@") {
		return step{}, fmt.Errorf("bad step %q", raw)
	}
	if name != "*" && !validName(name) {
		return step{}, fmt.Errorf("bad element name %q", name)
	}
	st := step{axis: axisChild, name: name}
	for preds != "" {
		end := closingBracket(preds)
		if !strings.HasPrefix(preds, "[") || end < 0 {
			return step{}, fmt.Errorf("bad predicate in %q", raw)
		}
		pr, err := parsePredicate(preds[1:end])
		if err != nil {
			return step{}, err
		}
		st.preds = append(st.preds, pr)
		preds = preds[end+1:]
	}
	return st, nil
}

func closingBracket(s string) int {
	var quote rune
	for i, r := range s {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '\'' || r == '"':
			quote = r
		case r == ']':
			return i
		}
	}
	return -1
}

func parsePredicate(body string) (predicate, error) {
	if !strings.HasPrefix(body, "@") {
		n, err := strconv.Atoi(body)
		if err != nil || n < 1 {
			return predicate{}, fmt.Errorf("bad index [%s]", body)
		}
		return predicate{index: n}, nil
	}
	body = body[1:]
	name, value, hasValue := strings.Cut(body, "=")
	if !validName(name) {
		return predicate{}, fmt.Errorf("bad attribute test [@%s]", body)
	}
	pr := predicate{attr: name}
	if hasValue {
		if len(value) < 2 || (value[0] != '\'' && value[0] != '"') || value[len(value)-1] != value[0] {
			return predicate{}, fmt.Errorf("bad attribute value in [@%s]", body)
		}
		pr.value = value[1 : len(value)-1]
		pr.hasValue = true
	}
	return pr, nil
}

func validName(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_' || r == ':' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || r > 0x7f:
		case i > 0 && (r == '-' || r == '.' || (r >= '0' && r <= '9')):
		default:
			return false
		}
	}
	return true
}

// selectAll evaluates p. ctx is the start node for relative paths; wrapper
// is the synthetic parent of the root for absolute ones. parent resolves
// the ".." axis.
func (p Path) selectAll(ctx, wrapper *Node, parent func(*Node) *Node) []*Node {
	current := []*Node{ctx}
	if p.Absolute {
		current = []*Node{wrapper}
	}
	for _, st := range p.steps {
		var next []*Node
		seen := make(map[*Node]bool)
		add := func(n *Node) {
			if n != nil && !seen[n] {
				seen[n] = true
				next = append(next, n)
			}
		}
		for _, n := range current {
			switch st.axis {
			case axisSelf:
				add(n)
			case axisParent:
				add(parent(n))
			case axisChild:
				for _, m := range st.filter(n.Children) {
					add(m)
				}
			case axisDescendant:
				n.Walk(func(d *Node) bool {
					for _, m := range st.filter(d.Children) {
						add(m)
					}
					return true
				})
			}
		}
		current = next
	}
	return current
}

// filter applies the step's name test and predicates to one parent's
// children, so positional predicates count per parent.
func (st step) filter(children []*Node) []*Node {
	var out []*Node
	for _, ch := range children {
		if st.name == "*" || ch.Tag == st.name {
			out = append(out, ch)
		}
	}
	for _, pr := range st.preds {
		if pr.index > 0 {
			if pr.index > len(out) {
				return nil
			}
			out = out[pr.index-1 : pr.index]
			continue
		}
		kept := out[:0:0]
		for _, n := range out {
			v, ok := n.Get(pr.attr)
			if ok && (!pr.hasValue || v == pr.value) {
				kept = append(kept, n)
			}
		}
		out = kept
	}
	return out
}
