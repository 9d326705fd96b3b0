package tree

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Parse reads a single XML element (with its subtree) from data.
//
// Namespace prefixes are not resolved: "tl:par" stays "tl:par" and xmlns
// declarations stay ordinary attributes, so a parsed tree serializes back
// with the same names. Comments, processing instructions and directives are
// dropped. Character data after the root element's end tag must be blank.
func Parse(data []byte) (*Node, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Strict = true

	var (
		root  *Node
		stack []*Node
		last  *Node // most recently closed element at the current depth
	)
	for {
		tok, err := dec.RawToken()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if root != nil && len(stack) == 0 {
				return nil, errors.New("parse xml: multiple root elements")
			}
			n := &Node{Tag: qualified(t.Name)}
			for _, a := range t.Attr {
				name := qualified(a.Name)
				if _, dup := n.Attrs.Get(name); dup {
					return nil, fmt.Errorf("parse xml: duplicate attribute %q on <%s>", name, n.Tag)
				}
				n.Attrs = append(n.Attrs, Attr{Name: name, Value: a.Value})
			}
			if len(stack) > 0 {
				parent := stack[len(stack)-1]
				parent.Children = append(parent.Children, n)
			} else {
				root = n
			}
			stack = append(stack, n)
			last = nil
		case xml.EndElement:
			if len(stack) == 0 {
				return nil, fmt.Errorf("parse xml: unexpected </%s>", qualified(t.Name))
			}
			top := stack[len(stack)-1]
			if name := qualified(t.Name); name != top.Tag {
				return nil, fmt.Errorf("parse xml: </%s> closes <%s>", name, top.Tag)
			}
			stack = stack[:len(stack)-1]
			last = top
		case xml.CharData:
			s := string(t)
			switch {
			case len(stack) == 0:
				if strings.TrimSpace(s) != "" {
					return nil, errors.New("parse xml: character data outside the root element")
				}
			case last != nil:
				last.Tail += s
			default:
				stack[len(stack)-1].Text += s
			}
		}
	}
	if root == nil {
		return nil, errors.New("parse xml: no root element")
	}
	if len(stack) > 0 {
		return nil, fmt.Errorf("parse xml: <%s> is not closed", stack[len(stack)-1].Tag)
	}
	return root, nil
}

func qualified(name xml.Name) string {
	if name.Space == "" {
		return name.Local
	}
	return name.Space + ":" + name.Local
}

// Serialize renders n and its subtree. The tail of n itself is never
// included; tails of descendants are.
func Serialize(n *Node) string {
	var sb strings.Builder
	write(&sb, n)
	return sb.String()
}

// WriteTo writes the serialized subtree to w.
func WriteTo(w io.Writer, n *Node) error {
	_, err := io.WriteString(w, Serialize(n))
	return err
}

func write(sb *strings.Builder, n *Node) {
	sb.WriteByte('<')
	sb.WriteString(n.Tag)
	for _, a := range n.Attrs {
		sb.WriteByte(' ')
		sb.WriteString(a.Name)
		sb.WriteString(`="`)
		escapeAttr(sb, a.Value)
		sb.WriteByte('"')
	}
	if n.Text == "" && len(n.Children) == 0 {
		sb.WriteString(" />")
		return
	}
	sb.WriteByte('>')
	escapeText(sb, n.Text)
	for _, ch := range n.Children {
		write(sb, ch)
		escapeText(sb, ch.Tail)
	}
	sb.WriteString("</")
	sb.WriteString(n.Tag)
	sb.WriteByte('>')
}

func escapeText(sb *strings.Builder, s string) {
	for _, r := range s {
		switch r {
		case '&':
			sb.WriteString("&amp;")
		case '<':
			sb.WriteString("&lt;")
		case '>':
			sb.WriteString("&gt;")
		default:
			sb.WriteRune(r)
		}
	}
}

func escapeAttr(sb *strings.Builder, s string) {
	for _, r := range s {
		switch r {
		case '&':
			sb.WriteString("&amp;")
		case '<':
			sb.WriteString("&lt;")
		case '>':
			sb.WriteString("&gt;")
		case '"':
			sb.WriteString("&quot;")
		case '\n':
			sb.WriteString("&#10;")
		default:
			sb.WriteRune(r)
		}
	}
}
