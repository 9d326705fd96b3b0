package journal

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strings"

	"github.com/roach88/stagehand/internal/fault"
	"github.com/roach88/stagehand/internal/tree"
)

// EncodeAttrs renders attrs as a JSON object whose keys keep document order.
func EncodeAttrs(attrs tree.Attrs) string {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, a := range attrs {
		if i > 0 {
			buf.WriteByte(',')
		}
		writeJSONString(&buf, a.Name)
		buf.WriteByte(':')
		writeJSONString(&buf, a.Value)
	}
	buf.WriteByte('}')
	return buf.String()
}

func writeJSONString(buf *bytes.Buffer, s string) {
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	// Encoding a string cannot fail.
	_ = enc.Encode(s)
	buf.Truncate(buf.Len() - 1) // trailing newline
}

// DecodeAttrs parses a JSON object of string values, keeping key order.
func DecodeAttrs(s string) (tree.Attrs, error) {
	updates, err := decodeObject(s, false)
	if err != nil {
		return nil, err
	}
	attrs := make(tree.Attrs, 0, len(updates))
	for _, u := range updates {
		attrs = attrs.Set(u.Name, u.Value)
	}
	return attrs, nil
}

// DecodeAttrUpdates parses a JSON object into an attribute diff. A null
// value deletes the attribute.
func DecodeAttrUpdates(s string) ([]tree.AttrUpdate, error) {
	return decodeObject(s, true)
}

func decodeObject(s string, allowNull bool) ([]tree.AttrUpdate, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	tok, err := dec.Token()
	if err != nil {
		return nil, fault.MalformedWrap(err, "bad attribute object")
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fault.Malformed("attributes must be a JSON object")
	}
	var out []tree.AttrUpdate
	for dec.More() {
		tok, err = dec.Token()
		if err != nil {
			return nil, fault.MalformedWrap(err, "bad attribute object")
		}
		name := tok.(string)
		tok, err = dec.Token()
		if err != nil {
			return nil, fault.MalformedWrap(err, "bad attribute object")
		}
		switch v := tok.(type) {
		case string:
			out = append(out, tree.AttrUpdate{Name: name, Value: v})
		case nil:
			if !allowNull {
				return nil, fault.Malformed("attribute %q is null", name)
			}
			out = append(out, tree.AttrUpdate{Name: name, Delete: true})
		default:
			return nil, fault.Malformed("attribute %q must be a string", name)
		}
	}
	if _, err := dec.Token(); err != nil {
		return nil, fault.MalformedWrap(err, "bad attribute object")
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fault.Malformed("trailing data after attribute object")
	}
	return out, nil
}
