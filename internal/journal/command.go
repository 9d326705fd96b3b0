// Package journal turns structural changes on a tree.Store into a linear,
// replayable list of edit commands, and applies such lists to a replica.
//
// Commands address elements by path only, so a replica never needs node
// identity shared with the primary: an Add names the previous sibling (or
// the parent, when there is none) and a Change carries the complete
// attribute set, which makes it idempotent.
package journal

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/stagehand/internal/fault"
	"github.com/roach88/stagehand/internal/tree"
)

// Verb is the kind of an edit command.
type Verb int

const (
	VerbAdd Verb = iota
	VerbDelete
	VerbChange
)

var verbNames = [...]string{"add", "delete", "change"}

// String returns the wire name of v.
func (v Verb) String() string {
	if v < 0 || int(v) >= len(verbNames) {
		return fmt.Sprintf("Verb(%d)", int(v))
	}
	return verbNames[v]
}

// ParseVerb parses a wire verb name.
func ParseVerb(s string) (Verb, error) {
	for i, name := range verbNames {
		if s == name {
			return Verb(i), nil
		}
	}
	return 0, fault.Malformed("unknown command verb %q", s)
}

// Command is one edit.
//
//	add:    Path + Where locate the position, Data is the subtree XML.
//	delete: Path names the removed element.
//	change: Path names the element, Attrs is its complete attribute set as a
//	        JSON object string; Data, when present, is its new text.
type Command struct {
	Verb  Verb
	Path  string
	Where tree.Where
	Data  *string
	Attrs string
}

// Add creates an add command.
func Add(path string, where tree.Where, data string) Command {
	return Command{Verb: VerbAdd, Path: path, Where: where, Data: &data}
}

// Delete creates a delete command.
func Delete(path string) Command {
	return Command{Verb: VerbDelete, Path: path}
}

// Change creates a change command. text is nil for attribute-only changes.
func Change(path string, attrs tree.Attrs, text *string) Command {
	return Command{Verb: VerbChange, Path: path, Attrs: EncodeAttrs(attrs), Data: text}
}

// wireCommand is the JSON shape of a Command.
type wireCommand struct {
	Verb  string  `json:"verb"`
	Path  string  `json:"path"`
	Where string  `json:"where,omitempty"`
	Data  *string `json:"data,omitempty"`
	Attrs string  `json:"attrs,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (c Command) MarshalJSON() ([]byte, error) {
	w := wireCommand{Verb: c.Verb.String(), Path: c.Path, Data: c.Data}
	switch c.Verb {
	case VerbAdd:
		w.Where = c.Where.String()
	case VerbChange:
		w.Attrs = c.Attrs
		if w.Attrs == "" {
			w.Attrs = "{}"
		}
	}
	return json.Marshal(w)
}

// UnmarshalJSON implements json.Unmarshaler. Unknown verbs and positions
// and missing required fields are rejected here rather than on apply.
func (c *Command) UnmarshalJSON(b []byte) error {
	var w wireCommand
	if err := json.Unmarshal(b, &w); err != nil {
		return fault.MalformedWrap(err, "bad command")
	}
	verb, err := ParseVerb(w.Verb)
	if err != nil {
		return err
	}
	if w.Path == "" {
		return fault.Malformed("%s command without a path", verb)
	}
	cmd := Command{Verb: verb, Path: w.Path, Data: w.Data, Attrs: w.Attrs}
	switch verb {
	case VerbAdd:
		if cmd.Where, err = tree.ParseWhere(w.Where); err != nil {
			return err
		}
		if w.Data == nil {
			return fault.Malformed("add command without data")
		}
	case VerbChange:
		if cmd.Attrs == "" {
			return fault.Malformed("change command without attrs")
		}
		if _, err := DecodeAttrs(cmd.Attrs); err != nil {
			return err
		}
	}
	*c = cmd
	return nil
}

// String returns a compact one-line rendering for logs and diffs.
func (c Command) String() string {
	switch c.Verb {
	case VerbAdd:
		return fmt.Sprintf("add %s %s %s", c.Where, c.Path, deref(c.Data))
	case VerbChange:
		if c.Data != nil {
			return fmt.Sprintf("change %s %s text=%q", c.Path, c.Attrs, *c.Data)
		}
		return fmt.Sprintf("change %s %s", c.Path, c.Attrs)
	default:
		return fmt.Sprintf("%s %s", c.Verb, c.Path)
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// Batch is a generation-stamped command list, the unit of forwarding.
type Batch struct {
	Generation int64     `json:"generation"`
	Operations []Command `json:"operations"`
}
