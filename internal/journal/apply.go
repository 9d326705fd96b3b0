package journal

import (
	"fmt"

	"github.com/roach88/stagehand/internal/fault"
	"github.com/roach88/stagehand/internal/tree"
)

// Apply replays cmds against store in order. It stops at the first command
// that cannot be applied; commands before it stay applied.
func Apply(store *tree.Store, cmds []Command) error {
	for i, c := range cmds {
		if err := applyOne(store, c); err != nil {
			return fmt.Errorf("command %d (%s %s): %w", i, c.Verb, c.Path, err)
		}
	}
	return nil
}

func applyOne(store *tree.Store, c Command) error {
	node, err := store.Resolve(c.Path, nil)
	if err != nil {
		return err
	}
	switch c.Verb {
	case VerbAdd:
		if c.Data == nil {
			return fault.Malformed("add command without data")
		}
		sub, err := tree.Parse([]byte(*c.Data))
		if err != nil {
			return fault.MalformedWrap(err, "bad add payload")
		}
		return store.Insert(node, sub, c.Where)
	case VerbDelete:
		return store.Remove(node)
	case VerbChange:
		attrs, err := DecodeAttrs(c.Attrs)
		if err != nil {
			return err
		}
		if err := store.ReplaceAttributes(node, attrs); err != nil {
			return err
		}
		if c.Data != nil {
			return store.SetText(node, *c.Data)
		}
		return nil
	default:
		return fault.Malformed("unknown command verb %d", int(c.Verb))
	}
}
