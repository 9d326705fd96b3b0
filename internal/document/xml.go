package document

import (
	"context"

	"github.com/roach88/stagehand/internal/fault"
	"github.com/roach88/stagehand/internal/journal"
	"github.com/roach88/stagehand/internal/tree"
)

// Payload mimetypes.
const (
	MimeXML  = "application/xml"
	MimeJSON = "application/json"
)

// Get returns the element at path: its serialization for MimeXML, its
// attributes as a JSON object for MimeJSON.
func (d *Document) Get(path, mimetype string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, err := d.store.Resolve(path, nil)
	if err != nil {
		return "", err
	}
	return render(n, mimetype)
}

func render(n *tree.Node, mimetype string) (string, error) {
	switch mimetype {
	case MimeXML:
		return tree.Serialize(n), nil
	case MimeJSON:
		return journal.EncodeAttrs(n.Attrs), nil
	default:
		return "", fault.Malformed("unsupported mimetype %q", mimetype)
	}
}

// Paste inserts new content relative to the element at path and returns the
// path of the inserted element. For MimeXML data is a subtree; for MimeJSON
// it is an attribute object and tag names the new element. Identifiers and
// names in the new content are disambiguated.
func (d *Document) Paste(ctx context.Context, path string, where tree.Where, tag, data, mimetype string) (string, error) {
	var n *tree.Node
	switch mimetype {
	case MimeXML:
		parsed, err := tree.Parse([]byte(data))
		if err != nil {
			return "", fault.MalformedWrap(err, "bad xml payload")
		}
		n = parsed
	case MimeJSON:
		if tag == "" {
			return "", fault.Malformed("json payload needs a tag")
		}
		attrs, err := journal.DecodeAttrs(data)
		if err != nil {
			return "", err
		}
		n = tree.NewNode(tag, attrs...)
	default:
		return "", fault.Malformed("unsupported mimetype %q", mimetype)
	}

	var newPath string
	err := d.edit(ctx, func() error {
		anchor, err := d.store.Resolve(path, nil)
		if err != nil {
			return err
		}
		d.store.AfterCopy(n)
		if err := d.store.Insert(anchor, n, where); err != nil {
			return err
		}
		newPath = d.store.PathOf(n)
		return nil
	})
	return newPath, err
}

// Cut removes the element at path and returns it rendered as mimetype.
func (d *Document) Cut(ctx context.Context, path, mimetype string) (string, error) {
	var out string
	err := d.edit(ctx, func() error {
		n, err := d.store.Resolve(path, nil)
		if err != nil {
			return err
		}
		if out, err = render(n, mimetype); err != nil {
			return err
		}
		return d.store.Remove(n)
	})
	return out, err
}

// Copy inserts a copy of the element at sourcePath relative to the element at
// path and returns the path of the copy.
func (d *Document) Copy(ctx context.Context, path string, where tree.Where, sourcePath string) (string, error) {
	var newPath string
	err := d.edit(ctx, func() error {
		src, err := d.store.Resolve(sourcePath, nil)
		if err != nil {
			return err
		}
		anchor, err := d.store.Resolve(path, nil)
		if err != nil {
			return err
		}
		n := src.Clone()
		d.store.AfterCopy(n)
		if err := d.store.Insert(anchor, n, where); err != nil {
			return err
		}
		newPath = d.store.PathOf(n)
		return nil
	})
	return newPath, err
}

// Move moves the element at sourcePath relative to the element at path and
// returns its new path.
func (d *Document) Move(ctx context.Context, path string, where tree.Where, sourcePath string) (string, error) {
	var newPath string
	err := d.edit(ctx, func() error {
		src, err := d.store.Resolve(sourcePath, nil)
		if err != nil {
			return err
		}
		anchor, err := d.store.Resolve(path, nil)
		if err != nil {
			return err
		}
		if err := d.checkMove(src, anchor, where); err != nil {
			return err
		}
		if err := d.store.Remove(src); err != nil {
			return err
		}
		if err := d.store.Insert(anchor, src, where); err != nil {
			return err
		}
		newPath = d.store.PathOf(src)
		return nil
	})
	return newPath, err
}

// checkMove rejects moves that could not be inserted after the removal, so
// a failing move leaves the document alone.
func (d *Document) checkMove(src, anchor *tree.Node, where tree.Where) error {
	if src == d.store.Root() {
		return fault.Malformed("cannot move the document root")
	}
	for n := anchor; n != nil; n = d.store.Parent(n) {
		if n == src {
			return fault.Malformed("cannot move an element relative to itself or its descendants")
		}
	}
	if anchor == d.store.Root() && where != tree.Begin && where != tree.End {
		return fault.Malformed("cannot insert %s the document root", where)
	}
	return nil
}

// ModifyAttributes applies a JSON attribute diff to the element at path. A
// null value deletes the attribute.
func (d *Document) ModifyAttributes(ctx context.Context, path, attrsJSON string) error {
	diff, err := journal.DecodeAttrUpdates(attrsJSON)
	if err != nil {
		return err
	}
	return d.edit(ctx, func() error {
		n, err := d.store.Resolve(path, nil)
		if err != nil {
			return err
		}
		return d.store.SetAttributes(n, diff)
	})
}

// ModifyData replaces the text of the element at path.
func (d *Document) ModifyData(ctx context.Context, path, text string) error {
	return d.edit(ctx, func() error {
		n, err := d.store.Resolve(path, nil)
		if err != nil {
			return err
		}
		return d.store.SetText(n, text)
	})
}
