package journal

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"

	"golang.org/x/text/unicode/norm"
)

// DomainBatch is the hash domain for forwarded batches. The version suffix
// allows the encoding to change later without colliding with old digests.
const DomainBatch = "stagehand/batch/v1"

// MarshalCanonical renders a batch in canonical form: object keys sorted,
// absent optional fields omitted, strings NFC-normalized and not
// HTML-escaped. Two batches with the same meaning render identically.
func MarshalCanonical(b Batch) []byte {
	var buf bytes.Buffer
	buf.WriteString(`{"generation":`)
	buf.WriteString(strconv.FormatInt(b.Generation, 10))
	buf.WriteString(`,"operations":[`)
	for i, c := range b.Operations {
		if i > 0 {
			buf.WriteByte(',')
		}
		writeCanonicalCommand(&buf, c)
	}
	buf.WriteString("]}")
	return buf.Bytes()
}

// Keys are written in sorted order: attrs, data, path, verb, where.
func writeCanonicalCommand(buf *bytes.Buffer, c Command) {
	buf.WriteByte('{')
	first := true
	field := func(key, value string) {
		if !first {
			buf.WriteByte(',')
		}
		first = false
		writeCanonicalString(buf, key)
		buf.WriteByte(':')
		writeCanonicalString(buf, value)
	}
	if c.Verb == VerbChange {
		field("attrs", c.Attrs)
	}
	if c.Data != nil {
		field("data", *c.Data)
	}
	field("path", c.Path)
	field("verb", c.Verb.String())
	if c.Verb == VerbAdd {
		field("where", c.Where.String())
	}
	buf.WriteByte('}')
}

func writeCanonicalString(buf *bytes.Buffer, s string) {
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(norm.NFC.String(s))
	buf.Truncate(buf.Len() - 1)
}

// Digest returns the domain-separated SHA-256 of the batch's canonical form.
// Format: SHA256(domain + 0x00 + canonical).
func Digest(b Batch) string {
	h := sha256.New()
	h.Write([]byte(DomainBatch))
	h.Write([]byte{0x00})
	h.Write(MarshalCanonical(b))
	return hex.EncodeToString(h.Sum(nil))
}
