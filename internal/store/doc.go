// Package store provides SQLite-backed durable storage for documents.
//
// The store keeps, per document:
//   - Initial content: the XML the document was created with
//   - Snapshot: the latest serialized XML and its generation
//   - History: every forwarded batch, keyed by generation
//
// # Patterns
//
// Idempotent history: UNIQUE(document_id, generation) with ON CONFLICT DO
// NOTHING, so a batch delivered twice is stored once.
//
// Monotonic snapshots: a snapshot only replaces one of a lower or equal
// generation. Snapshots are saved outside the document lock and may arrive
// out of order.
//
// Deterministic reads: history is always ORDER BY generation ASC, documents
// by creation order.
//
// Integrity: each batch is stored in canonical JSON together with its
// domain-separated digest (journal.Digest) and verified on read.
//
// The connection settings and schema versioning live in store.go.
package store
