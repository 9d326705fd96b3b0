package store

import (
	"context"
	"fmt"

	"github.com/roach88/stagehand/internal/journal"
)

// CreateDocument records a new document. initialXML becomes both its
// initial content and its first snapshot.
// Uses ON CONFLICT(id) DO NOTHING for idempotency: recreating an existing
// document keeps the stored one.
func (s *Store) CreateDocument(ctx context.Context, documentID, initialXML string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, seq, initial_xml, xml, generation)
		VALUES (?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM documents), ?, ?, 0)
		ON CONFLICT(id) DO NOTHING
	`, documentID, initialXML, initialXML)
	if err != nil {
		return fmt.Errorf("create document: %w", err)
	}
	return nil
}

// DeleteDocument removes a document and its history. Deleting an unknown
// document is not an error.
func (s *Store) DeleteDocument(ctx context.Context, documentID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, documentID); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return nil
}

// SaveBatch appends a forwarded batch to the document's history.
// Duplicate generations are silently ignored.
//
// Note: the document must exist (foreign key constraint).
func (s *Store) SaveBatch(ctx context.Context, documentID string, batch journal.Batch) error {
	operations, digest := marshalOperations(batch)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO history (document_id, generation, operations, digest)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(document_id, generation) DO NOTHING
	`, documentID, batch.Generation, operations, digest)
	if err != nil {
		return fmt.Errorf("save batch %d: %w", batch.Generation, err)
	}
	return nil
}

// SaveSnapshot replaces the document's snapshot unless a newer generation is
// already stored.
func (s *Store) SaveSnapshot(ctx context.Context, documentID, xml string, generation int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE documents SET xml = ?, generation = ?
		WHERE id = ? AND generation <= ?
	`, xml, generation, documentID, generation)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	if n == 0 {
		if _, err := s.ReadDocument(ctx, documentID); err != nil {
			return fmt.Errorf("save snapshot: %w", err)
		}
	}
	return nil
}
