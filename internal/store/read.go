package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/stagehand/internal/fault"
	"github.com/roach88/stagehand/internal/journal"
)

// Document is a stored document row.
type Document struct {
	ID         string
	InitialXML string
	XML        string
	Generation int64
}

// ReadDocument returns the stored document id, or a NOT_FOUND fault.
func (s *Store) ReadDocument(ctx context.Context, id string) (Document, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, initial_xml, xml, generation
		FROM documents
		WHERE id = ?
	`, id)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, fault.NotFoundID(id)
	}
	if err != nil {
		return Document{}, fmt.Errorf("read document: %w", err)
	}
	return doc, nil
}

// ListDocuments returns every stored document in creation order.
//
// Returns an empty slice (not nil) if the store is empty.
func (s *Store) ListDocuments(ctx context.Context) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, initial_xml, xml, generation
		FROM documents
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	docs := []Document{}
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return docs, nil
}

// ReadHistory returns the batches of a document with a generation greater
// than after, in generation order. Every batch is verified against its
// stored digest.
func (s *Store) ReadHistory(ctx context.Context, documentID string, after int64) ([]journal.Batch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT operations, digest
		FROM history
		WHERE document_id = ? AND generation > ?
		ORDER BY generation ASC
	`, documentID, after)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	batches := []journal.Batch{}
	for rows.Next() {
		var operations, digest string
		if err := rows.Scan(&operations, &digest); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		batch, err := unmarshalOperations(operations, digest)
		if err != nil {
			return nil, fmt.Errorf("read history of %s: %w", documentID, err)
		}
		batches = append(batches, batch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return batches, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(row scanner) (Document, error) {
	var doc Document
	if err := row.Scan(&doc.ID, &doc.InitialXML, &doc.XML, &doc.Generation); err != nil {
		return Document{}, err
	}
	return doc, nil
}
