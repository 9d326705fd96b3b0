package store

import (
	"context"
	"fmt"
	"strconv"

	"github.com/roach88/stagehand/internal/journal"
	"github.com/roach88/stagehand/internal/tree"
)

// attrGeneration is the root attribute documents stamp their generation on.
const attrGeneration = "tls:generation"

// DocumentState is everything stored about one document, analysed for
// replay.
type DocumentState struct {
	Document
	Batches []journal.Batch

	// LastGeneration is the highest stored batch generation.
	LastGeneration int64

	// BaseGeneration is the generation stamped on the initial content.
	BaseGeneration int64

	// Gaps lists generations missing between BaseGeneration and
	// LastGeneration. History is saved best effort, so a gap means a batch
	// failed to persist.
	Gaps []int64

	// Complete is true if history has no gaps and reaches the snapshot
	// generation, so replaying it should reproduce the snapshot.
	Complete bool
}

// GetDocumentState reads a document with its full history.
func (s *Store) GetDocumentState(ctx context.Context, id string) (DocumentState, error) {
	doc, err := s.ReadDocument(ctx, id)
	if err != nil {
		return DocumentState{}, err
	}
	batches, err := s.ReadHistory(ctx, id, 0)
	if err != nil {
		return DocumentState{}, fmt.Errorf("get document state: %w", err)
	}
	return analyse(doc, batches), nil
}

// FindReplayableDocuments returns the state of every stored document, in
// creation order.
func (s *Store) FindReplayableDocuments(ctx context.Context) ([]DocumentState, error) {
	docs, err := s.ListDocuments(ctx)
	if err != nil {
		return nil, err
	}
	states := make([]DocumentState, 0, len(docs))
	for _, doc := range docs {
		batches, err := s.ReadHistory(ctx, doc.ID, 0)
		if err != nil {
			return nil, fmt.Errorf("find replayable documents: %w", err)
		}
		states = append(states, analyse(doc, batches))
	}
	return states, nil
}

func analyse(doc Document, batches []journal.Batch) DocumentState {
	state := DocumentState{Document: doc, Batches: batches}
	if initial, err := tree.ParseStore([]byte(doc.InitialXML)); err == nil {
		state.BaseGeneration, _ = strconv.ParseInt(initial.Root().Attr(attrGeneration), 10, 64)
	}
	state.LastGeneration = state.BaseGeneration
	next := state.BaseGeneration + 1
	for _, b := range batches {
		for ; next < b.Generation; next++ {
			state.Gaps = append(state.Gaps, next)
		}
		next = b.Generation + 1
		state.LastGeneration = b.Generation
	}
	state.Complete = len(state.Gaps) == 0 && state.LastGeneration >= doc.Generation
	return state
}
