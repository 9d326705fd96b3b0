package store

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/stagehand/internal/journal"
)

// marshalOperations converts a batch to canonical JSON TEXT for storage,
// together with its digest.
func marshalOperations(batch journal.Batch) (operations, digest string) {
	return string(journal.MarshalCanonical(batch)), journal.Digest(batch)
}

// unmarshalOperations parses a stored batch and checks it against its
// digest. A mismatch means the row was altered outside the store.
func unmarshalOperations(data, digest string) (journal.Batch, error) {
	var batch journal.Batch
	if err := json.Unmarshal([]byte(data), &batch); err != nil {
		return journal.Batch{}, fmt.Errorf("unmarshal operations: %w", err)
	}
	if batch.Operations == nil {
		batch.Operations = []journal.Command{}
	}
	if got := journal.Digest(batch); got != digest {
		return journal.Batch{}, fmt.Errorf("generation %d: digest mismatch: stored %s, computed %s",
			batch.Generation, digest, got)
	}
	return batch, nil
}
