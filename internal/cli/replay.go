package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/stagehand/internal/clock"
	"github.com/roach88/stagehand/internal/document"
	"github.com/roach88/stagehand/internal/store"
	"github.com/roach88/stagehand/internal/textdiff"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Database string
	Document string // optional - specific document only
}

// ReplayDocumentResult holds the replay result for a single document.
type ReplayDocumentResult struct {
	DocumentID         string  `json:"document_id"`
	Batches            int     `json:"batches"`
	BaseGeneration     int64   `json:"base_generation"`
	LastGeneration     int64   `json:"last_generation"`
	SnapshotGeneration int64   `json:"snapshot_generation"`
	Gaps               []int64 `json:"gaps,omitempty"`
	Complete           bool    `json:"complete"`
	Match              bool    `json:"match"`
	Diff               string  `json:"diff,omitempty"`
}

// ReplayResult holds the overall replay result.
type ReplayResult struct {
	Documents      []ReplayDocumentResult `json:"documents"`
	TotalDocuments int                    `json:"total_documents"`
	AllMatch       bool                   `json:"all_match"`

	verbose bool
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Rebuild stored documents from their history",
		Long: `Rebuild every stored document from its initial content and its
forwarded batches, and compare the result with the stored snapshot.

A document whose history has gaps cannot be rebuilt and counts as a
mismatch.

Exit codes:
  0 - All documents rebuild to their snapshot
  1 - Replay mismatch (differences detected)
  2 - Command error (database not found, etc.)

Examples:
  stagehand replay --db ./stagehand.db
  stagehand replay --db ./stagehand.db --document 0192f4a6-...
  stagehand replay --db ./stagehand.db --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Document, "document", "", "replay specific document only")

	return cmd
}

func runReplay(opts *ReplayOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	out := newFormatter(opts.RootOptions, cmd)

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	var states []store.DocumentState
	if opts.Document != "" {
		state, err := st.GetDocumentState(ctx, opts.Document)
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("failed to read document %s", opts.Document), err)
		}
		states = []store.DocumentState{state}
	} else {
		states, err = st.FindReplayableDocuments(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to list documents", err)
		}
	}

	result := ReplayResult{
		Documents:      make([]ReplayDocumentResult, 0, len(states)),
		TotalDocuments: len(states),
		AllMatch:       true,
		verbose:        opts.Verbose,
	}
	for _, state := range states {
		out.VerboseLog("Replaying %s (%d batches)", state.ID, len(state.Batches))
		doc, err := replayDocument(ctx, state)
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("failed to replay document %s", state.ID), err)
		}
		result.Documents = append(result.Documents, doc)
		if !doc.Match {
			result.AllMatch = false
		}
	}

	if result.AllMatch {
		return out.Success(result)
	}
	if opts.Format == "json" {
		return out.fail(ExitFailure, "E_REPLAY", "replay mismatch", result)
	}
	if err := out.Success(result); err != nil {
		return err
	}
	return NewExitError(ExitFailure, "replay mismatch")
}

// replayDocument rebuilds one document from its history. Batches newer than
// the snapshot are skipped: they were saved but the snapshot write after
// them was lost.
func replayDocument(ctx context.Context, state store.DocumentState) (ReplayDocumentResult, error) {
	res := ReplayDocumentResult{
		DocumentID:         state.ID,
		Batches:            len(state.Batches),
		BaseGeneration:     state.BaseGeneration,
		LastGeneration:     state.LastGeneration,
		SnapshotGeneration: state.Generation,
		Gaps:               state.Gaps,
		Complete:           state.Complete,
	}
	if !state.Complete {
		return res, nil
	}

	d := document.New(state.ID, document.Options{Source: clock.NewFastSource()})
	if err := d.LoadXML([]byte(state.InitialXML)); err != nil {
		return res, fmt.Errorf("load initial content: %w", err)
	}
	for _, b := range state.Batches {
		if b.Generation <= state.BaseGeneration || b.Generation > state.Generation {
			continue
		}
		if err := d.ApplyBatch(ctx, b); err != nil {
			res.Diff = fmt.Sprintf("batch %d did not apply: %v\n", b.Generation, err)
			return res, nil
		}
	}

	res.Diff = textdiff.XML(state.XML, d.Timeline(false))
	res.Match = res.Diff == ""
	return res, nil
}

// Text renders the result for terminal output.
func (r ReplayResult) Text() string {
	var b strings.Builder
	if r.TotalDocuments == 0 {
		b.WriteString("No documents found in database.\n")
		return b.String()
	}

	fmt.Fprintf(&b, "Replay Summary: %d document(s)\n\n", r.TotalDocuments)
	for _, doc := range r.Documents {
		status := "✓"
		if !doc.Match {
			status = "✗"
		}
		fmt.Fprintf(&b, "%s Document: %s\n", status, doc.DocumentID)
		if r.verbose {
			fmt.Fprintf(&b, "  Batches: %d\n", doc.Batches)
			fmt.Fprintf(&b, "  Generations: %d..%d\n", doc.BaseGeneration, doc.LastGeneration)
			fmt.Fprintf(&b, "  Snapshot: %d\n", doc.SnapshotGeneration)
		} else {
			fmt.Fprintf(&b, "  Batches: %d, generation %d\n", doc.Batches, doc.SnapshotGeneration)
		}
		switch {
		case len(doc.Gaps) > 0:
			fmt.Fprintf(&b, "  Warning: history incomplete, missing generations %v\n", doc.Gaps)
		case !doc.Complete:
			fmt.Fprintf(&b, "  Warning: history ends at generation %d\n", doc.LastGeneration)
		case !doc.Match:
			b.WriteString("  Warning: rebuilt document differs from snapshot:\n")
			for _, line := range strings.Split(strings.TrimRight(doc.Diff, "\n"), "\n") {
				fmt.Fprintf(&b, "    %s\n", line)
			}
		}
		b.WriteString("\n")
	}

	if r.AllMatch {
		b.WriteString("✓ All documents rebuild to their snapshot\n")
	} else {
		b.WriteString("✗ Replay verification failed\n")
	}
	return b.String()
}
