package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/stagehand/internal/journal"
	"github.com/roach88/stagehand/internal/store"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Database string
	Document string
	After    int64
	Verb     string // optional - filter to one command verb
}

// HistoryBatch is one stored batch in the history listing.
type HistoryBatch struct {
	Generation int64    `json:"generation"`
	Adds       int      `json:"adds"`
	Deletes    int      `json:"deletes"`
	Changes    int      `json:"changes"`
	Operations []string `json:"operations"`
}

// HistoryResult holds the history listing of one document.
type HistoryResult struct {
	DocumentID string         `json:"document_id"`
	Generation int64          `json:"generation"`
	Batches    []HistoryBatch `json:"batches"`
	Stats      HistoryStats   `json:"stats"`

	verbose bool
}

// HistoryStats holds summary statistics for the listing.
type HistoryStats struct {
	TotalBatches    int `json:"total_batches"`
	TotalOperations int `json:"total_operations"`
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List the stored batches of a document",
		Long: `List the forwarded batches stored for a document, in generation order.

Each batch shows how many elements it added, deleted and changed. With
--verbose every command of the batch is printed.

Examples:
  stagehand history --db ./stagehand.db --document 0192f4a6-...
  stagehand history --db ./stagehand.db --document 0192f4a6-... --after 10
  stagehand history --db ./stagehand.db --document 0192f4a6-... --verb delete --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Document, "document", "", "document id (required)")
	_ = cmd.MarkFlagRequired("document")
	cmd.Flags().Int64Var(&opts.After, "after", 0, "only list generations after this one")
	cmd.Flags().StringVar(&opts.Verb, "verb", "", "only list commands with this verb (add|delete|change)")

	return cmd
}

func runHistory(opts *HistoryOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	out := newFormatter(opts.RootOptions, cmd)

	var verb *journal.Verb
	if opts.Verb != "" {
		v, err := journal.ParseVerb(opts.Verb)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid --verb", err)
		}
		verb = &v
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	doc, err := st.ReadDocument(ctx, opts.Document)
	if err != nil {
		return WrapExitError(ExitCommandError, fmt.Sprintf("failed to read document %s", opts.Document), err)
	}
	batches, err := st.ReadHistory(ctx, opts.Document, opts.After)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read history", err)
	}

	result := HistoryResult{
		DocumentID: doc.ID,
		Generation: doc.Generation,
		Batches:    buildHistory(batches, verb),
		verbose:    opts.Verbose,
	}
	result.Stats.TotalBatches = len(result.Batches)
	for _, b := range result.Batches {
		result.Stats.TotalOperations += len(b.Operations)
	}
	return out.Success(result)
}

// buildHistory summarizes batches. With a verb filter, batches without a
// matching command are left out.
func buildHistory(batches []journal.Batch, verb *journal.Verb) []HistoryBatch {
	out := []HistoryBatch{}
	for _, b := range batches {
		hb := HistoryBatch{Generation: b.Generation, Operations: []string{}}
		for _, c := range b.Operations {
			if verb != nil && c.Verb != *verb {
				continue
			}
			switch c.Verb {
			case journal.VerbAdd:
				hb.Adds++
			case journal.VerbDelete:
				hb.Deletes++
			case journal.VerbChange:
				hb.Changes++
			}
			hb.Operations = append(hb.Operations, c.String())
		}
		if verb != nil && len(hb.Operations) == 0 {
			continue
		}
		out = append(out, hb)
	}
	return out
}

// Text renders the listing for terminal output.
func (r HistoryResult) Text() string {
	var b strings.Builder
	if len(r.Batches) == 0 {
		fmt.Fprintf(&b, "No history found for document: %s\n", r.DocumentID)
		return b.String()
	}

	fmt.Fprintf(&b, "History: %s (generation %d)\n\n", r.DocumentID, r.Generation)
	for _, batch := range r.Batches {
		fmt.Fprintf(&b, "[%d] +%d -%d ~%d\n", batch.Generation, batch.Adds, batch.Deletes, batch.Changes)
		if r.verbose {
			for _, op := range batch.Operations {
				fmt.Fprintf(&b, "    %s\n", op)
			}
		}
	}
	fmt.Fprintf(&b, "\n%d batch(es), %d operation(s)\n", r.Stats.TotalBatches, r.Stats.TotalOperations)
	return b.String()
}
