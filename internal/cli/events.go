package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/stagehand/internal/config"
	"github.com/roach88/stagehand/internal/document"
	"github.com/roach88/stagehand/internal/events"
)

// EventsOptions holds flags for the events command.
type EventsOptions struct {
	*RootOptions
	Mode  string
	State string // optional - filter to one event state
}

// EventsResult is the event listing of one document file.
type EventsResult struct {
	File   string              `json:"file"`
	Mode   string              `json:"mode"`
	Events []events.Descriptor `json:"events"`

	verbose bool
}

// NewEventsCommand creates the events command.
func NewEventsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EventsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "events <document.xml>",
		Short: "List the trigger events of a document file",
		Long: `Load a document file and list its trigger events: templates that can be
triggered, active events that can be modified, and their parameters.

Examples:
  stagehand events ./timeline.xml
  stagehand events ./timeline.xml --state abstract --verbose
  stagehand events ./timeline.xml --mode tv --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEvents(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Mode, "mode", config.ModeStandalone, "playback mode (standalone|tv)")
	cmd.Flags().StringVar(&opts.State, "state", "", "only list events in this state (abstract|ready|active|finished)")

	return cmd
}

func runEvents(opts *EventsOptions, path string, cmd *cobra.Command) error {
	out := newFormatter(opts.RootOptions, cmd)

	d, err := loadDocumentFile(path, opts.Mode)
	if err != nil {
		return err
	}

	snapshot := d.Events()
	result := EventsResult{
		File:    filepath.Base(path),
		Mode:    snapshot.Mode,
		Events:  []events.Descriptor{},
		verbose: opts.Verbose,
	}
	for _, e := range snapshot.Events {
		if opts.State != "" && string(e.State) != opts.State {
			continue
		}
		result.Events = append(result.Events, e)
	}
	return out.Success(result)
}

// loadDocumentFile reads an XML document file into a standalone document.
func loadDocumentFile(path, mode string) (*document.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to read document", err)
	}
	d := document.New(filepath.Base(path), document.Options{Mode: mode})
	if err := d.LoadXML(data); err != nil {
		return nil, WrapExitError(ExitCommandError, fmt.Sprintf("failed to parse %s", path), err)
	}
	return d, nil
}

// Text renders the listing for terminal output.
func (r EventsResult) Text() string {
	var b strings.Builder
	if len(r.Events) == 0 {
		fmt.Fprintf(&b, "No events found in %s\n", r.File)
		return b.String()
	}

	fmt.Fprintf(&b, "Events: %s (%d, mode %s)\n\n", r.File, len(r.Events), r.Mode)
	for _, e := range r.Events {
		var verbs []string
		if e.Trigger {
			verbs = append(verbs, "trigger")
		}
		if e.Modify {
			verbs = append(verbs, "modify")
		}
		fmt.Fprintf(&b, "%-12s %-9s %-16s %s\n", e.ID, e.State, strings.Join(verbs, ","), e.Name)
		if !r.verbose {
			continue
		}
		for _, p := range e.Parameters {
			required := ""
			if p.Required {
				required = " (required)"
			}
			fmt.Fprintf(&b, "    %s: %s [%s]%s\n", p.Name, p.Parameter, p.Type, required)
		}
	}
	return b.String()
}
