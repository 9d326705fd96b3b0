package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/stagehand/internal/config"
	"github.com/roach88/stagehand/internal/events"
	"github.com/roach88/stagehand/internal/fault"
)

// TriggerOptions holds flags for the trigger command.
type TriggerOptions struct {
	*RootOptions
	Params  []string
	Enqueue bool
	Mode    string
	Output  string
}

// TriggerResult describes one offline trigger.
type TriggerResult struct {
	EventID  string `json:"event_id"`
	NewID    string `json:"new_id"`
	Enqueued bool   `json:"enqueued"`
	Elements int    `json:"elements"`
	Output   string `json:"output,omitempty"`
	XML      string `json:"xml,omitempty"`
}

// NewTriggerCommand creates the trigger command.
func NewTriggerCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TriggerOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trigger <document.xml> <event-id>",
		Short: "Trigger an event template in a document file",
		Long: `Trigger (or enqueue) an event template in a document file, without a
running server, and write the resulting document.

Parameters are given as path=value pairs, where path is the tt:parameter
of the template's parameter. Without --output the resulting document is
printed.

Examples:
  stagehand trigger ./timeline.xml event2 --param ./tl:sleep/@tl:dur=5
  stagehand trigger ./timeline.xml event1 --enqueue -o ./queued.xml
  stagehand trigger ./timeline.xml event3 --format json`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrigger(opts, args[0], args[1], cmd)
		},
	}

	cmd.Flags().StringArrayVar(&opts.Params, "param", nil, "parameter as path=value (repeatable)")
	cmd.Flags().BoolVar(&opts.Enqueue, "enqueue", false, "stage the event in tt:completeEvents instead of triggering it")
	cmd.Flags().StringVar(&opts.Mode, "mode", config.ModeStandalone, "playback mode (standalone|tv)")
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "write the resulting document to this file")

	return cmd
}

func runTrigger(opts *TriggerOptions, path, eventID string, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	out := newFormatter(opts.RootOptions, cmd)

	params, err := parseParams(opts.Params)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --param", err)
	}

	d, err := loadDocumentFile(path, opts.Mode)
	if err != nil {
		return err
	}

	var newID string
	if opts.Enqueue {
		newID, err = d.Enqueue(ctx, eventID, params)
	} else {
		newID, err = d.Trigger(ctx, eventID, params)
	}
	if err != nil {
		return out.fail(ExitFailure, string(fault.CodeOf(err)), err.Error(), map[string]string{"event": eventID})
	}
	out.VerboseLog("Created %s from %s", newID, eventID)

	result := TriggerResult{
		EventID:  eventID,
		NewID:    newID,
		Enqueued: opts.Enqueue,
		Elements: d.Count(),
		Output:   opts.Output,
	}
	if opts.Output == "" {
		result.XML = d.Timeline(false)
		if opts.Format != "json" {
			return out.Success(result.XML)
		}
		return out.Success(result)
	}
	if err := d.Save(opts.Output); err != nil {
		return WrapExitError(ExitCommandError, "failed to write document", err)
	}
	return out.Success(result)
}

// parseParams splits path=value pairs. The value may itself contain '='.
func parseParams(raw []string) ([]events.Param, error) {
	params := make([]events.Param, 0, len(raw))
	for _, p := range raw {
		path, value, ok := strings.Cut(p, "=")
		if !ok || path == "" {
			return nil, fmt.Errorf("parameter %q is not path=value", p)
		}
		params = append(params, events.Param{Parameter: path, Value: value})
	}
	return params, nil
}

// Text renders the result for terminal output.
func (r TriggerResult) Text() string {
	verb := "Triggered"
	if r.Enqueued {
		verb = "Enqueued"
	}
	return fmt.Sprintf("%s %s as %s (%d elements), wrote %s\n", verb, r.EventID, r.NewID, r.Elements, r.Output)
}
