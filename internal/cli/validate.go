package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/stagehand/internal/config"
	"github.com/roach88/stagehand/internal/fault"
)

// Validation error codes that are not fault codes.
const (
	ErrCodeConfig    = "E_CONFIG"
	ErrCodeRead      = "E_READ"
	ErrCodeParameter = "E_PARAMETER"
)

// ValidationIssue is one problem found in an input.
type ValidationIssue struct {
	Source  string `json:"source"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ValidatedDocument summarizes a document that parsed.
type ValidatedDocument struct {
	File     string `json:"file"`
	Elements int    `json:"elements"`
	Events   int    `json:"events"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid     bool                `json:"valid"`
	Config    string              `json:"config,omitempty"`
	Documents []ValidatedDocument `json:"documents,omitempty"`
	Errors    []ValidationIssue   `json:"errors,omitempty"`
}

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
	Config string
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate [document.xml...]",
		Short: "Validate settings and document files",
		Long: `Validate a settings file against the settings schema, and document
files for well-formedness, unique identifiers and complete trigger
parameters. Nothing is modified.

Examples:
  stagehand validate --config ./stagehand.yaml
  stagehand validate ./timeline.xml ./other.xml
  stagehand validate --config ./stagehand.yaml ./timeline.xml --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Config, "config", "", "settings file to validate")

	return cmd
}

func runValidate(opts *ValidateOptions, paths []string, cmd *cobra.Command) error {
	out := newFormatter(opts.RootOptions, cmd)
	if opts.Config == "" && len(paths) == 0 {
		return out.fail(ExitCommandError, ErrCodeRead, "nothing to validate: give --config or document files", nil)
	}

	result := ValidationResult{Config: opts.Config, Documents: []ValidatedDocument{}}
	if opts.Config != "" {
		out.VerboseLog("Validating settings %s", opts.Config)
		result.Errors = append(result.Errors, validateConfig(opts.Config)...)
	}
	for _, path := range paths {
		out.VerboseLog("Validating document %s", path)
		doc, issues := validateDocument(path)
		if doc != nil {
			result.Documents = append(result.Documents, *doc)
		}
		result.Errors = append(result.Errors, issues...)
	}
	result.Valid = len(result.Errors) == 0

	if result.Valid {
		return out.Success(result)
	}
	if opts.Format == "json" {
		return out.fail(ExitFailure, result.Errors[0].Code, result.Errors[0].Message, result)
	}
	if err := out.Success(result); err != nil {
		return err
	}
	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(result.Errors)))
}

// validateConfig reports every schema violation of a settings file.
func validateConfig(path string) []ValidationIssue {
	_, err := config.Load(path)
	if err == nil {
		return nil
	}
	var ve *config.ValidationError
	if !errors.As(err, &ve) {
		return []ValidationIssue{{Source: path, Code: ErrCodeRead, Message: err.Error()}}
	}
	var issues []ValidationIssue
	for _, line := range strings.Split(ve.Details, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			issues = append(issues, ValidationIssue{Source: path, Code: ErrCodeConfig, Message: line})
		}
	}
	return issues
}

// validateDocument loads a document file and checks its trigger events.
func validateDocument(path string) (*ValidatedDocument, []ValidationIssue) {
	d, err := loadDocumentFile(path, config.ModeStandalone)
	if err != nil {
		code := ErrCodeRead
		if c := fault.CodeOf(err); c != "" {
			code = string(c)
		}
		return nil, []ValidationIssue{{Source: path, Code: code, Message: errors.Unwrap(err).Error()}}
	}

	var issues []ValidationIssue
	snapshot := d.Events()
	for _, e := range snapshot.Events {
		for _, p := range e.Parameters {
			if p.Parameter == "" {
				issues = append(issues, ValidationIssue{
					Source:  path,
					Code:    ErrCodeParameter,
					Message: fmt.Sprintf("event %s: parameter %q has no tt:parameter path", e.ID, p.Name),
				})
			}
		}
	}
	return &ValidatedDocument{
		File:     path,
		Elements: d.Count(),
		Events:   len(snapshot.Events),
	}, issues
}

// Text renders the result for terminal output.
func (r ValidationResult) Text() string {
	var b strings.Builder
	if r.Config != "" && !r.hasErrors(r.Config) {
		fmt.Fprintf(&b, "✓ %s: settings valid\n", r.Config)
	}
	for _, d := range r.Documents {
		if r.hasErrors(d.File) {
			continue
		}
		fmt.Fprintf(&b, "✓ %s: %d elements, %d events\n", d.File, d.Elements, d.Events)
	}
	if r.Valid {
		b.WriteString("✓ All inputs valid\n")
		return b.String()
	}

	b.WriteString("✗ Validation failed\n\n")
	for _, issue := range r.Errors {
		fmt.Fprintf(&b, "%s\n  %s: %s\n\n", issue.Source, issue.Code, issue.Message)
	}
	return b.String()
}

func (r ValidationResult) hasErrors(source string) bool {
	for _, issue := range r.Errors {
		if issue.Source == source {
			return true
		}
	}
	return false
}
