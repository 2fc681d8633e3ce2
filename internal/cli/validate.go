package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/canvasync/internal/element"
	"github.com/roach88/canvasync/internal/snapshot"
	"github.com/roach88/canvasync/internal/value"
)

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
	Database string
	Project  string
}

// DocumentResult is the validation outcome of one document.
type DocumentResult struct {
	Source string `json:"source"`
	Valid  bool   `json:"valid"`
	Path   string `json:"path,omitempty"`
	Error  string `json:"error,omitempty"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid     bool             `json:"valid"`
	Documents []DocumentResult `json:"documents"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate [files...]",
		Short: "Validate snapshot documents against the document schema",
		Long: `Validate snapshot documents against the CUE document schema.

Documents are read from the given files, or from the database with
--db and --project.

Exit codes:
  0 - All documents valid
  1 - At least one document is invalid
  2 - Command error (unreadable file, database not found, etc.)

Examples:
  canvasd validate p1.json p2.json
  canvasd validate --db ./canvas.db --project p1`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd.Context(), opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database")
	cmd.Flags().StringVar(&opts.Project, "project", "", "project whose stored snapshot to validate")
	cmd.MarkFlagsRequiredTogether("db", "project")

	return cmd
}

func runValidate(ctx context.Context, opts *ValidateOptions, files []string, cmd *cobra.Command) error {
	if len(files) == 0 && opts.Database == "" {
		return NewExitError(ExitCommandError, "no documents: pass files or --db and --project")
	}

	schema, err := snapshot.NewSchema()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load document schema", err)
	}
	f := newFormatter(opts.RootOptions, cmd)
	result := ValidationResult{Valid: true}

	for _, file := range files {
		f.VerboseLog("Validating %s", file)
		data, err := os.ReadFile(file)
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("failed to read %s", file), err)
		}
		result.add(file, schema.ValidateJSON(data))
	}

	if opts.Database != "" {
		st, err := openStore(opts.Database, false)
		if err != nil {
			return err
		}
		defer st.Close()
		doc, err := st.CurrentSnapshot(ctx, opts.Project)
		if errors.Is(err, element.ErrNoDocument) {
			return WrapExitError(ExitCommandError, fmt.Sprintf("project %s has no snapshot", opts.Project), err)
		}
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read snapshot", err)
		}
		data, err := value.Canonical(doc)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to encode snapshot", err)
		}
		result.add("project:"+opts.Project, schema.ValidateJSON(data))
	}

	if f.JSON() {
		var failure *CLIError
		if !result.Valid {
			failure = &CLIError{Code: ErrCodeInvalid, Message: "document validation failed"}
		}
		return f.Result(result, failure)
	}

	w := cmd.OutOrStdout()
	for _, d := range result.Documents {
		if d.Valid {
			fmt.Fprintf(w, "✓ %s\n", d.Source)
			continue
		}
		fmt.Fprintf(w, "✗ %s: %s\n", d.Source, d.Error)
	}
	if !result.Valid {
		return NewExitError(ExitFailure, "document validation failed")
	}
	fmt.Fprintf(w, "✓ %d document(s) valid\n", len(result.Documents))
	return nil
}

func (r *ValidationResult) add(source string, err error) {
	d := DocumentResult{Source: source, Valid: err == nil}
	if err != nil {
		r.Valid = false
		d.Error = err.Error()
		var se *snapshot.SchemaError
		if errors.As(err, &se) {
			d.Path = se.Path
			d.Error = se.Message
		}
	}
	r.Documents = append(r.Documents, d)
}
