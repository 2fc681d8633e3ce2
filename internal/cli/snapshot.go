package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/canvasync/internal/element"
)

// SnapshotOptions holds flags for the snapshot command.
type SnapshotOptions struct {
	*RootOptions
	Database string
	Project  string
	Out      string
	Compact  bool
}

// SnapshotSummary describes a stored snapshot document.
type SnapshotSummary struct {
	Project  string `json:"project"`
	Hash     string `json:"hash"`
	Seq      int64  `json:"seq"`
	Elements int    `json:"elements"`
	Bytes    int    `json:"bytes"`
	Path     string `json:"path,omitempty"`
}

func (s SnapshotSummary) String() string {
	out := fmt.Sprintf("Project %s: %d element(s) at seq %d (%s)", s.Project, s.Elements, s.Seq, s.Hash)
	if s.Path != "" {
		out += "\nWrote " + s.Path
	}
	return out
}

// NewSnapshotCommand creates the snapshot command.
func NewSnapshotCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SnapshotOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Export or compact a project's snapshot document",
		Long: `Export the stored snapshot document of a project.

With --compact the project is rebuilt from its snapshot and op log tail and
the result replaces the stored document, so later opens replay nothing.

Examples:
  canvasd snapshot --db ./canvas.db --project p1
  canvasd snapshot --db ./canvas.db --project p1 --out p1.json
  canvasd snapshot --db ./canvas.db --project p1 --compact`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSnapshot(cmd.Context(), opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	cmd.Flags().StringVar(&opts.Project, "project", "", "project id (required)")
	_ = cmd.MarkFlagRequired("db")
	_ = cmd.MarkFlagRequired("project")
	cmd.Flags().StringVarP(&opts.Out, "out", "o", "", "write the document to a file instead of stdout")
	cmd.Flags().BoolVar(&opts.Compact, "compact", false, "rebuild from the op log and store the result")

	return cmd
}

func runSnapshot(ctx context.Context, opts *SnapshotOptions, cmd *cobra.Command) error {
	st, err := openStore(opts.Database, false)
	if err != nil {
		return err
	}
	defer st.Close()

	f := newFormatter(opts.RootOptions, cmd)

	var doc element.Document
	if opts.Compact {
		r, err := rebuild(ctx, st, opts.Project, opts.Logger())
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to rebuild project", err)
		}
		doc, _, err = r.document()
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to rebuild project", err)
		}
		if err := st.SetCurrentSnapshot(ctx, opts.Project, doc); err != nil {
			return WrapExitError(ExitCommandError, "failed to store snapshot", err)
		}
		f.VerboseLog("Compacted %s: replayed %d op(s) through seq %d", opts.Project, r.stats.Applied, r.stats.LastSeq)
	} else {
		doc, err = st.CurrentSnapshot(ctx, opts.Project)
		if errors.Is(err, element.ErrNoDocument) {
			_ = f.Error(ErrCodeNotFound, fmt.Sprintf("project %s has no snapshot", opts.Project), nil)
			return NewExitError(ExitFailure, "no snapshot")
		}
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read snapshot", err)
		}
	}

	info, err := st.Snapshot(ctx, opts.Project)
	if err != nil && !errors.Is(err, element.ErrNoDocument) {
		return WrapExitError(ExitCommandError, "failed to read snapshot", err)
	}
	summary := SnapshotSummary{
		Project:  opts.Project,
		Hash:     info.ContentHash,
		Seq:      doc.Metadata.Seq,
		Elements: len(doc.Elements),
		Bytes:    info.Size,
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to encode snapshot", err)
	}
	switch {
	case opts.Out != "":
		if err := os.WriteFile(opts.Out, append(data, '\n'), 0o644); err != nil {
			return WrapExitError(ExitCommandError, "failed to write snapshot", err)
		}
		summary.Path = opts.Out
		return f.Success(summary)
	case opts.Compact:
		return f.Success(summary)
	case f.JSON():
		return f.Success(doc)
	default:
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	}
}
