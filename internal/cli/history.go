package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/canvasync/internal/op"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Database string
	Project  string
	After    int64
	Limit    int
}

// HistoryEntry is one durable operation.
type HistoryEntry struct {
	Seq        int64     `json:"seq"`
	RecordedAt time.Time `json:"recorded_at"`
	Type       op.Type   `json:"type"`
	Targets    []string  `json:"targets"`
	RequestID  string    `json:"request_id"`
	Snapshot   bool      `json:"snapshot,omitempty"`
}

// HistoryResult lists a project's op log.
type HistoryResult struct {
	Project string         `json:"project"`
	Entries []HistoryEntry `json:"entries"`
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List a project's durable op log",
		Long: `List the operations recorded for a project in sequence order.

Examples:
  canvasd history --db ./canvas.db --project p1
  canvasd history --db ./canvas.db --project p1 --after 120 --limit 20`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(cmd.Context(), opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	cmd.Flags().StringVar(&opts.Project, "project", "", "project id (required)")
	_ = cmd.MarkFlagRequired("db")
	_ = cmd.MarkFlagRequired("project")
	cmd.Flags().Int64Var(&opts.After, "after", 0, "only list operations after this seq")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "list at most this many operations (0 for all)")

	return cmd
}

func runHistory(ctx context.Context, opts *HistoryOptions, cmd *cobra.Command) error {
	if opts.After < 0 || opts.Limit < 0 {
		return NewExitError(ExitCommandError, "--after and --limit must not be negative")
	}
	st, err := openStore(opts.Database, false)
	if err != nil {
		return err
	}
	defer st.Close()

	recs, err := st.ReadOperations(ctx, opts.Project, opts.After)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read op log", err)
	}
	if opts.Limit > 0 && len(recs) > opts.Limit {
		recs = recs[:opts.Limit]
	}

	result := HistoryResult{Project: opts.Project, Entries: make([]HistoryEntry, 0, len(recs))}
	for _, rec := range recs {
		result.Entries = append(result.Entries, HistoryEntry{
			Seq:        rec.Seq,
			RecordedAt: rec.RecordedAt,
			Type:       rec.Op.Type,
			Targets:    rec.Op.Targets(),
			RequestID:  rec.Op.RequestID,
			Snapshot:   rec.Op.IsSnapshot(),
		})
	}

	f := newFormatter(opts.RootOptions, cmd)
	if f.JSON() {
		return f.Success(result)
	}

	w := cmd.OutOrStdout()
	if len(result.Entries) == 0 {
		fmt.Fprintf(w, "No operations recorded for %s.\n", opts.Project)
		return nil
	}
	for _, e := range result.Entries {
		kind := string(e.Type)
		if e.Snapshot {
			kind = "snapshot"
		}
		fmt.Fprintf(w, "%6d  %s  %-8s %s", e.Seq, e.RecordedAt.Format(time.RFC3339), kind, strings.Join(e.Targets, ","))
		if opts.Verbose {
			fmt.Fprintf(w, "  (%s)", e.RequestID)
		}
		fmt.Fprintln(w)
	}
	return nil
}
