package cli

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/canvasync/internal/canvas"
	"github.com/roach88/canvasync/internal/element"
	"github.com/roach88/canvasync/internal/oplog"
	"github.com/roach88/canvasync/internal/projector"
	"github.com/roach88/canvasync/internal/snapshot"
	"github.com/roach88/canvasync/internal/store"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Database string
	Project  string // optional - specific project only
}

// ReplayProjectResult holds the replay result for a single project.
type ReplayProjectResult struct {
	Project       string         `json:"project"`
	FromSnapshot  bool           `json:"from_snapshot"`
	SnapshotSeq   int64          `json:"snapshot_seq"`
	Applied       int            `json:"applied"`
	Skipped       int            `json:"skipped"`
	Replaced      int            `json:"replaced"`
	Failed        int            `json:"failed"`
	LastSeq       int64          `json:"last_seq"`
	Collections   map[string]int `json:"collections"`
	Hash          string         `json:"hash"`
	Deterministic bool           `json:"deterministic"`
}

// ReplayResult holds the overall replay result.
type ReplayResult struct {
	Projects         []ReplayProjectResult `json:"projects"`
	TotalProjects    int                   `json:"total_projects"`
	AllDeterministic bool                  `json:"all_deterministic"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Rebuild projects from snapshot and op log and verify determinism",
		Long: `Rebuild each project the way a client does on open: hydrate the stored
snapshot, then replay the op log after the snapshot's cursor.

Every project is rebuilt twice and the resulting documents are compared by
content hash.

Exit codes:
  0 - All projects rebuild deterministically
  1 - Determinism verification failed (documents differ)
  2 - Command error (database not found, etc.)

Examples:
  canvasd replay --db ./canvas.db
  canvasd replay --db ./canvas.db --project p1
  canvasd replay --db ./canvas.db --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(cmd.Context(), opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Project, "project", "", "replay specific project only")

	return cmd
}

func runReplay(ctx context.Context, opts *ReplayOptions, cmd *cobra.Command) error {
	st, err := openStore(opts.Database, false)
	if err != nil {
		return err
	}
	defer st.Close()

	projects := []string{opts.Project}
	if opts.Project == "" {
		projects, err = st.Projects(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to list projects", err)
		}
	}

	f := newFormatter(opts.RootOptions, cmd)
	result := ReplayResult{
		Projects:         make([]ReplayProjectResult, 0, len(projects)),
		TotalProjects:    len(projects),
		AllDeterministic: true,
	}
	for _, project := range projects {
		f.VerboseLog("Replaying %s", project)
		pr, err := replayAndVerify(ctx, st, project, opts.Logger())
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("failed to replay project %s", project), err)
		}
		result.Projects = append(result.Projects, pr)
		if !pr.Deterministic {
			result.AllDeterministic = false
		}
	}

	if f.JSON() {
		var failure *CLIError
		if !result.AllDeterministic {
			failure = &CLIError{Code: ErrCodeDeterminism, Message: "determinism verification failed"}
		}
		return f.Result(result, failure)
	}
	return outputReplayText(cmd, result, opts.Verbose)
}

// rebuilt is one project reconstructed from durable storage.
type rebuilt struct {
	state     *canvas.State
	hydration snapshot.Hydration
	stats     oplog.ReplayStats
}

// rebuild hydrates project's snapshot into a fresh state and replays the op
// log after the snapshot's cursor.
func rebuild(ctx context.Context, st *store.Store, project string, logger *slog.Logger) (rebuilt, error) {
	state := canvas.New(project, canvas.WithLogger(logger))
	h := snapshot.Hydrate(ctx, st, state, logger)
	cur := oplog.CursorOf(h.Metadata)
	recs, err := st.ReadOperations(ctx, project, cur.Seq)
	if err != nil {
		return rebuilt{}, fmt.Errorf("read history: %w", err)
	}
	stats := oplog.ReplayRecords(state, recs, cur, logger)
	return rebuilt{state: state, hydration: h, stats: stats}, nil
}

// document returns the rebuilt state's snapshot document and its hash.
func (r rebuilt) document() (element.Document, string, error) {
	doc := snapshot.FromView(r.state.View())
	hash, err := snapshot.Hash(doc)
	if err != nil {
		return element.Document{}, "", fmt.Errorf("hash document: %w", err)
	}
	return doc, hash, nil
}

// replayAndVerify rebuilds a single project twice and compares the results.
func replayAndVerify(ctx context.Context, st *store.Store, project string, logger *slog.Logger) (ReplayProjectResult, error) {
	first, err := rebuild(ctx, st, project, logger)
	if err != nil {
		return ReplayProjectResult{}, fmt.Errorf("first replay failed: %w", err)
	}
	second, err := rebuild(ctx, st, project, logger)
	if err != nil {
		return ReplayProjectResult{}, fmt.Errorf("second replay failed: %w", err)
	}
	_, hash1, err := first.document()
	if err != nil {
		return ReplayProjectResult{}, err
	}
	_, hash2, err := second.document()
	if err != nil {
		return ReplayProjectResult{}, err
	}

	cols := first.state.Collections()
	counts := make(map[string]int)
	for name, n := range cols.Counts() {
		counts[string(name)] = n
	}

	return ReplayProjectResult{
		Project:       project,
		FromSnapshot:  first.hydration.Loaded,
		SnapshotSeq:   first.hydration.Metadata.Seq,
		Applied:       first.stats.Applied,
		Skipped:       first.stats.Skipped,
		Replaced:      first.stats.Snapshots,
		Failed:        first.stats.Failed,
		LastSeq:       first.stats.LastSeq,
		Collections:   counts,
		Hash:          hash1,
		Deterministic: hash1 == hash2 && projector.Equal(cols, second.state.Collections()),
	}, nil
}

// outputReplayText outputs the replay result as text.
func outputReplayText(cmd *cobra.Command, result ReplayResult, verbose bool) error {
	w := cmd.OutOrStdout()

	if result.TotalProjects == 0 {
		fmt.Fprintln(w, "No projects found in database.")
		return nil
	}

	fmt.Fprintf(w, "Replay Summary: %d project(s)\n", result.TotalProjects)
	fmt.Fprintln(w)

	for _, p := range result.Projects {
		status := "✓"
		if !p.Deterministic {
			status = "✗"
		}
		fmt.Fprintf(w, "%s Project: %s\n", status, p.Project)

		base := "empty canvas"
		if p.FromSnapshot {
			base = fmt.Sprintf("snapshot at seq %d", p.SnapshotSeq)
		}
		fmt.Fprintf(w, "  Base: %s\n", base)
		fmt.Fprintf(w, "  Ops: %d applied, %d skipped, %d failed (last seq %d)\n", p.Applied, p.Skipped, p.Failed, p.LastSeq)
		fmt.Fprintf(w, "  Elements: %s\n", formatCounts(p.Collections))
		if verbose {
			fmt.Fprintf(w, "  Replaced: %d\n", p.Replaced)
			fmt.Fprintf(w, "  Hash: %s\n", p.Hash)
		}
		if !p.Deterministic {
			fmt.Fprintln(w, "  Warning: Non-deterministic replay detected!")
		}
		fmt.Fprintln(w)
	}

	if result.AllDeterministic {
		fmt.Fprintln(w, "✓ All projects verified deterministic")
		return nil
	}

	fmt.Fprintln(w, "✗ Determinism verification failed")
	return NewExitError(ExitFailure, "determinism verification failed")
}

func formatCounts(counts map[string]int) string {
	var parts []string
	for _, name := range projector.AllCollections {
		if n, ok := counts[string(name)]; ok {
			parts = append(parts, fmt.Sprintf("%d %s", n, name))
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, ", ")
}
