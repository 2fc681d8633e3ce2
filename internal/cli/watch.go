package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/canvasync/internal/canvas"
	"github.com/roach88/canvasync/internal/reconcile"
)

// WatchOptions holds flags for the watch command.
type WatchOptions struct {
	*RootOptions
	Database string
	Project  string
	URL      string
	Duration time.Duration
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Open a project as a client and print its changes",
		Long: `Open a project the way a client does: hydrate the local snapshot, replay
the op log tail, then apply realtime messages from --url.

Every change is printed until interrupted or --duration elapses. The
snapshot is flushed to the local database on exit.

Examples:
  canvasd watch --db ./mirror.db --project p1 --url ws://localhost:8080/projects/p1/ws
  canvasd watch --db ./canvas.db --project p1 --duration 30s`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if opts.Duration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, opts.Duration)
				defer cancel()
			}
			return runWatch(ctx, opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (default from config)")
	cmd.Flags().StringVar(&opts.Project, "project", "", "project id (required)")
	_ = cmd.MarkFlagRequired("project")
	cmd.Flags().StringVar(&opts.URL, "url", "", "realtime websocket URL of the project")
	cmd.Flags().DurationVar(&opts.Duration, "duration", 0, "stop after this long (0 to run until interrupted)")

	return cmd
}

func runWatch(ctx context.Context, opts *WatchOptions, cmd *cobra.Command) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	if opts.Database != "" {
		cfg.Database = opts.Database
	}

	st, err := openStore(cfg.Database, true)
	if err != nil {
		return err
	}
	defer st.Close()

	sess, err := reconcile.Open(ctx, reconcile.Config{
		ProjectID:    opts.Project,
		Store:        st,
		RealtimeURL:  opts.URL,
		Realtime:     cfg.RealtimeSettings(),
		Debounce:     cfg.Snapshot.Debounce,
		WriteTimeout: cfg.Snapshot.WriteTimeout,
		Proxy:        cfg.ProxyRewriter(),
		Logger:       opts.Logger(),
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open project", err)
	}

	f := newFormatter(opts.RootOptions, cmd)
	rep := sess.Report
	if err := f.Success(watchLine{
		Event:    "opened",
		Project:  opts.Project,
		Applied:  rep.Replay.Applied,
		Buffered: rep.Buffered,
		Elements: sess.State.Collections().Len(),
	}); err != nil {
		return err
	}

	unsubscribe := sess.State.Subscribe(func(c canvas.Change) {
		changed := make([]string, 0, len(c.Changed))
		for _, name := range c.Changed {
			changed = append(changed, string(name))
		}
		_ = f.Success(watchLine{
			Event:    "change",
			Project:  opts.Project,
			Source:   string(c.Source),
			Changed:  changed,
			Elements: c.Collections.Len(),
		})
	})

	<-ctx.Done()
	unsubscribe()

	closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Snapshot.WriteTimeout)
	defer cancel()
	if err := sess.Close(closeCtx); err != nil {
		return WrapExitError(ExitCommandError, "failed to close project", err)
	}
	return f.Success(watchLine{Event: "closed", Project: opts.Project, Elements: sess.State.Collections().Len()})
}

// watchLine is one line of watch output.
type watchLine struct {
	Event    string   `json:"event"`
	Project  string   `json:"project"`
	Source   string   `json:"source,omitempty"`
	Changed  []string `json:"changed,omitempty"`
	Applied  int      `json:"applied,omitempty"`
	Buffered int      `json:"buffered,omitempty"`
	Elements int      `json:"elements"`
}

func (l watchLine) String() string {
	switch l.Event {
	case "opened":
		return fmt.Sprintf("opened %s: %d element(s), %d op(s) replayed, %d realtime message(s) buffered", l.Project, l.Elements, l.Applied, l.Buffered)
	case "change":
		return fmt.Sprintf("%s change: %s (%d element(s))", l.Source, strings.Join(l.Changed, ", "), l.Elements)
	default:
		return fmt.Sprintf("%s %s: %d element(s)", l.Event, l.Project, l.Elements)
	}
}
