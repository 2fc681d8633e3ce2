package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/canvasync/internal/realtime"
	"github.com/roach88/canvasync/internal/server"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Listen   string
	Database string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve projects over HTTP and websocket",
		Long: `Serve the op log, snapshot documents and realtime rooms of every project
in the database.

Flags override the config file.

Examples:
  canvasd serve
  canvasd serve --listen :9090 --db ./canvas.db
  canvasd serve --config ./canvasd.yaml`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Listen, "listen", "", "listen address (default from config)")
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (default from config)")

	return cmd
}

func runServe(ctx context.Context, opts *ServeOptions, cmd *cobra.Command) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	if opts.Listen != "" {
		cfg.Listen = opts.Listen
	}
	if opts.Database != "" {
		cfg.Database = opts.Database
	}
	if err := cfg.Validate(); err != nil {
		return WrapExitError(ExitCommandError, "invalid config", err)
	}

	logger := opts.Logger()
	st, err := openStore(cfg.Database, true)
	if err != nil {
		return err
	}
	defer st.Close()

	hub := realtime.NewHub(
		realtime.WithHubSettings(cfg.RealtimeSettings()),
		realtime.WithMediaSource(server.MediaFromStore(st)),
		realtime.WithHubLogger(logger),
	)
	srv := server.New(st, hub, server.WithLogger(logger))

	newFormatter(opts.RootOptions, cmd).VerboseLog("Serving %s on %s", cfg.Database, cfg.Listen)
	if err := srv.Run(ctx, cfg.Listen); err != nil {
		return WrapExitError(ExitCommandError, "server failed", err)
	}
	return nil
}
