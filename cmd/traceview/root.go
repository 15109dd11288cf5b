package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"traceview/internal/clients/events"
	"traceview/internal/config"
	"traceview/internal/db"
	"traceview/internal/metrics"
	"traceview/internal/orchestrator"
	"traceview/internal/render"
	"traceview/internal/server"
	"traceview/internal/tracetree"
)

type rootOptions struct {
	configPath string
	logLevel   string
	noCache    bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "traceview",
		Short: "Explore distributed traces as an expandable tree",
		Long: `traceview loads a trace from the monitoring API and presents it as a tree
of transactions, spans and errors. Transactions can be zoomed into to fetch
their spans on demand.

Examples:
  # Serve the view API
  traceview serve

  # Print a trace with every row expanded
  traceview show acme 4c79f60c11214eb38604f4ae0781bfb2 --expand-all

  # Print a trace with the spans of one transaction
  traceview show acme 4c79f60c11214eb38604f4ae0781bfb2 --zoom txn-a1b2c3`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file path")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level (overrides config)")
	cmd.PersistentFlags().BoolVar(&opts.noCache, "no-cache", false, "do not use the local event cache")

	cmd.AddCommand(newServeCmd(opts), newShowCmd(opts))
	return cmd
}

// app is the wired set of components shared by the subcommands.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	client  *events.Client
	metrics *metrics.Metrics
	orch    *orchestrator.Orchestrator
	cache   *db.DB
}

func newApp(opts *rootOptions) (*app, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.logLevel != "" {
		cfg.App.LogLevel = opts.logLevel
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.App.SlogLevel()}))
	slog.SetDefault(logger)

	client := events.NewClient(cfg.API.URL, cfg.API.Token, cfg.API.GetTimeoutDuration(), logger)

	a := &app{cfg: cfg, logger: logger, client: client, metrics: metrics.New()}

	var fetcher tracetree.Fetcher = client
	if cfg.Cache.Enabled && !opts.noCache {
		cache, err := db.New(cfg.Cache.Path, cfg.Cache.GetTTLDuration())
		if err != nil {
			return nil, err
		}
		if err := cache.Migrate(); err != nil {
			cache.Close()
			return nil, err
		}
		if n, err := cache.Prune(context.Background()); err != nil {
			logger.Warn("Failed to prune event cache", "error", err)
		} else if n > 0 {
			logger.Debug("Pruned expired events", "count", n)
		}
		a.cache = cache
		fetcher = db.NewCachingFetcher(cache, client, logger)
	}

	a.orch = orchestrator.New(client, fetcher, a.metrics, logger)
	return a, nil
}

func (a *app) Close() {
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.logger.Warn("Failed to close event cache", "error", err)
		}
	}
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the trace view HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			handler := server.NewHandler(a.cfg, a.orch, a.metrics, a.logger)
			return server.New(a.cfg, handler, a.logger).Run(ctx)
		},
	}
}

type showOptions struct {
	expandAll bool
	zoom      []string
	noColor   bool
}

func newShowCmd(opts *rootOptions) *cobra.Command {
	show := &showOptions{}
	cmd := &cobra.Command{
		Use:   "show <org> <trace-id>",
		Short: "Print a trace as a text tree",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()
			return runShow(cmd.Context(), a, show, args[0], args[1], cmd.OutOrStdout())
		},
	}

	cmd.Flags().BoolVar(&show.expandAll, "expand-all", false, "expand every row")
	cmd.Flags().StringSliceVar(&show.zoom, "zoom", nil, "row paths to zoom into, e.g. txn-<event id>")
	cmd.Flags().BoolVar(&show.noColor, "no-color", false, "disable colors")
	return cmd
}

func runShow(ctx context.Context, a *app, show *showOptions, org, traceID string, out io.Writer) error {
	view, err := a.orch.Open(ctx, org, traceID)
	if err != nil {
		return err
	}
	defer a.orch.Close(view.ID)

	for _, path := range show.zoom {
		if _, err := a.orch.ZoomPath(ctx, view.ID, path); err != nil {
			return fmt.Errorf("zoom %s: %w", path, err)
		}
	}
	if show.expandAll {
		if _, err := a.orch.ExpandAll(view.ID); err != nil {
			return err
		}
	}

	return render.Text(out, render.Rows(view.Tree), render.Options{
		Color:  a.cfg.Render.Color && !show.noColor,
		Indent: a.cfg.Render.Indent,
	})
}
