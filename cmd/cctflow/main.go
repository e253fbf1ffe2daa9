package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/ritzau/cctflow/pkg/analysis"
	"github.com/ritzau/cctflow/pkg/cct"
	"github.com/ritzau/cctflow/pkg/config"
	"github.com/ritzau/cctflow/pkg/flow"
	"github.com/ritzau/cctflow/pkg/logging"
	"github.com/ritzau/cctflow/pkg/output"
	"github.com/ritzau/cctflow/pkg/pubsub"
	"github.com/ritzau/cctflow/pkg/watcher"
	"github.com/ritzau/cctflow/pkg/web"
)

func main() {
	flags := pflag.NewFlagSet("cctflow", pflag.ExitOnError)
	flags.String("trace", "", "Path to a CCT document or dataset directory")
	flags.String("split-config", "", "Split rules file (toml, yaml or json)")
	flags.Float64("filter-fraction", config.DefaultFilterFraction, "Share of root runtime a node or edge needs to be shown")
	flags.StringSlice("procedures", nil, "Procedures of interest (names or ids) given their own bucket")
	flags.StringSlice("split-by-parent", nil, "Group keys to split by calling module")
	flags.StringSlice("keep", nil, "Raw node ids to descend into (default: all)")
	flags.Int("cache-size", analysis.DefaultCacheSize, "Number of builds kept in the result cache")
	flags.Bool("web", false, "Start web server instead of printing to console")
	flags.Int("port", 8080, "Port for web server (only used with --web)")
	flags.Bool("watch", false, "Rebuild when the trace or split config changes")
	flags.Bool("json", false, "Print the graph as JSON")
	flags.String("verbosity", "", "Log level: trace, debug, info, warn, error")
	flags.CountP("verbose", "v", "Increase log verbosity (-v debug, -vv trace)")
	flags.Bool("json-logs", false, "Write logs as JSON")
	_ = flags.Parse(os.Args[1:])

	cfg, err := config.Load(flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	if err := setupLogging(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	if cfg.Trace == "" {
		fmt.Fprintln(os.Stderr, "Error: --trace is required")
		flags.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		logging.Error("cctflow failed", "error", err)
		os.Exit(1)
	}
}

func setupLogging(cfg *config.Config) error {
	level, err := logging.ParseLevel(cfg.Verbosity)
	if err != nil {
		return err
	}
	if cfg.Verbosity == "" {
		switch {
		case cfg.VerboseCnt >= 2:
			level = logging.LevelTrace
		case cfg.VerboseCnt == 1:
			level = slog.LevelDebug
		}
	}
	logging.Setup(os.Stderr, level, cfg.JSONLogs)
	return nil
}

func buildOptions(cfg *config.Config) (flow.Options, error) {
	opts := flow.Options{
		FilterFraction: cfg.FilterFraction,
		Procedures:     cfg.Procedures,
		SplitByParent:  cfg.SplitByParent,
	}
	keep, err := cfg.KeepIDs()
	if err != nil {
		return opts, err
	}
	opts.Keep = keep

	if cfg.SplitConfig != "" {
		rules, err := config.LoadSplitRules(cfg.SplitConfig)
		if err != nil {
			return opts, fmt.Errorf("loading split config: %w", err)
		}
		opts.SplitRules = rules
	}
	return opts, nil
}

func run(ctx context.Context, cfg *config.Config) error {
	opts, err := buildOptions(cfg)
	if err != nil {
		return err
	}
	source := cct.NewFileSource(cfg.Trace)

	if !cfg.WebMode && !cfg.Watch {
		runner := analysis.NewRunner(source, nil, opts, 0)
		snapshot, err := runner.Run(ctx, "command line")
		if err != nil {
			return err
		}
		return report(cfg, snapshot)
	}

	publisher := pubsub.NewSSEPublisher()
	pubsub.ConfigureDefaultTopics(publisher)
	defer publisher.Close()

	runner := analysis.NewRunner(source, publisher, opts, cfg.CacheSize)

	g, ctx := errgroup.WithContext(ctx)

	if cfg.WebMode {
		server := web.NewServer(runner, publisher)
		g.Go(func() error {
			return server.Start(ctx, cfg.Port)
		})
	}

	g.Go(func() error {
		snapshot, err := runner.Run(ctx, "initial build")
		if err != nil {
			// Stay up so the trace can be fixed and rebuilt
			logging.Warn("initial build failed", "error", err)
			return nil
		}
		if !cfg.WebMode {
			return report(cfg, snapshot)
		}
		return nil
	})

	if cfg.Watch {
		fw, err := watcher.NewFileWatcher(cfg.Trace, cfg.SplitConfig)
		if err != nil {
			return err
		}
		if err := fw.Start(ctx); err != nil {
			return err
		}
		debouncer := watcher.NewDebouncer(fw.Events(), 500*time.Millisecond, 5*time.Second)
		debouncer.Start(ctx)

		g.Go(func() error {
			for event := range debouncer.Output() {
				if err := handleChange(ctx, cfg, runner, event); err != nil {
					logging.Warn("rebuild failed", "error", err)
				}
			}
			return nil
		})
	}

	<-ctx.Done()
	return g.Wait()
}

func handleChange(ctx context.Context, cfg *config.Config, runner *analysis.Runner, event watcher.ChangeEvent) error {
	change := watcher.AnalyzeChanges(event)
	logging.Info("change detected", "reason", change.Reason, "files", len(change.ChangedFiles))

	if change.ReloadSplitRules {
		rules, err := config.LoadSplitRules(cfg.SplitConfig)
		if err != nil {
			return fmt.Errorf("reloading split config: %w", err)
		}
		runner.SetSplitRules(rules)
	}
	if !change.Rebuild {
		return nil
	}

	snapshot, err := runner.Run(ctx, change.Reason)
	if err != nil {
		return err
	}
	if !cfg.WebMode {
		return report(cfg, snapshot)
	}
	return nil
}

func report(cfg *config.Config, snapshot *analysis.Snapshot) error {
	if cfg.JSON {
		return output.WriteJSON(os.Stdout, snapshot.Graph)
	}
	output.PrintGraphReport(os.Stdout, snapshot.Graph, output.ReportOptions{
		Trace:    cfg.Trace,
		Relabels: snapshot.Relabels,
		Unknown:  snapshot.Unknown,
	})
	return nil
}
