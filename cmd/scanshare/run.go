package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/scanshare/cmd/scanshare/tui"
	"github.com/jamesainslie/scanshare/pkg/scanshare/catalog"
	"github.com/jamesainslie/scanshare/pkg/scanshare/config"
	"github.com/jamesainslie/scanshare/pkg/scanshare/events"
	"github.com/jamesainslie/scanshare/pkg/scanshare/history"
	"github.com/jamesainslie/scanshare/pkg/scanshare/output"
	"github.com/jamesainslie/scanshare/pkg/scanshare/types"
	"github.com/jamesainslie/scanshare/pkg/scanshare/workload"
)

var runCmd = &cobra.Command{
	Use:   "run [workload.yaml]",
	Short: "Run a shared-scan workload",
	Long: `Run a workload of queries through the shared-scan scheduler.

With a workload file, its queries and commands are submitted as written.
Without one, a workload is generated from the chunks found on disk, or
from --chunk-count chunk ids when --synthetic is set. The chunk filter
flags (--disk, --chunks, --min-size, --include, ...) restrict which chunks
a generated workload scans.

--synthetic replaces chunk reads with sleeps sized by --throughput, so the
scheduler can be exercised without chunk files.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRun,
}

var runOpts struct {
	name           string
	synthetic      bool
	throughput     string
	queries        int
	chunksPerQuery int
	chunkCount     int
	payload        string
	size           string
	seed           uint64
	stagger        time.Duration
	tui            bool
	noHistory      bool
	filter         filterFlags
}

func init() {
	f := runCmd.Flags()
	f.StringVar(&runOpts.name, "name", "", "name recorded in the run report")
	f.BoolVar(&runOpts.synthetic, "synthetic", false, "simulate chunk reads instead of reading chunk files")
	f.StringVar(&runOpts.throughput, "throughput", "200MiB/s", "simulated read rate for --synthetic")
	f.IntVar(&runOpts.queries, "queries", 8, "queries to generate when no workload file is given")
	f.IntVar(&runOpts.chunksPerQuery, "chunks-per-query", 0, "chunks each generated query scans (0=all)")
	f.IntVar(&runOpts.chunkCount, "chunk-count", 16, "chunk ids 0..n-1 used by --synthetic without a workload file")
	f.StringVar(&runOpts.payload, "payload", "", "payload attached to generated queries")
	f.StringVar(&runOpts.size, "size", "8MiB", "simulated chunk size for generated --synthetic queries")
	f.Uint64Var(&runOpts.seed, "seed", 1, "random seed for generated workloads")
	f.DurationVar(&runOpts.stagger, "stagger", 0, "delay between generated query starts")
	f.BoolVar(&runOpts.tui, "tui", false, "show a live status view")
	f.BoolVar(&runOpts.noHistory, "no-history", false, "do not archive the run report")
	runOpts.filter.register(f, false)
	f.String("metrics-addr", "", "serve /metrics and /status on this address during the run")

	bindFlag(runCmd, "metrics-addr", "metrics.addr")
	rootCmd.AddCommand(runCmd)
}

// runRun is the run command handler.
func runRun(_ *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var throughput int64
	if runOpts.synthetic {
		if throughput, err = types.ParseRate(runOpts.throughput); err != nil {
			return fmt.Errorf("invalid --throughput: %w", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openHistory(cfg)
	if err != nil {
		printVerbose("History disabled: %v", err)
	}
	if store != nil {
		defer store.Close()
	}

	bus := events.New()
	defer bus.Close()

	runner, err := workload.New(cfg, workload.Options{
		Name:       runOpts.name,
		Synthetic:  runOpts.synthetic,
		Throughput: throughput,
		Events:     bus,
		History:    store,
	})
	if err != nil {
		return err
	}

	tuned := runner.Tuned()
	printVerbose("Config: %d max threads, %d workers, %d active chunks per disk, %s block cache",
		tuned.MaxThreads, tuned.PoolSize, tuned.MaxActiveChunks, types.FormatSize(tuned.CacheSize))

	w, err := loadWorkload(ctx, runner, args)
	if err != nil {
		return err
	}
	printVerbose("Workload %q: %d queries, %d tasks, %d commands", w.Name, len(w.Queries), w.Tasks(), len(w.Commands))

	var report *history.Report
	if runOpts.tui {
		report, err = tui.Run(ctx, tui.Options{
			Name:   runnerName(w),
			Disks:  len(cfg.Disks),
			Source: tui.RunnerSource(runner),
			Events: bus,
			Run: func(ctx context.Context) (*history.Report, error) {
				return runner.Run(ctx, w)
			},
		})
	} else {
		if !getQuiet() {
			printInfo("Running %d tasks from %d queries...", w.Tasks(), len(w.Queries))
		}
		report, err = runner.Run(ctx, w)
	}
	if report == nil {
		return err
	}
	if errors.Is(err, context.Canceled) {
		printInfo("\nInterrupted, run stopped early.")
	}

	status := runner.Scheduler().Status()
	snap := runner.Tracker().Snapshot()
	result := &output.Result{Run: report, Status: &status, Stats: &snap}
	if report.Failed > 0 {
		result.Warnings = append(result.Warnings, fmt.Sprintf("%d tasks failed; see the log for details", report.Failed))
	}
	if renderErr := render(result); renderErr != nil {
		return renderErr
	}
	return err
}

func runnerName(w *workload.Workload) string {
	switch {
	case runOpts.name != "":
		return runOpts.name
	case w.Name != "":
		return w.Name
	default:
		return "run"
	}
}

// openHistory opens the run archive unless it is disabled.
func openHistory(cfg *config.Config) (*history.Store, error) {
	if !cfg.History.Enabled || runOpts.noHistory {
		return nil, nil
	}
	return history.Open(cfg.History.Path, history.Options{TTL: cfg.History.TTL})
}

// loadWorkload reads the workload file in args, or generates one.
func loadWorkload(ctx context.Context, runner *workload.Runner, args []string) (*workload.Workload, error) {
	if len(args) == 1 {
		path, err := config.ExpandPath(args[0])
		if err != nil {
			return nil, err
		}
		return workload.Load(path)
	}

	opts := workload.GenerateOptions{
		Name:           runOpts.name,
		Queries:        runOpts.queries,
		ChunksPerQuery: runOpts.chunksPerQuery,
		Payload:        runOpts.payload,
		Stagger:        runOpts.stagger,
		Seed:           runOpts.seed,
	}

	if runOpts.synthetic {
		size, err := types.ParseSize(runOpts.size)
		if err != nil {
			return nil, fmt.Errorf("invalid --size: %w", err)
		}
		opts.Size = size
		for c := range runOpts.chunkCount {
			opts.Chunks = append(opts.Chunks, c)
		}
		if runOpts.filter.chunks != "" {
			ids, err := catalog.ParseChunkRange(runOpts.filter.chunks)
			if err != nil {
				return nil, fmt.Errorf("invalid --chunks: %w", err)
			}
			opts.Chunks = ids
		}
	} else {
		filter, err := runOpts.filter.build()
		if err != nil {
			return nil, err
		}
		res, err := runner.Catalog().Scan(ctx)
		if err != nil {
			return nil, fmt.Errorf("scanning chunk catalog: %w", err)
		}
		if res.Chunks == 0 {
			return nil, errors.New("no chunk files found on the configured disks; run 'scanshare gen' first or use --synthetic")
		}
		opts.Chunks = catalog.ChunkIDs(filter.Apply(runner.Catalog().Entries()))
		if len(opts.Chunks) == 0 {
			return nil, errors.New("no chunks match the filter")
		}
	}
	if opts.Name == "" {
		opts.Name = "generated"
	}
	return workload.Generate(opts)
}
