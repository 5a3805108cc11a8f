package workload

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jamesainslie/scanshare/pkg/scanshare/catalog"
	"github.com/jamesainslie/scanshare/pkg/scanshare/config"
	"github.com/jamesainslie/scanshare/pkg/scanshare/events"
	"github.com/jamesainslie/scanshare/pkg/scanshare/executor"
	"github.com/jamesainslie/scanshare/pkg/scanshare/history"
	"github.com/jamesainslie/scanshare/pkg/scanshare/logging"
	"github.com/jamesainslie/scanshare/pkg/scanshare/pool"
	"github.com/jamesainslie/scanshare/pkg/scanshare/scheduler"
	"github.com/jamesainslie/scanshare/pkg/scanshare/stats"
	"github.com/jamesainslie/scanshare/pkg/scanshare/task"
	"github.com/jamesainslie/scanshare/pkg/scanshare/tuner"
	"github.com/jamesainslie/scanshare/pkg/scanshare/types"
)

// ErrRunning is returned by Run on a runner that has already run.
var ErrRunning = errors.New("runner already used")

// Options configures a Runner beyond what the config file holds.
type Options struct {
	// Name labels the run report. Empty means the workload name.
	Name string

	// Synthetic replaces chunk reads with sleeps, so no chunk files are
	// needed. Throughput sizes the sleeps in bytes per second.
	Synthetic  bool
	Throughput int64

	// Resources overrides hardware detection.
	Resources *tuner.SystemResources

	// Events receives scheduler and catalog events.
	Events *events.Broadcaster

	// History archives the run report when set.
	History *history.Store

	// OnProgress is called as tasks finish. It must be safe to call from
	// multiple goroutines.
	OnProgress func(types.RunProgress)

	Logger *logging.Logger
}

// Runner drives one workload through a scheduler and worker pool built from
// the configuration: catalog, placement, scheduler, executor, pool and
// statistics tracker.
type Runner struct {
	cfg   *config.Config
	opts  Options
	tuned tuner.OptimalConfig
	disks []string

	catalog *catalog.Catalog
	sched   *scheduler.Scheduler
	reader  *executor.ChunkReader
	tracker *stats.Tracker
	pool    *pool.Pool
	seq     *task.Sequencer
	logger  *logging.Logger

	used         atomic.Bool
	startedAt    atomic.Int64
	bytesRead    atomic.Int64
	lastProgress atomic.Int64
}

// New builds a runner. Zero counts in cfg are filled in by the tuner.
func New(cfg *config.Config, opts Options) (*Runner, error) {
	r := &Runner{
		cfg:    cfg,
		opts:   opts,
		seq:    task.NewSequencer(0),
		logger: opts.Logger,
	}
	if r.logger == nil {
		r.logger = logging.Get("workload")
	}

	res := r.resources()
	cacheSize, err := cfg.CacheSize()
	if err != nil {
		return nil, err
	}
	blockSize, err := cfg.BlockSize()
	if err != nil {
		return nil, err
	}
	bandwidth, err := cfg.Bandwidth()
	if err != nil {
		return nil, err
	}

	r.tuned = tuner.CalculateWithOverrides(res, len(cfg.Disks), tuner.Overrides{
		MaxThreads:      cfg.Scheduler.MaxThreads,
		PoolSize:        cfg.Pool.Size,
		MaxActiveChunks: cfg.Scheduler.MaxActiveChunks,
		CacheSize:       cacheSize,
	})
	r.logger.Debug("tuned",
		"cpus", res.CPUCores,
		"available_ram", types.FormatSize(res.AvailableRAM),
		"max_threads", r.tuned.MaxThreads,
		"pool_size", r.tuned.PoolSize,
		"max_active_chunks", r.tuned.MaxActiveChunks,
		"cache", types.FormatSize(r.tuned.CacheSize))

	disks := make([]catalog.Disk, len(cfg.Disks))
	for i, d := range cfg.Disks {
		disks[i] = catalog.Disk{Name: d.Name, Root: d.Root}
		r.disks = append(r.disks, d.Name)
	}

	var placement scheduler.Placement = scheduler.HashPlacement{}
	catOpts := []catalog.Option{catalog.WithEvents(opts.Events)}
	if cfg.Placement == config.PlacementCatalog {
		p := scheduler.NewCatalogPlacement(nil)
		placement = p
		catOpts = append(catOpts, catalog.WithPlacer(p))
	}

	if r.catalog, err = catalog.New(disks, catOpts...); err != nil {
		return nil, err
	}

	r.sched, err = scheduler.New(scheduler.Options{
		Name:            cfg.Scheduler.Name,
		MaxThreads:      r.tuned.MaxThreads,
		MaxActiveChunks: r.tuned.MaxActiveChunks,
		Disks:           r.disks,
		Placement:       placement,
		Events:          opts.Events,
	})
	if err != nil {
		return nil, fmt.Errorf("creating scheduler: %w", err)
	}

	r.reader, err = executor.NewChunkReader(executor.ReaderOptions{
		BlockSize: blockSize,
		CacheSize: r.tuned.CacheSize,
		Bandwidth: bandwidth,
	})
	if err != nil {
		return nil, fmt.Errorf("creating chunk reader: %w", err)
	}

	r.tracker, err = stats.New(stats.Options{
		MaxQueries: cfg.Stats.MaxQueries,
		DeadAfter:  cfg.Stats.DeadAfter,
	})
	if err != nil {
		return nil, err
	}

	var exec pool.Executor
	if opts.Synthetic {
		exec = &executor.Synthetic{Throughput: opts.Throughput}
	} else {
		exec = executor.NewScan(r.catalog, r.reader, func(_ *task.Task, res executor.Result) {
			r.bytesRead.Add(res.Bytes)
		})
	}

	r.pool = pool.New(r.sched, exec,
		pool.WithWorkers(r.tuned.PoolSize),
		pool.WithHook(r.tracker.Hook()),
		pool.WithHook(r.onResult),
	)
	return r, nil
}

func (r *Runner) resources() tuner.SystemResources {
	if r.opts.Resources != nil {
		return *r.opts.Resources
	}
	res, err := tuner.Detect()
	if err != nil {
		r.logger.Warn("failed to detect system resources, using defaults", "error", err)
		res = tuner.SystemResources{
			CPUCores:     4,
			TotalRAM:     8 * types.GiB,
			AvailableRAM: 4 * types.GiB,
		}
	}
	return res
}

// Catalog returns the chunk catalog.
func (r *Runner) Catalog() *catalog.Catalog { return r.catalog }

// Scheduler returns the scan scheduler.
func (r *Runner) Scheduler() *scheduler.Scheduler { return r.sched }

// Tracker returns the statistics tracker.
func (r *Runner) Tracker() *stats.Tracker { return r.tracker }

// Tuned returns the effective thread, pool, chunk and cache settings.
func (r *Runner) Tuned() tuner.OptimalConfig { return r.tuned }

// Submit routes cmd: chunk group commands update the catalog, everything
// else goes to the worker queue.
func (r *Runner) Submit(cmd task.Command) {
	if ctrl, ok := cmd.(*task.Control); ok {
		err := r.catalog.Apply(ctrl)
		if !errors.Is(err, catalog.ErrUnsupportedControl) {
			if err != nil {
				r.logger.Warn("chunk group command failed", "command", ctrl.Kind, "error", err)
			}
			return
		}
	}
	r.pool.Submit(cmd)
}

// Run executes w and returns its report. The report is returned together
// with the error when the run was interrupted.
func (r *Runner) Run(ctx context.Context, w *Workload) (*history.Report, error) {
	if !r.used.CompareAndSwap(false, true) {
		return nil, ErrRunning
	}

	start := time.Now()
	r.startedAt.Store(start.UnixNano())

	if !r.opts.Synthetic {
		res, err := r.catalog.Scan(ctx)
		if err != nil {
			return nil, fmt.Errorf("scanning chunk catalog: %w", err)
		}
		var missing []int
		for _, c := range w.Chunks() {
			if _, ok := r.catalog.Get(c); !ok {
				missing = append(missing, c)
			}
		}
		if len(missing) > 0 {
			r.logger.Warn("workload reads chunks with no file", "chunks", missing)
		}
		r.logger.Info("catalog ready", "chunks", res.Chunks, "elapsed", res.Elapsed)
	}

	stopServer, err := r.serve(r.cfg.Metrics.Addr)
	if err != nil {
		return nil, err
	}
	defer stopServer()

	if err := r.pool.Start(ctx); err != nil {
		return nil, err
	}

	r.logger.Info("run started", "name", r.name(w), "tasks", w.Tasks(), "queries", len(w.Queries))
	n, submitErr := Submit(ctx, w, r.seq, r, r.tracker.Queued)

	var drainErr error
	if submitErr == nil {
		drainErr = r.pool.Drain(ctx)
	}
	stopErr := r.pool.Stop()
	r.reportProgressForce()

	if dead := r.tracker.RemoveDead(); dead > 0 {
		r.logger.Debug("dropped idle query stats", "queries", dead)
	}

	report := r.report(w, start, time.Now())
	r.logger.Info("run finished",
		"submitted", n,
		"completed", report.Completed,
		"failed", report.Failed,
		"elapsed", report.Elapsed())

	if err := r.archive(report); err != nil {
		r.logger.Warn("failed to archive run", "error", err)
	}
	return report, errors.Join(submitErr, drainErr, stopErr)
}

func (r *Runner) name(w *Workload) string {
	switch {
	case r.opts.Name != "":
		return r.opts.Name
	case w.Name != "":
		return w.Name
	default:
		return "run"
	}
}

func (r *Runner) report(w *Workload, start, end time.Time) *history.Report {
	ps := r.pool.Stats()
	st := r.sched.Status()
	rs := r.reader.Stats()

	return &history.Report{
		Name:            r.name(w),
		StartedAt:       start,
		FinishedAt:      end,
		Workers:         r.pool.Workers(),
		MaxThreads:      r.sched.MaxThreads(),
		MaxActiveChunks: r.tuned.MaxActiveChunks,
		Disks:           r.disks,
		Submitted:       ps.Submitted,
		Completed:       ps.Completed,
		Failed:          ps.Failed,
		Dropped:         st.Dropped,
		BytesRead:       uint64(r.bytesRead.Load()),
		CacheHits:       rs.Hits,
		CacheMisses:     rs.Misses,
		Chunks:          r.tracker.Snapshot().Chunks,
	}
}

func (r *Runner) archive(report *history.Report) error {
	if r.opts.History == nil {
		return nil
	}
	if err := r.opts.History.Put(report); err != nil {
		return err
	}
	if keep := r.cfg.History.Keep; keep > 0 {
		if _, err := r.opts.History.Prune(keep); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) onResult(res pool.Result) {
	if r.opts.Synthetic && res.Err == nil {
		r.bytesRead.Add(res.Task.Size())
	}
	r.reportProgress()
}

// Progress returns the current run progress.
func (r *Runner) Progress() types.RunProgress {
	ps := r.pool.Stats()
	var elapsed time.Duration
	if ns := r.startedAt.Load(); ns != 0 {
		elapsed = time.Since(time.Unix(0, ns))
	}
	return types.RunProgress{
		Submitted:  int(ps.Submitted),
		Completed:  int(ps.Completed),
		Failed:     int(ps.Failed),
		InFlight:   r.sched.InFlight(),
		QueueSize:  r.sched.Size(),
		BytesRead:  r.bytesRead.Load(),
		Elapsed:    elapsed,
		ActiveInfo: r.sched.ChunkStatusString(),
	}
}

// reportProgress calls the progress callback at most every 50ms.
func (r *Runner) reportProgress() {
	if r.opts.OnProgress == nil {
		return
	}
	now := time.Now().UnixMilli()
	last := r.lastProgress.Load()
	if now-last < 50 {
		return
	}
	if !r.lastProgress.CompareAndSwap(last, now) {
		return
	}
	r.opts.OnProgress(r.Progress())
}

func (r *Runner) reportProgressForce() {
	if r.opts.OnProgress == nil {
		return
	}
	r.lastProgress.Store(time.Now().UnixMilli())
	r.opts.OnProgress(r.Progress())
}

var _ Submitter = (*Runner)(nil)
