// Package pool runs scan tasks pulled from a scheduler.CommandQueue on a fixed
// set of worker goroutines.
package pool

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jamesainslie/scanshare/pkg/scanshare/logging"
	"github.com/jamesainslie/scanshare/pkg/scanshare/metrics"
	"github.com/jamesainslie/scanshare/pkg/scanshare/scheduler"
	"github.com/jamesainslie/scanshare/pkg/scanshare/task"
)

// ErrPanic wraps the value recovered from a panicking executor.
var ErrPanic = errors.New("executor panicked")

// ErrStarted is returned by Start on a pool that is already running.
var ErrStarted = errors.New("pool already started")

// Executor runs one task.
type Executor interface {
	Execute(ctx context.Context, t *task.Task) error
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, t *task.Task) error

// Execute implements Executor.
func (f ExecutorFunc) Execute(ctx context.Context, t *task.Task) error { return f(ctx, t) }

// Result describes one finished task.
type Result struct {
	Task     *task.Task
	Worker   int
	Started  time.Time
	Finished time.Time
	Err      error
}

// Duration returns how long the executor ran.
func (r Result) Duration() time.Duration { return r.Finished.Sub(r.Started) }

// Outcome classifies the result for metrics.
func (r Result) Outcome() string {
	switch {
	case r.Err == nil:
		return metrics.OutcomeOK
	case errors.Is(r.Err, ErrPanic):
		return metrics.OutcomePanic
	case errors.Is(r.Err, context.Canceled), errors.Is(r.Err, context.DeadlineExceeded):
		return metrics.OutcomeCanceled
	default:
		return metrics.OutcomeError
	}
}

// Hook observes finished tasks. Hooks run on the worker goroutine after the
// queue has been told the task finished.
type Hook func(Result)

// Option configures a Pool.
type Option func(*Pool)

// WithWorkers sets the number of workers. Values below 1 are ignored.
func WithWorkers(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithLogger sets the pool logger.
func WithLogger(l *logging.Logger) Option {
	return func(p *Pool) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithHook adds a completion hook.
func WithHook(h Hook) Option {
	return func(p *Pool) {
		if h != nil {
			p.hooks = append(p.hooks, h)
		}
	}
}

// Pool is a fixed-size worker pool bound to one queue.
type Pool struct {
	queue   scheduler.CommandQueue
	exec    Executor
	workers int
	logger  *logging.Logger
	hooks   []Hook

	group    *errgroup.Group
	cancel   context.CancelFunc
	started  atomic.Bool
	stopOnce sync.Once
	stopErr  error

	busy      atomic.Int32
	submitted atomic.Uint64
	completed atomic.Uint64
	failed    atomic.Uint64
	progress  chan struct{}
}

// New creates a pool that pulls from queue and runs tasks with exec. The
// default size is one worker per queue thread when the queue reports it.
func New(queue scheduler.CommandQueue, exec Executor, opts ...Option) *Pool {
	p := &Pool{
		queue:    queue,
		exec:     exec,
		workers:  1,
		logger:   logging.Get("pool"),
		progress: make(chan struct{}, 1),
	}
	if q, ok := queue.(interface{ MaxThreads() int }); ok {
		p.workers = q.MaxThreads()
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Workers returns the pool size.
func (p *Pool) Workers() int { return p.workers }

// Start launches the workers. They run until Stop is called or ctx ends.
func (p *Pool) Start(ctx context.Context) error {
	if !p.started.CompareAndSwap(false, true) {
		return ErrStarted
	}

	ctx, p.cancel = context.WithCancel(ctx)
	p.group, ctx = errgroup.WithContext(ctx)

	for id := range p.workers {
		p.group.Go(func() error {
			p.work(ctx, id)
			return nil
		})
	}

	// Unblock workers waiting in NextRunnable when ctx ends.
	go func() {
		<-ctx.Done()
		p.closeQueue()
	}()

	p.logger.Info("pool started", "workers", p.workers)
	return nil
}

// Submit hands cmd to the queue. Tasks submitted here are what Drain waits
// for.
func (p *Pool) Submit(cmd task.Command) {
	if t, ok := cmd.(*task.Task); ok && t != nil {
		p.submitted.Add(1)
	}
	p.queue.Enqueue(cmd)
}

// Drain blocks until every task passed to Submit has finished or ctx ends.
func (p *Pool) Drain(ctx context.Context) error {
	for p.completed.Load() < p.submitted.Load() {
		select {
		case <-ctx.Done():
			return fmt.Errorf("draining pool: %w (%d of %d finished)",
				ctx.Err(), p.completed.Load(), p.submitted.Load())
		case <-p.progress:
		case <-time.After(100 * time.Millisecond):
		}
	}
	return nil
}

// Stop cancels running tasks, closes the queue and waits for every worker
// to exit.
func (p *Pool) Stop() error {
	p.stopOnce.Do(func() {
		if !p.started.Load() {
			p.closeQueue()
			return
		}
		p.cancel()
		p.closeQueue()
		p.stopErr = p.group.Wait()
		p.logger.Info("pool stopped",
			"completed", p.completed.Load(), "failed", p.failed.Load())
	})
	return p.stopErr
}

// Stats returns counters since the pool was created.
func (p *Pool) Stats() Stats {
	return Stats{
		Workers:   p.workers,
		Busy:      int(p.busy.Load()),
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
	}
}

// Stats is a snapshot of pool counters.
type Stats struct {
	Workers   int    `json:"workers" yaml:"workers"`
	Busy      int    `json:"busy" yaml:"busy"`
	Submitted uint64 `json:"submitted" yaml:"submitted"`
	Completed uint64 `json:"completed" yaml:"completed"`
	Failed    uint64 `json:"failed" yaml:"failed"`
}

func (p *Pool) closeQueue() {
	if c, ok := p.queue.(interface{ Close() }); ok {
		c.Close()
	}
}

func (p *Pool) work(ctx context.Context, id int) {
	log := p.logger.With("worker", id)
	log.Debug("worker started")
	defer log.Debug("worker stopped")

	for {
		t, ok := p.queue.NextRunnable(true)
		if !ok {
			return
		}

		res := p.run(ctx, id, t)

		if res.Err != nil {
			p.failed.Add(1)
			log.Warn("task failed", "seq", t.Seq(), "chunk", t.ChunkID(), "error", res.Err)
		}
		metrics.TaskDuration.WithLabelValues(res.Outcome()).Observe(res.Duration().Seconds())
		for _, h := range p.hooks {
			h(res)
		}
		// Counted after the hooks so Drain returns with every hook done.
		p.completed.Add(1)
		select {
		case p.progress <- struct{}{}:
		default:
		}
	}
}

// run executes t between OnStart and OnFinish. OnFinish is called on every
// exit path, including a panicking executor.
func (p *Pool) run(ctx context.Context, id int, t *task.Task) (res Result) {
	res = Result{Task: t, Worker: id}

	p.queue.OnStart(t)
	defer p.queue.OnFinish(t)

	p.busy.Add(1)
	metrics.WorkersBusy.Inc()
	defer func() {
		p.busy.Add(-1)
		metrics.WorkersBusy.Dec()
	}()

	defer func() {
		if r := recover(); r != nil {
			res.Err = fmt.Errorf("%w: %v", ErrPanic, r)
			p.logger.Error("executor panic", "seq", t.Seq(), "chunk", t.ChunkID(),
				"panic", r, "stack", string(debug.Stack()))
		}
		res.Finished = time.Now()
	}()

	res.Started = time.Now()
	if err := ctx.Err(); err != nil {
		res.Err = err
		return res
	}
	res.Err = p.exec.Execute(ctx, t)
	return res
}
