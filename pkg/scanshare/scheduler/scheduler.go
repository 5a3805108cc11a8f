// Package scheduler implements the shared-scan command queue that sits
// between query fragment submitters and the worker pool.
//
// Tasks are routed to a per-disk chunkdisk.ChunkDisk by a Placement. A worker
// asking for work receives a task from the least loaded disk whose sharing
// policy allows a start, as long as fewer than MaxThreads tasks are in flight.
// One mutex guards the scheduler and all of its disks; a condition variable
// wakes blocked workers on Enqueue, OnFinish and Close.
package scheduler

import (
	"errors"
	"fmt"
	"runtime"
	"sync"

	"github.com/jamesainslie/scanshare/pkg/scanshare/chunkdisk"
	"github.com/jamesainslie/scanshare/pkg/scanshare/events"
	"github.com/jamesainslie/scanshare/pkg/scanshare/logging"
	"github.com/jamesainslie/scanshare/pkg/scanshare/metrics"
	"github.com/jamesainslie/scanshare/pkg/scanshare/task"
)

var (
	// ErrNoDisks is returned when a scheduler is configured without disks.
	ErrNoDisks = errors.New("scheduler: at least one disk is required")

	// ErrInvalidMaxThreads is returned when MaxThreads is below 1.
	ErrInvalidMaxThreads = errors.New("scheduler: max threads must be at least 1")
)

// Options configures a Scheduler.
type Options struct {
	// Name labels logs, metrics and status output.
	Name string

	// MaxThreads caps the number of tasks in flight. It is normally the
	// worker pool size.
	MaxThreads int

	// MaxActiveChunks is the per-disk limit on concurrently scanned chunks.
	// Values below 1 are treated as 1.
	MaxActiveChunks int

	// Disks names the devices chunks are spread over, in placement order.
	Disks []string

	// Placement maps chunks to disks. Nil means HashPlacement.
	Placement Placement

	// Logger receives scheduler records. Nil means logging.Get("scheduler").
	Logger *logging.Logger

	// Events receives state changes. Nil disables publishing.
	Events *events.Broadcaster
}

// DefaultOptions returns a single-disk configuration sized to the machine.
func DefaultOptions() Options {
	return Options{
		Name:            "scan",
		MaxThreads:      runtime.NumCPU(),
		MaxActiveChunks: chunkdisk.DefaultMaxActiveChunks,
		Disks:           []string{"disk0"},
	}
}

// Validate reports configuration errors and fills in optional fields.
func (o *Options) Validate() error {
	if len(o.Disks) == 0 {
		return ErrNoDisks
	}
	if o.MaxThreads < 1 {
		return fmt.Errorf("%w: got %d", ErrInvalidMaxThreads, o.MaxThreads)
	}
	if o.Name == "" {
		o.Name = "scan"
	}
	if o.Placement == nil {
		o.Placement = HashPlacement{}
	}
	if o.Logger == nil {
		o.Logger = logging.Get("scheduler")
	}
	return nil
}

// slot tracks a task between Enqueue and OnFinish.
type slot struct {
	disk    int
	emitted bool
}

// Scheduler is a CommandQueue that groups scans of the same chunk.
type Scheduler struct {
	name       string
	maxThreads int
	placement  Placement
	logger     *logging.Logger
	events     *events.Broadcaster

	mu       sync.Mutex
	cond     *sync.Cond
	disks    []*chunkdisk.ChunkDisk
	tasks    map[*task.Task]slot
	inFlight int
	closed   bool
	waiting  int

	// queries counts tasks per query that have not finished yet.
	queries  map[uint64]int
	enqueued uint64
	finished uint64
	dropped  uint64
}

// New creates a Scheduler.
func New(opts Options) (*Scheduler, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	s := &Scheduler{
		name:       opts.Name,
		maxThreads: opts.MaxThreads,
		placement:  opts.Placement,
		logger:     opts.Logger,
		events:     opts.Events,
		tasks:      make(map[*task.Task]slot),
		queries:    make(map[uint64]int),
	}
	s.cond = sync.NewCond(&s.mu)

	diskLogger := logging.Get("chunkdisk")
	for _, name := range opts.Disks {
		s.disks = append(s.disks, chunkdisk.New(name,
			chunkdisk.WithMaxActiveChunks(opts.MaxActiveChunks),
			chunkdisk.WithLogger(diskLogger.With("scheduler", opts.Name)),
		))
	}
	return s, nil
}

// Name returns the scheduler name.
func (s *Scheduler) Name() string { return s.name }

// MaxThreads returns the in-flight cap.
func (s *Scheduler) MaxThreads() int { return s.maxThreads }

// Enqueue accepts scan tasks. Any other command is logged and dropped.
func (s *Scheduler) Enqueue(cmd task.Command) {
	switch c := cmd.(type) {
	case *task.Task:
		if c != nil {
			s.enqueue(c)
			return
		}
	}
	s.drop(cmd)
}

func (s *Scheduler) drop(cmd task.Command) {
	name := "nil"
	if cmd != nil {
		name = cmd.Name()
	}

	s.mu.Lock()
	s.dropped++
	s.mu.Unlock()

	s.logger.Warn("dropping command that is not a scan task", "scheduler", s.name, "command", name)
	metrics.CommandsDropped.WithLabelValues(s.name, name).Inc()
	s.events.Publish(events.Event{Type: events.Dropped, Command: name})
}

func (s *Scheduler) enqueue(t *task.Task) {
	s.mu.Lock()
	if _, dup := s.tasks[t]; dup {
		s.mu.Unlock()
		panic(fmt.Sprintf("scheduler %s: %v enqueued twice", s.name, t))
	}

	i := s.placement.Disk(t.ChunkID(), len(s.disks))
	d := s.disks[i]
	d.Enqueue(t)
	s.tasks[t] = slot{disk: i}
	s.queries[t.QueryID()]++
	s.enqueued++
	size, inFlight := s.sizeLocked(), s.inFlight
	s.cond.Broadcast()
	s.mu.Unlock()

	if s.logger.Enabled(logging.LevelDebug) {
		s.logger.Debug("enqueue", "seq", t.Seq(), "chunk", t.ChunkID(), "disk", d.Name(),
			"in_flight", inFlight, "queue_size", size)
	}
	metrics.TasksEnqueued.WithLabelValues(s.name).Inc()
	metrics.QueueSize.WithLabelValues(s.name).Set(float64(size))
	s.events.Publish(events.Event{
		Type: events.Enqueued, Disk: d.Name(), Chunk: t.ChunkID(),
		Seq: t.Seq(), QueryID: t.QueryID(), InFlight: inFlight,
	})
}

// NextRunnable returns the next task to run and counts it as in flight.
// With wait it blocks until a task is runnable; it returns ok=false when the
// scheduler is closed or, without wait, when nothing is runnable now.
func (s *Scheduler) NextRunnable(wait bool) (*task.Task, bool) {
	var timer *metrics.Timer
	announced, woke := false, false

	s.mu.Lock()
	for {
		if s.closed {
			s.mu.Unlock()
			return nil, false
		}
		if i, ok := s.readyDisk(); ok {
			return s.emit(i, woke, timer)
		}
		if !wait {
			s.mu.Unlock()
			return nil, false
		}
		if !announced {
			// Log outside the lock, then re-check before sleeping.
			announced = true
			timer = metrics.NewTimer()
			inFlight, size := s.inFlight, s.sizeLocked()
			s.mu.Unlock()
			s.logger.Debug("nextRunnable wait", "scheduler", s.name, "in_flight", inFlight, "queue_size", size)
			s.mu.Lock()
			continue
		}
		s.waiting++
		s.cond.Wait()
		s.waiting--
		woke = true
	}
}

// emit must be called with s.mu held and releases it.
func (s *Scheduler) emit(i int, woke bool, timer *metrics.Timer) (*task.Task, bool) {
	d := s.disks[i]
	t := d.NextTask()
	s.inFlight++
	sl := s.tasks[t]
	sl.emitted = true
	s.tasks[t] = sl

	inFlight, size, active := s.inFlight, s.sizeLocked(), len(d.ActiveChunks())
	s.mu.Unlock()

	if s.logger.Enabled(logging.LevelDebug) {
		msg := "nextRunnable hit"
		if woke {
			msg = "nextRunnable wake"
		}
		s.logger.Debug(msg, "seq", t.Seq(), "chunk", t.ChunkID(), "disk", d.Name(),
			"in_flight", inFlight, "queue_size", size)
	}
	if timer != nil {
		timer.ObserveDurationVec(metrics.WaitDuration, s.name)
	}
	metrics.TasksEmitted.WithLabelValues(s.name, d.Name()).Inc()
	metrics.InFlight.WithLabelValues(s.name).Set(float64(inFlight))
	metrics.QueueSize.WithLabelValues(s.name).Set(float64(size))
	metrics.ActiveChunks.WithLabelValues(s.name, d.Name()).Set(float64(active))
	s.events.Publish(events.Event{
		Type: events.Emitted, Disk: d.Name(), Chunk: t.ChunkID(),
		Seq: t.Seq(), QueryID: t.QueryID(), InFlight: inFlight,
	})
	return t, true
}

// readyDisk picks the least loaded ready disk. It must be called with s.mu
// held.
func (s *Scheduler) readyDisk() (int, bool) {
	if s.inFlight >= s.maxThreads {
		return 0, false
	}
	best, load := -1, 0
	for i, d := range s.disks {
		if !d.Ready() {
			continue
		}
		if n := d.InFlight(); best < 0 || n < load {
			best, load = i, n
		}
	}
	return best, best >= 0
}

// OnStart marks t as running on the disk that emitted it, making its chunk
// active. It panics if t was not returned by NextRunnable.
func (s *Scheduler) OnStart(t *task.Task) {
	s.mu.Lock()
	sl, ok := s.tasks[t]
	if !ok || !sl.emitted {
		s.mu.Unlock()
		panic(fmt.Sprintf("scheduler %s: OnStart of %v that was not emitted", s.name, t))
	}
	d := s.disks[sl.disk]
	d.RegisterInflight(t)
	active := len(d.ActiveChunks())
	s.mu.Unlock()

	metrics.ActiveChunks.WithLabelValues(s.name, d.Name()).Set(float64(active))
	s.events.Publish(events.Event{
		Type: events.Started, Disk: d.Name(), Chunk: t.ChunkID(),
		Seq: t.Seq(), QueryID: t.QueryID(),
	})
}

// OnFinish releases t's slot and wakes waiting workers. It panics if t is
// not in flight.
func (s *Scheduler) OnFinish(t *task.Task) {
	s.mu.Lock()
	sl, ok := s.tasks[t]
	if !ok || !sl.emitted {
		s.mu.Unlock()
		panic(fmt.Sprintf("scheduler %s: OnFinish of %v that is not in flight", s.name, t))
	}
	d := s.disks[sl.disk]
	d.RemoveInflight(t)
	delete(s.tasks, t)
	s.inFlight--
	s.finished++
	if s.queries[t.QueryID()]--; s.queries[t.QueryID()] <= 0 {
		delete(s.queries, t.QueryID())
	}
	inFlight, active := s.inFlight, len(d.ActiveChunks())
	s.cond.Broadcast()
	s.mu.Unlock()

	if s.logger.Enabled(logging.LevelDebug) {
		s.logger.Debug("onFinish", "seq", t.Seq(), "chunk", t.ChunkID(), "disk", d.Name(), "in_flight", inFlight)
	}
	metrics.TasksFinished.WithLabelValues(s.name).Inc()
	metrics.InFlight.WithLabelValues(s.name).Set(float64(inFlight))
	metrics.ActiveChunks.WithLabelValues(s.name, d.Name()).Set(float64(active))
	s.events.Publish(events.Event{
		Type: events.Finished, Disk: d.Name(), Chunk: t.ChunkID(),
		Seq: t.Seq(), QueryID: t.QueryID(), InFlight: inFlight,
	})
}

// Size returns the number of pending tasks across all disks.
func (s *Scheduler) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sizeLocked()
}

func (s *Scheduler) sizeLocked() int {
	n := 0
	for _, d := range s.disks {
		n += d.Size()
	}
	return n
}

// Ready reports whether NextRunnable(false) would return a task.
func (s *Scheduler) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	_, ok := s.readyDisk()
	return ok
}

// InFlight returns the number of emitted tasks that have not finished.
func (s *Scheduler) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight
}

// Close wakes every blocked NextRunnable. Later calls to NextRunnable return
// immediately with ok=false. Tasks already in flight may still finish.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	pending := s.sizeLocked()
	s.cond.Broadcast()
	s.mu.Unlock()

	s.logger.Info("scheduler closed", "scheduler", s.name, "pending", pending)
}

// Closed reports whether Close has been called.
func (s *Scheduler) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
