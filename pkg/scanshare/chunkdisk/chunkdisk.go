// Package chunkdisk implements the per-disk admission queue that turns
// concurrently submitted chunk scans into shared sequential passes.
//
// A ChunkDisk groups pending tasks by chunk and hands them out so that new
// readers latch onto a scan that is already in progress instead of moving the
// disk head somewhere else. Only when no active chunk has pending work may a
// new chunk be started, and then the chunk holding the oldest pending task
// wins.
//
// A chunk is active from the first RegisterInflight of one of its tasks
// until its last started task is removed. Tasks handed out by NextTask but
// not yet registered count as in flight without activating their chunk.
//
// ChunkDisk is not safe for concurrent use. The scheduler that owns it
// serialises every call under its own mutex.
package chunkdisk

import (
	"fmt"
	"sort"

	"github.com/jamesainslie/scanshare/pkg/scanshare/logging"
	"github.com/jamesainslie/scanshare/pkg/scanshare/task"
)

// DefaultMaxActiveChunks allows a single chunk scan per disk at a time.
const DefaultMaxActiveChunks = 1

// ChunkDisk is the shared-scan queue for one physical device.
type ChunkDisk struct {
	name      string
	maxActive int
	logger    *logging.Logger

	// pending holds tasks waiting to start, per chunk, ordered by Seq.
	pending      map[int][]*task.Task
	pendingCount int

	// active counts started tasks per chunk. A chunk is present only while
	// the count is positive.
	active map[int]int

	// inflight maps every task that left pending to whether it has been
	// registered as started. handed counts those tasks per chunk.
	inflight map[*task.Task]bool
	handed   map[int]int

	lastFinished    int
	hasLastFinished bool
}

// Option configures a ChunkDisk.
type Option func(*ChunkDisk)

// WithMaxActiveChunks sets how many distinct chunks may be scanned at once.
// Values below 1 are clamped to 1.
func WithMaxActiveChunks(n int) Option {
	return func(d *ChunkDisk) {
		d.maxActive = max(n, 1)
	}
}

// WithLogger sets the logger used for scan transitions.
func WithLogger(l *logging.Logger) Option {
	return func(d *ChunkDisk) {
		if l != nil {
			d.logger = l
		}
	}
}

// New creates an empty ChunkDisk.
func New(name string, opts ...Option) *ChunkDisk {
	d := &ChunkDisk{
		name:      name,
		maxActive: DefaultMaxActiveChunks,
		logger:    logging.Get("chunkdisk"),
		pending:   make(map[int][]*task.Task),
		active:    make(map[int]int),
		inflight:  make(map[*task.Task]bool),
		handed:    make(map[int]int),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Name returns the disk name.
func (d *ChunkDisk) Name() string { return d.name }

// MaxActiveChunks returns the active chunk limit.
func (d *ChunkDisk) MaxActiveChunks() int { return d.maxActive }

// Enqueue adds t to the pending queue of its chunk.
func (d *ChunkDisk) Enqueue(t *task.Task) {
	if _, ok := d.inflight[t]; ok {
		panic(fmt.Sprintf("chunkdisk %s: enqueue of in-flight %v", d.name, t))
	}

	q := d.pending[t.ChunkID()]
	if n := len(q); n == 0 || q[n-1].Seq() < t.Seq() {
		q = append(q, t)
	} else {
		// Late arrival from a concurrent submitter: keep Seq order.
		i := sort.Search(n, func(i int) bool { return q[i].Seq() >= t.Seq() })
		if q[i] == t {
			panic(fmt.Sprintf("chunkdisk %s: %v enqueued twice", d.name, t))
		}
		q = append(q, nil)
		copy(q[i+1:], q[i:])
		q[i] = t
	}
	d.pending[t.ChunkID()] = q
	d.pendingCount++
}

// Ready reports whether a task can start without breaking the sharing policy.
func (d *ChunkDisk) Ready() bool {
	if d.pendingCount == 0 {
		return false
	}
	if _, ok := d.continuation(); ok {
		return true
	}
	return len(d.active) < d.maxActive
}

// NextTask removes and returns the task selected by the sharing policy.
// The task is in flight but its chunk only becomes active once
// RegisterInflight is called for it. It panics when Ready would return
// false.
func (d *ChunkDisk) NextTask() *task.Task {
	chunk, ok := d.continuation()
	if !ok {
		if d.pendingCount == 0 || len(d.active) >= d.maxActive {
			panic(fmt.Sprintf("chunkdisk %s: NextTask called while not ready (pending=%d active=%d)",
				d.name, d.pendingCount, len(d.active)))
		}
		chunk = d.newChunk()
		d.logger.Debug("starting chunk scan", "disk", d.name, "chunk", chunk,
			"pending", len(d.pending[chunk]))
	}

	q := d.pending[chunk]
	t := q[0]
	q[0] = nil
	if len(q) == 1 {
		delete(d.pending, chunk)
	} else {
		d.pending[chunk] = q[1:]
	}
	d.pendingCount--

	d.inflight[t] = false
	d.handed[chunk]++
	return t
}

// RegisterInflight records that t has started running and adds its chunk to
// the active set. A task that did not come from NextTask is added to the
// in-flight set directly. Registering a started task again is a no-op.
func (d *ChunkDisk) RegisterInflight(t *task.Task) {
	started, known := d.inflight[t]
	if started {
		return
	}
	if !known {
		d.handed[t.ChunkID()]++
	}
	d.inflight[t] = true
	d.active[t.ChunkID()]++
}

// RemoveInflight records that t finished. When it was the last started task
// of its chunk the chunk leaves the active set and becomes the recently
// finished chunk. A task that never started leaves the active set untouched.
// It panics if t is not in flight.
func (d *ChunkDisk) RemoveInflight(t *task.Task) {
	started, ok := d.inflight[t]
	if !ok {
		panic(fmt.Sprintf("chunkdisk %s: RemoveInflight of unknown %v", d.name, t))
	}
	delete(d.inflight, t)

	chunk := t.ChunkID()
	if d.handed[chunk]--; d.handed[chunk] <= 0 {
		delete(d.handed, chunk)
	}
	if !started {
		return
	}
	d.active[chunk]--
	if d.active[chunk] <= 0 {
		delete(d.active, chunk)
		d.lastFinished = chunk
		d.hasLastFinished = true
		d.logger.Debug("chunk scan drained", "disk", d.name, "chunk", chunk)
	}
}

// Size returns the number of pending tasks.
func (d *ChunkDisk) Size() int { return d.pendingCount }

// InFlight returns the number of tasks handed out and not yet finished.
func (d *ChunkDisk) InFlight() int { return len(d.inflight) }

// ActiveChunks returns the active chunk ids in ascending order.
func (d *ChunkDisk) ActiveChunks() []int {
	ids := make([]int, 0, len(d.active))
	for c := range d.active {
		ids = append(ids, c)
	}
	sort.Ints(ids)
	return ids
}

// IsActive reports whether chunk has started tasks.
func (d *ChunkDisk) IsActive(chunk int) bool {
	_, ok := d.active[chunk]
	return ok
}

// LastFinished returns the chunk that most recently drained, if any.
func (d *ChunkDisk) LastFinished() (int, bool) {
	return d.lastFinished, d.hasLastFinished
}

// Snapshot is a point-in-time view of a disk queue.
type Snapshot struct {
	Name            string      `json:"name" yaml:"name"`
	Pending         int         `json:"pending" yaml:"pending"`
	InFlight        int         `json:"in_flight" yaml:"in_flight"`
	Started         int         `json:"started" yaml:"started"`
	MaxActiveChunks int         `json:"max_active_chunks" yaml:"max_active_chunks"`
	Chunks          []ChunkLoad `json:"chunks" yaml:"chunks"`
	LastFinished    *int        `json:"last_finished,omitempty" yaml:"last_finished,omitempty"`
}

// ChunkLoad is the per-chunk part of a Snapshot.
type ChunkLoad struct {
	Chunk    int  `json:"chunk" yaml:"chunk"`
	Pending  int  `json:"pending" yaml:"pending"`
	InFlight int  `json:"in_flight" yaml:"in_flight"`
	Active   bool `json:"active" yaml:"active"`
}

// Snapshot returns the current queue state with chunks in ascending order.
func (d *ChunkDisk) Snapshot() Snapshot {
	s := Snapshot{
		Name:            d.name,
		Pending:         d.pendingCount,
		InFlight:        len(d.inflight),
		MaxActiveChunks: d.maxActive,
	}
	for _, started := range d.inflight {
		if started {
			s.Started++
		}
	}
	if d.hasLastFinished {
		c := d.lastFinished
		s.LastFinished = &c
	}

	seen := make(map[int]struct{}, len(d.pending)+len(d.handed))
	for c := range d.pending {
		seen[c] = struct{}{}
	}
	for c := range d.handed {
		seen[c] = struct{}{}
	}
	for c := range seen {
		s.Chunks = append(s.Chunks, ChunkLoad{
			Chunk:    c,
			Pending:  len(d.pending[c]),
			InFlight: d.handed[c],
			Active:   d.active[c] > 0,
		})
	}
	sort.Slice(s.Chunks, func(i, j int) bool { return s.Chunks[i].Chunk < s.Chunks[j].Chunk })
	return s
}

// continuation returns the active chunk with pending work whose oldest task
// is the oldest among such chunks.
func (d *ChunkDisk) continuation() (int, bool) {
	best, found := 0, false
	var bestSeq uint64
	for c := range d.active {
		q := d.pending[c]
		if len(q) == 0 {
			continue
		}
		if s := q[0].Seq(); !found || s < bestSeq || (s == bestSeq && c < best) {
			best, bestSeq, found = c, s, true
		}
	}
	return best, found
}

// newChunk picks the pending chunk to start next: oldest pending task first,
// then the recently finished chunk, then the lowest chunk id.
func (d *ChunkDisk) newChunk() int {
	best, found := 0, false
	var bestSeq uint64
	for c, q := range d.pending {
		s := q[0].Seq()
		switch {
		case !found, s < bestSeq:
			best, bestSeq, found = c, s, true
		case s == bestSeq && d.preferOnTie(c, best):
			best = c
		}
	}
	return best
}

func (d *ChunkDisk) preferOnTie(c, current int) bool {
	if d.hasLastFinished {
		if c == d.lastFinished {
			return true
		}
		if current == d.lastFinished {
			return false
		}
	}
	return c < current
}
