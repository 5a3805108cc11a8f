// Package stats keeps per-query and per-chunk execution statistics for a
// worker: how many tasks each query has queued and finished, and how long a
// scan of each chunk takes on average.
package stats

import (
	"fmt"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/jamesainslie/scanshare/pkg/scanshare/pool"
	"github.com/jamesainslie/scanshare/pkg/scanshare/task"
)

// Weights of the running chunk average: the old mean counts 49 times as much
// as a new sample.
const (
	weightOld = 49.0
	weightNew = 1.0
)

// Options configures a Tracker.
type Options struct {
	// MaxQueries bounds the number of queries tracked. The least recently
	// touched query is evicted first.
	MaxQueries int

	// DeadAfter is how long a query with no outstanding tasks is kept.
	DeadAfter time.Duration
}

// DefaultOptions returns the tracker defaults.
func DefaultOptions() Options {
	return Options{MaxQueries: 4096, DeadAfter: 5 * time.Minute}
}

// QueryStats summarises one query.
type QueryStats struct {
	QueryID   uint64        `json:"query_id" yaml:"query_id"`
	Queued    int           `json:"queued" yaml:"queued"`
	Completed int           `json:"completed" yaml:"completed"`
	Failed    int           `json:"failed" yaml:"failed"`
	TotalTime time.Duration `json:"total_time" yaml:"total_time"`
	Touched   time.Time     `json:"touched" yaml:"touched"`
}

// Outstanding returns tasks queued but not finished.
func (q QueryStats) Outstanding() int { return q.Queued - q.Completed }

// ChunkStats summarises scans of one chunk.
type ChunkStats struct {
	ChunkID        int           `json:"chunk_id" yaml:"chunk_id"`
	TasksCompleted uint64        `json:"tasks_completed" yaml:"tasks_completed"`
	TasksFailed    uint64        `json:"tasks_failed" yaml:"tasks_failed"`
	AvgCompletion  time.Duration `json:"avg_completion" yaml:"avg_completion"`
	BytesScanned   int64         `json:"bytes_scanned" yaml:"bytes_scanned"`
}

// Snapshot is a copy of every tracked query and chunk.
type Snapshot struct {
	Queries []QueryStats `json:"queries" yaml:"queries"`
	Chunks  []ChunkStats `json:"chunks" yaml:"chunks"`
}

// Tracker records task lifecycles. It is safe for concurrent use.
type Tracker struct {
	deadAfter time.Duration
	now       func() time.Time

	mu      sync.Mutex
	queries *lru.Cache[uint64, *QueryStats]
	chunks  map[int]*ChunkStats
}

// New creates a Tracker.
func New(opts Options) (*Tracker, error) {
	if opts.MaxQueries <= 0 {
		opts.MaxQueries = DefaultOptions().MaxQueries
	}
	cache, err := lru.New[uint64, *QueryStats](opts.MaxQueries)
	if err != nil {
		return nil, fmt.Errorf("creating query cache: %w", err)
	}
	return &Tracker{
		deadAfter: opts.DeadAfter,
		now:       time.Now,
		queries:   cache,
		chunks:    make(map[int]*ChunkStats),
	}, nil
}

func (tr *Tracker) query(id uint64) *QueryStats {
	q, ok := tr.queries.Get(id)
	if !ok {
		q = &QueryStats{QueryID: id}
		tr.queries.Add(id, q)
	}
	q.Touched = tr.now()
	return q
}

// Queued records that t was submitted.
func (tr *Tracker) Queued(t *task.Task) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.query(t.QueryID()).Queued++
}

// Record adds a finished task.
func (tr *Tracker) Record(r pool.Result) {
	t := r.Task
	d := r.Duration()

	tr.mu.Lock()
	defer tr.mu.Unlock()

	q := tr.query(t.QueryID())
	q.Completed++
	q.TotalTime += d

	c, ok := tr.chunks[t.ChunkID()]
	if !ok {
		c = &ChunkStats{ChunkID: t.ChunkID()}
		tr.chunks[t.ChunkID()] = c
	}
	if r.Err != nil {
		q.Failed++
		c.TasksFailed++
		return
	}
	c.TasksCompleted++
	c.BytesScanned += t.Size()
	if c.TasksCompleted == 1 {
		c.AvgCompletion = d
	} else {
		avg := (float64(c.AvgCompletion)*weightOld + float64(d)*weightNew) / (weightOld + weightNew)
		c.AvgCompletion = time.Duration(avg)
	}
}

// Hook returns a pool hook that feeds Record.
func (tr *Tracker) Hook() pool.Hook { return tr.Record }

// RemoveDead drops queries with no outstanding tasks that were last touched
// more than DeadAfter ago. It returns the number removed.
func (tr *Tracker) RemoveDead() int {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	cutoff := tr.now().Add(-tr.deadAfter)
	removed := 0
	for _, id := range tr.queries.Keys() {
		q, ok := tr.queries.Peek(id)
		if ok && q.Outstanding() <= 0 && q.Touched.Before(cutoff) {
			tr.queries.Remove(id)
			removed++
		}
	}
	return removed
}

// Query returns the stats of one query.
func (tr *Tracker) Query(id uint64) (QueryStats, bool) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	q, ok := tr.queries.Peek(id)
	if !ok {
		return QueryStats{}, false
	}
	return *q, true
}

// Chunk returns the stats of one chunk.
func (tr *Tracker) Chunk(id int) (ChunkStats, bool) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	c, ok := tr.chunks[id]
	if !ok {
		return ChunkStats{}, false
	}
	return *c, true
}

// Snapshot copies all stats, ordered by id.
func (tr *Tracker) Snapshot() Snapshot {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	var s Snapshot
	for _, id := range tr.queries.Keys() {
		if q, ok := tr.queries.Peek(id); ok {
			s.Queries = append(s.Queries, *q)
		}
	}
	for _, c := range tr.chunks {
		s.Chunks = append(s.Chunks, *c)
	}
	sort.Slice(s.Queries, func(i, j int) bool { return s.Queries[i].QueryID < s.Queries[j].QueryID })
	sort.Slice(s.Chunks, func(i, j int) bool { return s.Chunks[i].ChunkID < s.Chunks[j].ChunkID })
	return s
}
