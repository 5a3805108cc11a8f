// Package workload describes and drives batches of user queries against a
// scan scheduler. A workload is a list of queries, each scanning a set of
// chunks; queries are submitted concurrently so that their tasks interleave
// the way fragments from independent users do on a real worker.
package workload

import (
	"bytes"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jamesainslie/scanshare/pkg/scanshare/task"
	"github.com/jamesainslie/scanshare/pkg/scanshare/types"
)

// ErrEmpty is returned for a workload without queries or commands.
var ErrEmpty = errors.New("workload has no queries")

// Query is one user query: one task per listed chunk.
type Query struct {
	// ID identifies the query. Zero means assign one.
	ID uint64 `yaml:"id,omitempty"`

	// Chunks lists the chunks scanned, in submission order.
	Chunks []int `yaml:"chunks"`

	// Payload is the byte pattern each task searches for.
	Payload string `yaml:"payload,omitempty"`

	// Size limits how much of each chunk a task reads. Zero reads it all.
	Size types.Size `yaml:"size,omitempty"`

	// Delay postpones the first submission relative to the run start.
	Delay time.Duration `yaml:"delay,omitempty"`

	// Interval separates consecutive task submissions of this query.
	Interval time.Duration `yaml:"interval,omitempty"`

	// Repeat submits the query this many times under fresh ids.
	Repeat int `yaml:"repeat,omitempty"`
}

// Command is a non-scan worker command submitted with the workload.
type Command struct {
	Kind   task.ControlKind `yaml:"kind"`
	Chunks []int            `yaml:"chunks,omitempty"`
	Data   string           `yaml:"data,omitempty"`
	Delay  time.Duration    `yaml:"delay,omitempty"`
}

// Control converts c to a worker command.
func (c Command) Control() *task.Control {
	return &task.Control{Kind: c.Kind, Chunks: slices.Clone(c.Chunks), Data: c.Data}
}

// Workload is the document read from a workload file.
type Workload struct {
	Name     string    `yaml:"name"`
	Queries  []Query   `yaml:"queries"`
	Commands []Command `yaml:"commands,omitempty"`
}

// Load reads a workload file.
func Load(path string) (*Workload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workload: %w", err)
	}
	w, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return w, nil
}

// Parse decodes and validates a YAML workload. Unknown keys are rejected.
func Parse(data []byte) (*Workload, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var w Workload
	if err := dec.Decode(&w); err != nil {
		return nil, fmt.Errorf("failed to parse workload: %w", err)
	}
	if err := w.Validate(); err != nil {
		return nil, err
	}
	return &w, nil
}

// Validate checks the workload and assigns missing query ids.
func (w *Workload) Validate() error {
	if len(w.Queries) == 0 && len(w.Commands) == 0 {
		return ErrEmpty
	}

	used := make(map[uint64]bool, len(w.Queries))
	for i, q := range w.Queries {
		if len(q.Chunks) == 0 {
			return fmt.Errorf("query %d: no chunks", i)
		}
		if q.Size < 0 || q.Repeat < 0 || q.Delay < 0 || q.Interval < 0 {
			return fmt.Errorf("query %d: negative size, repeat, delay or interval", i)
		}
		if q.ID != 0 {
			if used[q.ID] {
				return fmt.Errorf("query %d: duplicate id %d", i, q.ID)
			}
			used[q.ID] = true
		}
	}

	var next uint64 = 1
	for i := range w.Queries {
		if w.Queries[i].ID != 0 {
			continue
		}
		for used[next] {
			next++
		}
		w.Queries[i].ID = next
		used[next] = true
	}

	for i, c := range w.Commands {
		switch c.Kind {
		case task.ControlAddChunkGroup, task.ControlRemoveChunkGroup:
			if len(c.Chunks) == 0 {
				return fmt.Errorf("command %d: %s needs chunks", i, c.Kind)
			}
		case task.ControlStatus, task.ControlEcho:
		default:
			return fmt.Errorf("command %d: unknown kind %q", i, c.Kind)
		}
	}
	return nil
}

// Expand returns the queries with repeats unrolled. Repeats take ids above
// every declared id, so each expanded query has a unique id.
func (w *Workload) Expand() []Query {
	var maxID uint64
	for _, q := range w.Queries {
		maxID = max(maxID, q.ID)
	}

	out := make([]Query, 0, len(w.Queries))
	for _, q := range w.Queries {
		q.Repeat = 0
		out = append(out, q)
	}
	for _, q := range w.Queries {
		for range q.Repeat {
			maxID++
			r := q
			r.ID = maxID
			r.Repeat = 0
			out = append(out, r)
		}
	}
	return out
}

// Tasks returns the number of scan tasks the workload submits.
func (w *Workload) Tasks() int {
	n := 0
	for _, q := range w.Queries {
		n += len(q.Chunks) * (q.Repeat + 1)
	}
	return n
}

// Chunks returns the distinct chunks the workload reads, ascending.
func (w *Workload) Chunks() []int {
	seen := make(map[int]bool)
	var out []int
	for _, q := range w.Queries {
		for _, c := range q.Chunks {
			if !seen[c] {
				seen[c] = true
				out = append(out, c)
			}
		}
	}
	slices.Sort(out)
	return out
}

// Marshal encodes w as YAML.
func (w *Workload) Marshal() ([]byte, error) {
	return yaml.Marshal(w)
}

// GenerateOptions configures a synthetic workload.
type GenerateOptions struct {
	Name string

	// Queries is the number of queries.
	Queries int

	// Chunks is the pool of chunk ids queries draw from.
	Chunks []int

	// ChunksPerQuery is how many chunks each query scans. Zero or more
	// than len(Chunks) scans every chunk, the full-table-scan case.
	ChunksPerQuery int

	// Payload and Size are copied to every query.
	Payload string
	Size    int64

	// Stagger spaces query start times evenly: query i starts at i*Stagger.
	Stagger time.Duration

	Seed uint64
}

// Generate builds a random workload. Each query scans a random subset of
// the chunk pool in ascending chunk order, as a table scan would.
func Generate(opts GenerateOptions) (*Workload, error) {
	if opts.Queries <= 0 {
		return nil, ErrEmpty
	}
	if len(opts.Chunks) == 0 {
		return nil, errors.New("no chunks to draw from")
	}
	per := opts.ChunksPerQuery
	if per <= 0 || per > len(opts.Chunks) {
		per = len(opts.Chunks)
	}

	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15))
	pool := slices.Clone(opts.Chunks)

	w := &Workload{Name: opts.Name}
	for i := range opts.Queries {
		rng.Shuffle(len(pool), func(a, b int) { pool[a], pool[b] = pool[b], pool[a] })
		chunks := slices.Clone(pool[:per])
		slices.Sort(chunks)

		w.Queries = append(w.Queries, Query{
			ID:      uint64(i + 1),
			Chunks:  chunks,
			Payload: opts.Payload,
			Size:    types.Size(opts.Size),
			Delay:   time.Duration(i) * opts.Stagger,
		})
	}
	return w, nil
}
