package scheduler

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jamesainslie/scanshare/pkg/scanshare/chunkdisk"
)

// Status is a point-in-time snapshot of a scheduler, shaped for JSON and
// YAML output.
type Status struct {
	Name       string `json:"name" yaml:"name"`
	QueueSize  int    `json:"num_tasks_in_queue" yaml:"num_tasks_in_queue"`
	InFlight   int    `json:"num_tasks_in_flight" yaml:"num_tasks_in_flight"`
	MaxThreads int    `json:"max_threads" yaml:"max_threads"`
	Waiting    int    `json:"waiting_workers" yaml:"waiting_workers"`
	Enqueued   uint64 `json:"enqueued" yaml:"enqueued"`
	Finished   uint64 `json:"finished" yaml:"finished"`
	Dropped    uint64 `json:"dropped" yaml:"dropped"`
	Closed     bool   `json:"closed" yaml:"closed"`

	// Queries lists unfinished task counts per query, by query id.
	Queries []QueryCount `json:"query_id_to_count" yaml:"query_id_to_count"`

	// Chunks lists in-flight task counts per active chunk, by chunk id.
	Chunks []ChunkCount `json:"chunk_to_num_tasks" yaml:"chunk_to_num_tasks"`

	Disks []chunkdisk.Snapshot `json:"disks" yaml:"disks"`
}

// QueryCount pairs a query with its unfinished task count.
type QueryCount struct {
	QueryID uint64 `json:"query_id" yaml:"query_id"`
	Tasks   int    `json:"tasks" yaml:"tasks"`
}

// ChunkCount pairs an active chunk with its in-flight task count.
type ChunkCount struct {
	Chunk int `json:"chunk" yaml:"chunk"`
	Tasks int `json:"tasks" yaml:"tasks"`
}

// Status returns a snapshot of the scheduler.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		Name:       s.name,
		QueueSize:  s.sizeLocked(),
		InFlight:   s.inFlight,
		MaxThreads: s.maxThreads,
		Waiting:    s.waiting,
		Enqueued:   s.enqueued,
		Finished:   s.finished,
		Dropped:    s.dropped,
		Closed:     s.closed,
		Queries:    make([]QueryCount, 0, len(s.queries)),
		Chunks:     s.chunkCountsLocked(),
	}
	for q, n := range s.queries {
		st.Queries = append(st.Queries, QueryCount{QueryID: q, Tasks: n})
	}
	sort.Slice(st.Queries, func(i, j int) bool { return st.Queries[i].QueryID < st.Queries[j].QueryID })

	for _, d := range s.disks {
		st.Disks = append(st.Disks, d.Snapshot())
	}
	return st
}

func (s *Scheduler) chunkCountsLocked() []ChunkCount {
	counts := make(map[int]int)
	for _, d := range s.disks {
		for _, c := range d.Snapshot().Chunks {
			if c.InFlight > 0 {
				counts[c.Chunk] += c.InFlight
			}
		}
	}
	out := make([]ChunkCount, 0, len(counts))
	for c, n := range counts {
		out = append(out, ChunkCount{Chunk: c, Tasks: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Chunk < out[j].Chunk })
	return out
}

// ChunkStatusString returns a one-line summary of active chunks, for example
// "scan ActiveChunks=2 (7:3)(9:1)".
func (s *Scheduler) ChunkStatusString() string {
	s.mu.Lock()
	counts := s.chunkCountsLocked()
	s.mu.Unlock()

	var b strings.Builder
	fmt.Fprintf(&b, "%s ActiveChunks=%d ", s.name, len(counts))
	for _, c := range counts {
		fmt.Fprintf(&b, "(%d:%d)", c.Chunk, c.Tasks)
	}
	return b.String()
}
