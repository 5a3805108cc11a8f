// Package task defines the units of work handed to a worker: scan tasks that
// read one chunk of a partitioned table, and control commands that do not.
package task

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Command is anything a submitter can hand to a worker queue.
// The set of implementations is closed: *Task and *Control.
type Command interface {
	// Name returns a short label used in logs.
	Name() string

	command()
}

// Task describes one query fragment that scans a single chunk.
// A Task is never modified once it has been created.
type Task struct {
	id        string
	seq       uint64
	chunkID   int
	queryID   uint64
	payload   string
	size      int64
	submitted time.Time
}

// Spec holds the caller supplied fields of a new Task.
type Spec struct {
	// ChunkID is the chunk the fragment reads. It is the unit of scan sharing.
	ChunkID int

	// QueryID identifies the user query the fragment belongs to.
	QueryID uint64

	// Payload is the query fragment to execute. It is opaque to the scheduler.
	Payload string

	// Size is the expected number of bytes the fragment reads.
	Size int64
}

// ID returns the unique task identifier.
func (t *Task) ID() string { return t.id }

// Seq returns the submission sequence number. Within a chunk, tasks start
// in Seq order.
func (t *Task) Seq() uint64 { return t.seq }

// ChunkID returns the chunk the task scans.
func (t *Task) ChunkID() int { return t.chunkID }

// QueryID returns the owning user query.
func (t *Task) QueryID() uint64 { return t.queryID }

// Payload returns the query fragment.
func (t *Task) Payload() string { return t.payload }

// Size returns the payload size in bytes.
func (t *Task) Size() int64 { return t.size }

// SubmittedAt returns when the task was created.
func (t *Task) SubmittedAt() time.Time { return t.submitted }

// Name implements Command.
func (t *Task) Name() string { return "scan" }

// String returns a compact description for logs and test failures.
func (t *Task) String() string {
	return fmt.Sprintf("task(seq=%d chunk=%d query=%d)", t.seq, t.chunkID, t.queryID)
}

func (t *Task) command() {}

// Sequencer creates tasks with monotonically increasing sequence numbers.
// It is safe for concurrent use. The zero value starts at sequence 1.
type Sequencer struct {
	last atomic.Uint64

	// now is overridable in tests.
	now func() time.Time
}

// NewSequencer returns a Sequencer whose first task has sequence start+1.
func NewSequencer(start uint64) *Sequencer {
	s := &Sequencer{}
	s.last.Store(start)
	return s
}

// New creates a Task from spec.
func (s *Sequencer) New(spec Spec) *Task {
	now := time.Now
	if s.now != nil {
		now = s.now
	}
	return &Task{
		id:        uuid.New().String(),
		seq:       s.last.Add(1),
		chunkID:   spec.ChunkID,
		queryID:   spec.QueryID,
		payload:   spec.Payload,
		size:      spec.Size,
		submitted: now(),
	}
}

// Last returns the most recently issued sequence number.
func (s *Sequencer) Last() uint64 {
	return s.last.Load()
}

// ControlKind enumerates the non-scan commands a worker understands.
type ControlKind string

const (
	ControlStatus           ControlKind = "status"
	ControlEcho             ControlKind = "echo"
	ControlAddChunkGroup    ControlKind = "add_chunk_group"
	ControlRemoveChunkGroup ControlKind = "remove_chunk_group"
)

// Control is a worker command that does not read table data, for example a
// status request or a chunk inventory change. Scan schedulers reject it.
type Control struct {
	Kind   ControlKind
	Chunks []int
	Data   string
}

// Name implements Command.
func (c *Control) Name() string { return string(c.Kind) }

func (c *Control) command() {}

var (
	_ Command = (*Task)(nil)
	_ Command = (*Control)(nil)
)
