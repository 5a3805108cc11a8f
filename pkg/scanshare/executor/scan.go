package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"hash/crc32"
	"time"

	"github.com/jamesainslie/scanshare/pkg/scanshare/logging"
	"github.com/jamesainslie/scanshare/pkg/scanshare/task"
)

// ErrChunkNotFound is returned when no disk holds the chunk a task scans.
var ErrChunkNotFound = errors.New("chunk not found")

// Locator resolves a chunk to the disk and file holding it.
type Locator interface {
	Locate(chunk int) (disk, path string, ok bool)
}

// Result is what a scan of one chunk produced.
type Result struct {
	Disk     string `json:"disk" yaml:"disk"`
	Bytes    int64  `json:"bytes" yaml:"bytes"`
	Blocks   int    `json:"blocks" yaml:"blocks"`
	Matches  int    `json:"matches" yaml:"matches"`
	Checksum uint32 `json:"checksum" yaml:"checksum"`
}

// Sink receives the result of each successful scan.
type Sink func(t *task.Task, r Result)

// Scan executes tasks by reading their chunk through a ChunkReader. The
// task payload is a byte pattern; the scan counts its occurrences within
// each block. Size, when set, limits how much of the chunk is read.
type Scan struct {
	locator Locator
	reader  *ChunkReader
	sink    Sink
	logger  *logging.Logger
}

// NewScan creates a scan executor. sink may be nil.
func NewScan(loc Locator, r *ChunkReader, sink Sink) *Scan {
	return &Scan{
		locator: loc,
		reader:  r,
		sink:    sink,
		logger:  logging.Get("executor"),
	}
}

// Execute implements pool.Executor.
func (s *Scan) Execute(ctx context.Context, t *task.Task) error {
	disk, path, ok := s.locator.Locate(t.ChunkID())
	if !ok {
		return fmt.Errorf("%w: %d", ErrChunkNotFound, t.ChunkID())
	}

	pattern := []byte(t.Payload())
	crc := crc32.NewIEEE()
	res := Result{Disk: disk}

	start := time.Now()
	n, err := s.reader.ReadChunk(ctx, disk, path, t.Size(), func(block []byte) error {
		res.Blocks++
		crc.Write(block)
		if len(pattern) > 0 {
			res.Matches += bytes.Count(block, pattern)
		}
		return nil
	})
	res.Bytes = n
	if err != nil {
		return fmt.Errorf("scanning chunk %d: %w", t.ChunkID(), err)
	}
	res.Checksum = crc.Sum32()

	if s.logger.Enabled(logging.LevelDebug) {
		s.logger.Debug("chunk scanned", "seq", t.Seq(), "chunk", t.ChunkID(),
			"disk", disk, "bytes", n, "elapsed", time.Since(start))
	}
	if s.sink != nil {
		s.sink(t, res)
	}
	return nil
}
