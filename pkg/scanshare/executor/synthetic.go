package executor

import (
	"context"
	"time"

	"github.com/jamesainslie/scanshare/pkg/scanshare/task"
)

// Synthetic pretends to scan: it sleeps for the time a disk with the given
// throughput would need to read the task's bytes. It is used for workloads
// that have no chunk files behind them.
type Synthetic struct {
	// Throughput in bytes per second. Zero means Size is ignored.
	Throughput int64

	// MinDuration is the floor for every task.
	MinDuration time.Duration

	// Fail, when set, decides whether a task fails.
	Fail func(t *task.Task) error
}

// Duration returns how long t takes.
func (s *Synthetic) Duration(t *task.Task) time.Duration {
	d := s.MinDuration
	if s.Throughput > 0 && t.Size() > 0 {
		secs, rem := t.Size()/s.Throughput, t.Size()%s.Throughput
		d += time.Duration(secs)*time.Second + time.Duration(rem)*time.Second/time.Duration(s.Throughput)
	}
	return d
}

// Execute implements pool.Executor.
func (s *Synthetic) Execute(ctx context.Context, t *task.Task) error {
	if d := s.Duration(t); d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	if s.Fail != nil {
		return s.Fail(t)
	}
	return nil
}
