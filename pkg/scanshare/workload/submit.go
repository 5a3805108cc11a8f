package workload

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jamesainslie/scanshare/pkg/scanshare/task"
)

// Submitter accepts commands. *pool.Pool and *Runner satisfy it.
type Submitter interface {
	Submit(cmd task.Command)
}

// SubmitterFunc adapts a function to Submitter.
type SubmitterFunc func(cmd task.Command)

// Submit implements Submitter.
func (f SubmitterFunc) Submit(cmd task.Command) { f(cmd) }

// Submit creates and submits every task of w. Each query runs on its own
// goroutine so submissions from different queries interleave; within a query
// tasks are submitted in chunk list order. onTask, when set, is called for
// each task before it is submitted. Submit returns when everything has been
// submitted or ctx ends.
func Submit(ctx context.Context, w *Workload, seq *task.Sequencer, sub Submitter, onTask func(*task.Task)) (int, error) {
	queries := w.Expand()
	counts := make([]int, len(queries))

	g, ctx := errgroup.WithContext(ctx)
	for i, q := range queries {
		g.Go(func() error {
			if err := sleep(ctx, q.Delay); err != nil {
				return err
			}
			for j, chunk := range q.Chunks {
				if j > 0 {
					if err := sleep(ctx, q.Interval); err != nil {
						return err
					}
				} else if err := ctx.Err(); err != nil {
					return err
				}
				t := seq.New(task.Spec{
					ChunkID: chunk,
					QueryID: q.ID,
					Payload: q.Payload,
					Size:    int64(q.Size),
				})
				if onTask != nil {
					onTask(t)
				}
				sub.Submit(t)
				counts[i]++
			}
			return nil
		})
	}

	for _, c := range w.Commands {
		g.Go(func() error {
			if err := sleep(ctx, c.Delay); err != nil {
				return err
			}
			sub.Submit(c.Control())
			return nil
		})
	}

	err := g.Wait()
	total := 0
	for _, n := range counts {
		total += n
	}
	return total, err
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
