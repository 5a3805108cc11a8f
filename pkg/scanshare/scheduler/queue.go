package scheduler

import "github.com/jamesainslie/scanshare/pkg/scanshare/task"

// CommandQueue is the contract between submitters, the worker pool and a
// scheduling policy. Implementations are safe for concurrent use.
type CommandQueue interface {
	// Enqueue accepts a command. Commands the queue cannot run are dropped.
	Enqueue(cmd task.Command)

	// NextRunnable returns the next task to run. With wait it blocks until a
	// task is runnable or the queue is closed; otherwise it returns at once.
	// ok is false when no task was returned.
	NextRunnable(wait bool) (t *task.Task, ok bool)

	// OnStart is called by the worker before executing t.
	OnStart(t *task.Task)

	// OnFinish is called by the worker after t ends, on every exit path.
	OnFinish(t *task.Task)

	// Size returns the number of tasks waiting to be emitted.
	Size() int

	// Ready reports whether NextRunnable(false) would return a task.
	Ready() bool
}

var _ CommandQueue = (*Scheduler)(nil)
