// Package events fans out scheduler and inventory events to in-process
// subscribers such as the status view and the run recorder.
package events

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Type identifies what happened.
type Type int

const (
	Enqueued Type = iota
	Dropped
	Emitted
	Started
	Finished
	ChunkAdded
	ChunkRemoved
)

func (t Type) String() string {
	switch t {
	case Enqueued:
		return "enqueued"
	case Dropped:
		return "dropped"
	case Emitted:
		return "emitted"
	case Started:
		return "started"
	case Finished:
		return "finished"
	case ChunkAdded:
		return "chunk_added"
	case ChunkRemoved:
		return "chunk_removed"
	default:
		return "unknown"
	}
}

// Event describes one state change. Seq and QueryID are zero for events that
// do not concern a task.
type Event struct {
	Type     Type
	Time     time.Time
	Disk     string
	Chunk    int
	Seq      uint64
	QueryID  uint64
	InFlight int

	// Command names the dropped command for Dropped events.
	Command string
}

// Filter selects the events a subscriber receives. Empty fields match all.
type Filter struct {
	Types  []Type
	Chunks []int
}

func (f Filter) matches(e *Event) bool {
	if len(f.Types) > 0 && !slices.Contains(f.Types, e.Type) {
		return false
	}
	if len(f.Chunks) > 0 && !slices.Contains(f.Chunks, e.Chunk) {
		return false
	}
	return true
}

// Subscriber receives events on C until it unsubscribes or the broadcaster
// closes.
type Subscriber struct {
	ID     string
	Filter Filter
	C      chan Event

	dropped atomic.Int64
}

// Broadcaster distributes events without blocking the publisher. A
// subscriber whose channel is full misses the event.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]*Subscriber
	closed      bool
	now         func() time.Time
}

// New creates a Broadcaster.
func New() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[string]*Subscriber),
		now:         time.Now,
	}
}

// Subscribe registers a subscriber with the given channel capacity.
// It returns nil once the broadcaster is closed.
func (b *Broadcaster) Subscribe(f Filter, capacity int) *Subscriber {
	if capacity <= 0 {
		capacity = 128
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}

	sub := &Subscriber{
		ID:     uuid.New().String(),
		Filter: f,
		C:      make(chan Event, capacity),
	}
	b.subscribers[sub.ID] = sub
	return sub
}

// Unsubscribe closes and removes the subscriber.
func (b *Broadcaster) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub, ok := b.subscribers[id]; ok {
		close(sub.C)
		delete(b.subscribers, id)
	}
}

// Publish delivers events to every matching subscriber. A zero Time is
// filled in.
func (b *Broadcaster) Publish(evs ...Event) {
	if b == nil || len(evs) == 0 {
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed || len(b.subscribers) == 0 {
		return
	}

	now := b.now()
	for i := range evs {
		e := &evs[i]
		if e.Time.IsZero() {
			e.Time = now
		}
		for _, sub := range b.subscribers {
			if !sub.Filter.matches(e) {
				continue
			}
			select {
			case sub.C <- *e:
			default:
				sub.dropped.Add(1)
			}
		}
	}
}

// Dropped returns how many events subscriber id missed because its channel
// was full.
func (b *Broadcaster) Dropped(id string) int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if sub, ok := b.subscribers[id]; ok {
		return sub.dropped.Load()
	}
	return 0
}

// Close closes every subscription. Later publishes are ignored.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subscribers {
		close(sub.C)
		delete(b.subscribers, id)
	}
}

// SubscriberCount returns the number of live subscribers.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
