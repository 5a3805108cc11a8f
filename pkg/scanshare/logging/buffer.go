package logging

import "sync"

// DefaultBufferSize is the number of records kept for the status view.
const DefaultBufferSize = 200

// LogBuffer is a fixed-size ring of recent records.
type LogBuffer struct {
	mu      sync.RWMutex
	entries []LogEntry
	next    int
	full    bool
}

// NewLogBuffer returns a ring holding up to size records.
func NewLogBuffer(size int) *LogBuffer {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &LogBuffer{entries: make([]LogEntry, size)}
}

// Add appends e, overwriting the oldest record when full.
func (b *LogBuffer) Add(e LogEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries[b.next] = e
	b.next = (b.next + 1) % len(b.entries)
	if b.next == 0 {
		b.full = true
	}
}

// Len returns the number of stored records.
func (b *LogBuffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.len()
}

func (b *LogBuffer) len() int {
	if b.full {
		return len(b.entries)
	}
	return b.next
}

// Last returns up to n of the newest records, oldest first.
func (b *LogBuffer) Last(n int) []LogEntry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	count := b.len()
	n = min(max(n, 0), count)
	out := make([]LogEntry, n)
	start := b.next - n
	if start < 0 {
		start += len(b.entries)
	}
	for i := range n {
		out[i] = b.entries[(start+i)%len(b.entries)]
	}
	return out
}

// Entries returns every stored record, oldest first.
func (b *LogBuffer) Entries() []LogEntry {
	return b.Last(len(b.entries))
}

// Clear drops all records.
func (b *LogBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	clear(b.entries)
	b.next = 0
	b.full = false
}
