package scheduler

import (
	"maps"
	"sync"
)

// Placement maps a chunk to the index of the disk that stores it.
// Disk is called with the scheduler lock held and must not block.
type Placement interface {
	Disk(chunk, disks int) int
}

// HashPlacement spreads chunks over disks by chunk id modulo disk count.
type HashPlacement struct{}

// Disk implements Placement.
func (HashPlacement) Disk(chunk, disks int) int {
	if disks <= 1 {
		return 0
	}
	i := chunk % disks
	if i < 0 {
		i += disks
	}
	return i
}

// CatalogPlacement uses an explicit chunk to disk mapping, typically built
// from the on-disk catalog, and falls back to HashPlacement for chunks it
// does not know. The mapping can change while the scheduler runs.
type CatalogPlacement struct {
	mu       sync.RWMutex
	location map[int]int
	fallback HashPlacement
}

// NewCatalogPlacement returns a placement seeded with location.
func NewCatalogPlacement(location map[int]int) *CatalogPlacement {
	p := &CatalogPlacement{location: make(map[int]int, len(location))}
	maps.Copy(p.location, location)
	return p
}

// Disk implements Placement. Out of range entries use the fallback.
func (p *CatalogPlacement) Disk(chunk, disks int) int {
	p.mu.RLock()
	i, ok := p.location[chunk]
	p.mu.RUnlock()
	if ok && i >= 0 && i < disks {
		return i
	}
	return p.fallback.Disk(chunk, disks)
}

// Set records that chunk lives on disk.
func (p *CatalogPlacement) Set(chunk, disk int) {
	p.mu.Lock()
	p.location[chunk] = disk
	p.mu.Unlock()
}

// Remove forgets chunk.
func (p *CatalogPlacement) Remove(chunk int) {
	p.mu.Lock()
	delete(p.location, chunk)
	p.mu.Unlock()
}

// Len returns the number of explicitly placed chunks.
func (p *CatalogPlacement) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.location)
}
