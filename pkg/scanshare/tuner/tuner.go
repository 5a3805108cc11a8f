package tuner

import "github.com/jamesainslie/scanshare/pkg/scanshare/types"

// Limits of the derived settings.
const (
	minThreads = 2
	maxThreads = 64

	// threadsPerActiveChunk is how many scan threads one active chunk per
	// disk is expected to keep busy.
	threadsPerActiveChunk = 4
	maxActiveChunks       = 4

	minCacheSize = 16 * types.MiB
	maxCacheSize = 4 * types.GiB

	// cacheMemoryFraction is the share of available RAM given to the block
	// cache.
	cacheMemoryFraction = 0.10
)

// OptimalConfig holds the derived settings.
type OptimalConfig struct {
	// MaxThreads caps concurrently running scan tasks.
	MaxThreads int

	// PoolSize is the number of worker goroutines.
	PoolSize int

	// MaxActiveChunks is the per-disk limit of chunks scanned at once.
	MaxActiveChunks int

	// CacheSize is the block cache capacity in bytes.
	CacheSize int64
}

// Overrides are user supplied values. Zero fields are derived.
type Overrides struct {
	MaxThreads      int
	PoolSize        int
	MaxActiveChunks int
	CacheSize       int64
}

// Calculate derives settings for a worker with the given number of disks.
//
//   - MaxThreads is the core count, clamped to [2, 64]; scans are mostly
//     I/O and the cache is shared, so more threads than cores buys little.
//   - PoolSize equals MaxThreads. Extra workers would only wait.
//   - MaxActiveChunks grows by one for every four threads per disk, up to 4.
//   - CacheSize is a tenth of available RAM, clamped to [16 MiB, 4 GiB].
func Calculate(res SystemResources, disks int) OptimalConfig {
	disks = max(disks, 1)

	threads := min(max(res.CPUCores, minThreads), maxThreads)
	active := min(max(threads/disks/threadsPerActiveChunk, 1), maxActiveChunks)

	return OptimalConfig{
		MaxThreads:      threads,
		PoolSize:        threads,
		MaxActiveChunks: active,
		CacheSize:       cacheSize(res.AvailableRAM),
	}
}

// CalculateWithOverrides derives settings and replaces every field the user
// set. A pool smaller than MaxThreads is allowed; a larger one is not useful
// but is honoured.
func CalculateWithOverrides(res SystemResources, disks int, o Overrides) OptimalConfig {
	cfg := Calculate(res, disks)
	if o.MaxThreads > 0 {
		cfg.MaxThreads = o.MaxThreads
		cfg.PoolSize = o.MaxThreads
	}
	if o.PoolSize > 0 {
		cfg.PoolSize = o.PoolSize
	}
	if o.MaxActiveChunks > 0 {
		cfg.MaxActiveChunks = o.MaxActiveChunks
	}
	if o.CacheSize > 0 {
		cfg.CacheSize = o.CacheSize
	}
	return cfg
}

func cacheSize(availableRAM int64) int64 {
	size := int64(float64(availableRAM) * cacheMemoryFraction)
	return min(max(size, minCacheSize), maxCacheSize)
}
