// Package tuner detects CPU and memory and derives scheduler, pool and cache
// settings for configuration values left at zero.
package tuner

// SystemResources contains detected system resources.
type SystemResources struct {
	// CPUCores is the number of logical CPU cores available.
	CPUCores int

	// TotalRAM is the total physical RAM in bytes.
	TotalRAM int64

	// AvailableRAM is the RAM in bytes the process can reasonably use.
	// It may be an estimate.
	AvailableRAM int64
}
