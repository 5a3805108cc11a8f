//go:build !darwin && !linux

package tuner

import "runtime"

// defaultTotalRAM is assumed when the platform gives no memory figure.
const defaultTotalRAM = 8 << 30

// Detect reports the CPU count and a fixed memory estimate.
func Detect() (SystemResources, error) {
	return SystemResources{
		CPUCores:     runtime.NumCPU(),
		TotalRAM:     defaultTotalRAM,
		AvailableRAM: defaultTotalRAM / 2,
	}, nil
}
