//go:build linux

package tuner

import (
	"fmt"
	"runtime"

	"golang.org/x/sys/unix"
)

// Detect reads CPU count from the runtime and memory from sysinfo(2).
// Buffer memory counts as available since the kernel reclaims it.
func Detect() (SystemResources, error) {
	res := SystemResources{CPUCores: runtime.NumCPU()}

	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return res, fmt.Errorf("sysinfo: %w", err)
	}
	unit := uint64(info.Unit)
	if unit == 0 {
		unit = 1
	}
	res.TotalRAM = int64(uint64(info.Totalram) * unit)
	res.AvailableRAM = int64((uint64(info.Freeram) + uint64(info.Bufferram)) * unit)
	if res.AvailableRAM <= 0 || res.AvailableRAM > res.TotalRAM {
		res.AvailableRAM = res.TotalRAM / 2
	}
	return res, nil
}
