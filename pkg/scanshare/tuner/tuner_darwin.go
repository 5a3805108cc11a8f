//go:build darwin

package tuner

import (
	"fmt"
	"runtime"

	"golang.org/x/sys/unix"
)

// Detect reads CPU count from the runtime and memory size from sysctl.
// macOS does not report free memory cheaply, so half of the total is
// assumed available.
func Detect() (SystemResources, error) {
	res := SystemResources{CPUCores: runtime.NumCPU()}

	memsize, err := unix.SysctlUint64("hw.memsize")
	if err != nil {
		return res, fmt.Errorf("sysctl hw.memsize: %w", err)
	}
	res.TotalRAM = int64(memsize)
	res.AvailableRAM = res.TotalRAM / 2
	return res, nil
}
