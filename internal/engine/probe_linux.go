//go:build linux

package engine

import (
	"os"

	"golang.org/x/sys/unix"
)

// availableMemoryMB prefers the kernel's MemAvailable estimate, which counts
// reclaimable page cache. Kernels without it fall back to free plus buffers.
func availableMemoryMB() (uint64, bool) {
	if f, err := os.Open("/proc/meminfo"); err == nil {
		kb, ok := parseMemAvailable(f)
		_ = f.Close()
		if ok {
			return kb >> 10, true
		}
	}

	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return 0, false
	}
	unit := uint64(info.Unit)
	if unit == 0 {
		unit = 1
	}
	free := (uint64(info.Freeram) + uint64(info.Bufferram)) * unit
	return free >> 20, true
}
