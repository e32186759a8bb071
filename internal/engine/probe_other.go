//go:build !linux

package engine

func availableMemoryMB() (uint64, bool) {
	return 0, false
}
