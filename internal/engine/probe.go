package engine

import (
	"bufio"
	"io"
	"net"
	"strconv"
	"strings"
)

// ResourceProbe reports host resources consulted by requirement checks.
type ResourceProbe interface {
	// AvailableMemoryMB returns free memory in MiB; ok=false when unknown.
	AvailableMemoryMB() (mb uint64, ok bool)
	NetworkAvailable() bool
}

// HostProbe reads resources from the running host.
type HostProbe struct{}

func NewHostProbe() *HostProbe {
	return &HostProbe{}
}

func (HostProbe) AvailableMemoryMB() (uint64, bool) {
	return availableMemoryMB()
}

// NetworkAvailable reports whether any non-loopback interface is up with an address.
func (HostProbe) NetworkAvailable() bool {
	ifaces, err := net.Interfaces()
	if err != nil {
		return false
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err == nil && len(addrs) > 0 {
			return true
		}
	}
	return false
}

// StaticProbe returns fixed values. Useful in tests and for hosts where
// probing is undesirable.
type StaticProbe struct {
	MemoryMB uint64
	Network  bool
}

func (p StaticProbe) AvailableMemoryMB() (uint64, bool) {
	return p.MemoryMB, true
}

func (p StaticProbe) NetworkAvailable() bool {
	return p.Network
}

// parseMemAvailable extracts the MemAvailable line, in KiB, from a
// /proc/meminfo formatted reader.
func parseMemAvailable(r io.Reader) (uint64, bool) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 2 || fields[0] != "MemAvailable:" {
			continue
		}
		kb, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return 0, false
		}
		return kb, true
	}
	return 0, false
}
