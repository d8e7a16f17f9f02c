// Package sysresource provides a pre-flight memory check used to decide
// whether a transfer may stage in RAM (MemoryFirst / Hybrid) or must
// fall back to disk, even when the declared file size fits under the
// configured memory budget.
package sysresource

import "github.com/shirou/gopsutil/v3/mem"

// Guard gates memory-backed staging decisions on actual system memory
// pressure, not just a static byte budget.
type Guard struct {
	// MinAvailableBytes is the floor below which MemoryFirst is refused
	// regardless of the transfer's declared size.
	MinAvailableBytes uint64
}

// NewGuard builds a Guard with the given floor.
func NewGuard(minAvailableBytes uint64) *Guard {
	return &Guard{MinAvailableBytes: minAvailableBytes}
}

// AllowMemoryStaging reports whether staging declaredSize bytes in RAM
// is currently safe: declaredSize must fit the caller's budget (checked
// by the caller) and available system memory must stay above the floor
// after accounting for declaredSize.
func (g *Guard) AllowMemoryStaging(declaredSize uint64) bool {
	if g == nil || g.MinAvailableBytes == 0 {
		return true
	}
	avail, err := g.availableBytes()
	if err != nil {
		// Unable to read memory stats: fail closed to disk staging.
		return false
	}
	if avail <= declaredSize {
		return false
	}
	return avail-declaredSize >= g.MinAvailableBytes
}

func (g *Guard) availableBytes() (uint64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, err
	}
	return vm.Available, nil
}
