//go:build linux

package tally

import (
	"fmt"
	"runtime"

	"golang.org/x/sys/unix"
)

// loadShift is SI_LOAD_SHIFT: sysinfo load averages are fixed-point with 16 fractional bits.
const loadShift = 1 << 16

// sysinfoReader reads host stats with the sysinfo syscall.
type sysinfoReader struct{}

// ReadHost returns the current load average and memory totals.
func (sysinfoReader) ReadHost() (HostStats, error) {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return HostStats{}, fmt.Errorf("sysinfo: %w", err)
	}
	unit := uint64(info.Unit)
	if unit == 0 {
		unit = 1
	}
	return HostStats{
		Load1:       float64(info.Loads[0]) / loadShift,
		CPUs:        runtime.NumCPU(),
		TotalMemory: uint64(info.Totalram) * unit,
		FreeMemory:  uint64(info.Freeram) * unit,
	}, nil
}

func defaultHostReader() HostReader { return sysinfoReader{} }
