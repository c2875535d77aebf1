package tally

import (
	"errors"
	"math"
)

// ErrHostStatsUnsupported is returned by the default HostReader on platforms where
// load average and memory totals cannot be read.
var ErrHostStatsUnsupported = errors.New("host stats not supported on this platform")

// HostStats is a single reading of host load and memory.
type HostStats struct {
	// Load1 is the 1-minute load average.
	Load1 float64
	// CPUs is the number of logical cores.
	CPUs int

	TotalMemory uint64
	FreeMemory  uint64
}

// HostReader reads the host gauges reported on each flush.
type HostReader interface {
	ReadHost() (HostStats, error)
}

// HostReaderFunc adapts a function to the HostReader interface.
type HostReaderFunc func() (HostStats, error)

// ReadHost calls f.
func (f HostReaderFunc) ReadHost() (HostStats, error) { return f() }

// CPUPercent returns the 1-minute load average per logical core as a percentage,
// rounded to two decimals and clamped to [0, 100].
func CPUPercent(h HostStats) float64 {
	if h.CPUs <= 0 {
		return 0
	}
	return clampPercent(round2(h.Load1 / float64(h.CPUs) * 100))
}

// MemoryPercent returns used memory as a percentage of total memory, rounded to two
// decimals and clamped to [0, 100].
func MemoryPercent(h HostStats) float64 {
	if h.TotalMemory == 0 || h.FreeMemory > h.TotalMemory {
		return 0
	}
	used := h.TotalMemory - h.FreeMemory
	return clampPercent(round2(float64(used) / float64(h.TotalMemory) * 100))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func clampPercent(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 100:
		return 100
	}
	return v
}
