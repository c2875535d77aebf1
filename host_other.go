//go:build !linux

package tally

type unsupportedReader struct{}

func (unsupportedReader) ReadHost() (HostStats, error) {
	return HostStats{}, ErrHostStatsUnsupported
}

func defaultHostReader() HostReader { return unsupportedReader{} }
