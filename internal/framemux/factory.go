package framemux

import (
	"fmt"
	"os"

	"go.bug.st/serial"

	"github.com/banshee-data/lightpos/internal/monitoring"
)

// NewRealFrameMux creates a FrameMux backed by a real serial port at the given
// path using the provided serial options.
func NewRealFrameMux(path string, opts PortOptions, maxSize int) (*FrameMux[serial.Port], error) {
	opts, err := opts.Normalize()
	if err != nil {
		return nil, err
	}
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}

	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", path, err)
	}
	monitoring.Logf("opened serial port %s at %s", path, opts)

	return NewFrameMux[serial.Port](port, maxSize), nil
}

// filePort replays a recorded stream. Published messages are discarded.
type filePort struct {
	*os.File
}

func (filePort) Write(p []byte) (int, error) { return len(p), nil }

// NewFileFrameMux creates a FrameMux that replays a delimited frame stream
// recorded to disk. Monitor returns nil once the file is exhausted.
func NewFileFrameMux(path string, maxSize int) (*FrameMux[Porter], error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open replay file: %w", err)
	}
	return NewFrameMux[Porter](filePort{f}, maxSize), nil
}
