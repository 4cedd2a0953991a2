package framemux

import (
	"io"
)

// Porter is the minimal interface a frame source needs. Serial devices,
// replay files, pipes and the synthetic generator all satisfy it.
type Porter interface {
	io.ReadWriter
	io.Closer
}
