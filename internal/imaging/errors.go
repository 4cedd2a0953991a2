package imaging

import "fmt"

// UnsupportedFormatError reports an image whose layout does not meet the
// three channel, eight bit contract of the accessor. It is fatal for the frame.
type UnsupportedFormatError struct {
	Encoding string
	Channels int
	BitDepth int
	Reason   string
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("unsupported image type %q: %s", e.Encoding, e.Reason)
}

// OutOfRangeError reports a coordinate outside the image canvas.
type OutOfRangeError struct {
	Axis   string // "x" or "y"
	X, Y   int
	Width  int
	Height int
}

func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf("%s-coordinate out of range: (%d,%d) not within %dx%d", e.Axis, e.X, e.Y, e.Width, e.Height)
}
