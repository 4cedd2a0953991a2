// Package imaging implements the per-frame light position routine: pixel
// access on packed three channel buffers, brightness thresholding into a
// binary image, centroid aggregation of the bright pixels and a marker overlay
// at the centroid.
package imaging

import (
	"math"

	"github.com/banshee-data/lightpos/internal/monitoring"
)

const (
	// Channels is the only supported number of channels per pixel.
	Channels = 3
	// BitDepth is the only supported number of bits per channel.
	BitDepth = 8
)

// Pixel holds the three channel values of one pixel in buffer order.
type Pixel [Channels]uint8

var (
	// White is written for bright pixels in the thresholded output.
	White = Pixel{255, 255, 255}
	// Black is written for dark pixels in the thresholded output.
	Black = Pixel{0, 0, 0}
)

// Image is a packed pixel buffer. Row y starts at byte Step*y of Data and
// pixel x of that row occupies the three bytes starting at 3*x. Step may be
// larger than Width*3 when rows are padded.
type Image struct {
	Width       int
	Height      int
	Step        int
	Encoding    string
	IsBigEndian bool
	Data        []byte
}

// NewImage allocates a zeroed, unpadded image with the given encoding.
func NewImage(width, height int, encoding string) *Image {
	step := width * Channels
	return &Image{
		Width:    width,
		Height:   height,
		Step:     step,
		Encoding: encoding,
		Data:     make([]byte, step*height),
	}
}

// CloneMetadata copies the dimensions, stride and format tag of src into dst
// and gives dst a freshly allocated buffer of the same length as src's.
// Pixel contents of dst are unspecified afterwards; callers overwrite them.
func CloneMetadata(dst, src *Image) {
	dst.Width = src.Width
	dst.Height = src.Height
	dst.Step = src.Step
	dst.Encoding = src.Encoding
	dst.IsBigEndian = src.IsBigEndian
	dst.Data = make([]byte, len(src.Data))
}

// NewImageLike returns a new image with src's metadata and its own buffer.
func NewImageLike(src *Image) *Image {
	dst := &Image{}
	CloneMetadata(dst, src)
	return dst
}

// ValidateFormat fails with *UnsupportedFormatError unless img has exactly
// three 8-bit channels and a buffer large enough for its declared layout.
func ValidateFormat(img *Image) error {
	if img == nil {
		return &UnsupportedFormatError{Reason: "nil image"}
	}
	channels, depth, ok := EncodingLayout(img.Encoding)
	if !ok {
		return &UnsupportedFormatError{Encoding: img.Encoding, Reason: "unknown encoding"}
	}
	if channels != Channels {
		return &UnsupportedFormatError{
			Encoding: img.Encoding, Channels: channels, BitDepth: depth,
			Reason: "number of color channels is not equal to 3",
		}
	}
	if depth != BitDepth {
		return &UnsupportedFormatError{
			Encoding: img.Encoding, Channels: channels, BitDepth: depth,
			Reason: "bit depth (number of bits per channel per pixel) is not equal to 8",
		}
	}
	if img.Width <= 0 || img.Height <= 0 {
		return &UnsupportedFormatError{
			Encoding: img.Encoding, Channels: channels, BitDepth: depth,
			Reason: "width and height must be positive",
		}
	}
	if img.Step < img.Width*Channels {
		return &UnsupportedFormatError{
			Encoding: img.Encoding, Channels: channels, BitDepth: depth,
			Reason: "row step is smaller than width*3",
		}
	}
	if len(img.Data) < img.Step*img.Height {
		return &UnsupportedFormatError{
			Encoding: img.Encoding, Channels: channels, BitDepth: depth,
			Reason: "data buffer is shorter than step*height",
		}
	}
	return nil
}

// ValidateCoordinate fails with *OutOfRangeError unless (x, y) lies on the
// canvas of img.
func ValidateCoordinate(img *Image, x, y int) error {
	if x < 0 || x >= img.Width {
		return &OutOfRangeError{Axis: "x", X: x, Y: y, Width: img.Width, Height: img.Height}
	}
	if y < 0 || y >= img.Height {
		return &OutOfRangeError{Axis: "y", X: x, Y: y, Width: img.Width, Height: img.Height}
	}
	return nil
}

func (img *Image) offset(x, y int) int {
	return img.Step*y + Channels*x
}

// ReadPixel returns the channel values at (x, y). Format and coordinate
// errors are returned unchanged.
func (img *Image) ReadPixel(x, y int) (Pixel, error) {
	if err := ValidateFormat(img); err != nil {
		return Pixel{}, err
	}
	if err := ValidateCoordinate(img, x, y); err != nil {
		return Pixel{}, err
	}
	i := img.offset(x, y)
	return Pixel{img.Data[i], img.Data[i+1], img.Data[i+2]}, nil
}

// SetPixel writes p at (x, y) and returns format and coordinate errors
// unchanged. The thresholding scan uses it; an out of range coordinate there
// is a logic error.
func (img *Image) SetPixel(x, y int, p Pixel) error {
	if err := ValidateFormat(img); err != nil {
		return err
	}
	if err := ValidateCoordinate(img, x, y); err != nil {
		return err
	}
	img.put(x, y, p)
	return nil
}

// WritePixel writes p at (x, y) for shape drawing that is allowed to cross
// the canvas edge. Format errors are returned; an out of range coordinate is
// logged as a warning and the write is skipped.
func (img *Image) WritePixel(x, y int, p Pixel) error {
	if err := ValidateFormat(img); err != nil {
		return err
	}
	if err := ValidateCoordinate(img, x, y); err != nil {
		monitoring.Warnf("tried to draw a pixel at (%d,%d) but that's outside the image canvas", x, y)
		return nil
	}
	img.put(x, y, p)
	return nil
}

func (img *Image) put(x, y int, p Pixel) {
	i := img.offset(x, y)
	img.Data[i] = p[0]
	img.Data[i+1] = p[1]
	img.Data[i+2] = p[2]
}

// Brightness returns the mean of the three channel values at (x, y), rounded
// half away from zero.
func (img *Image) Brightness(x, y int) (int, error) {
	p, err := img.ReadPixel(x, y)
	if err != nil {
		return 0, err
	}
	return PixelBrightness(p), nil
}

// PixelBrightness is the brightness of a single pixel value.
func PixelBrightness(p Pixel) int {
	sum := int(p[0]) + int(p[1]) + int(p[2])
	return int(math.Round(float64(sum) / 3.0))
}
