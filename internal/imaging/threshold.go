package imaging

import (
	"fmt"
	"math"
)

// Accumulator holds the running sums of bright pixel coordinates for one frame.
type Accumulator struct {
	SumX  int64
	SumY  int64
	Count int
}

// Add records a bright pixel at (x, y).
func (a *Accumulator) Add(x, y int) {
	a.SumX += int64(x)
	a.SumY += int64(y)
	a.Count++
}

// Centroid returns the rounded mean position of the recorded pixels. With no
// pixels recorded it returns (0,0) and false.
func (a Accumulator) Centroid() (Point2, bool) {
	if a.Count == 0 {
		return Point2{}, false
	}
	n := float64(a.Count)
	return Point2{
		X: int(math.Round(float64(a.SumX) / n)),
		Y: int(math.Round(float64(a.SumY) / n)),
	}, true
}

// Threshold classifies every pixel of src against threshold and writes the
// binary result into dst, which must have the same dimensions. Bright pixels
// (brightness >= threshold) become White and are added to the returned
// accumulator; the rest become Black. Each coordinate is visited exactly once
// in row-major order. Any error aborts the scan.
func Threshold(src *Image, threshold int, dst *Image) (Accumulator, error) {
	var acc Accumulator

	if err := ValidateFormat(src); err != nil {
		return acc, err
	}
	if err := ValidateFormat(dst); err != nil {
		return acc, err
	}
	if dst.Width != src.Width || dst.Height != src.Height {
		return acc, fmt.Errorf("output image is %dx%d, want %dx%d", dst.Width, dst.Height, src.Width, src.Height)
	}

	for y := 0; y < src.Height; y++ {
		for x := 0; x < src.Width; x++ {
			brightness, err := src.Brightness(x, y)
			if err != nil {
				return acc, fmt.Errorf("scan at (%d,%d): %w", x, y, err)
			}
			if brightness >= threshold {
				if err := dst.SetPixel(x, y, White); err != nil {
					return acc, fmt.Errorf("scan at (%d,%d): %w", x, y, err)
				}
				acc.Add(x, y)
			} else {
				if err := dst.SetPixel(x, y, Black); err != nil {
					return acc, fmt.Errorf("scan at (%d,%d): %w", x, y, err)
				}
			}
		}
	}
	return acc, nil
}
