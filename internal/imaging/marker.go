package imaging

import "fmt"

// Point2 is an integer image coordinate.
type Point2 struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func (p Point2) String() string {
	return fmt.Sprintf("(%d,%d)", p.X, p.Y)
}

// Marker describes the square drawn over the centroid. Size is the side
// length in pixels and should be odd so the square is centred.
type Marker struct {
	Size  int   `json:"size"`
	Color Pixel `json:"color"`
}

// DrawMarker draws m centred on center. The iteration range is clamped to the
// canvas first, so pixels past the edge are never attempted. A non-positive
// size draws nothing.
func DrawMarker(img *Image, center Point2, m Marker) error {
	if err := ValidateFormat(img); err != nil {
		return err
	}
	if m.Size <= 0 {
		return nil
	}
	half := (m.Size - 1) / 2

	x0 := max(0, center.X-half)
	x1 := min(img.Width-1, center.X+half)
	y0 := max(0, center.Y-half)
	y1 := min(img.Height-1, center.Y+half)

	for xx := x0; xx <= x1; xx++ {
		for yy := y0; yy <= y1; yy++ {
			if err := img.WritePixel(xx, yy, m.Color); err != nil {
				return err
			}
		}
	}
	return nil
}
