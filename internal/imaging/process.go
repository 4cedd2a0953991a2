package imaging

import "fmt"

const (
	// DefaultThreshold is used when no brightness threshold is configured.
	DefaultThreshold = 240
	// DefaultMarkerSize is the side length of the centroid marker.
	DefaultMarkerSize = 5
)

// DefaultMarkerColor is red in rgb8 channel order.
var DefaultMarkerColor = Pixel{255, 0, 0}

// Params is the configuration snapshot used for one frame.
type Params struct {
	Threshold int    `json:"brightness_threshold"`
	Marker    Marker `json:"marker"`
}

// DefaultParams returns the parameters used when nothing is configured.
func DefaultParams() Params {
	return Params{
		Threshold: DefaultThreshold,
		Marker:    Marker{Size: DefaultMarkerSize, Color: DefaultMarkerColor},
	}
}

// Result is the output of processing one frame.
type Result struct {
	Output      *Image
	Centroid    Point2
	Found       bool
	BrightCount int
}

// Process thresholds src into a new image, computes the centroid of the
// bright pixels and, when there is one, draws the marker over it. The input
// image is never modified. An error means the frame produced no output.
func Process(src *Image, p Params) (*Result, error) {
	if err := ValidateFormat(src); err != nil {
		return nil, err
	}

	out := NewImageLike(src)
	acc, err := Threshold(src, p.Threshold, out)
	if err != nil {
		return nil, err
	}

	res := &Result{Output: out, BrightCount: acc.Count}
	res.Centroid, res.Found = acc.Centroid()
	if res.Found {
		if err := DrawMarker(out, res.Centroid, p.Marker); err != nil {
			return nil, fmt.Errorf("draw marker at %s: %w", res.Centroid, err)
		}
	}
	return res, nil
}
