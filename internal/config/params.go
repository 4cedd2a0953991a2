package config

import (
	"fmt"
	"sync"

	"github.com/banshee-data/lightpos/internal/imaging"
)

// ValidateThreshold checks a brightness threshold against the 0-255 domain.
func ValidateThreshold(v int) error {
	if v < 0 || v > 255 {
		return fmt.Errorf("brightness_threshold must be between 0 and 255, got %d", v)
	}
	return nil
}

// ValidateMarkerSize requires a positive odd side length.
func ValidateMarkerSize(v int) error {
	if v < 1 || v%2 == 0 {
		return fmt.Errorf("marker_size must be a positive odd integer, got %d", v)
	}
	return nil
}

// ValidateMarkerColor rejects the two colours of the binary image, which
// would make the marker invisible.
func ValidateMarkerColor(c imaging.Pixel) error {
	if c == imaging.White || c == imaging.Black {
		return fmt.Errorf("marker_color %v is indistinguishable from the thresholded image", c)
	}
	return nil
}

// PixelFromInts converts a JSON colour triple into a Pixel.
func PixelFromInts(c [3]int) (imaging.Pixel, error) {
	var px imaging.Pixel
	for i, v := range c {
		if v < 0 || v > 255 {
			return px, fmt.Errorf("channel %d value %d out of range 0-255", i, v)
		}
		px[i] = uint8(v)
	}
	return px, nil
}

// ValidateParams checks every field of p.
func ValidateParams(p imaging.Params) error {
	if err := ValidateThreshold(p.Threshold); err != nil {
		return err
	}
	if err := ValidateMarkerSize(p.Marker.Size); err != nil {
		return err
	}
	return ValidateMarkerColor(p.Marker.Color)
}

// ParamStore holds the processing parameters that may change while frames
// are flowing. The pipeline takes one Snapshot per frame, so an update takes
// effect from the next frame on.
type ParamStore struct {
	mu     sync.RWMutex
	params imaging.Params
}

// NewParamStore returns a store seeded with p.
func NewParamStore(p imaging.Params) (*ParamStore, error) {
	if err := ValidateParams(p); err != nil {
		return nil, err
	}
	return &ParamStore{params: p}, nil
}

// Snapshot returns a copy of the current parameters.
func (s *ParamStore) Snapshot() imaging.Params {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.params
}

// Update applies fn to a copy of the current parameters and stores the
// result if it validates, all under one lock, so a frame never sees part of
// an update. It returns the parameters before and after the change; on error
// the store is unchanged.
func (s *ParamStore) Update(fn func(p *imaging.Params)) (old, updated imaging.Params, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	old = s.params
	updated = old
	fn(&updated)
	if err := ValidateParams(updated); err != nil {
		return old, old, err
	}
	s.params = updated
	return old, updated, nil
}

// SetThreshold updates the brightness threshold and returns the old value.
func (s *ParamStore) SetThreshold(v int) (int, error) {
	old, _, err := s.Update(func(p *imaging.Params) { p.Threshold = v })
	if err != nil {
		return 0, err
	}
	return old.Threshold, nil
}

// SetMarkerSize updates the marker side length and returns the old value.
func (s *ParamStore) SetMarkerSize(v int) (int, error) {
	old, _, err := s.Update(func(p *imaging.Params) { p.Marker.Size = v })
	if err != nil {
		return 0, err
	}
	return old.Marker.Size, nil
}

// SetMarkerColor updates the marker colour and returns the old value.
func (s *ParamStore) SetMarkerColor(c imaging.Pixel) (imaging.Pixel, error) {
	old, _, err := s.Update(func(p *imaging.Params) { p.Marker.Color = c })
	if err != nil {
		return imaging.Pixel{}, err
	}
	return old.Marker.Color, nil
}
