package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/lightpos/internal/imaging"
)

// DefaultConfigPath is the path to the canonical processing defaults file.
const DefaultConfigPath = "config/lightpos.defaults.json"

// Config represents the root configuration for frame processing. The schema
// matches the /api/params endpoint so the same JSON can be used for both
// startup configuration and runtime updates. Unset fields fall back to the
// defaults returned by the Get* accessors.
type Config struct {
	// Per-frame processing params
	BrightnessThreshold *int    `json:"brightness_threshold,omitempty"`
	MarkerSize          *int    `json:"marker_size,omitempty"`
	MarkerColor         *[3]int `json:"marker_color,omitempty"`

	// Pipeline params
	CentroidWindow     *int    `json:"centroid_window,omitempty"`
	PublishThresholded *bool   `json:"publish_thresholded,omitempty"`
	MaxFrameBytes      *int    `json:"max_frame_bytes,omitempty"`
	StatsLogInterval   *string `json:"stats_log_interval,omitempty"` // duration string like "1m"
}

// EmptyConfig returns a Config with all fields set to nil.
func EmptyConfig() *Config {
	return &Config{}
}

// LoadConfig loads a Config from a JSON file.
// The file must have a .json extension and be under 1MB. Fields omitted from
// the JSON file keep their defaults, so partial configs are safe.
func LoadConfig(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *Config) Validate() error {
	if c.BrightnessThreshold != nil {
		if err := ValidateThreshold(*c.BrightnessThreshold); err != nil {
			return err
		}
	}
	if c.MarkerSize != nil {
		if err := ValidateMarkerSize(*c.MarkerSize); err != nil {
			return err
		}
	}
	if c.MarkerColor != nil {
		px, err := PixelFromInts(*c.MarkerColor)
		if err != nil {
			return fmt.Errorf("marker_color: %w", err)
		}
		if err := ValidateMarkerColor(px); err != nil {
			return err
		}
	}
	if c.CentroidWindow != nil {
		if *c.CentroidWindow < 1 || *c.CentroidWindow > 100000 {
			return fmt.Errorf("centroid_window must be between 1 and 100000, got %d", *c.CentroidWindow)
		}
	}
	if c.MaxFrameBytes != nil {
		if *c.MaxFrameBytes < 1 {
			return fmt.Errorf("max_frame_bytes must be positive, got %d", *c.MaxFrameBytes)
		}
	}
	if c.StatsLogInterval != nil && *c.StatsLogInterval != "" {
		if _, err := time.ParseDuration(*c.StatsLogInterval); err != nil {
			return fmt.Errorf("invalid stats_log_interval '%s': %w", *c.StatsLogInterval, err)
		}
	}
	return nil
}

// GetBrightnessThreshold returns the brightness_threshold value or the default.
func (c *Config) GetBrightnessThreshold() int {
	if c.BrightnessThreshold == nil {
		return imaging.DefaultThreshold
	}
	return *c.BrightnessThreshold
}

// GetMarkerSize returns the marker_size value or the default.
func (c *Config) GetMarkerSize() int {
	if c.MarkerSize == nil {
		return imaging.DefaultMarkerSize
	}
	return *c.MarkerSize
}

// GetMarkerColor returns the marker_color value or the default.
func (c *Config) GetMarkerColor() imaging.Pixel {
	if c.MarkerColor == nil {
		return imaging.DefaultMarkerColor
	}
	px, err := PixelFromInts(*c.MarkerColor)
	if err != nil {
		return imaging.DefaultMarkerColor
	}
	return px
}

// GetCentroidWindow returns the centroid_window value or the default.
func (c *Config) GetCentroidWindow() int {
	if c.CentroidWindow == nil {
		return 100
	}
	return *c.CentroidWindow
}

// GetPublishThresholded returns the publish_thresholded value or the default.
func (c *Config) GetPublishThresholded() bool {
	if c.PublishThresholded == nil {
		return false
	}
	return *c.PublishThresholded
}

// GetMaxFrameBytes returns the max_frame_bytes value or the default.
func (c *Config) GetMaxFrameBytes() int {
	if c.MaxFrameBytes == nil {
		return 8 << 20
	}
	return *c.MaxFrameBytes
}

// GetStatsLogInterval parses and returns the StatsLogInterval as a time.Duration.
func (c *Config) GetStatsLogInterval() time.Duration {
	if c.StatsLogInterval == nil || *c.StatsLogInterval == "" {
		return time.Minute
	}
	d, err := time.ParseDuration(*c.StatsLogInterval)
	if err != nil {
		return time.Minute
	}
	return d
}

// Params returns the per-frame processing parameters described by c.
func (c *Config) Params() imaging.Params {
	return imaging.Params{
		Threshold: c.GetBrightnessThreshold(),
		Marker: imaging.Marker{
			Size:  c.GetMarkerSize(),
			Color: c.GetMarkerColor(),
		},
	}
}
