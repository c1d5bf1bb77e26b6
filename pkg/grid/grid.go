// Package grid decomposes a reference image into overlapping square
// candidate regions.
package grid

import (
	"fmt"

	"github.com/menta2k/piece-locator/pkg/types"
)

// Config holds the sliding window geometry
type Config struct {
	Window int `json:"window"`
	Stride int `json:"stride"`
}

// DefaultConfig returns a 100px window moved in 50px steps
func DefaultConfig() Config {
	return Config{Window: 100, Stride: 50}
}

// Validate checks the window and stride independently of any image
func (c Config) Validate() error {
	if c.Window <= 0 {
		return fmt.Errorf("%w: window must be positive, got %d", types.ErrInvalidGeometry, c.Window)
	}
	if c.Stride <= 0 || c.Stride > c.Window {
		return fmt.Errorf("%w: stride must be in [1, %d], got %d", types.ErrInvalidGeometry, c.Window, c.Stride)
	}
	return nil
}

// Build returns the regions of a width x height image in row-major order.
//
// Windows start at every multiple of the stride that keeps them inside the
// image. When the last regular window stops short of the right or bottom
// edge, an extra window flush with that edge is added so the union of the
// regions covers every pixel.
func Build(width, height int, cfg Config) ([]types.Region, error) {
	xs, ys, err := offsets(width, height, cfg)
	if err != nil {
		return nil, err
	}

	regions := make([]types.Region, 0, len(xs)*len(ys))
	for _, y := range ys {
		for _, x := range xs {
			regions = append(regions, types.Region{
				ID:     len(regions),
				X:      x,
				Y:      y,
				Width:  cfg.Window,
				Height: cfg.Window,
			})
		}
	}
	return regions, nil
}

// Count returns the number of regions Build would produce
func Count(width, height int, cfg Config) (int, error) {
	xs, ys, err := offsets(width, height, cfg)
	if err != nil {
		return 0, err
	}
	return len(xs) * len(ys), nil
}

func offsets(width, height int, cfg Config) ([]int, []int, error) {
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	if cfg.Window > width || cfg.Window > height {
		return nil, nil, fmt.Errorf("%w: window %d exceeds image %dx%d",
			types.ErrInvalidGeometry, cfg.Window, width, height)
	}
	return axis(width, cfg), axis(height, cfg), nil
}

func axis(size int, cfg Config) []int {
	last := size - cfg.Window
	out := make([]int, 0, last/cfg.Stride+2)
	for p := 0; p <= last; p += cfg.Stride {
		out = append(out, p)
	}
	if out[len(out)-1] != last {
		out = append(out, last)
	}
	return out
}
