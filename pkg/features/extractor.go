// Package features computes the multi-modal descriptor (colour histogram,
// shape signature, embedding) of an image sample.
package features

import (
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	"gonum.org/v1/gonum/floats"

	"github.com/menta2k/piece-locator/pkg/embedding"
	"github.com/menta2k/piece-locator/pkg/types"
)

// Config holds the descriptor extraction parameters
type Config struct {
	SampleSize      int     `json:"sample_size"`
	HueBins         int     `json:"hue_bins"`
	SatBins         int     `json:"sat_bins"`
	ValBins         int     `json:"val_bins"`
	OrientationBins int     `json:"orientation_bins"`
	EdgeThreshold   float64 `json:"edge_threshold"`
	MomentScale     float64 `json:"moment_scale"`
}

// DefaultConfig returns the default extraction parameters
func DefaultConfig() Config {
	return Config{
		SampleSize:      64,
		HueBins:         16,
		SatBins:         4,
		ValBins:         4,
		OrientationBins: 16,
		EdgeThreshold:   40,
		MomentScale:     0.1,
	}
}

// Validate checks if the configuration is valid
func (c Config) Validate() error {
	if c.SampleSize < 8 {
		return fmt.Errorf("features.sample_size must be at least 8")
	}
	if c.HueBins < 1 || c.SatBins < 1 || c.ValBins < 1 {
		return fmt.Errorf("features colour bins must be positive")
	}
	if c.OrientationBins < 1 {
		return fmt.Errorf("features.orientation_bins must be positive")
	}
	if c.EdgeThreshold <= 0 {
		return fmt.Errorf("features.edge_threshold must be positive")
	}
	if c.MomentScale < 0 {
		return fmt.Errorf("features.moment_scale must not be negative")
	}
	return nil
}

// Extractor computes descriptors. It holds no mutable state and is safe for
// concurrent use.
type Extractor struct {
	config  Config
	backend embedding.Backend
}

// New creates an Extractor with default configuration and the Haar backend
func New() *Extractor {
	return &Extractor{config: DefaultConfig(), backend: embedding.NewHaar()}
}

// NewWithConfig creates an Extractor with custom configuration and backend
func NewWithConfig(config Config, backend embedding.Backend) (*Extractor, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if backend == nil {
		return nil, fmt.Errorf("embedding backend is required")
	}
	if backend.Dim() <= 0 {
		return nil, fmt.Errorf("embedding backend %s reports dimension %d", backend.Name(), backend.Dim())
	}
	return &Extractor{config: config, backend: backend}, nil
}

// Config returns the extraction parameters
func (e *Extractor) Config() Config {
	return e.config
}

// Backend returns the embedding backend
func (e *Extractor) Backend() embedding.Backend {
	return e.backend
}

// Shape returns the vector lengths every descriptor from e will have
func (e *Extractor) Shape() types.DescriptorShape {
	return types.DescriptorShape{
		Color:     e.config.HueBins * e.config.SatBins * e.config.ValBins,
		Shape:     e.config.OrientationBins + NumMoments,
		Embedding: e.backend.Dim(),
	}
}

// Prepare scales img to the square working sample
func (e *Extractor) Prepare(img image.Image) *image.NRGBA {
	return imaging.Resize(img, e.config.SampleSize, e.config.SampleSize, imaging.Lanczos)
}

// Extract computes the descriptor of img. Degenerate samples (a single
// colour, or no edge pixels) fail with types.ErrUnextractableImage.
func (e *Extractor) Extract(img image.Image) (types.Descriptor, error) {
	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return types.Descriptor{}, fmt.Errorf("%w: empty sample", types.ErrUnextractableImage)
	}

	sample := e.Prepare(img)
	if isUniform(sample) {
		return types.Descriptor{}, fmt.Errorf("%w: uniform colour", types.ErrUnextractableImage)
	}

	shape, edges := ShapeSignature(sample, e.config.OrientationBins, e.config.EdgeThreshold, e.config.MomentScale)
	if edges == 0 {
		return types.Descriptor{}, fmt.Errorf("%w: no edges detected", types.ErrUnextractableImage)
	}

	color := ColorHistogram(sample, e.config.HueBins, e.config.SatBins, e.config.ValBins)

	emb, err := e.backend.Embed(sample)
	if err != nil {
		return types.Descriptor{}, fmt.Errorf("embedding %s: %w", e.backend.Name(), err)
	}
	if len(emb) != e.backend.Dim() {
		return types.Descriptor{}, fmt.Errorf("%w: backend %s returned %d values, want %d",
			types.ErrDescriptorShapeMismatch, e.backend.Name(), len(emb), e.backend.Dim())
	}
	norm := floats.Norm(emb, 2)
	if norm == 0 {
		return types.Descriptor{}, fmt.Errorf("%w: zero embedding", types.ErrUnextractableImage)
	}
	floats.Scale(1/norm, emb)

	return types.Descriptor{Color: color, Shape: shape, Embedding: emb}, nil
}

func isUniform(img *image.NRGBA) bool {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	first := img.Pix[0:3]
	for y := 0; y < h; y++ {
		i := y * img.Stride
		for x := 0; x < w; x++ {
			if img.Pix[i] != first[0] || img.Pix[i+1] != first[1] || img.Pix[i+2] != first[2] {
				return false
			}
			i += 4
		}
	}
	return true
}
