package embedding

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/nfnt/resize"
)

const channels = 3

// HaarConfig configures the wavelet backend
type HaarConfig struct {
	// InputSize is the side samples are scaled to. Must be a power of two.
	InputSize int `json:"input_size"`
	// Keep is the side of the low-frequency coefficient block kept per
	// colour channel. Must be a power of two no larger than InputSize.
	Keep int `json:"keep"`
}

// DefaultHaarConfig returns a 32px input keeping the coarsest 8x8 block
func DefaultHaarConfig() HaarConfig {
	return HaarConfig{InputSize: 32, Keep: 8}
}

// Validate checks that both sizes are usable powers of two
func (c HaarConfig) Validate() error {
	if !isPow2(c.InputSize) || c.InputSize < 2 {
		return fmt.Errorf("haar input size must be a power of two >= 2, got %d", c.InputSize)
	}
	if !isPow2(c.Keep) || c.Keep < 2 || c.Keep > c.InputSize {
		return fmt.Errorf("haar keep must be a power of two in [2, %d], got %d", c.InputSize, c.Keep)
	}
	return nil
}

// Haar is a multiresolution wavelet feature extractor. It converts the
// sample to YIQ, runs a forward 2D Haar transform and keeps the coarse
// coefficients of each channel, dropping the scaling coefficient so the
// vector describes structure rather than overall brightness.
type Haar struct {
	config HaarConfig
}

// NewHaar creates a Haar backend with default configuration
func NewHaar() *Haar {
	return &Haar{config: DefaultHaarConfig()}
}

// NewHaarWithConfig creates a Haar backend with custom configuration
func NewHaarWithConfig(config HaarConfig) (*Haar, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Haar{config: config}, nil
}

func (h *Haar) Name() string {
	return fmt.Sprintf("haar-%d-%d", h.config.InputSize, h.config.Keep)
}

func (h *Haar) InputSize() int {
	return h.config.InputSize
}

func (h *Haar) Dim() int {
	return channels * (h.config.Keep*h.config.Keep - 1)
}

// Embed returns the kept wavelet coefficients, channel by channel
func (h *Haar) Embed(img image.Image) ([]float64, error) {
	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return nil, fmt.Errorf("empty sample")
	}

	size := h.config.InputSize
	scaled := resize.Resize(uint(size), uint(size), img, resize.Bicubic)
	coefs := Transform(scaled, size)

	keep := h.config.Keep
	out := make([]float64, 0, h.Dim())
	for ch := 0; ch < channels; ch++ {
		for y := 0; y < keep; y++ {
			for x := 0; x < keep; x++ {
				if x == 0 && y == 0 {
					continue
				}
				out = append(out, coefs[y*size+x][ch])
			}
		}
	}
	return out, nil
}

// Coef holds one wavelet coefficient per YIQ channel
type Coef [channels]float64

// Transform performs a forward 2D Haar transform of the top-left size x size
// pixels of img after converting them to YIQ. The coefficient at (x, y) is
// stored at index y*size+x.
func Transform(img image.Image, size int) []Coef {
	b := img.Bounds()
	coefs := make([]Coef, size*size)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			coefs[y*size+x] = yiq(img.At(b.Min.X+x, b.Min.Y+y))
		}
	}

	tmp := make([]Coef, size)
	// rows
	for row := 0; row < size; row++ {
		for step := size / 2; step >= 1; step /= 2 {
			for col := 0; col < step; col++ {
				a := coefs[row*size+2*col]
				c := coefs[row*size+2*col+1]
				tmp[col], tmp[col+step] = pair(a, c)
			}
			copy(coefs[row*size:row*size+2*step], tmp[:2*step])
		}
	}
	// columns
	for col := 0; col < size; col++ {
		for step := size / 2; step >= 1; step /= 2 {
			for row := 0; row < step; row++ {
				a := coefs[(2*row)*size+col]
				c := coefs[(2*row+1)*size+col]
				tmp[row], tmp[row+step] = pair(a, c)
			}
			for row := 0; row < 2*step; row++ {
				coefs[row*size+col] = tmp[row]
			}
		}
	}
	return coefs
}

func pair(a, b Coef) (Coef, Coef) {
	var hi, lo Coef
	for i := range a {
		hi[i] = (a[i] + b[i]) / math.Sqrt2
		lo[i] = (a[i] - b[i]) / math.Sqrt2
	}
	return hi, lo
}

func yiq(c color.Color) Coef {
	r32, g32, b32, _ := c.RGBA()
	r, g, b := float64(r32>>8), float64(g32>>8), float64(b32>>8)
	return Coef{
		(0.299900*r + 0.587000*g + 0.114000*b) / 0x100,
		(0.595716*r - 0.274453*g - 0.321263*b) / 0x100,
		(0.211456*r - 0.522591*g + 0.311135*b) / 0x100,
	}
}

func isPow2(n int) bool {
	return n > 0 && n&(n-1) == 0
}
