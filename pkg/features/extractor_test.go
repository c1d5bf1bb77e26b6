package features

import (
	"errors"
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/piece-locator/pkg/embedding"
	"github.com/menta2k/piece-locator/pkg/types"
)

// createTestImage creates a sample with a bright block on a gradient
func createTestImage(width, height int) image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if x > width/4 && x < width/2 && y > height/4 && y < 3*height/4 {
				img.Set(x, y, color.NRGBA{250, 240, 30, 255})
			} else {
				r := uint8((x * 200) / width)
				g := uint8((y * 200) / height)
				img.Set(x, y, color.NRGBA{r, g, 120, 255})
			}
		}
	}
	return img
}

func uniformImage(width, height int) image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = 128, 128, 128, 255
	}
	return img
}

type shortBackend struct{ *embedding.Haar }

func (s shortBackend) Embed(img image.Image) ([]float64, error) {
	v, err := s.Haar.Embed(img)
	if err != nil {
		return nil, err
	}
	return v[:len(v)-1], nil
}

func TestNew(t *testing.T) {
	e := New()
	require.NotNil(t, e)
	assert.Equal(t, 64, e.Config().SampleSize)
	assert.Equal(t, types.DescriptorShape{Color: 256, Shape: 23, Embedding: 189}, e.Shape())
}

func TestNewWithConfigRejectsInvalid(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HueBins = 0
	_, err := NewWithConfig(cfg, embedding.NewHaar())
	assert.Error(t, err)

	_, err = NewWithConfig(DefaultConfig(), nil)
	assert.Error(t, err)
}

func TestExtractShapeInvariant(t *testing.T) {
	e := New()
	want := e.Shape()

	for _, size := range [][2]int{{100, 100}, {64, 64}, {512, 512}, {80, 130}} {
		d, err := e.Extract(createTestImage(size[0], size[1]))
		require.NoError(t, err)
		assert.Equal(t, want, d.Dims(), "size %v", size)
	}
}

func TestExtractNormalisation(t *testing.T) {
	d, err := New().Extract(createTestImage(100, 100))
	require.NoError(t, err)

	var colorSum float64
	for _, v := range d.Color {
		assert.GreaterOrEqual(t, v, 0.0)
		colorSum += v
	}
	assert.InDelta(t, 1.0, colorSum, 1e-9)

	var edgeSum float64
	for _, v := range d.Shape[:16] {
		edgeSum += v
	}
	assert.InDelta(t, 1.0, edgeSum, 1e-9)

	var norm float64
	for _, v := range d.Embedding {
		norm += v * v
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-9)
}

func TestExtractDeterministic(t *testing.T) {
	e := New()
	img := createTestImage(100, 100)
	a, err := e.Extract(img)
	require.NoError(t, err)
	b, err := e.Extract(img)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestExtractUniformIsUnextractable(t *testing.T) {
	_, err := New().Extract(uniformImage(100, 100))
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrUnextractableImage))
}

func TestExtractNoEdgesIsUnextractable(t *testing.T) {
	// A shallow gradient is not uniform but stays under the edge threshold.
	img := image.NewNRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, color.NRGBA{uint8(100 + x/16), 100, 100, 255})
		}
	}
	_, err := New().Extract(img)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrUnextractableImage))
}

func TestExtractEmptyIsUnextractable(t *testing.T) {
	_, err := New().Extract(image.NewNRGBA(image.Rect(0, 0, 0, 0)))
	assert.True(t, errors.Is(err, types.ErrUnextractableImage))
}

func TestExtractBackendLengthMismatch(t *testing.T) {
	e, err := NewWithConfig(DefaultConfig(), shortBackend{embedding.NewHaar()})
	require.NoError(t, err)

	_, err = e.Extract(createTestImage(100, 100))
	assert.True(t, errors.Is(err, types.ErrDescriptorShapeMismatch))
}

func TestColorHistogramSingleColour(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 10, 10))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = 255, 0, 0, 255
	}
	hist := ColorHistogram(img, 16, 4, 4)
	require.Len(t, hist, 256)

	// Pure red: hue 0, full saturation and value.
	assert.Equal(t, 1.0, hist[(0*4+3)*4+3])
}

func TestEdgeHistogramVerticalEdge(t *testing.T) {
	w, h := 8, 8
	gray := make([]float64, w*h)
	for y := 0; y < h; y++ {
		for x := w / 2; x < w; x++ {
			gray[y*w+x] = 255
		}
	}
	hist, edges := EdgeHistogram(gray, w, h, 16, 40)
	assert.Greater(t, edges, 0)

	// Dark-to-bright from left to right points along +x, angle 0.
	assert.Equal(t, 1.0, hist[8])
}

func TestHuMomentsTranslationInvariant(t *testing.T) {
	w, h := 32, 32
	a := make([]float64, w*h)
	b := make([]float64, w*h)
	for y := 4; y < 12; y++ {
		for x := 4; x < 10; x++ {
			a[y*w+x] = 200
			b[(y+10)*w+x+12] = 200
		}
	}
	ha, hb := HuMoments(a, w, h), HuMoments(b, w, h)
	for i := range ha {
		assert.InDelta(t, ha[i], hb[i], 1e-9)
	}
}

func BenchmarkExtract(b *testing.B) {
	e := New()
	img := createTestImage(100, 100)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = e.Extract(img)
	}
}
