package matcher

import (
	"context"
	"errors"
	"image"
	"image/color"
	"sync"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/piece-locator/pkg/confidence"
	"github.com/menta2k/piece-locator/pkg/features"
	"github.com/menta2k/piece-locator/pkg/grid"
	"github.com/menta2k/piece-locator/pkg/orientation"
	"github.com/menta2k/piece-locator/pkg/reference"
	"github.com/menta2k/piece-locator/pkg/types"
)

// createTestImage creates a mosaic of 10px tiles with pseudo-random colours
func createTestImage(width, height int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	state := uint32(42)
	next := func() uint8 {
		state = state*1664525 + 1013904223
		return uint8(state >> 24)
	}
	cols := (width + 9) / 10
	tiles := make([]color.NRGBA, cols*((height+9)/10))
	for i := range tiles {
		tiles[i] = color.NRGBA{next(), next(), next(), 255}
	}
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetNRGBA(x, y, tiles[(y/10)*cols+x/10])
		}
	}
	return img
}

func buildSet(t testing.TB, img image.Image) *reference.Set {
	t.Helper()
	b := reference.NewBuilder(grid.DefaultConfig(), features.New(), 0, zerolog.Nop())
	set, err := b.Build(context.Background(), img)
	require.NoError(t, err)
	return set
}

func search(t testing.TB, img image.Image) []types.OrientedDescriptor {
	t.Helper()
	out, err := orientation.NewSearcher(features.New()).Search(context.Background(), img)
	require.NoError(t, err)
	return out[:]
}

func TestChiSquare(t *testing.T) {
	a := []float64{0.5, 0.5, 0, 0}
	b := []float64{0, 0, 0.5, 0.5}
	assert.Equal(t, 0.0, ChiSquare(a, a))
	assert.InDelta(t, 1.0, ChiSquare(a, b), 1e-12)
	assert.Equal(t, ChiSquare(a, b), ChiSquare(b, a))
	assert.Equal(t, 0.0, ChiSquare([]float64{0, 0}, []float64{0, 0}))
}

func TestEuclideanAndCosine(t *testing.T) {
	assert.InDelta(t, 5.0, Euclidean([]float64{0, 0}, []float64{3, 4}), 1e-12)
	assert.InDelta(t, 1.0, CosineSimilarity([]float64{1, 2}, []float64{2, 4}), 1e-12)
	assert.InDelta(t, 0.0, CosineSimilarity([]float64{1, 0}, []float64{0, 1}), 1e-12)
	assert.InDelta(t, -1.0, CosineSimilarity([]float64{1, 0}, []float64{-1, 0}), 1e-12)
	assert.Equal(t, 0.0, CosineSimilarity([]float64{0, 0}, []float64{1, 0}))
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
	assert.Error(t, Config{ColorKeep: 1.5, ShapeKeep: 0.1}.Validate())
	assert.Error(t, Config{ColorKeep: 0.2, ShapeKeep: -0.1}.Validate())

	_, err := NewWithConfig(DefaultConfig(), nil)
	assert.Error(t, err)
}

func TestKeepCount(t *testing.T) {
	assert.Equal(t, 240, keepCount(0.20, 1200, 1200))
	assert.Equal(t, 120, keepCount(0.10, 1200, 240))
	assert.Equal(t, 1, keepCount(0.10, 3, 3))
	assert.Equal(t, 2, keepCount(0.9, 10, 2), "never more than the survivors")
	assert.Equal(t, 7, keepCount(0, 10, 7), "zero passes through")
}

func TestRunFindsExactRegion(t *testing.T) {
	img := createTestImage(400, 300)
	set := buildSet(t, img)
	region := set.Regions()[9] // row 1, column 2 of a 7x5 grid
	require.Equal(t, image.Pt(100, 50), region.Rect().Min)

	piece := imaging.Crop(img, region.Rect())
	out, err := New(confidence.New()).Run(context.Background(), set, search(t, piece))
	require.NoError(t, err)
	require.Len(t, out.Funnels, types.NumRotations)

	var best types.MatchCandidate
	for _, c := range out.Candidates {
		assert.GreaterOrEqual(t, c.Confidence, 0.0)
		assert.LessOrEqual(t, c.Confidence, 100.0)
		if c.Confidence > best.Confidence {
			best = c
		}
	}
	assert.Equal(t, region, best.Region)
	assert.Equal(t, types.Rotate0, best.Rotation)
	assert.InDelta(t, 100.0, best.Confidence, 1e-6)
}

func TestRunFunnelCounts(t *testing.T) {
	img := createTestImage(400, 300)
	set := buildSet(t, img)
	pool := set.Len()
	require.Equal(t, 35, pool)

	out, err := New(confidence.New()).Run(context.Background(), set, search(t, imaging.Crop(img, image.Rect(20, 20, 120, 120))))
	require.NoError(t, err)

	wantColor, wantShape := 7, 4 // ceil(0.2*35), ceil(0.1*35)
	for i, f := range out.Funnels {
		assert.Equal(t, types.AllRotations()[i], f.Rotation)
		assert.Equal(t, pool, f.Pool)
		assert.Equal(t, wantColor, f.AfterColor)
		assert.Equal(t, wantShape, f.AfterShape)
		assert.LessOrEqual(t, f.AfterShape, f.AfterColor)
		assert.LessOrEqual(t, f.AfterColor, f.Pool)
	}
	assert.Len(t, out.Candidates, wantShape*types.NumRotations)
}

func TestRunPassThrough(t *testing.T) {
	img := createTestImage(300, 200)
	set := buildSet(t, img)

	m, err := NewWithConfig(Config{ColorKeep: 0, ShapeKeep: 0}, confidence.New())
	require.NoError(t, err)
	out, err := m.Run(context.Background(), set, search(t, imaging.Crop(img, image.Rect(0, 0, 100, 100))))
	require.NoError(t, err)

	for _, f := range out.Funnels {
		assert.Equal(t, f.Pool, f.AfterColor)
		assert.Equal(t, f.Pool, f.AfterShape)
	}
}

func TestRunDeterministic(t *testing.T) {
	img := createTestImage(400, 300)
	set := buildSet(t, img)
	oriented := search(t, imaging.Crop(img, image.Rect(130, 70, 230, 170)))

	m := New(confidence.New())
	a, err := m.Match(context.Background(), set, oriented)
	require.NoError(t, err)
	b, err := m.Match(context.Background(), set, oriented)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestRunShapeMismatch(t *testing.T) {
	img := createTestImage(300, 200)
	set := buildSet(t, img)
	oriented := search(t, imaging.Crop(img, image.Rect(0, 0, 100, 100)))
	oriented[2].Descriptor.Color = oriented[2].Descriptor.Color[:10]

	_, err := New(confidence.New()).Match(context.Background(), set, oriented)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrDescriptorShapeMismatch))
}

func TestRunCancelled(t *testing.T) {
	img := createTestImage(300, 200)
	set := buildSet(t, img)
	oriented := search(t, imaging.Crop(img, image.Rect(0, 0, 100, 100)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(confidence.New()).Match(ctx, set, oriented)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunConcurrentCallsAgree(t *testing.T) {
	puzzle := createTestImage(400, 300)
	set := buildSet(t, puzzle)
	oriented := search(t, imaging.Crop(puzzle, image.Rect(150, 100, 250, 200)))
	m := New(confidence.New())

	want, err := m.Run(context.Background(), set, oriented)
	require.NoError(t, err)
	require.Len(t, want.Funnels, types.NumRotations)

	var wg sync.WaitGroup
	outcomes := make([]Outcome, 6)
	for i := range outcomes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := m.Run(context.Background(), set, oriented)
			assert.NoError(t, err)
			outcomes[i] = out
		}()
	}
	wg.Wait()

	for _, out := range outcomes {
		assert.Equal(t, want, out)
	}
}

func BenchmarkMatch(b *testing.B) {
	img := createTestImage(1000, 800)
	set := buildSet(b, img)
	oriented := search(b, imaging.Crop(img, image.Rect(300, 200, 400, 300)))
	m := New(confidence.New())

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = m.Match(context.Background(), set, oriented)
	}
}
