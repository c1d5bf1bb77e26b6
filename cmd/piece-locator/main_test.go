package main

import (
	"context"
	"image"
	"image/color"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	piecelocator "github.com/menta2k/piece-locator"
	"github.com/menta2k/piece-locator/internal/config"
	"github.com/menta2k/piece-locator/pkg/reference"
	"github.com/menta2k/piece-locator/pkg/store"
	"github.com/menta2k/piece-locator/pkg/types"
)

// createTestImage creates a mosaic of 10px tiles with pseudo-random colours
func createTestImage(width, height int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	state := uint32(99)
	cols := (width + 9) / 10
	tiles := make([]color.NRGBA, cols*((height+9)/10))
	for i := range tiles {
		state = state*1664525 + 1013904223
		tiles[i] = color.NRGBA{uint8(state >> 24), uint8(state >> 16), uint8(state >> 8), 255}
	}
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetNRGBA(x, y, tiles[(y/10)*cols+x/10])
		}
	}
	return img
}

// writeConfig saves cfg with a file store under dir and returns its path
func writeConfig(t *testing.T, dir, name string, cfg *config.Config) string {
	t.Helper()
	cfg.Store.Backend = "file"
	cfg.Store.Dir = filepath.Join(dir, "refsets")
	cfg.Log.Level = "error"
	cfg.Log.Pretty = false
	path := filepath.Join(dir, name)
	require.NoError(t, cfg.SaveToFile(path))
	return path
}

func TestReferenceRebuiltAfterConfigChange(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	refPath := filepath.Join(dir, "puzzle.png")
	require.NoError(t, imaging.Save(createTestImage(400, 300), refPath))

	first := config.Default()
	a, err := newApp(ctx, writeConfig(t, dir, "first.json", first), "", "")
	require.NoError(t, err)
	_, built, err := a.loadReference(ctx, refPath)
	require.NoError(t, err)
	assert.Equal(t, 50, built.Meta().Grid.Stride)

	second := config.Default()
	second.Grid.Stride = 100
	second.Features.HueBins = 8
	b, err := newApp(ctx, writeConfig(t, dir, "second.json", second), "", "")
	require.NoError(t, err)
	ref, set, err := b.loadReference(ctx, refPath)
	require.NoError(t, err)

	assert.Equal(t, second.Grid, set.Meta().Grid)
	assert.Equal(t, 8*second.Features.SatBins*second.Features.ValBins, set.Shape().Color)
	assert.Len(t, set.Regions(), 4*3)
	require.NoError(t, b.engine.Compatible(set))

	// The store now holds the rebuilt set.
	fs, err := store.NewFileStore(second.Store.Dir)
	require.NoError(t, err)
	stored, err := fs.Load(ctx, set.Fingerprint())
	require.NoError(t, err)
	assert.Equal(t, set.Meta(), stored.Meta())

	result, err := b.matchPiece(ctx, ref, set, imaging.Crop(ref, image.Rect(100, 100, 200, 200)))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(100, 100, 200, 200), result.Best.Region.Rect())
}

func TestStoredReferenceReused(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	refPath := filepath.Join(dir, "puzzle.png")
	require.NoError(t, imaging.Save(createTestImage(300, 200), refPath))
	cfgPath := writeConfig(t, dir, "config.json", config.Default())

	a, err := newApp(ctx, cfgPath, "", "")
	require.NoError(t, err)
	_, built, err := a.loadReference(ctx, refPath)
	require.NoError(t, err)

	b, err := newApp(ctx, cfgPath, "", "")
	require.NoError(t, err)
	_, loaded, err := b.loadReference(ctx, refPath)
	require.NoError(t, err)
	assert.Equal(t, built.Meta(), loaded.Meta())

	cached, ok := b.engine.Cache().Get(built.Fingerprint())
	require.True(t, ok)
	assert.Same(t, loaded, cached)
}

func TestMatchPieceRebuildsIncompatibleSet(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	ref := createTestImage(300, 200)

	other := config.Default()
	other.Features.HueBins = 8
	oldEngine, err := piecelocator.NewWithConfig(*other)
	require.NoError(t, err)
	stale, err := oldEngine.BuildReference(ctx, ref)
	require.NoError(t, err)

	a, err := newApp(ctx, writeConfig(t, dir, "config.json", config.Default()), "", "")
	require.NoError(t, err)
	assert.ErrorIs(t, a.engine.Compatible(stale), types.ErrDescriptorShapeMismatch)

	result, err := a.matchPiece(ctx, ref, stale, imaging.Crop(ref, image.Rect(50, 50, 150, 150)))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(50, 50, 150, 150), result.Best.Region.Rect())

	rebuilt, ok := a.engine.Cache().Get(reference.FingerprintNRGBA(ref))
	require.True(t, ok)
	assert.NoError(t, a.engine.Compatible(rebuilt))
}

func TestCheckSource(t *testing.T) {
	assert.NoError(t, checkSource("ref", "puzzle.JPG"))
	assert.NoError(t, checkSource("piece", "https://example.com/piece"))
	assert.Error(t, checkSource("piece", "notes.txt"))
	assert.Error(t, checkSource("ref", "scan"))
}
