package processing

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/piece-locator/pkg/types"
)

// createTestImage creates a test image with a gradient
func createTestImage(width, height int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetNRGBA(x, y, color.NRGBA{uint8(x * 255 / width), uint8(y * 255 / height), 128, 255})
		}
	}
	return img
}

// createPieceImage creates a bright square on a dark background with one
// bright speck of noise
func createPieceImage() *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, 100, 100))
	for y := 0; y < 100; y++ {
		for x := 0; x < 100; x++ {
			img.SetNRGBA(x, y, color.NRGBA{20, 20, 20, 255})
		}
	}
	for y := 30; y < 70; y++ {
		for x := 30; x < 70; x++ {
			img.SetNRGBA(x, y, color.NRGBA{200, 180, 60, 255})
		}
	}
	img.SetNRGBA(5, 5, color.NRGBA{250, 250, 250, 255})
	return img
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, 2048, cfg.ReferenceMaxSize)
	assert.Equal(t, 200, cfg.ThumbnailSize)

	cfg.JPEGQuality = 0
	_, err := NewProcessorWithConfig(cfg)
	assert.Error(t, err)
}

func TestSaveAndLoadImage(t *testing.T) {
	p := NewProcessor()
	dir := t.TempDir()
	img := createTestImage(64, 48)

	for _, format := range []string{"png", "jpg", "webp"} {
		t.Run(format, func(t *testing.T) {
			path := filepath.Join(dir, "out."+format)
			require.NoError(t, p.SaveImage(img, path, format, 90, false))

			loaded, err := p.LoadImage(path)
			require.NoError(t, err)
			assert.Equal(t, 64, loaded.Bounds().Dx())
			assert.Equal(t, 48, loaded.Bounds().Dy())
		})
	}
}

func TestLoadImageMissing(t *testing.T) {
	_, err := NewProcessor().LoadImage(filepath.Join(t.TempDir(), "missing.png"))
	assert.Error(t, err)
}

func TestLoadImageFromURL(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, createTestImage(32, 32)))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/piece.png":
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write(buf.Bytes())
		case "/page":
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte("<html></html>"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	p := NewProcessor()
	ctx := context.Background()

	img, err := p.LoadImageSmart(ctx, srv.URL+"/piece.png")
	require.NoError(t, err)
	assert.Equal(t, 32, img.Bounds().Dx())

	_, err = p.LoadImageFromURL(ctx, srv.URL+"/page")
	assert.Error(t, err)

	_, err = p.LoadImageFromURL(ctx, srv.URL+"/missing")
	assert.Error(t, err)

	_, err = p.LoadImageFromURL(ctx, "ftp://example.com/a.png")
	assert.Error(t, err)

	cfg := DefaultConfig()
	cfg.MaxDownloadBytes = 16
	small, err := NewProcessorWithConfig(cfg)
	require.NoError(t, err)
	_, err = small.LoadImageFromURL(ctx, srv.URL+"/piece.png")
	assert.Error(t, err)
}

func TestPrepareReference(t *testing.T) {
	p := NewProcessor()

	out := p.PrepareReference(createTestImage(4096, 1024))
	assert.Equal(t, image.Rect(0, 0, 2048, 512), out.Bounds())

	out = p.PrepareReference(createTestImage(300, 200))
	assert.Equal(t, image.Rect(0, 0, 300, 200), out.Bounds())
}

func TestPreparePiece(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PieceMaxSize = 50
	cfg.IsolateForeground = true
	p, err := NewProcessorWithConfig(cfg)
	require.NoError(t, err)

	out := p.PreparePiece(createPieceImage())
	assert.Equal(t, image.Rect(0, 0, 50, 50), out.Bounds())
	assert.Equal(t, color.NRGBA{0, 0, 0, 255}, out.NRGBAAt(0, 0))
}

func TestThumbnail(t *testing.T) {
	out := NewProcessor().Thumbnail(createTestImage(800, 400))
	assert.Equal(t, image.Rect(0, 0, 200, 100), out.Bounds())
}

func TestOtsuThreshold(t *testing.T) {
	gray := make([]uint8, 0, 200)
	for i := 0; i < 100; i++ {
		gray = append(gray, 20, 200)
	}
	th := OtsuThreshold(gray)
	assert.GreaterOrEqual(t, th, uint8(20))
	assert.Less(t, th, uint8(200))

	assert.Equal(t, uint8(0), OtsuThreshold(nil))
}

func TestIsolateForeground(t *testing.T) {
	out := IsolateForeground(createPieceImage())

	assert.Equal(t, color.NRGBA{200, 180, 60, 255}, out.NRGBAAt(50, 50), "piece kept")
	assert.Equal(t, color.NRGBA{200, 180, 60, 255}, out.NRGBAAt(30, 30), "corner kept")
	assert.Equal(t, color.NRGBA{0, 0, 0, 255}, out.NRGBAAt(5, 5), "speck removed")
	assert.Equal(t, color.NRGBA{0, 0, 0, 255}, out.NRGBAAt(90, 10), "background cleared")
}

func TestDrawMatchOverlay(t *testing.T) {
	ref := createTestImage(400, 300)
	result := types.MatchResult{
		Best: types.MatchCandidate{Region: types.Region{ID: 0, X: 100, Y: 50, Width: 100, Height: 100}},
		Alternatives: []types.MatchCandidate{
			{Region: types.Region{ID: 1, X: 250, Y: 150, Width: 100, Height: 100}},
		},
	}
	out := NewProcessor().DrawMatchOverlay(ref, result)

	assert.Equal(t, color.NRGBA{0, 255, 0, 255}, out.NRGBAAt(100, 50))
	assert.Equal(t, color.NRGBA{0, 255, 0, 255}, out.NRGBAAt(199, 149))
	assert.Equal(t, color.NRGBA{255, 204, 0, 255}, out.NRGBAAt(250, 150))
	assert.Equal(t, color.NRGBA{255, 0, 0, 255}, out.NRGBAAt(150, 100))
	// the input is left untouched
	assert.Equal(t, ref.NRGBAAt(100, 50), createTestImage(400, 300).NRGBAAt(100, 50))
}
