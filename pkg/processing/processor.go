// Package processing loads, normalises, saves and annotates the images that
// go into and come out of the matching engine.
package processing

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"math"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"

	"github.com/menta2k/piece-locator/internal/utils"
	"github.com/menta2k/piece-locator/pkg/types"
)

// Config holds image processing parameters
type Config struct {
	ReferenceMaxSize  int  `json:"reference_max_size"`
	PieceMaxSize      int  `json:"piece_max_size"`
	ThumbnailSize     int  `json:"thumbnail_size"`
	JPEGQuality       int  `json:"jpeg_quality"`
	IsolateForeground bool `json:"isolate_foreground"`
	// DownloadTimeoutSeconds bounds a whole URL download
	DownloadTimeoutSeconds int   `json:"download_timeout_seconds"`
	MaxDownloadBytes       int64 `json:"max_download_bytes"`
}

// DefaultConfig returns the default processing configuration
func DefaultConfig() Config {
	return Config{
		ReferenceMaxSize:       2048,
		PieceMaxSize:           512,
		ThumbnailSize:          200,
		JPEGQuality:            85,
		DownloadTimeoutSeconds: 30,
		MaxDownloadBytes:       10 << 20,
	}
}

// Validate checks if the configuration is valid
func (c Config) Validate() error {
	if c.ReferenceMaxSize < 0 || c.PieceMaxSize < 0 || c.ThumbnailSize < 0 {
		return fmt.Errorf("processing sizes must not be negative")
	}
	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		return fmt.Errorf("processing.jpeg_quality must be between 1 and 100")
	}
	if c.DownloadTimeoutSeconds <= 0 {
		return fmt.Errorf("processing.download_timeout_seconds must be positive")
	}
	if c.MaxDownloadBytes <= 0 {
		return fmt.Errorf("processing.max_download_bytes must be positive")
	}
	return nil
}

// DownloadTimeout returns the download timeout as a duration
func (c Config) DownloadTimeout() time.Duration {
	return time.Duration(c.DownloadTimeoutSeconds) * time.Second
}

// Processor handles image processing operations
type Processor struct {
	config Config
	client *http.Client
}

// NewProcessor creates a new image processor
func NewProcessor() *Processor {
	p, _ := NewProcessorWithConfig(DefaultConfig())
	return p
}

// NewProcessorWithConfig creates an image processor with custom configuration
func NewProcessorWithConfig(config Config) (*Processor, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Processor{
		config: config,
		client: &http.Client{Timeout: config.DownloadTimeout()},
	}, nil
}

// Config returns the processor configuration
func (p *Processor) Config() Config {
	return p.config
}

// LoadImageFromURL downloads and decodes an image
func (p *Processor) LoadImageFromURL(ctx context.Context, imageURL string) (image.Image, error) {
	parsedURL, err := url.Parse(imageURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return nil, fmt.Errorf("unsupported URL scheme: %s (only http and https are supported)", parsedURL.Scheme)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "Piece-Locator/1.0")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download image: HTTP %d %s", resp.StatusCode, resp.Status)
	}
	contentType := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		return nil, fmt.Errorf("URL does not point to an image (Content-Type: %s)", contentType)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, p.config.MaxDownloadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read image data: %w", err)
	}
	if int64(len(data)) > p.config.MaxDownloadBytes {
		return nil, fmt.Errorf("image exceeds %d bytes", p.config.MaxDownloadBytes)
	}
	return p.DecodeImage(data)
}

// LoadImage loads an image from a file path with WebP support
func (p *Processor) LoadImage(path string) (image.Image, error) {
	if img, err := imaging.Open(path); err == nil {
		return img, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	img, err := p.DecodeImage(data)
	if err != nil {
		return nil, fmt.Errorf("image: unknown format for %s", path)
	}
	return img, nil
}

// LoadImageSmart loads an image from either a file path or URL
func (p *Processor) LoadImageSmart(ctx context.Context, source string) (image.Image, error) {
	if utils.IsURL(source) {
		return p.LoadImageFromURL(ctx, source)
	}
	return p.LoadImage(source)
}

// DecodeImage decodes image bytes in any registered format, falling back to
// the libwebp decoder
func (p *Processor) DecodeImage(data []byte) (image.Image, error) {
	if img, _, err := image.Decode(bytes.NewReader(data)); err == nil {
		return img, nil
	}
	if img, err := webp.Decode(bytes.NewReader(data)); err == nil {
		return img, nil
	}
	return nil, fmt.Errorf("image: unknown or unsupported format")
}

// SaveImage saves an image to a file with the specified format and quality
func (p *Processor) SaveImage(img image.Image, path, format string, quality int, lossless bool) error {
	if quality <= 0 {
		quality = p.config.JPEGQuality
	}
	switch strings.ToLower(format) {
	case "webp":
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		opts := &webp.Options{Lossless: lossless, Quality: float32(quality)}
		return webp.Encode(f, img, opts)
	case "png":
		return imaging.Save(img, path, imaging.PNGCompressionLevel(png.BestCompression))
	default: // jpg/jpeg
		return imaging.Save(img, path, imaging.JPEGQuality(quality))
	}
}

// PrepareReference converts a reference image to NRGBA, scaling it down so
// its long side does not exceed ReferenceMaxSize
func (p *Processor) PrepareReference(img image.Image) *image.NRGBA {
	return fitWithin(img, p.config.ReferenceMaxSize)
}

// PreparePiece converts a piece photo to NRGBA, scales it down to
// PieceMaxSize and, when configured, blacks out the background
func (p *Processor) PreparePiece(img image.Image) *image.NRGBA {
	out := fitWithin(img, p.config.PieceMaxSize)
	if p.config.IsolateForeground {
		out = IsolateForeground(out)
	}
	return out
}

// Thumbnail scales img to fit a ThumbnailSize square
func (p *Processor) Thumbnail(img image.Image) *image.NRGBA {
	return imaging.Fit(img, p.config.ThumbnailSize, p.config.ThumbnailSize, imaging.Lanczos)
}

// DrawMatchOverlay returns a copy of the reference with the best match boxed
// in green and alternatives in gold
func (p *Processor) DrawMatchOverlay(reference image.Image, result types.MatchResult) *image.NRGBA {
	nrgba := imaging.Clone(reference)
	w := nrgba.Bounds().Dx()
	h := nrgba.Bounds().Dy()

	green := color.NRGBA{0, 255, 0, 255}
	gold := color.NRGBA{255, 204, 0, 255}
	red := color.NRGBA{255, 0, 0, 255}
	stroke := int(math.Max(2, 0.004*float64(min(w, h))))
	cross := int(math.Max(4, 0.01*float64(min(w, h))))

	for _, alt := range result.Alternatives {
		drawBox(nrgba, alt.Region.Rect(), gold, max(1, stroke/2))
	}
	drawBox(nrgba, result.Best.Region.Rect(), green, stroke)

	cx, cy := result.Best.Region.Center()
	drawHLine(nrgba, cy, cx-cross, cx+cross, red)
	drawVLine(nrgba, cx, cy-cross, cy+cross, red)

	return nrgba
}

func fitWithin(img image.Image, maxDim int) *image.NRGBA {
	b := img.Bounds()
	if maxDim > 0 && (b.Dx() > maxDim || b.Dy() > maxDim) {
		return imaging.Fit(img, maxDim, maxDim, imaging.Lanczos)
	}
	return imaging.Clone(img)
}

func drawBox(img *image.NRGBA, r image.Rectangle, c color.NRGBA, stroke int) {
	r = r.Intersect(img.Bounds())
	if r.Empty() {
		return
	}
	for s := 0; s < stroke; s++ {
		drawHLine(img, r.Min.Y+s, r.Min.X, r.Max.X, c)
		drawHLine(img, r.Max.Y-1-s, r.Min.X, r.Max.X, c)
		drawVLine(img, r.Min.X+s, r.Min.Y, r.Max.Y, c)
		drawVLine(img, r.Max.X-1-s, r.Min.Y, r.Max.Y, c)
	}
}

func drawHLine(img *image.NRGBA, y, x0, x1 int, c color.NRGBA) {
	if y < 0 || y >= img.Bounds().Dy() {
		return
	}
	if x0 > x1 {
		x0, x1 = x1, x0
	}
	x0 = max(x0, 0)
	x1 = min(x1, img.Bounds().Dx())
	if x0 >= x1 {
		return
	}
	i := y*img.Stride + x0*4
	for x := x0; x < x1; x++ {
		img.Pix[i+0] = c.R
		img.Pix[i+1] = c.G
		img.Pix[i+2] = c.B
		img.Pix[i+3] = c.A
		i += 4
	}
}

func drawVLine(img *image.NRGBA, x, y0, y1 int, c color.NRGBA) {
	if x < 0 || x >= img.Bounds().Dx() {
		return
	}
	if y0 > y1 {
		y0, y1 = y1, y0
	}
	y0 = max(y0, 0)
	y1 = min(y1, img.Bounds().Dy())
	if y0 >= y1 {
		return
	}
	i := y0*img.Stride + x*4
	for y := y0; y < y1; y++ {
		img.Pix[i+0] = c.R
		img.Pix[i+1] = c.G
		img.Pix[i+2] = c.B
		img.Pix[i+3] = c.A
		i += img.Stride
	}
}
