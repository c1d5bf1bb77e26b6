package reference

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	"runtime"
	"time"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/menta2k/piece-locator/pkg/features"
	"github.com/menta2k/piece-locator/pkg/grid"
	"github.com/menta2k/piece-locator/pkg/types"
)

// Builder turns a reference image into a Set
type Builder struct {
	grid      grid.Config
	extractor *features.Extractor
	workers   int
	logger    zerolog.Logger
}

// NewBuilder creates a Builder. workers <= 0 uses one worker per CPU.
func NewBuilder(gridConfig grid.Config, extractor *features.Extractor, workers int, logger zerolog.Logger) *Builder {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Builder{
		grid:      gridConfig,
		extractor: extractor,
		workers:   workers,
		logger:    logger,
	}
}

// Build decomposes img into grid regions and extracts one descriptor per
// region. Regions whose sample is degenerate are skipped; when every region
// is degenerate the call fails with types.ErrUnextractableImage.
func (b *Builder) Build(ctx context.Context, img image.Image) (*Set, error) {
	start := time.Now()
	src := imaging.Clone(img)
	width, height := src.Bounds().Dx(), src.Bounds().Dy()

	regions, err := grid.Build(width, height, b.grid)
	if err != nil {
		return nil, err
	}

	descriptors := make([]types.Descriptor, len(regions))
	usable := make([]bool, len(regions))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.workers)
	for i, r := range regions {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			d, err := b.extractor.Extract(imaging.Crop(src, r.Rect()))
			if errors.Is(err, types.ErrUnextractableImage) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("region %d at (%d,%d): %w", r.ID, r.X, r.Y, err)
			}
			descriptors[i] = d
			usable[i] = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(regions))
	for i, r := range regions {
		if usable[i] {
			entries = append(entries, Entry{Region: r, Descriptor: descriptors[i]})
		}
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: all %d regions are degenerate", types.ErrUnextractableImage, len(regions))
	}

	fp := FingerprintNRGBA(src)
	set, err := NewSet(Meta{
		ID:          IDFromFingerprint(fp),
		Fingerprint: fp,
		Width:       width,
		Height:      height,
		Grid:        b.grid,
		Backend:     b.extractor.Backend().Name(),
		Shape:       b.extractor.Shape(),
	}, regions, entries)
	if err != nil {
		return nil, err
	}

	b.logger.Info().
		Str("reference_id", set.ID().String()).
		Int("regions", len(regions)).
		Int("skipped", len(regions)-len(entries)).
		Dur("took", time.Since(start)).
		Msg("reference built")
	return set, nil
}

// Fingerprint returns the hex SHA-256 of the image dimensions and its
// non-premultiplied RGBA pixels.
func Fingerprint(img image.Image) string {
	return FingerprintNRGBA(imaging.Clone(img))
}

// FingerprintNRGBA is Fingerprint for an image already in NRGBA form
func FingerprintNRGBA(img *image.NRGBA) string {
	h := sha256.New()
	b := img.Bounds()
	var dims [8]byte
	binary.BigEndian.PutUint32(dims[0:4], uint32(b.Dx()))
	binary.BigEndian.PutUint32(dims[4:8], uint32(b.Dy()))
	h.Write(dims[:])
	rowLen := b.Dx() * 4
	for y := 0; y < b.Dy(); y++ {
		off := y * img.Stride
		h.Write(img.Pix[off : off+rowLen])
	}
	return hex.EncodeToString(h.Sum(nil))
}
