// Package orientation extracts a piece descriptor under each of the four
// clockwise rotations.
package orientation

import (
	"context"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	"golang.org/x/sync/errgroup"

	"github.com/menta2k/piece-locator/pkg/features"
	"github.com/menta2k/piece-locator/pkg/types"
)

// Searcher produces the oriented descriptors of a piece
type Searcher struct {
	extractor *features.Extractor
}

// NewSearcher creates a Searcher using extractor
func NewSearcher(extractor *features.Extractor) *Searcher {
	return &Searcher{extractor: extractor}
}

// Search returns one descriptor per rotation in the order 0, 90, 180, 270.
// The rotation recorded with each descriptor is the clockwise turn applied
// to the piece, which is the turn it needs to fit. If any orientation cannot
// be extracted the whole call fails.
func (s *Searcher) Search(ctx context.Context, img image.Image) ([types.NumRotations]types.OrientedDescriptor, error) {
	var out [types.NumRotations]types.OrientedDescriptor
	if err := ctx.Err(); err != nil {
		return out, err
	}

	src := imaging.Clone(img)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(types.NumRotations)
	for i, rot := range types.AllRotations() {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			d, err := s.extractor.Extract(Rotate(src, rot))
			if err != nil {
				return fmt.Errorf("orientation %s: %w", rot, err)
			}
			out[i] = types.OrientedDescriptor{Rotation: rot, Descriptor: d}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return [types.NumRotations]types.OrientedDescriptor{}, err
	}
	return out, nil
}

// Rotate turns img clockwise by rot
func Rotate(img image.Image, rot types.Rotation) *image.NRGBA {
	// imaging rotates counter-clockwise
	switch rot {
	case types.Rotate90:
		return imaging.Rotate270(img)
	case types.Rotate180:
		return imaging.Rotate180(img)
	case types.Rotate270:
		return imaging.Rotate90(img)
	default:
		return imaging.Clone(img)
	}
}
