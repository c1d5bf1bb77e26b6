// Package piecelocator finds where a photographed jigsaw piece belongs in
// the picture of the assembled puzzle.
//
// A reference image is decomposed once into overlapping square regions, each
// described by a colour histogram, a shape signature and an embedding. A
// piece is described at all four quarter-turn rotations and run through a
// colour, shape and embedding funnel against those regions. The result names
// the best region, the clockwise rotation the piece needs, a confidence in
// [0,100] and up to five confident alternatives.
//
// Basic usage:
//
//	engine, err := piecelocator.New()
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	set, err := engine.BuildReference(ctx, puzzle)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	result, err := engine.MatchPiece(ctx, piece, set)
//	if err != nil {
//		log.Fatal(err)
//	}
//	fmt.Printf("%s (%.0f%%)\n", result.Best.Description, result.Best.Confidence)
//
// A built reference set is immutable and may be shared by any number of
// concurrent MatchPiece calls. The engine keeps built sets in an in-memory
// cache keyed by image content; pkg/store persists them across restarts.
package piecelocator

import (
	"context"
	"fmt"
	"image"
	"time"

	"github.com/rs/zerolog"

	"github.com/menta2k/piece-locator/internal/config"
	"github.com/menta2k/piece-locator/pkg/confidence"
	"github.com/menta2k/piece-locator/pkg/embedding"
	"github.com/menta2k/piece-locator/pkg/features"
	"github.com/menta2k/piece-locator/pkg/matcher"
	"github.com/menta2k/piece-locator/pkg/orientation"
	"github.com/menta2k/piece-locator/pkg/reference"
	"github.com/menta2k/piece-locator/pkg/types"
)

// Version of the piece locator library
const Version = "1.0.0"

// Engine ties the pipeline stages together. It is safe for concurrent use.
type Engine struct {
	config    config.Config
	logger    zerolog.Logger
	extractor *features.Extractor
	builder   *reference.Builder
	cache     *reference.Cache
	searcher  *orientation.Searcher
	matcher   *matcher.Matcher
	scorer    *confidence.Aggregator
}

type options struct {
	logger  zerolog.Logger
	backend embedding.Backend
}

// Option customises an Engine
type Option func(*options)

// WithLogger sets the engine logger. The default discards everything.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithBackend replaces the embedding backend built from the configuration
func WithBackend(backend embedding.Backend) Option {
	return func(o *options) { o.backend = backend }
}

// New creates an Engine with default configuration
func New(opts ...Option) (*Engine, error) {
	return NewWithConfig(*config.Default(), opts...)
}

// NewWithConfig creates an Engine with custom configuration
func NewWithConfig(cfg config.Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	o := options{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.backend == nil {
		haar, err := embedding.NewHaarWithConfig(cfg.Embedding)
		if err != nil {
			return nil, err
		}
		o.backend = haar
	}

	extractor, err := features.NewWithConfig(cfg.Features, o.backend)
	if err != nil {
		return nil, err
	}
	scorer, err := confidence.NewWithConfig(cfg.Confidence)
	if err != nil {
		return nil, err
	}
	m, err := matcher.NewWithConfig(cfg.Matcher, scorer)
	if err != nil {
		return nil, err
	}
	builder := reference.NewBuilder(cfg.Grid, extractor, cfg.Workers, o.logger)

	return &Engine{
		config:    cfg,
		logger:    o.logger,
		extractor: extractor,
		builder:   builder,
		cache:     reference.NewCache(builder, o.logger),
		searcher:  orientation.NewSearcher(extractor),
		matcher:   m,
		scorer:    scorer,
	}, nil
}

// Config returns the engine configuration
func (e *Engine) Config() config.Config {
	return e.config
}

// Cache returns the in-memory set cache used by BuildReference
func (e *Engine) Cache() *reference.Cache {
	return e.cache
}

// BuildReference returns the descriptor set of a reference image, building
// it on first use. Identical images share one set.
func (e *Engine) BuildReference(ctx context.Context, img image.Image) (*reference.Set, error) {
	return e.cache.GetOrBuild(ctx, img)
}

// Compatible reports whether set was built with the engine's grid geometry,
// descriptor shape and embedding backend. A mismatch wraps
// types.ErrDescriptorShapeMismatch; rebuild the set from its reference image.
func (e *Engine) Compatible(set *reference.Set) error {
	if set == nil {
		return fmt.Errorf("reference set is required")
	}
	meta := set.Meta()
	if want := e.extractor.Backend().Name(); meta.Backend != want {
		return fmt.Errorf("%w: reference %s was built with backend %s, engine uses %s",
			types.ErrDescriptorShapeMismatch, meta.ID, meta.Backend, want)
	}
	if want := e.extractor.Shape(); meta.Shape != want {
		return fmt.Errorf("%w: reference %s has %+v, engine extracts %+v",
			types.ErrDescriptorShapeMismatch, meta.ID, meta.Shape, want)
	}
	if meta.Grid != e.config.Grid {
		return fmt.Errorf("%w: reference %s uses grid %+v, engine uses %+v",
			types.ErrDescriptorShapeMismatch, meta.ID, meta.Grid, e.config.Grid)
	}
	return nil
}

// MatchPiece locates piece on the reference described by set. It fails with
// types.ErrUnextractableImage when any rotation of the piece is degenerate
// and with types.ErrDescriptorShapeMismatch when set was built by an
// incompatible extractor.
func (e *Engine) MatchPiece(ctx context.Context, piece image.Image, set *reference.Set) (types.MatchResult, error) {
	if set == nil {
		return types.MatchResult{}, fmt.Errorf("reference set is required")
	}
	if got, want := set.Backend(), e.extractor.Backend().Name(); got != want {
		return types.MatchResult{}, fmt.Errorf("%w: reference %s was built with backend %s, engine uses %s",
			types.ErrDescriptorShapeMismatch, set.ID(), got, want)
	}
	start := time.Now()

	oriented, err := e.searcher.Search(ctx, piece)
	if err != nil {
		return types.MatchResult{}, err
	}

	out, err := e.matcher.Run(ctx, set, oriented[:])
	if err != nil {
		return types.MatchResult{}, err
	}
	for _, f := range out.Funnels {
		e.logger.Debug().
			Str("rotation", f.Rotation.String()).
			Int("pool", f.Pool).
			Int("after_color", f.AfterColor).
			Int("after_shape", f.AfterShape).
			Msg("funnel")
	}

	w, h := set.Size()
	result, err := e.scorer.Aggregate(out.Candidates, w, h)
	if err != nil {
		return types.MatchResult{}, err
	}

	ev := e.logger.Info().
		Str("reference_id", set.ID().String()).
		Int("region_id", result.Best.Region.ID).
		Int("rotation", result.Best.Rotation.Degrees()).
		Float64("confidence", result.Best.Confidence).
		Int("alternatives", len(result.Alternatives)).
		Dur("took", time.Since(start))
	if result.Warning != types.WarningNone {
		ev = ev.Str("warning", result.Warning.String())
	}
	ev.Msg("piece matched")

	return result, nil
}
