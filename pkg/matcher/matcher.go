// Package matcher ranks reference regions against a piece through a
// colour, shape and embedding funnel.
package matcher

import (
	"cmp"
	"context"
	"fmt"
	"math"
	"slices"
	"sync"

	"github.com/menta2k/piece-locator/pkg/confidence"
	"github.com/menta2k/piece-locator/pkg/reference"
	"github.com/menta2k/piece-locator/pkg/types"
)

// Config holds the survivor fractions of the filtering stages
type Config struct {
	// ColorKeep is the fraction of the pool kept by the colour stage
	ColorKeep float64 `json:"color_keep"`
	// ShapeKeep is the fraction of the original pool kept by the shape stage
	ShapeKeep float64 `json:"shape_keep"`
}

// DefaultConfig returns the default funnel fractions
func DefaultConfig() Config {
	return Config{
		ColorKeep: 0.20,
		ShapeKeep: 0.10,
	}
}

// Validate checks if the configuration is valid
func (c Config) Validate() error {
	if c.ColorKeep < 0 || c.ColorKeep > 1 {
		return fmt.Errorf("matcher.color_keep must be within [0,1], got %g", c.ColorKeep)
	}
	if c.ShapeKeep < 0 || c.ShapeKeep > 1 {
		return fmt.Errorf("matcher.shape_keep must be within [0,1], got %g", c.ShapeKeep)
	}
	return nil
}

// Funnel records how many regions survived each stage for one orientation
type Funnel struct {
	Rotation   types.Rotation `json:"rotation"`
	Pool       int            `json:"pool"`
	AfterColor int            `json:"after_color"`
	AfterShape int            `json:"after_shape"`
}

// Outcome is the full output of a matching run
type Outcome struct {
	Candidates []types.MatchCandidate
	Funnels    []Funnel
}

// Matcher runs the staged funnel. It is safe for concurrent use.
type Matcher struct {
	config Config
	scorer *confidence.Aggregator
}

// New creates a Matcher with default configuration
func New(scorer *confidence.Aggregator) *Matcher {
	return &Matcher{config: DefaultConfig(), scorer: scorer}
}

// NewWithConfig creates a Matcher with custom configuration
func NewWithConfig(config Config, scorer *confidence.Aggregator) (*Matcher, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if scorer == nil {
		return nil, fmt.Errorf("confidence aggregator is required")
	}
	return &Matcher{config: config, scorer: scorer}, nil
}

// Config returns the matcher configuration
func (m *Matcher) Config() Config {
	return m.config
}

// Match returns the scored candidates of every orientation
func (m *Matcher) Match(ctx context.Context, set *reference.Set, oriented []types.OrientedDescriptor) ([]types.MatchCandidate, error) {
	out, err := m.Run(ctx, set, oriented)
	if err != nil {
		return nil, err
	}
	return out.Candidates, nil
}

// Run matches each oriented descriptor against set. Candidates come back
// grouped by orientation in input order, each group in ascending shape
// distance with ties broken by region ID.
func (m *Matcher) Run(ctx context.Context, set *reference.Set, oriented []types.OrientedDescriptor) (Outcome, error) {
	if set == nil {
		return Outcome{}, fmt.Errorf("reference set is required")
	}
	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}
	want := set.Shape()
	for _, o := range oriented {
		if got := o.Descriptor.Dims(); got != want {
			return Outcome{}, fmt.Errorf("%w: piece at %s has %+v, reference %s has %+v",
				types.ErrDescriptorShapeMismatch, o.Rotation, got, set.ID(), want)
		}
	}

	groups := make([][]types.MatchCandidate, len(oriented))
	funnels := make([]Funnel, len(oriented))

	var wg sync.WaitGroup
	for i, o := range oriented {
		wg.Add(1)
		go func() {
			defer wg.Done()
			groups[i], funnels[i] = m.matchOne(set.Entries(), o)
		}()
	}
	wg.Wait()

	var n int
	for _, grp := range groups {
		n += len(grp)
	}
	candidates := make([]types.MatchCandidate, 0, n)
	for _, grp := range groups {
		candidates = append(candidates, grp...)
	}
	return Outcome{Candidates: candidates, Funnels: funnels}, nil
}

type scored struct {
	entry    int
	regionID int
	dist     float64
}

func (m *Matcher) matchOne(entries []reference.Entry, o types.OrientedDescriptor) ([]types.MatchCandidate, Funnel) {
	pool := len(entries)
	funnel := Funnel{Rotation: o.Rotation, Pool: pool}
	piece := o.Descriptor

	// Stage 1: colour
	stage := make([]scored, pool)
	for i, e := range entries {
		stage[i] = scored{entry: i, regionID: e.Region.ID, dist: ChiSquare(piece.Color, e.Descriptor.Color)}
	}
	colorDist := make([]float64, pool)
	for _, s := range stage {
		colorDist[s.entry] = s.dist
	}
	stage = keepClosest(stage, keepCount(m.config.ColorKeep, pool, len(stage)))
	funnel.AfterColor = len(stage)

	// Stage 2: shape, fraction of the original pool
	for i := range stage {
		stage[i].dist = Euclidean(piece.Shape, entries[stage[i].entry].Descriptor.Shape)
	}
	stage = keepClosest(stage, keepCount(m.config.ShapeKeep, pool, len(stage)))
	funnel.AfterShape = len(stage)

	// Stage 3: embedding, scored only
	candidates := make([]types.MatchCandidate, len(stage))
	for i, s := range stage {
		e := entries[s.entry]
		c := types.MatchCandidate{
			Region:         e.Region,
			Rotation:       o.Rotation,
			ColorScore:     m.scorer.ColorSimilarity(colorDist[s.entry]),
			ShapeScore:     m.scorer.ShapeSimilarity(s.dist),
			EmbeddingScore: confidence.Cosine(CosineSimilarity(piece.Embedding, e.Descriptor.Embedding)),
		}
		c.Confidence = m.scorer.Score(c)
		candidates[i] = c
	}
	return candidates, funnel
}

// keepCount is ceil(fraction*pool) capped at the number of survivors. Zero
// means the stage passes everything through.
func keepCount(fraction float64, pool, survivors int) int {
	k := int(math.Ceil(fraction*float64(pool) - 1e-9))
	if k <= 0 || k > survivors {
		return survivors
	}
	return k
}

// keepClosest sorts by ascending distance, ties by region ID, and truncates
func keepClosest(stage []scored, keep int) []scored {
	slices.SortStableFunc(stage, func(a, b scored) int {
		if c := cmp.Compare(a.dist, b.dist); c != 0 {
			return c
		}
		return cmp.Compare(a.regionID, b.regionID)
	})
	return stage[:keep]
}
