// Package confidence turns per-modality similarities into a confidence score
// and ranks match candidates into a result.
package confidence

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/menta2k/piece-locator/pkg/types"
)

// ErrNoCandidates is returned when there is nothing to rank
var ErrNoCandidates = errors.New("no match candidates")

// Config holds the scoring weights and disclosure thresholds
type Config struct {
	ColorWeight          float64 `json:"color_weight"`
	ShapeWeight          float64 `json:"shape_weight"`
	EmbeddingWeight      float64 `json:"embedding_weight"`
	AlternativeThreshold float64 `json:"alternative_threshold"`
	NoMatchThreshold     float64 `json:"no_match_threshold"`
	MaxAlternatives      int     `json:"max_alternatives"` // 0 means unlimited
	ColorScale           float64 `json:"color_scale"`
	ShapeScale           float64 `json:"shape_scale"`
}

// DefaultConfig returns the default scoring configuration
func DefaultConfig() Config {
	return Config{
		ColorWeight:          0.25,
		ShapeWeight:          0.25,
		EmbeddingWeight:      0.50,
		AlternativeThreshold: 80,
		NoMatchThreshold:     40,
		MaxAlternatives:      5,
		ColorScale:           1,
		ShapeScale:           1,
	}
}

// Validate checks if the configuration is valid
func (c Config) Validate() error {
	if c.ColorWeight < 0 || c.ShapeWeight < 0 || c.EmbeddingWeight < 0 {
		return fmt.Errorf("confidence weights must not be negative")
	}
	if sum := c.ColorWeight + c.ShapeWeight + c.EmbeddingWeight; math.Abs(sum-1) > 1e-9 {
		return fmt.Errorf("confidence weights must sum to 1, got %g", sum)
	}
	if c.NoMatchThreshold < 0 || c.AlternativeThreshold > 100 || c.NoMatchThreshold > c.AlternativeThreshold {
		return fmt.Errorf("confidence thresholds must satisfy 0 <= no_match (%g) <= alternative (%g) <= 100",
			c.NoMatchThreshold, c.AlternativeThreshold)
	}
	if c.MaxAlternatives < 0 {
		return fmt.Errorf("confidence.max_alternatives must not be negative")
	}
	if c.ColorScale <= 0 || c.ShapeScale <= 0 {
		return fmt.Errorf("confidence distance scales must be positive")
	}
	return nil
}

// Aggregator scores and ranks candidates. It is stateless and safe for
// concurrent use.
type Aggregator struct {
	config Config
}

// New creates an Aggregator with default configuration
func New() *Aggregator {
	return &Aggregator{config: DefaultConfig()}
}

// NewWithConfig creates an Aggregator with custom configuration
func NewWithConfig(config Config) (*Aggregator, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Aggregator{config: config}, nil
}

// Config returns the aggregator configuration
func (a *Aggregator) Config() Config {
	return a.config
}

// Similarity maps a non-negative distance to (0,1]. Zero distance gives 1
// and the value halves when distance equals scale.
func Similarity(distance, scale float64) float64 {
	if math.IsNaN(distance) || distance < 0 {
		distance = 0
	}
	return clamp01(1 / (1 + distance/scale))
}

// Cosine clamps a cosine similarity to [0,1]
func Cosine(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return clamp01(v)
}

// ColorSimilarity converts a colour histogram distance with the configured scale
func (a *Aggregator) ColorSimilarity(distance float64) float64 {
	return Similarity(distance, a.config.ColorScale)
}

// ShapeSimilarity converts a shape signature distance with the configured scale
func (a *Aggregator) ShapeSimilarity(distance float64) float64 {
	return Similarity(distance, a.config.ShapeScale)
}

// Score returns the weighted confidence of c in [0,100]
func (a *Aggregator) Score(c types.MatchCandidate) float64 {
	s := a.config.ColorWeight*c.ColorScore +
		a.config.ShapeWeight*c.ShapeScore +
		a.config.EmbeddingWeight*c.EmbeddingScore
	return 100 * clamp01(s)
}

// Aggregate picks the best candidate, collects confident alternatives and
// sets the warning. Candidate confidences are recomputed with Score.
func (a *Aggregator) Aggregate(candidates []types.MatchCandidate, width, height int) (types.MatchResult, error) {
	if len(candidates) == 0 {
		return types.MatchResult{}, ErrNoCandidates
	}

	ranked := make([]types.MatchCandidate, len(candidates))
	for i, c := range candidates {
		c.Confidence = a.Score(c)
		ranked[i] = c
	}
	sort.SliceStable(ranked, func(i, j int) bool { return better(ranked[i], ranked[j]) })

	best := ranked[0]
	best.Description = Describe(best.Region, best.Rotation, width, height)
	result := types.MatchResult{Best: best, Alternatives: []types.MatchCandidate{}}

	switch {
	case best.Confidence < a.config.NoMatchThreshold:
		result.Warning = types.WarningNoConfidentMatch
		return result, nil
	case best.Confidence < a.config.AlternativeThreshold:
		result.Warning = types.WarningLowConfidence
	}

	seen := map[int]bool{best.Region.ID: true}
	for _, c := range ranked[1:] {
		if c.Confidence <= a.config.AlternativeThreshold {
			break
		}
		if seen[c.Region.ID] {
			continue
		}
		seen[c.Region.ID] = true
		c.Description = Describe(c.Region, c.Rotation, width, height)
		result.Alternatives = append(result.Alternatives, c)
		if a.config.MaxAlternatives > 0 && len(result.Alternatives) == a.config.MaxAlternatives {
			break
		}
	}
	return result, nil
}

// better orders by confidence descending, then region ID, then rotation
func better(x, y types.MatchCandidate) bool {
	if x.Confidence != y.Confidence {
		return x.Confidence > y.Confidence
	}
	if x.Region.ID != y.Region.ID {
		return x.Region.ID < y.Region.ID
	}
	return x.Rotation < y.Rotation
}

// Describe names where a region sits on the reference image and the turn
// the piece needs, e.g. "Upper-left quadrant, rotated 90° clockwise".
func Describe(region types.Region, rotation types.Rotation, width, height int) string {
	h := "center"
	switch {
	case float64(region.X) < float64(width)*0.33:
		h = "left"
	case float64(region.X) >= float64(width)*0.67:
		h = "right"
	}
	v := "middle"
	switch {
	case float64(region.Y) < float64(height)*0.33:
		v = "upper"
	case float64(region.Y) >= float64(height)*0.67:
		v = "lower"
	}

	var position string
	switch {
	case v == "middle" && h == "center":
		position = "Center area"
	case v == "middle":
		position = capitalize(h) + " side"
	case h == "center":
		position = capitalize(v) + " area"
	default:
		position = capitalize(v) + "-" + h + " quadrant"
	}

	switch rotation {
	case types.Rotate90:
		return position + ", rotated 90° clockwise"
	case types.Rotate180:
		return position + ", rotated 180°"
	case types.Rotate270:
		return position + ", rotated 90° counter-clockwise"
	}
	return position
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
