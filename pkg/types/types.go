package types

import (
	"encoding/json"
	"image"
)

// Region is one fixed-size candidate placement window on the reference image.
// Coordinates are reference-image pixels; ID is the row-major grid index.
type Region struct {
	ID     int `json:"region_id"`
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Rect returns the region as an image.Rectangle
func (r Region) Rect() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.Width, r.Y+r.Height)
}

// Center returns the center point of the region
func (r Region) Center() (int, int) {
	return r.X + r.Width/2, r.Y + r.Height/2
}

// Area returns the area of the region
func (r Region) Area() int {
	return r.Width * r.Height
}

// Contains reports whether the pixel (x, y) lies inside the region
func (r Region) Contains(x, y int) bool {
	return x >= r.X && x < r.X+r.Width && y >= r.Y && y < r.Y+r.Height
}

// Descriptor is the multi-modal feature representation of one image sample.
// Descriptors produced by the same extractor configuration always have the
// same vector lengths.
type Descriptor struct {
	Color     []float64 `json:"color_histogram"`
	Shape     []float64 `json:"shape_signature"`
	Embedding []float64 `json:"embedding"`
}

// DescriptorShape holds the three vector lengths of a Descriptor
type DescriptorShape struct {
	Color     int `json:"color"`
	Shape     int `json:"shape"`
	Embedding int `json:"embedding"`
}

// Dims returns the vector lengths of the descriptor
func (d Descriptor) Dims() DescriptorShape {
	return DescriptorShape{
		Color:     len(d.Color),
		Shape:     len(d.Shape),
		Embedding: len(d.Embedding),
	}
}

// OrientedDescriptor is a piece descriptor computed at one rotation
type OrientedDescriptor struct {
	Rotation   Rotation
	Descriptor Descriptor
}

// MatchCandidate is the scoring record for one (region, rotation) pair.
// Scores are similarities in [0,1]; Confidence is in [0,100].
type MatchCandidate struct {
	Region         Region   `json:"location"`
	Rotation       Rotation `json:"rotation_needed"`
	ColorScore     float64  `json:"color_score"`
	ShapeScore     float64  `json:"shape_score"`
	EmbeddingScore float64  `json:"embedding_score"`
	Confidence     float64  `json:"confidence"`
	Description    string   `json:"description,omitempty"`
}

// Warning flags a result whose best confidence is under a disclosure threshold
type Warning int

const (
	WarningNone Warning = iota
	WarningLowConfidence
	WarningNoConfidentMatch
)

func (w Warning) String() string {
	switch w {
	case WarningLowConfidence:
		return "low_confidence"
	case WarningNoConfidentMatch:
		return "no_confident_match"
	default:
		return ""
	}
}

// MarshalJSON encodes the warning as its string form, or null when absent
func (w Warning) MarshalJSON() ([]byte, error) {
	if w == WarningNone {
		return []byte("null"), nil
	}
	return json.Marshal(w.String())
}

// MatchResult is the ranked outcome of matching one piece against a reference
type MatchResult struct {
	Best         MatchCandidate   `json:"best"`
	Alternatives []MatchCandidate `json:"alternatives"`
	Warning      Warning          `json:"warning"`
}
