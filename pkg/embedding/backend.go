// Package embedding defines the deep-feature backend the descriptor
// extractor delegates to, and ships a deterministic built-in backend.
package embedding

import "image"

// Backend turns an image sample into a fixed-length feature vector.
// Every call on the same Backend returns a vector of length Dim().
type Backend interface {
	// Name identifies the backend in persisted descriptor sets.
	Name() string
	// InputSize is the square side the backend resizes samples to.
	InputSize() int
	// Dim is the length of every vector returned by Embed.
	Dim() int
	// Embed returns the raw, un-normalised feature vector.
	Embed(img image.Image) ([]float64, error)
}
