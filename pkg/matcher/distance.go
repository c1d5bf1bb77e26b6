package matcher

import (
	"gonum.org/v1/gonum/floats"
)

// ChiSquare returns the symmetric chi-square distance of two histograms,
// 0.5 * sum((a-b)^2 / (a+b)) over bins where a+b > 0. For L1-normalised
// histograms the result lies in [0,1].
func ChiSquare(a, b []float64) float64 {
	var d float64
	for i := range a {
		s := a[i] + b[i]
		if s <= 0 {
			continue
		}
		diff := a[i] - b[i]
		d += diff * diff / s
	}
	return 0.5 * d
}

// Euclidean returns the L2 distance of two vectors
func Euclidean(a, b []float64) float64 {
	return floats.Distance(a, b, 2)
}

// CosineSimilarity returns the cosine of the angle between two vectors.
// Zero vectors have similarity 0.
func CosineSimilarity(a, b []float64) float64 {
	na, nb := floats.Norm(a, 2), floats.Norm(b, 2)
	if na == 0 || nb == 0 {
		return 0
	}
	return floats.Dot(a, b) / (na * nb)
}
