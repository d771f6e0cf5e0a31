// Package distance provides the vector arithmetic shared by the index and
// the embedders. Vectors are compared by inner product, which equals cosine
// similarity once both sides are L2-normalized.
package distance

import (
	"math"
	"slices"
)

// Dot calculates the dot product of two vectors.
// Assumes vectors are the same length (caller's responsibility).
func Dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// Norm returns the L2 norm of v.
func Norm(v []float32) float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return float32(math.Sqrt(sum))
}

// NormalizeL2InPlace L2-normalizes v in place.
// Returns false if v has zero L2 norm or contains non-finite values.
func NormalizeL2InPlace(v []float32) bool {
	if len(v) == 0 {
		return false
	}

	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 || math.IsInf(sum, 0) || math.IsNaN(sum) {
		return false
	}

	inv := 1 / math.Sqrt(sum)
	for i := range v {
		v[i] = float32(float64(v[i]) * inv)
	}
	return true
}

// NormalizeL2Copy returns a normalized copy of src.
// Returns false if src has zero L2 norm.
func NormalizeL2Copy(src []float32) ([]float32, bool) {
	dst := slices.Clone(src)
	if !NormalizeL2InPlace(dst) {
		return nil, false
	}
	return dst, true
}

// IsNormalized reports whether v has unit L2 norm within tol.
func IsNormalized(v []float32, tol float32) bool {
	n := Norm(v)
	return n >= 1-tol && n <= 1+tol
}

// CosineDistance returns 1 - a·b for unit vectors a and b.
func CosineDistance(a, b []float32) float32 {
	return 1 - Dot(a, b)
}
