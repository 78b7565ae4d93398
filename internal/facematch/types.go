// Package facematch provides the face-vector primitives shared by the matching engine,
// the persistence backends and the HTTP surface.
package facematch

import (
	"errors"
	"fmt"
	"math"
)

// ErrDimensionMismatch is returned when two feature vectors of unequal length are compared.
// It signals a configuration defect (mixed embedding models), never a failed match.
var ErrDimensionMismatch = errors.New("feature vector dimension mismatch")

// FeatureVector is a fixed-length face embedding produced by an external extractor.
type FeatureVector []float32

// Dim returns the dimensionality of the vector.
func (v FeatureVector) Dim() int {
	return len(v)
}

// Clone returns a copy that does not share the backing array.
func (v FeatureVector) Clone() FeatureVector {
	if v == nil {
		return nil
	}
	out := make(FeatureVector, len(v))
	copy(out, v)
	return out
}

// Distance computes the Euclidean distance between two vectors.
func Distance(a, b FeatureVector) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", ErrDimensionMismatch, len(a), len(b))
	}
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum), nil
}

// Within reports whether b lies within tolerance of a.
func Within(a, b FeatureVector, tolerance float64) (bool, float64, error) {
	d, err := Distance(a, b)
	if err != nil {
		return false, 0, err
	}
	return d <= tolerance, d, nil
}
