package index

import (
	"context"
	"errors"
	"fmt"

	"pdfchat/internal/models"
)

var (
	ErrEmptyIndex = errors.New("index is empty")
	ErrInvalidK   = errors.New("k must be positive")
	ErrDimension  = errors.New("vector dimension mismatch")
	ErrMismatch   = errors.New("segment and vector counts differ")
)

// Index is an exact L2 nearest neighbour index. Position i of the index
// always refers to segment i.
type Index interface {
	// Build replaces the whole content of the index.
	Build(ctx context.Context, segments []models.Segment, vectors [][]float32) error
	// Search returns at most k neighbours, nearest first. Equal distances
	// keep insertion order.
	Search(ctx context.Context, query []float32, k int) ([]models.Neighbor, error)
	Len() int
}

// CheckBuild validates a build request and returns the vector dimension.
func CheckBuild(segments []models.Segment, vectors [][]float32) (int, error) {
	if len(segments) != len(vectors) {
		return 0, fmt.Errorf("%w: %d segments, %d vectors", ErrMismatch, len(segments), len(vectors))
	}
	if len(vectors) == 0 {
		return 0, nil
	}
	dim := len(vectors[0])
	if dim == 0 {
		return 0, fmt.Errorf("%w: empty vector", ErrDimension)
	}
	for i, v := range vectors {
		if len(v) != dim {
			return 0, fmt.Errorf("%w: vector %d has %d, want %d", ErrDimension, i, len(v), dim)
		}
	}
	return dim, nil
}

// CheckSearch validates a search request against an index of size n and
// dimension dim.
func CheckSearch(n, dim int, query []float32, k int) error {
	if k <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidK, k)
	}
	if n == 0 {
		return ErrEmptyIndex
	}
	if len(query) != dim {
		return fmt.Errorf("%w: query has %d, index has %d", ErrDimension, len(query), dim)
	}
	return nil
}

// SquaredL2 returns the squared euclidean distance of a and b.
func SquaredL2(a, b []float32) float32 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return float32(sum)
}
