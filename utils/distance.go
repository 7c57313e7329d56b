// Package utils contains small numeric and concurrency helpers shared by the
// registration packages.
package utils

import (
	"math/bits"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
)

// HammingDistance computes the hamming distance between two bit-packed
// binary vectors.
func HammingDistance(p1, p2 []uint64) (int, error) {
	if len(p1) != len(p2) {
		return -1, errors.Errorf("descriptor word lengths must match (%d != %d)", len(p1), len(p2))
	}
	distance := 0
	for i := range p1 {
		distance += bits.OnesCount64(p1[i] ^ p2[i])
	}
	return distance, nil
}

// SquaredEuclideanDistance computes the squared euclidean distance between
// 2 float vectors.
func SquaredEuclideanDistance(p1, p2 []float64) (float64, error) {
	if len(p1) != len(p2) {
		return -1, errors.Errorf("vectors must have same length (%d != %d)", len(p1), len(p2))
	}
	diff := make([]float64, len(p1))
	floats.SubTo(diff, p1, p2)
	// squared diff vector
	floats.Mul(diff, diff)
	// sum squared components
	return floats.Sum(diff), nil
}
