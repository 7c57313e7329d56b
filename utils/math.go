package utils

import (
	"math/rand"
)

// Square is faster than math.Pow(x, 2).
func Square(n float64) float64 {
	return n * n
}

// MaxInt returns the larger of a and b.
func MaxInt(a, b int) int {
	if a < b {
		return b
	}
	return a
}

// MinInt returns the smaller of a and b.
func MinInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// SampleRandomIntRange samples a random integer within a range given by [min, max]
// using the given rand.Rand.
func SampleRandomIntRange(min, max int, r *rand.Rand) int {
	return r.Intn(max-min+1) + min
}

// SampleNDistinct samples n distinct integers in [0, max) using the given
// rand.Rand. It panics if n > max, matching rand.Perm semantics.
func SampleNDistinct(n, max int, r *rand.Rand) []int {
	if n > max {
		panic("cannot sample more distinct integers than the range holds")
	}
	seen := make(map[int]bool, n)
	out := make([]int, 0, n)
	for len(out) < n {
		v := r.Intn(max)
		if seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
