package utils

import (
	"context"
	"math/rand"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"
)

func TestHammingDistance(t *testing.T) {
	d, err := HammingDistance([]uint64{0x00, 0xFF}, []uint64{0x0F, 0xF0})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, d, test.ShouldEqual, 8)

	d, err = HammingDistance([]uint64{0x01}, []uint64{0x01})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, d, test.ShouldEqual, 0)

	_, err = HammingDistance([]uint64{0x01}, []uint64{0x01, 0x02})
	test.That(t, err, test.ShouldNotBeNil)
}

func TestSquaredEuclideanDistance(t *testing.T) {
	d, err := SquaredEuclideanDistance([]float64{1, 2}, []float64{4, 6})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, d, test.ShouldAlmostEqual, 25, 1e-12)

	_, err = SquaredEuclideanDistance([]float64{1}, []float64{1, 2})
	test.That(t, err, test.ShouldNotBeNil)
}

func TestSampleNDistinct(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	sample := SampleNDistinct(4, 4, rng)
	test.That(t, sample, test.ShouldHaveLength, 4)
	seen := map[int]bool{}
	for _, v := range sample {
		test.That(t, v, test.ShouldBeGreaterThanOrEqualTo, 0)
		test.That(t, v, test.ShouldBeLessThan, 4)
		test.That(t, seen[v], test.ShouldBeFalse)
		seen[v] = true
	}
	test.That(t, func() { SampleNDistinct(5, 4, rng) }, test.ShouldPanic)
}

func TestGroupWorkParallel(t *testing.T) {
	// every item runs exactly once, including when there is less work than
	// workers
	for _, totalSize := range []int{1, 3, ParallelFactor, 4*ParallelFactor + 3} {
		var mu sync.Mutex
		ran := map[int]int{}
		err := GroupWorkParallel(context.Background(), totalSize,
			func(groupSize int) {},
			func(groupNum, groupSize, from, to int) (MemberWorkFunc, GroupWorkDoneFunc) {
				return func(memberNum, workNum int) {
					mu.Lock()
					ran[workNum]++
					mu.Unlock()
				}, nil
			})
		test.That(t, err, test.ShouldBeNil)
		test.That(t, ran, test.ShouldHaveLength, totalSize)
		for i := 0; i < totalSize; i++ {
			test.That(t, ran[i], test.ShouldEqual, 1)
		}
	}
}

func TestGroupWorkParallelCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ran := 0
	err := GroupWorkParallel(ctx, 100,
		func(groupSize int) {},
		func(groupNum, groupSize, from, to int) (MemberWorkFunc, GroupWorkDoneFunc) {
			return func(memberNum, workNum int) { ran++ }, nil
		})
	test.That(t, err, test.ShouldBeError, context.Canceled)
	test.That(t, ran, test.ShouldEqual, 0)
}

func TestRunInParallel(t *testing.T) {
	var mu sync.Mutex
	count := 0
	bump := func(ctx context.Context) error {
		mu.Lock()
		count++
		mu.Unlock()
		return nil
	}
	err := RunInParallel(context.Background(), []SimpleFunc{bump, bump, bump})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, count, test.ShouldEqual, 3)

	boom := errors.New("boom")
	err = RunInParallel(context.Background(), []SimpleFunc{
		bump,
		func(ctx context.Context) error { return boom },
	})
	test.That(t, errors.Is(err, boom), test.ShouldBeTrue)

	err = RunInParallel(context.Background(), []SimpleFunc{
		func(ctx context.Context) error { panic("kaboom") },
	})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "kaboom")
}
