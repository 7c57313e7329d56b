package features

import (
	"context"
	"math"
	"sync"

	"github.com/pkg/errors"

	"go.viam.com/registration/utils"
)

// errAcceleratorUnavailable marks failures of the accelerated backend that
// the matcher recovers from by retrying on the scalar path.
var errAcceleratorUnavailable = errors.New("accelerated matching backend unavailable")

// nearest is the best and second best train index/distance for one query
// descriptor. second is +Inf when the train set has fewer than 2 entries.
type nearest struct {
	index  int
	best   float64
	second float64
}

// matchBackend computes, for every descriptor of the query set, its nearest
// and second nearest neighbor in the train set. Both backends must pick the
// first train index achieving the minimum so their selections are identical.
type matchBackend interface {
	bestMatches(ctx context.Context, query, train *DescriptorSet) ([]nearest, error)
}

// scanNearest runs the brute-force scan of one query descriptor against the
// full train set.
func scanNearest(query *DescriptorSet, i int, train *DescriptorSet) (nearest, error) {
	n := nearest{index: -1, best: math.Inf(1), second: math.Inf(1)}
	if query.IsBinary() {
		q := query.binary[i]
		for j, t := range train.binary {
			d, err := utils.HammingDistance(q, t)
			if err != nil {
				return nearest{}, err
			}
			dist := float64(d)
			switch {
			case dist < n.best:
				n.second = n.best
				n.best = dist
				n.index = j
			case dist < n.second:
				n.second = dist
			}
		}
		return n, nil
	}
	q := query.float[i]
	for j, t := range train.float {
		dist, err := utils.SquaredEuclideanDistance(q, t)
		if err != nil {
			return nearest{}, err
		}
		switch {
		case dist < n.best:
			n.second = n.best
			n.best = dist
			n.index = j
		case dist < n.second:
			n.second = dist
		}
	}
	return n, nil
}

// scalarBackend computes matches sequentially; the inner distance loop over
// the descriptor width is the vectorized kernel in utils.
type scalarBackend struct{}

func (b *scalarBackend) bestMatches(ctx context.Context, query, train *DescriptorSet) ([]nearest, error) {
	out := make([]nearest, query.Len())
	for i := range out {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, err := scanNearest(query, i, train)
		if err != nil {
			return nil, err
		}
		out[i] = n
	}
	return out, nil
}

// parallelBackend is the accelerated path: query indices are fanned out
// across a worker group, one worker range per group, each scanning the full
// opposing set. The worker pool is owned by the backend and wound down when
// each call returns.
type parallelBackend struct {
	workers int
}

func newParallelBackend(workers int) (*parallelBackend, error) {
	if workers < 1 {
		return nil, errors.Wrapf(errAcceleratorUnavailable, "invalid worker count %d", workers)
	}
	return &parallelBackend{workers: workers}, nil
}

func (b *parallelBackend) bestMatches(ctx context.Context, query, train *DescriptorSet) ([]nearest, error) {
	out := make([]nearest, query.Len())
	var scanErrMu sync.Mutex
	var scanErr error
	err := utils.GroupWorkParallel(
		ctx,
		query.Len(),
		func(groupSize int) {},
		func(groupNum, groupSize, from, to int) (utils.MemberWorkFunc, utils.GroupWorkDoneFunc) {
			return func(memberNum, workNum int) {
				n, err := scanNearest(query, workNum, train)
				if err != nil {
					scanErrMu.Lock()
					scanErr = err
					scanErrMu.Unlock()
					return
				}
				out[workNum] = n
			}, nil
		},
	)
	if err != nil {
		// cancellation; do not mask it as an accelerator failure
		return nil, err
	}
	if scanErr != nil {
		return nil, errors.Wrap(errAcceleratorUnavailable, scanErr.Error())
	}
	return out, nil
}
