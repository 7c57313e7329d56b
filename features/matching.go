package features

import (
	"context"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"

	"go.viam.com/registration/utils"
)

const (
	// DefaultBinaryRatio is the Lowe ratio threshold for binary descriptors.
	DefaultBinaryRatio = 0.85
	// DefaultFloatRatio is the Lowe ratio threshold for float descriptors.
	DefaultFloatRatio = 0.75
)

// MatchingConfig contains the parameters for matching descriptors.
type MatchingConfig struct {
	DoCrossCheck   bool    `json:"do_cross_check"`
	RatioThreshold float64 `json:"ratio_threshold"`
	MaxDist        int     `json:"max_dist"` // binary descriptors only; 0 disables
}

// DescriptorMatch contains the index of a match in the first and second set
// of descriptors, and their distance.
type DescriptorMatch struct {
	Idx1     int
	Idx2     int
	Distance float64
}

// Matcher matches two descriptor sets. It tries the accelerated backend
// first and falls back to the scalar path when the accelerated one cannot
// initialize or execute.
type Matcher struct {
	accelerated matchBackend
	scalar      matchBackend
	logger      golog.Logger
}

// NewMatcher returns a matcher bound to a logger. Accelerated backend
// initialization failure is not fatal; the matcher then runs scalar only.
func NewMatcher(logger golog.Logger) *Matcher {
	m := &Matcher{scalar: &scalarBackend{}, logger: logger}
	accel, err := newParallelBackend(utils.ParallelFactor)
	if err != nil {
		logger.Debugw("accelerated matching backend unavailable, using scalar path", "error", err)
		return m
	}
	m.accelerated = accel
	return m
}

func (m *Matcher) bestMatches(ctx context.Context, query, train *DescriptorSet) ([]nearest, error) {
	if m.accelerated != nil {
		res, err := m.accelerated.bestMatches(ctx, query, train)
		if err == nil {
			return res, nil
		}
		if !errors.Is(err, errAcceleratorUnavailable) {
			return nil, err
		}
		m.logger.Warnw("accelerated matching failed, retrying on scalar path", "error", err)
	}
	return m.scalar.bestMatches(ctx, query, train)
}

// ratioPasses applies the Lowe criterion. An undefined second best
// (train set smaller than 2, second is +Inf) always passes; equal best and
// second best never do.
func ratioPasses(n nearest, threshold float64) bool {
	return n.best < threshold*n.second
}

// Match takes 2 sets of descriptors and performs cross-checked, ratio-tested
// matching. Matches are returned sorted by increasing distance. Empty inputs
// yield an empty match list.
func (m *Matcher) Match(ctx context.Context, desc1, desc2 *DescriptorSet, cfg *MatchingConfig) ([]DescriptorMatch, error) {
	if desc1 == nil || desc2 == nil {
		return nil, errors.New("descriptor sets cannot be nil")
	}
	if desc1.Len() == 0 || desc2.Len() == 0 {
		return []DescriptorMatch{}, nil
	}
	if !desc1.sameFamily(desc2) {
		return nil, errors.New("cannot match descriptors of different families")
	}
	if desc1.Width() != desc2.Width() {
		return nil, errors.Errorf("descriptor widths must match (%d != %d)", desc1.Width(), desc2.Width())
	}
	ratio := cfg.RatioThreshold
	if ratio <= 0 {
		if desc1.IsBinary() {
			ratio = DefaultBinaryRatio
		} else {
			ratio = DefaultFloatRatio
		}
	}

	fwd, err := m.bestMatches(ctx, desc1, desc2)
	if err != nil {
		return nil, err
	}
	var rev []nearest
	if cfg.DoCrossCheck {
		rev, err = m.bestMatches(ctx, desc2, desc1)
		if err != nil {
			return nil, err
		}
	}

	idx1 := make([]int, 0, desc1.Len())
	idx2 := make([]int, 0, desc1.Len())
	for i, n := range fwd {
		if !ratioPasses(n, ratio) {
			continue
		}
		if cfg.DoCrossCheck {
			back := rev[n.index]
			if back.index != i || !ratioPasses(back, ratio) {
				continue
			}
		}
		if cfg.MaxDist > 0 && desc1.IsBinary() && n.best > float64(cfg.MaxDist) {
			continue
		}
		idx1 = append(idx1, i)
		idx2 = append(idx2, n.index)
	}

	// sort selected pairs by distance
	dists := make([]float64, len(idx1))
	for i := range dists {
		dists[i] = fwd[idx1[i]].best
	}
	sortedIndices := make([]int, len(idx1))
	floats.Argsort(dists, sortedIndices)
	matches := make([]DescriptorMatch, len(idx1))
	for i, idx := range sortedIndices {
		matches[i] = DescriptorMatch{idx1[idx], idx2[idx], dists[i]}
	}
	return matches, nil
}

// MatchDescriptors takes 2 sets of descriptors and performs matching with a
// one-shot matcher.
func MatchDescriptors(
	ctx context.Context,
	desc1, desc2 *DescriptorSet,
	cfg *MatchingConfig,
	logger golog.Logger,
) ([]DescriptorMatch, error) {
	return NewMatcher(logger).Match(ctx, desc1, desc2, cfg)
}

// MatchedKeyPoints takes the matches and the keypoints of both images and
// returns the two corresponding keypoint slices, index-aligned with the
// match list.
func MatchedKeyPoints(matches []DescriptorMatch, kps1, kps2 KeyPoints) (KeyPoints, KeyPoints, error) {
	matchedKps1 := make(KeyPoints, len(matches))
	matchedKps2 := make(KeyPoints, len(matches))
	for i, match := range matches {
		if match.Idx1 < 0 || match.Idx1 >= len(kps1) {
			return nil, nil, errors.Errorf("match %d references keypoint %d outside first set", i, match.Idx1)
		}
		if match.Idx2 < 0 || match.Idx2 >= len(kps2) {
			return nil, nil, errors.Errorf("match %d references keypoint %d outside second set", i, match.Idx2)
		}
		matchedKps1[i] = kps1[match.Idx1]
		matchedKps2[i] = kps2[match.Idx2]
	}
	return matchedKps1, matchedKps2, nil
}
