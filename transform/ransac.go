package transform

import (
	"context"
	"math"
	"math/rand"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"go.viam.com/registration/utils"
)

// cancelCheckStride is how often the RANSAC loops poll for cancellation.
// Checking every iteration measurably slows the hot loop down.
const cancelCheckStride = 256

// HomographyConfig contains the parameters for robust homography estimation.
type HomographyConfig struct {
	MaxIterations         int     `json:"max_iterations"`
	ReprojectionThreshold float64 `json:"reprojection_threshold_px"`
	Seed                  int64   `json:"seed"`
}

// DefaultHomographyConfig returns the estimation parameters used when none
// are configured.
func DefaultHomographyConfig() *HomographyConfig {
	return &HomographyConfig{
		MaxIterations:         2000,
		ReprojectionThreshold: 9.0,
	}
}

// Validate ensures all parts of the config are valid.
func (cfg *HomographyConfig) Validate(path string) error {
	if cfg.MaxIterations < 1 {
		return goutils.NewConfigValidationError(path, errors.New("max_iterations should be >= 1"))
	}
	if cfg.ReprojectionThreshold <= 0 {
		return goutils.NewConfigValidationError(path, errors.New("reprojection_threshold_px should be positive"))
	}
	return nil
}

// homographyInliers returns the indices of correspondences whose squared
// reprojection error under h is within thresh squared.
func homographyInliers(h *Homography, src, dst []r2.Point, thresh float64) []int {
	threshSq := thresh * thresh
	inliers := make([]int, 0, len(src))
	for i := range src {
		proj := h.Apply(src[i])
		if utils.Square(proj.X-dst[i].X)+utils.Square(proj.Y-dst[i].Y) <= threshSq {
			inliers = append(inliers, i)
		}
	}
	return inliers
}

func selectPoints(pts []r2.Point, indices []int) []r2.Point {
	out := make([]r2.Point, len(indices))
	for i, idx := range indices {
		out[i] = pts[idx]
	}
	return out
}

// EstimateHomographyRANSAC robustly estimates the homography mapping src
// points onto dst points under a high outlier fraction. It returns the
// model and the indices of the final inlier set.
func EstimateHomographyRANSAC(ctx context.Context, src, dst []r2.Point, cfg *HomographyConfig) (*Homography, []int, error) {
	if len(src) != len(dst) {
		return nil, nil, errors.Errorf("point sets must have the same length (%d != %d)", len(src), len(dst))
	}
	if len(src) < 4 {
		return nil, nil, errors.Wrapf(ErrInsufficientData, "homography needs at least 4 correspondences, got %d", len(src))
	}
	n := len(src)
	rng := rand.New(rand.NewSource(cfg.Seed))
	earlyExit := utils.MaxInt(4, int(math.Ceil(0.8*float64(n))))

	var bestModel *Homography
	var bestInliers []int
	for iter := 0; iter < cfg.MaxIterations; iter++ {
		if iter%cancelCheckStride == 0 {
			if err := ctx.Err(); err != nil {
				return nil, nil, err
			}
		}
		sample := utils.SampleNDistinct(4, n, rng)
		h, err := EstimateExactHomography(selectPoints(src, sample), selectPoints(dst, sample))
		if err != nil {
			// degenerate sample, try another
			continue
		}
		inliers := homographyInliers(h, src, dst, cfg.ReprojectionThreshold)
		if len(inliers) > len(bestInliers) {
			bestModel = h
			bestInliers = inliers
			if len(bestInliers) >= earlyExit {
				break
			}
		}
	}
	if bestModel == nil {
		return nil, nil, errors.Wrap(ErrNumericalDegeneracy, "no valid minimal sample found")
	}
	if len(bestInliers) < 4 {
		return nil, nil, errors.Wrapf(ErrGeometricRejection, "only %d inliers", len(bestInliers))
	}

	// refit over the consensus set and re-score
	refit, err := EstimateLeastSquaresHomography(selectPoints(src, bestInliers), selectPoints(dst, bestInliers))
	if err == nil {
		inliers := homographyInliers(refit, src, dst, cfg.ReprojectionThreshold)
		if len(inliers) >= 4 {
			return refit, inliers, nil
		}
	}
	// the refit can degrade on ill-conditioned consensus sets; keep the
	// minimal-sample model in that case
	return bestModel, bestInliers, nil
}
