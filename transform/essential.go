package transform

import (
	"context"
	"math/rand"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/registration/utils"
)

// cheirality acceptance floor: the winning candidate must explain at least
// max(cheiralityMinCount, cheiralityMinFraction of the inliers). The
// classical strict-majority test proved too brittle on real imagery.
const (
	cheiralityMinCount    = 5
	cheiralityMinFraction = 0.1
)

// EssentialConfig contains the parameters for robust essential matrix
// estimation.
type EssentialConfig struct {
	MaxIterations    int     `json:"max_iterations"`
	SampsonThreshold float64 `json:"sampson_threshold_px"`
	MinInliers       int     `json:"min_inliers"`
	Seed             int64   `json:"seed"`
}

// DefaultEssentialConfig returns the estimation parameters used when none
// are configured.
func DefaultEssentialConfig() *EssentialConfig {
	return &EssentialConfig{
		MaxIterations:    2000,
		SampsonThreshold: 2.0,
		MinInliers:       12,
	}
}

// Validate ensures all parts of the config are valid.
func (cfg *EssentialConfig) Validate(path string) error {
	if cfg.MaxIterations < 1 {
		return goutils.NewConfigValidationError(path, errors.New("max_iterations should be >= 1"))
	}
	if cfg.SampsonThreshold <= 0 {
		return goutils.NewConfigValidationError(path, errors.New("sampson_threshold_px should be positive"))
	}
	if cfg.MinInliers < 8 {
		return goutils.NewConfigValidationError(path, errors.New("min_inliers should be >= 8"))
	}
	return nil
}

// EssentialEstimate is the output of the robust essential matrix
// estimation: the rank-2 essential matrix, the disambiguated relative pose,
// the inlier indices and the cheirality count of the winning candidate.
type EssentialEstimate struct {
	Essential       *mat.Dense
	Pose            *CamPose
	Inliers         []int
	CheiralityCount int
}

// computeEssentialMatrix solves the linear 8-point system over the given
// calibrated correspondences: one 9-column row per correspondence, essential
// matrix from the right singular vector of the smallest singular value.
func computeEssentialMatrix(pts1, pts2 []r2.Point) (*mat.Dense, error) {
	nPoints := len(pts1)
	if nPoints < 8 {
		return nil, errors.Wrapf(ErrInsufficientData, "8-point algorithm needs at least 8 correspondences, got %d", nPoints)
	}
	m := mat.NewDense(nPoints, 9, nil)
	for i := range pts1 {
		v1 := pts1[i]
		v2 := pts2[i]
		m.SetRow(i, []float64{
			v2.X * v1.X, v2.X * v1.Y, v2.X,
			v2.Y * v1.X, v2.Y * v1.Y, v2.Y,
			v1.X, v1.Y, 1,
		})
	}
	mats := performSVD(m)
	if mats == nil {
		return nil, errors.Wrap(ErrNumericalDegeneracy, "failed to factorize 8-point system")
	}
	lastCol := mats.V.ColView(8)
	data := make([]float64, 9)
	for i := range data {
		data[i] = lastCol.AtVec(i)
	}
	return mat.NewDense(3, 3, data), nil
}

// EnforceRankTwo projects a candidate essential matrix onto the essential
// manifold, replacing its singular values with (s, s, 0) where s is the
// mean of the two largest.
func EnforceRankTwo(essMat *mat.Dense) (*mat.Dense, error) {
	mats := performSVD(essMat)
	if mats == nil {
		return nil, errors.Wrap(ErrNumericalDegeneracy, "failed to factorize essential matrix")
	}
	s := (mats.Values[0] + mats.Values[1]) / 2.
	S := mat.NewDense(3, 3, nil)
	S.Set(0, 0, s)
	S.Set(1, 1, s)
	var out mat.Dense
	out.Mul(mats.U, S)
	out.Mul(&out, mats.VT)
	return &out, nil
}

// sampsonDistance computes the first-order approximation of the geometric
// error of a calibrated correspondence under E.
func sampsonDistance(essMat *mat.Dense, p1, p2 r2.Point) float64 {
	x1 := mat.NewVecDense(3, []float64{p1.X, p1.Y, 1})
	x2 := mat.NewVecDense(3, []float64{p2.X, p2.Y, 1})
	var ex1, etx2 mat.VecDense
	ex1.MulVec(essMat, x1)
	etx2.MulVec(essMat.T(), x2)
	num := mat.Dot(x2, &ex1)
	den := utils.Square(ex1.AtVec(0)) + utils.Square(ex1.AtVec(1)) +
		utils.Square(etx2.AtVec(0)) + utils.Square(etx2.AtVec(1))
	if den == 0 {
		return 0
	}
	return num * num / den
}

// essentialInliers returns the indices of correspondences with Sampson
// distance within threshSq.
func essentialInliers(essMat *mat.Dense, pts1, pts2 []r2.Point, threshSq float64) []int {
	inliers := make([]int, 0, len(pts1))
	for i := range pts1 {
		if sampsonDistance(essMat, pts1[i], pts2[i]) <= threshSq {
			inliers = append(inliers, i)
		}
	}
	return inliers
}

// toHomogeneous converts 2D calibrated coordinates to homogeneous 3D
// coordinates.
func toHomogeneous(pts []r2.Point) []r3.Vector {
	out := make([]r3.Vector, len(pts))
	for i, pt := range pts {
		out[i] = r3.Vector{X: pt.X, Y: pt.Y, Z: 1}
	}
	return out
}

// EstimateEssentialRANSAC robustly estimates the essential matrix relating
// two calibrated views and disambiguates the relative pose through the
// cheirality check. Image points are premultiplied by the inverse camera
// matrices; the Sampson threshold is normalized by the average focal
// length.
func EstimateEssentialRANSAC(
	ctx context.Context,
	pts1, pts2 []r2.Point,
	k1, k2 *PinholeCameraIntrinsics,
	cfg *EssentialConfig,
) (*EssentialEstimate, error) {
	if len(pts1) != len(pts2) {
		return nil, errors.Errorf("point sets must have the same length (%d != %d)", len(pts1), len(pts2))
	}
	if len(pts1) < 8 {
		return nil, errors.Wrapf(ErrInsufficientData, "essential matrix needs at least 8 correspondences, got %d", len(pts1))
	}
	if err := k1.CheckValid(); err != nil {
		return nil, err
	}
	if err := k2.CheckValid(); err != nil {
		return nil, err
	}

	norm1 := k1.NormalizePoints(pts1)
	norm2 := k2.NormalizePoints(pts2)
	avgFocal := (k1.Fx + k1.Fy + k2.Fx + k2.Fy) / 4.
	threshNorm := cfg.SampsonThreshold / avgFocal
	threshSq := threshNorm * threshNorm

	n := len(norm1)
	rng := rand.New(rand.NewSource(cfg.Seed))

	var bestInliers []int
	for iter := 0; iter < cfg.MaxIterations; iter++ {
		if iter%cancelCheckStride == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		sample := utils.SampleNDistinct(8, n, rng)
		candidate, err := computeEssentialMatrix(selectPoints(norm1, sample), selectPoints(norm2, sample))
		if err != nil {
			continue
		}
		candidate, err = EnforceRankTwo(candidate)
		if err != nil {
			continue
		}
		inliers := essentialInliers(candidate, norm1, norm2, threshSq)
		if len(inliers) > len(bestInliers) {
			bestInliers = inliers
		}
	}
	if len(bestInliers) < 8 {
		return nil, errors.Wrapf(ErrGeometricRejection, "only %d inliers", len(bestInliers))
	}

	// re-estimate from the full consensus set, not just the minimal sample
	essMat, err := computeEssentialMatrix(selectPoints(norm1, bestInliers), selectPoints(norm2, bestInliers))
	if err != nil {
		return nil, err
	}
	essMat, err = EnforceRankTwo(essMat)
	if err != nil {
		return nil, err
	}
	inliers := essentialInliers(essMat, norm1, norm2, threshSq)
	if len(inliers) < cfg.MinInliers {
		return nil, errors.Wrapf(ErrGeometricRejection, "%d inliers below the minimum of %d", len(inliers), cfg.MinInliers)
	}

	poses, err := GetPossibleCameraPoses(essMat)
	if err != nil {
		return nil, err
	}
	pts1H := toHomogeneous(selectPoints(norm1, inliers))
	pts2H := toHomogeneous(selectPoints(norm2, inliers))
	pose, count := GetCorrectCameraPose(poses, pts1H, pts2H)
	floor := utils.MaxInt(cheiralityMinCount, int(cheiralityMinFraction*float64(len(inliers))))
	if count < floor {
		return nil, errors.Wrapf(ErrGeometricRejection,
			"cheirality count %d below floor %d for %d inliers", count, floor, len(inliers))
	}

	return &EssentialEstimate{
		Essential:       essMat,
		Pose:            NewCamPoseFromMat(pose),
		Inliers:         inliers,
		CheiralityCount: count,
	}, nil
}
