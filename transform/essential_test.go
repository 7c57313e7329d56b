package transform

import (
	"context"
	"math"
	"math/rand"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"
)

var testIntrinsics = &PinholeCameraIntrinsics{
	Width:  640,
	Height: 480,
	Fx:     800,
	Fy:     800,
	Ppx:    320,
	Ppy:    240,
}

// testRig is a synthetic calibrated two-view rig with a known relative pose
// and 3D points in front of both cameras.
type testRig struct {
	rotation    *mat.Dense
	translation r3.Vector
	pts1, pts2  []r2.Point // pixel coordinates
}

func newTestRig(n int, seed int64) *testRig {
	angle := 5. * math.Pi / 180.
	c, s := math.Cos(angle), math.Sin(angle)
	rot := mat.NewDense(3, 3, []float64{
		c, 0, s,
		0, 1, 0,
		-s, 0, c,
	})
	tVec := r3.Vector{X: 0.7, Y: 0.1, Z: 0.1}.Normalize()

	rng := rand.New(rand.NewSource(seed))
	rig := &testRig{rotation: rot, translation: tVec}
	for len(rig.pts1) < n {
		pt := r3.Vector{
			X: rng.Float64()*4 - 2,
			Y: rng.Float64()*3 - 1.5,
			Z: rng.Float64()*4 + 4,
		}
		// point in the second camera frame
		pt2 := r3.Vector{
			X: rot.At(0, 0)*pt.X + rot.At(0, 1)*pt.Y + rot.At(0, 2)*pt.Z + tVec.X,
			Y: rot.At(1, 0)*pt.X + rot.At(1, 1)*pt.Y + rot.At(1, 2)*pt.Z + tVec.Y,
			Z: rot.At(2, 0)*pt.X + rot.At(2, 1)*pt.Y + rot.At(2, 2)*pt.Z + tVec.Z,
		}
		if pt2.Z <= 0 {
			continue
		}
		rig.pts1 = append(rig.pts1, r2.Point{
			X: testIntrinsics.Fx*pt.X/pt.Z + testIntrinsics.Ppx,
			Y: testIntrinsics.Fy*pt.Y/pt.Z + testIntrinsics.Ppy,
		})
		rig.pts2 = append(rig.pts2, r2.Point{
			X: testIntrinsics.Fx*pt2.X/pt2.Z + testIntrinsics.Ppx,
			Y: testIntrinsics.Fy*pt2.Y/pt2.Z + testIntrinsics.Ppy,
		})
	}
	return rig
}

// essentialFromPose builds E = [t]x R.
func (rig *testRig) essentialFromPose() *mat.Dense {
	var e mat.Dense
	e.Mul(getCrossProductMatFromPoint(rig.translation), rig.rotation)
	return &e
}

func TestEnforceRankTwo(t *testing.T) {
	rng := rand.New(rand.NewSource(8))
	data := make([]float64, 9)
	for i := range data {
		data[i] = rng.NormFloat64()
	}
	e, err := EnforceRankTwo(mat.NewDense(3, 3, data))
	test.That(t, err, test.ShouldBeNil)
	mats := performSVD(e)
	test.That(t, mats, test.ShouldNotBeNil)
	test.That(t, mats.Values[0], test.ShouldAlmostEqual, mats.Values[1], 1e-9)
	test.That(t, mats.Values[2], test.ShouldAlmostEqual, 0, 1e-9)
}

func TestCheiralitySelection(t *testing.T) {
	rig := newTestRig(50, 21)
	essMat, err := EnforceRankTwo(rig.essentialFromPose())
	test.That(t, err, test.ShouldBeNil)

	poses, err := GetPossibleCameraPoses(essMat)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, poses, test.ShouldHaveLength, 4)

	pts1H := toHomogeneous(testIntrinsics.NormalizePoints(rig.pts1))
	pts2H := toHomogeneous(testIntrinsics.NormalizePoints(rig.pts2))

	// exactly one candidate places all points in front of both cameras
	passing := 0
	for _, pose := range poses {
		count, _ := GetNumberPositiveDepth(pose, pts1H, pts2H)
		if count > len(pts1H)/2 {
			passing++
		}
	}
	test.That(t, passing, test.ShouldEqual, 1)

	winner, count := GetCorrectCameraPose(poses, pts1H, pts2H)
	test.That(t, count, test.ShouldEqual, len(pts1H))
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			test.That(t, winner.At(i, j), test.ShouldAlmostEqual, rig.rotation.At(i, j), 1e-6)
		}
	}
	// translation is recovered up to scale; here |t|=1 already
	dot := winner.At(0, 3)*rig.translation.X + winner.At(1, 3)*rig.translation.Y + winner.At(2, 3)*rig.translation.Z
	test.That(t, dot, test.ShouldAlmostEqual, 1, 1e-6)
}

func TestEstimateEssentialRANSAC(t *testing.T) {
	const nInliers = 80
	const nOutliers = 20
	rig := newTestRig(nInliers, 33)
	rng := rand.New(rand.NewSource(34))
	pts1 := append([]r2.Point{}, rig.pts1...)
	pts2 := append([]r2.Point{}, rig.pts2...)
	for i := 0; i < nOutliers; i++ {
		pts1 = append(pts1, r2.Point{X: rng.Float64() * 640, Y: rng.Float64() * 480})
		pts2 = append(pts2, r2.Point{X: rng.Float64() * 640, Y: rng.Float64() * 480})
	}

	cfg := DefaultEssentialConfig()
	cfg.Seed = 5
	est, err := EstimateEssentialRANSAC(context.Background(), pts1, pts2, testIntrinsics, testIntrinsics, cfg)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(est.Inliers), test.ShouldBeGreaterThanOrEqualTo, int(0.95*nInliers))

	// rank-2 constraint holds on the estimate
	mats := performSVD(est.Essential)
	test.That(t, mats, test.ShouldNotBeNil)
	test.That(t, mats.Values[0], test.ShouldAlmostEqual, mats.Values[1], 1e-6*mats.Values[0])
	test.That(t, mats.Values[2], test.ShouldAlmostEqual, 0, 1e-6*mats.Values[0])

	// recovered rotation close to the rig's
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			test.That(t, est.Pose.Rotation.At(i, j), test.ShouldAlmostEqual, rig.rotation.At(i, j), 1e-3)
		}
	}
	// translation direction parallel to the rig's
	dot := est.Pose.Translation.At(0, 0)*rig.translation.X +
		est.Pose.Translation.At(1, 0)*rig.translation.Y +
		est.Pose.Translation.At(2, 0)*rig.translation.Z
	test.That(t, math.Abs(dot), test.ShouldAlmostEqual, 1, 1e-3)
	test.That(t, est.CheiralityCount, test.ShouldBeGreaterThanOrEqualTo, 5)
}

func TestEstimateEssentialRANSACFailures(t *testing.T) {
	rig := newTestRig(7, 2)
	cfg := DefaultEssentialConfig()
	_, err := EstimateEssentialRANSAC(context.Background(), rig.pts1, rig.pts2, testIntrinsics, testIntrinsics, cfg)
	test.That(t, err, test.ShouldWrap, ErrInsufficientData)

	rig = newTestRig(20, 3)
	_, err = EstimateEssentialRANSAC(context.Background(), rig.pts1, rig.pts2, &PinholeCameraIntrinsics{}, testIntrinsics, cfg)
	test.That(t, err, test.ShouldNotBeNil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = EstimateEssentialRANSAC(ctx, rig.pts1, rig.pts2, testIntrinsics, testIntrinsics, cfg)
	test.That(t, err, test.ShouldBeError, context.Canceled)
}

func TestEssentialConfigValidate(t *testing.T) {
	cfg := DefaultEssentialConfig()
	test.That(t, cfg.Validate("essential"), test.ShouldBeNil)
	cfg.MinInliers = 4
	test.That(t, cfg.Validate("essential"), test.ShouldNotBeNil)

	hCfg := DefaultHomographyConfig()
	test.That(t, hCfg.Validate("homography"), test.ShouldBeNil)
	hCfg.ReprojectionThreshold = 0
	test.That(t, hCfg.Validate("homography"), test.ShouldNotBeNil)
}

func TestCamPoseInverseCompose(t *testing.T) {
	rig := newTestRig(1, 9)
	tMat := mat.NewDense(3, 1, []float64{rig.translation.X, rig.translation.Y, rig.translation.Z})
	pose := NewCamPoseFromRotationTranslation(rig.rotation, tMat)
	roundTrip := pose.Compose(pose.Inverse())
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			want := 0.0
			if i == j {
				want = 1.0
			}
			test.That(t, roundTrip.Rotation.At(i, j), test.ShouldAlmostEqual, want, 1e-12)
		}
		test.That(t, roundTrip.Translation.At(i, 0), test.ShouldAlmostEqual, 0, 1e-12)
	}
}
