package transform

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// CamPose stores the 3x4 pose matrix as well as the 3D Rotation and
// Translation matrices of a calibrated relative pose.
type CamPose struct {
	PoseMat     *mat.Dense
	Rotation    *mat.Dense
	Translation *mat.Dense
}

// NewCamPoseFromMat creates a pointer to a camera pose from a 3x4 pose
// dense matrix.
func NewCamPoseFromMat(pose *mat.Dense) *CamPose {
	c4 := pose.ColView(3)
	t := mat.NewDense(3, 1, []float64{c4.AtVec(0), c4.AtVec(1), c4.AtVec(2)})
	rot := mat.NewDense(3, 3, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			rot.Set(i, j, pose.At(i, j))
		}
	}
	return &CamPose{
		PoseMat:     pose,
		Rotation:    rot,
		Translation: t,
	}
}

// NewCamPoseFromRotationTranslation creates a camera pose from a 3x3
// rotation and a 3x1 translation.
func NewCamPoseFromRotationTranslation(rotation, translation *mat.Dense) *CamPose {
	var pose mat.Dense
	pose.Augment(rotation, translation)
	return &CamPose{
		PoseMat:     &pose,
		Rotation:    rotation,
		Translation: translation,
	}
}

// IdentityCamPose returns the identity relative pose.
func IdentityCamPose() *CamPose {
	return NewCamPoseFromRotationTranslation(eye(3), mat.NewDense(3, 1, nil))
}

// Inverse returns the pose mapping the second camera frame back onto the
// first: (R^T, -R^T t).
func (cp *CamPose) Inverse() *CamPose {
	rT := transposeDense(cp.Rotation)
	var t mat.Dense
	t.Mul(rT, cp.Translation)
	t.Scale(-1, &t)
	return NewCamPoseFromRotationTranslation(rT, &t)
}

// Compose returns the pose equivalent to applying other first and then cp.
func (cp *CamPose) Compose(other *CamPose) *CamPose {
	var rot, t mat.Dense
	rot.Mul(cp.Rotation, other.Rotation)
	t.Mul(cp.Rotation, other.Translation)
	t.Add(&t, cp.Translation)
	return NewCamPoseFromRotationTranslation(&rot, &t)
}

// adjustPoseSign scales a pose by -1 if its rotation part has a negative
// determinant.
func adjustPoseSign(pose *mat.Dense) *mat.Dense {
	subPose := pose.Slice(0, 3, 0, 3)
	if m := mat.DenseCopyOf(subPose); mat.Det(m) < 0 {
		pose.Scale(-1, pose)
	}
	return pose
}

// DecomposeEssentialMatrix decomposes the essential matrix into 2 possible
// 3D rotations and a 3D translation.
func DecomposeEssentialMatrix(essMat *mat.Dense) (*mat.Dense, *mat.Dense, *mat.Dense, error) {
	mats := performSVD(essMat)
	if mats == nil {
		return nil, nil, nil, errors.Wrap(ErrNumericalDegeneracy, "failed to factorize essential matrix")
	}
	// check determinant sign of U and V
	if mat.Det(mats.U) < 0 {
		mats.U.Scale(-1, mats.U)
	}
	if mat.Det(mats.VT) < 0 {
		mats.VT.Scale(-1, mats.VT)
	}
	// canonical 90 degree rotation generator W
	W := mat.NewDense(3, 3, nil)
	W.Set(0, 1, 1)
	W.Set(1, 0, -1)
	W.Set(2, 2, 1)
	var R1, R2 mat.Dense
	// UWV^T
	R1.Mul(mats.U, W)
	R1.Mul(&R1, mats.VT)
	// UW^TV^T
	R2.Mul(mats.U, transposeDense(W))
	R2.Mul(&R2, mats.VT)
	u3 := mats.U.ColView(2)
	t := mat.NewDense(3, 1, []float64{u3.AtVec(0), u3.AtVec(1), u3.AtVec(2)})
	return &R1, &R2, t, nil
}

// GetPossibleCameraPoses computes all 4 possible poses from the essential
// matrix.
func GetPossibleCameraPoses(essMat *mat.Dense) ([]*mat.Dense, error) {
	R1, R2, t, err := DecomposeEssentialMatrix(essMat)
	if err != nil {
		return nil, err
	}
	var tOpp mat.Dense
	tOpp.Scale(-1, t)
	poses := make([]mat.Dense, 4)
	poses[0].Augment(R1, t)
	poses[1].Augment(R1, &tOpp)
	poses[2].Augment(R2, t)
	poses[3].Augment(R2, &tOpp)
	posesOut := make([]*mat.Dense, 4)
	for i := range poses {
		posesOut[i] = mat.DenseCopyOf(adjustPoseSign(&poses[i]))
	}
	return posesOut, nil
}

// getCrossProductMatFromPoint returns the skew-symmetric cross product
// matrix of point p.
func getCrossProductMatFromPoint(p r3.Vector) *mat.Dense {
	cross := mat.NewDense(3, 3, nil)
	cross.Set(0, 1, -p.Z)
	cross.Set(0, 2, p.Y)
	cross.Set(1, 0, p.Z)
	cross.Set(1, 2, -p.X)
	cross.Set(2, 0, -p.Y)
	cross.Set(2, 1, p.X)
	return cross
}

// GetLinearTriangulatedPoints computes triangulated 3D points, in the first
// camera frame, with the linear method. pts1 and pts2 are homogeneous
// calibrated coordinates.
func GetLinearTriangulatedPoints(pose *mat.Dense, pts1, pts2 []r3.Vector) ([]r3.Vector, error) {
	// identity pose for the first camera
	P := mat.NewDense(3, 4, nil)
	P.Set(0, 0, 1)
	P.Set(1, 1, 1)
	P.Set(2, 2, 1)
	Pdash := mat.DenseCopyOf(pose)
	nPoints := len(pts1)
	pts3d := make([]r3.Vector, nPoints)
	for i := range pts1 {
		p1Cross := getCrossProductMatFromPoint(pts1[i])
		p2Cross := getCrossProductMatFromPoint(pts2[i])
		p1CrossP := mat.NewDense(3, 4, nil)
		p1CrossP.Mul(p1Cross, P)
		p2CrossPdash := mat.NewDense(3, 4, nil)
		p2CrossPdash.Mul(p2Cross, Pdash)
		var A mat.Dense
		A.Stack(p1CrossP, p2CrossPdash)

		var svd mat.SVD
		if ok := svd.Factorize(&A, mat.SVDFull); !ok {
			return nil, errors.Wrap(ErrNumericalDegeneracy, "failed to factorize triangulation system")
		}
		var V mat.Dense
		svd.VTo(&V)
		w := V.At(3, 3)
		if w == 0 {
			return nil, errors.Wrap(ErrNumericalDegeneracy, "triangulated point at infinity")
		}
		pts3d[i] = r3.Vector{
			X: V.At(0, 3) / w,
			Y: V.At(1, 3) / w,
			Z: V.At(2, 3) / w,
		}
	}
	return pts3d, nil
}

// GetNumberPositiveDepth computes the number of triangulated points with
// positive depth in both camera frames (the cheirality count).
func GetNumberPositiveDepth(pose *mat.Dense, pts1, pts2 []r3.Vector) (int, *mat.Dense) {
	pts3D, err := GetLinearTriangulatedPoints(pose, pts1, pts2)
	if err != nil {
		return 0, nil
	}
	rot3 := r3.Vector{X: pose.At(2, 0), Y: pose.At(2, 1), Z: pose.At(2, 2)}
	tz := pose.At(2, 3)
	nPositiveDepth := 0
	for _, pt := range pts3D {
		// depth in the first frame is the z coordinate itself; in the
		// second frame it is the third row of the pose applied to the point
		if pt.Z > 0 && rot3.Dot(pt)+tz > 0 {
			nPositiveDepth++
		}
	}
	return nPositiveDepth, pose
}

// GetCorrectCameraPose returns the pose with the most positive depth
// values among the candidates, along with its cheirality count.
func GetCorrectCameraPose(poses []*mat.Dense, pts1, pts2 []r3.Vector) (*mat.Dense, int) {
	maxNumPosDepth := 0
	correctPose := poses[0]
	for _, pose := range poses {
		nPosDepth, _ := GetNumberPositiveDepth(pose, pts1, pts2)
		if nPosDepth > maxNumPosDepth {
			maxNumPosDepth = nPosDepth
			correctPose = mat.DenseCopyOf(pose)
		}
	}
	return correctPose, maxNumPosDepth
}
