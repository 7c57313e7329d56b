// Package posegraph assembles accepted pairwise registrations into a graph
// over images, from which connected groups and per-group global coordinate
// frames are derived.
package posegraph

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/registration/transform"
)

// GeometricModel is the relationship attached to a pose graph edge: either
// a planar homography or a calibrated rigid pose, never both.
type GeometricModel struct {
	Homography *transform.Homography
	Pose       *transform.CamPose
}

// NewHomographyModel wraps a homography as a geometric model.
func NewHomographyModel(h *transform.Homography) GeometricModel {
	return GeometricModel{Homography: h}
}

// NewPoseModel wraps a rigid pose as a geometric model.
func NewPoseModel(p *transform.CamPose) GeometricModel {
	return GeometricModel{Pose: p}
}

// CheckValid checks that the model holds exactly one representation.
func (m GeometricModel) CheckValid() error {
	if (m.Homography == nil) == (m.Pose == nil) {
		return errors.New("geometric model must hold exactly one of homography or pose")
	}
	return nil
}

// Inverse returns the model mapping in the opposite direction.
func (m GeometricModel) Inverse() (GeometricModel, error) {
	if m.Homography != nil {
		hInv, err := m.Homography.Inverse()
		if err != nil {
			return GeometricModel{}, err
		}
		return NewHomographyModel(hInv), nil
	}
	if m.Pose != nil {
		return NewPoseModel(m.Pose.Inverse()), nil
	}
	return GeometricModel{}, errors.New("cannot invert an empty geometric model")
}

// Compose returns the model equivalent to applying inner first and then m.
// Composed homographies are renormalized so their bottom-right element is 1.
func (m GeometricModel) Compose(inner GeometricModel) (GeometricModel, error) {
	switch {
	case m.Homography != nil && inner.Homography != nil:
		var out mat.Dense
		out.Mul(m.Homography.Matrix(), inner.Homography.Matrix())
		data := make([]float64, 0, 9)
		for i := 0; i < 3; i++ {
			for j := 0; j < 3; j++ {
				data = append(data, out.At(i, j))
			}
		}
		h, err := transform.NewHomography(data)
		if err != nil {
			return GeometricModel{}, err
		}
		hn, err := h.Normalized()
		if err != nil {
			return GeometricModel{}, err
		}
		return NewHomographyModel(hn), nil
	case m.Pose != nil && inner.Pose != nil:
		return NewPoseModel(m.Pose.Compose(inner.Pose)), nil
	default:
		return GeometricModel{}, errors.New("cannot compose geometric models of different kinds")
	}
}

// identityLike returns the identity model of the same kind as m.
func (m GeometricModel) identityLike() (GeometricModel, error) {
	if m.Homography != nil {
		h, err := transform.NewHomography([]float64{1, 0, 0, 0, 1, 0, 0, 0, 1})
		if err != nil {
			return GeometricModel{}, err
		}
		return NewHomographyModel(h), nil
	}
	if m.Pose != nil {
		return NewPoseModel(transform.IdentityCamPose()), nil
	}
	return GeometricModel{}, errors.New("empty geometric model")
}
