package transform

import (
	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// ErrNoIntrinsics is returned when camera intrinsic parameters are needed
// but not available.
var ErrNoIntrinsics = errors.New("camera intrinsic parameters are not available")

// PinholeCameraIntrinsics holds the parameters necessary to project between
// the 3D scene and the 2D image plane.
type PinholeCameraIntrinsics struct {
	Width  int     `json:"width_px"`
	Height int     `json:"height_px"`
	Fx     float64 `json:"fx"`
	Fy     float64 `json:"fy"`
	Ppx    float64 `json:"ppx"`
	Ppy    float64 `json:"ppy"`
}

// CheckValid checks if the fields of the intrinsics are valid.
func (params *PinholeCameraIntrinsics) CheckValid() error {
	if params == nil {
		return ErrNoIntrinsics
	}
	if params.Fx <= 0 || params.Fy <= 0 {
		return errors.Errorf("invalid focal lengths (%f, %f)", params.Fx, params.Fy)
	}
	return nil
}

// GetCameraMatrix returns the intrinsics as a 3x3 camera matrix K.
func (params *PinholeCameraIntrinsics) GetCameraMatrix() *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		params.Fx, 0, params.Ppx,
		0, params.Fy, params.Ppy,
		0, 0, 1,
	})
}

// NormalizePoint applies the inverse camera matrix to an image point,
// producing calibrated camera coordinates.
func (params *PinholeCameraIntrinsics) NormalizePoint(pt r2.Point) r2.Point {
	return r2.Point{
		X: (pt.X - params.Ppx) / params.Fx,
		Y: (pt.Y - params.Ppy) / params.Fy,
	}
}

// NormalizePoints applies the inverse camera matrix to a set of image points.
func (params *PinholeCameraIntrinsics) NormalizePoints(pts []r2.Point) []r2.Point {
	out := make([]r2.Point, len(pts))
	for i, pt := range pts {
		out[i] = params.NormalizePoint(pt)
	}
	return out
}
