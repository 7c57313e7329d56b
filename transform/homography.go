package transform

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// pivotEpsilon is the smallest pivot magnitude the exact solver accepts
// before declaring the minimal sample degenerate.
const pivotEpsilon = 1e-12

// Homography is a 3x3 projective transform relating two views of a planar
// scene, mapping points of the first image onto the second.
type Homography struct {
	matrix *mat.Dense
}

// NewHomography creates a Homography from a slice of 9 row-major floats.
func NewHomography(vals []float64) (*Homography, error) {
	if len(vals) != 9 {
		return nil, errors.Errorf("input to NewHomography must have length of 9. Has length of %d", len(vals))
	}
	d := mat.NewDense(3, 3, vals)
	return &Homography{d}, nil
}

// At returns the value of the homography at the given index.
func (h *Homography) At(row, col int) float64 {
	return h.matrix.At(row, col)
}

// Apply applies the homography to the given point, dividing out the
// projective scale.
func (h *Homography) Apply(pt r2.Point) r2.Point {
	x := h.At(0, 0)*pt.X + h.At(0, 1)*pt.Y + h.At(0, 2)
	y := h.At(1, 0)*pt.X + h.At(1, 1)*pt.Y + h.At(1, 2)
	z := h.At(2, 0)*pt.X + h.At(2, 1)*pt.Y + h.At(2, 2)
	return r2.Point{X: x / z, Y: y / z}
}

// Inverse returns the inverse homography, mapping points of the second
// image onto the first.
func (h *Homography) Inverse() (*Homography, error) {
	var hInv mat.Dense
	if err := hInv.Inverse(h.matrix); err != nil {
		return nil, errors.Wrap(err, "homography is not invertible")
	}
	inv := &Homography{&hInv}
	if err := inv.rescale(); err != nil {
		return nil, err
	}
	return inv, nil
}

// Normalized returns a copy of the homography rescaled so that its
// bottom-right element is 1.
func (h *Homography) Normalized() (*Homography, error) {
	out := &Homography{mat.DenseCopyOf(h.matrix)}
	if err := out.rescale(); err != nil {
		return nil, err
	}
	return out, nil
}

// Matrix returns a copy of the underlying 3x3 matrix.
func (h *Homography) Matrix() *mat.Dense {
	return mat.DenseCopyOf(h.matrix)
}

// rescale divides the matrix by its bottom-right element so that
// H[2][2] == 1, suppressing projective-scale drift.
func (h *Homography) rescale() error {
	s := h.matrix.At(2, 2)
	if math.Abs(s) < pivotEpsilon {
		return errors.Wrap(ErrNumericalDegeneracy, "homography scale is degenerate")
	}
	h.matrix.Scale(1/s, h.matrix)
	return nil
}

// gaussJordanSolve solves the linear system held in the n x (n+1) augmented
// matrix a in place, with partial pivoting. It errors as soon as a pivot
// falls under pivotEpsilon.
func gaussJordanSolve(a [][]float64) ([]float64, error) {
	n := len(a)
	for col := 0; col < n; col++ {
		// partial pivoting
		pivotRow := col
		for row := col + 1; row < n; row++ {
			if math.Abs(a[row][col]) > math.Abs(a[pivotRow][col]) {
				pivotRow = row
			}
		}
		if math.Abs(a[pivotRow][col]) < pivotEpsilon {
			return nil, errors.Wrapf(ErrNumericalDegeneracy, "pivot %d too small", col)
		}
		a[col], a[pivotRow] = a[pivotRow], a[col]
		pivot := a[col][col]
		for j := col; j <= n; j++ {
			a[col][j] /= pivot
		}
		for row := 0; row < n; row++ {
			if row == col {
				continue
			}
			factor := a[row][col]
			if factor == 0 {
				continue
			}
			for j := col; j <= n; j++ {
				a[row][j] -= factor * a[col][j]
			}
		}
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = a[i][n]
	}
	return out, nil
}

// homographyRows fills the two DLT equation rows of a correspondence,
// with h33 fixed to 1.
func homographyRows(src, dst r2.Point) ([]float64, []float64) {
	return []float64{src.X, src.Y, 1, 0, 0, 0, -dst.X * src.X, -dst.X * src.Y, dst.X},
		[]float64{0, 0, 0, src.X, src.Y, 1, -dst.Y * src.X, -dst.Y * src.Y, dst.Y}
}

// denormalizeHomography undoes the Hartley normalization:
// H = Tdst^-1 * Hnorm * Tsrc.
func denormalizeHomography(hNorm, tSrc, tDst *mat.Dense) (*Homography, error) {
	var tDstInv mat.Dense
	if err := tDstInv.Inverse(tDst); err != nil {
		return nil, errors.Wrap(ErrNumericalDegeneracy, "normalization transform not invertible")
	}
	var tmp, out mat.Dense
	tmp.Mul(hNorm, tSrc)
	out.Mul(&tDstInv, &tmp)
	h := &Homography{&out}
	if err := h.rescale(); err != nil {
		return nil, err
	}
	return h, nil
}

// EstimateExactHomography solves the minimal homography from exactly 4
// correspondences with a Hartley-normalized DLT, solved via Gauss-Jordan
// elimination with partial pivoting.
func EstimateExactHomography(src, dst []r2.Point) (*Homography, error) {
	if len(src) != 4 || len(dst) != 4 {
		return nil, errors.Wrapf(ErrInsufficientData, "exact homography needs 4 point pairs, got %d and %d", len(src), len(dst))
	}
	srcNorm, tSrc := normalizePoints(src)
	dstNorm, tDst := normalizePoints(dst)

	a := make([][]float64, 0, 8)
	for i := range srcNorm {
		r1, r2row := homographyRows(srcNorm[i], dstNorm[i])
		a = append(a, r1, r2row)
	}
	h, err := gaussJordanSolve(a)
	if err != nil {
		return nil, err
	}
	hNorm := mat.NewDense(3, 3, append(h, 1))
	return denormalizeHomography(hNorm, tSrc, tDst)
}

// EstimateLeastSquaresHomography refits a homography over all given
// correspondences by solving the normal equations through a regularized
// Cholesky factorization.
func EstimateLeastSquaresHomography(src, dst []r2.Point) (*Homography, error) {
	if len(src) != len(dst) {
		return nil, errors.Errorf("point sets must have the same length (%d != %d)", len(src), len(dst))
	}
	if len(src) < 4 {
		return nil, errors.Wrapf(ErrInsufficientData, "least squares homography needs at least 4 point pairs, got %d", len(src))
	}
	srcNorm, tSrc := normalizePoints(src)
	dstNorm, tDst := normalizePoints(dst)

	n := len(srcNorm)
	A := mat.NewDense(2*n, 8, nil)
	b := mat.NewVecDense(2*n, nil)
	for i := range srcNorm {
		r1, r2row := homographyRows(srcNorm[i], dstNorm[i])
		A.SetRow(2*i, r1[:8])
		A.SetRow(2*i+1, r2row[:8])
		b.SetVec(2*i, r1[8])
		b.SetVec(2*i+1, r2row[8])
	}

	// normal equations with a small ridge term for conditioning
	var ata mat.Dense
	ata.Mul(A.T(), A)
	const ridge = 1e-10
	sym := mat.NewSymDense(8, nil)
	for i := 0; i < 8; i++ {
		for j := i; j < 8; j++ {
			v := ata.At(i, j)
			if i == j {
				v += ridge
			}
			sym.SetSym(i, j, v)
		}
	}
	var chol mat.Cholesky
	if ok := chol.Factorize(sym); !ok {
		return nil, errors.Wrap(ErrNumericalDegeneracy, "normal equations are not positive definite")
	}
	var atb mat.VecDense
	atb.MulVec(A.T(), b)
	var h mat.VecDense
	if err := chol.SolveVecTo(&h, &atb); err != nil {
		return nil, errors.Wrap(ErrNumericalDegeneracy, err.Error())
	}

	hNorm := mat.NewDense(3, 3, append(h.RawVector().Data[:8:8], 1))
	return denormalizeHomography(hNorm, tSrc, tDst)
}
