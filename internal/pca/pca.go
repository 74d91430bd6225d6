// Package pca fits an orthogonal linear projection of wind-profile feature
// vectors onto their leading principal components and maps coefficient
// vectors back into feature space.
//
// The decomposition is a thin SVD of the mean-centred feature matrix. For a
// centred matrix X = U·Σ·Vᵀ the columns of V are the principal directions and
// σᵢ²/(n-1) is the variance captured by direction i.
//
// A fitted Model is immutable. Accessors return copies, so one Model can be
// shared by any number of goroutines calling Transform and InverseTransform.
package pca

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

var (
	// ErrInvalidComponentCount is returned when the requested number of
	// components is outside [1, min(samples, features)].
	ErrInvalidComponentCount = errors.New("invalid principal component count")

	// ErrDimensionMismatch is returned when a vector or matrix does not have
	// the width the model was fitted for.
	ErrDimensionMismatch = errors.New("dimension mismatch")

	// ErrNumericDegeneracy is returned when the centred data has fewer
	// non-trivial directions than components requested.
	ErrNumericDegeneracy = errors.New("numerically degenerate input")
)

// machineEpsilon is the float64 unit roundoff used for the rank threshold.
const machineEpsilon = 0x1p-52

// orthonormalTolerance bounds |vᵢ·vⱼ - δᵢⱼ| for bases rebuilt from snapshots.
const orthonormalTolerance = 1e-8

// Model is a fitted principal component reducer.
type Model struct {
	mean          []float64
	basis         *mat.Dense // nComponents × nFeatures, orthonormal rows
	variance      []float64
	varianceRatio []float64
	nSamples      int
}

// Fit computes the nComponents leading principal directions of x, whose rows
// are samples and columns features.
func Fit(x mat.Matrix, nComponents int) (*Model, error) {
	n, d := x.Dims()
	if nComponents < 1 || nComponents > min(n, d) {
		return nil, fmt.Errorf("%w: requested %d, want 1..%d for %d samples x %d features",
			ErrInvalidComponentCount, nComponents, min(n, d), n, d)
	}

	mean := columnMeans(x)
	centred := mat.NewDense(n, d, nil)
	for i := 0; i < n; i++ {
		row := centred.RawRowView(i)
		for j := 0; j < d; j++ {
			row[j] = x.At(i, j) - mean[j]
		}
	}
	for i := 0; i < n; i++ {
		for j, v := range centred.RawRowView(i) {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("%w: non-finite value at sample %d feature %d", ErrNumericDegeneracy, i, j)
			}
		}
	}

	var svd mat.SVD
	if ok := svd.Factorize(centred, mat.SVDThin); !ok {
		return nil, fmt.Errorf("%w: singular value decomposition did not converge", ErrNumericDegeneracy)
	}
	values := svd.Values(nil)

	// Same rank threshold as a numerical matrix_rank: σ ≤ σ₀·max(n,d)·ε is
	// indistinguishable from zero. Written as !(σ > tol) so NaN fails too.
	tol := values[0] * float64(max(n, d)) * machineEpsilon
	if !(values[0] > 0) || !(values[nComponents-1] > tol) {
		rank := 0
		for _, s := range values {
			if s > tol && s > 0 {
				rank++
			}
		}
		return nil, fmt.Errorf("%w: %d components requested but the centred data has rank %d",
			ErrNumericDegeneracy, nComponents, rank)
	}

	var v mat.Dense
	svd.VTo(&v)

	basis := mat.NewDense(nComponents, d, nil)
	for k := 0; k < nComponents; k++ {
		row := basis.RawRowView(k)
		mat.Col(row, k, &v)
		orientSign(row)
	}

	var total float64
	for _, s := range values {
		total += s * s
	}
	variance := make([]float64, nComponents)
	ratio := make([]float64, nComponents)
	for k := 0; k < nComponents; k++ {
		s2 := values[k] * values[k]
		variance[k] = s2 / float64(n-1)
		ratio[k] = s2 / total
	}

	return &Model{
		mean:          mean,
		basis:         basis,
		variance:      variance,
		varianceRatio: ratio,
		nSamples:      n,
	}, nil
}

// FitTransform fits a model and returns the reduced coordinates of x under
// it. The reduced matrix is produced by TransformMatrix, so its rows equal
// what Transform returns for the same samples.
func FitTransform(x mat.Matrix, nComponents int) (*Model, *mat.Dense, error) {
	m, err := Fit(x, nComponents)
	if err != nil {
		return nil, nil, err
	}
	reduced, err := m.TransformMatrix(x)
	if err != nil {
		return nil, nil, err
	}
	return m, reduced, nil
}

// columnMeans returns the per-feature mean of x.
func columnMeans(x mat.Matrix) []float64 {
	n, d := x.Dims()
	mean := make([]float64, d)
	col := make([]float64, n)
	for j := 0; j < d; j++ {
		mat.Col(col, j, x)
		mean[j] = stat.Mean(col, nil)
	}
	return mean
}

// orientSign flips v so that its largest-magnitude entry is positive. The
// first index wins ties. SVD leaves the sign of each singular vector free;
// fixing it keeps repeated fits on identical input identical.
func orientSign(v []float64) {
	idx := 0
	for j := range v {
		if math.Abs(v[j]) > math.Abs(v[idx]) {
			idx = j
		}
	}
	if v[idx] < 0 {
		floats.Scale(-1, v)
	}
}

// NumComponents returns the number of retained components.
func (m *Model) NumComponents() int {
	r, _ := m.basis.Dims()
	return r
}

// NumFeatures returns the feature-vector width the model was fitted on.
func (m *Model) NumFeatures() int {
	return len(m.mean)
}

// NumSamples returns the number of samples the model was fitted on.
func (m *Model) NumSamples() int {
	return m.nSamples
}

// Mean returns a copy of the fitted feature mean.
func (m *Model) Mean() []float64 {
	return append([]float64(nil), m.mean...)
}

// Basis returns a copy of the nComponents × nFeatures basis matrix.
func (m *Model) Basis() *mat.Dense {
	return mat.DenseCopyOf(m.basis)
}

// Component returns a copy of basis vector i.
func (m *Model) Component(i int) []float64 {
	return append([]float64(nil), m.basis.RawRowView(i)...)
}

// ExplainedVariance returns the variance captured by each component,
// non-increasing in component index.
func (m *Model) ExplainedVariance() []float64 {
	return append([]float64(nil), m.variance...)
}

// ExplainedVarianceRatio returns each component's share of the total
// variance of the fitting data.
func (m *Model) ExplainedVarianceRatio() []float64 {
	return append([]float64(nil), m.varianceRatio...)
}

// CumulativeVarianceRatio returns the running sum of ExplainedVarianceRatio.
func (m *Model) CumulativeVarianceRatio() []float64 {
	return floats.CumSum(make([]float64, len(m.varianceRatio)), m.varianceRatio)
}

// Transform projects one feature vector onto the basis: (v - mean)·basisᵀ.
func (m *Model) Transform(v []float64) ([]float64, error) {
	if len(v) != len(m.mean) {
		return nil, fmt.Errorf("%w: feature vector has length %d, model expects %d",
			ErrDimensionMismatch, len(v), len(m.mean))
	}
	dst := make([]float64, m.NumComponents())
	m.project(dst, v, make([]float64, len(v)))
	return dst, nil
}

// TransformMatrix projects every row of x. Row i of the result is
// bit-identical to Transform(row i).
func (m *Model) TransformMatrix(x mat.Matrix) (*mat.Dense, error) {
	r, c := x.Dims()
	if c != len(m.mean) {
		return nil, fmt.Errorf("%w: matrix has %d columns, model expects %d",
			ErrDimensionMismatch, c, len(m.mean))
	}
	if r == 0 {
		return nil, fmt.Errorf("%w: empty matrix", ErrDimensionMismatch)
	}
	out := mat.NewDense(r, m.NumComponents(), nil)
	row := make([]float64, c)
	scratch := make([]float64, c)
	for i := 0; i < r; i++ {
		mat.Row(row, i, x)
		m.project(out.RawRowView(i), row, scratch)
	}
	return out, nil
}

// project writes (v - mean)·basisᵀ into dst using scratch for the centred
// vector. It is the single kernel behind both transform paths.
func (m *Model) project(dst, v, scratch []float64) {
	floats.SubTo(scratch, v, m.mean)
	for k := range dst {
		dst[k] = floats.Dot(scratch, m.basis.RawRowView(k))
	}
}

// InverseTransform maps coefficients back to feature space:
// mean + coeffs·basis. Zero coefficients reproduce the mean exactly.
func (m *Model) InverseTransform(coeffs []float64) ([]float64, error) {
	if len(coeffs) != m.NumComponents() {
		return nil, fmt.Errorf("%w: %d coefficients, model has %d components",
			ErrDimensionMismatch, len(coeffs), m.NumComponents())
	}
	dst := make([]float64, len(m.mean))
	m.reconstruct(dst, coeffs)
	return dst, nil
}

// InverseTransformMatrix maps every coefficient row of c back to feature
// space.
func (m *Model) InverseTransformMatrix(c mat.Matrix) (*mat.Dense, error) {
	r, k := c.Dims()
	if k != m.NumComponents() {
		return nil, fmt.Errorf("%w: matrix has %d columns, model has %d components",
			ErrDimensionMismatch, k, m.NumComponents())
	}
	if r == 0 {
		return nil, fmt.Errorf("%w: empty matrix", ErrDimensionMismatch)
	}
	out := mat.NewDense(r, len(m.mean), nil)
	coeffs := make([]float64, k)
	for i := 0; i < r; i++ {
		mat.Row(coeffs, i, c)
		m.reconstruct(out.RawRowView(i), coeffs)
	}
	return out, nil
}

func (m *Model) reconstruct(dst, coeffs []float64) {
	copy(dst, m.mean)
	for k, c := range coeffs {
		if c == 0 {
			continue
		}
		floats.AddScaled(dst, c, m.basis.RawRowView(k))
	}
}

// TruncateCoefficients returns a copy of coeffs with every entry from index
// k onwards set to zero. Reconstructing the result gives the mean plus the
// first k component contributions.
func TruncateCoefficients(coeffs []float64, k int) []float64 {
	out := make([]float64, len(coeffs))
	k = max(0, min(k, len(coeffs)))
	copy(out[:k], coeffs[:k])
	return out
}
