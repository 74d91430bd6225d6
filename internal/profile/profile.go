// Package profile shapes preprocessed wind profiles into the feature matrix
// consumed by the principal component reducer.
//
// A feature vector is the concatenation of the parallel and perpendicular
// wind components over the shared altitude grid:
//
//	[parallel(h0) ... parallel(hN-1), perpendicular(h0) ... perpendicular(hN-1)]
package profile

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// ErrShapeMismatch is returned when profiles do not share one altitude grid
// or a component slice has the wrong length.
var ErrShapeMismatch = errors.New("profile shape mismatch")

// ErrNonFinite is returned when a profile holds a NaN or infinite value.
var ErrNonFinite = errors.New("non-finite profile value")

// RawProfile is one sample's normalised wind field. Altitudes are shared by
// all samples of a dataset and strictly increasing.
type RawProfile struct {
	Altitudes     []float64
	Parallel      []float64
	Perpendicular []float64
}

// Validate checks the per-profile length and ordering invariants.
func (p RawProfile) Validate() error {
	n := len(p.Altitudes)
	if n == 0 {
		return fmt.Errorf("%w: empty altitude grid", ErrShapeMismatch)
	}
	if len(p.Parallel) != n || len(p.Perpendicular) != n {
		return fmt.Errorf("%w: %d altitudes but %d parallel and %d perpendicular values",
			ErrShapeMismatch, n, len(p.Parallel), len(p.Perpendicular))
	}
	for i := 1; i < n; i++ {
		if p.Altitudes[i] <= p.Altitudes[i-1] {
			return fmt.Errorf("%w: altitudes not strictly increasing at index %d", ErrShapeMismatch, i)
		}
	}
	for _, c := range []struct {
		name string
		vals []float64
	}{
		{"altitude", p.Altitudes},
		{"parallel", p.Parallel},
		{"perpendicular", p.Perpendicular},
	} {
		if i := NonFinite(c.vals); i >= 0 {
			return fmt.Errorf("%w: %s[%d] = %g", ErrNonFinite, c.name, i, c.vals[i])
		}
	}
	return nil
}

// NonFinite returns the index of the first NaN or ±Inf in v, or -1.
func NonFinite(v []float64) int {
	for i, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return i
		}
	}
	return -1
}

// FeatureVector returns [parallel..., perpendicular...] as a new slice.
func (p RawProfile) FeatureVector() []float64 {
	n := len(p.Altitudes)
	v := make([]float64, 2*n)
	copy(v[:n], p.Parallel)
	copy(v[n:], p.Perpendicular)
	return v
}

// FeatureMatrix holds one feature vector per row. X has 2*len(Altitudes)
// columns.
type FeatureMatrix struct {
	Altitudes []float64
	X         *mat.Dense
}

// Dims returns the number of samples and features.
func (m *FeatureMatrix) Dims() (samples, features int) {
	return m.X.Dims()
}

// NumAltitudes returns the length of the shared altitude grid.
func (m *FeatureMatrix) NumAltitudes() int {
	return len(m.Altitudes)
}

// Row returns a copy of sample i's feature vector.
func (m *FeatureMatrix) Row(i int) []float64 {
	return mat.Row(nil, i, m.X)
}

// Build assembles the feature matrix. The first profile establishes the
// altitude grid; every other profile must match it exactly.
func Build(raws []RawProfile) (*FeatureMatrix, error) {
	if len(raws) == 0 {
		return nil, fmt.Errorf("%w: no profiles to establish an altitude grid", ErrShapeMismatch)
	}
	grid := raws[0].Altitudes
	if err := raws[0].Validate(); err != nil {
		return nil, fmt.Errorf("profile 0: %w", err)
	}

	nAlt := len(grid)
	nFeatures := 2 * nAlt
	data := make([]float64, 0, len(raws)*nFeatures)
	for i, p := range raws {
		if i > 0 {
			if err := p.Validate(); err != nil {
				return nil, fmt.Errorf("profile %d: %w", i, err)
			}
			if !sameGrid(grid, p.Altitudes) {
				return nil, fmt.Errorf("profile %d: %w: altitude grid differs from profile 0", i, ErrShapeMismatch)
			}
		}
		data = append(data, p.Parallel...)
		data = append(data, p.Perpendicular...)
	}

	altitudes := make([]float64, nAlt)
	copy(altitudes, grid)
	return &FeatureMatrix{
		Altitudes: altitudes,
		X:         mat.NewDense(len(raws), nFeatures, data),
	}, nil
}

// Split cuts a feature vector back into its parallel and perpendicular
// halves. The halves are copies.
func Split(v []float64, nAltitudes int) (parallel, perpendicular []float64, err error) {
	if nAltitudes <= 0 || len(v) != 2*nAltitudes {
		return nil, nil, fmt.Errorf("%w: vector of length %d does not split into 2x%d altitudes",
			ErrShapeMismatch, len(v), nAltitudes)
	}
	parallel = make([]float64, nAltitudes)
	perpendicular = make([]float64, nAltitudes)
	copy(parallel, v[:nAltitudes])
	copy(perpendicular, v[nAltitudes:])
	return parallel, perpendicular, nil
}

func sameGrid(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
