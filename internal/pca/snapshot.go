package pca

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Snapshot is the canonical plain-data shape of a Model. It holds no
// gonum types so it serialises losslessly with encoding/json.
type Snapshot struct {
	Mean          []float64   `json:"mean"`
	Basis         [][]float64 `json:"basis"`
	Variance      []float64   `json:"variance"`
	VarianceRatio []float64   `json:"variance_ratio"`
	NumSamples    int         `json:"n_samples"`
}

// Snapshot returns a deep copy of the model's state.
func (m *Model) Snapshot() Snapshot {
	basis := make([][]float64, m.NumComponents())
	for k := range basis {
		basis[k] = m.Component(k)
	}
	return Snapshot{
		Mean:          m.Mean(),
		Basis:         basis,
		Variance:      m.ExplainedVariance(),
		VarianceRatio: m.ExplainedVarianceRatio(),
		NumSamples:    m.nSamples,
	}
}

// FromSnapshot rebuilds a Model. The basis rows must be orthonormal and all
// vectors must agree on the feature and component counts.
func FromSnapshot(s Snapshot) (*Model, error) {
	d := len(s.Mean)
	k := len(s.Basis)
	if d == 0 || k == 0 {
		return nil, fmt.Errorf("%w: snapshot has %d features and %d components", ErrInvalidComponentCount, d, k)
	}
	if k > d {
		return nil, fmt.Errorf("%w: %d components exceed %d features", ErrInvalidComponentCount, k, d)
	}
	if len(s.Variance) != k || len(s.VarianceRatio) != k {
		return nil, fmt.Errorf("%w: %d components but %d variances and %d ratios",
			ErrDimensionMismatch, k, len(s.Variance), len(s.VarianceRatio))
	}

	basis := mat.NewDense(k, d, nil)
	for i, row := range s.Basis {
		if len(row) != d {
			return nil, fmt.Errorf("%w: basis row %d has length %d, want %d", ErrDimensionMismatch, i, len(row), d)
		}
		basis.SetRow(i, row)
	}
	for i := 0; i < k; i++ {
		for j := i; j < k; j++ {
			want := 0.0
			if i == j {
				want = 1
			}
			if got := floats.Dot(basis.RawRowView(i), basis.RawRowView(j)); math.Abs(got-want) > orthonormalTolerance {
				return nil, fmt.Errorf("%w: basis rows %d and %d have dot product %g", ErrNumericDegeneracy, i, j, got)
			}
		}
	}

	return &Model{
		mean:          append([]float64(nil), s.Mean...),
		basis:         basis,
		variance:      append([]float64(nil), s.Variance...),
		varianceRatio: append([]float64(nil), s.VarianceRatio...),
		nSamples:      s.NumSamples,
	}, nil
}
