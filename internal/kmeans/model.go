package kmeans

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Model is a fitted set of centroids. It is immutable once returned by Fit
// or FromSnapshot.
type Model struct {
	centroids  *mat.Dense // k × d
	dispersion float64
	iterations int
	converged  bool
}

// NumClusters returns k.
func (m *Model) NumClusters() int {
	r, _ := m.centroids.Dims()
	return r
}

// Dim returns the dimensionality of the centroids.
func (m *Model) Dim() int {
	_, c := m.centroids.Dims()
	return c
}

// Dispersion returns the within-cluster sum of squared distances of the
// fitting data to their assigned centroids.
func (m *Model) Dispersion() float64 { return m.dispersion }

// Iterations returns the number of Lloyd passes of the winning restart.
func (m *Model) Iterations() int { return m.iterations }

// Converged reports whether the winning restart reached a fixed point
// before the iteration cap.
func (m *Model) Converged() bool { return m.converged }

// Centroid returns a copy of centroid i.
func (m *Model) Centroid(i int) []float64 {
	return append([]float64(nil), m.centroids.RawRowView(i)...)
}

// Centroids returns a copy of the k × d centroid matrix.
func (m *Model) Centroids() *mat.Dense {
	return mat.DenseCopyOf(m.centroids)
}

// Predict returns the index of the nearest centroid to v.
func (m *Model) Predict(v []float64) (int, error) {
	if len(v) != m.Dim() {
		return 0, fmt.Errorf("%w: vector has length %d, centroids have %d",
			ErrDimensionMismatch, len(v), m.Dim())
	}
	if j := nonFinite(v); j >= 0 {
		return 0, fmt.Errorf("%w: coordinate %d is %g", ErrNonFinite, j, v[j])
	}
	idx, _ := nearestCentroid(v, m.rows())
	return idx, nil
}

// PredictMatrix assigns every row of x to its nearest centroid.
func (m *Model) PredictMatrix(x mat.Matrix) ([]int, error) {
	r, c := x.Dims()
	if c != m.Dim() {
		return nil, fmt.Errorf("%w: matrix has %d columns, centroids have %d",
			ErrDimensionMismatch, c, m.Dim())
	}
	rows := m.rows()
	labels := make([]int, r)
	v := make([]float64, c)
	for i := range labels {
		mat.Row(v, i, x)
		if j := nonFinite(v); j >= 0 {
			return nil, fmt.Errorf("%w: row %d coordinate %d is %g", ErrNonFinite, i, j, v[j])
		}
		labels[i], _ = nearestCentroid(v, rows)
	}
	return labels, nil
}

// rows views each centroid without copying.
func (m *Model) rows() [][]float64 {
	out := make([][]float64, m.NumClusters())
	for k := range out {
		out[k] = m.centroids.RawRowView(k)
	}
	return out
}

// Snapshot is the plain-data shape of a Model.
type Snapshot struct {
	Centroids  [][]float64 `json:"centroids"`
	Dispersion float64     `json:"dispersion"`
	Iterations int         `json:"iterations"`
	Converged  bool        `json:"converged"`
}

// Snapshot returns a deep copy of the model's state.
func (m *Model) Snapshot() Snapshot {
	cs := make([][]float64, m.NumClusters())
	for k := range cs {
		cs[k] = m.Centroid(k)
	}
	return Snapshot{
		Centroids:  cs,
		Dispersion: m.dispersion,
		Iterations: m.iterations,
		Converged:  m.converged,
	}
}

// FromSnapshot rebuilds a Model. All centroids must share one non-zero
// dimensionality and be finite.
func FromSnapshot(s Snapshot) (*Model, error) {
	if len(s.Centroids) == 0 {
		return nil, fmt.Errorf("%w: snapshot has no centroids", ErrInvalidClusterCount)
	}
	d := len(s.Centroids[0])
	if d == 0 {
		return nil, fmt.Errorf("%w: centroid 0 is empty", ErrDimensionMismatch)
	}
	c := mat.NewDense(len(s.Centroids), d, nil)
	for k, row := range s.Centroids {
		if len(row) != d {
			return nil, fmt.Errorf("%w: centroid %d has length %d, want %d", ErrDimensionMismatch, k, len(row), d)
		}
		if j := nonFinite(row); j >= 0 {
			return nil, fmt.Errorf("%w: centroid %d coordinate %d is %g", ErrNonFinite, k, j, row[j])
		}
		c.SetRow(k, row)
	}
	return &Model{
		centroids:  c,
		dispersion: s.Dispersion,
		iterations: s.Iterations,
		converged:  s.Converged,
	}, nil
}
