// Package reconstruct maps points in reduced space back to physical wind
// profiles: cluster centroids become representative profiles, and single
// principal components become the profile shapes they stand for.
package reconstruct

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/banshee-data/windprofile/internal/kmeans"
	"github.com/banshee-data/windprofile/internal/pca"
	"github.com/banshee-data/windprofile/internal/profile"
)

// Profile is a wind profile over the training altitude grid, in units of
// the reference wind speed.
type Profile struct {
	Parallel      []float64
	Perpendicular []float64
}

// Magnitude returns the horizontal speed at each altitude.
func (p Profile) Magnitude() []float64 {
	out := make([]float64, len(p.Parallel))
	for i := range out {
		out[i] = math.Hypot(p.Parallel[i], p.Perpendicular[i])
	}
	return out
}

// ClusterProfiles returns one profile per centroid, in centroid order.
func ClusterProfiles(r *pca.Model, c *kmeans.Model, nAltitudes int) ([]Profile, error) {
	if c.Dim() != r.NumComponents() {
		return nil, fmt.Errorf("%w: centroids have %d coordinates, reducer has %d components",
			pca.ErrDimensionMismatch, c.Dim(), r.NumComponents())
	}
	out := make([]Profile, c.NumClusters())
	for k := range out {
		p, err := Point(r, c.Centroid(k), nAltitudes)
		if err != nil {
			return nil, fmt.Errorf("cluster %d: %w", k, err)
		}
		out[k] = p
	}
	return out, nil
}

// Point reconstructs the profile at one coordinate vector of reduced space.
func Point(r *pca.Model, coeffs []float64, nAltitudes int) (Profile, error) {
	if err := checkGrid(r, nAltitudes); err != nil {
		return Profile{}, err
	}
	v, err := r.InverseTransform(coeffs)
	if err != nil {
		return Profile{}, err
	}
	return split(v, nAltitudes)
}

// Mean returns the mean profile of the fitting data.
func Mean(r *pca.Model, nAltitudes int) (Profile, error) {
	return Point(r, make([]float64, r.NumComponents()), nAltitudes)
}

// Component returns the profile at multiplier units along component i. With
// relative set the mean is left out and only multiplier·PCᵢ is returned,
// which shows the shape the component adds to the mean.
func Component(r *pca.Model, i int, multiplier float64, relative bool, nAltitudes int) (Profile, error) {
	if i < 0 || i >= r.NumComponents() {
		return Profile{}, fmt.Errorf("%w: component %d of %d", pca.ErrInvalidComponentCount, i, r.NumComponents())
	}
	if relative {
		if err := checkGrid(r, nAltitudes); err != nil {
			return Profile{}, err
		}
		v := r.Component(i)
		floats.Scale(multiplier, v)
		return split(v, nAltitudes)
	}
	coeffs := make([]float64, r.NumComponents())
	coeffs[i] = multiplier
	return Point(r, coeffs, nAltitudes)
}

// ComponentSpread returns the profiles one standard deviation below and
// above the mean along component i.
func ComponentSpread(r *pca.Model, i int, nAltitudes int) (lo, hi Profile, err error) {
	if i < 0 || i >= r.NumComponents() {
		return Profile{}, Profile{}, fmt.Errorf("%w: component %d of %d",
			pca.ErrInvalidComponentCount, i, r.NumComponents())
	}
	sigma := math.Sqrt(r.ExplainedVariance()[i])
	if lo, err = Component(r, i, -sigma, false, nAltitudes); err != nil {
		return Profile{}, Profile{}, err
	}
	if hi, err = Component(r, i, sigma, false, nAltitudes); err != nil {
		return Profile{}, Profile{}, err
	}
	return lo, hi, nil
}

// SequentialSum reconstructs a sample from its first k coefficients only:
// the mean plus the contributions of components 0..k-1.
func SequentialSum(r *pca.Model, coeffs []float64, k int, nAltitudes int) (Profile, error) {
	return Point(r, pca.TruncateCoefficients(coeffs, k), nAltitudes)
}

func checkGrid(r *pca.Model, nAltitudes int) error {
	if nAltitudes < 1 || 2*nAltitudes != r.NumFeatures() {
		return fmt.Errorf("%w: %d altitudes do not match %d features",
			pca.ErrDimensionMismatch, nAltitudes, r.NumFeatures())
	}
	return nil
}

func split(v []float64, nAltitudes int) (Profile, error) {
	par, perp, err := profile.Split(v, nAltitudes)
	if err != nil {
		return Profile{}, err
	}
	return Profile{Parallel: par, Perpendicular: perp}, nil
}
