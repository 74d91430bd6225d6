// Package kmeans partitions reduced wind-profile coordinates into a fixed
// number of clusters with Lloyd's algorithm, restarted from several seeded
// k-means++ initialisations.
//
// Every source of randomness is derived from Options.Seed and the restart
// index, so identical inputs always produce bit-identical models and
// assignments, independent of Options.Workers.
package kmeans

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"runtime"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/windprofile/internal/monitoring"
)

// Defaults applied when the corresponding Options field is zero.
const (
	DefaultMaxIterations = 300
	DefaultNumInit       = 10
)

var (
	// ErrInvalidClusterCount is returned when the cluster count is outside
	// [1, samples].
	ErrInvalidClusterCount = errors.New("invalid cluster count")

	// ErrDimensionMismatch is returned when a vector does not match the
	// centroid dimensionality.
	ErrDimensionMismatch = errors.New("dimension mismatch")

	// ErrInvalidOptions is returned for negative iteration, restart or worker
	// counts.
	ErrInvalidOptions = errors.New("invalid k-means options")

	// ErrNonFinite is returned when an input vector holds a NaN or infinite
	// coordinate.
	ErrNonFinite = errors.New("non-finite coordinate")
)

// Options configures Fit. Zero MaxIterations and NumInit use the package
// defaults; Workers <= 1 runs the restarts sequentially.
type Options struct {
	NumClusters   int
	MaxIterations int
	NumInit       int
	Seed          uint64
	Workers       int
}

func (o Options) withDefaults() Options {
	if o.MaxIterations == 0 {
		o.MaxIterations = DefaultMaxIterations
	}
	if o.NumInit == 0 {
		o.NumInit = DefaultNumInit
	}
	return o
}

// runResult is the outcome of one restart.
type runResult struct {
	centroids  [][]float64
	labels     []int
	dispersion float64
	iterations int
	converged  bool
	reseeds    int
}

// Fit clusters the rows of x and returns the best model over all restarts
// together with the per-sample assignment.
//
// When x has fewer distinct rows than clusters, some centroids coincide and
// the run stops as soon as every sample sits on its centroid. Every cluster
// keeps at least one member, so a returned label may name a higher-index
// duplicate of the centroid Predict picks for the same sample. Both
// centroids are then equal.
func Fit(x mat.Matrix, opts Options) (*Model, []int, error) {
	n, d := x.Dims()
	if opts.NumClusters < 1 || opts.NumClusters > n {
		return nil, nil, fmt.Errorf("%w: requested %d clusters for %d samples",
			ErrInvalidClusterCount, opts.NumClusters, n)
	}
	if opts.MaxIterations < 0 || opts.NumInit < 0 || opts.Workers < 0 {
		return nil, nil, fmt.Errorf("%w: max_iterations=%d n_init=%d workers=%d",
			ErrInvalidOptions, opts.MaxIterations, opts.NumInit, opts.Workers)
	}
	opts = opts.withDefaults()

	points := make([][]float64, n)
	for i := range points {
		points[i] = mat.Row(nil, i, x)
		if j := nonFinite(points[i]); j >= 0 {
			return nil, nil, fmt.Errorf("%w: sample %d coordinate %d is %g", ErrNonFinite, i, j, points[i][j])
		}
	}

	results := make([]runResult, opts.NumInit)
	var g errgroup.Group
	g.SetLimit(workerLimit(opts.Workers))
	for r := 0; r < opts.NumInit; r++ {
		g.Go(func() error {
			rng := rand.New(rand.NewPCG(opts.Seed, uint64(r)))
			start := initPlusPlus(points, opts.NumClusters, rng)
			results[r] = lloyd(points, start, opts.MaxIterations)
			if results[r].reseeds > 0 {
				monitoring.Logf("kmeans: run %d reseeded %d empty clusters", r, results[r].reseeds)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	best := 0
	for r := 1; r < len(results); r++ {
		if results[r].dispersion < results[best].dispersion {
			best = r
		}
	}
	res := results[best]

	centroids := mat.NewDense(opts.NumClusters, d, nil)
	for k, c := range res.centroids {
		centroids.SetRow(k, c)
	}
	return &Model{
		centroids:  centroids,
		dispersion: res.dispersion,
		iterations: res.iterations,
		converged:  res.converged,
	}, res.labels, nil
}

func workerLimit(workers int) int {
	switch {
	case workers <= 1:
		return 1
	case workers > runtime.GOMAXPROCS(0):
		return runtime.GOMAXPROCS(0)
	default:
		return workers
	}
}

// initPlusPlus picks k initial centroids by k-means++ seeding: the first
// uniformly, each following one with probability proportional to its
// squared distance from the nearest centroid chosen so far. When every
// remaining distance is zero the lowest-index sample not yet chosen is used.
func initPlusPlus(points [][]float64, k int, rng *rand.Rand) [][]float64 {
	n := len(points)
	chosen := make([]bool, n)
	centroids := make([][]float64, 0, k)

	first := rng.IntN(n)
	chosen[first] = true
	centroids = append(centroids, append([]float64(nil), points[first]...))

	nearest := make([]float64, n)
	for i, p := range points {
		nearest[i] = sqDist(p, centroids[0])
	}

	for len(centroids) < k {
		total := floats.Sum(nearest)
		next := -1
		if total > 0 {
			target := rng.Float64() * total
			var acc float64
			for i, w := range nearest {
				if w == 0 {
					continue
				}
				acc += w
				next = i
				if acc > target {
					break
				}
			}
		} else {
			for i := range points {
				if !chosen[i] {
					next = i
					break
				}
			}
		}

		chosen[next] = true
		c := append([]float64(nil), points[next]...)
		centroids = append(centroids, c)
		for i, p := range points {
			if d := sqDist(p, c); d < nearest[i] {
				nearest[i] = d
			}
		}
	}
	return centroids
}

// lloyd refines the given centroids until an assignment pass changes
// nothing and no empty cluster had to be reseeded, or maxIter passes ran.
// A reseed that can only take a sample already sitting on its centroid
// also ends the run, with zero dispersion.
func lloyd(points [][]float64, centroids [][]float64, maxIter int) runResult {
	n := len(points)
	k := len(centroids)
	d := len(centroids[0])

	labels := make([]int, n)
	for i := range labels {
		labels[i] = -1
	}
	counts := make([]int, k)
	res := runResult{centroids: centroids}

	for it := 0; it < maxIter; it++ {
		res.iterations = it + 1

		changed := false
		for i, p := range points {
			best, _ := nearestCentroid(p, centroids)
			if best != labels[i] {
				labels[i] = best
				changed = true
			}
		}

		updateCentroids(points, labels, centroids, counts, d)
		reseeded, exhausted := reseedEmpty(points, labels, centroids, counts, d)
		res.reseeds += reseeded

		if exhausted || (!changed && reseeded == 0) {
			res.converged = true
			break
		}
	}

	res.labels = labels
	for i, p := range points {
		res.dispersion += sqDist(p, centroids[labels[i]])
	}
	return res
}

// updateCentroids sets each non-empty centroid to the mean of its members
// and fills counts. Empty centroids keep their previous position.
func updateCentroids(points [][]float64, labels []int, centroids [][]float64, counts []int, d int) {
	for k := range counts {
		counts[k] = 0
	}
	sums := make([][]float64, len(centroids))
	for k := range sums {
		sums[k] = make([]float64, d)
	}
	for i, p := range points {
		floats.Add(sums[labels[i]], p)
		counts[labels[i]]++
	}
	for k, c := range counts {
		if c == 0 {
			continue
		}
		floats.ScaleTo(centroids[k], 1/float64(c), sums[k])
	}
}

// reseedEmpty moves, for each empty cluster in index order, the sample
// farthest from its own centroid into that cluster. Only clusters with more
// than one member donate, so no cluster is emptied in the process. Both the
// donor and the reseeded centroid are recomputed. Returns the number of
// reseeded clusters and whether any of them took a donor sample at zero
// distance from its centroid.
func reseedEmpty(points [][]float64, labels []int, centroids [][]float64, counts []int, d int) (reseeded int, exhausted bool) {
	for k := range centroids {
		if counts[k] > 0 {
			continue
		}
		far, farDist := -1, -1.0
		for i, p := range points {
			if counts[labels[i]] < 2 {
				continue
			}
			if dist := sqDist(p, centroids[labels[i]]); dist > farDist {
				far, farDist = i, dist
			}
		}
		if far < 0 {
			// Only reachable with fewer samples than clusters, which Fit rejects.
			continue
		}

		donor := labels[far]
		labels[far] = k
		counts[donor]--
		counts[k] = 1
		copy(centroids[k], points[far])
		recomputeCentroid(points, labels, centroids[donor], donor, counts[donor], d)
		reseeded++
		if farDist == 0 {
			exhausted = true
		}
	}
	return reseeded, exhausted
}

func recomputeCentroid(points [][]float64, labels []int, dst []float64, cluster, count, d int) {
	for j := 0; j < d; j++ {
		dst[j] = 0
	}
	for i, p := range points {
		if labels[i] == cluster {
			floats.Add(dst, p)
		}
	}
	floats.Scale(1/float64(count), dst)
}

// nearestCentroid returns the index of the closest centroid under squared
// Euclidean distance. Exact ties go to the lowest index.
func nearestCentroid(p []float64, centroids [][]float64) (int, float64) {
	best, bestDist := 0, sqDist(p, centroids[0])
	for k := 1; k < len(centroids); k++ {
		if dist := sqDist(p, centroids[k]); dist < bestDist {
			best, bestDist = k, dist
		}
	}
	return best, bestDist
}

func nonFinite(v []float64) int {
	for j, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return j
		}
	}
	return -1
}

func sqDist(a, b []float64) float64 {
	var s float64
	for j := range a {
		diff := a[j] - b[j]
		s += diff * diff
	}
	return s
}
