// Package pipeline chains the stages of a clustering run: feature matrix,
// principal component reduction, k-means, and reconstruction of the
// representative profiles.
package pipeline

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/windprofile/internal/config"
	"github.com/banshee-data/windprofile/internal/kmeans"
	"github.com/banshee-data/windprofile/internal/monitoring"
	"github.com/banshee-data/windprofile/internal/pca"
	"github.com/banshee-data/windprofile/internal/preprocess"
	"github.com/banshee-data/windprofile/internal/profile"
	"github.com/banshee-data/windprofile/internal/reconstruct"
)

// Result is the outcome of Train. Labels, Reduced rows and the input
// profiles share one index; Profiles, Counts and Frequencies are indexed by
// cluster.
type Result struct {
	RunID     string
	Altitudes []float64

	Reducer *pca.Model
	Reduced *mat.Dense

	Clusters *kmeans.Model
	Labels   []int

	Profiles    []reconstruct.Profile
	Counts      []int
	Frequencies []float64
}

// Prediction is the outcome of Predict.
type Prediction struct {
	Reduced     *mat.Dense
	Labels      []int
	Counts      []int
	Frequencies []float64
}

// Normalize preprocesses raw wind samples with the reference height and
// speed threshold from cfg.
func Normalize(samples []preprocess.WindSample, cfg *config.ClusteringConfig) (*preprocess.Result, error) {
	res, err := preprocess.Normalize(samples, preprocess.Options{
		ReferenceHeight:   cfg.GetReferenceHeight(),
		MinReferenceSpeed: cfg.GetMinReferenceSpeed(),
	})
	if err != nil {
		return nil, err
	}
	if len(res.Skipped) > 0 {
		monitoring.Logf("preprocess: skipped %d of %d samples with reference speed below %.2f m/s",
			len(res.Skipped), len(samples), cfg.GetMinReferenceSpeed())
	}
	return res, nil
}

// Train fits a reducer and cluster model to raws and reconstructs one
// representative profile per cluster.
func Train(ctx context.Context, raws []profile.RawProfile, cfg *config.ClusteringConfig) (*Result, error) {
	runID := uuid.New().String()

	fm, err := profile.Build(raws)
	if err != nil {
		return nil, fmt.Errorf("build feature matrix: %w", err)
	}
	n, d := fm.Dims()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	done := monitoring.Timef("run %s: fit %d components on %d samples x %d features",
		runID, cfg.GetNComponents(), n, d)
	reducer, reduced, err := pca.FitTransform(fm.X, cfg.GetNComponents())
	done()
	if err != nil {
		return nil, fmt.Errorf("fit reducer: %w", err)
	}
	logRetainedVariance(runID, reducer)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	done = monitoring.Timef("run %s: fit %d clusters", runID, cfg.GetNClusters())
	clusters, labels, err := kmeans.Fit(reduced, kmeans.Options{
		NumClusters:   cfg.GetNClusters(),
		MaxIterations: cfg.GetMaxIterations(),
		NumInit:       cfg.GetNInit(),
		Seed:          cfg.GetSeed(),
		Workers:       cfg.GetWorkers(),
	})
	done()
	if err != nil {
		return nil, fmt.Errorf("fit clusters: %w", err)
	}
	if !clusters.Converged() {
		monitoring.Logf("run %s: k-means stopped at %d iterations without converging", runID, clusters.Iterations())
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	profiles, err := reconstruct.ClusterProfiles(reducer, clusters, fm.NumAltitudes())
	if err != nil {
		return nil, fmt.Errorf("reconstruct cluster profiles: %w", err)
	}
	counts, freqs, err := Frequencies(labels, clusters.NumClusters())
	if err != nil {
		return nil, err
	}

	return &Result{
		RunID:       runID,
		Altitudes:   fm.Altitudes,
		Reducer:     reducer,
		Reduced:     reduced,
		Clusters:    clusters,
		Labels:      labels,
		Profiles:    profiles,
		Counts:      counts,
		Frequencies: freqs,
	}, nil
}

// Predict assigns raws to the clusters of a trained model pair.
func Predict(ctx context.Context, raws []profile.RawProfile, reducer *pca.Model, clusters *kmeans.Model) (*Prediction, error) {
	fm, err := profile.Build(raws)
	if err != nil {
		return nil, fmt.Errorf("build feature matrix: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	reduced, err := reducer.TransformMatrix(fm.X)
	if err != nil {
		return nil, fmt.Errorf("reduce: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	labels, err := clusters.PredictMatrix(reduced)
	if err != nil {
		return nil, fmt.Errorf("assign clusters: %w", err)
	}
	counts, freqs, err := Frequencies(labels, clusters.NumClusters())
	if err != nil {
		return nil, err
	}
	return &Prediction{Reduced: reduced, Labels: labels, Counts: counts, Frequencies: freqs}, nil
}

// Frequencies counts the samples per cluster and their share of the total.
func Frequencies(labels []int, k int) (counts []int, freqs []float64, err error) {
	if k < 1 {
		return nil, nil, fmt.Errorf("%w: %d clusters", kmeans.ErrInvalidClusterCount, k)
	}
	counts = make([]int, k)
	for i, l := range labels {
		if l < 0 || l >= k {
			return nil, nil, fmt.Errorf("%w: label %d of sample %d outside [0, %d)",
				kmeans.ErrInvalidClusterCount, l, i, k)
		}
		counts[l]++
	}
	freqs = make([]float64, k)
	if len(labels) == 0 {
		return counts, freqs, nil
	}
	for c, n := range counts {
		freqs[c] = float64(n) / float64(len(labels))
	}
	return counts, freqs, nil
}

func logRetainedVariance(runID string, r *pca.Model) {
	ratio := r.ExplainedVarianceRatio()
	cum := r.CumulativeVarianceRatio()
	if len(ratio) >= 2 {
		monitoring.Logf("run %s: PC1 retains %.1f%%, PC2 %.1f%% of the variance",
			runID, 100*ratio[0], 100*ratio[1])
	}
	monitoring.Logf("run %s: %d components retain %.1f%% of the variance",
		runID, len(cum), 100*cum[len(cum)-1])
}
