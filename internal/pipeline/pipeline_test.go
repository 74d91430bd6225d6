package pipeline

import (
	"context"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/windprofile/internal/config"
	"github.com/banshee-data/windprofile/internal/kmeans"
	"github.com/banshee-data/windprofile/internal/monitoring"
	"github.com/banshee-data/windprofile/internal/pca"
	"github.com/banshee-data/windprofile/internal/preprocess"
	"github.com/banshee-data/windprofile/internal/profile"
)

func init() {
	monitoring.SetLogger(nil)
}

func intPtr(v int) *int { return &v }

// pairs is the four-sample scenario on a single altitude: two tight pairs
// far apart along the parallel axis.
func pairs() []profile.RawProfile {
	mk := func(par, perp float64) profile.RawProfile {
		return profile.RawProfile{
			Altitudes:     []float64{100},
			Parallel:      []float64{par},
			Perpendicular: []float64{perp},
		}
	}
	return []profile.RawProfile{mk(1, 0), mk(1, 0.1), mk(-1, 0), mk(-1, -0.1)}
}

func pairsConfig() *config.ClusteringConfig {
	return &config.ClusteringConfig{NComponents: intPtr(1), NClusters: intPtr(2)}
}

func TestTrain_SeparatedPairs(t *testing.T) {
	t.Parallel()

	res, err := Train(context.Background(), pairs(), pairsConfig())
	require.NoError(t, err)

	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, []float64{100}, res.Altitudes)

	pc := res.Reducer.Component(0)
	assert.InDelta(t, 0.998747, pc[0], 1e-5)
	assert.InDelta(t, 0.050062, pc[1], 1e-5)
	assert.Greater(t, res.Reducer.ExplainedVarianceRatio()[0], 0.99)

	assert.Equal(t, res.Labels[0], res.Labels[1])
	assert.Equal(t, res.Labels[2], res.Labels[3])
	assert.NotEqual(t, res.Labels[0], res.Labels[2])

	// Each pair is 0.1·pc₁ ≈ 0.005 wide in reduced space.
	assert.Less(t, res.Clusters.Dispersion(), 0.01)
	assert.InDelta(t, 2.5062e-5, res.Clusters.Dispersion(), 1e-7)

	assert.Equal(t, []int{2, 2}, res.Counts)
	assert.Equal(t, []float64{0.5, 0.5}, res.Frequencies)

	require.Len(t, res.Profiles, 2)
	pos := res.Profiles[res.Labels[0]]
	neg := res.Profiles[res.Labels[2]]
	assert.InDelta(t, 1.0, pos.Parallel[0], 1e-3)
	assert.InDelta(t, 0.05, pos.Perpendicular[0], 1e-3)
	assert.InDelta(t, -1.0, neg.Parallel[0], 1e-3)
	assert.InDelta(t, -0.05, neg.Perpendicular[0], 1e-3)
}

func TestTrain_Deterministic(t *testing.T) {
	t.Parallel()

	cfg := pairsConfig()
	a, err := Train(context.Background(), pairs(), cfg)
	require.NoError(t, err)
	b, err := Train(context.Background(), pairs(), cfg)
	require.NoError(t, err)

	assert.NotEqual(t, a.RunID, b.RunID)
	assert.Equal(t, a.Labels, b.Labels)
	if diff := cmp.Diff(a.Clusters.Snapshot(), b.Clusters.Snapshot()); diff != "" {
		t.Errorf("cluster models differ:\n%s", diff)
	}
	if diff := cmp.Diff(a.Profiles, b.Profiles); diff != "" {
		t.Errorf("profiles differ:\n%s", diff)
	}
}

func TestTrain_PropagatesStageErrors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	_, err := Train(ctx, nil, pairsConfig())
	assert.ErrorIs(t, err, profile.ErrShapeMismatch)

	_, err = Train(ctx, pairs(), &config.ClusteringConfig{NComponents: intPtr(3), NClusters: intPtr(2)})
	assert.ErrorIs(t, err, pca.ErrInvalidComponentCount)

	_, err = Train(ctx, pairs(), &config.ClusteringConfig{NComponents: intPtr(1), NClusters: intPtr(5)})
	assert.ErrorIs(t, err, kmeans.ErrInvalidClusterCount)
}

func TestTrainAndPredict_RejectNonFinite(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	bad := pairs()
	bad[1].Perpendicular[0] = math.NaN()

	res, err := Train(ctx, bad, pairsConfig())
	assert.Nil(t, res)
	assert.ErrorIs(t, err, profile.ErrNonFinite)

	trained, err := Train(ctx, pairs(), pairsConfig())
	require.NoError(t, err)
	pred, err := Predict(ctx, bad, trained.Reducer, trained.Clusters)
	assert.Nil(t, pred)
	assert.ErrorIs(t, err, profile.ErrNonFinite)
}

func TestTrain_CancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := Train(ctx, pairs(), pairsConfig())
	assert.Nil(t, res)
	assert.ErrorIs(t, err, context.Canceled)

	_, err = Predict(ctx, pairs(), nil, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPredict_MatchesTraining(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	res, err := Train(ctx, pairs(), pairsConfig())
	require.NoError(t, err)

	pred, err := Predict(ctx, pairs(), res.Reducer, res.Clusters)
	require.NoError(t, err)
	assert.Equal(t, res.Labels, pred.Labels)
	assert.Equal(t, res.Counts, pred.Counts)
	assert.Equal(t, res.Frequencies, pred.Frequencies)

	one, err := Predict(ctx, pairs()[:1], res.Reducer, res.Clusters)
	require.NoError(t, err)
	assert.Equal(t, []int{res.Labels[0]}, one.Labels)
}

func TestPredict_GridMismatch(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	res, err := Train(ctx, pairs(), pairsConfig())
	require.NoError(t, err)

	wide := []profile.RawProfile{{
		Altitudes:     []float64{100, 200},
		Parallel:      []float64{1, 1},
		Perpendicular: []float64{0, 0},
	}}
	_, err = Predict(ctx, wide, res.Reducer, res.Clusters)
	assert.ErrorIs(t, err, pca.ErrDimensionMismatch)
}

func TestNormalize_UsesConfig(t *testing.T) {
	t.Parallel()

	h, minSpeed := 100.0, 2.0
	cfg := &config.ClusteringConfig{ReferenceHeight: &h, MinReferenceSpeed: &minSpeed}
	samples := []preprocess.WindSample{
		{ID: "calm", Altitudes: []float64{10, 100}, East: []float64{1, 1}, North: []float64{0, 0}},
		{ID: "windy", Altitudes: []float64{10, 100}, East: []float64{2, 4}, North: []float64{0, 0}},
	}

	res, err := Normalize(samples, cfg)
	require.NoError(t, err)
	assert.Equal(t, []string{"windy"}, res.IDs)
	assert.Equal(t, []float64{0.5, 1}, res.Profiles[0].Parallel)
	require.Len(t, res.Skipped, 1)
	assert.Equal(t, "calm", res.Skipped[0].ID)
}

func TestFrequencies(t *testing.T) {
	t.Parallel()

	counts, freqs, err := Frequencies([]int{0, 2, 2, 1, 2}, 4)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 1, 3, 0}, counts)
	assert.Equal(t, []float64{0.2, 0.2, 0.6, 0}, freqs)

	counts, freqs, err = Frequencies(nil, 2)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 0}, counts)
	assert.Equal(t, []float64{0, 0}, freqs)

	_, _, err = Frequencies([]int{0, 3}, 3)
	assert.ErrorIs(t, err, kmeans.ErrInvalidClusterCount)
	_, _, err = Frequencies([]int{0}, 0)
	assert.ErrorIs(t, err, kmeans.ErrInvalidClusterCount)
}
