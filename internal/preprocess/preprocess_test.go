package preprocess

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/windprofile/internal/profile"
)

var grid = []float64{10, 100, 200}

func TestNormalize_EasterlyReference(t *testing.T) {
	t.Parallel()

	res, err := Normalize([]WindSample{{
		ID: "a", Altitudes: grid, East: []float64{3, 6, 8}, North: []float64{0, 0, 0},
	}}, Options{ReferenceHeight: 100})
	require.NoError(t, err)
	require.Len(t, res.Profiles, 1)

	p := res.Profiles[0]
	assert.Equal(t, grid, p.Altitudes)
	assert.InDeltaSlice(t, []float64{0.5, 1, 8.0 / 6}, p.Parallel, 1e-12)
	assert.InDeltaSlice(t, []float64{0, 0, 0}, p.Perpendicular, 1e-12)
	assert.Equal(t, []float64{6}, res.ReferenceSpeed)
	assert.Equal(t, []float64{0}, res.ReferenceDirection)
	assert.Equal(t, []string{"a"}, res.IDs)
	assert.Empty(t, res.Skipped)
}

func TestNormalize_PerpendicularIsCounterClockwise(t *testing.T) {
	t.Parallel()

	// Reference wind blows north, so counter-clockwise is west and an
	// eastward component counts as negative perpendicular.
	res, err := Normalize([]WindSample{{
		ID: "n", Altitudes: grid, East: []float64{1, 0, -2}, North: []float64{0, 4, 4},
	}}, Options{ReferenceHeight: 100})
	require.NoError(t, err)

	p := res.Profiles[0]
	assert.InDeltaSlice(t, []float64{0, 1, 1}, p.Parallel, 1e-12)
	assert.InDeltaSlice(t, []float64{-0.25, 0, 0.5}, p.Perpendicular, 1e-12)
	assert.InDelta(t, math.Pi/2, res.ReferenceDirection[0], 1e-12)
}

func TestNormalize_InterpolatesReference(t *testing.T) {
	t.Parallel()

	res, err := Normalize([]WindSample{{
		ID: "i", Altitudes: grid, East: []float64{3, 6, 8}, North: []float64{0, 0, 0},
	}}, Options{ReferenceHeight: 55})
	require.NoError(t, err)

	assert.InDelta(t, 4.5, res.ReferenceSpeed[0], 1e-12)
	assert.InDeltaSlice(t, []float64{3 / 4.5, 6 / 4.5, 8 / 4.5}, res.Profiles[0].Parallel, 1e-12)
}

func TestNormalize_SkipsWeakReference(t *testing.T) {
	t.Parallel()

	samples := []WindSample{
		{ID: "calm", Altitudes: grid, East: []float64{1, 0, 1}, North: []float64{0, 0, 0}},
		{ID: "light", Altitudes: grid, East: []float64{1, 1, 1}, North: []float64{0, 0, 0}},
		{ID: "fresh", Altitudes: grid, East: []float64{4, 5, 6}, North: []float64{0, 0, 0}},
	}
	res, err := Normalize(samples, Options{ReferenceHeight: 100, MinReferenceSpeed: 2})
	require.NoError(t, err)

	assert.Equal(t, []string{"fresh"}, res.IDs)
	assert.Equal(t, []Skipped{
		{Index: 0, ID: "calm", ReferenceSpeed: 0},
		{Index: 1, ID: "light", ReferenceSpeed: 1},
	}, res.Skipped)
}

func TestNormalize_ZeroSpeedSkippedWithoutMinimum(t *testing.T) {
	t.Parallel()

	res, err := Normalize([]WindSample{
		{ID: "calm", Altitudes: grid, East: []float64{1, 0, 1}, North: []float64{0, 0, 0}},
	}, Options{ReferenceHeight: 100})
	require.NoError(t, err)
	assert.Empty(t, res.Profiles)
	assert.Len(t, res.Skipped, 1)
}

func TestNormalize_ReferenceHeightOutOfRange(t *testing.T) {
	t.Parallel()

	for _, h := range []float64{5, 250} {
		_, err := Normalize([]WindSample{
			{ID: "a", Altitudes: grid, East: []float64{1, 2, 3}, North: []float64{0, 0, 0}},
		}, Options{ReferenceHeight: h})
		assert.ErrorIs(t, err, ErrReferenceHeight, "height %g", h)
	}
}

func TestNormalize_ShapeErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		sample WindSample
	}{
		{"single level", WindSample{Altitudes: []float64{100}, East: []float64{1}, North: []float64{0}}},
		{"short east", WindSample{Altitudes: grid, East: []float64{1, 2}, North: []float64{0, 0, 0}}},
		{"short north", WindSample{Altitudes: grid, East: []float64{1, 2, 3}, North: []float64{0}}},
		{"unsorted", WindSample{Altitudes: []float64{10, 200, 100}, East: []float64{1, 2, 3}, North: []float64{0, 0, 0}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Normalize([]WindSample{tt.sample}, Options{ReferenceHeight: 100})
			assert.ErrorIs(t, err, profile.ErrShapeMismatch)
		})
	}
}

func TestNormalize_RejectsNonFinite(t *testing.T) {
	t.Parallel()

	for _, bad := range []WindSample{
		{ID: "nan", Altitudes: grid, East: []float64{1, math.NaN(), 3}, North: []float64{0, 0, 0}},
		{ID: "inf", Altitudes: grid, East: []float64{1, 2, 3}, North: []float64{0, 0, math.Inf(1)}},
	} {
		_, err := Normalize([]WindSample{bad}, Options{ReferenceHeight: 100})
		assert.ErrorIs(t, err, profile.ErrNonFinite, bad.ID)
	}
}

func TestNormalize_DoesNotAliasInput(t *testing.T) {
	t.Parallel()

	alt := []float64{10, 100, 200}
	res, err := Normalize([]WindSample{
		{ID: "a", Altitudes: alt, East: []float64{1, 2, 3}, North: []float64{0, 0, 0}},
	}, Options{ReferenceHeight: 100})
	require.NoError(t, err)

	alt[0] = -1
	assert.Equal(t, 10.0, res.Profiles[0].Altitudes[0])
}
