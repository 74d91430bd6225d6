// Package preprocess turns raw east/north wind measurements into the
// normalised parallel/perpendicular profiles the reducer is trained on.
//
// Each sample is rotated into the direction of its own wind at the
// reference height and scaled by the wind speed there, so every normalised
// profile has parallel = 1 and perpendicular = 0 at the reference height.
package preprocess

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/interp"

	"github.com/banshee-data/windprofile/internal/profile"
)

// ErrReferenceHeight is returned when the reference height lies outside a
// sample's altitude range.
var ErrReferenceHeight = errors.New("reference height outside altitude range")

// WindSample is one measured or modelled wind profile. East and North are
// the horizontal wind components at each altitude.
type WindSample struct {
	ID        string
	Altitudes []float64
	East      []float64
	North     []float64
}

// Options controls normalisation.
type Options struct {
	ReferenceHeight   float64
	MinReferenceSpeed float64
}

// Skipped records a sample left out because its reference wind was too weak
// to define a direction.
type Skipped struct {
	Index          int
	ID             string
	ReferenceSpeed float64
}

// Result holds the normalised profiles and, index-aligned with them, the
// source sample IDs and reference winds. ReferenceDirection is the angle of
// the reference wind in radians, counter-clockwise from east.
type Result struct {
	Profiles           []profile.RawProfile
	IDs                []string
	ReferenceSpeed     []float64
	ReferenceDirection []float64
	Skipped            []Skipped
}

// Normalize rotates and scales every sample. Samples whose reference speed is
// zero or below opts.MinReferenceSpeed are skipped, not failed.
func Normalize(samples []WindSample, opts Options) (*Result, error) {
	res := &Result{}
	for i, s := range samples {
		if err := validate(s); err != nil {
			return nil, fmt.Errorf("sample %d (%s): %w", i, s.ID, err)
		}
		u, v, err := referenceWind(s, opts.ReferenceHeight)
		if err != nil {
			return nil, fmt.Errorf("sample %d (%s): %w", i, s.ID, err)
		}

		speed := math.Hypot(u, v)
		if speed == 0 || speed < opts.MinReferenceSpeed {
			res.Skipped = append(res.Skipped, Skipped{Index: i, ID: s.ID, ReferenceSpeed: speed})
			continue
		}

		res.Profiles = append(res.Profiles, rotate(s, u, v, speed))
		res.IDs = append(res.IDs, s.ID)
		res.ReferenceSpeed = append(res.ReferenceSpeed, speed)
		res.ReferenceDirection = append(res.ReferenceDirection, math.Atan2(v, u))
	}
	return res, nil
}

func validate(s WindSample) error {
	n := len(s.Altitudes)
	if n < 2 {
		return fmt.Errorf("%w: need at least 2 altitudes, got %d", profile.ErrShapeMismatch, n)
	}
	if len(s.East) != n || len(s.North) != n {
		return fmt.Errorf("%w: %d altitudes but %d east and %d north values",
			profile.ErrShapeMismatch, n, len(s.East), len(s.North))
	}
	for i := 1; i < n; i++ {
		if s.Altitudes[i] <= s.Altitudes[i-1] {
			return fmt.Errorf("%w: altitudes not strictly increasing at index %d", profile.ErrShapeMismatch, i)
		}
	}
	names := [...]string{"altitude", "east", "north"}
	for c, vals := range [][]float64{s.Altitudes, s.East, s.North} {
		if i := profile.NonFinite(vals); i >= 0 {
			return fmt.Errorf("%w: %s[%d] = %g", profile.ErrNonFinite, names[c], i, vals[i])
		}
	}
	return nil
}

// referenceWind interpolates the wind vector at height h.
func referenceWind(s WindSample, h float64) (u, v float64, err error) {
	lo, hi := s.Altitudes[0], s.Altitudes[len(s.Altitudes)-1]
	if h < lo || h > hi {
		return 0, 0, fmt.Errorf("%w: %g m not in [%g, %g]", ErrReferenceHeight, h, lo, hi)
	}
	var east, north interp.PiecewiseLinear
	if err := east.Fit(s.Altitudes, s.East); err != nil {
		return 0, 0, fmt.Errorf("interpolate east: %w", err)
	}
	if err := north.Fit(s.Altitudes, s.North); err != nil {
		return 0, 0, fmt.Errorf("interpolate north: %w", err)
	}
	return east.Predict(h), north.Predict(h), nil
}

// rotate projects each level onto the unit reference direction (parallel)
// and its 90° counter-clockwise normal (perpendicular), in units of the
// reference speed.
func rotate(s WindSample, uRef, vRef, speed float64) profile.RawProfile {
	n := len(s.Altitudes)
	cos, sin := uRef/speed, vRef/speed
	p := profile.RawProfile{
		Altitudes:     append([]float64(nil), s.Altitudes...),
		Parallel:      make([]float64, n),
		Perpendicular: make([]float64, n),
	}
	for i := 0; i < n; i++ {
		u, v := s.East[i], s.North[i]
		p.Parallel[i] = (u*cos + v*sin) / speed
		p.Perpendicular[i] = (-u*sin + v*cos) / speed
	}
	return p
}
