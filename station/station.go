// Package station is the physics-helper boundary named in spec.md §4.7:
// deriving zenith (u,v,w) baseline coordinates from station geometry is a
// concern that belongs to a real antenna-position/geodesy library (the
// retrieved source imports it from lwa_antpos.station and
// ovro_data_recorder.lwams.get_zenith_uvw, neither of which is part of
// this repository's corpus). Station is the seam that plugs into; Test
// returns a small, fixed antenna layout sufficient to exercise the
// baseline and imager stages without a real array definition.
package station

import "math"

// Antenna is one station element's fixed East-North-Up position, in
// meters, relative to the station's geographic reference point.
type Antenna struct {
	ID    string
	East  float64
	North float64
	Up    float64
}

// Station describes the antenna layout the baseline and imager stages
// need: enough to compute zenith-pointing baseline geometry.
type Station struct {
	Name     string
	Antennas []Antenna
}

// NStand is the number of antennas, used directly as the correlator's
// nstand parameter.
func (s Station) NStand() int {
	return len(s.Antennas)
}

// ZenithUVW returns the (u, v, w) baseline coordinate, in meters, for
// every baseline (including autos, in the spec's upper-triangular
// ordering) pointed at the local zenith.
//
// At zenith the line of sight is the local vertical, so the standard
// (u, v, w) basis collapses onto the antennas' own East-North-Up frame:
// u is the baseline's east component, v its north component, w its up
// component (the only one that matters for delay, since the source is
// directly overhead). This holds regardless of station latitude, which
// is why the original call site only ever needs a timestamp to resolve
// a time-varying polar alignment -- here, with a fixed ENU frame, it
// does not even need that, so ZenithUVW takes no timestamp.
func (s Station) ZenithUVW() [][3]float64 {
	n := len(s.Antennas)
	out := make([][3]float64, 0, n*(n+1)/2)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			a, b := s.Antennas[i], s.Antennas[j]
			out = append(out, [3]float64{
				b.East - a.East,
				b.North - a.North,
				b.Up - a.Up,
			})
		}
	}
	return out
}

// UVDistance returns sqrt(u^2+v^2), the ground-plane baseline length used
// to select baselines for the baseline and imager stages (spec.md §4.7,
// §4.8: "drop w=0 for distance").
func UVDistance(uvw [3]float64) float64 {
	return math.Hypot(uvw[0], uvw[1])
}

// Test returns a small, fixed three-antenna station sufficient to
// exercise every baseline/imager code path without a real array
// definition.
func Test() Station {
	return Station{
		Name: "test",
		Antennas: []Antenna{
			{ID: "1", East: 0, North: 0, Up: 0},
			{ID: "2", East: 10, North: 0, Up: 0.1},
			{ID: "3", East: 5, North: 8.66, Up: -0.1},
		},
	}
}
