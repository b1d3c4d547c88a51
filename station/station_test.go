package station

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestZenithUVWIncludesAutosAndCrosses(t *testing.T) {
	s := Test()
	uvw := s.ZenithUVW()
	require.Len(t, uvw, 6) // nbl = 3*4/2 for 3 antennas

	// First entry is the (0,0) auto-correlation: always zero baseline.
	require.Equal(t, [3]float64{0, 0, 0}, uvw[0])
}

func TestUVDistanceIgnoresW(t *testing.T) {
	d := UVDistance([3]float64{3, 4, 100})
	require.InDelta(t, 5.0, d, 1e-9)
}
