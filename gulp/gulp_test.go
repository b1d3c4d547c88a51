package gulp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNStandForBaselines(t *testing.T) {
	for _, nstand := range []int{1, 2, 3, 48, 256, 352} {
		nbl := NumBaselines(nstand)
		assert.Equal(t, nstand, NStandForBaselines(nbl))
	}
}

func TestAutoIndices(t *testing.T) {
	// For 3 stands, the upper-triangular baseline order is
	// (0,0) (0,1) (0,2) (1,1) (1,2) (2,2) -- autos at 0, 3, 5.
	idx := AutoIndices(3)
	require.Equal(t, []int{0, 3, 5}, idx)
}

func TestHeaderChanBW(t *testing.T) {
	h := Header{NChan: 192, Bandwidth: 192 * 23925.78125}
	assert.InDelta(t, 23925.78125, float64(h.ChanBW()), 1e-6)
}

func TestHeaderTimeTagAt(t *testing.T) {
	h := Header{TimeTag: 1000, NAvg: 10}
	assert.Equal(t, int64(1030), h.TimeTagAt(3))
}

func TestBufferNormalize(t *testing.T) {
	shape := Shape{NTime: 1, NBl: 1, NChan: 1, NPol: 1}
	buf := NewBuffer(shape)
	buf.Set(0, 0, 0, 0, 2000, -4000)

	n := buf.Normalize(1000)
	got := n.At(0, 0, 0, 0)
	assert.InDelta(t, 2.0, real(got), 1e-6)
	assert.InDelta(t, -4.0, imag(got), 1e-6)
}

func TestNormFactor(t *testing.T) {
	assert.Equal(t, float32(240000/(2*192)), NormFactor(240000, false))
	assert.Equal(t, float32(2400/(2*192))*4, NormFactor(2400, true))
}
