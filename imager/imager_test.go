package imager

import (
	"bytes"
	"image/png"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/peijin94/ovro-data-recorder/fft"
	"github.com/peijin94/ovro-data-recorder/gulp"
	"github.com/peijin94/ovro-data-recorder/monitor"
	"github.com/peijin94/ovro-data-recorder/station"
)

// A set of unit-weight visibilities scattered across several uv-grid
// cells, inverse-FFTed and recentered, must peak at the image center: this
// is the dirty beam of a point source at the phase center, and is exactly
// what a constant-amplitude visibility set represents.
func TestGridAndFFTShiftPeakAtCenterForUnitVisibilities(t *testing.T) {
	opts := GridOptions{Size: 8, PixelSize: 0.5, WRes: 0.1}

	u := []float64{0, 0.5, -0.5, 1.0, -1.0, 1.5}
	v := []float64{0, 0.5, -0.5, -1.0, 1.0, 0}
	w := []float64{0, 0.1, -0.1, 0.2, -0.2, 0}
	vis := make([]complex128, len(u))
	weight := make([]float64, len(u))
	for i := range vis {
		vis[i] = 1
		weight[i] = 1
	}

	grid, corr, err := Grid(u, v, w, vis, weight, opts)
	require.NoError(t, err)

	plan := fft.NewPlan2D(opts.Size)
	out := make([]complex128, len(grid))
	require.NoError(t, plan.Transform(out, grid, fft.Backward))

	real64 := make([]float64, len(out))
	for i, c := range out {
		real64[i] = real(c) / corr[i]
	}
	FFTShift2D(real64, opts.Size)

	peak := 0
	for i, val := range real64 {
		if val > real64[peak] {
			peak = i
		}
	}
	center := (opts.Size/2)*opts.Size + opts.Size/2
	require.Equal(t, center, peak)
}

func TestGridRejectsMismatchedLengths(t *testing.T) {
	_, _, err := Grid([]float64{0, 1}, []float64{0}, []float64{0}, []complex128{1}, []float64{1}, GridOptions{Size: 8, PixelSize: 0.5})
	require.Error(t, err)
}

func TestGridRejectsInvalidOptions(t *testing.T) {
	_, _, err := Grid(nil, nil, nil, nil, nil, GridOptions{Size: 0, PixelSize: 0.5})
	require.Error(t, err)
}

func TestRotateByIMultipliesByImaginaryUnit(t *testing.T) {
	v := complex(3.0, 4.0)
	got := rotateByI(v)
	require.InDelta(t, real(v*complex(0, 1)), real(got), 1e-9)
	require.InDelta(t, imag(v*complex(0, 1)), imag(got), 1e-9)
}

func TestStageRenderImageProducesComposedPNG(t *testing.T) {
	st := station.Test()
	nstand := st.NStand()
	shape := gulp.Shape{NTime: 1, NBl: gulp.NumBaselines(nstand), NChan: 4, NPol: gulp.NPol}
	buf := gulp.NewBuffer(shape)
	for bl := 0; bl < shape.NBl; bl++ {
		for c := 0; c < shape.NChan; c++ {
			buf.Set(0, bl, c, int(gulp.XX), 10, 0)
			buf.Set(0, bl, c, int(gulp.XY), 1, 1)
			buf.Set(0, bl, c, int(gulp.YY), 8, 0)
		}
	}
	cdata := buf.Normalize(1.0)

	stage := &Stage{
		Monitor: monitor.NewInProcess(),
		Config:  Config{Station: st},
		Log:     zap.NewNop().Sugar(),
	}

	freqs := make([]float64, shape.NChan)
	for c := range freqs {
		freqs[c] = 50e6 + float64(c)*1e6
	}

	out, err := stage.renderImage(cdata, shape, st.ZenithUVW(), freqs, nstand, 1000)
	require.NoError(t, err)
	require.NotEmpty(t, out)

	img, err := png.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	require.Equal(t, 860, img.Bounds().Dx())
	require.Equal(t, 420, img.Bounds().Dy())
}

func TestChannelFrequenciesDerivedFromChan0(t *testing.T) {
	hdr := gulp.HeaderFromWire(0, 0, 100, 4, 10000, gulp.NumBaselines(3), false)
	freqs := channelFrequencies(hdr)
	require.Len(t, freqs, 4)
	require.InDelta(t, float64(100)*float64(gulp.ChanBW), freqs[0], 1e-6)
}
