package baseline

import (
	"bytes"
	"image/png"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/peijin94/ovro-data-recorder/gulp"
	"github.com/peijin94/ovro-data-recorder/station"
)

func TestRenderBaselinePlotDropsShortBaselines(t *testing.T) {
	st := station.Test()
	uvw := st.ZenithUVW()

	shape := gulp.Shape{NTime: 1, NBl: len(uvw), NChan: 1, NPol: gulp.NPol}
	buf := gulp.NewBuffer(shape)
	for bl := 0; bl < shape.NBl; bl++ {
		buf.Set(0, bl, 0, int(gulp.XX), 5, 0)
		buf.Set(0, bl, 0, int(gulp.YY), 7, 0)
	}
	cdata := buf.Normalize(1.0)

	out, err := renderBaselinePlot(cdata, shape, uvw, 0)
	require.NoError(t, err)
	require.NotEmpty(t, out)

	img, err := png.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	require.Equal(t, plotWidthPx, img.Bounds().Dx())
	require.Equal(t, plotHeightPx, img.Bounds().Dy())
}

func TestCmplxAbs(t *testing.T) {
	require.InDelta(t, 5.0, cmplxAbs(complex(3, 4)), 1e-9)
}
