package stats

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/peijin94/ovro-data-recorder/gulp"
	"github.com/peijin94/ovro-data-recorder/monitor"
)

func TestEmitPublishesMinAvgMaxPerStand(t *testing.T) {
	nstand := 3
	shape := gulp.Shape{NTime: 1, NBl: gulp.NumBaselines(nstand), NChan: 3, NPol: gulp.NPol}
	buf := gulp.NewBuffer(shape)
	autoIdx := gulp.AutoIndices(nstand)

	for i, bl := range autoIdx {
		for c := 0; c < shape.NChan; c++ {
			val := int32((i+1)*10 + c)
			buf.Set(0, bl, c, int(gulp.XX), val, 0)
			buf.Set(0, bl, c, int(gulp.YY), val*2, 0)
		}
	}
	cdata := buf.Normalize(1.0)

	mon := monitor.NewInProcess()
	stage := &Stage{Monitor: mon, Log: zap.NewNop().Sugar()}
	stage.emit(cdata, shape, autoIdx)

	p, ok := mon.Get("statistics/avg")
	require.True(t, ok)
	avg := p.Value.(map[string][]float64)
	require.Len(t, avg["XX"], nstand)
	require.InDelta(t, 11.0, avg["XX"][0], 1e-6) // stand 0: values 10,11,12 -> avg 11
}
