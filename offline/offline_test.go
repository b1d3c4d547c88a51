package offline

import (
	"encoding/json"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/peijin94/ovro-data-recorder/gulp"
	"github.com/peijin94/ovro-data-recorder/ring"
)

func TestProducerEmitsHeaderAndGulps(t *testing.T) {
	r := ring.New("test")
	log := zap.NewNop().Sugar()

	p := &Producer{
		Config: Config{
			NTimeGulp: 2,
			NStand:    3,
			Chan0:     100,
			NChan:     4,
			NAvg:      24,
			RealTime:  false,
		},
		Ring:     r,
		Log:      log,
		Shutdown: make(chan struct{}),
	}

	rs := r.Read(true)
	done := make(chan struct{})
	var hdr gulp.Header
	var gulpCount int

	go func() {
		defer close(done)
		hdrBytes, err := rs.Header()
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(hdrBytes, &hdr))
		for i := 0; i < 3; i++ {
			_, err := rs.Next()
			require.NoError(t, err)
			gulpCount++
		}
		Stop(p.Shutdown)
	}()

	err := p.Run()
	require.NoError(t, err)
	<-done

	require.Equal(t, 3, gulpCount)
	require.Equal(t, gulp.NumBaselines(3), hdr.NBl)
	require.Equal(t, 4, hdr.NChan)
}

func TestZeroModelFallbackOnMissingFile(t *testing.T) {
	p := &Producer{Config: Config{SkyModelPath: "/nonexistent/path.npy"}, Log: zap.NewNop().Sugar()}
	m := p.loadModel(6, 4, gulp.NPol)
	require.Equal(t, 6*4*gulp.NPol, len(m.Data))
	for _, v := range m.Data {
		require.Equal(t, complex(0, 0), v)
	}
}

func TestSynthesizeAppliesScaleAndNoise(t *testing.T) {
	p := &Producer{Config: Config{}}
	p.rng = rand.New(rand.NewSource(1))
	shape := gulp.Shape{NTime: 1, NBl: 1, NChan: 1, NPol: 1}
	model := &SkyModel{Shape: []int{1, 1, 1}, Data: []complex128{complex(1, 0)}}
	buf := p.synthesize(shape, model)
	re, _ := buf.At(0, 0, 0, 0)
	// scaled by 1000 plus noise of sigma 10: expect it to land well away
	// from zero and reasonably close to 1000.
	require.InDelta(t, 1000, re, 200)
}
