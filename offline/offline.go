// Package offline implements the offline producer of spec.md §4.3: a
// capture.Producer substitute that needs no correlator, hardware, or
// network link, for development and regression testing. It generates the
// same sequence header and gulp cadence a live capture.Producer would, so
// every downstream stage is exercised identically regardless of source.
//
// Grounded on the Python DummyOp in original_source/scripts/dr_visibilities.py:
// an optional sky-model array is loaded once, scaled and given Gaussian
// noise every gulp, and gulps are paced to the real-time cadence the
// correlator would produce them at.
package offline

import (
	"encoding/json"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/peijin94/ovro-data-recorder/gulp"
	"github.com/peijin94/ovro-data-recorder/ring"
)

// skyScale and skyNoiseSigma match the Python DummyOp's `vis*1000 +
// numpy.random.normal(0, 10, vis.shape)` injection.
const (
	skyScale      = 1000.0
	skyNoiseSigma = 10.0
)

// Config configures a Producer.
type Config struct {
	NTimeGulp int
	NStand    int
	Chan0     int
	NChan     int
	NAvg      int64
	Fast      bool

	// SkyModelPath, if non-empty, names a .npy file to substitute for a
	// live sky; if empty or unreadable the model is all zeros (with a
	// warning logged), matching the Python fallback.
	SkyModelPath string

	// RealTime paces gulp emission to tgulp = ntime_gulp*navg/CHAN_BW
	// seconds, matching the live cadence; tests disable it.
	RealTime bool
}

// Producer is the offline substitute for capture.Producer: it needs no
// PacketSource, synthesizing its own sequence header and gulp cadence.
type Producer struct {
	Config   Config
	Ring     *ring.Ring
	Log      *zap.SugaredLogger
	Shutdown chan struct{}

	rng *rand.Rand
}

// Run emits gulps onto the ring fabric until Shutdown is closed.
func (p *Producer) Run() error {
	if p.rng == nil {
		p.rng = rand.New(rand.NewSource(1))
	}

	nbl := gulp.NumBaselines(p.Config.NStand)
	model := p.loadModel(nbl, p.Config.NChan, gulp.NPol)

	w, err := p.Ring.BeginWriting()
	if err != nil {
		return err
	}
	defer w.Close()

	header := gulp.HeaderFromWire(0, 0, p.Config.Chan0, p.Config.NChan, p.Config.NAvg, nbl, p.Config.Fast)
	hdrBytes, err := json.Marshal(header)
	if err != nil {
		return err
	}

	shape := gulp.Shape{NTime: p.Config.NTimeGulp, NBl: nbl, NChan: p.Config.NChan, NPol: gulp.NPol}
	gulpSize := shape.Len() * 2 * 4 // int32 re/im

	p.Ring.Resize(ring.Options{GulpSize: gulpSize})
	seq, err := w.BeginSequence(hdrBytes)
	if err != nil {
		return err
	}

	tgulp := time.Duration(float64(p.Config.NTimeGulp) * float64(p.Config.NAvg) / float64(gulp.ChanBW) * float64(time.Second))

	for {
		select {
		case <-p.Shutdown:
			return nil
		default:
		}

		buf := p.synthesize(shape, model)

		span, err := seq.Reserve(gulpSize)
		if err != nil {
			return err
		}
		copy(span.Data, gulp.Int32ToBytes(buf.Data))
		span.Commit()

		if p.Config.RealTime && tgulp > 0 {
			select {
			case <-time.After(tgulp):
			case <-p.Shutdown:
				return nil
			}
		}
	}
}

func (p *Producer) loadModel(nbl, nchan, npol int) *SkyModel {
	if p.Config.SkyModelPath == "" {
		return zeroModel(nbl, nchan, npol)
	}
	m, err := LoadNpy(p.Config.SkyModelPath)
	if err != nil {
		if p.Log != nil {
			p.Log.Warnw("could not load sky model, substituting zeros", "path", p.Config.SkyModelPath, "error", err)
		}
		return zeroModel(nbl, nchan, npol)
	}
	return m
}

// synthesize builds one gulp's raw ci32 buffer from the sky model, scaled
// and perturbed with Gaussian noise exactly as the Python DummyOp does,
// broadcasting the model across every integration in the gulp.
func (p *Producer) synthesize(shape gulp.Shape, model *SkyModel) gulp.Buffer {
	buf := gulp.NewBuffer(shape)
	for t := 0; t < shape.NTime; t++ {
		for bl := 0; bl < shape.NBl; bl++ {
			for c := 0; c < shape.NChan; c++ {
				for pol := 0; pol < shape.NPol; pol++ {
					idx := (bl*shape.NChan+c)*shape.NPol + pol
					var v complex128
					if idx < len(model.Data) {
						v = model.Data[idx]
					}
					re := real(v)*skyScale + p.rng.NormFloat64()*skyNoiseSigma
					im := imag(v)*skyScale + p.rng.NormFloat64()*skyNoiseSigma
					buf.Set(t, bl, c, pol, int32(math.Round(re)), int32(math.Round(im)))
				}
			}
		}
	}
	return buf
}

// Stop asks the producer to stop between gulps; safe to call from any
// goroutine.
func Stop(shutdown chan struct{}) {
	select {
	case <-shutdown:
	default:
		close(shutdown)
	}
}
