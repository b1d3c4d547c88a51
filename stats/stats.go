// Package stats implements the Statistics stage of spec.md §4.5: a
// 60-second-gated summary of every stand's auto-correlation power,
// published as three per-stand monitor-point vectors (min/avg/max).
//
// Grounded on StatisticsOp.main in
// original_source/scripts/dr_visibilities.py: the auto-correlation
// extraction by baseline index, the XX/YY-only polarization selection,
// and the every-gulp time_tag advance regardless of whether this gulp
// happens to be the one that emits.
package stats

import (
	"encoding/json"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/peijin94/ovro-data-recorder/gulp"
	"github.com/peijin94/ovro-data-recorder/ring"
)

// Monitor publishes named monitor points.
type Monitor interface {
	WriteMonitorPoint(name string, value interface{}, unit string)
}

// emitInterval is the fixed 60-second gate spec.md §4.5 specifies.
const emitInterval = 60 * time.Second

// Config configures a Stage.
type Config struct {
	Guarantee bool
}

// Stage is the Statistics stage.
type Stage struct {
	Ring    *ring.Ring
	Monitor Monitor
	Config  Config
	Log     *zap.SugaredLogger

	lastEmit time.Time
}

// Run reads sequences off the ring until it closes, emitting a statistics
// summary at most once every emitInterval.
func (s *Stage) Run() error {
	rs := s.Ring.Read(s.Config.Guarantee)

	for {
		hdrBytes, err := rs.Header()
		if err != nil {
			return nil
		}
		var hdr gulp.Header
		if err := json.Unmarshal(hdrBytes, &hdr); err != nil {
			return err
		}
		if err := s.runSequence(rs, hdr); err != nil {
			return err
		}
	}
}

func (s *Stage) runSequence(rs *ring.ReadStream, hdr gulp.Header) error {
	s.Log.Infow("Statistics: start of new sequence", "time_tag", hdr.TimeTag)

	shape := gulp.Shape{NTime: 1, NBl: hdr.NBl, NChan: hdr.NChan, NPol: hdr.NPol}
	gulpSize := shape.Len() * 2 * 4
	normFactor := gulp.NormFactor(hdr.NAvg, false)
	autoIdx := gulp.AutoIndices(hdr.NStand)

	timeTag := hdr.TimeTag
	for {
		span, err := rs.Next()
		if err != nil {
			return nil
		}
		if span.Size < gulpSize {
			continue
		}

		if time.Since(s.lastEmit) >= emitInterval {
			buf := gulp.Buffer{Shape: shape, Data: gulp.BytesToInt32(span.Data)}
			cdata := buf.Normalize(normFactor)
			s.emit(cdata, shape, autoIdx)
			s.lastEmit = time.Now()
		}

		timeTag += hdr.NAvg
	}
}

// StandSummary holds one polarization's min/avg/max auto-correlation
// power across channels, for one stand.
type StandSummary struct {
	Min float64
	Avg float64
	Max float64
}

func (s *Stage) emit(cdata gulp.Normalized64, shape gulp.Shape, autoIdx []int) {
	minXX := make([]float64, len(autoIdx))
	avgXX := make([]float64, len(autoIdx))
	maxXX := make([]float64, len(autoIdx))
	minYY := make([]float64, len(autoIdx))
	avgYY := make([]float64, len(autoIdx))
	maxYY := make([]float64, len(autoIdx))

	for i, bl := range autoIdx {
		sxx := summarizeChannel(cdata, shape, bl, int(gulp.XX))
		syy := summarizeChannel(cdata, shape, bl, int(gulp.YY))
		minXX[i], avgXX[i], maxXX[i] = sxx.Min, sxx.Avg, sxx.Max
		minYY[i], avgYY[i], maxYY[i] = syy.Min, syy.Avg, syy.Max
	}

	if s.Monitor != nil {
		s.Monitor.WriteMonitorPoint("statistics/min", map[string][]float64{"XX": minXX, "YY": minYY}, "")
		s.Monitor.WriteMonitorPoint("statistics/avg", map[string][]float64{"XX": avgXX, "YY": avgYY}, "")
		s.Monitor.WriteMonitorPoint("statistics/max", map[string][]float64{"XX": maxXX, "YY": maxYY}, "")
	}
}

func summarizeChannel(cdata gulp.Normalized64, shape gulp.Shape, bl, pol int) StandSummary {
	min := math.Inf(1)
	max := math.Inf(-1)
	sum := 0.0
	for c := 0; c < shape.NChan; c++ {
		v := float64(real(cdata.At(0, bl, c, pol)))
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
		sum += v
	}
	return StandSummary{Min: min, Avg: sum / float64(shape.NChan), Max: max}
}
