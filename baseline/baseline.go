// Package baseline implements the Baseline stage of spec.md §4.7: a
// 60-second-gated plot of |XX|/|YY| amplitude at the center channel
// against zenith-pointing uv-distance, for baselines longer than 0.1 m,
// published as a PNG monitor point.
//
// Grounded on BaselineOp._plot_baselines in
// original_source/scripts/dr_visibilities.py, which computes
// get_zenith_uvw(station, ...) once per emission and scatters amplitude
// against ground-plane baseline length; station.ZenithUVW here is the
// equivalent geometry call (see station.ZenithUVW's doc comment for why it
// does not need the timestamp the original threads through).
package baseline

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"math"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	vgdraw "gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"

	imgdraw "image/draw"

	"github.com/peijin94/ovro-data-recorder/gulp"
	"github.com/peijin94/ovro-data-recorder/ring"
	"github.com/peijin94/ovro-data-recorder/station"
)

// Monitor publishes named monitor points.
type Monitor interface {
	WriteMonitorPoint(name string, value interface{}, unit string)
}

const (
	emitInterval = 60 * time.Second
	minBaselineM = 0.1
	plotWidthPx  = 640
	plotHeightPx = 480
)

// Config configures a Stage.
type Config struct {
	Guarantee bool
	Station   station.Station
}

// Stage is the Baseline stage.
type Stage struct {
	Ring    *ring.Ring
	Monitor Monitor
	Config  Config
	Log     *zap.SugaredLogger

	lastEmit time.Time
}

// Run reads sequences off the ring until it closes, rendering a baseline
// amplitude plot at most once every emitInterval.
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
	s.Log.Infow("Baseline: start of new sequence", "time_tag", hdr.TimeTag)

	shape := gulp.Shape{NTime: 1, NBl: hdr.NBl, NChan: hdr.NChan, NPol: hdr.NPol}
	gulpSize := shape.Len() * 2 * 4
	normFactor := gulp.NormFactor(hdr.NAvg, false)
	centerChan := hdr.NChan / 2
	uvw := s.Config.Station.ZenithUVW()

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
			png, err := renderBaselinePlot(cdata, shape, uvw, centerChan)
			if err != nil {
				s.Log.Errorw("failed to render baseline plot", "error", err)
			} else if s.Monitor != nil {
				s.Monitor.WriteMonitorPoint("diagnostics/baselines", png, "png")
			}
			s.lastEmit = time.Now()
		}

		timeTag += hdr.NAvg
	}
}

func renderBaselinePlot(cdata gulp.Normalized64, shape gulp.Shape, uvw [][3]float64, centerChan int) ([]byte, error) {
	xx := make(plotter.XYs, 0, len(uvw))
	yy := make(plotter.XYs, 0, len(uvw))

	for bl := 0; bl < shape.NBl && bl < len(uvw); bl++ {
		dist := station.UVDistance(uvw[bl])
		if dist <= minBaselineM {
			continue
		}
		xx = append(xx, plotter.XY{X: dist, Y: cmplxAbs(cdata.At(0, bl, centerChan, int(gulp.XX)))})
		yy = append(yy, plotter.XY{X: dist, Y: cmplxAbs(cdata.At(0, bl, centerChan, int(gulp.YY)))})
	}

	p := plot.New()
	p.X.Label.Text = "uv-distance (m)"
	p.Y.Label.Text = "amplitude"

	sXX, err := plotter.NewScatter(xx)
	if err != nil {
		return nil, err
	}
	sXX.Color = color.RGBA{R: 200, A: 255}
	sXX.Radius = vg.Points(1.5)

	sYY, err := plotter.NewScatter(yy)
	if err != nil {
		return nil, err
	}
	sYY.Color = color.RGBA{B: 200, A: 255}
	sYY.Radius = vg.Points(1.5)

	p.Add(sXX, sYY)
	p.Legend.Add("XX", sXX)
	p.Legend.Add("YY", sYY)
	p.Legend.Top = true

	c := vgimg.New(vg.Points(plotWidthPx), vg.Points(plotHeightPx))
	p.Draw(vgdraw.New(c))

	img := image.NewRGBA(image.Rect(0, 0, plotWidthPx, plotHeightPx))
	imgdraw.Draw(img, img.Bounds(), c.Image(), image.Point{}, imgdraw.Src)

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func cmplxAbs(v complex64) float64 {
	return math.Hypot(float64(real(v)), float64(imag(v)))
}
