// Package spectra implements the Spectra stage of spec.md §4.6: a
// 60-second-gated 20x18 grid of per-stand power-spectrum panels, each
// showing 10*log10(|XX|) and 10*log10(|YY|) against channel, published as
// a PNG monitor point.
//
// Grounded on SpectraOp._plot_spectra in
// original_source/scripts/dr_visibilities.py, which uses matplotlib to
// build exactly this panel grid; gonum.org/v1/plot is this corpus's
// equivalent plotting library (see banshee-data-velocity.report's go.mod
// in the retrieved example pack), rendered per-panel then composited into
// one canvas the way the Python code lays subplots into one Figure.
package spectra

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	vgdraw "gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"

	"github.com/peijin94/ovro-data-recorder/gulp"
	"github.com/peijin94/ovro-data-recorder/ring"
)

// Monitor publishes named monitor points.
type Monitor interface {
	WriteMonitorPoint(name string, value interface{}, unit string)
}

const (
	emitInterval = 60 * time.Second
	gridCols     = 20
	gridRows     = 18
	panelPx      = 64
)

// Config configures a Stage.
type Config struct {
	Guarantee bool
}

// Stage is the Spectra stage.
type Stage struct {
	Ring    *ring.Ring
	Monitor Monitor
	Config  Config
	Log     *zap.SugaredLogger

	lastEmit time.Time
}

// Run reads sequences off the ring until it closes, rendering a panel
// grid PNG at most once every emitInterval.
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
	s.Log.Infow("Spectra: start of new sequence", "time_tag", hdr.TimeTag)

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
			png, err := renderPanelGrid(cdata, shape, autoIdx, timeTag)
			if err != nil {
				s.Log.Errorw("failed to render spectra panel grid", "error", err)
			} else if s.Monitor != nil {
				s.Monitor.WriteMonitorPoint("diagnostics/spectra", png, "png")
			}
			s.lastEmit = time.Now()
		}

		timeTag += hdr.NAvg
	}
}

// renderPanelGrid renders one 10*log10(|XX|)/10*log10(|YY|) panel per
// stand into a gridCols x gridRows grid of panelPx x panelPx images,
// composited into a single PNG.
func renderPanelGrid(cdata gulp.Normalized64, shape gulp.Shape, autoIdx []int, timeTag int64) ([]byte, error) {
	canvas := image.NewRGBA(image.Rect(0, 0, gridCols*panelPx, gridRows*panelPx))
	draw.Draw(canvas, canvas.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)

	for i, bl := range autoIdx {
		if i >= gridCols*gridRows {
			break
		}
		panel, err := renderPanel(cdata, shape, bl, i, timeTag)
		if err != nil {
			return nil, err
		}
		col := i % gridCols
		row := i / gridCols
		dst := image.Rect(col*panelPx, row*panelPx, (col+1)*panelPx, (row+1)*panelPx)
		draw.Draw(canvas, dst, panel, image.Point{}, draw.Src)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, canvas); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func renderPanel(cdata gulp.Normalized64, shape gulp.Shape, bl, standIdx int, timeTag int64) (image.Image, error) {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("stand %d", standIdx)
	p.Title.TextStyle.Font.Size = vg.Points(6)

	xx := make(plotter.XYs, shape.NChan)
	yy := make(plotter.XYs, shape.NChan)
	for c := 0; c < shape.NChan; c++ {
		xx[c].X = float64(c)
		xx[c].Y = dbPower(cdata.At(0, bl, c, int(gulp.XX)))
		yy[c].X = float64(c)
		yy[c].Y = dbPower(cdata.At(0, bl, c, int(gulp.YY)))
	}

	lineXX, err := plotter.NewLine(xx)
	if err != nil {
		return nil, err
	}
	lineXX.Color = color.RGBA{R: 200, A: 255}

	lineYY, err := plotter.NewLine(yy)
	if err != nil {
		return nil, err
	}
	lineYY.Color = color.RGBA{B: 200, A: 255}

	p.Add(lineXX, lineYY)
	p.Legend.Top = true

	c := vgimg.New(vg.Points(panelPx), vg.Points(panelPx))
	p.Draw(vgdraw.New(c))

	img := image.NewRGBA(image.Rect(0, 0, panelPx, panelPx))
	draw.Draw(img, img.Bounds(), c.Image(), image.Point{}, draw.Src)
	return img, nil
}

func dbPower(v complex64) float64 {
	mag := math.Hypot(float64(real(v)), float64(imag(v)))
	if mag <= 0 {
		return -300 // floor, avoids -Inf for an all-zero channel
	}
	return 10 * math.Log10(mag)
}
