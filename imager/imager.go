package imager

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/peijin94/ovro-data-recorder/fft"
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
	gridSize     = 200
	pixelSize    = 0.5 // wavelengths per pixel
	wResolution  = 0.1 // wavelengths
	minUVDistM   = 0.1
	maxUVDistM   = 250.0
	speedOfLight = 299792458.0

	// imagingChans is the number of channels from the start of the band
	// gridded into each image, matching ImageOp's `freq = freq[:4]`.
	imagingChans = 4
)

// Config configures a Stage.
type Config struct {
	Guarantee bool
	Station   station.Station
	Cal       *Cache // nil disables calibration
	Logo      image.Image
}

// Stage is the Imager stage of spec.md §4.8: it grids Stokes I and |V|
// dirty images onto a fixed uv-grid, at most once every emitInterval, and
// publishes the composited two-panel PNG as a monitor point.
//
// Grounded on ImageOp.main in original_source/scripts/dr_visibilities.py.
type Stage struct {
	Ring    *ring.Ring
	Monitor Monitor
	Config  Config
	Log     *zap.SugaredLogger

	lastEmit time.Time
}

// Run reads sequences off the ring until it closes.
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
	s.Log.Infow("Imager: start of new sequence", "time_tag", hdr.TimeTag)

	shape := gulp.Shape{NTime: 1, NBl: hdr.NBl, NChan: hdr.NChan, NPol: hdr.NPol}
	gulpSize := shape.Len() * 2 * 4
	normFactor := gulp.NormFactor(hdr.NAvg, false)
	nstand := hdr.NStand
	uvw := s.Config.Station.ZenithUVW()
	freqs := channelFrequencies(hdr)

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

			png, err := s.renderImage(cdata, shape, uvw, freqs, nstand, timeTag)
			if err != nil {
				s.Log.Errorw("failed to render image", "error", err)
			} else if s.Monitor != nil {
				s.Monitor.WriteMonitorPoint("diagnostics/image", png, "png")
			}
			s.lastEmit = time.Now()
		}

		timeTag += hdr.NAvg
	}
}

// channelFrequencies returns the absolute sky frequency, in Hz, of every
// channel in the header.
func channelFrequencies(hdr gulp.Header) []float64 {
	chanBW := float64(hdr.ChanBW())
	out := make([]float64, hdr.NChan)
	for c := range out {
		out[c] = float64(hdr.Chan0+c) * chanBW
	}
	return out
}

// renderImage builds Stokes I and |V| dirty images from the first four
// channels of the band and composites them into the two-panel diagnostic
// PNG, matching ImageOp.main's per-sequence body: conjugate-doubling the
// baseline set, scaling uvw by freq/c per channel, applying calibration
// to both halves, gridding, inverse-FFTing, colormapping, and compositing.
func (s *Stage) renderImage(cdata gulp.Normalized64, shape gulp.Shape, uvw [][3]float64, freqs []float64, nstand int, timeTag int64) ([]byte, error) {
	nchan := imagingChans
	if nchan > shape.NChan {
		nchan = shape.NChan
	}
	if nchan == 0 || nchan > len(freqs) {
		return nil, fmt.Errorf("imager: no channel frequency available")
	}
	imagingFreqs := freqs[:nchan]
	meanFreq := 0.0
	for _, f := range imagingFreqs {
		meanFreq += f
	}
	meanFreq /= float64(nchan)

	nbl := shape.NBl
	capHint := 2 * nbl * nchan
	u := make([]float64, 0, capHint)
	v := make([]float64, 0, capHint)
	w := make([]float64, 0, capHint)
	visI := make([]complex128, 0, capHint)
	visV := make([]complex128, 0, capHint)
	weight := make([]float64, 0, capHint)

	var cal []complex128
	if s.Config.Cal != nil {
		var err error
		cal, err = s.Config.Cal.Product(nstand, nbl, freqs)
		if err != nil {
			s.Log.Errorw("failed to load calibration", "error", err)
			cal = nil
		}
	}

	for bl := 0; bl < nbl && bl < len(uvw); bl++ {
		dist := station.UVDistance(uvw[bl])
		if dist < minUVDistM || dist > maxUVDistM {
			continue
		}

		for c := 0; c < nchan; c++ {
			lambda := speedOfLight / imagingFreqs[c]

			xx := complex128(cdata.At(0, bl, c, int(gulp.XX)))
			xy := complex128(cdata.At(0, bl, c, int(gulp.XY)))
			yx := complex128(cdata.At(0, bl, c, int(gulp.YX)))
			yy := complex128(cdata.At(0, bl, c, int(gulp.YY)))

			// Conjugate-mirrored raw polarizations for the second half,
			// built before calibration so each half takes the product
			// entry ImageOp._load_calibration built for it.
			mxx, mxy, myx, myy := cmplxConj(xx), cmplxConj(xy), cmplxConj(yx), cmplxConj(yy)

			if cal != nil {
				base := (bl*shape.NChan + c) * 4
				xx *= cal[base+0]
				xy *= cal[base+1]
				yx *= cal[base+2]
				yy *= cal[base+3]

				mirrorBase := ((nbl+bl)*shape.NChan + c) * 4
				mxx *= cal[mirrorBase+0]
				mxy *= cal[mirrorBase+1]
				myx *= cal[mirrorBase+2]
				myy *= cal[mirrorBase+3]
			}

			stokesI := xx + yy
			stokesV := xy - yx
			mirrorI := mxx + myy
			mirrorV := mxy - myx

			baseU, baseV, baseW := uvw[bl][0]/lambda, uvw[bl][1]/lambda, uvw[bl][2]/lambda

			// First (direct) copy of the baseline.
			u = append(u, baseU)
			v = append(v, baseV)
			w = append(w, baseW)
			visI = append(visI, stokesI)
			visV = append(visV, stokesV)
			weight = append(weight, 1.0)

			// Conjugate-mirrored copy, with V's handedness rotated by i
			// (swap real/imag, negate the new real part) per spec.md §4.8.
			u = append(u, -baseU)
			v = append(v, -baseV)
			w = append(w, -baseW)
			visI = append(visI, mirrorI)
			visV = append(visV, rotateByI(mirrorV))
			weight = append(weight, 1.0)
		}
	}

	opts := GridOptions{Size: gridSize, PixelSize: pixelSize, WRes: wResolution}

	gridI, corrI, err := Grid(u, v, w, visI, weight, opts)
	if err != nil {
		return nil, err
	}
	gridV, corrV, err := Grid(u, v, w, visV, weight, opts)
	if err != nil {
		return nil, err
	}

	imgDataI := dirtyImage(gridI, corrI, opts.Size)
	imgDataV := dirtyImage(gridV, corrV, opts.Size)
	for i := range imgDataV {
		imgDataV[i] = math.Abs(imgDataV[i])
	}

	panelI := colormapAndConvert(imgDataI, opts.Size, Limits)
	panelV := colormapAndConvert(imgDataV, opts.Size, Limits)

	timeLabel := gulp.TimeTagToTime(timeTag).Format("2006-01-02 15:04:05 UTC")
	freqLabel := fmt.Sprintf("%.3f MHz", meanFreq/1e6)
	calLabel := "Uncal"
	if cal != nil {
		calLabel = "Cal"
	}

	canvas := composite(panelI, panelV, timeLabel, freqLabel, calLabel, s.Config.Logo)

	var buf bytes.Buffer
	if err := png.Encode(&buf, canvas); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// dirtyImage inverse-FFTs a gridded uv-plane into image space, dividing by
// the gridding-correction image and taking the real part, then recenters
// with FFTShift2D.
func dirtyImage(grid []complex128, corr []float64, size int) []float64 {
	plan := fft.NewPlan2D(size)
	out := make([]complex128, len(grid))
	_ = plan.Transform(out, grid, fft.Backward)

	real64 := make([]float64, len(out))
	for i, c := range out {
		v := real(c)
		if corr[i] != 0 {
			v /= corr[i]
		}
		real64[i] = v
	}
	FFTShift2D(real64, size)
	return real64
}

func cmplxConj(v complex128) complex128 {
	return complex(real(v), -imag(v))
}

// rotateByI swaps the real and imaginary parts and negates the new real
// part, i.e. multiplies by i, matching ImageOp.main's handedness rotation
// of the second (conjugate-mirrored) half of Stokes V.
func rotateByI(v complex128) complex128 {
	return complex(-imag(v), real(v))
}
