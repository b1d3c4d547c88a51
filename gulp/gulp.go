// Package gulp contains the fundamental data model shared by every stage
// of the visibility recorder pipeline: the per-integration Gulp buffer, the
// Sequence Header that describes it, and the small bits of index math
// (baseline counts, auto-correlation indices) that every downstream stage
// needs to make sense of the buffer's layout.
//
// The design mirrors hz.tools/sdr's `Samples` family: a small interface
// over a native-format buffer, with an explicit, non-lazy conversion step
// between formats rather than an implicit one. Here there are exactly two
// formats worth naming instead of four: Raw (wire ci32) and Normalized
// (complex64), since that is all the pipeline ever produces or consumes.
package gulp

import (
	"fmt"
	"time"

	"hz.tools/rf"
)

// Pol is the index of one of the four polarization products, always in
// XX, XY, YX, YY order.
type Pol int

const (
	XX Pol = 0
	XY Pol = 1
	YX Pol = 2
	YY Pol = 3
)

func (p Pol) String() string {
	switch p {
	case XX:
		return "XX"
	case XY:
		return "XY"
	case YX:
		return "YX"
	case YY:
		return "YY"
	default:
		return "?"
	}
}

// NPol is the number of polarization products carried by every gulp.
const NPol = 4

// Header describes the layout and timing of every gulp in a sequence. It is
// immutable for the lifetime of the sequence it belongs to (spec invariant).
//
// This is the strongly-typed record the wire JSON header is deserialized
// into at the ring boundary -- the ring itself only ever moves the raw
// JSON bytes, so that readers in other processes are not required to link
// against this package to learn a sequence has started.
type Header struct {
	TimeTag    int64   `json:"time_tag"`
	Seq0       int64   `json:"seq0"`
	Chan0      int     `json:"chan0"`
	CenterFreq rf.Hz   `json:"cfreq"`
	NChan      int     `json:"nchan"`
	Bandwidth  rf.Hz   `json:"bw"`
	NAvg       int64   `json:"navg"`
	NStand     int     `json:"nstand"`
	NPol       int     `json:"npol"`
	NBl        int     `json:"nbl"`
	NBit       int     `json:"nbit"`
	Complex    bool    `json:"complex"`
}

// ChanBW is the per-channel bandwidth implied by this header. It is always
// derived, never stored redundantly on the wire.
func (h Header) ChanBW() rf.Hz {
	if h.NChan == 0 {
		return 0
	}
	return h.Bandwidth / rf.Hz(h.NChan)
}

// TimeTagAt returns the time_tag of the i'th integration of a gulp that
// starts at this header's TimeTag.
func (h Header) TimeTagAt(i int64) int64 {
	return h.TimeTag + i*h.NAvg
}

// UnixSeconds converts a time_tag into fractional UNIX seconds given the
// sample rate the time_tag ticks at.
func UnixSeconds(timeTag int64, sampleRate float64) float64 {
	return float64(timeTag) / sampleRate
}

// FS is the correlator backend's master sample clock that every time_tag
// counts ticks of (`time_tag / FS` in the wire protocol's time base).
const FS float64 = 196.608e6

// TimeTagToTime converts a time_tag into the absolute UTC instant it
// represents, using the fixed master clock FS.
func TimeTagToTime(timeTag int64) time.Time {
	sec := UnixSeconds(timeTag, FS)
	return time.Unix(0, int64(sec*float64(time.Second))).UTC()
}

// NStandForBaselines inverts nbl = nstand*(nstand+1)/2, per spec.md's wire
// mapping `nstand = (sqrt(8*nbl+1)-1)/2`.
func NStandForBaselines(nbl int) int {
	return int((isqrt(8*nbl+1) - 1) / 2)
}

// NumBaselines returns the number of baselines (including autos) for a
// given stand count.
func NumBaselines(nstand int) int {
	return nstand * (nstand + 1) / 2
}

// isqrt is an integer square root sufficient for the small values (nbl in
// the thousands) this package ever sees.
func isqrt(n int) int64 {
	if n < 0 {
		return 0
	}
	x := int64(n)
	r := x
	for r*r > x {
		r = (r + x/r) / 2
	}
	for (r+1)*(r+1) <= x {
		r++
	}
	return r
}

// AutoIndex returns the baseline index of stand i's auto-correlation
// (i,i) within the flattened upper-triangular baseline ordering, per
// spec.md §4.5: `i*(2*(nstand-1)+1-i)/2 + i`.
func AutoIndex(nstand, i int) int {
	return i*(2*(nstand-1)+1-i)/2 + i
}

// AutoIndices returns AutoIndex for every stand in [0, nstand).
func AutoIndices(nstand int) []int {
	out := make([]int, nstand)
	for i := range out {
		out[i] = AutoIndex(nstand, i)
	}
	return out
}

// Quantization identifies what form the samples in a Buffer are currently
// stored in.
type Quantization uint8

const (
	// Raw is the ci32 wire format: interleaved int32 real/imaginary pairs.
	Raw Quantization = iota
	// Normalized is the complex64 format produced by the writer's
	// per-gulp normalization step.
	Normalized
)

// ErrShapeMismatch is returned when a buffer operation is given a shape
// that does not match the expected [T,B,C,P] layout.
var ErrShapeMismatch = fmt.Errorf("gulp: shape mismatch")

// Shape is the [T,B,C,P] shape of a Gulp buffer.
type Shape struct {
	NTime int
	NBl   int
	NChan int
	NPol  int
}

// Len is the total number of complex phasors described by this Shape.
func (s Shape) Len() int {
	return s.NTime * s.NBl * s.NChan * s.NPol
}

// Index returns the flat phasor offset of (t, b, c, p) within this Shape.
func (s Shape) Index(t, b, c, p int) int {
	return ((t*s.NBl+b)*s.NChan+c)*s.NPol + p
}

// Buffer is one gulp's worth of visibility data in its Raw (wire) form:
// interleaved int32 real/imaginary pairs, [T,B,C,P] logically.
//
// Buffer owns no synchronization of its own -- ring.Span scopes its
// lifetime, per the single-writer/multi-reader contract of the ring
// fabric (spec.md §4.1).
type Buffer struct {
	Shape Shape
	// Data is 2*Shape.Len() wide: interleaved (re, im) int32 pairs.
	Data []int32
}

// NewBuffer allocates a zeroed Buffer of the given Shape.
func NewBuffer(shape Shape) Buffer {
	return Buffer{Shape: shape, Data: make([]int32, 2*shape.Len())}
}

// At returns the raw (re, im) pair at (t, b, c, p).
func (b Buffer) At(t, bl, c, p int) (re, im int32) {
	i := b.Shape.Index(t, bl, c, p) * 2
	return b.Data[i], b.Data[i+1]
}

// Set writes the raw (re, im) pair at (t, b, c, p).
func (b Buffer) Set(t, bl, c, p int, re, im int32) {
	i := b.Shape.Index(t, bl, c, p) * 2
	b.Data[i] = re
	b.Data[i+1] = im
}

// Normalize produces the complex64 visibility view used by every
// consuming stage, dividing every raw phasor by norm.
//
// norm is `(navg / (2*NCHAN)) * (4 if fast else 1)` per spec.md §4.4 step 2;
// callers compute that with NormFactor.
func (b Buffer) Normalize(norm float32) Normalized64 {
	out := make([]complex64, b.Shape.Len())
	for i := range out {
		re := float32(b.Data[2*i]) / norm
		im := float32(b.Data[2*i+1]) / norm
		out[i] = complex(re, im)
	}
	return Normalized64{Shape: b.Shape, Data: out}
}

// Normalized64 is a gulp's visibility data after the writer's
// normalization step: one complex64 phasor per (t, b, c, p).
type Normalized64 struct {
	Shape Shape
	Data  []complex64
}

// At returns the normalized phasor at (t, b, c, p).
func (n Normalized64) At(t, bl, c, p int) complex64 {
	return n.Data[n.Shape.Index(t, bl, c, p)]
}

// NCHAN is the correlator backend's native channel count before any
// fast-mode decimation (192 channels, matching the offline producer's
// `nchan = 192 // (4 if fast else 1)`).
const NCHAN = 192

// ChanBW is the correlator backend's fixed per-channel bandwidth, used to
// derive `cfreq = chan0*CHAN_BW` and `bw = nchan*CHAN_BW*(4 if fast else 1)`
// per spec.md §6's wire-to-header mapping.
const ChanBW rf.Hz = 23925.78125

// HeaderFromWire derives a Header from the "cor" packet fields carried on
// the wire, per spec.md §6.
func HeaderFromWire(timeTag, seq0 int64, chan0, nchan int, navg int64, nbl int, fast bool) Header {
	bwMul := rf.Hz(1)
	if fast {
		bwMul = 4
	}
	return Header{
		TimeTag:    timeTag,
		Seq0:       seq0,
		Chan0:      chan0,
		CenterFreq: rf.Hz(chan0) * ChanBW,
		NChan:      nchan,
		Bandwidth:  rf.Hz(nchan) * ChanBW * bwMul,
		NAvg:       navg,
		NStand:     NStandForBaselines(nbl),
		NPol:       NPol,
		NBl:        nbl,
		NBit:       32,
		Complex:    true,
	}
}

// BytesToInt32 reinterprets a little-endian byte span committed to the
// ring as the int32 slice a Buffer's Data is built from. Every consuming
// stage (writer, stats, spectra, baseline, imager) needs this same
// reinterpretation of a ring.ReadSpan before it can call NewBuffer-shaped
// indexing on it.
func BytesToInt32(b []byte) []int32 {
	out := make([]int32, len(b)/4)
	for i := range out {
		u := uint32(b[4*i]) | uint32(b[4*i+1])<<8 | uint32(b[4*i+2])<<16 | uint32(b[4*i+3])<<24
		out[i] = int32(u)
	}
	return out
}

// Int32ToBytes is the inverse of BytesToInt32, used by producers
// (capture, offline) to serialize a Buffer's Data into the byte span a
// ring.Span reserves.
func Int32ToBytes(data []int32) []byte {
	out := make([]byte, 4*len(data))
	for i, v := range data {
		u := uint32(v)
		out[4*i+0] = byte(u)
		out[4*i+1] = byte(u >> 8)
		out[4*i+2] = byte(u >> 16)
		out[4*i+3] = byte(u >> 24)
	}
	return out
}

// NormFactor computes the writer's per-gulp normalization divisor:
// `(navg // (2*NCHAN)) * (4 if fast else 1)`, using integer floor division
// to match the original implementation exactly.
func NormFactor(navg int64, fast bool) float32 {
	f := navg / (2 * NCHAN)
	if fast {
		f *= 4
	}
	if f == 0 {
		f = 1
	}
	return float32(f)
}
