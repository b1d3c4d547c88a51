// {{{ Copyright (c) Paul R. Tagliamonte <paul@k3xec.com>, 2020
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE. }}}

// Package fft contains a common interface to perform FFTs between
// pixel/uv-grid and image-plane complex data for the imager stage's
// w-projection gridding (spec.md §4.8).
//
// The teacher's package (hz.tools/sdr/fft) splits this into a Planner and
// a Plan; here NewPlan1D and NewPlan2D build a reusable Plan1D or Plan2D
// directly, with no separate Planner type, and repeated calls to Transform
// amortize that setup. The one thing this domain needs
// that the teacher's version does not is a two-dimensional transform over
// a square grid, so the plans here operate on gonum's dsp/fourier.CmplxFFT
// rather than on hz.tools/sdr's 1-D SamplesC64 buffers.
package fft

import (
	"fmt"

	"gonum.org/v1/gonum/dsp/fourier"
)

// Direction indicates if this is either a Forward or Backward FFT.
type Direction bool

var (
	// Forward computes a time/pixel-to-frequency/uv transform.
	Forward Direction = true

	// Backward computes a frequency/uv-to-time/pixel transform.
	Backward Direction = false
)

// Plan1D performs repeated 1-D FFTs of a fixed length n.
type Plan1D struct {
	n    int
	cfft *fourier.CmplxFFT
}

// NewPlan1D builds a reusable 1-D FFT plan for vectors of length n.
func NewPlan1D(n int) *Plan1D {
	return &Plan1D{n: n, cfft: fourier.NewCmplxFFT(n)}
}

// Transform runs the plan in the given direction, reading src and writing
// dst; src and dst must each have length n.
func (p *Plan1D) Transform(dst, src []complex128, dir Direction) error {
	if len(src) != p.n || len(dst) != p.n {
		return fmt.Errorf("fft: buffer length %d/%d does not match plan length %d", len(src), len(dst), p.n)
	}
	if dir == Forward {
		p.cfft.Coefficients(dst, src)
	} else {
		p.cfft.Sequence(dst, src)
	}
	return nil
}

// Plan2D performs a two-dimensional FFT over a square n x n grid by
// applying a Plan1D along rows, then along columns -- the standard
// row-column decomposition, and the one the imager's w-projection gridder
// needs for its inverse transform from gridded visibilities to the dirty
// image plane.
type Plan2D struct {
	n    int
	rows *Plan1D
}

// NewPlan2D builds a reusable 2-D FFT plan for an n x n grid, stored
// row-major in a single []complex128 of length n*n.
func NewPlan2D(n int) *Plan2D {
	return &Plan2D{n: n, rows: NewPlan1D(n)}
}

// Transform runs the 2-D plan: dst and src must each have length n*n,
// row-major. dst may alias src.
func (p *Plan2D) Transform(dst, src []complex128, dir Direction) error {
	n := p.n
	if len(src) != n*n || len(dst) != n*n {
		return fmt.Errorf("fft: grid length %d/%d does not match plan size %d", len(src), len(dst), n*n)
	}

	work := make([]complex128, n*n)
	copy(work, src)

	row := make([]complex128, n)
	rowOut := make([]complex128, n)
	for r := 0; r < n; r++ {
		copy(row, work[r*n:(r+1)*n])
		if err := p.rows.Transform(rowOut, row, dir); err != nil {
			return err
		}
		copy(work[r*n:(r+1)*n], rowOut)
	}

	col := make([]complex128, n)
	colOut := make([]complex128, n)
	for c := 0; c < n; c++ {
		for r := 0; r < n; r++ {
			col[r] = work[r*n+c]
		}
		if err := p.rows.Transform(colOut, col, dir); err != nil {
			return err
		}
		for r := 0; r < n; r++ {
			work[r*n+c] = colOut[r]
		}
	}

	copy(dst, work)
	return nil
}

// vim: foldmethod=marker
