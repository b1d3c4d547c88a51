package imager

import (
	"image"
	"image/color"
	"image/draw"
	"sort"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Limits are the default percentile clip range of spec.md §4.8.
var Limits = [2]float64{5, 99.95}

// percentile returns the linear-interpolated percentile p (0-100) of a
// copy of values, matching numpy.percentile's default interpolation.
func percentile(values []float64, p float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := (p / 100.0) * float64(len(sorted)-1)
	lo := int(rank)
	hi := lo + 1
	if hi >= len(sorted) {
		return sorted[len(sorted)-1]
	}
	frac := rank - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// colormapAndConvert maps a Size*Size plane into an 8-bit RGB image using
// the fixed cubic colormap of ImageOp._colormap_and_convert, clipped to
// the [limits[0], limits[1]] percentile range.
func colormapAndConvert(plane []float64, size int, limits [2]float64) *image.RGBA {
	vmin := percentile(plane, limits[0])
	vmax := percentile(plane, limits[1])
	if vmax == vmin {
		vmax = vmin + 1
	}

	img := image.NewRGBA(image.Rect(0, 0, size, size))
	for i, v := range plane {
		x := (v - vmin) / (vmax - vmin)
		r := clip255(-7.55*x*x + 11.06*x - 2.96)
		g := clip255(-7.33*x*x + 7.57*x - 0.83)
		b := clip255(-7.55*x*x + 4.04*x + 0.55)
		row := i / size
		col := i % size
		img.SetRGBA(col, row, color.RGBA{R: r, G: g, B: b, A: 255})
	}
	return img
}

func clip255(v float64) uint8 {
	scaled := v * 255
	if scaled < 0 {
		return 0
	}
	if scaled > 255 {
		return 255
	}
	return uint8(scaled)
}

// horizonMaskAndFloodFill sets to black every pixel of the
// diameter-by-diameter square at origin that lies outside the square's
// inscribed circle, the same result as ImageOp._plot_images's
// horizon-circle outline plus corner flood-fill blanking of the area
// outside the dish's field of view.
func horizonMaskAndFloodFill(img *image.RGBA, origin image.Point, diameter int) {
	radius := diameter / 2
	cx := origin.X + radius
	cy := origin.Y + radius
	rSq := float64(radius) * float64(radius)

	bounds := image.Rect(origin.X, origin.Y, origin.X+diameter, origin.Y+diameter)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			dx := float64(x - cx)
			dy := float64(y - cy)
			if dx*dx+dy*dy > rSq {
				img.Set(x, y, color.Black)
			}
		}
	}
}

// composite lays the Stokes-I panel on the left and |V| panel on the
// right of an 860x420 canvas, with horizon masking, text annotations, and
// a logo overlay, matching ImageOp._plot_images's PIL composition.
func composite(imgI, imgV *image.RGBA, timeLabel, freqLabel, calLabel string, logo image.Image) *image.RGBA {
	canvas := image.NewRGBA(image.Rect(0, 0, 860, 420))
	draw.Draw(canvas, canvas.Bounds(), &image.Uniform{C: color.Black}, image.Point{}, draw.Src)

	leftOrigin := image.Point{X: 20, Y: 20}
	rightOrigin := image.Point{X: 440, Y: 20}

	draw.Draw(canvas, image.Rect(leftOrigin.X, leftOrigin.Y, leftOrigin.X+imgI.Bounds().Dx(), leftOrigin.Y+imgI.Bounds().Dy()), imgI, image.Point{}, draw.Src)
	draw.Draw(canvas, image.Rect(rightOrigin.X, rightOrigin.Y, rightOrigin.X+imgV.Bounds().Dx(), rightOrigin.Y+imgV.Bounds().Dy()), imgV, image.Point{}, draw.Src)

	horizonMaskAndFloodFill(canvas, leftOrigin, imgI.Bounds().Dx())
	horizonMaskAndFloodFill(canvas, rightOrigin, imgV.Bounds().Dx())

	drawText(canvas, 5, 12, timeLabel)
	drawText(canvas, 785, 12, freqLabel)
	drawText(canvas, 805, 412, calLabel)
	drawText(canvas, 5, 37, "I")
	drawText(canvas, 835, 37, "|V|")

	if logo != nil {
		draw.Draw(canvas, image.Rect(5, 385, 5+logo.Bounds().Dx(), 385+logo.Bounds().Dy()), logo, image.Point{}, draw.Over)
	}

	return canvas
}

func drawText(dst draw.Image, x, y int, s string) {
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.White,
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(s)
}
