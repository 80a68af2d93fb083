// Package floatimg provides a float64 grayscale image type shared by the
// sampling, metric, and MTF code.  Pixel values are kept on a 0-255 scale
// regardless of the source bit depth so results are comparable across
// 8 and 16-bit cameras.
package floatimg

import (
	"image"
	"image/color"
)

// Gray is a row-major float64 grayscale image.  All rows have equal length.
// The backing storage is a single allocation; Gray[y][x] addresses a pixel.
type Gray [][]float64

// NewGray allocates a w x h image of zeros.
func NewGray(w, h int) Gray {
	storage := make([]float64, w*h)
	g := make(Gray, h)
	for y := range g {
		g[y] = storage[y*w : (y+1)*w]
	}
	return g
}

// Dims returns the width and height of the image.  Both are zero for an
// empty image.
func (g Gray) Dims() (w, h int) {
	h = len(g)
	if h == 0 {
		return 0, 0
	}
	return len(g[0]), h
}

// At implements image.Image, clamping values into the 8-bit range.
func (g Gray) At(x, y int) color.Color {
	v := g[y][x]
	if v < 0 {
		v = 0
	} else if v > 255 {
		v = 255
	}
	return color.Gray{Y: uint8(v + 0.5)}
}

// ColorModel implements image.Image.
func (g Gray) ColorModel() color.Model {
	return color.GrayModel
}

// Bounds implements image.Image.
func (g Gray) Bounds() image.Rectangle {
	w, h := g.Dims()
	return image.Rect(0, 0, w, h)
}

// FromImage reduces img to grayscale by per-pixel channel mean,
// (r+g+b)/3, not a perceptual luma.  The mean is computed on the 16-bit
// values returned by color.Color and divided back to the 0-255 scale, so
// an 8-bit gray source round-trips exactly.  The reduction is the single
// one used everywhere in this module; changing it changes every metric
// and every MTF curve.
func FromImage(img image.Image) Gray {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	g := NewGray(w, h)
	switch im := img.(type) {
	case *image.Gray:
		for y := 0; y < h; y++ {
			off := im.PixOffset(b.Min.X, b.Min.Y+y)
			row := im.Pix[off : off+w]
			for x := 0; x < w; x++ {
				g[y][x] = float64(row[x])
			}
		}
	case *image.Gray16:
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				v := im.Gray16At(b.Min.X+x, b.Min.Y+y).Y
				g[y][x] = float64(v) / 257
			}
		}
	default:
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				r, gg, bb, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
				g[y][x] = (float64(r) + float64(gg) + float64(bb)) / 3 / 257
			}
		}
	}
	return g
}

// Fill sets every pixel to v.
func (g Gray) Fill(v float64) {
	for y := range g {
		row := g[y]
		for x := range row {
			row[x] = v
		}
	}
}
