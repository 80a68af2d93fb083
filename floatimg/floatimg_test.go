package floatimg

import (
	"image"
	"image/color"
	"testing"
)

func TestNewGrayDims(t *testing.T) {
	g := NewGray(7, 3)
	w, h := g.Dims()
	if w != 7 || h != 3 {
		t.Errorf("expected dims (7, 3), got (%d, %d)", w, h)
	}
	var empty Gray
	w, h = empty.Dims()
	if w != 0 || h != 0 {
		t.Errorf("expected empty image to have zero dims, got (%d, %d)", w, h)
	}
}

func TestFromImageGrayRoundTrips(t *testing.T) {
	im := image.NewGray(image.Rect(0, 0, 4, 2))
	for i := range im.Pix {
		im.Pix[i] = uint8(i * 10)
	}
	g := FromImage(im)
	for y := 0; y < 2; y++ {
		for x := 0; x < 4; x++ {
			want := float64(im.GrayAt(x, y).Y)
			if g[y][x] != want {
				t.Errorf("pixel (%d, %d): expected %v, got %v", x, y, want, g[y][x])
			}
		}
	}
}

func TestFromImageChannelMean(t *testing.T) {
	im := image.NewNRGBA(image.Rect(0, 0, 1, 1))
	im.SetNRGBA(0, 0, color.NRGBA{R: 30, G: 60, B: 90, A: 255})
	g := FromImage(im)
	if got, want := g[0][0], 60.0; got != want {
		t.Errorf("expected channel mean %v, got %v", want, got)
	}
}

func TestGrayImplementsImage(t *testing.T) {
	g := NewGray(2, 2)
	g[0][0] = 300 // out of range, should clamp
	g[1][1] = -5
	var img image.Image = g
	if c := color.GrayModel.Convert(img.At(0, 0)).(color.Gray); c.Y != 255 {
		t.Errorf("expected clamp to 255, got %d", c.Y)
	}
	if c := color.GrayModel.Convert(img.At(1, 1)).(color.Gray); c.Y != 0 {
		t.Errorf("expected clamp to 0, got %d", c.Y)
	}
	if img.Bounds() != image.Rect(0, 0, 2, 2) {
		t.Errorf("wrong bounds: %v", img.Bounds())
	}
}
