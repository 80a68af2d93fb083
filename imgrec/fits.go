package imgrec

import (
	"image"
	"image/color"
	"io"
	"time"

	"github.com/astrogo/fitsio"
)

// fitsDate is the DATE-OBS layout from the FITS standard.
const fitsDate = "2006-01-02T15:04:05.000"

// WriteFITS streams img to w as a 16-bit FITS file.  The given cards
// land in the header ahead of DATE-OBS and the unsigned-data
// BZERO/BSCALE pair; readers honoring that convention recover the
// original uint16 values.
func WriteFITS(w io.Writer, img image.Image, cards []fitsio.Card) error {
	cards = append(cards,
		fitsio.Card{Name: "DATE-OBS", Value: time.Now().UTC().Format(fitsDate)},
		fitsio.Card{Name: "BZERO", Value: 32768},
		fitsio.Card{Name: "BSCALE", Value: 1.0},
	)
	ints, width, height := grayInt16(img)
	fits, err := fitsio.Create(w)
	if err != nil {
		return err
	}
	defer fits.Close()
	im := fitsio.NewImage(16, []int{width, height})
	defer im.Close()
	err = im.Header().Append(cards...)
	if err != nil {
		return err
	}
	err = im.Write(ints)
	if err != nil {
		return err
	}
	return fits.Write(im)
}

// grayInt16 flattens img to the offset int16 samples FITS stores.
// Underflow on uint16 produces the appropriate wrapping for the FITS
// standard.
func grayInt16(img image.Image) ([]int16, int, int) {
	b := img.Bounds()
	width, height := b.Dx(), b.Dy()
	ints := make([]int16, width*height)
	if g, ok := img.(*image.Gray16); ok {
		// Pix holds big-endian pairs per the image package docs.
		idx := 0
		for y := 0; y < height; y++ {
			o := g.PixOffset(b.Min.X, b.Min.Y+y)
			for x := 0; x < width; x++ {
				v := uint16(g.Pix[o])<<8 | uint16(g.Pix[o+1])
				ints[idx] = int16(v - 32768)
				o += 2
				idx++
			}
		}
		return ints, width, height
	}
	idx := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			v := color.Gray16Model.Convert(img.At(x, y)).(color.Gray16).Y
			ints[idx] = int16(v - 32768)
			idx++
		}
	}
	return ints, width, height
}
