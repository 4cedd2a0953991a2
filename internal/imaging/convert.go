package imaging

import (
	"image"
	"image/color"
)

// ToRGBA converts img to an *image.RGBA for encoding or display. bgr8 buffers
// are swapped into RGB order; every other accepted encoding is taken as RGB.
func (img *Image) ToRGBA() (*image.RGBA, error) {
	if err := ValidateFormat(img); err != nil {
		return nil, err
	}
	r, b := 0, 2
	if img.Encoding == EncodingBGR8 {
		r, b = 2, 0
	}

	out := image.NewRGBA(image.Rect(0, 0, img.Width, img.Height))
	for y := 0; y < img.Height; y++ {
		row := img.Data[img.Step*y:]
		dst := out.Pix[out.Stride*y:]
		for x := 0; x < img.Width; x++ {
			s := row[Channels*x:]
			d := dst[4*x:]
			d[0] = s[r]
			d[1] = s[1]
			d[2] = s[b]
			d[3] = 0xff
		}
	}
	return out, nil
}

// FromImage copies any image.Image into an unpadded image with the given
// three channel encoding (rgb8 or bgr8). Alpha is discarded.
func FromImage(src image.Image, encoding string) *Image {
	bounds := src.Bounds()
	img := NewImage(bounds.Dx(), bounds.Dy(), encoding)
	r, b := 0, 2
	if encoding == EncodingBGR8 {
		r, b = 2, 0
	}
	for y := 0; y < img.Height; y++ {
		for x := 0; x < img.Width; x++ {
			c := color.NRGBAModel.Convert(src.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.NRGBA)
			i := img.offset(x, y)
			img.Data[i+r] = c.R
			img.Data[i+1] = c.G
			img.Data[i+b] = c.B
		}
	}
	return img
}
