package imaging

import (
	"fmt"
	"image"
	"image/color"
)

// WithAlpha returns a copy of buf whose alpha channel is taken from the
// luminance of mask. Both buffers must have the same size; their origins may
// differ.
func WithAlpha(buf, mask *Buffer) (*Buffer, error) {
	bb, mb := buf.Bounds(), mask.Bounds()
	if bb.Size() != mb.Size() {
		return nil, fmt.Errorf("alpha mask is %dx%d, image is %dx%d", mb.Dx(), mb.Dy(), bb.Dx(), bb.Dy())
	}

	off := mb.Min.Sub(bb.Min)
	dst := image.NewNRGBA(bb)
	for y := bb.Min.Y; y < bb.Max.Y; y++ {
		for x := bb.Min.X; x < bb.Max.X; x++ {
			c := color.NRGBAModel.Convert(buf.img.At(x, y)).(color.NRGBA)
			c.A = color.GrayModel.Convert(mask.img.At(x+off.X, y+off.Y)).(color.Gray).Y
			dst.SetNRGBA(x, y, c)
		}
	}
	return &Buffer{img: dst}, nil
}
