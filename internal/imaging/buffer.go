// Package imaging holds the image buffer type shared by pipeline stages and
// the small amount of pixel plumbing the scheduler needs: valid-region
// extraction, border padding, alpha merge and file codecs.
package imaging

import (
	"image"

	"golang.org/x/image/draw"
)

// Buffer is an image produced by a task. It is written once by the task that
// owns it and treated as read-only afterwards, so dependents may share it
// without locking.
//
// Bounds keep the coordinates of the buffer they were cut from, the same way
// image.SubImage does. A valid region is always expressed in those coordinates.
type Buffer struct {
	img image.Image
}

// New wraps img. A nil img yields an empty buffer.
func New(img image.Image) *Buffer {
	return &Buffer{img: img}
}

// Image returns the underlying image.
func (b *Buffer) Image() image.Image {
	if b == nil {
		return nil
	}
	return b.img
}

// Bounds returns the pixel extent of the buffer.
func (b *Buffer) Bounds() image.Rectangle {
	if b == nil || b.img == nil {
		return image.Rectangle{}
	}
	return b.img.Bounds()
}

func (b *Buffer) Width() int  { return b.Bounds().Dx() }
func (b *Buffer) Height() int { return b.Bounds().Dy() }

// Empty reports whether the buffer holds no pixels.
func (b *Buffer) Empty() bool { return b.Bounds().Empty() }

// Channels returns the number of colour channels of the pixel storage.
func (b *Buffer) Channels() int {
	if b == nil || b.img == nil {
		return 0
	}
	switch b.img.(type) {
	case *image.Gray, *image.Gray16:
		return 1
	case *image.YCbCr:
		return 3
	default:
		return 4
	}
}

// Sub returns a copy of the pixels inside r, clipped to the buffer bounds.
// The copy keeps r's coordinates.
func (b *Buffer) Sub(r image.Rectangle) *Buffer {
	r = r.Intersect(b.Bounds())
	dst := newLike(b.Image(), r)
	if !r.Empty() {
		draw.Copy(dst, r.Min, b.img, r, draw.Src, nil)
	}
	return &Buffer{img: dst}
}

// newLike allocates an image over r with storage matching src's precision.
func newLike(src image.Image, r image.Rectangle) draw.Image {
	switch src.(type) {
	case *image.Gray:
		return image.NewGray(r)
	case *image.Gray16:
		return image.NewGray16(r)
	case *image.RGBA64, *image.NRGBA64:
		return image.NewNRGBA64(r)
	default:
		return image.NewNRGBA(r)
	}
}
