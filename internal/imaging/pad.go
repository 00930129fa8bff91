package imaging

import (
	"image"
)

// PadReflect grows buf so both dimensions are multiples of multiple, filling
// the border by mirroring edge pixels (abc|abcd|dcb). It returns the padded
// buffer and the rectangle the original pixels occupy inside it. A multiple
// below 2, or a buffer that already fits, is returned as is.
func PadReflect(buf *Buffer, multiple int) (*Buffer, image.Rectangle) {
	src := buf.Bounds()
	if multiple < 2 || src.Empty() {
		return buf, src
	}

	w, h := src.Dx(), src.Dy()
	pw := roundUp(w, multiple)
	ph := roundUp(h, multiple)
	if pw == w && ph == h {
		return buf, src
	}

	left := (pw - w) / 2
	top := (ph - h) / 2

	dst := newLike(buf.img, image.Rect(0, 0, pw, ph))
	for y := 0; y < ph; y++ {
		sy := src.Min.Y + reflect(y-top, h)
		for x := 0; x < pw; x++ {
			sx := src.Min.X + reflect(x-left, w)
			dst.Set(x, y, buf.img.At(sx, sy))
		}
	}

	return &Buffer{img: dst}, Rect(left, top, w, h)
}

func roundUp(v, multiple int) int {
	return (v + multiple - 1) / multiple * multiple
}

// reflect maps i onto [0, n) mirroring at the edges without repeating the
// edge sample twice in a row across periods.
func reflect(i, n int) int {
	if n == 1 {
		return 0
	}
	period := 2 * n
	i %= period
	if i < 0 {
		i += period
	}
	if i >= n {
		i = period - 1 - i
	}
	return i
}
