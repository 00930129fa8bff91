package imaging

import (
	"errors"
	"image"
)

// ErrEmptyRegion is returned when a valid region leaves no pixels to work on.
var ErrEmptyRegion = errors.New("valid region is empty")

// Rect builds a rectangle from an origin and a size. Negative sizes collapse
// to zero instead of flipping the rectangle.
func Rect(x, y, w, h int) image.Rectangle {
	w = max(w, 0)
	h = max(h, 0)
	return image.Rectangle{Min: image.Pt(x, y), Max: image.Pt(x+w, y+h)}
}

// Intersect returns the overlap of a and b. Disjoint rectangles give the zero
// rectangle, never a negative size.
func Intersect(a, b image.Rectangle) image.Rectangle {
	return a.Intersect(b)
}

// Extract returns the part of buf covered by region, clamped to buf's bounds.
// An unset (empty) region, or one that already covers the whole buffer,
// returns buf unchanged. Because buffers keep their original coordinates,
// extracting from an already extracted buffer is a no-op.
func Extract(buf *Buffer, region image.Rectangle) *Buffer {
	if buf == nil || region.Empty() {
		return buf
	}
	clamped := region.Intersect(buf.Bounds())
	if clamped == buf.Bounds() {
		return buf
	}
	return buf.Sub(clamped)
}
