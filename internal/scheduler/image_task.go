package scheduler

import (
	"image"

	"github.com/aristath/focusstack/internal/imaging"
)

// ImageSource is a task whose result is an image buffer with a valid region.
// Dependents read it only after the task is done.
type ImageSource interface {
	Task
	Result() *imaging.Buffer
	ValidRegion() image.Rectangle
	ExtractValidRegion(buf *imaging.Buffer) *imaging.Buffer
	CroppedResult() *imaging.Buffer
}

// ImageTask is the base for tasks that produce an image. The result and the
// valid region are written only by the task's own body.
type ImageTask struct {
	Base
	result   *imaging.Buffer
	valid    image.Rectangle
	validSet bool
}

// Result returns the image produced by the task body.
func (t *ImageTask) Result() *imaging.Buffer { return t.result }

// SetResult stores the task's output. Call it from the task body only.
func (t *ImageTask) SetResult(buf *imaging.Buffer) {
	t.result = buf
	if t.validSet {
		t.valid = t.valid.Intersect(buf.Bounds())
	}
}

// HasValidRegion reports whether a valid region has been set.
func (t *ImageTask) HasValidRegion() bool { return t.validSet }

// SetValidRegion marks the real content inside the result. The rectangle is
// clamped to the result bounds when a result is present.
func (t *ImageTask) SetValidRegion(r image.Rectangle) {
	if t.result != nil {
		r = r.Intersect(t.result.Bounds())
	}
	t.valid = r
	t.validSet = true
}

// ValidRegion returns the stored valid region, or the full result extent
// when none was set.
func (t *ImageTask) ValidRegion() image.Rectangle {
	if !t.HasValidRegion() {
		t.Logger().Debug("valid region not defined, using full image", "file", t.Filename())
		return t.result.Bounds()
	}
	return t.valid
}

// ExtractValidRegion returns the part of buf covered by the valid region,
// clamped to buf's bounds. It returns buf itself when no region is set or the
// region already covers all of buf, so applying it to its own output is a
// no-op.
func (t *ImageTask) ExtractValidRegion(buf *imaging.Buffer) *imaging.Buffer {
	if !t.validSet {
		return buf
	}
	if t.valid.Empty() {
		// Inputs with disjoint valid regions leave nothing usable.
		return buf.Sub(image.Rectangle{})
	}
	return imaging.Extract(buf, t.valid)
}

// CroppedResult is the result with padding removed.
func (t *ImageTask) CroppedResult() *imaging.Buffer {
	return t.ExtractValidRegion(t.result)
}

// IntersectValidRegion narrows the valid region to its overlap with other.
// Used when combining inputs, where the narrowest valid region wins.
func (t *ImageTask) IntersectValidRegion(other image.Rectangle) {
	current := t.valid
	if !t.validSet {
		current = t.result.Bounds()
	}
	t.valid = imaging.Intersect(current, other)
	t.validSet = true
}
