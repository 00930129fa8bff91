package stages

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"

	"golang.org/x/image/draw"

	"github.com/aristath/focusstack/internal/imaging"
	"github.com/aristath/focusstack/internal/scheduler"
)

// ErrNoInputs is returned by a blend with nothing to merge.
var ErrNoInputs = errors.New("no inputs to blend")

// ContentSource is implemented by sources that track, besides the valid
// region, the wider area that still holds real pixels and not padding.
type ContentSource interface {
	ContentRegion() image.Rectangle
}

// Blend merges aligned frames by taking, for each pixel, the frame that is
// locally sharpest.
type Blend struct {
	scheduler.ImageTask
	inputs    []scheduler.ImageSource
	exclusive bool
	content   image.Rectangle
}

// NewBlend creates a blend of inputs. The inputs are also its dependencies.
// With exclusive set the task holds the pool's exclusive slot while running.
func NewBlend(name string, exclusive bool, inputs ...scheduler.ImageSource) *Blend {
	deps := make([]scheduler.Task, len(inputs))
	for i, in := range inputs {
		deps[i] = in
	}
	t := &Blend{inputs: inputs, exclusive: exclusive}
	t.Init(name, name, deps...)
	return t
}

func (t *Blend) UsesExclusive() bool { return t.exclusive }

// ContentRegion is the union of the inputs' valid regions: the area where at
// least one frame has real pixels.
func (t *Blend) ContentRegion() image.Rectangle { return t.content }

func (t *Blend) Execute(ctx context.Context) error {
	if len(t.inputs) == 0 {
		return ErrNoInputs
	}

	bounds := t.inputs[0].Result().Bounds()
	for _, in := range t.inputs[1:] {
		if b := in.Result().Bounds(); b != bounds {
			return fmt.Errorf("%s is %v, expected %v", in.Name(), b, bounds)
		}
	}

	out := t.inputs[0].Result()
	if len(t.inputs) > 1 {
		var err error
		if out, err = t.merge(ctx, bounds); err != nil {
			return err
		}
	}
	t.SetResult(out)

	var content image.Rectangle
	for _, in := range t.inputs {
		valid := in.ValidRegion()
		t.IntersectValidRegion(valid)
		content = content.Union(valid)
	}
	t.content = content.Intersect(bounds)

	t.Logger().Debug("blended images",
		"inputs", len(t.inputs),
		"valid", t.ValidRegion(),
	)
	return nil
}

func (t *Blend) merge(ctx context.Context, bounds image.Rectangle) (*imaging.Buffer, error) {
	w, h := bounds.Dx(), bounds.Dy()
	best := make([]float64, w*h)
	pick := make([]int, w*h)

	for i, in := range t.inputs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		score := sharpness(luminance(in.Result().Image(), bounds), w, h)
		for p, s := range score {
			if i == 0 || s > best[p] {
				best[p] = s
				pick[p] = i
			}
		}
	}

	out := image.NewNRGBA(bounds)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			src := t.inputs[pick[y*w+x]].Result().Image()
			px, py := bounds.Min.X+x, bounds.Min.Y+y
			out.Set(px, py, color.NRGBAModel.Convert(src.At(px, py)))
		}
	}
	return imaging.New(out), nil
}

// luminance returns the image's gray levels in row-major order.
func luminance(img image.Image, bounds image.Rectangle) []float64 {
	gray := image.NewGray16(bounds)
	draw.Draw(gray, bounds, img, bounds.Min, draw.Src)
	w, h := bounds.Dx(), bounds.Dy()
	lum := make([]float64, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			lum[y*w+x] = float64(gray.Gray16At(bounds.Min.X+x, bounds.Min.Y+y).Y)
		}
	}
	return lum
}

// sharpness is the absolute 4-neighbour Laplacian of lum, edges clamped.
func sharpness(lum []float64, w, h int) []float64 {
	at := func(x, y int) float64 {
		x = min(max(x, 0), w-1)
		y = min(max(y, 0), h-1)
		return lum[y*w+x]
	}
	out := make([]float64, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := 4*at(x, y) - at(x-1, y) - at(x+1, y) - at(x, y-1) - at(x, y+1)
			if v < 0 {
				v = -v
			}
			out[y*w+x] = v
		}
	}
	return out
}
