package stages

import (
	"context"
	"fmt"

	"github.com/aristath/focusstack/internal/imaging"
	"github.com/aristath/focusstack/internal/scheduler"
)

// MemoryOutput as the save filename keeps the result in memory only.
const MemoryOutput = ":memory:"

// SaveOptions configures a SaveImage task.
type SaveOptions struct {
	Quality int // JPEG quality, 1-100
	// NoCrop keeps every pixel that holds real content, dropping only
	// padding, instead of cropping to the area all inputs cover.
	NoCrop    bool
	AlphaMask scheduler.ImageSource // Optional; its luminance becomes the output alpha
}

// SaveImage crops its input to the valid region and writes it to disk.
type SaveImage struct {
	scheduler.ImageTask
	input scheduler.ImageSource
	opts  SaveOptions
}

// NewSaveImage creates a save of input to filename. An empty filename or
// MemoryOutput only crops.
func NewSaveImage(filename string, input scheduler.ImageSource, opts SaveOptions) *SaveImage {
	deps := []scheduler.Task{input}
	if opts.AlphaMask != nil {
		deps = append(deps, opts.AlphaMask)
	}
	name := "Save " + filename
	if !writesFile(filename) {
		name = "Final crop " + input.Filename()
	}
	t := &SaveImage{input: input, opts: opts}
	t.Init(name, filename, deps...)
	return t
}

func writesFile(filename string) bool {
	return filename != "" && filename != MemoryOutput
}

func (t *SaveImage) Execute(ctx context.Context) error {
	log := t.Logger()
	in := t.input.Result()

	out := t.input.ExtractValidRegion(in)
	if cs, ok := t.input.(ContentSource); ok && t.opts.NoCrop {
		out = imaging.Extract(in, cs.ContentRegion())
	}
	log.Debug("cropped image",
		"from", fmt.Sprintf("%dx%d", in.Width(), in.Height()),
		"to", fmt.Sprintf("%dx%d", out.Width(), out.Height()),
		"nocrop", t.opts.NoCrop,
	)

	if t.opts.AlphaMask != nil {
		mask := imaging.Extract(t.opts.AlphaMask.Result(), out.Bounds())
		withAlpha, err := imaging.WithAlpha(out, mask)
		if err != nil {
			return fmt.Errorf("apply alpha mask: %w", err)
		}
		out = withAlpha
	}

	if writesFile(t.Filename()) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := imaging.Encode(t.Filename(), out, t.opts.Quality); err != nil {
			return fmt.Errorf("save %s: %w", t.Filename(), err)
		}
		log.Info("saved image", "file", t.Filename())
	}

	t.SetResult(out)
	t.SetValidRegion(out.Bounds())
	return nil
}
