// Package stages holds the concrete pipeline steps the scheduler runs:
// loading input frames, blending them, and cropping/saving the result.
package stages

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dustin/go-humanize"

	"github.com/aristath/focusstack/internal/imaging"
	"github.com/aristath/focusstack/internal/scheduler"
)

// ErrLoad wraps every input that could not be read.
var ErrLoad = errors.New("could not load")

// DefaultRetryInterval is how often a load retries decoding while waiting
// for a file that is still being written.
const DefaultRetryInterval = 100 * time.Millisecond

// LoadOptions configures a LoadImage task.
type LoadOptions struct {
	// Wait lets the task wait for the file to appear, so frames can be
	// processed while a camera is still writing them. Zero fails at once.
	Wait time.Duration
	// PadMultiple pads the image by reflection so both sides are multiples
	// of it. Values below 2 disable padding.
	PadMultiple   int
	RetryInterval time.Duration
}

// LoadImage reads one input frame.
type LoadImage struct {
	scheduler.ImageTask
	opts      LoadOptions
	waitUntil time.Time
	preset    *imaging.Buffer
}

// NewLoadImage creates a task loading filename. Any wait deadline counts
// from construction.
func NewLoadImage(filename string, opts LoadOptions) *LoadImage {
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = DefaultRetryInterval
	}
	t := &LoadImage{
		opts:      opts,
		waitUntil: time.Now().Add(opts.Wait),
	}
	t.Init("Load "+filename, filename)
	return t
}

// NewMemoryImage creates a load task for an image that is already in memory.
func NewMemoryImage(name string, buf *imaging.Buffer, opts LoadOptions) *LoadImage {
	t := &LoadImage{
		opts:   LoadOptions{PadMultiple: opts.PadMultiple},
		preset: buf,
	}
	t.Init("Memory image "+name, name)
	return t
}

// ReadyToRun holds the task back while its file has not appeared yet and
// the wait deadline has not passed.
func (t *LoadImage) ReadyToRun() bool {
	if !t.ImageTask.ReadyToRun() {
		return false
	}
	if t.preset != nil || t.opts.Wait <= 0 || !time.Now().Before(t.waitUntil) {
		return true
	}
	_, err := os.Stat(t.Filename())
	return err == nil
}

func (t *LoadImage) Execute(ctx context.Context) error {
	buf := t.preset
	if buf == nil {
		var err error
		if buf, err = t.decode(ctx); err != nil {
			return err
		}
	}

	log := t.Logger()
	orig := buf.Bounds()
	padded, valid := imaging.PadReflect(buf, t.opts.PadMultiple)
	log.Debug("loaded image",
		"file", t.Basename(),
		"size", fmt.Sprintf("%dx%d", orig.Dx(), orig.Dy()),
		"channels", buf.Channels(),
		"memory", humanize.IBytes(uint64(orig.Dx()*orig.Dy()*buf.Channels())),
	)
	if padded != buf {
		log.Debug("padded image",
			"file", t.Basename(),
			"size", fmt.Sprintf("%dx%d", padded.Width(), padded.Height()),
		)
	}

	t.SetResult(padded)
	t.SetValidRegion(valid)
	return nil
}

// decode reads the file, retrying until the wait deadline while the file is
// missing or still incomplete.
func (t *LoadImage) decode(ctx context.Context) (*imaging.Buffer, error) {
	var buf *imaging.Buffer
	var lastErr error
	op := func() error {
		b, err := imaging.Decode(t.Filename())
		if err != nil {
			lastErr = err
			return err
		}
		buf = b
		return nil
	}

	var policy backoff.BackOff = &backoff.StopBackOff{}
	if t.opts.Wait > 0 {
		waitCtx, cancel := context.WithDeadline(ctx, t.waitUntil)
		defer cancel()
		policy = backoff.WithContext(backoff.NewConstantBackOff(t.opts.RetryInterval), waitCtx)
	}

	if err := backoff.Retry(op, policy); err != nil {
		if lastErr == nil {
			lastErr = err
		}
		return nil, fmt.Errorf("%w %s: %v", ErrLoad, t.Filename(), lastErr)
	}
	return buf, nil
}
