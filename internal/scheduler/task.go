// Package scheduler runs a graph of dependent tasks on a fixed pool of
// worker goroutines. Tasks are dispatched in queue order once their
// dependencies are done and their readiness predicate holds; tasks that need
// the exclusive accelerator resource are admitted one slot at a time; the
// first task failure stops new admissions.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"
)

// ErrAlreadyStarted is returned by Run for a task that has already been run.
var ErrAlreadyStarted = errors.New("task already started")

// Task is a unit of schedulable work.
//
// Implementations embed Base, which supplies lifecycle state, dependency
// tracking and the default readiness predicate, and provide Execute. They may
// override ReadyToRun (calling Base.ReadyToRun first) and UsesExclusive.
type Task interface {
	Name() string
	Filename() string
	Index() int
	SetIndex(index int)
	Dependencies() []Task

	// ReadyToRun is re-evaluated on every dispatch attempt, under the pool
	// lock. It must be cheap; a bounded probe such as a file stat is fine.
	ReadyToRun() bool
	// UsesExclusive reports whether the task needs the single-holder
	// accelerator resource while it runs.
	UsesExclusive() bool

	Running() bool
	Done() bool
	Err() error
	Duration() time.Duration
	Wait()
	WaitContext(ctx context.Context) error

	// Execute is the task body. It is called once, by Run.
	Execute(ctx context.Context) error

	base() *Base
}

// Base carries the state every Task shares. The zero value is an unnamed
// task with no dependencies; use Init to name it and wire dependencies
// before submission.
type Base struct {
	name     string
	filename string
	index    int
	deps     []Task

	mu      sync.Mutex
	running bool
	done    bool
	err     error
	doneCh  chan struct{}
	logger  *slog.Logger
	started time.Time
	elapsed time.Duration
}

// Init sets the task identity and its dependencies. Dependencies are fixed
// from here on.
func (b *Base) Init(name, filename string, deps ...Task) {
	b.name = name
	b.filename = filename
	b.deps = append([]Task(nil), deps...)
}

func (b *Base) base() *Base { return b }

func (b *Base) Name() string     { return b.name }
func (b *Base) Filename() string { return b.filename }

// Basename returns the filename without its directory.
func (b *Base) Basename() string {
	if b.filename == "" {
		return ""
	}
	return filepath.Base(b.filename)
}

func (b *Base) Index() int         { return b.index }
func (b *Base) SetIndex(index int) { b.index = index }

// Dependencies returns the tasks this task consumes.
func (b *Base) Dependencies() []Task { return b.deps }

// ReadyToRun reports whether every dependency is done.
func (b *Base) ReadyToRun() bool {
	for _, dep := range b.deps {
		if !dep.Done() {
			return false
		}
	}
	return true
}

// UsesExclusive defaults to false.
func (b *Base) UsesExclusive() bool { return false }

func (b *Base) Running() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}

func (b *Base) Done() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.done
}

// Err returns the failure recorded by the task body, or nil.
func (b *Base) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

// Duration is how long the body ran, or zero before the task is done.
func (b *Base) Duration() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.elapsed
}

// Wait blocks until the task is done. It may be called from any goroutine,
// including before the task has been dispatched.
func (b *Base) Wait() {
	<-b.doneChan()
}

// WaitContext is Wait bounded by ctx.
func (b *Base) WaitContext(ctx context.Context) error {
	select {
	case <-b.doneChan():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Logger returns the logger the task was run with, or a discard logger
// before the task has been dispatched.
func (b *Base) Logger() *slog.Logger {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.logger == nil {
		return discard
	}
	return b.logger
}

func (b *Base) doneChan() chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.doneCh == nil {
		b.doneCh = make(chan struct{})
	}
	return b.doneCh
}

func (b *Base) start(logger *slog.Logger) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running || b.done {
		return ErrAlreadyStarted
	}
	b.running = true
	b.started = time.Now()
	b.logger = logger.With("task", b.name)
	return nil
}

func (b *Base) finish(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.err = err
	b.done = true
	b.elapsed = time.Since(b.started)
	if b.doneCh == nil {
		b.doneCh = make(chan struct{})
	}
	close(b.doneCh)
}

// Run executes t on the calling goroutine: it marks the task running, calls
// its body, records any failure (panics included) as the task error, marks
// it done and wakes every waiter. A body failure is not returned; it is
// available from t.Err(). Run returns ErrAlreadyStarted if t was run before.
func Run(ctx context.Context, t Task, logger *slog.Logger) error {
	if logger == nil {
		logger = discard
	}
	b := t.base()
	if err := b.start(logger); err != nil {
		return err
	}
	b.finish(execute(ctx, t))
	return nil
}

func execute(ctx context.Context, t Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %q panicked: %v", t.Name(), r)
		}
	}()
	return t.Execute(ctx)
}

var discard = slog.New(slog.DiscardHandler)

// Func is a Task whose body is a closure.
type Func struct {
	Base
	body      func(ctx context.Context) error
	exclusive bool
}

// NewFunc creates a task running body once its dependencies are done.
func NewFunc(name string, body func(ctx context.Context) error, deps ...Task) *Func {
	f := &Func{body: body}
	f.Init(name, "", deps...)
	return f
}

// NewExclusiveFunc is NewFunc for a body that needs the accelerator resource.
func NewExclusiveFunc(name string, body func(ctx context.Context) error, deps ...Task) *Func {
	f := NewFunc(name, body, deps...)
	f.exclusive = true
	return f
}

func (f *Func) UsesExclusive() bool { return f.exclusive }

func (f *Func) Execute(ctx context.Context) error {
	if f.body == nil {
		return nil
	}
	return f.body(ctx)
}
