package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/aristath/focusstack/internal/events"
)

// ErrPoolClosed is returned by WaitAllContext when the pool was closed with
// work still queued.
var ErrPoolClosed = errors.New("pool closed")

// DefaultPollInterval is how often an idle worker rescans the queue while
// some queued task is not ready yet.
const DefaultPollInterval = 50 * time.Millisecond

// TaskError is the first task failure recorded by a pool.
type TaskError struct {
	Task string
	Err  error
}

func (e *TaskError) Error() string { return e.Task + ": " + e.Err.Error() }
func (e *TaskError) Unwrap() error { return e.Err }

// Options configures a Pool.
type Options struct {
	Threads        int           // Worker goroutines (default runtime.NumCPU())
	ExclusiveSlots int64         // Concurrent holders of the accelerator resource (default 1)
	PollInterval   time.Duration // Queue rescan interval while tasks are not ready (default 50ms)
	Logger         *slog.Logger  // Optional; nil discards
	Bus            *events.Bus   // Optional lifecycle event sink
}

// Status is a snapshot of pool progress.
type Status struct {
	Total     int    // Tasks ever submitted
	Completed int    // Tasks finished, successfully or not
	Running   int    // Tasks in flight
	Queued    int    // Tasks not yet dispatched
	Current   string // Name of a task running now, best effort
	Failed    bool
	Elapsed   time.Duration
}

// Pool is a fixed set of worker goroutines pulling from one task queue.
//
// All queue, in-flight, counter and failure state is guarded by mu. Task
// bodies run without the lock held.
type Pool struct {
	logger       *slog.Logger
	bus          *events.Bus
	pollInterval time.Duration
	exclusive    *semaphore.Weighted
	started      time.Time
	group        errgroup.Group

	mu        sync.Mutex
	wake      chan struct{} // closed and replaced on every state change
	queue     []Task
	submitted map[Task]struct{}
	inflight  map[Task]bool // task -> holds an exclusive slot
	closed    bool
	total     int
	completed int
	current   string
	err       *TaskError
}

// NewPool starts opts.Threads workers immediately.
func NewPool(opts Options) *Pool {
	if opts.Threads <= 0 {
		opts.Threads = runtime.NumCPU()
	}
	if opts.ExclusiveSlots <= 0 {
		opts.ExclusiveSlots = 1
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Logger == nil {
		opts.Logger = discard
	}

	p := &Pool{
		logger:       opts.Logger,
		bus:          opts.Bus,
		pollInterval: opts.PollInterval,
		exclusive:    semaphore.NewWeighted(opts.ExclusiveSlots),
		started:      time.Now(),
		wake:         make(chan struct{}),
		submitted:    make(map[Task]struct{}),
		inflight:     make(map[Task]bool),
	}

	for i := range opts.Threads {
		p.group.Go(func() error {
			p.worker(i)
			return nil
		})
	}

	return p
}

// Add appends t to the queue. A task that was already submitted, or that
// has started running elsewhere, is ignored.
func (p *Pool) Add(t Task) {
	p.submit(t, false)
}

// Prepend puts t at the front of the queue so it is the next candidate
// considered, ahead of older work.
func (p *Pool) Prepend(t Task) {
	p.submit(t, true)
}

func (p *Pool) submit(t Task, front bool) {
	p.mu.Lock()
	if _, dup := p.submitted[t]; dup || t.Running() || t.Done() {
		p.mu.Unlock()
		p.logger.Warn("task submitted twice, ignoring", "task", t.Name())
		return
	}
	p.submitted[t] = struct{}{}
	if front {
		p.queue = slices.Insert(p.queue, 0, t)
	} else {
		p.queue = append(p.queue, t)
	}
	p.total++
	closed := p.closed
	p.broadcastLocked()
	p.mu.Unlock()

	if closed {
		p.logger.Warn("task submitted to closed pool, it will not run", "task", t.Name())
	}
	p.bus.Publish(events.TaskQueuedEvent{
		Name:      t.Name(),
		Index:     t.Index(),
		Prepended: front,
		Timestamp: time.Now(),
	})
}

// WaitAll blocks until the queue and the in-flight set are both empty, or
// timeout elapses. A negative timeout waits forever. It returns whether all
// work completed; a pool that has failed with work still queued returns
// false as soon as nothing is in flight, since that work can never start.
func (p *Pool) WaitAll(timeout time.Duration) bool {
	ctx := context.Background()
	if timeout >= 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return p.WaitAllContext(ctx) == nil
}

// WaitAllContext is WaitAll bounded by ctx. It returns nil once all work has
// drained, the first task failure if failure left work stranded in the
// queue, ErrPoolClosed if the pool was closed with work queued, or ctx.Err().
func (p *Pool) WaitAllContext(ctx context.Context) error {
	for {
		p.mu.Lock()
		idle := len(p.inflight) == 0
		switch {
		case idle && len(p.queue) == 0:
			p.mu.Unlock()
			return nil
		case idle && p.err != nil:
			err := p.err
			p.mu.Unlock()
			return err
		case idle && p.closed:
			p.mu.Unlock()
			return ErrPoolClosed
		}
		wake := p.wake
		p.mu.Unlock()

		select {
		case <-wake:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Failed reports whether any task has failed.
func (p *Pool) Failed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err != nil
}

// Err returns the first task failure, or nil.
func (p *Pool) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err == nil {
		return nil
	}
	return p.err
}

// Error returns the message of the first task failure, or "".
func (p *Pool) Error() string {
	if err := p.Err(); err != nil {
		return err.Error()
	}
	return ""
}

// Status returns the current progress counters.
func (p *Pool) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.statusLocked()
}

func (p *Pool) statusLocked() Status {
	return Status{
		Total:     p.total,
		Completed: p.completed,
		Running:   len(p.inflight),
		Queued:    len(p.queue),
		Current:   p.current,
		Failed:    p.err != nil,
		Elapsed:   time.Since(p.started),
	}
}

// Close stops the workers once they find no dispatchable work and waits for
// them to exit. Tasks that never become ready stay queued. Close is
// idempotent.
func (p *Pool) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		p.broadcastLocked()
	}
	p.mu.Unlock()

	_ = p.group.Wait()
}

func (p *Pool) broadcastLocked() {
	close(p.wake)
	p.wake = make(chan struct{})
}

func (p *Pool) worker(id int) {
	for {
		t, ok := p.next()
		if !ok {
			return
		}
		p.runTask(id, t)
	}
}

// next blocks until a task can be dispatched. It returns false once the pool
// is closed and nothing queued is dispatchable.
func (p *Pool) next() (Task, bool) {
	for {
		p.mu.Lock()
		if p.err == nil {
			if t := p.dispatchLocked(); t != nil {
				p.mu.Unlock()
				return t, true
			}
		}
		if p.closed {
			p.mu.Unlock()
			return nil, false
		}
		wake := p.wake
		// Readiness predicates can change without any pool event (a file
		// appearing), so rescan periodically while something is queued.
		poll := len(p.queue) > 0 && p.err == nil
		p.mu.Unlock()

		if !poll {
			<-wake
			continue
		}
		timer := time.NewTimer(p.pollInterval)
		select {
		case <-wake:
		case <-timer.C:
		}
		timer.Stop()
	}
}

// dispatchLocked picks the first queued task that is ready and, if it needs
// the exclusive resource, can get a slot.
func (p *Pool) dispatchLocked() Task {
	for i, t := range p.queue {
		if !t.ReadyToRun() {
			continue
		}
		exclusive := t.UsesExclusive()
		if exclusive && !p.exclusive.TryAcquire(1) {
			continue
		}
		p.queue = slices.Delete(p.queue, i, i+1)
		p.inflight[t] = exclusive
		p.current = t.Name()
		return t
	}
	return nil
}

func (p *Pool) runTask(worker int, t Task) {
	exclusive := t.UsesExclusive()
	started := time.Now()
	p.logger.Debug("starting task", "task", t.Name(), "worker", worker, "exclusive", exclusive)
	p.bus.Publish(events.TaskStartedEvent{
		Name:      t.Name(),
		Index:     t.Index(),
		Worker:    worker,
		Exclusive: exclusive,
		Timestamp: started,
	})

	var taskErr error
	if err := Run(context.Background(), t, p.logger); err != nil {
		taskErr = err
	} else {
		taskErr = t.Err()
	}
	elapsed := time.Since(started)

	p.mu.Lock()
	if p.inflight[t] {
		p.exclusive.Release(1)
	}
	delete(p.inflight, t)
	p.completed++
	if p.current == t.Name() {
		p.current = ""
		for other := range p.inflight {
			p.current = other.Name()
			break
		}
	}
	firstFailure := taskErr != nil && p.err == nil
	if firstFailure {
		p.err = &TaskError{Task: t.Name(), Err: taskErr}
	}
	status := p.statusLocked()
	p.broadcastLocked()
	p.mu.Unlock()

	now := time.Now()
	if taskErr != nil {
		p.logger.Warn("task failed", "task", t.Name(), "error", taskErr, "duration", elapsed)
		p.bus.Publish(events.TaskFailedEvent{Name: t.Name(), Index: t.Index(), Err: taskErr, Duration: elapsed, Timestamp: now})
	} else {
		p.logger.Debug("task done", "task", t.Name(), "duration", elapsed)
		p.bus.Publish(events.TaskCompletedEvent{Name: t.Name(), Index: t.Index(), Duration: elapsed, Timestamp: now})
	}
	if firstFailure {
		p.logger.Error("halting new tasks after failure", "task", t.Name(), "error", taskErr)
		p.bus.Publish(events.PoolFailedEvent{Name: t.Name(), Err: taskErr, Timestamp: now})
	}
	p.bus.Publish(events.PoolProgressEvent{
		Total:     status.Total,
		Completed: status.Completed,
		Running:   status.Running,
		Queued:    status.Queued,
		Current:   status.Current,
		Timestamp: now,
	})
}
