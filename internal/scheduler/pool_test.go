package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aristath/focusstack/internal/events"
)

// gatedTask becomes ready only once its gate is opened, like a load task
// waiting for its file to appear.
type gatedTask struct {
	Func
	open atomic.Bool
}

func newGatedTask(name string, body func(ctx context.Context) error) *gatedTask {
	g := &gatedTask{}
	g.body = body
	g.Init(name, "")
	return g
}

func (g *gatedTask) ReadyToRun() bool {
	return g.Base.ReadyToRun() && g.open.Load()
}

func newTestPool(t *testing.T, threads int) *Pool {
	t.Helper()
	p := NewPool(Options{Threads: threads, PollInterval: 5 * time.Millisecond})
	t.Cleanup(p.Close)
	return p
}

func TestPool_DependencyOrdering(t *testing.T) {
	p := newTestPool(t, 4)

	var violations atomic.Int32
	var prev Task
	var tasks []*Func
	for i := 0; i < 20; i++ {
		dep := prev
		var task *Func
		task = NewFunc(fmt.Sprintf("stage-%d", i), func(ctx context.Context) error {
			for _, d := range task.Dependencies() {
				if !d.Done() {
					violations.Add(1)
				}
			}
			time.Sleep(time.Millisecond)
			return nil
		})
		if dep != nil {
			task.Init(task.Name(), "", dep)
		}
		tasks = append(tasks, task)
		prev = task
	}

	// Submit in reverse so the queue order fights the dependency order.
	for i := len(tasks) - 1; i >= 0; i-- {
		p.Add(tasks[i])
	}

	if !p.WaitAll(5 * time.Second) {
		t.Fatal("WaitAll timed out")
	}
	if n := violations.Load(); n != 0 {
		t.Errorf("%d tasks started before a dependency was done", n)
	}
	for _, task := range tasks {
		if !task.Done() {
			t.Errorf("%s not done", task.Name())
		}
	}
}

func TestPool_PrependRunsFirst(t *testing.T) {
	p := newTestPool(t, 1)

	// Hold the only worker so both tasks are queued before either is picked.
	release := make(chan struct{})
	blocker := NewFunc("blocker", func(ctx context.Context) error {
		<-release
		return nil
	})
	p.Add(blocker)
	for !blocker.Running() {
		time.Sleep(time.Millisecond)
	}

	var mu sync.Mutex
	var order []string
	record := func(name string) func(ctx context.Context) error {
		return func(ctx context.Context) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		}
	}

	x := NewFunc("X", record("X"))
	y := NewFunc("Y", record("Y"))
	p.Add(x)
	p.Prepend(y)
	close(release)

	if !p.WaitAll(time.Second) {
		t.Fatal("WaitAll timed out")
	}
	if len(order) != 2 || order[0] != "Y" || order[1] != "X" {
		t.Errorf("dispatch order = %v, want [Y X]", order)
	}
}

func TestPool_ExclusiveResource(t *testing.T) {
	p := newTestPool(t, 4)

	var holders, maxHolders atomic.Int32
	body := func(ctx context.Context) error {
		n := holders.Add(1)
		for {
			m := maxHolders.Load()
			if n <= m || maxHolders.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		holders.Add(-1)
		return nil
	}

	var cpuRan atomic.Bool
	for i := 0; i < 3; i++ {
		p.Add(NewExclusiveFunc(fmt.Sprintf("gpu-%d", i), body))
	}
	// Ordinary tasks are not throttled by the exclusive slot.
	p.Add(NewFunc("cpu", func(ctx context.Context) error {
		deadline := time.Now().Add(time.Second)
		for time.Now().Before(deadline) {
			if holders.Load() > 0 {
				cpuRan.Store(true)
				return nil
			}
			time.Sleep(time.Millisecond)
		}
		return nil
	}))

	if !p.WaitAll(2 * time.Second) {
		t.Fatal("WaitAll timed out")
	}
	if got := maxHolders.Load(); got != 1 {
		t.Errorf("max concurrent exclusive tasks = %d, want 1", got)
	}
	if !cpuRan.Load() {
		t.Error("cpu task should run alongside an exclusive task")
	}
}

func TestPool_FailureHaltsAdmission(t *testing.T) {
	p := newTestPool(t, 1)

	a := NewFunc("A", func(ctx context.Context) error { return errors.New("could not load a.png") })
	b := NewFunc("B", nil)
	p.Add(a)
	p.Add(b)

	if p.WaitAll(time.Second) {
		t.Error("WaitAll should report incomplete work after a failure")
	}
	if b.Running() || b.Done() {
		t.Error("B must not start after A failed")
	}
	if !p.Failed() {
		t.Fatal("pool should be failed")
	}
	if got := p.Error(); got != "A: could not load a.png" {
		t.Errorf("Error() = %q", got)
	}
	var taskErr *TaskError
	if !errors.As(p.Err(), &taskErr) || taskErr.Task != "A" {
		t.Errorf("Err() = %v, want TaskError for A", p.Err())
	}

	status := p.Status()
	if status.Total != 2 || status.Completed != 1 || status.Queued != 1 {
		t.Errorf("unexpected status %+v", status)
	}
}

func TestPool_FailureLetsRunningTasksFinish(t *testing.T) {
	p := newTestPool(t, 2)

	bStarted := make(chan struct{})
	b := NewFunc("B", func(ctx context.Context) error {
		close(bStarted)
		time.Sleep(50 * time.Millisecond)
		return nil
	})
	a := NewFunc("A", func(ctx context.Context) error {
		<-bStarted
		return errors.New("boom")
	})
	p.Add(b)
	p.Add(a)

	if !p.WaitAll(time.Second) {
		t.Fatal("all submitted work ran, WaitAll should succeed")
	}
	if !b.Done() || b.Err() != nil {
		t.Errorf("B should finish normally, done=%v err=%v", b.Done(), b.Err())
	}
	if !p.Failed() {
		t.Error("pool should record A's failure")
	}
}

func TestPool_FirstFailureWins(t *testing.T) {
	p := newTestPool(t, 2)

	release := make(chan struct{})
	first := NewFunc("first", func(ctx context.Context) error { return errors.New("first") })
	second := NewFunc("second", func(ctx context.Context) error {
		<-release
		return errors.New("second")
	})
	p.Add(second)
	for !second.Running() {
		time.Sleep(time.Millisecond)
	}
	p.Add(first)
	for !first.Done() {
		time.Sleep(time.Millisecond)
	}
	close(release)
	p.WaitAll(time.Second)

	if got := p.Error(); got != "first: first" {
		t.Errorf("Error() = %q, want the first failure", got)
	}
}

func TestPool_ReadinessPolling(t *testing.T) {
	p := newTestPool(t, 2)

	gated := newGatedTask("wait-for-file", nil)
	other := NewFunc("other", nil)
	p.Add(gated)
	p.Add(other)

	// The gated task must not starve the ready one behind it.
	if err := other.WaitContext(ctxTimeout(t, time.Second)); err != nil {
		t.Fatal("ready task was blocked by a task that is not ready")
	}
	if gated.Running() {
		t.Fatal("gated task ran before its predicate held")
	}
	if p.WaitAll(30 * time.Millisecond) {
		t.Fatal("WaitAll should not succeed while work is queued")
	}

	gated.open.Store(true)
	if !p.WaitAll(time.Second) {
		t.Fatal("gated task was not picked up after its predicate flipped")
	}
}

func TestPool_WaitAllWhileStreaming(t *testing.T) {
	p := newTestPool(t, 2)

	// Each task submits its successor before finishing, the way a pipeline
	// builder streams in work as earlier results resolve. WaitAll must not
	// report success between two links of the chain.
	const links = 10
	var ran atomic.Int32
	var link func(i int) *Func
	link = func(i int) *Func {
		return NewFunc(fmt.Sprintf("link-%d", i), func(ctx context.Context) error {
			ran.Add(1)
			time.Sleep(2 * time.Millisecond)
			if i+1 < links {
				p.Add(link(i + 1))
			}
			return nil
		})
	}
	p.Add(link(0))

	if !p.WaitAll(2 * time.Second) {
		t.Fatal("WaitAll timed out")
	}
	status := p.Status()
	if status.Total != links || status.Completed != links || ran.Load() != links {
		t.Errorf("status %+v, ran %d", status, ran.Load())
	}
}

func TestPool_WaitAllTimeout(t *testing.T) {
	p := newTestPool(t, 1)

	release := make(chan struct{})
	defer close(release)
	p.Add(NewFunc("slow", func(ctx context.Context) error {
		<-release
		return nil
	}))

	start := time.Now()
	if p.WaitAll(30 * time.Millisecond) {
		t.Fatal("WaitAll should time out")
	}
	if elapsed := time.Since(start); elapsed < 25*time.Millisecond {
		t.Errorf("WaitAll returned after %v, before the timeout", elapsed)
	}
	if p.Status().Current != "slow" {
		t.Errorf("Current = %q, want slow", p.Status().Current)
	}
}

func TestPool_DuplicateSubmissionIgnored(t *testing.T) {
	p := newTestPool(t, 2)

	var runs atomic.Int32
	release := make(chan struct{})
	task := NewFunc("T", func(ctx context.Context) error {
		runs.Add(1)
		<-release
		return nil
	})
	p.Add(task)
	p.Add(task)
	for !task.Running() {
		time.Sleep(time.Millisecond)
	}
	p.Prepend(task)

	if p.WaitAll(30 * time.Millisecond) {
		t.Fatal("WaitAll succeeded while the task body was still running")
	}
	if p.Failed() {
		t.Fatalf("duplicate submission failed the pool: %v", p.Err())
	}

	close(release)
	if !p.WaitAll(time.Second) {
		t.Fatal("WaitAll timed out")
	}
	if n := runs.Load(); n != 1 {
		t.Errorf("body ran %d times, want 1", n)
	}
	if status := p.Status(); status.Total != 1 || status.Completed != 1 {
		t.Errorf("unexpected status %+v", status)
	}
	if p.Failed() {
		t.Errorf("pool failed: %v", p.Err())
	}

	// A finished task cannot be queued again either.
	p.Add(task)
	if status := p.Status(); status.Total != 1 || status.Queued != 0 {
		t.Errorf("re-adding a done task changed status: %+v", status)
	}
}

func TestPool_CloseJoinsWorkers(t *testing.T) {
	p := NewPool(Options{Threads: 2})

	var finished atomic.Bool
	task := NewFunc("long", func(ctx context.Context) error {
		time.Sleep(30 * time.Millisecond)
		finished.Store(true)
		return nil
	})
	p.Add(task)
	for !task.Running() {
		time.Sleep(time.Millisecond)
	}

	p.Close()
	if !finished.Load() {
		t.Error("Close returned before the running task finished")
	}

	late := NewFunc("late", nil)
	p.Add(late)
	p.Close()
	if late.Running() {
		t.Error("task added after Close must not run")
	}
	if err := p.WaitAllContext(context.Background()); !errors.Is(err, ErrPoolClosed) {
		t.Errorf("expected ErrPoolClosed, got %v", err)
	}
}

func TestPool_PublishesEvents(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()
	sub := bus.SubscribeAll(64)

	p := NewPool(Options{Threads: 1, Bus: bus})
	defer p.Close()

	p.Add(NewFunc("good", nil))
	p.Add(NewFunc("bad", func(ctx context.Context) error { return errors.New("nope") }))
	p.WaitAll(time.Second)

	seen := map[string]int{}
	timeout := time.After(time.Second)
	for seen[events.EventTypePoolFailed] == 0 || seen[events.EventTypePoolProgress] < 2 || seen[events.EventTypeTaskQueued] < 2 {
		select {
		case ev := <-sub:
			seen[ev.EventType()]++
		case <-timeout:
			t.Fatalf("missing events, saw %v", seen)
		}
	}

	if seen[events.EventTypeTaskCompleted] != 1 || seen[events.EventTypeTaskFailed] != 1 {
		t.Errorf("unexpected completion events %v", seen)
	}
}

func ctxTimeout(t *testing.T, d time.Duration) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	t.Cleanup(cancel)
	return ctx
}
