// Package pipeline builds a focus stacking run out of scheduler tasks: one
// load per input, a blend of all of them, and a final crop/save.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aristath/focusstack/internal/config"
	"github.com/aristath/focusstack/internal/events"
	"github.com/aristath/focusstack/internal/imaging"
	"github.com/aristath/focusstack/internal/persistence"
	"github.com/aristath/focusstack/internal/scheduler"
	"github.com/aristath/focusstack/internal/stages"
)

var (
	ErrNoInputs   = errors.New("no input images")
	ErrNotStarted = errors.New("runner not started")
	ErrFinished   = errors.New("runner already finished")
)

// Config describes one run.
type Config struct {
	Inputs         []string
	Output         string // Empty keeps the result in memory
	Threads        int
	ExclusiveSlots int64
	PollInterval   time.Duration
	Wait           time.Duration // How long each load waits for its file
	PadMultiple    int
	JPEGQuality    int
	NoCrop         bool
	BlendExclusive bool
}

// FromConfig maps loaded configuration onto a run of inputs into output.
func FromConfig(cfg *config.Config, inputs []string, output string) Config {
	return Config{
		Inputs:         inputs,
		Output:         output,
		Threads:        cfg.Workers.ThreadCount(),
		ExclusiveSlots: cfg.Workers.ExclusiveSlots,
		PollInterval:   cfg.Workers.PollInterval(),
		Wait:           cfg.Input.Wait(),
		PadMultiple:    cfg.Input.PadMultiple,
		JPEGQuality:    cfg.Output.JPEGQuality,
		NoCrop:         cfg.Output.NoCrop,
		BlendExclusive: cfg.Blend.Exclusive,
	}
}

// Options carries the runner's collaborators. All are optional.
type Options struct {
	Logger *slog.Logger
	Bus    *events.Bus
	Store  persistence.Store
}

// Result is the outcome of a finished run.
type Result struct {
	RunID  string
	Output *imaging.Buffer // Cropped result, nil if the run failed
	Status scheduler.Status
	Tasks  []persistence.TaskResult
}

// Runner drives one run. Inputs may keep arriving through AddInput until
// Finish is called; their loads start as soon as they are added.
type Runner struct {
	cfg    Config
	logger *slog.Logger
	bus    *events.Bus
	store  persistence.Store
	runID  string

	mu       sync.Mutex
	pool     *scheduler.Pool
	graph    *scheduler.Graph
	loads    []scheduler.ImageSource
	finished bool
}

// NewRunner creates a runner for cfg. Nothing runs until Start.
func NewRunner(cfg Config, opts Options) *Runner {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	runID := uuid.NewString()
	return &Runner{
		cfg:    cfg,
		logger: logger.With("run", runID),
		bus:    opts.Bus,
		store:  opts.Store,
		runID:  runID,
		graph:  scheduler.NewGraph(),
	}
}

// RunID identifies the run in the journal.
func (r *Runner) RunID() string { return r.runID }

// Pool returns the worker pool, or nil before Start.
func (r *Runner) Pool() *scheduler.Pool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pool
}

// Start records the run, starts the workers and submits a load for every
// configured input.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pool != nil {
		return errors.New("runner already started")
	}

	r.pool = scheduler.NewPool(scheduler.Options{
		Threads:        r.cfg.Threads,
		ExclusiveSlots: r.cfg.ExclusiveSlots,
		PollInterval:   r.cfg.PollInterval,
		Logger:         r.logger,
		Bus:            r.bus,
	})

	if r.store != nil {
		run := &persistence.Run{
			ID:      r.runID,
			Output:  r.cfg.Output,
			Inputs:  r.cfg.Inputs,
			Threads: r.cfg.Threads,
		}
		if err := r.store.StartRun(ctx, run); err != nil {
			r.logger.Warn("journal: failed to record run", "error", err)
		}
	}

	r.logger.Info("run started", "inputs", len(r.cfg.Inputs), "output", r.cfg.Output, "threads", r.cfg.Threads)
	for _, path := range r.cfg.Inputs {
		if err := r.addLoadLocked(stages.NewLoadImage(path, r.loadOptions())); err != nil {
			return err
		}
	}
	return nil
}

// AddInput streams another input file into a started run.
func (r *Runner) AddInput(ctx context.Context, path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkOpenLocked(); err != nil {
		return err
	}
	if err := r.addLoadLocked(stages.NewLoadImage(path, r.loadOptions())); err != nil {
		return err
	}
	if r.store != nil {
		if err := r.store.AddInputs(ctx, r.runID, path); err != nil {
			r.logger.Warn("journal: failed to record input", "file", path, "error", err)
		}
	}
	return nil
}

// AddImage streams an in-memory frame into a started run.
func (r *Runner) AddImage(name string, buf *imaging.Buffer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkOpenLocked(); err != nil {
		return err
	}
	return r.addLoadLocked(stages.NewMemoryImage(name, buf, r.loadOptions()))
}

func (r *Runner) checkOpenLocked() error {
	switch {
	case r.pool == nil:
		return ErrNotStarted
	case r.finished:
		return ErrFinished
	}
	return nil
}

func (r *Runner) loadOptions() stages.LoadOptions {
	return stages.LoadOptions{Wait: r.cfg.Wait, PadMultiple: r.cfg.PadMultiple}
}

func (r *Runner) addLoadLocked(load *stages.LoadImage) error {
	if err := r.graph.Add(load); err != nil {
		return err
	}
	load.SetIndex(len(r.loads))
	r.loads = append(r.loads, load)
	r.pool.Add(load)
	return nil
}

// Finish submits the blend and save stages, waits for every task, records
// the outcome in the journal and stops the workers. The returned error is
// the first task failure, or ctx's error if ctx ended first.
func (r *Runner) Finish(ctx context.Context) (*Result, error) {
	r.mu.Lock()
	if err := r.checkOpenLocked(); err != nil {
		r.mu.Unlock()
		return nil, err
	}
	r.finished = true
	pool := r.pool
	loads := r.loads
	r.mu.Unlock()

	save, runErr := r.submitStages(loads)
	if runErr == nil {
		runErr = pool.WaitAllContext(ctx)
	}
	pool.Close()
	if runErr == nil {
		// A failure in the last task leaves nothing queued, so waiting
		// succeeds; the pool still has the error.
		runErr = pool.Err()
	}

	result := &Result{
		RunID:  r.runID,
		Status: pool.Status(),
		Tasks:  r.taskResults(),
	}
	if runErr == nil {
		result.Output = save.Result()
	}

	r.record(runErr, result)
	return result, runErr
}

func (r *Runner) submitStages(loads []scheduler.ImageSource) (*stages.SaveImage, error) {
	if len(loads) == 0 {
		return nil, ErrNoInputs
	}

	blend := stages.NewBlend(fmt.Sprintf("Blend %d images", len(loads)), r.cfg.BlendExclusive, loads...)
	save := stages.NewSaveImage(r.cfg.Output, blend, stages.SaveOptions{
		Quality: r.cfg.JPEGQuality,
		NoCrop:  r.cfg.NoCrop,
	})
	if err := r.graph.Add(blend, save); err != nil {
		return nil, err
	}

	order, err := r.graph.Validate()
	if err != nil {
		return nil, err
	}
	// Loads are already queued; only the new stages go in, after them.
	next := len(loads)
	for _, t := range order {
		if t == scheduler.Task(blend) || t == scheduler.Task(save) {
			t.SetIndex(next)
			next++
			r.pool.Add(t)
		}
	}
	return save, nil
}

func (r *Runner) taskResults() []persistence.TaskResult {
	tasks := r.graph.Tasks()
	results := make([]persistence.TaskResult, 0, len(tasks))
	for _, t := range tasks {
		res := persistence.TaskResult{
			Name:     t.Name(),
			Index:    t.Index(),
			Status:   persistence.TaskSkipped,
			Duration: t.Duration(),
		}
		for _, dep := range t.Dependencies() {
			res.Dependencies = append(res.Dependencies, dep.Name())
		}
		if t.Done() {
			res.Status = persistence.TaskDone
			if err := t.Err(); err != nil {
				res.Status = persistence.TaskFailed
				res.Error = err.Error()
			}
		}
		results = append(results, res)
	}
	return results
}

func (r *Runner) record(runErr error, result *Result) {
	status := persistence.RunSucceeded
	if runErr != nil {
		status = persistence.RunFailed
		r.logger.Error("run failed", "error", runErr, "elapsed", result.Status.Elapsed)
	} else {
		r.logger.Info("run finished", "tasks", result.Status.Completed, "elapsed", result.Status.Elapsed)
	}

	if r.store == nil {
		return
	}
	// The run's own context may be the reason it ended; the journal entry
	// still has to be written.
	ctx := context.Background()
	for _, res := range result.Tasks {
		if err := r.store.SaveTaskResult(ctx, r.runID, res); err != nil {
			r.logger.Warn("journal: failed to record task", "task", res.Name, "error", err)
		}
	}
	if err := r.store.FinishRun(ctx, r.runID, status, runErr); err != nil {
		r.logger.Warn("journal: failed to finish run", "error", err)
	}
}

// Run performs a whole run with a fixed set of inputs.
func Run(ctx context.Context, cfg Config, opts Options) (*Result, error) {
	r := NewRunner(cfg, opts)
	if err := r.Start(ctx); err != nil {
		return nil, err
	}
	return r.Finish(ctx)
}
