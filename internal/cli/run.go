package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/aristath/focusstack/internal/config"
	"github.com/aristath/focusstack/internal/events"
	"github.com/aristath/focusstack/internal/logging"
	"github.com/aristath/focusstack/internal/persistence"
	"github.com/aristath/focusstack/internal/pipeline"
	"github.com/aristath/focusstack/internal/stages"
	"github.com/aristath/focusstack/internal/tui"
)

// DefaultOutput is the file written when --output is not given.
const DefaultOutput = "output.jpg"

// shutdownTimeout bounds how long the run may take to stop after the TUI exits.
const shutdownTimeout = 10 * time.Second

type runOptions struct {
	output      string
	threads     int
	waitImages  float64
	padMultiple int
	jpgQuality  int
	noCrop      bool
	useTUI      bool
	stdin       bool
}

func newRunCommand(global *globalOptions) *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run [files...]",
		Short: "Stack a series of images into one",
		Example: `  focusstack run img_*.jpg -o stacked.jpg
  focusstack run --wait-images 30 --stdin < frames.txt`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && !opts.stdin {
				return errors.New("no input files (pass files or use --stdin)")
			}
			if opts.stdin && opts.useTUI {
				return errors.New("--stdin cannot be combined with --tui")
			}

			cfg, err := global.loadConfig()
			if err != nil {
				return err
			}
			opts.apply(cmd, cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runStack(cmd, cfg, opts, args)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.output, "output", "o", DefaultOutput, "output file (png, jpg, tif, bmp); \":memory:\" skips saving")
	f.IntVarP(&opts.threads, "threads", "j", 0, "worker threads (0 uses every CPU)")
	f.Float64Var(&opts.waitImages, "wait-images", 0, "seconds to wait for each input file to appear")
	f.IntVar(&opts.padMultiple, "pad", 0, "pad images to a multiple of this size")
	f.IntVar(&opts.jpgQuality, "jpg-quality", 95, "JPEG quality (1-100)")
	f.BoolVar(&opts.noCrop, "nocrop", false, "keep every pixel covered by any input")
	f.BoolVar(&opts.useTUI, "tui", false, "show a live progress view")
	f.BoolVar(&opts.stdin, "stdin", false, "read more input file names from stdin, one per line")
	return cmd
}

// apply overrides cfg with every flag set on the command line.
func (o *runOptions) apply(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("threads") {
		cfg.Workers.Threads = o.threads
	}
	if flags.Changed("wait-images") {
		cfg.Input.WaitImages = o.waitImages
	}
	if flags.Changed("pad") {
		cfg.Input.PadMultiple = o.padMultiple
	}
	if flags.Changed("jpg-quality") {
		cfg.Output.JPEGQuality = o.jpgQuality
	}
	if flags.Changed("nocrop") {
		cfg.Output.NoCrop = o.noCrop
	}
}

func runStack(cmd *cobra.Command, cfg *config.Config, opts *runOptions, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, closer, err := newRunLogger(cfg, opts.useTUI)
	if err != nil {
		return err
	}
	defer closer.Close()

	var store persistence.Store
	if cfg.Journal.Enabled {
		s, err := persistence.NewSQLiteStore(ctx, cfg.JournalPath())
		if err != nil {
			logger.Warn("journal unavailable, run will not be recorded", "path", cfg.JournalPath(), "error", err)
		} else {
			store = s
			defer s.Close()
		}
	}

	bus := events.NewBus()
	defer bus.Close()

	runner := pipeline.NewRunner(pipeline.FromConfig(cfg, args, opts.output), pipeline.Options{
		Logger: logger,
		Bus:    bus,
		Store:  store,
	})

	var stdin io.Reader
	if opts.stdin {
		stdin = cmd.InOrStdin()
	}

	var (
		result *pipeline.Result
		runErr error
	)
	if opts.useTUI {
		result, runErr = runWithTUI(ctx, runner, bus)
	} else {
		result, runErr = execute(ctx, runner, stdin)
	}

	printSummary(cmd.OutOrStdout(), opts.output, result, runErr)
	return runErr
}

// newRunLogger keeps log lines off the terminal while the TUI owns it,
// unless they are going to a file.
func newRunLogger(cfg *config.Config, useTUI bool) (*slog.Logger, io.Closer, error) {
	if useTUI && cfg.Logging.File == "" {
		return slog.New(slog.DiscardHandler), io.NopCloser(nil), nil
	}
	return logging.New(cfg.Logging)
}

// execute starts the runner, feeds it names read from in (if any) and
// waits for the result.
func execute(ctx context.Context, runner *pipeline.Runner, in io.Reader) (*pipeline.Result, error) {
	if err := runner.Start(ctx); err != nil {
		return nil, err
	}
	var readErr error
	if in != nil {
		readErr = readInputs(ctx, runner, in)
	}
	result, err := runner.Finish(ctx)
	if readErr != nil {
		return result, readErr
	}
	return result, err
}

func readInputs(ctx context.Context, runner *pipeline.Runner, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		path := strings.TrimSpace(scanner.Text())
		if path == "" || strings.HasPrefix(path, "#") {
			continue
		}
		if err := runner.AddInput(ctx, path); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read inputs: %w", err)
	}
	return nil
}

type runOutcome struct {
	result *pipeline.Result
	err    error
}

func runWithTUI(ctx context.Context, runner *pipeline.Runner, bus *events.Bus) (*pipeline.Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Subscribe before anything is queued so no event is missed.
	p := tea.NewProgram(tui.New(bus, cancel), tea.WithAltScreen())

	done := make(chan runOutcome, 1)
	go func() {
		result, err := execute(ctx, runner, nil)
		done <- runOutcome{result: result, err: err}
		p.Send(tui.RunFinishedMsg{Err: err})
	}()
	go func() {
		<-ctx.Done()
		p.Quit()
	}()

	if _, err := p.Run(); err != nil {
		cancel()
		return nil, fmt.Errorf("tui: %w", err)
	}

	// The user may have quit early; the model cancelled the run already.
	select {
	case out := <-done:
		return out.result, out.err
	case <-time.After(shutdownTimeout):
		return nil, fmt.Errorf("run did not stop within %s", shutdownTimeout)
	}
}

func printSummary(w io.Writer, output string, result *pipeline.Result, runErr error) {
	if result == nil {
		return
	}
	status := result.Status
	elapsed := status.Elapsed.Round(time.Millisecond)
	if runErr != nil {
		fmt.Fprintf(w, "Run %s failed after %s (%d/%d tasks)\n", shortID(result.RunID), elapsed, status.Completed, status.Total)
		return
	}

	details := []string{}
	if result.Output != nil {
		details = append(details, fmt.Sprintf("%dx%d", result.Output.Width(), result.Output.Height()))
	}
	where := output
	if output == "" || output == stages.MemoryOutput {
		where = "memory"
	} else if info, err := os.Stat(output); err == nil {
		details = append(details, humanize.IBytes(uint64(info.Size())))
	}
	if len(details) > 0 {
		where += " (" + strings.Join(details, ", ") + ")"
	}
	fmt.Fprintf(w, "Saved %s in %s (%d tasks, run %s)\n", where, elapsed, status.Total, shortID(result.RunID))
}
