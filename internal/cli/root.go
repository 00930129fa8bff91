// Package cli implements the focusstack command-line interface using Cobra.
package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/aristath/focusstack/internal/config"
)

// globalOptions are flags shared by every subcommand.
type globalOptions struct {
	configPath string // Replaces the project config file when set
	verbose    bool
}

// loadConfig layers defaults, the global file and the project (or --config) file.
func (o *globalOptions) loadConfig() (*config.Config, error) {
	project := config.ProjectPath
	if o.configPath != "" {
		if _, err := os.Stat(o.configPath); err != nil {
			return nil, fmt.Errorf("config file: %w", err)
		}
		project = o.configPath
	}
	cfg, err := config.Load(config.GlobalPath(), project)
	if err != nil {
		return nil, err
	}
	if o.verbose {
		cfg.Logging.Level = "debug"
	}
	return cfg, nil
}

// NewRootCommand builds the command tree. Output goes to out.
func NewRootCommand(version string, out io.Writer) *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:   "focusstack",
		Short: "Merge photos taken at different focus distances into one sharp image",
		Long: `focusstack loads a series of aligned frames, picks the sharpest source
for every pixel, crops away the borders not covered by every frame and saves
the result. Frames may still be arriving while the stack runs.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file to use instead of "+config.ProjectPath)
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log at debug level")

	root.AddCommand(
		newRunCommand(opts),
		newHistoryCommand(opts),
		newConfigCommand(opts),
	)
	return root
}

// Execute runs the root command. Called from main.go.
func Execute(version string) {
	if err := NewRootCommand(version, os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
