package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Load reads and merges configuration from global and project paths.
// Order of precedence (highest to lowest): project config, global config, defaults.
// Missing files are not errors; malformed TOML returns an error.
func Load(globalPath, projectPath string) (*Config, error) {
	cfg := DefaultConfig()

	if globalPath != "" {
		if err := mergeConfigFile(cfg, globalPath); err != nil {
			return nil, fmt.Errorf("loading global config: %w", err)
		}
	}

	if projectPath != "" {
		if err := mergeConfigFile(cfg, projectPath); err != nil {
			return nil, fmt.Errorf("loading project config: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDefault loads configuration from conventional paths.
// Global: ~/.focusstack/config.toml
// Project: .focusstack.toml (relative to cwd)
func LoadDefault() (*Config, error) {
	return Load(GlobalPath(), ProjectPath)
}

// ProjectPath is the per-directory config file.
const ProjectPath = ".focusstack.toml"

// Home returns the focusstack state directory, ~/.focusstack.
func Home() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".focusstack"
	}
	return filepath.Join(home, ".focusstack")
}

// GlobalPath returns the user-wide config file path.
func GlobalPath() string {
	return filepath.Join(Home(), "config.toml")
}

// JournalPath resolves the journal database location.
func (c *Config) JournalPath() string {
	if c.Journal.Path != "" {
		return c.Journal.Path
	}
	return filepath.Join(Home(), "journal.db")
}

// Validate rejects values no component can work with.
func (c *Config) Validate() error {
	var errs []error
	if c.Workers.Threads < 0 {
		errs = append(errs, fmt.Errorf("workers.threads must be >= 0, got %d", c.Workers.Threads))
	}
	if c.Workers.ExclusiveSlots < 1 {
		errs = append(errs, fmt.Errorf("workers.exclusive_slots must be >= 1, got %d", c.Workers.ExclusiveSlots))
	}
	if c.Workers.PollIntervalMS < 1 {
		errs = append(errs, fmt.Errorf("workers.poll_interval_ms must be >= 1, got %d", c.Workers.PollIntervalMS))
	}
	if c.Input.WaitImages < 0 {
		errs = append(errs, fmt.Errorf("input.wait_images must be >= 0, got %g", c.Input.WaitImages))
	}
	if q := c.Output.JPEGQuality; q < 1 || q > 100 {
		errs = append(errs, fmt.Errorf("output.jpeg_quality must be 1-100, got %d", q))
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format))
	}
	return errors.Join(errs...)
}

// mergeConfigFile decodes a TOML file over base. Keys absent from the file
// keep their current values. Missing files are silently skipped.
func mergeConfigFile(base *Config, path string) error {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	md, err := toml.DecodeFile(path, base)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("parsing %s: unknown key %q", path, undecoded[0].String())
	}
	return nil
}
