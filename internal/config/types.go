package config

// WorkersConfig sizes the worker pool.
type WorkersConfig struct {
	Threads        int   `toml:"threads"`          // 0 means one per CPU
	ExclusiveSlots int64 `toml:"exclusive_slots"`  // Concurrent holders of the accelerator resource
	PollIntervalMS int   `toml:"poll_interval_ms"` // Queue rescan interval while inputs are not ready
}

// InputConfig controls how input frames are read.
type InputConfig struct {
	WaitImages  float64 `toml:"wait_images"`  // Seconds to wait for a missing input file
	PadMultiple int     `toml:"pad_multiple"` // Reflect-pad inputs to a multiple of this size
}

// OutputConfig controls the saved result.
type OutputConfig struct {
	JPEGQuality int  `toml:"jpeg_quality"`
	NoCrop      bool `toml:"nocrop"`
}

// BlendConfig controls the merge stage.
type BlendConfig struct {
	Exclusive bool `toml:"exclusive"` // Hold the exclusive slot while blending
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level     string `toml:"level"`  // debug, info, warn, error
	Format    string `toml:"format"` // text or json
	File      string `toml:"file"`   // Empty logs to stderr
	MaxSizeMB int    `toml:"max_size_mb"`
	MaxFiles  int    `toml:"max_files"`
}

// JournalConfig controls the run journal.
type JournalConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"` // Empty uses ~/.focusstack/journal.db
}

// Config is the top-level configuration.
type Config struct {
	Workers WorkersConfig `toml:"workers"`
	Input   InputConfig   `toml:"input"`
	Output  OutputConfig  `toml:"output"`
	Blend   BlendConfig   `toml:"blend"`
	Logging LoggingConfig `toml:"logging"`
	Journal JournalConfig `toml:"journal"`
}
