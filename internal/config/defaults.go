package config

import (
	"runtime"
	"time"
)

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	return &Config{
		Workers: WorkersConfig{
			Threads:        0,
			ExclusiveSlots: 1,
			PollIntervalMS: 50,
		},
		Input: InputConfig{
			WaitImages:  0,
			PadMultiple: 0,
		},
		Output: OutputConfig{
			JPEGQuality: 95,
		},
		Logging: LoggingConfig{
			Level:     "info",
			Format:    "text",
			MaxSizeMB: 10,
			MaxFiles:  3,
		},
		Journal: JournalConfig{
			Enabled: true,
		},
	}
}

// ThreadCount resolves Threads, where 0 means one worker per CPU.
func (w WorkersConfig) ThreadCount() int {
	if w.Threads <= 0 {
		return runtime.NumCPU()
	}
	return w.Threads
}

// PollInterval returns the rescan interval as a duration.
func (w WorkersConfig) PollInterval() time.Duration {
	return time.Duration(w.PollIntervalMS) * time.Millisecond
}

// Wait returns how long a load waits for a missing file.
func (i InputConfig) Wait() time.Duration {
	return time.Duration(i.WaitImages * float64(time.Second))
}
