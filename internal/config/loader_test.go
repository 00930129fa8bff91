package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name          string
		globalConfig  string
		projectConfig string
		check         func(t *testing.T, cfg *Config)
	}{
		{
			name: "No config files - returns defaults",
			check: func(t *testing.T, cfg *Config) {
				if cfg.Workers.ExclusiveSlots != 1 {
					t.Errorf("exclusive_slots = %d, want 1", cfg.Workers.ExclusiveSlots)
				}
				if cfg.Output.JPEGQuality != 95 {
					t.Errorf("jpeg_quality = %d, want 95", cfg.Output.JPEGQuality)
				}
			},
		},
		{
			name:         "Global only - overrides one key, keeps the rest",
			globalConfig: "[workers]\nthreads = 3\n",
			check: func(t *testing.T, cfg *Config) {
				if cfg.Workers.Threads != 3 {
					t.Errorf("threads = %d, want 3", cfg.Workers.Threads)
				}
				if cfg.Workers.PollIntervalMS != 50 {
					t.Errorf("poll_interval_ms = %d, want default 50", cfg.Workers.PollIntervalMS)
				}
			},
		},
		{
			name:          "Project only - sets input wait",
			projectConfig: "[input]\nwait_images = 2.5\npad_multiple = 8\n",
			check: func(t *testing.T, cfg *Config) {
				if got := cfg.Input.Wait(); got != 2500*time.Millisecond {
					t.Errorf("wait = %v, want 2.5s", got)
				}
				if cfg.Input.PadMultiple != 8 {
					t.Errorf("pad_multiple = %d, want 8", cfg.Input.PadMultiple)
				}
			},
		},
		{
			name:          "Project overrides global - project wins",
			globalConfig:  "[output]\njpeg_quality = 80\nnocrop = true\n",
			projectConfig: "[output]\njpeg_quality = 60\n",
			check: func(t *testing.T, cfg *Config) {
				if cfg.Output.JPEGQuality != 60 {
					t.Errorf("jpeg_quality = %d, want 60", cfg.Output.JPEGQuality)
				}
				if !cfg.Output.NoCrop {
					t.Error("nocrop from global config should survive")
				}
			},
		},
		{
			name:          "Logging and journal sections",
			projectConfig: "[logging]\nlevel = \"debug\"\nformat = \"json\"\nfile = \"/tmp/fs.log\"\n\n[journal]\nenabled = false\npath = \"/tmp/j.db\"\n",
			check: func(t *testing.T, cfg *Config) {
				if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" || cfg.Logging.File != "/tmp/fs.log" {
					t.Errorf("logging = %+v", cfg.Logging)
				}
				if cfg.Journal.Enabled || cfg.JournalPath() != "/tmp/j.db" {
					t.Errorf("journal = %+v", cfg.Journal)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpDir := t.TempDir()

			globalPath := ""
			if tt.globalConfig != "" {
				globalPath = filepath.Join(tmpDir, "global.toml")
				writeFile(t, globalPath, tt.globalConfig)
			}

			projectPath := ""
			if tt.projectConfig != "" {
				projectPath = filepath.Join(tmpDir, "project.toml")
				writeFile(t, projectPath, tt.projectConfig)
			}

			cfg, err := Load(globalPath, projectPath)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			tt.check(t, cfg)
		})
	}
}

func TestLoad_MalformedTOML(t *testing.T) {
	tmpDir := t.TempDir()

	globalPath := filepath.Join(tmpDir, "global.toml")
	writeFile(t, globalPath, "[workers\nthreads = ")

	_, err := Load(globalPath, "")
	if err == nil {
		t.Fatal("expected error for malformed TOML, got nil")
	}
	if !strings.Contains(err.Error(), "global.toml") {
		t.Errorf("error should name the file: %v", err)
	}
}

func TestLoad_UnknownKey(t *testing.T) {
	tmpDir := t.TempDir()
	projectPath := filepath.Join(tmpDir, "project.toml")
	writeFile(t, projectPath, "[workers]\nthread = 4\n")

	_, err := Load("", projectPath)
	if err == nil || !strings.Contains(err.Error(), "workers.thread") {
		t.Fatalf("expected unknown key error, got %v", err)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tmpDir := t.TempDir()
	projectPath := filepath.Join(tmpDir, "project.toml")
	writeFile(t, projectPath, "[workers]\nexclusive_slots = 0\n\n[output]\njpeg_quality = 101\n")

	_, err := Load("", projectPath)
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"exclusive_slots", "jpeg_quality"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q should mention %s", err, want)
		}
	}
}

func TestLoad_MissingFilesNotError(t *testing.T) {
	cfg, err := Load("/nonexistent/global.toml", "/nonexistent/project.toml")
	if err != nil {
		t.Fatalf("expected no error for missing files, got: %v", err)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("level = %q, want default info", cfg.Logging.Level)
	}
}

func TestWorkersConfig_ThreadCount(t *testing.T) {
	if got := (WorkersConfig{}).ThreadCount(); got != runtime.NumCPU() {
		t.Errorf("ThreadCount() = %d, want NumCPU %d", got, runtime.NumCPU())
	}
	if got := (WorkersConfig{Threads: 3}).ThreadCount(); got != 3 {
		t.Errorf("ThreadCount() = %d, want 3", got)
	}
	if got := (WorkersConfig{PollIntervalMS: 20}).PollInterval(); got != 20*time.Millisecond {
		t.Errorf("PollInterval() = %v", got)
	}
}
