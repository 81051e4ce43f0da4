// Package config loads the host configuration file and the user
// preferences.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/justyntemme/vst3host/pkg/debug"
)

// Audio backends
const (
	BackendClock   = "clock"
	BackendOffline = "offline"
	BackendNull    = "null"
)

// Config is the complete host configuration
type Config struct {
	Audio      AudioConfig      `yaml:"audio"`
	Supervisor SupervisorConfig `yaml:"supervisor"`
	Isolation  IsolationConfig  `yaml:"isolation"`
	MIDI       MIDIConfig       `yaml:"midi"`
	Log        LogConfig        `yaml:"log"`
}

// AudioConfig describes the processing format
type AudioConfig struct {
	SampleRate     float64 `yaml:"sample_rate"`
	BlockSize      int     `yaml:"block_size"`
	InputChannels  int     `yaml:"input_channels"`
	OutputChannels int     `yaml:"output_channels"`
	Backend        string  `yaml:"backend"` // clock, offline, null
}

// SupervisorConfig tunes crash protection
type SupervisorConfig struct {
	MaxProcessingTime time.Duration `yaml:"max_processing_time"`
}

// IsolationConfig controls out-of-process hosting
type IsolationConfig struct {
	Enabled         bool          `yaml:"enabled"`
	HelperPath      string        `yaml:"helper_path"`
	ResponseTimeout time.Duration `yaml:"response_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// MIDIConfig selects the live MIDI input
type MIDIConfig struct {
	InputPort string `yaml:"input_port"`
}

// LogConfig sets the log level
type LogConfig struct {
	Level string `yaml:"level"`
}

// Default returns the built-in configuration
func Default() Config {
	return Config{
		Audio: AudioConfig{
			SampleRate:     44100,
			BlockSize:      512,
			InputChannels:  0,
			OutputChannels: 2,
			Backend:        BackendClock,
		},
		Supervisor: SupervisorConfig{
			MaxProcessingTime: 10 * time.Millisecond,
		},
		Isolation: IsolationConfig{
			HelperPath:      "vst3host-helper",
			ResponseTimeout: 5 * time.Second,
			ShutdownTimeout: 2 * time.Second,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads a YAML file over the defaults. Keys missing from the file keep
// their default values.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks ranges and names
func (c Config) Validate() error {
	a := c.Audio
	if a.SampleRate < 8000 || a.SampleRate > 384000 {
		return fmt.Errorf("audio.sample_rate %.0f out of range", a.SampleRate)
	}
	if a.BlockSize < 16 || a.BlockSize > 8192 {
		return fmt.Errorf("audio.block_size %d out of range", a.BlockSize)
	}
	if a.InputChannels < 0 || a.InputChannels > 32 {
		return fmt.Errorf("audio.input_channels %d out of range", a.InputChannels)
	}
	if a.OutputChannels < 1 || a.OutputChannels > 32 {
		return fmt.Errorf("audio.output_channels %d out of range", a.OutputChannels)
	}
	switch a.Backend {
	case BackendClock, BackendOffline, BackendNull:
	default:
		return fmt.Errorf("unknown audio.backend %q", a.Backend)
	}
	if c.Supervisor.MaxProcessingTime <= 0 {
		return fmt.Errorf("supervisor.max_processing_time must be positive")
	}
	if c.Isolation.Enabled && c.Isolation.HelperPath == "" {
		return fmt.Errorf("isolation.helper_path is required when isolation is enabled")
	}
	if c.Isolation.ResponseTimeout < 0 || c.Isolation.ShutdownTimeout < 0 {
		return fmt.Errorf("isolation timeouts must not be negative")
	}
	if _, err := debug.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	return nil
}

// BlockDuration is the wall-clock length of one block
func (a AudioConfig) BlockDuration() time.Duration {
	return time.Duration(float64(a.BlockSize) / a.SampleRate * float64(time.Second))
}

// Marshal renders the configuration as YAML
func (c Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
