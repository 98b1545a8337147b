// Package config loads beadsd's daemon configuration from a YAML file, the
// way the teacher's cluster commands load flags: a Config struct with
// sensible defaults, overridable by cobra flags at the call site.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so it can be written in config files as a Go
// duration string ("10s", "1m30s") instead of a raw integer of nanoseconds.
type Duration time.Duration

// UnmarshalYAML accepts either a duration string or a plain integer of
// nanoseconds, matching how time.ParseDuration-style fields are usually
// written in YAML.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	// The integer form is tried first: yaml.v3 decodes any scalar, integers
	// included, into a string, so a string-first decode would never reach it.
	var ns int64
	if err := value.Decode(&ns); err == nil {
		*d = Duration(ns)
		return nil
	}

	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string like \"30s\" or a nanosecond count: %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML renders the duration the way time.Duration.String does.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// StoreConfig controls the durable event log.
type StoreConfig struct {
	DataDir string `yaml:"data_dir"`
}

// CheckpointConfig controls snapshotting of projection state.
type CheckpointConfig struct {
	Interval Duration `yaml:"interval"`
	Retain   int      `yaml:"retain"`
}

// ReconcilerConfig controls the desired/actual convergence loop.
type ReconcilerConfig struct {
	Interval             Duration `yaml:"interval"`
	MaxConsecutiveErrors int      `yaml:"max_consecutive_errors"`
	StopOnFirstError     bool     `yaml:"stop_on_first_error"`
}

// BusConfig controls the in-process pub/sub event bus.
type BusConfig struct {
	SubscriberBufferSize int `yaml:"subscriber_buffer_size"`
}

// TimerConfig controls the fire-at-time scheduler.
type TimerConfig struct {
	MaxConcurrent int      `yaml:"max_concurrent"`
	PollInterval  Duration `yaml:"poll_interval"`
}

// APIConfig controls the HTTP surface.
type APIConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// MetricsConfig controls the Prometheus/health HTTP surface.
type MetricsConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// SchedulerConfig controls the scheduler's periodic ready-set sweep.
type SchedulerConfig struct {
	ReevaluateInterval Duration `yaml:"reevaluate_interval"`
}

// Config is the top-level structure for beadsd's config file.
type Config struct {
	LogLevel   string           `yaml:"log_level"`
	LogJSON    bool             `yaml:"log_json"`
	Store      StoreConfig      `yaml:"store"`
	Checkpoint CheckpointConfig `yaml:"checkpoint"`
	Reconciler ReconcilerConfig `yaml:"reconciler"`
	Bus        BusConfig        `yaml:"bus"`
	Timer      TimerConfig      `yaml:"timer"`
	API        APIConfig        `yaml:"api"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
}

// Default returns a Config populated with the values beadsd runs with when
// no file or flags override them.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		LogJSON:  false,
		Store: StoreConfig{
			DataDir: "./beads-data",
		},
		Checkpoint: CheckpointConfig{
			Interval: Duration(5 * time.Minute),
			Retain:   5,
		},
		Reconciler: ReconcilerConfig{
			Interval:             Duration(10 * time.Second),
			MaxConsecutiveErrors: 3,
			StopOnFirstError:     false,
		},
		Bus: BusConfig{
			SubscriberBufferSize: 64,
		},
		Timer: TimerConfig{
			MaxConcurrent: 16,
			PollInterval:  Duration(time.Second),
		},
		API: APIConfig{
			ListenAddr: "127.0.0.1:8080",
		},
		Metrics: MetricsConfig{
			ListenAddr: "127.0.0.1:9090",
		},
		Scheduler: SchedulerConfig{
			ReevaluateInterval: Duration(30 * time.Second),
		},
	}
}

// Load reads a YAML config file at path and merges it over Default. An
// absent path is not an error: the defaults are returned unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}
