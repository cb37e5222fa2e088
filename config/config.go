// Package config loads loopmesh configuration from YAML files. All fields are
// optional; Default returns a configuration that works without any file.
package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/loopmesh/model"
)

// Duration wraps time.Duration so YAML values like "2s" or "500ms" decode.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// StorageConfig selects where loops are persisted.
type StorageConfig struct {
	// Backend is "memory" or "file".
	Backend string `yaml:"backend"`
	// Dir is the directory for the file backend.
	Dir string `yaml:"dir"`
}

// WorkerConfig tunes the turn worker.
type WorkerConfig struct {
	// TurnInterval is the minimum delay between consecutive turns.
	TurnInterval Duration `yaml:"turn_interval"`
	// GenerationTimeout bounds a single model call.
	GenerationTimeout Duration `yaml:"generation_timeout"`
	// JoinTimeout bounds how long Pause and Stop wait for the worker to exit.
	JoinTimeout Duration `yaml:"join_timeout"`
}

// ModelConfig declares an additional model the registry should know about.
type ModelConfig struct {
	ID             string `yaml:"id"`
	Provider       string `yaml:"provider"`
	SupportsSystem *bool  `yaml:"supports_system"`
}

// LoggingConfig tunes the structured logger.
type LoggingConfig struct {
	// Level is "debug", "info", "warn" or "error".
	Level string `yaml:"level"`
	// Format is "text" or "json".
	Format string `yaml:"format"`
}

// Config is the root configuration document.
type Config struct {
	Storage StorageConfig `yaml:"storage"`
	Worker  WorkerConfig  `yaml:"worker"`
	Models  []ModelConfig `yaml:"models"`
	Logging LoggingConfig `yaml:"logging"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{Backend: "memory", Dir: "loops"},
		Worker: WorkerConfig{
			TurnInterval:      Duration(2 * time.Second),
			GenerationTimeout: Duration(2 * time.Minute),
			JoinTimeout:       Duration(5 * time.Second),
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

// Load reads a YAML file and overlays it on Default. Unknown keys are
// rejected so typos surface immediately.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the runtime cannot use.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "memory", "file":
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	if c.Storage.Backend == "file" && c.Storage.Dir == "" {
		return fmt.Errorf("file storage requires a dir")
	}
	for _, m := range c.Models {
		if m.ID == "" {
			return fmt.Errorf("model entry without id")
		}
		switch m.Provider {
		case model.ProviderOpenAI, model.ProviderAnthropic, model.ProviderGoogle:
		default:
			return fmt.Errorf("model %s: unknown provider %q", m.ID, m.Provider)
		}
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Logging.Level)
	}
	return nil
}

// ApplyModels registers the configured model entries on a registry.
func (c *Config) ApplyModels(registry *model.Registry) {
	for _, m := range c.Models {
		supportsSystem := true
		if m.SupportsSystem != nil {
			supportsSystem = *m.SupportsSystem
		}
		registry.RegisterModel(m.ID, model.Capability{
			Provider:       m.Provider,
			SupportsSystem: supportsSystem,
		})
	}
}
