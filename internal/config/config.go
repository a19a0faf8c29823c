// # internal/config/config.go
package config

import (
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"molt/internal/core/errors"
	"molt/internal/facts"
)

type Config struct {
	Tier             string   `toml:"tier"` // "", essential, advanced, experimental; "" derives from complexity
	TestPrefixes     []string `toml:"test_prefixes"`
	Parametrize      bool     `toml:"parametrize"`
	KeepTestCaseBase bool     `toml:"keep_testcase_base"`
	ApproxPlaces     int      `toml:"approx_places"`

	Paths   []string `toml:"paths"`
	Include []string `toml:"include"`
	Exclude Exclude  `toml:"exclude"`

	Backup      Backup      `toml:"backup"`
	History     History     `toml:"history"`
	Watch       Watch       `toml:"watch"`
	Performance Performance `toml:"performance"`
}

type Exclude struct {
	Dirs  []string `toml:"dirs"`
	Files []string `toml:"files"`
}

type Backup struct {
	Enabled bool   `toml:"enabled"`
	Suffix  string `toml:"suffix"`
}

type History struct {
	Path string `toml:"path"`
}

type Watch struct {
	Debounce time.Duration `toml:"debounce"`
	// EventsPerSecond caps how often watch mode re-runs the pipeline
	// during event storms.
	EventsPerSecond float64 `toml:"events_per_second"`
	Burst           int     `toml:"burst"`
}

type Performance struct {
	Workers int `toml:"workers"` // 0 means one per CPU
}

func Default() *Config {
	return &Config{
		TestPrefixes: []string{"test"},
		Parametrize:  true,
		ApproxPlaces: 7,
		Paths:        []string{"."},
		Include:      []string{"test_*.py", "*_test.py"},
		Exclude: Exclude{
			Dirs: []string{".git", ".tox", ".venv", "venv", "__pycache__", "node_modules"},
		},
		Backup: Backup{Enabled: true, Suffix: ".orig"},
		Watch: Watch{
			Debounce:        500 * time.Millisecond,
			EventsPerSecond: 2,
			Burst:           4,
		},
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if _, err := toml.Decode(string(data), cfg); err != nil {
		return nil, errors.Wrap(err, errors.CodeValidationError, "decode config")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if len(c.TestPrefixes) == 0 {
		return errors.New(errors.CodeValidationError, "test_prefixes must not be empty")
	}
	for _, p := range c.TestPrefixes {
		if p == "" {
			return errors.New(errors.CodeValidationError, "test_prefixes must not contain empty strings")
		}
	}
	if c.ApproxPlaces <= 0 {
		return errors.New(errors.CodeValidationError, "approx_places must be positive")
	}
	if len(c.Include) == 0 {
		return errors.New(errors.CodeValidationError, "include patterns must not be empty")
	}
	return nil
}

// UnitConfig derives the per-unit analysis configuration.
func (c *Config) UnitConfig() facts.Config {
	return facts.Config{
		TestPrefixes:     c.TestPrefixes,
		Parametrize:      c.Parametrize,
		KeepTestCaseBase: c.KeepTestCaseBase,
		ApproxPlaces:     c.ApproxPlaces,
	}
}
