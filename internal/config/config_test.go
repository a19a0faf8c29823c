// # internal/config/config_test.go
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"molt/internal/core/errors"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()

	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
	if len(cfg.TestPrefixes) != 1 || cfg.TestPrefixes[0] != "test" {
		t.Errorf("unexpected prefixes: %v", cfg.TestPrefixes)
	}
	if !cfg.Parametrize || cfg.KeepTestCaseBase {
		t.Errorf("unexpected rewrite toggles: %+v", cfg)
	}
	if cfg.ApproxPlaces != 7 {
		t.Errorf("approx_places = %d, want 7", cfg.ApproxPlaces)
	}
	if cfg.Backup.Suffix != ".orig" || !cfg.Backup.Enabled {
		t.Errorf("unexpected backup settings: %+v", cfg.Backup)
	}
	if cfg.Watch.Debounce != 500*time.Millisecond {
		t.Errorf("unexpected debounce: %v", cfg.Watch.Debounce)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "molt.toml")
	body := `
tier = "essential"
test_prefixes = ["test", "check"]
parametrize = false
approx_places = 3
paths = ["tests"]

[backup]
enabled = false
suffix = ".bak"

[history]
path = "molt-history.db"

[performance]
workers = 2
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Tier != "essential" {
		t.Errorf("tier = %q", cfg.Tier)
	}
	if len(cfg.TestPrefixes) != 2 || cfg.TestPrefixes[1] != "check" {
		t.Errorf("prefixes = %v", cfg.TestPrefixes)
	}
	if cfg.Parametrize {
		t.Error("parametrize should be disabled")
	}
	if cfg.ApproxPlaces != 3 {
		t.Errorf("approx_places = %d", cfg.ApproxPlaces)
	}
	if cfg.Backup.Enabled || cfg.Backup.Suffix != ".bak" {
		t.Errorf("backup = %+v", cfg.Backup)
	}
	if cfg.History.Path != "molt-history.db" {
		t.Errorf("history path = %q", cfg.History.Path)
	}
	if cfg.Performance.Workers != 2 {
		t.Errorf("workers = %d", cfg.Performance.Workers)
	}

	// Untouched sections keep their defaults.
	if len(cfg.Include) == 0 {
		t.Error("include patterns lost their defaults")
	}
	if cfg.Watch.Debounce != 500*time.Millisecond {
		t.Errorf("debounce = %v", cfg.Watch.Debounce)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"empty prefixes", `test_prefixes = []`},
		{"blank prefix", `test_prefixes = ["test", ""]`},
		{"non-positive places", `approx_places = 0`},
		{"no include patterns", `include = []`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "molt.toml")
			if err := os.WriteFile(path, []byte(tc.body), 0o644); err != nil {
				t.Fatal(err)
			}
			_, err := Load(path)
			if err == nil {
				t.Fatal("expected a validation error")
			}
			if !errors.IsCode(err, errors.CodeValidationError) {
				t.Errorf("expected validation error code, got %v", err)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if !os.IsNotExist(err) {
		t.Errorf("expected a not-exist error, got %v", err)
	}
}

func TestUnitConfig(t *testing.T) {
	cfg := Default()
	cfg.TestPrefixes = []string{"check"}
	cfg.KeepTestCaseBase = true

	unit := cfg.UnitConfig()
	if len(unit.TestPrefixes) != 1 || unit.TestPrefixes[0] != "check" {
		t.Errorf("prefixes = %v", unit.TestPrefixes)
	}
	if !unit.KeepTestCaseBase || !unit.Parametrize || unit.ApproxPlaces != 7 {
		t.Errorf("unexpected unit config: %+v", unit)
	}
}
