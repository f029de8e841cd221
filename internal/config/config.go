// Package config loads the recorder's YAML application configuration and
// the JSON recorder-settings file.
package config

import (
	"encoding/json"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"klinerec/internal/domain"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the klinerec daemon.
type Config struct {
	Storage  Storage  `yaml:"storage"`
	Server   Server   `yaml:"server"`
	Logging  Logging  `yaml:"logging"`
	Recorder Recorder `yaml:"recorder"`
}

// Storage holds paths for data persistence.
type Storage struct {
	StoreDir   string `yaml:"store_dir"`   // SQLite database files
	ArchiveDir string `yaml:"archive_dir"` // Parquet bar archive
}

// Server holds network listener configuration.
type Server struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Logging configures the application logger.
type Logging struct {
	Level string `yaml:"level"`
}

// Recorder controls the aggregation core.
type Recorder struct {
	// SettingsPath locates the JSON recorder-settings file.
	SettingsPath string `yaml:"settings_path"`

	// IgnorePast drops ticks older than daemon startup.
	IgnorePast bool `yaml:"ignore_past"`

	WriteQueueSize int `yaml:"write_queue_size"`
	TickQueueSize  int `yaml:"tick_queue_size"`

	// ActiveContracts maps contract symbols to their continuous-contract
	// aliases.
	ActiveContracts map[string]string `yaml:"active_contracts"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path, parses it
// into a Config struct, and then applies environment variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides
// the corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("KLINEREC_STORE_DIR"); v != "" {
		cfg.Storage.StoreDir = v
	}
	if v := os.Getenv("KLINEREC_ARCHIVE_DIR"); v != "" {
		cfg.Storage.ArchiveDir = v
	}
	if v := os.Getenv("KLINEREC_SETTINGS"); v != "" {
		cfg.Recorder.SettingsPath = v
	}
	if v := os.Getenv("KLINEREC_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// ---------------------------------------------------------------------------
// Recorder settings (JSON, external contract)
// ---------------------------------------------------------------------------

// Settings is the recorder-settings file: which K-line periods to record,
// and whether raw ticks are persisted too.
type Settings struct {
	RecordingKlinePeriods []int `json:"recording_kline_periods"` // minutes
	RecordingTick         bool  `json:"recording_tick"`
}

// DefaultSettings applies whenever the settings file cannot be loaded.
func DefaultSettings() Settings {
	return Settings{
		RecordingKlinePeriods: []int{1, 15, 30, 60},
		RecordingTick:         false,
	}
}

// LoadSettings reads the JSON settings file. Any failure (missing file,
// malformed JSON, an unsupported period value) falls back to the
// defaults.
func LoadSettings(path string) Settings {
	data, err := os.ReadFile(path)
	if err != nil {
		return DefaultSettings()
	}

	var s Settings
	if err := json.Unmarshal(data, &s); err != nil {
		return DefaultSettings()
	}
	if len(s.RecordingKlinePeriods) == 0 {
		return DefaultSettings()
	}
	for _, m := range s.RecordingKlinePeriods {
		if _, err := domain.ParsePeriod(m); err != nil {
			return DefaultSettings()
		}
	}
	return s
}

// Periods converts the settings' minute counts into domain periods.
func (s Settings) Periods() []domain.Period {
	out := make([]domain.Period, 0, len(s.RecordingKlinePeriods))
	for _, m := range s.RecordingKlinePeriods {
		if p, err := domain.ParsePeriod(m); err == nil {
			out = append(out, p)
		}
	}
	return out
}
