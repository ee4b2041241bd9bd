// Package config provides unified configuration loading for fluidrig.
// It supports loading from YAML files and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/nvandessel/fluidrig/internal/constants"
	"github.com/nvandessel/fluidrig/internal/device"
	"github.com/nvandessel/fluidrig/internal/models"
	"github.com/nvandessel/fluidrig/internal/phase"
	"github.com/nvandessel/fluidrig/internal/store"
)

// Config contains all fluidrig configuration settings.
type Config struct {
	Rig     RigConfig     `json:"rig" yaml:"rig"`
	Store   StoreConfig   `json:"store" yaml:"store"`
	Server  ServerConfig  `json:"server" yaml:"server"`
	Metrics MetricsConfig `json:"metrics" yaml:"metrics"`
	Logging LoggingConfig `json:"logging" yaml:"logging"`
}

// RigConfig describes the simulated hardware and the experiment procedure.
type RigConfig struct {
	// Procedure is the experiment procedure name shown to operators.
	Procedure string `json:"procedure" yaml:"procedure"`

	// TimeScale multiplies configured device durations. 0.2 runs every
	// device five times faster than configured.
	TimeScale float64 `json:"time_scale" yaml:"time_scale"`

	// TickInterval is the refresh period of the background ticker.
	TickInterval time.Duration `json:"tick_interval" yaml:"tick_interval"`

	Devices []models.Device          `json:"devices" yaml:"devices"`
	Valves  []models.Valve           `json:"valves" yaml:"valves"`
	Phases  []models.PhaseDescriptor `json:"phases" yaml:"phases"`
}

// StoreConfig selects the measurement data set backend.
type StoreConfig struct {
	// Backend is "memory" (default) or "sqlite". Both keep data in memory.
	Backend string `json:"backend" yaml:"backend"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr string `json:"addr" yaml:"addr"`
}

// MetricsConfig configures OTLP metric export.
type MetricsConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Endpoint string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	Insecure bool   `json:"insecure" yaml:"insecure"`
}

// LoggingConfig configures operational logging and transition tracing.
type LoggingConfig struct {
	// Level sets the log verbosity: "info" (default), "debug", or "trace".
	// "debug" enables transition tracing to TraceDir/transitions.jsonl.
	Level string `json:"level" yaml:"level"`

	// Format is "text" (default) or "json".
	Format string `json:"format" yaml:"format"`

	// TraceDir is where transition traces are written. Empty disables them.
	TraceDir string `json:"trace_dir,omitempty" yaml:"trace_dir,omitempty"`
}

// envOverrides lists every setting that can be overridden from the
// environment.
type envOverrides struct {
	Procedure       string        `env:"FLUIDRIG_PROCEDURE"`
	TimeScale       float64       `env:"FLUIDRIG_TIME_SCALE"`
	TickInterval    time.Duration `env:"FLUIDRIG_TICK_INTERVAL"`
	StoreBackend    string        `env:"FLUIDRIG_STORE_BACKEND"`
	ServerAddr      string        `env:"FLUIDRIG_SERVER_ADDR"`
	MetricsEnabled  bool          `env:"FLUIDRIG_METRICS_ENABLED"`
	MetricsEndpoint string        `env:"FLUIDRIG_METRICS_ENDPOINT"`
	MetricsInsecure bool          `env:"FLUIDRIG_METRICS_INSECURE"`
	LogLevel        string        `env:"FLUIDRIG_LOG_LEVEL"`
	LogFormat       string        `env:"FLUIDRIG_LOG_FORMAT"`
	TraceDir        string        `env:"FLUIDRIG_TRACE_DIR"`
}

// Default returns a Config describing the standard three-pump rig running
// the protein reaction detection procedure.
func Default() *Config {
	return &Config{
		Rig: RigConfig{
			Procedure:    "Protein reaction detection",
			TimeScale:    constants.DefaultTimeScale,
			TickInterval: constants.DefaultTickInterval,
			Devices: []models.Device{
				{ID: 1, Kind: models.DeviceKindPump, Label: "Protein A", FlowRate: 50, Duration: 10, PhaseGating: true},
				{ID: 2, Kind: models.DeviceKindPump, Label: "Protein B", FlowRate: 30, Duration: 15, PhaseGating: true},
				{ID: 3, Kind: models.DeviceKindPump, Label: "Buffer", FlowRate: 40, Duration: 20},
				{ID: 4, Kind: models.DeviceKindDetector, Label: "Spectrometer", Duration: 10,
					Spectra: &models.Spectra{StartNM: 400, EndNM: 700, Mode: models.SpectraAbsorbance, Interval: 5}},
				{ID: 5, Kind: models.DeviceKindDetector, Label: "Camera", Duration: 2,
					Camera: &models.Camera{ExposureMS: 50, Magnification: "20x"}},
			},
			Valves: []models.Valve{
				{ID: 1, Description: "Chip inlet A", Open: true},
				{ID: 2, Description: "Chip inlet B"},
				{ID: 3, Description: "Waste reservoir"},
				{ID: 4, Description: "Detection channel", Open: true},
				{ID: 5, Description: "Wash channel"},
				{ID: 6, Description: "Buffer B channel"},
			},
			Phases: []models.PhaseDescriptor{
				{Number: 1, Label: "Inject protein A", Gating: models.GatingDevice, DeviceID: 1},
				{Number: 2, Label: "Inject protein B", Gating: models.GatingDevice, DeviceID: 2},
				{Number: 3, Label: "Incubation", Gating: models.GatingDuration, Duration: 10 * time.Second, Detail: "Incubation | 5min"},
				{Number: 4, Label: "FCS data collection", Gating: models.GatingDuration, Duration: 10 * time.Second, Detail: "FCS detection"},
				{Number: 5, Label: "Affinity analysis", Gating: models.GatingDuration, Duration: time.Second, Detail: "Affinity analysis"},
			},
		},
		Store: StoreConfig{
			Backend: store.BackendMemory,
		},
		Server: ServerConfig{
			Addr: "127.0.0.1:8080",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// DefaultPath returns ~/.fluidrig/config.yaml, or "" if the home directory
// is unknown.
func DefaultPath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(homeDir, ".fluidrig", "config.yaml")
}

// Load loads configuration from path, or from the default location when
// path is empty, then applies environment variable overrides.
// Order: defaults -> config file -> environment variables
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		fileCfg, err := LoadFromFile(path)
		if err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
		cfg = fileCfg
	} else if p := DefaultPath(); p != "" {
		if _, statErr := os.Stat(p); statErr == nil {
			fileCfg, err := LoadFromFile(p)
			if err != nil {
				return nil, fmt.Errorf("loading config file: %w", err)
			}
			cfg = fileCfg
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a specific YAML file. Settings the
// file omits keep their defaults; a device, valve or phase list in the
// file replaces the default list.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Rig.TimeScale <= 0 {
		return fmt.Errorf("time_scale must be positive, got %g", c.Rig.TimeScale)
	}
	if c.Rig.TickInterval <= 0 {
		return fmt.Errorf("tick_interval must be positive, got %v", c.Rig.TickInterval)
	}

	devices := make(map[int]models.Device, len(c.Rig.Devices))
	for _, d := range c.Rig.Devices {
		if _, dup := devices[d.ID]; dup {
			return fmt.Errorf("duplicate device id %d", d.ID)
		}
		if d.Kind != "" && !d.Kind.Valid() {
			return fmt.Errorf("device %d: unknown kind %q", d.ID, d.Kind)
		}
		if err := device.ValidateParameters(d.FlowRate, d.Duration); err != nil {
			return fmt.Errorf("device %d: %w", d.ID, err)
		}
		if err := device.ValidateAcquisition(d); err != nil {
			return fmt.Errorf("device %d: %w", d.ID, err)
		}
		devices[d.ID] = d
	}

	valves := make(map[int]bool, len(c.Rig.Valves))
	for _, v := range c.Rig.Valves {
		if valves[v.ID] {
			return fmt.Errorf("duplicate valve id %d", v.ID)
		}
		valves[v.ID] = true
	}

	if _, err := phase.Validate(c.Rig.Phases); err != nil {
		return fmt.Errorf("phases: %w", err)
	}
	gated := make(map[int]bool)
	for _, p := range c.Rig.Phases {
		if p.Gating != models.GatingDevice {
			continue
		}
		d, ok := devices[p.DeviceID]
		if !ok {
			return fmt.Errorf("phase %d references unknown device %d", p.Number, p.DeviceID)
		}
		if !d.PhaseGating {
			return fmt.Errorf("phase %d references device %d which is not phase gating", p.Number, p.DeviceID)
		}
		gated[p.DeviceID] = true
	}
	// The ratchet counts latched gating devices, so each must own a phase.
	for _, d := range c.Rig.Devices {
		if d.PhaseGating && !gated[d.ID] {
			return fmt.Errorf("device %d is phase gating but no device-gated phase references it", d.ID)
		}
	}

	switch c.Store.Backend {
	case "", store.BackendMemory, store.BackendSQLite:
	default:
		return fmt.Errorf("invalid store backend: %s (valid: memory, sqlite)", c.Store.Backend)
	}

	if c.Metrics.Enabled && c.Metrics.Endpoint == "" {
		return fmt.Errorf("metrics enabled without an endpoint")
	}

	validLevels := map[string]bool{"error": true, "warn": true, "info": true, "debug": true, "trace": true}
	if c.Logging.Level != "" && !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (valid: error, warn, info, debug, trace, or empty for default)", c.Logging.Level)
	}
	validFormats := map[string]bool{"text": true, "json": true}
	if c.Logging.Format != "" && !validFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s (valid: text, json)", c.Logging.Format)
	}

	return nil
}

// applyEnvOverrides overlays FLUIDRIG_* environment variables on cfg.
// Unset variables leave the current value alone.
func applyEnvOverrides(cfg *Config) error {
	o := envOverrides{
		Procedure:       cfg.Rig.Procedure,
		TimeScale:       cfg.Rig.TimeScale,
		TickInterval:    cfg.Rig.TickInterval,
		StoreBackend:    cfg.Store.Backend,
		ServerAddr:      cfg.Server.Addr,
		MetricsEnabled:  cfg.Metrics.Enabled,
		MetricsEndpoint: cfg.Metrics.Endpoint,
		MetricsInsecure: cfg.Metrics.Insecure,
		LogLevel:        cfg.Logging.Level,
		LogFormat:       cfg.Logging.Format,
		TraceDir:        cfg.Logging.TraceDir,
	}
	if err := env.Parse(&o); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}

	cfg.Rig.Procedure = o.Procedure
	cfg.Rig.TimeScale = o.TimeScale
	cfg.Rig.TickInterval = o.TickInterval
	cfg.Store.Backend = o.StoreBackend
	cfg.Server.Addr = o.ServerAddr
	cfg.Metrics.Enabled = o.MetricsEnabled
	cfg.Metrics.Endpoint = o.MetricsEndpoint
	cfg.Metrics.Insecure = o.MetricsInsecure
	cfg.Logging.Level = o.LogLevel
	cfg.Logging.Format = o.LogFormat
	cfg.Logging.TraceDir = o.TraceDir
	return nil
}
