package config

import (
	"os"
	"strings"
)

type Config struct {
	// DataDir holds the persisted state (state.json, jobs.json, archive,
	// monitor events). Defaults to $LABD_DATA, then "./data".
	DataDir string `json:"data_dir,omitempty"`

	Logging   LoggingConfig   `json:"logging"`
	Devices   DevicesConfig   `json:"devices"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Monitor   MonitorConfig   `json:"monitor,omitempty"`
	Metrics   MetricsConfig   `json:"metrics,omitempty"`
	Archive   ArchiveConfig   `json:"archive,omitempty"`
}

type LoggingConfig struct {
	Level string `json:"level,omitempty"`

	// Console is a pointer so we can distinguish "omitted" (default true)
	// from an explicit false.
	Console *bool         `json:"console,omitempty"`
	File    FileLogConfig `json:"file,omitempty"`
}

type FileLogConfig struct {
	Enabled bool   `json:"enabled,omitempty"`
	Path    string `json:"path,omitempty"`
}

type DevicesConfig struct {
	SignalGenerator DeviceConfig       `json:"signal_generator"`
	Oscilloscope    OscilloscopeConfig `json:"oscilloscope"`
}

// DeviceConfig selects simulated vs hardware mode per device class.
//
// All durations are Go duration strings (e.g. "500ms", "2s").
type DeviceConfig struct {
	Mock      bool     `json:"mock,omitempty"`
	Endpoints []string `json:"endpoints,omitempty"` // host:port SCPI endpoints probed in order
	Timeout   string   `json:"timeout,omitempty"`   // per-operation I/O timeout
}

type OscilloscopeConfig struct {
	Mock      bool     `json:"mock,omitempty"`
	Endpoints []string `json:"endpoints,omitempty"`
	Timeout   string   `json:"timeout,omitempty"`

	BufferSize   int    `json:"buffer_size,omitempty"`   // samples per channel ring buffer
	PollInterval string `json:"poll_interval,omitempty"` // waveform poll cadence
}

type SchedulerConfig struct {
	Workers   int `json:"workers,omitempty"`
	QueueSize int `json:"queue_size,omitempty"`

	// DefaultTimeout bounds one job's device interaction. "0s" disables.
	DefaultTimeout string `json:"default_timeout,omitempty"`
}

type MonitorConfig struct {
	Enabled bool   `json:"enabled,omitempty"`
	Spec    string `json:"spec,omitempty"` // cron spec or "@every 15s"
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled,omitempty"`
	Addr    string `json:"addr,omitempty"` // default ":9090"
}

type ArchiveConfig struct {
	Driver      string `json:"driver,omitempty"` // "file" (default) or "sqlite"
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// Normalize fills defaults in place.
func (c *Config) Normalize() {
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = os.Getenv("LABD_DATA")
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = "./data"
	}
	if strings.TrimSpace(c.Logging.Level) == "" {
		c.Logging.Level = "INFO"
	}
	if c.Devices.Oscilloscope.BufferSize <= 0 {
		c.Devices.Oscilloscope.BufferSize = 512
	}
	if strings.TrimSpace(c.Metrics.Addr) == "" {
		c.Metrics.Addr = ":9090"
	}
}

// ConsoleEnabled resolves the console pointer (default true).
func (l LoggingConfig) ConsoleEnabled() bool {
	if l.Console == nil {
		return true
	}
	return *l.Console
}
