package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Config represents the main steerd configuration
type Config struct {
	// Gateway server
	Server ServerConfig `json:"server" mapstructure:"server"`

	// Steering model
	Model ModelConfig `json:"model" mapstructure:"model"`

	// Speed governor
	Control ControlConfig `json:"control" mapstructure:"control"`

	// Frame preprocessing
	Preprocess PreprocessConfig `json:"preprocess" mapstructure:"preprocess"`

	// Frame recording
	Recording RecordingConfig `json:"recording" mapstructure:"recording"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Tracing
	Tracing TracingConfig `json:"tracing" mapstructure:"tracing"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`

	// Interval between stats log lines, 0 disables them
	StatsIntervalMs int `json:"stats_interval_ms" mapstructure:"stats_interval_ms"`
}

// ServerConfig holds gateway server configuration
type ServerConfig struct {
	Host           string `json:"host" mapstructure:"host"`
	Port           int    `json:"port" mapstructure:"port"`
	PingIntervalMs int    `json:"ping_interval_ms" mapstructure:"ping_interval_ms"`
	PingTimeoutMs  int    `json:"ping_timeout_ms" mapstructure:"ping_timeout_ms"`
}

// PingInterval returns the Engine.IO ping interval
func (s ServerConfig) PingInterval() time.Duration {
	return time.Duration(s.PingIntervalMs) * time.Millisecond
}

// PingTimeout returns the Engine.IO ping timeout
func (s ServerConfig) PingTimeout() time.Duration {
	return time.Duration(s.PingTimeoutMs) * time.Millisecond
}

// ModelConfig holds steering model configuration
type ModelConfig struct {
	Path       string `json:"path" mapstructure:"path"` // file, s3://bucket/key or http(s) model server
	Name       string `json:"name" mapstructure:"name"`
	TimeoutMs  int    `json:"timeout_ms" mapstructure:"timeout_ms"` // 0 disables the deadline
	S3Region   string `json:"s3_region" mapstructure:"s3_region"`
	S3Endpoint string `json:"s3_endpoint" mapstructure:"s3_endpoint"`
}

// Timeout returns the per-prediction deadline
func (m ModelConfig) Timeout() time.Duration {
	return time.Duration(m.TimeoutMs) * time.Millisecond
}

// ControlConfig holds speed governor configuration
type ControlConfig struct {
	MaxSpeed      float64 `json:"max_speed" mapstructure:"max_speed"`
	MinSpeed      float64 `json:"min_speed" mapstructure:"min_speed"`
	GovernorScope string  `json:"governor_scope" mapstructure:"governor_scope"` // shared, session
}

// PreprocessConfig holds frame preprocessing configuration
type PreprocessConfig struct {
	CropTop    int    `json:"crop_top" mapstructure:"crop_top"`
	CropBottom int    `json:"crop_bottom" mapstructure:"crop_bottom"`
	Width      int    `json:"width" mapstructure:"width"`
	Height     int    `json:"height" mapstructure:"height"`
	ColorSpace string `json:"color_space" mapstructure:"color_space"` // rgb, yuv
}

// RecordingConfig holds frame recording configuration
type RecordingConfig struct {
	Enabled   bool   `json:"enabled" mapstructure:"enabled"`
	Directory string `json:"directory" mapstructure:"directory"`
	Journal   bool   `json:"journal" mapstructure:"journal"`
	Quality   int    `json:"quality" mapstructure:"quality"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Console   bool   `json:"console" mapstructure:"console"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress  bool   `json:"compress" mapstructure:"compress"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// TracingConfig holds OpenTelemetry configuration
type TracingConfig struct {
	Enabled     bool    `json:"enabled" mapstructure:"enabled"`
	ServiceName string  `json:"service_name" mapstructure:"service_name"`
	SampleRatio float64 `json:"sample_ratio" mapstructure:"sample_ratio"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           4567,
			PingIntervalMs: 25000,
			PingTimeoutMs:  20000,
		},
		Model: ModelConfig{
			Name:      "steering",
			TimeoutMs: 200,
		},
		Control: ControlConfig{
			MaxSpeed:      25,
			MinSpeed:      10,
			GovernorScope: "shared",
		},
		Preprocess: PreprocessConfig{
			CropTop:    60,
			CropBottom: 25,
			Width:      200,
			Height:     66,
			ColorSpace: "yuv",
		},
		Recording: RecordingConfig{
			Enabled: false,
			Journal: true,
			Quality: 90,
		},
		Logging: LoggingConfig{
			Level:     "info",
			Console:   true,
			MaxSize:   100,
			MaxAge:    7,
			Compress:  true,
			Redaction: true,
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "steerd",
			SampleRatio: 1,
		},
		DataDir:         "",
		StatsIntervalMs: 10000,
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// StatsInterval returns the stats logging interval
func (c *Config) StatsInterval() time.Duration {
	return time.Duration(c.StatsIntervalMs) * time.Millisecond
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	v := NewValidator()

	if err := v.ValidatePort(c.Server.Port); err != nil {
		return err
	}
	if c.Server.PingIntervalMs <= 0 || c.Server.PingTimeoutMs <= 0 {
		return fmt.Errorf("server ping_interval_ms and ping_timeout_ms must be > 0")
	}

	if c.Model.Path == "" {
		return fmt.Errorf("model path is required")
	}
	if c.Model.TimeoutMs < 0 {
		return fmt.Errorf("model timeout_ms must be >= 0")
	}

	if err := v.ValidateSpeedLimits(c.Control.MaxSpeed, c.Control.MinSpeed); err != nil {
		return err
	}
	if err := v.ValidateGovernorScope(c.Control.GovernorScope); err != nil {
		return err
	}

	if err := v.ValidatePreprocess(c.Preprocess); err != nil {
		return err
	}

	if c.Recording.Enabled && c.Recording.Directory == "" {
		return fmt.Errorf("recording directory is required when recording is enabled")
	}
	if c.Recording.Quality < 0 || c.Recording.Quality > 100 {
		return fmt.Errorf("recording quality must be between 0 and 100")
	}

	if err := v.ValidateLogLevel(c.Logging.Level); err != nil {
		return err
	}

	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing sample_ratio must be between 0 and 1")
	}

	if c.StatsIntervalMs < 0 {
		return fmt.Errorf("stats_interval_ms must be >= 0")
	}

	return nil
}
