package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. STEERD_CONTROL_MAX_SPEED
const EnvPrefix = "STEERD"

// Loader handles configuration loading
type Loader struct {
	configPath string
}

// NewLoader creates a new config loader
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
	}
}

// Load loads the configuration from file and environment
func (l *Loader) Load() (*Config, error) {
	configPath := l.GetConfigPath()
	if configPath == "" {
		return nil, fmt.Errorf("failed to get home directory")
	}

	v := viper.New()
	v.SetConfigType("json")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Env overrides only apply to keys viper knows about
	cfg := DefaultConfig()
	setDefaults(v, cfg)

	// A missing file leaves defaults plus environment
	if _, err := os.Stat(configPath); err == nil {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Set data directory if not specified
	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		cfg.DataDir = filepath.Join(home, ".steerd")
	}

	// Set logging file path if not specified
	if cfg.Logging.File == "" {
		cfg.Logging.File = filepath.Join(cfg.DataDir, "steerd.log")
	}

	return cfg, nil
}

// Save saves the configuration to file
func (l *Loader) Save(cfg *Config) error {
	configPath := l.GetConfigPath()
	if configPath == "" {
		return fmt.Errorf("failed to get home directory")
	}

	// Ensure directory exists
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("json")

	v.Set("server", cfg.Server)
	v.Set("model", cfg.Model)
	v.Set("control", cfg.Control)
	v.Set("preprocess", cfg.Preprocess)
	v.Set("recording", cfg.Recording)
	v.Set("logging", cfg.Logging)
	v.Set("tracing", cfg.Tracing)
	v.Set("data_dir", cfg.DataDir)
	v.Set("stats_interval_ms", cfg.StatsIntervalMs)

	if err := v.WriteConfig(); err != nil {
		// If file doesn't exist, create it
		if os.IsNotExist(err) {
			if err := v.SafeWriteConfig(); err != nil {
				return fmt.Errorf("failed to write config file: %w", err)
			}
		} else {
			return fmt.Errorf("failed to write config file: %w", err)
		}
	}

	return nil
}

// GetConfigPath returns the config file path
func (l *Loader) GetConfigPath() string {
	if l.configPath != "" {
		return l.configPath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".steerd", "steerd.json")
}

// Load is a convenience function that creates a loader and loads the config
func Load(configPath string) (*Config, error) {
	loader := NewLoader(configPath)
	return loader.Load()
}

func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("server.host", cfg.Server.Host)
	v.SetDefault("server.port", cfg.Server.Port)
	v.SetDefault("server.ping_interval_ms", cfg.Server.PingIntervalMs)
	v.SetDefault("server.ping_timeout_ms", cfg.Server.PingTimeoutMs)

	v.SetDefault("model.path", cfg.Model.Path)
	v.SetDefault("model.name", cfg.Model.Name)
	v.SetDefault("model.timeout_ms", cfg.Model.TimeoutMs)
	v.SetDefault("model.s3_region", cfg.Model.S3Region)
	v.SetDefault("model.s3_endpoint", cfg.Model.S3Endpoint)

	v.SetDefault("control.max_speed", cfg.Control.MaxSpeed)
	v.SetDefault("control.min_speed", cfg.Control.MinSpeed)
	v.SetDefault("control.governor_scope", cfg.Control.GovernorScope)

	v.SetDefault("preprocess.crop_top", cfg.Preprocess.CropTop)
	v.SetDefault("preprocess.crop_bottom", cfg.Preprocess.CropBottom)
	v.SetDefault("preprocess.width", cfg.Preprocess.Width)
	v.SetDefault("preprocess.height", cfg.Preprocess.Height)
	v.SetDefault("preprocess.color_space", cfg.Preprocess.ColorSpace)

	v.SetDefault("recording.enabled", cfg.Recording.Enabled)
	v.SetDefault("recording.directory", cfg.Recording.Directory)
	v.SetDefault("recording.journal", cfg.Recording.Journal)
	v.SetDefault("recording.quality", cfg.Recording.Quality)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.file", cfg.Logging.File)
	v.SetDefault("logging.console", cfg.Logging.Console)
	v.SetDefault("logging.pretty", cfg.Logging.Pretty)
	v.SetDefault("logging.max_size", cfg.Logging.MaxSize)
	v.SetDefault("logging.max_age", cfg.Logging.MaxAge)
	v.SetDefault("logging.compress", cfg.Logging.Compress)
	v.SetDefault("logging.redaction", cfg.Logging.Redaction)

	v.SetDefault("tracing.enabled", cfg.Tracing.Enabled)
	v.SetDefault("tracing.service_name", cfg.Tracing.ServiceName)
	v.SetDefault("tracing.sample_ratio", cfg.Tracing.SampleRatio)

	v.SetDefault("data_dir", cfg.DataDir)
	v.SetDefault("stats_interval_ms", cfg.StatsIntervalMs)
}
