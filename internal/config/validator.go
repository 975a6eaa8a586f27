package config

import (
	"fmt"
	"math"
	"net/url"
	"os"
	"strings"
)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateModelPath validates a model location
func (v *Validator) ValidateModelPath(path string) error {
	if path == "" {
		return fmt.Errorf("model path cannot be empty")
	}

	switch {
	case strings.HasPrefix(path, "s3://"):
		u, err := url.Parse(path)
		if err != nil || u.Host == "" || strings.TrimPrefix(u.Path, "/") == "" {
			return fmt.Errorf("invalid s3 model uri: %s (expected s3://bucket/key)", path)
		}
	case strings.HasPrefix(path, "http://"), strings.HasPrefix(path, "https://"):
		u, err := url.Parse(path)
		if err != nil || u.Host == "" {
			return fmt.Errorf("invalid model server url: %s", path)
		}
	default:
		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("model file not found: %s", path)
		}
		if info.IsDir() {
			return fmt.Errorf("model path is a directory: %s", path)
		}
	}

	return nil
}

// ValidatePort validates a listen port
func (v *Validator) ValidatePort(port int) error {
	if port < 0 || port > 65535 {
		return fmt.Errorf("invalid port: %d (must be between 0 and 65535)", port)
	}
	return nil
}

// ValidateSpeedLimits validates the governor limits
func (v *Validator) ValidateSpeedLimits(maxSpeed, minSpeed float64) error {
	if math.IsNaN(maxSpeed) || math.IsNaN(minSpeed) || math.IsInf(maxSpeed, 0) || math.IsInf(minSpeed, 0) {
		return fmt.Errorf("speed limits must be finite")
	}
	if minSpeed <= 0 {
		return fmt.Errorf("min speed must be positive, got %g", minSpeed)
	}
	if maxSpeed <= minSpeed {
		return fmt.Errorf("max speed must exceed min speed, got max=%g min=%g", maxSpeed, minSpeed)
	}
	return nil
}

// ValidateGovernorScope validates the governor scope
func (v *Validator) ValidateGovernorScope(scope string) error {
	if scope == "" {
		return nil // Use default
	}

	validScopes := []string{"shared", "session"}
	for _, valid := range validScopes {
		if scope == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid governor scope: %s (must be one of: %s)", scope, strings.Join(validScopes, ", "))
}

// ValidateColorSpace validates the tensor color space
func (v *Validator) ValidateColorSpace(space string) error {
	if space == "" {
		return nil // Use default
	}

	validSpaces := []string{"rgb", "yuv"}
	for _, valid := range validSpaces {
		if space == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid color space: %s (must be one of: %s)", space, strings.Join(validSpaces, ", "))
}

// ValidatePreprocess validates the crop and resize settings
func (v *Validator) ValidatePreprocess(p PreprocessConfig) error {
	if p.CropTop < 0 || p.CropBottom < 0 {
		return fmt.Errorf("preprocess crop must be >= 0")
	}
	if p.Width <= 0 || p.Height <= 0 {
		return fmt.Errorf("preprocess width and height must be positive, got %dx%d", p.Width, p.Height)
	}
	return v.ValidateColorSpace(p.ColorSpace)
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidateConfig performs comprehensive validation
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errors []error

	if err := v.ValidateModelPath(cfg.Model.Path); err != nil {
		errors = append(errors, err)
	}
	if cfg.Model.TimeoutMs < 0 {
		errors = append(errors, fmt.Errorf("model.timeout_ms must be >= 0"))
	}

	if err := v.ValidatePort(cfg.Server.Port); err != nil {
		errors = append(errors, err)
	}
	if cfg.Server.PingIntervalMs <= 0 {
		errors = append(errors, fmt.Errorf("server.ping_interval_ms must be > 0"))
	}
	if cfg.Server.PingTimeoutMs <= 0 {
		errors = append(errors, fmt.Errorf("server.ping_timeout_ms must be > 0"))
	}

	if err := v.ValidateSpeedLimits(cfg.Control.MaxSpeed, cfg.Control.MinSpeed); err != nil {
		errors = append(errors, err)
	}
	if err := v.ValidateGovernorScope(cfg.Control.GovernorScope); err != nil {
		errors = append(errors, err)
	}

	if err := v.ValidatePreprocess(cfg.Preprocess); err != nil {
		errors = append(errors, err)
	}

	if cfg.Recording.Enabled && strings.TrimSpace(cfg.Recording.Directory) == "" {
		errors = append(errors, fmt.Errorf("recording.directory is required when recording is enabled"))
	}

	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errors = append(errors, err)
	}

	return errors
}
