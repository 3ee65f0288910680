package config

import (
	"fmt"
	"strings"

	"github.com/benoitkugler/okcanvas/session"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...interface{}) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// listing every problem found.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateServer(cfg, ve)
	validateSession(cfg, ve)
	validateImages(cfg, ve)
	validateLogger(cfg, ve)
	validateTracer(cfg, ve)
	validateRateLimit(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateServer(cfg *Config, ve *ValidationError) {
	if cfg.Server.Addr == "" {
		ve.Add("server.addr must not be empty")
	}
	if cfg.Server.MaxUploadBytes <= 0 {
		ve.Add("server.max_upload_bytes must be > 0")
	}
	if cfg.Server.MaxConnections < 0 {
		ve.Add("server.max_connections must be >= 0")
	}
}

func validateSession(cfg *Config, ve *ValidationError) {
	if cfg.Session.Capacity <= 0 {
		ve.Add("session.capacity must be > 0")
	}
	if cfg.Session.TTL < 0 {
		ve.Add("session.ttl must be >= 0")
	}
	if cfg.Session.MaxDimension <= 0 {
		ve.Add("session.max_dimension must be > 0")
	}
	if cfg.Session.MirrorMaxPixels < 0 {
		ve.Add("session.mirror_max_pixels must be >= 0")
	}
	if s := cfg.Session.SweepSchedule; s != "" {
		if _, err := session.ParseSchedule(s); err != nil {
			ve.Add("session.sweep_schedule: %s", err)
		}
	}
}

func validateImages(cfg *Config, ve *ValidationError) {
	if cfg.Images.MaxBytes <= 0 {
		ve.Add("images.max_bytes must be > 0")
	}
	if cfg.Images.FetchTimeout <= 0 {
		ve.Add("images.fetch_timeout must be > 0")
	}
	if cfg.Images.RatePerSecond < 0 {
		ve.Add("images.rate_per_second must be >= 0")
	}
}

var (
	validLevels  = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	validFormats = map[string]bool{"text": true, "json": true}
)

func validateLogger(cfg *Config, ve *ValidationError) {
	if !validLevels[strings.ToLower(cfg.Logger.Level)] {
		ve.Add("logger.level %q is not one of debug, info, warn, error", cfg.Logger.Level)
	}
	if !validFormats[cfg.Logger.Format] {
		ve.Add("logger.format %q must be text or json", cfg.Logger.Format)
	}
	if cfg.Logger.Output == "" {
		ve.Add("logger.output must not be empty")
	}
}

func validateTracer(cfg *Config, ve *ValidationError) {
	if !cfg.Tracer.Enabled {
		return
	}
	switch cfg.Tracer.Exporter {
	case "noop", "stdout":
	default:
		ve.Add("tracer.exporter %q must be noop or stdout", cfg.Tracer.Exporter)
	}
}

func validateRateLimit(cfg *Config, ve *ValidationError) {
	if !cfg.RateLimit.Enabled {
		return
	}
	if cfg.RateLimit.RequestsPerSecond <= 0 {
		ve.Add("rate_limit.requests_per_second must be > 0 when enabled")
	}
	if cfg.RateLimit.Burst <= 0 {
		ve.Add("rate_limit.burst must be > 0 when enabled")
	}
}
