// Package config loads the canvas server configuration from a YAML
// file, an optional .env file and CANVAS_* environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/benoitkugler/okcanvas/imageref"
	"github.com/benoitkugler/okcanvas/session"
)

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Session   SessionConfig   `yaml:"session"`
	Images    ImagesConfig    `yaml:"images"`
	Export    ExportConfig    `yaml:"export"`
	Logger    LoggerConfig    `yaml:"logger"`
	Tracer    TracerConfig    `yaml:"tracer"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Addr           string        `yaml:"addr"`
	StaticDir      string        `yaml:"static_dir"`       // empty disables static hosting
	MaxUploadBytes int64         `yaml:"max_upload_bytes"` // request body limit
	MaxConnections int           `yaml:"max_connections"`  // 0 means unlimited
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
}

// SessionConfig is the retention policy of the canvas sessions.
type SessionConfig struct {
	Capacity      int           `yaml:"capacity"`
	TTL           time.Duration `yaml:"ttl"`            // 0 disables expiry
	SweepSchedule string        `yaml:"sweep_schedule"` // cron expression or duration, empty disables
	MaxDimension  int           `yaml:"max_dimension"`
	RasterMirror  bool          `yaml:"raster_mirror"`
	// MirrorMaxPixels bounds the canvases which get a raster mirror,
	// each costing 4 bytes per pixel for the session lifetime.
	MirrorMaxPixels int `yaml:"mirror_max_pixels"`
}

// ImagesConfig configures the image uploads and remote fetches.
type ImagesConfig struct {
	FetchTimeout         time.Duration `yaml:"fetch_timeout"`
	MaxBytes             int64         `yaml:"max_bytes"`
	MaxPixels            int           `yaml:"max_pixels"`
	AllowPrivateNetworks bool          `yaml:"allow_private_networks"`
	BreakerFailures      uint32        `yaml:"breaker_failures"`
	BreakerTimeout       time.Duration `yaml:"breaker_timeout"`
	RatePerSecond        float64       `yaml:"rate_per_second"` // 0 means unlimited
	Burst                int           `yaml:"burst"`
}

// ResolverConfig converts to the image resolver settings.
func (c ImagesConfig) ResolverConfig() imageref.Config {
	return imageref.Config{
		FetchTimeout:         c.FetchTimeout,
		MaxBytes:             c.MaxBytes,
		MaxPixels:            c.MaxPixels,
		AllowPrivateNetworks: c.AllowPrivateNetworks,
		BreakerFailures:      c.BreakerFailures,
		BreakerTimeout:       c.BreakerTimeout,
		RatePerSecond:        c.RatePerSecond,
		Burst:                c.Burst,
	}
}

// StoreConfig converts to the session store settings.
func (c SessionConfig) StoreConfig() session.Config {
	return session.Config{
		Capacity:        c.Capacity,
		TTL:             c.TTL,
		MaxDimension:    c.MaxDimension,
		RasterMirror:    c.RasterMirror,
		MirrorMaxPixels: c.MirrorMaxPixels,
	}
}

// ExportConfig holds the PDF document settings.
type ExportConfig struct {
	Compress bool   `yaml:"compress"`
	Author   string `yaml:"author"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
}

// RateLimitConfig is the per client request rate limit.
type RateLimitConfig struct {
	Enabled           bool          `yaml:"enabled"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	CleanupInterval   time.Duration `yaml:"cleanup_interval"`
}

// Defaults returns the configuration used when no file is given.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:           ":3000",
			MaxUploadBytes: 16 << 20,
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   60 * time.Second,
			IdleTimeout:    120 * time.Second,
		},
		Session: SessionConfig{
			Capacity:        1024,
			TTL:             time.Hour,
			SweepSchedule:   "@every 5m",
			MaxDimension:    10000,
			MirrorMaxPixels: 4_000_000,
		},
		Images: ImagesConfig{
			FetchTimeout:    10 * time.Second,
			MaxBytes:        10 << 20,
			MaxPixels:       50_000_000,
			BreakerFailures: 5,
			BreakerTimeout:  30 * time.Second,
			RatePerSecond:   10,
			Burst:           20,
		},
		Export: ExportConfig{
			Compress: true,
			Author:   "Canvas Builder API",
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Enabled:  false,
			Exporter: "noop",
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerSecond: 50,
			Burst:             100,
			CleanupInterval:   5 * time.Minute,
		},
	}
}

// Load reads a YAML config file on top of the defaults, then applies
// the environment overrides. A missing file is not an error.
// A .env file in the working directory, if any, is loaded first.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := Defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	if err := ApplyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides maps PORT and CANVAS_* env vars to config fields.
func ApplyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Addr = ":" + v
	}
	if v := os.Getenv("CANVAS_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("CANVAS_STATIC_DIR"); v != "" {
		cfg.Server.StaticDir = v
	}
	if v := os.Getenv("CANVAS_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("CANVAS_LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("CANVAS_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("CANVAS_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
	if v := os.Getenv("CANVAS_RASTER_MIRROR"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("CANVAS_RASTER_MIRROR: %w", err)
		}
		cfg.Session.RasterMirror = b
	}
	if v := os.Getenv("CANVAS_SESSION_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("CANVAS_SESSION_TTL: %w", err)
		}
		cfg.Session.TTL = d
	}
	if v := os.Getenv("CANVAS_SESSION_CAPACITY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("CANVAS_SESSION_CAPACITY: %w", err)
		}
		cfg.Session.Capacity = n
	}
	if v := os.Getenv("CANVAS_ALLOW_PRIVATE_NETWORKS"); v == "true" {
		cfg.Images.AllowPrivateNetworks = true
	}
	return nil
}
