package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	assert.Equal(t, ":3000", cfg.Server.Addr)
	assert.Equal(t, 1024, cfg.Session.Capacity)
	assert.Equal(t, time.Hour, cfg.Session.TTL)
	assert.Equal(t, 10000, cfg.Session.MaxDimension)
	assert.True(t, cfg.Export.Compress)
	assert.Equal(t, "Canvas Builder API", cfg.Export.Author)
	assert.Equal(t, "info", cfg.Logger.Level)
	require.NoError(t, Validate(cfg))
}

func TestLoadNonExistentReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Defaults().Session, cfg.Session)
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  addr: "127.0.0.1:8080"
  static_dir: "./public"
session:
  capacity: 16
  ttl: 10m
  sweep_schedule: "*/2 * * * *"
  raster_mirror: true
  mirror_max_pixels: 250000
images:
  fetch_timeout: 3s
  allow_private_networks: true
logger:
  level: debug
  format: json
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8080", cfg.Server.Addr)
	assert.Equal(t, "./public", cfg.Server.StaticDir)
	assert.Equal(t, 16, cfg.Session.Capacity)
	assert.Equal(t, 10*time.Minute, cfg.Session.TTL)
	assert.True(t, cfg.Session.RasterMirror)
	assert.Equal(t, 3*time.Second, cfg.Images.FetchTimeout)
	assert.Equal(t, "json", cfg.Logger.Format)
	// untouched fields keep their defaults
	assert.Equal(t, int64(10<<20), cfg.Images.MaxBytes)

	rc := cfg.Images.ResolverConfig()
	assert.True(t, rc.AllowPrivateNetworks)
	assert.Equal(t, 3*time.Second, rc.FetchTimeout)
	sc := cfg.Session.StoreConfig()
	assert.Equal(t, 16, sc.Capacity)
	assert.True(t, sc.RasterMirror)
	assert.Equal(t, 250000, sc.MirrorMaxPixels)
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("session: [1, 2"), 0o600))
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config")
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "4000")
	t.Setenv("CANVAS_LOGGER_LEVEL", "warn")
	t.Setenv("CANVAS_RASTER_MIRROR", "true")
	t.Setenv("CANVAS_SESSION_TTL", "90s")
	t.Setenv("CANVAS_TRACER_ENABLED", "true")
	t.Setenv("CANVAS_TRACER_EXPORTER", "stdout")

	cfg := Defaults()
	require.NoError(t, ApplyEnvOverrides(cfg))
	assert.Equal(t, ":4000", cfg.Server.Addr)
	assert.Equal(t, "warn", cfg.Logger.Level)
	assert.True(t, cfg.Session.RasterMirror)
	assert.Equal(t, 90*time.Second, cfg.Session.TTL)
	assert.True(t, cfg.Tracer.Enabled)
	assert.Equal(t, "stdout", cfg.Tracer.Exporter)

	t.Setenv("CANVAS_ADDR", "localhost:5000")
	require.NoError(t, ApplyEnvOverrides(cfg))
	assert.Equal(t, "localhost:5000", cfg.Server.Addr, "CANVAS_ADDR wins over PORT")
}

func TestEnvOverridesInvalid(t *testing.T) {
	t.Setenv("CANVAS_SESSION_TTL", "forever")
	assert.Error(t, ApplyEnvOverrides(Defaults()))
}

func TestValidate(t *testing.T) {
	cfg := Defaults()
	cfg.Server.Addr = ""
	cfg.Session.Capacity = 0
	cfg.Session.SweepSchedule = "every tuesday"
	cfg.Logger.Level = "loud"
	cfg.Tracer.Enabled = true
	cfg.Tracer.Exporter = "jaeger"

	err := Validate(cfg)
	require.Error(t, err)
	ve, ok := err.(*ValidationError)
	require.True(t, ok)
	assert.Len(t, ve.Errors, 5)
	assert.Contains(t, err.Error(), "session.sweep_schedule")
}
