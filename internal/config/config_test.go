package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 30*time.Second, cfg.HTTP.Timeout)
	assert.Equal(t, 3, cfg.HTTP.MaxRetries)
	assert.Equal(t, time.Second, cfg.HTTP.BaseBackoff)
	assert.True(t, cfg.Cache.Enabled)
	assert.Equal(t, "sqlite", cfg.Cache.Driver)
	assert.Equal(t, "data/checkpoints", cfg.Checkpoint.Dir)
	assert.Equal(t, 100, cfg.Checkpoint.Interval)

	assert.True(t, cfg.Sources.IRSBMF.Enabled)
	assert.Equal(t, "https://www.irs.gov/pub/irs-soi", cfg.Sources.IRSBMF.BaseURL)
	assert.Equal(t, []string{"eo1.csv", "eo2.csv", "eo3.csv", "eo4.csv"}, cfg.Sources.IRSBMF.Files)
	assert.Equal(t, 500*time.Millisecond, cfg.Sources.ProPublica.Interval)
	assert.Equal(t, time.Second, cfg.Sources.CharityNav.Interval)
	assert.Empty(t, cfg.Sources.CharityNav.APIKey)
	assert.Equal(t, 200*time.Millisecond, cfg.Sources.VAFacilities.Interval)
	assert.Equal(t, 200, cfg.Sources.VAFacilities.PerPage)
	assert.Len(t, cfg.Sources.VAFacilities.Types, 4)

	assert.Equal(t, []string{"irs_bmf", "propublica", "charity_nav", "va_facilities", "va_vso", "nodc", "nrd"}, cfg.Merge.Priority)
	assert.True(t, cfg.Sources.NODC.Enabled)
	assert.Len(t, cfg.Sources.NODC.URLs, 3)
	assert.Equal(t, "data/raw/nodc", cfg.Sources.NODC.RawDir)
	assert.Equal(t, 2*time.Second, cfg.Sources.VAVSO.Interval)
	assert.Equal(t, "https://www.nrd.gov", cfg.Sources.NRD.BaseURL)
	assert.InDelta(t, 88.0, cfg.Dedup.Threshold, 0.001)
	assert.Equal(t, 500, cfg.Dedup.MaxBlockSize)
	assert.False(t, cfg.Dedup.KeepAlternates)
	assert.Equal(t, "organizations", cfg.Postgres.Table)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.False(t, cfg.Monitoring.Enabled)
	assert.Equal(t, 168, cfg.Monitoring.LookbackWindowHours)
	assert.InDelta(t, 0.2, cfg.Monitoring.RecordDropThreshold, 0.001)

	assert.NoError(t, cfg.Validate("run"))
	assert.NoError(t, cfg.Validate("serve"))
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
log:
  level: debug
  format: console
cache:
  driver: badger
sources:
  charity_nav:
    api_key: cn-key
    interval: 2s
  va_facilities:
    types: [health]
merge:
  priority: [propublica, irs_bmf]
dedup:
  threshold: 90
  keep_alternates: true
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, "badger", cfg.Cache.Driver)
	assert.Equal(t, "cn-key", cfg.Sources.CharityNav.APIKey)
	assert.Equal(t, 2*time.Second, cfg.Sources.CharityNav.Interval)
	assert.Equal(t, []string{"health"}, cfg.Sources.VAFacilities.Types)
	assert.Equal(t, []string{"propublica", "irs_bmf"}, cfg.Merge.Priority)
	assert.InDelta(t, 90.0, cfg.Dedup.Threshold, 0.001)
	assert.True(t, cfg.Dedup.KeepAlternates)
	// Defaults still apply for unset values
	assert.Equal(t, "https://api.charitynavigator.org/graphql", cfg.Sources.CharityNav.BaseURL)
	assert.Equal(t, 200, cfg.Sources.VAFacilities.PerPage)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
log:
  level: debug
sources:
  va_facilities:
    api_key: from-file
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	t.Setenv("ORGDIR_LOG_LEVEL", "warn")
	t.Setenv("ORGDIR_SOURCES_VA_FACILITIES_API_KEY", "from-env")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "from-env", cfg.Sources.VAFacilities.APIKey)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chdirTemp(t)

	t.Setenv("ORGDIR_SERVER_PORT", "3000")
	t.Setenv("ORGDIR_SOURCES_CHARITY_NAV_API_KEY", "secret")
	t.Setenv("ORGDIR_POSTGRES_DATABASE_URL", "postgres://localhost/orgs")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "secret", cfg.Sources.CharityNav.APIKey)
	assert.Equal(t, "postgres://localhost/orgs", cfg.Postgres.DatabaseURL)
}

func TestLoadMalformedFile(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("log: [unclosed"), 0o644))

	_, err := Load()
	assert.Error(t, err)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

func validDefaults() *Config {
	return &Config{
		Cache:      CacheConfig{Enabled: true, Driver: "sqlite"},
		Checkpoint: CheckpointConfig{Dir: "data/checkpoints"},
		Merge:      MergeConfig{Priority: []string{"irs_bmf"}},
		Dedup:      DedupConfig{Threshold: 88, MaxBlockSize: 500},
		Output:     OutputConfig{Dir: "output"},
		Server:     ServerConfig{Port: 8080},
	}
}

func TestValidateRun_MissingFields(t *testing.T) {
	cfg := validDefaults()
	cfg.Checkpoint.Dir = ""
	cfg.Merge.Priority = nil
	cfg.Dedup.Threshold = 120

	err := cfg.Validate("run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "checkpoint.dir is required")
	assert.Contains(t, err.Error(), "merge.priority")
	assert.Contains(t, err.Error(), "dedup.threshold")
}

func TestValidateCacheDriver(t *testing.T) {
	cfg := validDefaults()
	cfg.Cache.Driver = "redis"
	err := cfg.Validate("run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cache.driver")

	cfg.Cache.Enabled = false
	assert.NoError(t, cfg.Validate("run"))
}

func TestValidateServe_InvalidPort(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 0

	err := cfg.Validate("serve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be > 0")
}

func TestValidateServe_MonitoringLookback(t *testing.T) {
	cfg := validDefaults()
	cfg.Monitoring.Enabled = true
	cfg.Monitoring.LookbackWindowHours = 0

	err := cfg.Validate("serve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "monitoring.lookback_window_hours")
}

func TestValidateUnknownMode(t *testing.T) {
	cfg := validDefaults()
	err := cfg.Validate("unknown")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}
