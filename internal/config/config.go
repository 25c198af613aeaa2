package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	HTTP       HTTPConfig       `yaml:"http" mapstructure:"http"`
	Cache      CacheConfig      `yaml:"cache" mapstructure:"cache"`
	Checkpoint CheckpointConfig `yaml:"checkpoint" mapstructure:"checkpoint"`
	Sources    SourcesConfig    `yaml:"sources" mapstructure:"sources"`
	Merge      MergeConfig      `yaml:"merge" mapstructure:"merge"`
	Dedup      DedupConfig      `yaml:"dedup" mapstructure:"dedup"`
	Output     OutputConfig     `yaml:"output" mapstructure:"output"`
	Postgres   PostgresConfig   `yaml:"postgres" mapstructure:"postgres"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// HTTPConfig holds defaults shared by every source client. Per-source
// settings override them when non-zero.
type HTTPConfig struct {
	UserAgent           string        `yaml:"user_agent" mapstructure:"user_agent"`
	Timeout             time.Duration `yaml:"timeout" mapstructure:"timeout"`
	DownloadTimeout     time.Duration `yaml:"download_timeout" mapstructure:"download_timeout"`
	MaxRetries          int           `yaml:"max_retries" mapstructure:"max_retries"`
	BaseBackoff         time.Duration `yaml:"base_backoff" mapstructure:"base_backoff"`
	MaxBackoff          time.Duration `yaml:"max_backoff" mapstructure:"max_backoff"`
	Jitter              float64       `yaml:"jitter" mapstructure:"jitter"`
	BreakerThreshold    int           `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerResetTimeout time.Duration `yaml:"breaker_reset_timeout" mapstructure:"breaker_reset_timeout"`
}

// CacheConfig selects the response cache backend.
type CacheConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Driver  string `yaml:"driver" mapstructure:"driver"` // "sqlite" or "badger"
	Path    string `yaml:"path" mapstructure:"path"`
}

// CheckpointConfig configures the checkpoint directory.
type CheckpointConfig struct {
	Dir      string `yaml:"dir" mapstructure:"dir"`
	Interval int    `yaml:"interval" mapstructure:"interval"`
}

// SourceConfig configures one extractor and its client.
type SourceConfig struct {
	Enabled    bool          `yaml:"enabled" mapstructure:"enabled"`
	BaseURL    string        `yaml:"base_url" mapstructure:"base_url"`
	APIKey     string        `yaml:"api_key" mapstructure:"api_key"`
	Interval   time.Duration `yaml:"interval" mapstructure:"interval"`
	MaxRetries int           `yaml:"max_retries" mapstructure:"max_retries"`
}

// IRSBMFConfig adds the bulk file settings to SourceConfig.
type IRSBMFConfig struct {
	SourceConfig `yaml:",inline" mapstructure:",squash"`
	Files        []string `yaml:"files" mapstructure:"files"`
	RawDir       string   `yaml:"raw_dir" mapstructure:"raw_dir"`
}

// VAFacilitiesConfig adds facility types and page size to SourceConfig.
type VAFacilitiesConfig struct {
	SourceConfig `yaml:",inline" mapstructure:",squash"`
	Types        []string `yaml:"types" mapstructure:"types"`
	PerPage      int      `yaml:"per_page" mapstructure:"per_page"`
}

// NODCConfig lists the candidate bulk files, tried in order.
type NODCConfig struct {
	SourceConfig `yaml:",inline" mapstructure:",squash"`
	URLs         []string `yaml:"urls" mapstructure:"urls"`
	RawDir       string   `yaml:"raw_dir" mapstructure:"raw_dir"`
}

// SourcesConfig configures every extractor.
type SourcesConfig struct {
	IRSBMF       IRSBMFConfig       `yaml:"irs_bmf" mapstructure:"irs_bmf"`
	ProPublica   SourceConfig       `yaml:"propublica" mapstructure:"propublica"`
	CharityNav   SourceConfig       `yaml:"charity_nav" mapstructure:"charity_nav"`
	NODC         NODCConfig         `yaml:"nodc" mapstructure:"nodc"`
	VAFacilities VAFacilitiesConfig `yaml:"va_facilities" mapstructure:"va_facilities"`
	VAVSO        SourceConfig       `yaml:"va_vso" mapstructure:"va_vso"`
	NRD          SourceConfig       `yaml:"nrd" mapstructure:"nrd"`
}

// MergeConfig configures source priority.
type MergeConfig struct {
	Priority []string `yaml:"priority" mapstructure:"priority"`
}

// DedupConfig configures the deduplicator.
type DedupConfig struct {
	Threshold      float64 `yaml:"threshold" mapstructure:"threshold"`
	MaxBlockSize   int     `yaml:"max_block_size" mapstructure:"max_block_size"`
	AuditMargin    float64 `yaml:"audit_margin" mapstructure:"audit_margin"`
	Workers        int     `yaml:"workers" mapstructure:"workers"`
	KeepAlternates bool    `yaml:"keep_alternates" mapstructure:"keep_alternates"`
}

// OutputConfig configures the final file outputs.
type OutputConfig struct {
	Dir  string `yaml:"dir" mapstructure:"dir"`
	Name string `yaml:"name" mapstructure:"name"`
	XLSX bool   `yaml:"xlsx" mapstructure:"xlsx"`
}

// PostgresConfig configures the optional Postgres sink.
type PostgresConfig struct {
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	Table       string `yaml:"table" mapstructure:"table"`
}

// StoreConfig configures the run log.
type StoreConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// ServerConfig configures the status API.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// MonitoringConfig configures run health alerting in serve mode.
type MonitoringConfig struct {
	Enabled              bool    `yaml:"enabled" mapstructure:"enabled"`
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	RecordDropThreshold  float64 `yaml:"record_drop_threshold" mapstructure:"record_drop_threshold"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("ORGDIR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("http.user_agent", "org-directory/1.0")
	v.SetDefault("http.timeout", 30*time.Second)
	v.SetDefault("http.download_timeout", 10*time.Minute)
	v.SetDefault("http.max_retries", 3)
	v.SetDefault("http.base_backoff", time.Second)
	v.SetDefault("http.max_backoff", 60*time.Second)
	v.SetDefault("http.jitter", 0.0)
	v.SetDefault("http.breaker_threshold", 0)
	v.SetDefault("http.breaker_reset_timeout", 5*time.Minute)

	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.driver", "sqlite")
	v.SetDefault("cache.path", "data/cache/responses.db")

	v.SetDefault("checkpoint.dir", "data/checkpoints")
	v.SetDefault("checkpoint.interval", 100)

	v.SetDefault("sources.irs_bmf.enabled", true)
	v.SetDefault("sources.irs_bmf.base_url", "https://www.irs.gov/pub/irs-soi")
	v.SetDefault("sources.irs_bmf.interval", time.Second)
	v.SetDefault("sources.irs_bmf.max_retries", 0)
	v.SetDefault("sources.irs_bmf.files", []string{"eo1.csv", "eo2.csv", "eo3.csv", "eo4.csv"})
	v.SetDefault("sources.irs_bmf.raw_dir", "data/raw/irs_bmf")

	v.SetDefault("sources.propublica.enabled", true)
	v.SetDefault("sources.propublica.base_url", "https://projects.propublica.org/nonprofits/api/v2")
	v.SetDefault("sources.propublica.interval", 500*time.Millisecond)
	v.SetDefault("sources.propublica.max_retries", 0)

	v.SetDefault("sources.charity_nav.enabled", true)
	v.SetDefault("sources.charity_nav.base_url", "https://api.charitynavigator.org/graphql")
	v.SetDefault("sources.charity_nav.api_key", "")
	v.SetDefault("sources.charity_nav.interval", time.Second)
	v.SetDefault("sources.charity_nav.max_retries", 0)

	v.SetDefault("sources.va_facilities.enabled", true)
	v.SetDefault("sources.va_facilities.base_url", "https://api.va.gov/services/va_facilities/v1/facilities")
	v.SetDefault("sources.va_facilities.api_key", "")
	v.SetDefault("sources.va_facilities.interval", 200*time.Millisecond)
	v.SetDefault("sources.va_facilities.max_retries", 0)
	v.SetDefault("sources.va_facilities.types", []string{"health", "benefits", "cemetery", "vet_center"})
	v.SetDefault("sources.va_facilities.per_page", 200)

	v.SetDefault("sources.nodc.enabled", true)
	v.SetDefault("sources.nodc.interval", 500*time.Millisecond)
	v.SetDefault("sources.nodc.max_retries", 0)
	v.SetDefault("sources.nodc.urls", []string{
		"https://raw.githubusercontent.com/Nonprofit-Open-Data-Collective/irs-exempt-org-business-master-file/master/data/bmf-master.csv",
		"https://raw.githubusercontent.com/Nonprofit-Open-Data-Collective/irs-exempt-org-business-master-file/master/bmf-master.csv",
		"https://raw.githubusercontent.com/Nonprofit-Open-Data-Collective/irs-efile-master-concordance-file/master/990_master.csv",
	})
	v.SetDefault("sources.nodc.raw_dir", "data/raw/nodc")

	v.SetDefault("sources.va_vso.enabled", true)
	v.SetDefault("sources.va_vso.base_url", "https://www.va.gov/ogc/apps/accreditation/orgsexcellist.asp")
	v.SetDefault("sources.va_vso.interval", 2*time.Second)
	v.SetDefault("sources.va_vso.max_retries", 0)

	v.SetDefault("sources.nrd.enabled", true)
	v.SetDefault("sources.nrd.base_url", "https://www.nrd.gov")
	v.SetDefault("sources.nrd.interval", 2*time.Second)
	v.SetDefault("sources.nrd.max_retries", 0)

	v.SetDefault("merge.priority", []string{"irs_bmf", "propublica", "charity_nav", "va_facilities", "va_vso", "nodc", "nrd"})

	v.SetDefault("dedup.threshold", 88.0)
	v.SetDefault("dedup.max_block_size", 500)
	v.SetDefault("dedup.audit_margin", 3.0)
	v.SetDefault("dedup.workers", 4)
	v.SetDefault("dedup.keep_alternates", false)

	v.SetDefault("output.dir", "output")
	v.SetDefault("output.name", "veteran_org_directory")
	v.SetDefault("output.xlsx", false)

	v.SetDefault("postgres.database_url", "")
	v.SetDefault("postgres.table", "organizations")

	v.SetDefault("store.path", "data/runs.db")

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})

	v.SetDefault("monitoring.enabled", false)
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("monitoring.failure_rate_threshold", 0.25)
	v.SetDefault("monitoring.record_drop_threshold", 0.20)
	v.SetDefault("monitoring.lookback_window_hours", 168)
	v.SetDefault("monitoring.check_interval_secs", 3600)
}

// Validate checks the settings the given mode depends on. Modes are "run"
// and "serve".
func (c *Config) Validate(mode string) error {
	var errs []string
	switch mode {
	case "run":
		if c.Checkpoint.Dir == "" {
			errs = append(errs, "checkpoint.dir is required")
		}
		if len(c.Merge.Priority) == 0 {
			errs = append(errs, "merge.priority must list at least one source")
		}
		if c.Dedup.Threshold <= 0 || c.Dedup.Threshold > 100 {
			errs = append(errs, fmt.Sprintf("dedup.threshold must be in (0, 100], got %v", c.Dedup.Threshold))
		}
		if c.Dedup.MaxBlockSize < 2 {
			errs = append(errs, "dedup.max_block_size must be >= 2")
		}
		if c.Output.Dir == "" {
			errs = append(errs, "output.dir is required")
		}
	case "serve":
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
		if c.Monitoring.Enabled && c.Monitoring.LookbackWindowHours <= 0 {
			errs = append(errs, "monitoring.lookback_window_hours must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if d := c.Cache.Driver; c.Cache.Enabled && d != "sqlite" && d != "badger" {
		errs = append(errs, fmt.Sprintf("cache.driver must be sqlite or badger, got %q", d))
	}
	if c.HTTP.MaxRetries < 0 {
		errs = append(errs, "http.max_retries must be >= 0")
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
