package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	ProjectID string `yaml:"project_id" mapstructure:"project_id"`
	// Definition is the path of the group definition document.
	Definition string `yaml:"definition" mapstructure:"definition"`
	// OnlyGroup restricts a run to one named group when set.
	OnlyGroup string          `yaml:"only_group" mapstructure:"only_group"`
	Fetch     FetchConfig     `yaml:"fetch" mapstructure:"fetch"`
	Staging   StagingConfig   `yaml:"staging" mapstructure:"staging"`
	Warehouse WarehouseConfig `yaml:"warehouse" mapstructure:"warehouse"`
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
	Alert     AlertConfig     `yaml:"alert" mapstructure:"alert"`
	Metrics   MetricsConfig   `yaml:"metrics" mapstructure:"metrics"`
}

// FetchConfig configures source retrieval, retries, and the request budget.
type FetchConfig struct {
	MaxConcurrency     int      `yaml:"max_concurrency" mapstructure:"max_concurrency"`
	RequestsPerMinute  int      `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
	MaxAttempts        int      `yaml:"max_attempts" mapstructure:"max_attempts"`
	BaseBackoffMs      int      `yaml:"base_backoff_ms" mapstructure:"base_backoff_ms"`
	MaxBackoffMs       int      `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	JitterMs           int      `yaml:"jitter_ms" mapstructure:"jitter_ms"`
	RequestTimeoutSecs int      `yaml:"request_timeout_secs" mapstructure:"request_timeout_secs"`
	CredentialsFile    string   `yaml:"credentials_file" mapstructure:"credentials_file"`
	ExportBaseURL      string   `yaml:"export_base_url" mapstructure:"export_base_url"`
	SheetsEndpoint     string   `yaml:"sheets_endpoint" mapstructure:"sheets_endpoint"`
	NullTokens         []string `yaml:"null_tokens" mapstructure:"null_tokens"`
}

// StagingConfig configures the object store used for staged load files.
type StagingConfig struct {
	Driver string `yaml:"driver" mapstructure:"driver"`
	Bucket string `yaml:"bucket" mapstructure:"bucket"`
	Dir    string `yaml:"dir" mapstructure:"dir"`
	Prefix string `yaml:"prefix" mapstructure:"prefix"`
}

// WarehouseConfig configures the destination warehouse.
type WarehouseConfig struct {
	Driver           string `yaml:"driver" mapstructure:"driver"`
	Location         string `yaml:"location" mapstructure:"location"`
	LoadTimeoutSecs  int    `yaml:"load_timeout_secs" mapstructure:"load_timeout_secs"`
	DatabaseURL      string `yaml:"database_url" mapstructure:"database_url"`
	DuckDBPath       string `yaml:"duckdb_path" mapstructure:"duckdb_path"`
	BreakerThreshold int    `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
}

// StoreConfig configures the run log backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// ServerConfig configures the trigger server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
	// AllowedOrigins enables CORS for the listed origins. Empty disables it.
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// AlertConfig configures failure alerts. Run alerts fire after every run
// with failed units; the failure-rate check needs a run log.
type AlertConfig struct {
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
}

// DefaultNullTokens are cell values treated as absent.
var DefaultNullTokens = []string{
	"#N/A", "#REF!", "#VALUE!", "#DIV/0!", "#NAME?", "#NUM!", "#NULL!", "#ERROR!",
	"Loading...", "nan", "None",
}

// Load reads configuration from file and environment. An empty path searches
// the working directory for config.yaml.
func Load(path string) (*Config, error) {
	v := viper.New()

	// Config file
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	// Environment
	v.SetEnvPrefix("SHEETSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("project_id", "")
	v.SetDefault("definition", "groups.yaml")
	v.SetDefault("only_group", "")
	v.SetDefault("fetch.max_concurrency", 10)
	v.SetDefault("fetch.requests_per_minute", 60)
	v.SetDefault("fetch.max_attempts", 5)
	v.SetDefault("fetch.base_backoff_ms", 1000)
	v.SetDefault("fetch.max_backoff_ms", 32000)
	v.SetDefault("fetch.jitter_ms", 1000)
	v.SetDefault("fetch.request_timeout_secs", 30)
	v.SetDefault("fetch.credentials_file", "")
	v.SetDefault("fetch.export_base_url", "https://docs.google.com/spreadsheets/d")
	v.SetDefault("fetch.sheets_endpoint", "")
	v.SetDefault("fetch.null_tokens", DefaultNullTokens)
	v.SetDefault("staging.driver", "gcs")
	v.SetDefault("staging.bucket", "")
	v.SetDefault("staging.dir", "/tmp/sheetsync")
	v.SetDefault("staging.prefix", "staging")
	v.SetDefault("warehouse.driver", "bigquery")
	v.SetDefault("warehouse.location", "europe-west3")
	v.SetDefault("warehouse.load_timeout_secs", 600)
	v.SetDefault("warehouse.database_url", "")
	v.SetDefault("warehouse.duckdb_path", "sheetsync.duckdb")
	v.SetDefault("warehouse.breaker_threshold", 3)
	v.SetDefault("store.driver", "none")
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.max_conns", 5)
	v.SetDefault("store.min_conns", 1)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("alert.webhook_url", "")
	v.SetDefault("alert.failure_rate_threshold", 0.5)
	v.SetDefault("alert.check_interval_secs", 300)
	v.SetDefault("alert.lookback_window_hours", 24)
	v.SetDefault("metrics.enabled", true)

	// Read config file (optional unless a path was given)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings needed by the given mode ("run" or "serve").
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "run", "serve":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if c.Definition == "" {
		errs = append(errs, "definition is required")
	}

	if c.Fetch.MaxConcurrency < 1 || c.Fetch.MaxConcurrency > 100 {
		errs = append(errs, "fetch.max_concurrency must be between 1 and 100")
	}
	if c.Fetch.RequestsPerMinute < 1 {
		errs = append(errs, "fetch.requests_per_minute must be > 0")
	}
	if c.Fetch.MaxAttempts < 1 {
		errs = append(errs, "fetch.max_attempts must be > 0")
	}

	switch c.Staging.Driver {
	case "gcs":
		if c.Staging.Bucket == "" {
			errs = append(errs, "staging.bucket is required for the gcs driver")
		}
	case "local":
		if c.Staging.Dir == "" {
			errs = append(errs, "staging.dir is required for the local driver")
		}
	default:
		errs = append(errs, "staging.driver must be gcs or local")
	}

	switch c.Warehouse.Driver {
	case "bigquery":
		if c.ProjectID == "" {
			errs = append(errs, "project_id is required for the bigquery warehouse")
		}
		if c.Staging.Driver != "gcs" {
			errs = append(errs, "the bigquery warehouse requires gcs staging")
		}
	case "postgres":
		if c.Warehouse.DatabaseURL == "" {
			errs = append(errs, "warehouse.database_url is required for the postgres warehouse")
		}
	case "duckdb":
		if c.Warehouse.DuckDBPath == "" {
			errs = append(errs, "warehouse.duckdb_path is required for the duckdb warehouse")
		}
		if c.Staging.Driver != "local" {
			errs = append(errs, "the duckdb warehouse requires local staging")
		}
	default:
		errs = append(errs, "warehouse.driver must be bigquery, postgres, or duckdb")
	}
	if c.Warehouse.LoadTimeoutSecs < 1 {
		errs = append(errs, "warehouse.load_timeout_secs must be > 0")
	}

	switch c.Store.Driver {
	case "none":
	case "postgres", "sqlite":
		if c.StoreURL() == "" {
			errs = append(errs, "store.database_url is required for the "+c.Store.Driver+" run log")
		}
	default:
		errs = append(errs, "store.driver must be none, postgres, or sqlite")
	}

	if mode == "serve" && c.Server.Port <= 0 {
		errs = append(errs, "server.port must be > 0")
	}

	if len(errs) > 0 {
		return eris.New("config: " + strings.Join(errs, "; "))
	}
	return nil
}

// StoreURL returns the run log DSN, falling back to the postgres warehouse DSN.
func (c *Config) StoreURL() string {
	if c.Store.DatabaseURL != "" {
		return c.Store.DatabaseURL
	}
	if c.Store.Driver == "postgres" {
		return c.Warehouse.DatabaseURL
	}
	return ""
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
