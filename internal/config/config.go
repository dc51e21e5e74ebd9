// Package config loads application configuration from file and
// environment and initializes the global logger.
package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	CRM    CRMConfig    `yaml:"crm" mapstructure:"crm"`
	Ledger LedgerConfig `yaml:"ledger" mapstructure:"ledger"`
	Ops    OpsConfig    `yaml:"ops" mapstructure:"ops"`
	Server ServerConfig `yaml:"server" mapstructure:"server"`
	Log    LogConfig    `yaml:"log" mapstructure:"log"`
}

// CRMConfig holds the CRM webhook endpoint and the custom-field
// bindings the merge keys on.
type CRMConfig struct {
	WebhookURL      string   `yaml:"webhook_url" mapstructure:"webhook_url"`
	RequestsPerSec  float64  `yaml:"requests_per_sec" mapstructure:"requests_per_sec"`
	TimeoutSecs     int      `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	CodeField       string   `yaml:"code_field" mapstructure:"code_field"`
	SegmentField    string   `yaml:"segment_field" mapstructure:"segment_field"`
	CoordField      string   `yaml:"coord_field" mapstructure:"coord_field"`
	ExcludeField    string   `yaml:"exclude_field" mapstructure:"exclude_field"`
	ExcludeCodes    []string `yaml:"exclude_codes" mapstructure:"exclude_codes"`
	Fields          []string `yaml:"fields" mapstructure:"fields"`
	CacheTTLMinutes int      `yaml:"cache_ttl_minutes" mapstructure:"cache_ttl_minutes"`
}

// LedgerConfig configures the ERP database connection.
type LedgerConfig struct {
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	ChunkSize   int    `yaml:"chunk_size" mapstructure:"chunk_size"`
	Concurrency int    `yaml:"concurrency" mapstructure:"concurrency"`
}

// OpsConfig configures the operational store backend.
type OpsConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("CLIENT360")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("crm.requests_per_sec", 2)
	v.SetDefault("crm.timeout_secs", 30)
	v.SetDefault("crm.code_field", "UF_CRM_1634787828")
	v.SetDefault("crm.segment_field", "UF_CRM_1635903069")
	v.SetDefault("crm.coord_field", "UF_CRM_1651251237102")
	v.SetDefault("crm.exclude_field", "UF_CRM_1638457710")
	v.SetDefault("crm.exclude_codes", []string{"921", "3135"})
	v.SetDefault("crm.cache_ttl_minutes", 5)
	v.SetDefault("ledger.max_conns", 10)
	v.SetDefault("ledger.chunk_size", 900)
	v.SetDefault("ledger.concurrency", 3)
	v.SetDefault("ops.driver", "sqlite")
	v.SetDefault("ops.database_url", "client360.db")
	v.SetDefault("ops.max_conns", 5)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

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

// Validate checks the fields a given run mode needs. Modes are
// "serve", "migrate" and "snapshot".
func (c *Config) Validate(mode string) error {
	var missing []string

	check := func(val, name string) {
		if val == "" {
			missing = append(missing, name+" is required")
		}
	}

	switch mode {
	case "serve", "snapshot":
		check(c.CRM.WebhookURL, "crm.webhook_url")
		check(c.CRM.CodeField, "crm.code_field")
		if mode == "serve" && c.Server.Port <= 0 {
			missing = append(missing, "server.port must be > 0")
		}
	case "migrate":
		check(c.Ops.DatabaseURL, "ops.database_url")
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	switch c.Ops.Driver {
	case "postgres", "sqlite", "":
	default:
		missing = append(missing, "ops.driver must be postgres or sqlite")
	}

	if c.Ledger.ChunkSize <= 0 {
		missing = append(missing, "ledger.chunk_size must be > 0")
	}
	if c.Ledger.Concurrency <= 0 {
		missing = append(missing, "ledger.concurrency must be > 0")
	}

	if len(missing) > 0 {
		return eris.New("config: " + strings.Join(missing, "; "))
	}
	return nil
}

// CacheTTL returns the catalog cache lifetime.
func (c *CRMConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLMinutes) * time.Minute
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
