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
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Report    ReportConfig    `yaml:"report" mapstructure:"report"`
	Agent     AgentConfig     `yaml:"agent" mapstructure:"agent"`
	Fraud     FraudConfig     `yaml:"fraud" mapstructure:"fraud"`
}

// StoreConfig selects the database. Driver is "sqlite" or "postgres".
type StoreConfig struct {
	Driver string `yaml:"driver" mapstructure:"driver"`
	DSN    string `yaml:"dsn" mapstructure:"dsn"`
}

type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// AnthropicConfig configures the report model. An empty key disables it.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
	BaseURL   string `yaml:"base_url" mapstructure:"base_url"`
}

// ReportConfig tunes model retries and guarding.
type ReportConfig struct {
	MaxAttempts         int    `yaml:"max_attempts" mapstructure:"max_attempts"`
	BackoffMs           int    `yaml:"backoff_ms" mapstructure:"backoff_ms"`
	MinIntervalMs       int    `yaml:"min_interval_ms" mapstructure:"min_interval_ms"`
	BreakerFailures     uint32 `yaml:"breaker_failures" mapstructure:"breaker_failures"`
	BreakerCooldownSecs int    `yaml:"breaker_cooldown_secs" mapstructure:"breaker_cooldown_secs"`
}

func (r ReportConfig) Backoff() time.Duration {
	return time.Duration(r.BackoffMs) * time.Millisecond
}

func (r ReportConfig) MinInterval() time.Duration {
	return time.Duration(r.MinIntervalMs) * time.Millisecond
}

func (r ReportConfig) BreakerCooldown() time.Duration {
	return time.Duration(r.BreakerCooldownSecs) * time.Second
}

// AgentConfig controls the periodic scheduler. A zero interval disables it.
type AgentConfig struct {
	IntervalSecs int `yaml:"interval_secs" mapstructure:"interval_secs"`
}

func (a AgentConfig) Interval() time.Duration {
	return time.Duration(a.IntervalSecs) * time.Second
}

type FraudConfig struct {
	Workers int `yaml:"workers" mapstructure:"workers"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("RECON")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.dsn", "reconagent.db")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("anthropic.key", "")
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 800)
	v.SetDefault("anthropic.base_url", "")
	v.SetDefault("report.max_attempts", 5)
	v.SetDefault("report.backoff_ms", 2000)
	v.SetDefault("report.min_interval_ms", 0)
	v.SetDefault("report.breaker_failures", 5)
	v.SetDefault("report.breaker_cooldown_secs", 60)
	v.SetDefault("agent.interval_secs", 0)
	v.SetDefault("fraud.workers", 8)

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

// Validate checks settings the rest of the program assumes.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		return eris.Errorf("config: store.driver must be sqlite or postgres, got %q", c.Store.Driver)
	}
	if c.Store.DSN == "" {
		return eris.New("config: store.dsn is required")
	}
	if c.Report.MaxAttempts < 1 {
		return eris.Errorf("config: report.max_attempts must be at least 1, got %d", c.Report.MaxAttempts)
	}
	if c.Report.BackoffMs < 0 || c.Report.MinIntervalMs < 0 {
		return eris.New("config: report delays must not be negative")
	}
	if c.Fraud.Workers < 1 {
		return eris.Errorf("config: fraud.workers must be at least 1, got %d", c.Fraud.Workers)
	}
	if c.Agent.IntervalSecs < 0 {
		return eris.New("config: agent.interval_secs must not be negative")
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
