// Package config loads application configuration from file and environment
// and initializes the global logger.
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
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	GitHub   GitHubConfig   `yaml:"github" mapstructure:"github"`
	Fetch    FetchConfig    `yaml:"fetch" mapstructure:"fetch"`
	Schedule ScheduleConfig `yaml:"schedule" mapstructure:"schedule"`
	Classify ClassifyConfig `yaml:"classify" mapstructure:"classify"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// GitHubConfig holds repository-provider API settings. Token is optional;
// unauthenticated calls run under the provider's lower rate limit.
type GitHubConfig struct {
	Token   string `yaml:"token" mapstructure:"token"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// FetchConfig configures URL resolution and content fetching.
type FetchConfig struct {
	Timeout         time.Duration `yaml:"timeout" mapstructure:"timeout"`
	MaxRedirects    int           `yaml:"max_redirects" mapstructure:"max_redirects"`
	MaxContentBytes int64         `yaml:"max_content_bytes" mapstructure:"max_content_bytes"`
	UserAgent       string        `yaml:"user_agent" mapstructure:"user_agent"`
}

// ScheduleConfig configures the periodic enrichment runs.
type ScheduleConfig struct {
	UpdateInterval        time.Duration `yaml:"update_interval" mapstructure:"update_interval"`
	JitterPercent         int           `yaml:"jitter_percent" mapstructure:"jitter_percent"`
	BatchSize             int           `yaml:"batch_size" mapstructure:"batch_size"`
	Concurrency           int           `yaml:"concurrency" mapstructure:"concurrency"`
	InaccessibleThreshold int           `yaml:"inaccessible_threshold" mapstructure:"inaccessible_threshold"`
	ShutdownGrace         time.Duration `yaml:"shutdown_grace" mapstructure:"shutdown_grace"`
}

// ClassifyConfig configures link classification.
type ClassifyConfig struct {
	RulesPath string `yaml:"rules_path" mapstructure:"rules_path"`
}

// ServerConfig configures the debug/health HTTP server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from config.yaml (optional) and the environment.
// Keys resolve as LINKLOFT_<SECTION>_<KEY>; the short forms UPDATE_INTERVAL,
// JITTER_PERCENT, BATCH_SIZE, REPO_API_TOKEN, FETCH_TIMEOUT, MAX_REDIRECTS
// and MAX_CONTENT_BYTES are accepted as aliases.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("LINKLOFT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Short env aliases.
	for key, envs := range map[string][]string{
		"schedule.update_interval": {"LINKLOFT_SCHEDULE_UPDATE_INTERVAL", "UPDATE_INTERVAL"},
		"schedule.jitter_percent":  {"LINKLOFT_SCHEDULE_JITTER_PERCENT", "JITTER_PERCENT"},
		"schedule.batch_size":      {"LINKLOFT_SCHEDULE_BATCH_SIZE", "BATCH_SIZE"},
		"github.token":             {"LINKLOFT_GITHUB_TOKEN", "REPO_API_TOKEN"},
		"fetch.timeout":            {"LINKLOFT_FETCH_TIMEOUT", "FETCH_TIMEOUT"},
		"fetch.max_redirects":      {"LINKLOFT_FETCH_MAX_REDIRECTS", "MAX_REDIRECTS"},
		"fetch.max_content_bytes":  {"LINKLOFT_FETCH_MAX_CONTENT_BYTES", "MAX_CONTENT_BYTES"},
	} {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return nil, eris.Wrapf(err, "config: bind env %s", key)
		}
	}

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "linkloft.db")
	v.SetDefault("github.base_url", "https://api.github.com")
	v.SetDefault("fetch.timeout", "20s")
	v.SetDefault("fetch.max_redirects", 10)
	v.SetDefault("fetch.max_content_bytes", 5*1024*1024)
	v.SetDefault("fetch.user_agent", "linkloft/1.0 (+https://github.com/linkloft/linkloft)")
	v.SetDefault("schedule.update_interval", "24h")
	v.SetDefault("schedule.jitter_percent", 20)
	v.SetDefault("schedule.batch_size", 50)
	v.SetDefault("schedule.concurrency", 4)
	v.SetDefault("schedule.inaccessible_threshold", 5)
	v.SetDefault("schedule.shutdown_grace", "30s")
	v.SetDefault("server.port", 8080)
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

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks configuration invariants that would otherwise surface as
// confusing runtime behavior.
func (c *Config) Validate() error {
	if c.Schedule.UpdateInterval <= 0 {
		return eris.New("config: schedule.update_interval must be positive")
	}
	if c.Schedule.JitterPercent < 0 || c.Schedule.JitterPercent > 100 {
		return eris.New("config: schedule.jitter_percent must be in [0,100]")
	}
	if c.Schedule.BatchSize <= 0 {
		return eris.New("config: schedule.batch_size must be positive")
	}
	if c.Schedule.Concurrency <= 0 {
		return eris.New("config: schedule.concurrency must be positive")
	}
	if c.Fetch.MaxRedirects < 0 {
		return eris.New("config: fetch.max_redirects must not be negative")
	}
	if c.Fetch.MaxContentBytes <= 0 {
		return eris.New("config: fetch.max_content_bytes must be positive")
	}
	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		return eris.Errorf("config: unknown store driver %q", c.Store.Driver)
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
