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
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Scoring   ScoringConfig   `yaml:"scoring" mapstructure:"scoring"`
	Dedup     DedupConfig     `yaml:"dedup" mapstructure:"dedup"`
	Retrieval RetrievalConfig `yaml:"retrieval" mapstructure:"retrieval"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int    `yaml:"max_conns" mapstructure:"max_conns"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key                string  `yaml:"key" mapstructure:"key"`
	HaikuModel         string  `yaml:"haiku_model" mapstructure:"haiku_model"`
	SonnetModel        string  `yaml:"sonnet_model" mapstructure:"sonnet_model"`
	RequestsPerMinute  float64 `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
	MaxTokens          int     `yaml:"max_tokens" mapstructure:"max_tokens"`
	TimeoutSecs        int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries         int     `yaml:"max_retries" mapstructure:"max_retries"`
	GenerationFallback bool    `yaml:"generation_fallback" mapstructure:"generation_fallback"`
}

// ScoringConfig configures the pruning-candidate gather run.
type ScoringConfig struct {
	SettingsPath string `yaml:"settings_path" mapstructure:"settings_path"`
}

// DedupConfig configures duplicate detection runs.
type DedupConfig struct {
	BatchSize    int `yaml:"batch_size" mapstructure:"batch_size"`
	KeepRuns     int `yaml:"keep_runs" mapstructure:"keep_runs"`
	MaxBatchErrs int `yaml:"max_batch_errors" mapstructure:"max_batch_errors"`
}

// RetrievalConfig configures the question selection cascade.
type RetrievalConfig struct {
	SimilarityTopK int `yaml:"similarity_top_k" mapstructure:"similarity_top_k"`
	RandomPoolSize int `yaml:"random_pool_size" mapstructure:"random_pool_size"`
}

// ServerConfig configures the admin HTTP server.
type ServerConfig struct {
	Port       int    `yaml:"port" mapstructure:"port"`
	AdminToken string `yaml:"admin_token" mapstructure:"admin_token"`
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
	v.SetEnvPrefix("CURATOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("anthropic.haiku_model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.sonnet_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.requests_per_minute", 50)
	v.SetDefault("anthropic.max_tokens", 4096)
	v.SetDefault("anthropic.timeout_secs", 120)
	v.SetDefault("anthropic.max_retries", 3)
	v.SetDefault("anthropic.generation_fallback", true)
	v.SetDefault("dedup.batch_size", 50)
	v.SetDefault("dedup.keep_runs", 10)
	v.SetDefault("dedup.max_batch_errors", 0)
	v.SetDefault("retrieval.similarity_top_k", 100)
	v.SetDefault("retrieval.random_pool_size", 25)

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

// Validate checks that the configuration is complete for the given run
// mode. Modes map to CLI commands: gather, dedup, select, serve, migrate.
func (c *Config) Validate(mode string) error {
	var problems []string

	needDB := func() {
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required")
		}
		if c.Store.Driver != "postgres" && c.Store.Driver != "sqlite" {
			problems = append(problems, "store.driver must be postgres or sqlite")
		}
	}
	needAnthropic := func() {
		if c.Anthropic.Key == "" {
			problems = append(problems, "anthropic.key is required")
		}
	}

	switch mode {
	case "gather", "migrate", "jobs", "review":
		needDB()
	case "dedup":
		needDB()
		needAnthropic()
		if c.Dedup.BatchSize < 1 || c.Dedup.BatchSize > 200 {
			problems = append(problems, "dedup.batch_size must be between 1 and 200")
		}
	case "select":
		needDB()
		if c.Anthropic.GenerationFallback {
			needAnthropic()
		}
		if c.Retrieval.SimilarityTopK < 1 {
			problems = append(problems, "retrieval.similarity_top_k must be >= 1")
		}
	case "serve":
		needDB()
		needAnthropic()
		if c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.Errorf("config: invalid for %s mode: %s", mode, strings.Join(problems, "; "))
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
