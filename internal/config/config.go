// Package config loads application configuration from an optional
// config.yaml plus KOSH_-prefixed environment variables, and initializes
// the global zap logger.
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
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	OCR        OCRConfig        `yaml:"ocr" mapstructure:"ocr"`
	Asset      AssetConfig      `yaml:"asset" mapstructure:"asset"`
	Pipeline   PipelineConfig   `yaml:"pipeline" mapstructure:"pipeline"`
	Retry      RetryConfig      `yaml:"retry" mapstructure:"retry"`
	Breaker    BreakerConfig    `yaml:"breaker" mapstructure:"breaker"`
	Catalog    CatalogConfig    `yaml:"catalog" mapstructure:"catalog"`
	Recommend  RecommendConfig  `yaml:"recommend" mapstructure:"recommend"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// OCRConfig selects and configures the OCR provider.
type OCRConfig struct {
	Provider    string `yaml:"provider" mapstructure:"provider"`
	BaseURL     string `yaml:"base_url" mapstructure:"base_url"`
	APIKey      string `yaml:"api_key" mapstructure:"api_key"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// AssetConfig configures the invoice artifact fetcher.
type AssetConfig struct {
	BaseURL     string  `yaml:"base_url" mapstructure:"base_url"`
	UserAgent   string  `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxBytes    int64   `yaml:"max_bytes" mapstructure:"max_bytes"`
	RatePerSec  float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	Burst       int     `yaml:"burst" mapstructure:"burst"`
}

// PipelineConfig configures the worker pool pulling from the task queue.
type PipelineConfig struct {
	Workers          int `yaml:"workers" mapstructure:"workers"`
	PollIntervalSecs int `yaml:"poll_interval_secs" mapstructure:"poll_interval_secs"`
	ClaimTTLSecs     int `yaml:"claim_ttl_secs" mapstructure:"claim_ttl_secs"`
}

// RetryConfig configures task retry scheduling.
type RetryConfig struct {
	MaxAttempts        int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffSecs int     `yaml:"initial_backoff_secs" mapstructure:"initial_backoff_secs"`
	MaxBackoffSecs     int     `yaml:"max_backoff_secs" mapstructure:"max_backoff_secs"`
	Multiplier         float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction     float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// BreakerConfig configures the per-dependency circuit breakers.
type BreakerConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	CoolDownSecs     int `yaml:"cool_down_secs" mapstructure:"cool_down_secs"`
}

// CatalogConfig configures product matching and categorization.
type CatalogConfig struct {
	SimilarityThreshold float64 `yaml:"similarity_threshold" mapstructure:"similarity_threshold"`
	KeywordFile         string  `yaml:"keyword_file" mapstructure:"keyword_file"`
}

// RecommendConfig configures recommendation generation.
type RecommendConfig struct {
	MinMargin float64 `yaml:"min_margin" mapstructure:"min_margin"`
}

// MonitoringConfig configures the metrics collector and alert checker.
type MonitoringConfig struct {
	FailureRateThreshold   float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	ReviewBacklogThreshold int     `yaml:"review_backlog_threshold" mapstructure:"review_backlog_threshold"`
	DLQDepthThreshold      int     `yaml:"dlq_depth_threshold" mapstructure:"dlq_depth_threshold"`
	CheckIntervalSecs      int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
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
	v.SetEnvPrefix("KOSH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "kosh.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("ocr.provider", "vision")
	v.SetDefault("ocr.timeout_secs", 60)
	v.SetDefault("asset.user_agent", "kosh-invoice-pipeline/1.0")
	v.SetDefault("asset.timeout_secs", 30)
	v.SetDefault("asset.max_bytes", 25<<20)
	v.SetDefault("asset.rate_per_sec", 20)
	v.SetDefault("asset.burst", 20)
	v.SetDefault("pipeline.workers", 4)
	v.SetDefault("pipeline.poll_interval_secs", 2)
	v.SetDefault("pipeline.claim_ttl_secs", 600)
	v.SetDefault("retry.max_attempts", 4)
	v.SetDefault("retry.initial_backoff_secs", 30)
	v.SetDefault("retry.max_backoff_secs", 600)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("retry.jitter_fraction", 0.25)
	v.SetDefault("breaker.failure_threshold", 5)
	v.SetDefault("breaker.cool_down_secs", 60)
	v.SetDefault("catalog.similarity_threshold", 0.85)
	v.SetDefault("recommend.min_margin", 0.05)
	v.SetDefault("monitoring.failure_rate_threshold", 0.25)
	v.SetDefault("monitoring.review_backlog_threshold", 50)
	v.SetDefault("monitoring.dlq_depth_threshold", 10)
	v.SetDefault("monitoring.check_interval_secs", 300)

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
