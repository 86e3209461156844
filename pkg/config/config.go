// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Server, Postgres, Kafka, Redis, Fuzzy, Analyzer, Vocabulary, etc.).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Postgres   PostgresConfig   `yaml:"postgres"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	Redis      RedisConfig      `yaml:"redis"`
	Fuzzy      FuzzyConfig      `yaml:"fuzzy"`
	Analyzer   AnalyzerConfig   `yaml:"analyzer"`
	Vocabulary VocabularyConfig `yaml:"vocabulary"`
	Match      MatchConfig      `yaml:"match"`
	Analytics  AnalyticsConfig  `yaml:"analytics"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings. RateLimit is the number of API
// requests one client may make per RateWindow; zero disables limiting.
// Requests slower than TraceThreshold have their span tree logged; zero
// disables tracing.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	RateLimit       int           `yaml:"rateLimit"`
	RateWindow      time.Duration `yaml:"rateWindow"`
	CORSOrigins     []string      `yaml:"corsOrigins"`
	TraceThreshold  time.Duration `yaml:"traceThreshold"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Enabled       bool        `yaml:"enabled"`
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	Vocabulary      string `yaml:"vocabulary"`
	AnalyticsEvents string `yaml:"analyticsEvents"`
}

// RedisConfig holds Redis connection and caching parameters.
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// FuzzyConfig controls the gram index and scoring of the fuzzy set.
type FuzzyConfig struct {
	UseLevenshtein bool    `yaml:"useLevenshtein"`
	GramSizeLower  int     `yaml:"gramSizeLower"`
	GramSizeUpper  int     `yaml:"gramSizeUpper"`
	MinMatchScore  float64 `yaml:"minMatchScore"`
}

// AnalyzerConfig controls query preparation before matching.
type AnalyzerConfig struct {
	Enabled   bool     `yaml:"enabled"`
	StopWords []string `yaml:"stopWords"`
}

// VocabularyConfig names the sources the index is filled from at startup.
type VocabularyConfig struct {
	File        string        `yaml:"file"`
	Table       string        `yaml:"table"`
	LoadTimeout time.Duration `yaml:"loadTimeout"`
}

// MatchConfig bounds match responses.
type MatchConfig struct {
	DefaultLimit int `yaml:"defaultLimit"`
	MaxResults   int `yaml:"maxResults"`
}

// AnalyticsConfig controls match event batching and snapshot persistence.
type AnalyticsConfig struct {
	BufferSize       int           `yaml:"bufferSize"`
	BatchSize        int           `yaml:"batchSize"`
	FlushInterval    time.Duration `yaml:"flushInterval"`
	SnapshotInterval time.Duration `yaml:"snapshotInterval"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. Missing values keep their defaults.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the matcher cannot run with.
func (c *Config) Validate() error {
	f := c.Fuzzy
	if f.GramSizeLower < 1 || f.GramSizeUpper < f.GramSizeLower {
		return fmt.Errorf("invalid fuzzy gram sizes: lower=%d upper=%d", f.GramSizeLower, f.GramSizeUpper)
	}
	if f.MinMatchScore < 0 || f.MinMatchScore > 1 {
		return fmt.Errorf("fuzzy minMatchScore must be within [0,1], got %v", f.MinMatchScore)
	}
	if c.Server.RateLimit < 0 {
		return fmt.Errorf("server rateLimit must not be negative")
	}
	if c.Match.DefaultLimit < 0 || c.Match.MaxResults < 0 {
		return fmt.Errorf("match limits must not be negative")
	}
	return nil
}

// defaultConfig returns a Config with defaults suitable for local development.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			RateWindow:      time.Minute,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "fuzzyset",
			User:            "fuzzyset",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "fuzzyset-matcher",
			Topics: KafkaTopics{
				Vocabulary:      "vocabulary",
				AnalyticsEvents: "match-analytics",
			},
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
			CacheTTL: 60 * time.Second,
		},
		Fuzzy: FuzzyConfig{
			UseLevenshtein: true,
			GramSizeLower:  2,
			GramSizeUpper:  3,
			MinMatchScore:  0.33,
		},
		Analyzer: AnalyzerConfig{
			Enabled:   true,
			StopWords: []string{"of", "the", "a", "an", "any", "is", "can", "who", "what", "why", "whom", "does", "in"},
		},
		Vocabulary: VocabularyConfig{
			Table:       "vocabulary",
			LoadTimeout: 30 * time.Second,
		},
		Match: MatchConfig{
			DefaultLimit: 10,
			MaxResults:   50,
		},
		Analytics: AnalyticsConfig{
			BufferSize:       10000,
			BatchSize:        100,
			FlushInterval:    time.Second,
			SnapshotInterval: time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// applyEnvOverrides reads FZ_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FZ_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("FZ_SERVER_RATE_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.RateLimit = n
		}
	}
	if v := os.Getenv("FZ_POSTGRES_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Postgres.Enabled = b
		}
	}
	if v := os.Getenv("FZ_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("FZ_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("FZ_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("FZ_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("FZ_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("FZ_KAFKA_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Kafka.Enabled = b
		}
	}
	if v := os.Getenv("FZ_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("FZ_REDIS_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Redis.Enabled = b
		}
	}
	if v := os.Getenv("FZ_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("FZ_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("FZ_FUZZY_USE_LEVENSHTEIN"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Fuzzy.UseLevenshtein = b
		}
	}
	if v := os.Getenv("FZ_FUZZY_MIN_MATCH_SCORE"); v != "" {
		if score, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Fuzzy.MinMatchScore = score
		}
	}
	if v := os.Getenv("FZ_VOCABULARY_FILE"); v != "" {
		cfg.Vocabulary.File = v
	}
	if v := os.Getenv("FZ_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("FZ_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
