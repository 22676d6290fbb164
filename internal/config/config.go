// Package config loads service configuration from defaults, an optional
// TOML file, a .env file and environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/trogers1052/portfolio-service/internal/lots"
	"github.com/trogers1052/portfolio-service/internal/performance"
)

// Config holds all application configuration
type Config struct {
	Server     ServerConfig            `toml:"server"`
	Database   DatabaseConfig          `toml:"database"`
	Kafka      KafkaConfig             `toml:"kafka"`
	Redis      RedisConfig             `toml:"redis"`
	Feed       FeedConfig              `toml:"feed"`
	Ledger     LedgerConfig            `toml:"ledger"`
	Lots       LotsConfig              `toml:"lots"`
	Analytics  AnalyticsConfig         `toml:"analytics"`
	Milestones []performance.Milestone `toml:"milestones"`
	LogLevel   string                  `toml:"log_level"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port string `toml:"port"`
	Host string `toml:"host"`
}

// Addr returns host:port
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host          string `toml:"host"`
	Port          string `toml:"port"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	DBName        string `toml:"dbname"`
	SSLMode       string `toml:"sslmode"`
	MigrationsDir string `toml:"migrations_dir"`
}

// ConnectionString returns the PostgreSQL connection string
func (d *DatabaseConfig) ConnectionString() string {
	return "postgres://" + d.User + ":" + d.Password + "@" + d.Host + ":" + d.Port + "/" + d.DBName + "?sslmode=" + d.SSLMode
}

// KafkaConfig holds Kafka configuration. An empty broker list disables
// consuming and publishing.
type KafkaConfig struct {
	Brokers          []string `toml:"brokers"`
	TransactionTopic string   `toml:"transaction_topic"`
	SnapshotTopic    string   `toml:"snapshot_topic"`
	GroupID          string   `toml:"group_id"`
	// DeadLetterTopic receives transactions that cannot be recorded. When
	// empty, exhausted retries stop the consumer.
	DeadLetterTopic string `toml:"dead_letter_topic"`
}

// RedisConfig holds the quote cache connection. An empty Addr disables it.
type RedisConfig struct {
	Addr     string   `toml:"addr"`
	Password string   `toml:"password"`
	DB       int      `toml:"db"`
	TTL      Duration `toml:"ttl"`
}

// FeedConfig holds price feed settings
type FeedConfig struct {
	BaseURL    string            `toml:"base_url"`
	Timeout    Duration          `toml:"timeout"`
	RateLimit  int               `toml:"rate_limit"`
	StaleAfter Duration          `toml:"stale_after"`
	HistoryTTL Duration          `toml:"history_ttl"`
	Symbols    map[string]string `toml:"symbols"`
	// Retention prunes archived closes older than this; zero keeps them all
	Retention Duration `toml:"retention"`
}

// LedgerConfig holds ledger policy
type LedgerConfig struct {
	AllowBackdated    bool   `toml:"allow_backdated"`
	ReinvestDividends bool   `toml:"reinvest_dividends"`
	DefaultCurrency   string `toml:"default_currency"`
}

// LotsConfig holds the lot matching method
type LotsConfig struct {
	Matching string `toml:"matching"`
}

// AnalyticsConfig holds valuation settings
type AnalyticsConfig struct {
	MaxGapDays   int      `toml:"max_gap_days"`
	QuoteTimeout Duration `toml:"quote_timeout"`
	Concurrency  int      `toml:"concurrency"`
}

// Duration decodes TOML strings like "10s"
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler
func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns the built-in configuration
func Defaults() Config {
	return Config{
		Server: ServerConfig{Port: "8080", Host: "0.0.0.0"},
		Database: DatabaseConfig{
			Host:          "localhost",
			Port:          "5432",
			User:          "postgres",
			Password:      "postgres",
			DBName:        "portfolio",
			SSLMode:       "disable",
			MigrationsDir: "db/migrations",
		},
		Kafka: KafkaConfig{
			Brokers:          []string{"localhost:9092"},
			TransactionTopic: "portfolio-transactions",
			SnapshotTopic:    "portfolio-snapshots",
			GroupID:          "portfolio-service",
			DeadLetterTopic:  "portfolio-transactions-dlq",
		},
		Redis: RedisConfig{Addr: "localhost:6379", TTL: Duration{7 * 24 * time.Hour}},
		Feed: FeedConfig{
			BaseURL:    "https://query1.finance.yahoo.com",
			Timeout:    Duration{20 * time.Second},
			RateLimit:  2,
			StaleAfter: Duration{72 * time.Hour},
			HistoryTTL: Duration{15 * time.Minute},
		},
		Ledger:    LedgerConfig{DefaultCurrency: "USD"},
		Lots:      LotsConfig{Matching: string(lots.FIFO)},
		Analytics: AnalyticsConfig{MaxGapDays: 5, QuoteTimeout: Duration{10 * time.Second}, Concurrency: 8},
		LogLevel:  "info",
	}
}

// Load merges the TOML file at path (skipped when empty) over the defaults,
// then loads .env if present, then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	applyEnv(&cfg)
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Server.Port = getEnv("SERVER_PORT", cfg.Server.Port)
	cfg.Server.Host = getEnv("SERVER_HOST", cfg.Server.Host)

	cfg.Database.Host = getEnv("DB_HOST", cfg.Database.Host)
	cfg.Database.Port = getEnv("DB_PORT", cfg.Database.Port)
	cfg.Database.User = getEnv("DB_USER", cfg.Database.User)
	cfg.Database.Password = getEnv("DB_PASSWORD", cfg.Database.Password)
	cfg.Database.DBName = getEnv("DB_NAME", cfg.Database.DBName)
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", cfg.Database.SSLMode)
	cfg.Database.MigrationsDir = getEnv("DB_MIGRATIONS_DIR", cfg.Database.MigrationsDir)

	if v, ok := os.LookupEnv("KAFKA_BROKERS"); ok {
		cfg.Kafka.Brokers = splitList(v)
	}
	cfg.Kafka.TransactionTopic = getEnv("KAFKA_TRANSACTION_TOPIC", cfg.Kafka.TransactionTopic)
	cfg.Kafka.SnapshotTopic = getEnv("KAFKA_SNAPSHOT_TOPIC", cfg.Kafka.SnapshotTopic)
	cfg.Kafka.GroupID = getEnv("KAFKA_GROUP_ID", cfg.Kafka.GroupID)
	if v, ok := os.LookupEnv("KAFKA_DEAD_LETTER_TOPIC"); ok {
		cfg.Kafka.DeadLetterTopic = v
	}

	if v, ok := os.LookupEnv("REDIS_ADDR"); ok {
		cfg.Redis.Addr = v
	}
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = getEnvInt("REDIS_DB", cfg.Redis.DB)

	cfg.Feed.BaseURL = getEnv("FEED_BASE_URL", cfg.Feed.BaseURL)
	cfg.Feed.Timeout.Duration = getEnvDuration("FEED_TIMEOUT", cfg.Feed.Timeout.Duration)
	cfg.Feed.Retention.Duration = getEnvDuration("FEED_RETENTION", cfg.Feed.Retention.Duration)

	cfg.Ledger.AllowBackdated = getEnvBool("LEDGER_ALLOW_BACKDATED", cfg.Ledger.AllowBackdated)
	cfg.Ledger.ReinvestDividends = getEnvBool("LEDGER_REINVEST_DIVIDENDS", cfg.Ledger.ReinvestDividends)
	cfg.Ledger.DefaultCurrency = getEnv("LEDGER_DEFAULT_CURRENCY", cfg.Ledger.DefaultCurrency)

	cfg.Lots.Matching = getEnv("LOT_MATCHING", cfg.Lots.Matching)

	cfg.Analytics.MaxGapDays = getEnvInt("ANALYTICS_MAX_GAP_DAYS", cfg.Analytics.MaxGapDays)
	cfg.Analytics.QuoteTimeout.Duration = getEnvDuration("ANALYTICS_QUOTE_TIMEOUT", cfg.Analytics.QuoteTimeout.Duration)
	cfg.Analytics.Concurrency = getEnvInt("ANALYTICS_CONCURRENCY", cfg.Analytics.Concurrency)

	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
}

// Validate reports every invalid setting at once
func (c *Config) Validate() error {
	var errs []string

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("unknown log_level %q", c.LogLevel))
	}
	if c.Server.Port == "" {
		errs = append(errs, "server: port must not be empty")
	}
	if c.Database.Host == "" || c.Database.DBName == "" {
		errs = append(errs, "database: host and dbname must be set")
	}
	if len(c.Kafka.Brokers) > 0 && (c.Kafka.TransactionTopic == "" || c.Kafka.GroupID == "") {
		errs = append(errs, "kafka: transaction_topic and group_id are required when brokers are set")
	}
	if _, err := lots.ParseMethod(c.Lots.Matching); err != nil {
		errs = append(errs, "lots: "+err.Error())
	}
	if len(c.Ledger.DefaultCurrency) != 3 {
		errs = append(errs, fmt.Sprintf("ledger: default_currency %q must be a 3-letter code", c.Ledger.DefaultCurrency))
	}
	if c.Analytics.MaxGapDays < 0 {
		errs = append(errs, "analytics: max_gap_days must not be negative")
	}
	if c.Analytics.Concurrency <= 0 {
		errs = append(errs, "analytics: concurrency must be positive")
	}
	if c.Feed.RateLimit <= 0 {
		errs = append(errs, "feed: rate_limit must be positive")
	}
	if c.Feed.Retention.Duration < 0 {
		errs = append(errs, "feed: retention must not be negative")
	}
	for i, m := range c.Milestones {
		if !m.Amount.IsPositive() {
			errs = append(errs, fmt.Sprintf("milestones[%d]: amount must be positive", i))
		}
	}

	if len(errs) > 0 {
		return errors.New("invalid config: " + strings.Join(errs, "; "))
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return n
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if b, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return b
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return d
	}
	return defaultValue
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
