package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Redis struct {
		URL      string
		Host     string
		Port     int
		Password string
		Database int
	}
	DB struct {
		DSN string
	}
	Kafka struct {
		Broker  string
		Topic   string
		GroupID string
	}
	API struct {
		Port     string
		BasePath string
	}
	Worker struct {
		Concurrency  int
		PollInterval int // milliseconds
	}
	RateLimit struct {
		IngestLimit         int
		IngestWindowSeconds int
		TelegramRateLimiter int
	}
	Providers struct {
		MarketDataURL string
		NewsURL       string
		FilingsURL    string
	}
	Telegram struct {
		BotToken string
	}
	Email struct {
		SMTPServer string
		SMTPPort   int
		Username   string
		Password   string
		FromName   string
	}
	Logging struct {
		Dir   string
		Level string
	}
}

// Load reads environment variables, applies defaults, and returns a Config.
func Load() (Config, error) {
	// Load .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("failed to load .env file: %w", err)
	}

	var cfg Config

	// Redis settings
	cfg.Redis.URL = os.Getenv("REDIS_URL")
	cfg.Redis.Host = os.Getenv("REDIS_HOST")
	if p, err := strconv.Atoi(os.Getenv("REDIS_PORT")); err == nil {
		cfg.Redis.Port = p
	}
	cfg.Redis.Password = os.Getenv("REDIS_PASSWORD")
	if db, err := strconv.Atoi(os.Getenv("REDIS_DB")); err == nil {
		cfg.Redis.Database = db
	}

	// Database DSN
	cfg.DB.DSN = os.Getenv("DB_DSN")

	// Kafka settings (ingestion source; optional)
	cfg.Kafka.Broker = os.Getenv("KAFKA_BROKER")
	cfg.Kafka.Topic = os.Getenv("KAFKA_TOPIC")
	cfg.Kafka.GroupID = os.Getenv("KAFKA_GROUP_ID")

	// API settings
	cfg.API.Port = os.Getenv("API_PORT")
	cfg.API.BasePath = os.Getenv("API_BASE_PATH")

	// Worker settings
	if c, err := strconv.Atoi(os.Getenv("WORKER_CONCURRENCY")); err == nil {
		cfg.Worker.Concurrency = c
	}
	if p, err := strconv.Atoi(os.Getenv("WORKER_POLL_INTERVAL_MS")); err == nil {
		cfg.Worker.PollInterval = p
	}

	// Rate limit settings
	if l, err := strconv.Atoi(os.Getenv("INGEST_RATE_LIMIT")); err == nil {
		cfg.RateLimit.IngestLimit = l
	}
	if w, err := strconv.Atoi(os.Getenv("INGEST_RATE_WINDOW_SECONDS")); err == nil {
		cfg.RateLimit.IngestWindowSeconds = w
	}
	if r, err := strconv.Atoi(os.Getenv("TELEGRAM_RATE_LIMIT")); err == nil {
		cfg.RateLimit.TelegramRateLimiter = r
	}

	// Data providers
	cfg.Providers.MarketDataURL = os.Getenv("MARKET_DATA_URL")
	cfg.Providers.NewsURL = os.Getenv("NEWS_API_URL")
	cfg.Providers.FilingsURL = os.Getenv("FILINGS_API_URL")

	// Delivery providers
	cfg.Telegram.BotToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	cfg.Email.SMTPServer = os.Getenv("EMAIL_SMTP_SERVER")
	if p, err := strconv.Atoi(os.Getenv("EMAIL_SMTP_PORT")); err == nil {
		cfg.Email.SMTPPort = p
	}
	cfg.Email.Username = os.Getenv("EMAIL_USERNAME")
	cfg.Email.Password = os.Getenv("EMAIL_PASSWORD")
	cfg.Email.FromName = os.Getenv("EMAIL_FROM_NAME")

	// Logging
	cfg.Logging.Dir = os.Getenv("LOG_DIR")
	cfg.Logging.Level = os.Getenv("LOG_LEVEL")

	// Validate required settings
	missing := []string{}
	if cfg.Redis.URL == "" && cfg.Redis.Host == "" {
		missing = append(missing, "REDIS_URL")
	}
	if cfg.DB.DSN == "" {
		missing = append(missing, "DB_DSN")
	}
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required configurations: %v", missing)
	}

	// Apply defaults
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.API.Port == "" {
		cfg.API.Port = ":8080"
	}
	if cfg.API.BasePath == "" {
		cfg.API.BasePath = "/api/v1"
	}
	if cfg.Worker.Concurrency == 0 {
		cfg.Worker.Concurrency = 5
	}
	if cfg.Worker.PollInterval == 0 {
		cfg.Worker.PollInterval = 250
	}
	if cfg.RateLimit.IngestLimit == 0 {
		cfg.RateLimit.IngestLimit = 120
	}
	if cfg.RateLimit.IngestWindowSeconds == 0 {
		cfg.RateLimit.IngestWindowSeconds = 60
	}
	if cfg.RateLimit.TelegramRateLimiter == 0 {
		cfg.RateLimit.TelegramRateLimiter = 25
	}
	if cfg.Kafka.Topic == "" {
		cfg.Kafka.Topic = "market_events"
	}
	if cfg.Kafka.GroupID == "" {
		cfg.Kafka.GroupID = "tickerpulse"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}

	return cfg, nil
}
