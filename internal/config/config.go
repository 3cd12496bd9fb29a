package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Environment string

	HTTP       HTTPConfig
	Log        LogConfig
	Completion CompletionConfig
	WebAnswer  WebAnswerConfig
	Search     SearchConfig
	Redis      RedisConfig
}

type HTTPConfig struct {
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type LogConfig struct {
	Level      string
	Format     string
	Output     string
	FilePath   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// CompletionConfig drives the OpenAI-compatible chat completion provider.
type CompletionConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
}

// WebAnswerConfig drives the grounded search+answer provider.
type WebAnswerConfig struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
	Timeout   time.Duration
}

// SearchConfig drives the structured flight/hotel search aggregator.
type SearchConfig struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

type RedisConfig struct {
	URL          string
	PoolSize     int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	SessionTTL   time.Duration
}

func Load() (*Config, error) {
	// .env is optional, real deployments inject the environment directly
	_ = godotenv.Load()

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		HTTP: HTTPConfig{
			Port:         getEnvInt("PORT", 8080),
			ReadTimeout:  getEnvDuration("HTTP_READ_TIMEOUT", 30*time.Second),
			WriteTimeout: getEnvDuration("HTTP_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:  getEnvDuration("HTTP_IDLE_TIMEOUT", 120*time.Second),
		},
		Log: LogConfig{
			Level:      getEnv("LOG_LEVEL", "info"),
			Format:     getEnv("LOG_FORMAT", "json"),
			Output:     getEnv("LOG_OUTPUT", "stdout"),
			FilePath:   getEnv("LOG_FILE_PATH", "logs/atlas.log"),
			MaxSizeMB:  getEnvInt("LOG_MAX_SIZE_MB", 100),
			MaxBackups: getEnvInt("LOG_MAX_BACKUPS", 3),
			MaxAgeDays: getEnvInt("LOG_MAX_AGE_DAYS", 28),
		},
		Completion: CompletionConfig{
			APIKey:     os.Getenv("OPENAI_API_KEY"),
			BaseURL:    getEnv("COMPLETION_BASE_URL", "https://api.openai.com/v1/chat/completions"),
			Model:      getEnv("COMPLETION_MODEL", "gpt-4o-mini"),
			Timeout:    getEnvDuration("COMPLETION_TIMEOUT", 30*time.Second),
			MaxRetries: getEnvInt("COMPLETION_MAX_RETRIES", 1),
			RetryDelay: getEnvDuration("COMPLETION_RETRY_DELAY", 2*time.Second),
		},
		WebAnswer: WebAnswerConfig{
			APIKey:    os.Getenv("PERPLEXITY_API_KEY"),
			BaseURL:   getEnv("WEB_ANSWER_BASE_URL", "https://api.perplexity.ai/chat/completions"),
			Model:     getEnv("WEB_ANSWER_MODEL", "sonar"),
			MaxTokens: getEnvInt("WEB_ANSWER_MAX_TOKENS", 1000),
			Timeout:   getEnvDuration("WEB_ANSWER_TIMEOUT", 30*time.Second),
		},
		Search: SearchConfig{
			APIKey:  os.Getenv("SERPAPI_API_KEY"),
			BaseURL: getEnv("SEARCH_BASE_URL", "https://serpapi.com/search"),
			Timeout: getEnvDuration("SEARCH_TIMEOUT", 20*time.Second),
		},
		Redis: RedisConfig{
			URL:          getEnv("REDIS_URL", ""),
			PoolSize:     getEnvInt("REDIS_POOL_SIZE", 10),
			DialTimeout:  getEnvDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getEnvDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getEnvDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
			SessionTTL:   getEnvDuration("REDIS_SESSION_TTL", 24*time.Hour),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (cfg *Config) validate() error {
	if cfg.Completion.APIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required")
	}
	if cfg.WebAnswer.APIKey == "" {
		return fmt.Errorf("PERPLEXITY_API_KEY is required")
	}
	if cfg.Search.APIKey == "" {
		return fmt.Errorf("SERPAPI_API_KEY is required")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", cfg.HTTP.Port)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}
