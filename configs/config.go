package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type R2 struct {
	AccountID  string `yaml:"account_id"`
	AccessKey  string `yaml:"access_key"`
	SecretKey  string `yaml:"secret_key"`
	BucketName string `yaml:"bucket_name"`
	PublicURL  string `yaml:"public_url"`
}

type RabbitMQ struct {
	URL        string `yaml:"url"`
	Exchange   string `yaml:"exchange"`
	RoutingKey string `yaml:"routing_key"`
	QueueName  string `yaml:"queue_name"`
}

type Dispatch struct {
	Interval             time.Duration `yaml:"interval"`
	Lookahead            time.Duration `yaml:"lookahead"`
	MissedGrace          time.Duration `yaml:"missed_grace"`
	Concurrency          int           `yaml:"concurrency"`
	PublishTimeout       time.Duration `yaml:"publish_timeout"`
	StaleClaimAfter      time.Duration `yaml:"stale_claim_after"`
	RetryBudget          int           `yaml:"retry_budget"`
	RetryBackoffBase     time.Duration `yaml:"retry_backoff_base"`
	RetryBackoffMax      time.Duration `yaml:"retry_backoff_max"`
	HeartbeatInterval    time.Duration `yaml:"heartbeat_interval"`
	TokenRefreshInterval time.Duration `yaml:"token_refresh_interval"`
}

type Platforms struct {
	FacebookAccessToken  string `yaml:"facebook_access_token"`
	FacebookBaseURL      string `yaml:"facebook_base_url"`
	InstagramAccessToken string `yaml:"instagram_access_token"`
	InstagramBaseURL     string `yaml:"instagram_base_url"`
	GoogleClientID       string `yaml:"google_client_id"`
	GoogleClientSecret   string `yaml:"google_client_secret"`
	YouTubeRefreshToken  string `yaml:"youtube_refresh_token"`
	RatePerMinute        int    `yaml:"rate_per_minute"`
}

type Config struct {
	PostgresURI string    `yaml:"postgres_uri"`
	RedisURI    string    `yaml:"redis_uri"`
	HTTPAddr    string    `yaml:"http_addr"`
	LogLevel    string    `yaml:"log_level"`
	SecretKey   string    `yaml:"secret_key"`
	CookieName  string    `yaml:"cookie_name"`
	FrontendURL string    `yaml:"frontend_url"`
	Dispatch    Dispatch  `yaml:"dispatch"`
	Platforms   Platforms `yaml:"platforms"`
	RabbitMQ    RabbitMQ  `yaml:"rabbitmq"`
	R2          R2        `yaml:"r2"`
}

func LoadConfig() *Config {
	return &Config{
		PostgresURI: getEnv("POSTGRES_URI", ""),
		RedisURI:    getEnv("REDIS_URI", "localhost:6379"),
		HTTPAddr:    getEnv("HTTP_ADDR", ":3000"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		SecretKey:   getEnv("SECRET_KEY", ""),
		CookieName:  getEnv("COOKIE_NAME", "token"),
		FrontendURL: getEnv("FRONTEND_URL", "http://localhost:5173"),
		Dispatch: Dispatch{
			Interval:             getEnvDuration("DISPATCH_INTERVAL", time.Minute),
			Lookahead:            getEnvDuration("DISPATCH_LOOKAHEAD", 5*time.Minute),
			MissedGrace:          getEnvDuration("DISPATCH_MISSED_GRACE", 0),
			Concurrency:          getEnvInt("DISPATCH_CONCURRENCY", 1),
			PublishTimeout:       getEnvDuration("PUBLISH_TIMEOUT", 30*time.Second),
			StaleClaimAfter:      getEnvDuration("STALE_CLAIM_AFTER", 0),
			RetryBudget:          getEnvInt("RETRY_BUDGET", 3),
			RetryBackoffBase:     getEnvDuration("RETRY_BACKOFF_BASE", 0),
			RetryBackoffMax:      getEnvDuration("RETRY_BACKOFF_MAX", 30*time.Minute),
			HeartbeatInterval:    getEnvDuration("HEARTBEAT_INTERVAL", 15*time.Minute),
			TokenRefreshInterval: getEnvDuration("TOKEN_REFRESH_INTERVAL", 24*time.Hour),
		},
		Platforms: Platforms{
			FacebookAccessToken:  getEnv("FACEBOOK_ACCESS_TOKEN", ""),
			FacebookBaseURL:      getEnv("FACEBOOK_API_BASE_URL", "https://graph.facebook.com/v18.0"),
			InstagramAccessToken: getEnv("INSTAGRAM_ACCESS_TOKEN", ""),
			InstagramBaseURL:     getEnv("INSTAGRAM_API_BASE_URL", "https://graph.instagram.com/v21.0"),
			GoogleClientID:       getEnv("GOOGLE_CLIENT_ID", ""),
			GoogleClientSecret:   getEnv("GOOGLE_CLIENT_SECRET", ""),
			YouTubeRefreshToken:  getEnv("YOUTUBE_REFRESH_TOKEN", ""),
			RatePerMinute:        getEnvInt("PLATFORM_RATE_PER_MINUTE", 60),
		},
		RabbitMQ: RabbitMQ{
			URL:        getEnv("RABBITMQ_URL", ""),
			Exchange:   getEnv("RABBITMQ_EXCHANGE", "scheduled_posts"),
			RoutingKey: getEnv("RABBITMQ_ROUTING_KEY", "post.lifecycle"),
			QueueName:  getEnv("RABBITMQ_QUEUE", "scheduled_post_events"),
		},
		R2: R2{
			AccountID:  getEnv("R2_ACCOUNT_ID", ""),
			AccessKey:  getEnv("R2_ACCESS_KEY", ""),
			SecretKey:  getEnv("R2_SECRET_KEY", ""),
			BucketName: getEnv("R2_BUCKET_NAME", ""),
			PublicURL:  getEnv("R2_PUBLIC_URL", ""),
		},
	}
}

// Load reads .env and the environment, then overlays the YAML file at path
// when one is given. Environment references inside the file are expanded.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file loaded", "error", err)
	}

	cfg := LoadConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	d := c.Dispatch
	if d.Interval <= 0 {
		errs = append(errs, errors.New("dispatch interval must be positive"))
	}
	if d.Lookahead <= d.Interval {
		errs = append(errs, fmt.Errorf("dispatch lookahead %s must exceed the dispatch interval %s", d.Lookahead, d.Interval))
	}
	if d.MissedGrace < 0 {
		errs = append(errs, errors.New("missed grace must not be negative"))
	}
	if d.Concurrency < 1 {
		errs = append(errs, errors.New("dispatch concurrency must be at least 1"))
	}
	if d.PublishTimeout <= 0 {
		errs = append(errs, errors.New("publish timeout must be positive"))
	}
	if d.StaleClaimAfter != 0 && d.StaleClaimAfter <= d.PublishTimeout {
		errs = append(errs, fmt.Errorf("stale claim threshold %s must exceed the publish timeout %s", d.StaleClaimAfter, d.PublishTimeout))
	}
	if d.RetryBudget < 1 {
		errs = append(errs, errors.New("retry budget must be at least 1"))
	}
	if d.RetryBackoffBase < 0 || d.RetryBackoffMax < 0 {
		errs = append(errs, errors.New("retry backoff must not be negative"))
	}
	if d.HeartbeatInterval <= 0 {
		errs = append(errs, errors.New("heartbeat interval must be positive"))
	}
	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
		slog.Warn("invalid integer in environment, using default", "key", key, "value", value)
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		slog.Warn("invalid duration in environment, using default", "key", key, "value", value)
	}
	return defaultValue
}
