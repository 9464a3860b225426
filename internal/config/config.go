package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/joho/godotenv"
)

// DefaultInferenceURL is the deployed inference service.
const DefaultInferenceURL = "https://tumor-detection-rhy4.onrender.com"

type Config struct {
	ListenAddr       string
	InferenceBaseURL string
	InferenceTimeout time.Duration
	RedisAddr        string
	SessionSecret    string
	SessionTTL       time.Duration
	ShutdownTimeout  time.Duration
}

// Load reads an optional .env file and then the environment.
func Load() (*Config, error) {
	// a missing .env is fine
	_ = godotenv.Load()

	cfg := &Config{
		ListenAddr:       getEnv("LISTEN_ADDR", ":8080"),
		InferenceBaseURL: getEnv("INFERENCE_API_URL", DefaultInferenceURL),
		RedisAddr:        os.Getenv("REDIS_ADDR"),
		SessionSecret:    getEnv("SESSION_SECRET", "dev-secret"),
	}

	var err error
	if cfg.InferenceTimeout, err = getDuration("INFERENCE_TIMEOUT", 60*time.Second); err != nil {
		return nil, err
	}
	if cfg.SessionTTL, err = getDuration("SESSION_TTL", 24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.ShutdownTimeout, err = getDuration("SHUTDOWN_TIMEOUT", 15*time.Second); err != nil {
		return nil, err
	}

	u, err := url.Parse(cfg.InferenceBaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("INFERENCE_API_URL must be an absolute http(s) URL, got %q", cfg.InferenceBaseURL)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%s must be a positive duration, got %q", key, value)
	}
	return d, nil
}
