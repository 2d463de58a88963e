// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	DBPath      string

	BrokerURL string
	RedisURL  string

	Inference InferenceConfig

	ContextTTL       time.Duration
	ResponseCacheTTL time.Duration
}

// InferenceConfig holds settings for the upstream text-generation service.
type InferenceConfig struct {
	BaseURL string
	APIKey  string
	Models  []string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		DBPath:      getEnv("DB_PATH", "./data/myshoes.db"),
		BrokerURL:   getEnv("RABBITMQ_URL", "amqp://localhost:5672"),
		RedisURL:    getEnv("REDIS_URL", "redis://localhost:6379"),
		Inference: InferenceConfig{
			BaseURL: getEnv("INFERENCE_URL", "https://api-inference.huggingface.co/models/"),
			APIKey:  getEnv("INFERENCE_API_KEY", ""),
			Models:  splitList(getEnv("INFERENCE_MODELS", "mistralai/Mistral-7B-Instruct-v0.2")),
		},
		ContextTTL:       time.Duration(getEnvInt("CONTEXT_TTL_SECONDS", 3600)) * time.Second,
		ResponseCacheTTL: time.Duration(getEnvInt("RESPONSE_CACHE_TTL_SECONDS", 86400)) * time.Second,
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.BrokerURL == "" {
		return fmt.Errorf("RABBITMQ_URL cannot be empty")
	}
	if c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL cannot be empty")
	}
	if c.Inference.BaseURL == "" {
		return fmt.Errorf("INFERENCE_URL cannot be empty")
	}
	if len(c.Inference.Models) == 0 {
		return fmt.Errorf("INFERENCE_MODELS cannot be empty")
	}
	if c.ContextTTL <= 0 {
		return fmt.Errorf("CONTEXT_TTL_SECONDS must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
