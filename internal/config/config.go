package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port string

	// Document store connection
	DocstoreURL    string
	DocstoreAPIKey string

	// Auth
	ServiceAPIKey string

	// Rewrite model
	AnthropicAPIKey string
	AnthropicModel  string

	// Source
	SourceAPIBase string
	ImageBase     string

	// Parsing
	MinParagraphChars int

	// Job state
	JobTTL time.Duration

	// Image proxy
	ImageAllowHosts []string
	ImageCacheTTL   time.Duration
	MaxImageBytes   int64
}

func Load() Config {
	cfg := Config{
		Port: envOr("PORT", "8090"),

		DocstoreURL:    envOr("DOCSTORE_URL", "http://localhost:8080"),
		DocstoreAPIKey: os.Getenv("DOCSTORE_API_KEY"),

		ServiceAPIKey: os.Getenv("PLAINREAD_API_KEY"),

		AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
		AnthropicModel:  envOr("ANTHROPIC_MODEL", "claude-sonnet-4-5-20250929"),

		SourceAPIBase: envOr("SOURCE_API_BASE", "https://api.biorxiv.org"),
		ImageBase:     envOr("IMAGE_BASE", "https://www.biorxiv.org/content/"),

		MinParagraphChars: envInt("MIN_PARAGRAPH_CHARS", 40),

		JobTTL: envDuration("JOB_TTL", 1*time.Hour),

		ImageAllowHosts: envList("IMAGE_ALLOW_HOSTS", "www.biorxiv.org,biorxiv.org"),
		ImageCacheTTL:   envDuration("IMAGE_CACHE_TTL", 24*time.Hour),
		MaxImageBytes:   envInt64("MAX_IMAGE_BYTES", 20971520), // 20MB
	}

	if cfg.MinParagraphChars <= 0 {
		cfg.MinParagraphChars = 40
	}
	if cfg.JobTTL <= 0 {
		cfg.JobTTL = 1 * time.Hour
	}
	// The proxy promises downstream caches at least a day.
	if cfg.ImageCacheTTL < 24*time.Hour {
		cfg.ImageCacheTTL = 24 * time.Hour
	}
	if cfg.MaxImageBytes <= 0 {
		cfg.MaxImageBytes = 20971520
	}

	return cfg
}

func (c Config) Validate() error {
	if c.DocstoreAPIKey == "" {
		return fmt.Errorf("DOCSTORE_API_KEY is required")
	}
	if c.ServiceAPIKey == "" {
		return fmt.Errorf("PLAINREAD_API_KEY is required")
	}
	if c.AnthropicAPIKey == "" {
		return fmt.Errorf("ANTHROPIC_API_KEY is required")
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envList(key, fallback string) []string {
	v := os.Getenv(key)
	if v == "" {
		v = fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
