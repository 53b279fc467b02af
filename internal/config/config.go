package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const Version = "1.3.0"

type Config struct {
	BaseURL         string
	UserAgent       string
	RequestInterval time.Duration
	Timeout         time.Duration
	Workers         int
	OutputDir       string
	IqdbFormat      string
	Login           string
	APIKey          string
	Debug           bool
}

// Load reads an optional .env file then the environment.
func Load() (*Config, error) {
	err := godotenv.Load()
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("error loading .env file: %w", err)
	}

	cfg := &Config{
		BaseURL:         strings.TrimRight(getEnv("GET621_URL", "https://e926.net"), "/"),
		UserAgent:       getEnv("GET621_USER_AGENT", fmt.Sprintf("get621/%s (by nasso on e621)", Version)),
		RequestInterval: getEnvDuration("GET621_REQUEST_INTERVAL", time.Second),
		Timeout:         getEnvDuration("GET621_TIMEOUT", 0),
		Workers:         getEnvInt("GET621_WORKERS", 4),
		OutputDir:       getEnv("GET621_OUTPUT_DIR", "."),
		IqdbFormat:      getEnv("GET621_IQDB_FORMAT", "json"),
		Login:           os.Getenv("GET621_LOGIN"),
		APIKey:          os.Getenv("GET621_API_KEY"),
		Debug:           getEnvBool("GET621_DEBUG", false),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if !strings.HasPrefix(c.BaseURL, "http://") && !strings.HasPrefix(c.BaseURL, "https://") {
		return fmt.Errorf("invalid url %q, must start with http:// or https://", c.BaseURL)
	}
	if c.Workers < 1 {
		return fmt.Errorf("GET621_WORKERS must be at least 1, got %d", c.Workers)
	}
	switch c.IqdbFormat {
	case "json", "html":
	default:
		return fmt.Errorf("GET621_IQDB_FORMAT must be json or html, got %q", c.IqdbFormat)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return intValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	duration, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return duration
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return b
}
