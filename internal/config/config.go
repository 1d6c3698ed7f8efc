package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config file location.
const ConfigPath = "config.yaml"

// FileConfig represents syncwatch configuration loaded from YAML.
type FileConfig struct {
	RedisAddr       string `yaml:"redisAddr"`
	RedisPassword   string `yaml:"redisPassword"`
	LogLevel        string `yaml:"logLevel"`
	UserID          string `yaml:"userID"`
	DataDir         string `yaml:"dataDir"`
	BackoffSeconds  int    `yaml:"backoffSeconds"`
	CollectionLimit int    `yaml:"collectionLimit"`
}

// Load reads config from path (defaults to config.yaml).
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	// Override with environment variables
	if v := os.Getenv("LINGOSYNC_REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("LINGOSYNC_REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("LINGOSYNC_USER_ID"); v != "" {
		cfg.UserID = v
	}
	if v := os.Getenv("LINGOSYNC_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("LINGOSYNC_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("LINGOSYNC_BACKOFF_SECONDS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("parse LINGOSYNC_BACKOFF_SECONDS: %w", err)
		}
		cfg.BackoffSeconds = n
	}
	if v := os.Getenv("LINGOSYNC_COLLECTION_LIMIT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("parse LINGOSYNC_COLLECTION_LIMIT: %w", err)
		}
		cfg.CollectionLimit = n
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Backoff returns the resubscribe backoff, zero meaning "use the default".
func (c FileConfig) Backoff() time.Duration {
	return time.Duration(c.BackoffSeconds) * time.Second
}

func validateConfig(cfg FileConfig) error {
	if cfg.RedisAddr == "" {
		return errors.New("config: redisAddr is required (set in config.yaml or LINGOSYNC_REDIS_ADDR)")
	}
	if cfg.UserID == "" {
		return errors.New("config: userID is required (set in config.yaml or LINGOSYNC_USER_ID)")
	}
	if cfg.BackoffSeconds < 0 {
		return errors.New("config: backoffSeconds must not be negative")
	}
	return nil
}
