package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	RunAddress      string        `yaml:"run_address" validate:"required"`
	BackendURL      string        `yaml:"backend_url" validate:"required,url"`
	Token           string        `yaml:"token"`
	TokenFile       string        `yaml:"token_file"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	LogLevel        string        `yaml:"log_level"`
	FeedSize        int           `yaml:"feed_size"`
}

func Default() Config {
	return Config{
		RunAddress:     "localhost:8080",
		BackendURL:     "https://backend-solandre.onrender.com",
		RequestTimeout: 10 * time.Second,
		LogLevel:       "INFO",
		FeedSize:       50,
	}
}

// New reads the process flags and environment.
func New() (*Config, error) {
	return Load(os.Args[1:], os.LookupEnv)
}

// Load layers defaults, an optional YAML file, explicitly set flags and
// finally environment variables, in that order.
func Load(args []string, lookup func(string) (string, bool)) (*Config, error) {
	if lookup == nil {
		lookup = func(string) (string, bool) { return "", false }
	}

	cfg := Default()
	var fl Config
	var configPath string

	fs := flag.NewFlagSet("cocina", flag.ContinueOnError)
	fs.StringVar(&configPath, "c", "", "path to a YAML config file")
	fs.StringVar(&fl.RunAddress, "a", cfg.RunAddress, "shell server address and port")
	fs.StringVar(&fl.BackendURL, "b", cfg.BackendURL, "restaurant backend base URL")
	fs.StringVar(&fl.Token, "t", "", "bearer token for the backend")
	fs.StringVar(&fl.TokenFile, "token-file", "", "file holding the bearer token")
	fs.DurationVar(&fl.RefreshInterval, "refresh", 0, "pending orders auto refresh interval, 0 disables")
	fs.DurationVar(&fl.RequestTimeout, "timeout", cfg.RequestTimeout, "backend request timeout")
	fs.StringVar(&fl.LogLevel, "log-level", cfg.LogLevel, "DEBUG, INFO, WARN or ERROR")
	fs.IntVar(&fl.FeedSize, "feed-size", cfg.FeedSize, "notifications kept for the screen")
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parse flags: %w", err)
	}

	configPath = getEnv(lookup, "CONFIG_PATH", configPath)
	if configPath != "" {
		if err := loadFile(configPath, &cfg); err != nil {
			return nil, err
		}
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "a":
			cfg.RunAddress = fl.RunAddress
		case "b":
			cfg.BackendURL = fl.BackendURL
		case "t":
			cfg.Token = fl.Token
		case "token-file":
			cfg.TokenFile = fl.TokenFile
		case "refresh":
			cfg.RefreshInterval = fl.RefreshInterval
		case "timeout":
			cfg.RequestTimeout = fl.RequestTimeout
		case "log-level":
			cfg.LogLevel = fl.LogLevel
		case "feed-size":
			cfg.FeedSize = fl.FeedSize
		}
	})

	cfg.RunAddress = getEnv(lookup, "RUN_ADDRESS", cfg.RunAddress)
	cfg.BackendURL = getEnv(lookup, "BACKEND_URL", cfg.BackendURL)
	cfg.Token = getEnv(lookup, "COCINA_TOKEN", cfg.Token)
	cfg.TokenFile = getEnv(lookup, "COCINA_TOKEN_FILE", cfg.TokenFile)
	cfg.LogLevel = getEnv(lookup, "LOG_LEVEL", cfg.LogLevel)

	var err error
	if cfg.RefreshInterval, err = getEnvDuration(lookup, "REFRESH_INTERVAL", cfg.RefreshInterval); err != nil {
		return nil, err
	}
	if cfg.RequestTimeout, err = getEnvDuration(lookup, "REQUEST_TIMEOUT", cfg.RequestTimeout); err != nil {
		return nil, err
	}
	if cfg.FeedSize, err = getEnvInt(lookup, "FEED_SIZE", cfg.FeedSize); err != nil {
		return nil, err
	}

	if cfg.RefreshInterval < 0 {
		cfg.RefreshInterval = 0
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func loadFile(path string, cfg *Config) error {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("config file does not exist: %s", path)
		}
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return fmt.Errorf("unmarshal config: %w", err)
	}
	return nil
}

func getEnv(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok {
		return value
	}
	return fallback
}

func getEnvDuration(lookup func(string) (string, bool), key string, fallback time.Duration) (time.Duration, error) {
	value, ok := lookup(key)
	if !ok {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func getEnvInt(lookup func(string) (string, bool), key string, fallback int) (int, error) {
	value, ok := lookup(key)
	if !ok {
		return fallback, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}
