// Package config содержит логику чтения конфигурации клиента KPABK Connect.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Поддерживаемые хранилища токена сессии.
const (
	SessionStoreFile     = "file"
	SessionStoreRedis    = "redis"
	SessionStorePostgres = "postgres"
)

const (
	defaultAPIBaseURL      = "http://localhost:8080/api"
	defaultCallbackAddress = "localhost:8765"
)

// Config содержит параметры конфигурации клиента KPABK Connect.
type Config struct {
	APIBaseURL      string        `env:"API_BASE_URL"`
	SessionStore    string        `env:"SESSION_STORE"`
	SessionFile     string        `env:"SESSION_FILE"`
	RedisAddr       string        `env:"REDIS_ADDR"`
	DatabaseURI     string        `env:"DATABASE_URI"`
	CallbackAddress string        `env:"CALLBACK_ADDRESS"`
	CallbackSecret  string        `env:"CALLBACK_SECRET"`
	RequestTimeout  time.Duration `env:"REQUEST_TIMEOUT"`
	Verbose         bool          `env:"KPABK_VERBOSE"`
}

// Parse считывает конфигурацию из .env, переменных окружения и флагов командной строки.
// Значения из окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envCfg := *cfg

	flag.StringVar(&cfg.APIBaseURL, "a", defaultAPIBaseURL, "backend API base URL")
	flag.StringVar(&cfg.SessionStore, "s", SessionStoreFile, "session store: file, redis or postgres")
	flag.StringVar(&cfg.SessionFile, "f", "", "session file path")
	flag.StringVar(&cfg.RedisAddr, "redis", "", "redis address for the session store")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI for the session store")
	flag.StringVar(&cfg.CallbackAddress, "c", defaultCallbackAddress, "address of the local payment page server")
	flag.DurationVar(&cfg.RequestTimeout, "t", 0, "request timeout, 0 means transport default")
	flag.BoolVar(&cfg.Verbose, "v", false, "verbose logging")

	flag.Parse()

	if envCfg.APIBaseURL != "" {
		cfg.APIBaseURL = envCfg.APIBaseURL
	}
	if envCfg.SessionStore != "" {
		cfg.SessionStore = envCfg.SessionStore
	}
	if envCfg.SessionFile != "" {
		cfg.SessionFile = envCfg.SessionFile
	}
	if envCfg.RedisAddr != "" {
		cfg.RedisAddr = envCfg.RedisAddr
	}
	if envCfg.DatabaseURI != "" {
		cfg.DatabaseURI = envCfg.DatabaseURI
	}
	if envCfg.CallbackAddress != "" {
		cfg.CallbackAddress = envCfg.CallbackAddress
	}
	if envCfg.RequestTimeout != 0 {
		cfg.RequestTimeout = envCfg.RequestTimeout
	}
	if envCfg.Verbose {
		cfg.Verbose = true
	}

	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = defaultAPIBaseURL
	}
	if cfg.CallbackAddress == "" {
		cfg.CallbackAddress = defaultCallbackAddress
	}
	if cfg.SessionStore == "" {
		cfg.SessionStore = SessionStoreFile
	}
	if cfg.SessionFile == "" {
		cfg.SessionFile = defaultSessionFile()
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Args возвращает позиционные аргументы, оставшиеся после флагов.
func Args() []string {
	return flag.Args()
}

func (c *Config) validate() error {
	switch c.SessionStore {
	case SessionStoreFile:
	case SessionStoreRedis:
		if c.RedisAddr == "" {
			return errors.New("redis session store requires REDIS_ADDR")
		}
	case SessionStorePostgres:
		if c.DatabaseURI == "" {
			return errors.New("postgres session store requires DATABASE_URI")
		}
	default:
		return fmt.Errorf("unknown session store %q", c.SessionStore)
	}
	return nil
}

func defaultSessionFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".kpabk-session.json"
	}
	return filepath.Join(home, ".kpabk", "session.json")
}
