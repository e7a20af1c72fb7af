package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/ems-pm/project/internal/platform/env"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	BackendLocal = "local"
	BackendNATS  = "nats"
	BackendRedis = "redis"
)

var ErrUnknownBackend = errors.New("unknown notify backend")

type Config struct {
	HTTPAddr        string        `yaml:"http_addr"`
	PushAddr        string        `yaml:"push_addr"`
	DatabaseURL     string        `yaml:"database_url"`
	ClientURL       string        `yaml:"client_url"`
	NotifyBackend   string        `yaml:"notify_backend"`
	NATSURL         string        `yaml:"nats_url"`
	Redis           RedisConfig   `yaml:"redis"`
	Log             LogConfig     `yaml:"log"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	PushKeepAlive   time.Duration `yaml:"push_keepalive"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func Default() Config {
	return Config{
		HTTPAddr:        env.DefaultHTTPAddr,
		PushAddr:        env.DefaultPushAddr,
		DatabaseURL:     env.DefaultDatabaseURL,
		ClientURL:       env.DefaultClientURL,
		NotifyBackend:   BackendLocal,
		NATSURL:         env.DefaultNATSURL,
		Redis:           RedisConfig{Addr: env.DefaultRedisAddr},
		Log:             LogConfig{Level: "info", Format: "json"},
		ShutdownTimeout: 10 * time.Second,
		PushKeepAlive:   25 * time.Second,
	}
}

// Load layers defaults, .env, an optional YAML file and the process
// environment, in that order. An empty path falls back to CONFIG_FILE.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()
	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return Config{}, err
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.HTTPAddr = env.String("HTTP_ADDR", c.HTTPAddr)
	c.PushAddr = env.String("PUSH_ADDR", c.PushAddr)
	c.DatabaseURL = env.String("DATABASE_URL", c.DatabaseURL)
	c.ClientURL = env.String("CLIENT_URL", c.ClientURL)
	c.NotifyBackend = env.String("NOTIFY_BACKEND", c.NotifyBackend)
	c.NATSURL = env.String("NATS_URL", c.NATSURL)
	c.Redis.Addr = env.String("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = env.String("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = env.Int("REDIS_DB", c.Redis.DB)
	c.Log.Level = env.String("LOG_LEVEL", c.Log.Level)
	c.Log.Format = env.String("LOG_FORMAT", c.Log.Format)
	c.ShutdownTimeout = env.Duration("SHUTDOWN_TIMEOUT", c.ShutdownTimeout)
	c.PushKeepAlive = env.Duration("PUSH_KEEPALIVE", c.PushKeepAlive)
}

func (c *Config) Validate() error {
	c.NotifyBackend = strings.ToLower(strings.TrimSpace(c.NotifyBackend))
	switch c.NotifyBackend {
	case BackendLocal, BackendNATS, BackendRedis:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownBackend, c.NotifyBackend)
	}
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return errors.New("database_url is required")
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
	if c.PushKeepAlive <= 0 {
		c.PushKeepAlive = 25 * time.Second
	}
	return nil
}
