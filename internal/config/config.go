package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const fileName = "signup.yml"

// Config models signup.yml.
type Config struct {
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Auth struct {
		JWTSecret              string `yaml:"jwt_secret"`
		Issuer                 string `yaml:"issuer"`
		AllowLegacyActorHeader bool   `yaml:"allow_legacy_actor_header"`
	} `yaml:"auth"`
	DB struct {
		BusyTimeoutMS int `yaml:"busy_timeout_ms"`
	} `yaml:"db"`
	Lock struct {
		Backend string        `yaml:"backend"`
		TTL     time.Duration `yaml:"ttl"`
		Redis   RedisConfig   `yaml:"redis"`
	} `yaml:"lock"`
	Kafka struct {
		Enabled      bool          `yaml:"enabled"`
		Brokers      []string      `yaml:"brokers"`
		Topic        string        `yaml:"topic"`
		PollInterval time.Duration `yaml:"poll_interval"`
		Events       []string      `yaml:"events"`
		FromStart    bool          `yaml:"from_start"`
	} `yaml:"kafka"`
	Log struct {
		Level       string `yaml:"level"`
		Development bool   `yaml:"development"`
	} `yaml:"log"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

const (
	LockLocal = "local"
	LockRedis = "redis"
)

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Server.Addr) == "" {
		return fmt.Errorf("config.server.addr is required")
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with '/'")
	}
	switch c.Lock.Backend {
	case LockLocal:
	case LockRedis:
		if strings.TrimSpace(c.Lock.Redis.Addr) == "" {
			return fmt.Errorf("config.lock.redis.addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("config.lock.backend must be 'local' or 'redis', got %q", c.Lock.Backend)
	}
	if c.Lock.TTL < 0 {
		return fmt.Errorf("config.lock.ttl cannot be negative")
	}
	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("config.kafka.brokers is required when kafka is enabled")
		}
		for _, b := range c.Kafka.Brokers {
			if strings.TrimSpace(b) == "" {
				return fmt.Errorf("config.kafka.brokers contains an empty address")
			}
		}
		if strings.TrimSpace(c.Kafka.Topic) == "" {
			return fmt.Errorf("config.kafka.topic is required when kafka is enabled")
		}
	}
	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config.log.level must be debug, info, warn or error")
	}
	if c.DB.BusyTimeoutMS < 0 {
		return fmt.Errorf("config.db.busy_timeout_ms cannot be negative")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, fileName)
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the built-in configuration.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// Load reads and validates config from workspace. A missing file yields the
// defaults.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses raw YAML over the defaults and validates the result.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `server:
  addr: 127.0.0.1:8080
  base_path: /v1

auth:
  # HS256 secret for bearer tokens; empty disables token auth
  jwt_secret: ""
  issuer: ""
  allow_legacy_actor_header: false

db:
  busy_timeout_ms: 5000

lock:
  # local serialises within one process; redis across replicas
  backend: local
  ttl: 30s
  redis:
    addr: 127.0.0.1:6379
    password: ""
    db: 0
    prefix: signup

kafka:
  enabled: false
  brokers: [127.0.0.1:9092]
  topic: signup.events
  poll_interval: 2s
  events: []
  from_start: false

log:
  level: info
  development: false
`
