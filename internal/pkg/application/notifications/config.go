package notifications

import (
	"io"
	"time"

	yaml "gopkg.in/yaml.v2"
)

const (
	DefaultMaxAttempts   = 3
	DefaultBackoffMillis = 200
	DefaultDigestHour    = 7
)

type ChannelConfig struct {
	Channel  string `yaml:"channel"`
	Endpoint string `yaml:"endpoint"`
}

type Config struct {
	Channels      []ChannelConfig `yaml:"channels"`
	MaxAttempts   int             `yaml:"maxAttempts"`
	BackoffMillis int             `yaml:"backoffMillis"`
	DigestHour    int             `yaml:"digestHour"`
}

func (c Config) backoffBase() time.Duration {
	return time.Duration(c.BackoffMillis) * time.Millisecond
}

func DefaultConfig() *Config {
	return &Config{
		MaxAttempts:   DefaultMaxAttempts,
		BackoffMillis: DefaultBackoffMillis,
		DigestHour:    DefaultDigestHour,
	}
}

func LoadConfiguration(data io.Reader) (*Config, error) {
	buf, err := io.ReadAll(data)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(buf, cfg); err != nil {
		return nil, err
	}

	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.BackoffMillis <= 0 {
		cfg.BackoffMillis = DefaultBackoffMillis
	}
	if cfg.DigestHour < 0 || cfg.DigestHour > 23 {
		cfg.DigestHour = DefaultDigestHour
	}

	return cfg, nil
}
