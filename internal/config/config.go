package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var ErrMissingToken = errors.New("discord token is not set")

type Config struct {
	DiscordToken     string    `json:"discord_token" yaml:"discord_token"`
	DataDir          string    `json:"data_dir" yaml:"data_dir"`
	AutoSaveInterval int       `json:"auto_save_interval" yaml:"auto_save_interval"`
	HandlerTimeout   int       `json:"handler_timeout" yaml:"handler_timeout"`
	GuildIdleTimeout int       `json:"guild_idle_timeout" yaml:"guild_idle_timeout"`
	QueueSize        int       `json:"queue_size" yaml:"queue_size"`
	LogLevel         string    `json:"log_level" yaml:"log_level"`
	MetricsAddr      string    `json:"metrics_addr" yaml:"metrics_addr"`
	RateLimit        RateLimit `json:"rate_limit" yaml:"rate_limit"`
}

type RateLimit struct {
	MaxRequests int   `json:"max_requests" yaml:"max_requests"`
	Window      int64 `json:"window" yaml:"window"`
}

func Default() *Config {
	return &Config{
		DataDir:          "configs",
		AutoSaveInterval: 60,
		HandlerTimeout:   10,
		GuildIdleTimeout: 300,
		QueueSize:        256,
		LogLevel:         "info",
		RateLimit: RateLimit{
			MaxRequests: 10,
			Window:      60,
		},
	}
}

// LoadConfig reads name as YAML when it ends in .yaml/.yml and as JSON otherwise.
// A missing file leaves the defaults in place. The token can be supplied with the
// DISCORD_TOKEN (or discord_api_key) environment variable, which wins over the file.
func LoadConfig(name string) (*Config, error) {
	config := Default()

	b, err := os.ReadFile(name)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		if err := decode(name, b, config); err != nil {
			return nil, fmt.Errorf("parse %s: %w", name, err)
		}
	}

	for _, key := range []string{"DISCORD_TOKEN", "discord_api_key"} {
		if token := os.Getenv(key); token != "" {
			config.DiscordToken = token
			break
		}
	}

	return config, nil
}

func decode(name string, b []byte, config *Config) error {
	if len(bytes.TrimSpace(b)) == 0 {
		return nil
	}

	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(b, config)
	default:
		return json.NewDecoder(bytes.NewBuffer(b)).Decode(config)
	}
}

// Validate reports settings the bot cannot run with.
func (c *Config) Validate() error {
	if c.DiscordToken == "" {
		return ErrMissingToken
	}
	return nil
}

// GuildIdleTimeoutDuration is how long a guild's event worker may sit idle.
func (c *Config) GuildIdleTimeoutDuration() time.Duration {
	return time.Duration(c.GuildIdleTimeout) * time.Second
}

func (c *Config) AutoSaveEvery() time.Duration {
	return time.Duration(c.AutoSaveInterval) * time.Second
}

func (c *Config) HandlerTimeoutDuration() time.Duration {
	return time.Duration(c.HandlerTimeout) * time.Second
}

func (c *Config) RateWindow() time.Duration {
	return time.Duration(c.RateLimit.Window) * time.Second
}
