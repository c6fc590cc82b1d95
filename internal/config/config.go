// Package config loads the runtime configuration for the popcast CLI from a
// YAML file and/or environment variables.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config stores all tunables of the hand-off core and the demo CLI.
type Config struct {
	Env     string        `yaml:"env" env:"POPCAST_ENV" env-default:"local"`
	Media   MediaConfig   `yaml:"media"`
	Session SessionConfig `yaml:"session"`
	Channel ChannelConfig `yaml:"channel"`
}

// MediaConfig selects the shared media source.
type MediaConfig struct {
	File        string `yaml:"file" env:"POPCAST_MEDIA_FILE"`           // IVF file to play and share
	Device      bool   `yaml:"device" env:"POPCAST_MEDIA_DEVICE"`       // capture from camera instead
	FallbackURL string `yaml:"fallback_url" env:"POPCAST_FALLBACK_URL"` // degraded-mode direct URL
}

// SessionConfig tunes the peer session lifecycle.
type SessionConfig struct {
	STUNServers  []string      `yaml:"stun_servers"`
	GraceWindow  time.Duration `yaml:"grace_window" env:"POPCAST_GRACE_WINDOW" env-default:"5s"`
	PollInterval time.Duration `yaml:"poll_interval" env:"POPCAST_POLL_INTERVAL" env-default:"1s"`
}

// ChannelConfig selects the raw message channel implementation.
type ChannelConfig struct {
	// HubURL points at a WebSocket hub bridging contexts in separate
	// processes. Empty selects the in-process loopback bus.
	HubURL string `yaml:"hub_url" env:"POPCAST_HUB_URL"`
}

// Load reads the file at path when given, otherwise only the environment.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file: %w", err)
		}
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	return &cfg, nil
}
