package server

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config is the daemon configuration, loaded from WINDMILL_* environment
// variables.
type Config struct {
	// Addr is the HTTP listen address.
	Addr string `env:"WINDMILL_ADDR" envDefault:":8080"`

	// HostToken overrides the generated seller credential. Intended for
	// tests; leave empty in production so a random token is issued.
	HostToken string `env:"WINDMILL_HOST_TOKEN"`

	// MaxRooms caps concurrently open auction rooms. Zero means no cap.
	MaxRooms int `env:"WINDMILL_MAX_ROOMS" envDefault:"64"`
}

// LoadConfig reads the configuration from the environment.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}
