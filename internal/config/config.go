// Package config loads chatwire configuration from environment variables,
// with an optional .env file for development. Precedence: environment
// variables, then .env, then defaults.
package config

import (
	"fmt"
	"net"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Server holds chat server configuration.
type Server struct {
	ChatAddr   string `env:"CHATWIRE_CHAT_ADDR" envDefault:":8800"`
	StatusAddr string `env:"CHATWIRE_STATUS_ADDR" envDefault:":8080"`
	FeedAddr   string `env:"CHATWIRE_FEED_ADDR" envDefault:":8081"`

	RateLimit  int           `env:"CHATWIRE_RATE_LIMIT" envDefault:"10"`
	RateWindow time.Duration `env:"CHATWIRE_RATE_WINDOW" envDefault:"60s"`

	NegotiateTimeout time.Duration `env:"CHATWIRE_NEGOTIATE_TIMEOUT" envDefault:"30s"`
	IdleTimeout      time.Duration `env:"CHATWIRE_IDLE_TIMEOUT" envDefault:"5m"`

	LogFile string `env:"CHATWIRE_LOG_FILE" envDefault:"chat_log.txt"`
}

// Relay holds relay proxy configuration.
type Relay struct {
	Addr        string        `env:"CHATWIRE_RELAY_ADDR" envDefault:":8900"`
	Upstream    string        `env:"CHATWIRE_UPSTREAM" envDefault:"localhost:8800"`
	DialTimeout time.Duration `env:"CHATWIRE_DIAL_TIMEOUT" envDefault:"10s"`
	LogFile     string        `env:"CHATWIRE_RELAY_LOG_FILE" envDefault:"relay_log.txt"`
}

// LoadServer reads server configuration. A missing .env file is fine; the
// environment alone is enough.
func LoadServer() (Server, error) {
	_ = godotenv.Load()
	var cfg Server
	if err := env.Parse(&cfg); err != nil {
		return Server{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Server{}, err
	}
	return cfg, nil
}

// LoadRelay reads relay configuration.
func LoadRelay() (Relay, error) {
	_ = godotenv.Load()
	var cfg Relay
	if err := env.Parse(&cfg); err != nil {
		return Relay{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Relay{}, err
	}
	return cfg, nil
}

// Validate checks server configuration for errors.
func (c Server) Validate() error {
	for name, addr := range map[string]string{
		"CHATWIRE_CHAT_ADDR":   c.ChatAddr,
		"CHATWIRE_STATUS_ADDR": c.StatusAddr,
		"CHATWIRE_FEED_ADDR":   c.FeedAddr,
	} {
		if _, _, err := net.SplitHostPort(addr); err != nil {
			return fmt.Errorf("%s: invalid address %q: %w", name, addr, err)
		}
	}
	if c.RateLimit < 1 {
		return fmt.Errorf("CHATWIRE_RATE_LIMIT must be > 0, got %d", c.RateLimit)
	}
	if c.RateWindow <= 0 {
		return fmt.Errorf("CHATWIRE_RATE_WINDOW must be > 0, got %s", c.RateWindow)
	}
	if c.LogFile == "" {
		return fmt.Errorf("CHATWIRE_LOG_FILE is required")
	}
	return nil
}

// FeedPort returns the port of the monitoring feed address, for the status
// page's WebSocket URL.
func (c Server) FeedPort() string {
	_, port, err := net.SplitHostPort(c.FeedAddr)
	if err != nil {
		return ""
	}
	return port
}

// Validate checks relay configuration for errors.
func (c Relay) Validate() error {
	if _, _, err := net.SplitHostPort(c.Addr); err != nil {
		return fmt.Errorf("CHATWIRE_RELAY_ADDR: invalid address %q: %w", c.Addr, err)
	}
	if _, _, err := net.SplitHostPort(c.Upstream); err != nil {
		return fmt.Errorf("CHATWIRE_UPSTREAM: invalid address %q: %w", c.Upstream, err)
	}
	if c.DialTimeout <= 0 {
		return fmt.Errorf("CHATWIRE_DIAL_TIMEOUT must be > 0, got %s", c.DialTimeout)
	}
	if c.LogFile == "" {
		return fmt.Errorf("CHATWIRE_RELAY_LOG_FILE is required")
	}
	return nil
}
