package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// DefaultServerURL is the hosted chatty backend used when no config exists.
const DefaultServerURL = "https://api-chatty.onrender.com"

// Config represents the global ~/.chatty/config.toml.
type Config struct {
	ServerURL      string   `toml:"server_url"`
	DefaultSession string   `toml:"default_session"`
	STUNServers    []string `toml:"stun_servers"`
}

// Default returns a config with all defaults applied.
func Default() *Config {
	return &Config{
		ServerURL:   DefaultServerURL,
		STUNServers: []string{"stun:stun.l.google.com:19302"},
	}
}

// Load reads config from the given path and applies defaults for unset fields.
// Returns an error if the file is missing.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	if cfg.ServerURL == "" {
		cfg.ServerURL = DefaultServerURL
	}
	if len(cfg.STUNServers) == 0 {
		cfg.STUNServers = Default().STUNServers
	}
	return &cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// APIBaseURL returns the REST base path on the backend.
func (c *Config) APIBaseURL() string {
	return c.ServerURL + "/api"
}

// WebsocketURL returns the push channel endpoint derived from server_url.
func (c *Config) WebsocketURL() (string, error) {
	u, err := url.Parse(c.ServerURL)
	if err != nil {
		return "", fmt.Errorf("parse server_url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("unsupported server_url scheme %q", u.Scheme)
	}
	u.Path = "/ws"
	return u.String(), nil
}
