// Package config handles configuration for the reference sync endpoint,
// including defaults, JSON overlay, and command-line flags.
package config

import (
	"errors"
	"os"
	"time"
)

// Config holds runtime settings for the sync endpoint.
//
// Fields:
//   - Address: bind address of the HTTP listener.
//   - DatabaseDSN: PostgreSQL DSN (pgx). Empty selects the in-memory change log.
//   - SecretKey: HMAC secret for verifying bearer tokens (HS256).
//   - TokenValidityDuration: lifetime of tokens minted by the token command.
type Config struct {
	Address               string
	DatabaseDSN           string
	SecretKey             string
	TokenValidityDuration time.Duration
	ShutdownTimeout       time.Duration
	MaxBodyBytes          int64
	LogFile               string
	LogLevel              string
}

// LoadDefaults populates Config with development defaults.
// NOTE: the secret must be overridden outside of development.
func (c *Config) LoadDefaults() {
	c.Address = ":8080"
	c.SecretKey = "secretKey"
	c.TokenValidityDuration = 24 * time.Hour
	c.ShutdownTimeout = 10 * time.Second
	c.MaxBodyBytes = 1 << 20
	c.LogLevel = "info"
}

// LoadConfig builds a Config by applying defaults, then overlaying values
// from an optional JSON file and finally from command-line flags.
func LoadConfig() (*Config, error) {
	return Load(os.Args[1:])
}

// Load is LoadConfig over an explicit argument list.
func Load(args []string) (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()
	if err := parseJson(cfg, args); err != nil {
		return nil, err
	}
	if err := parseFlags(cfg, args); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the endpoint cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if c.Address == "" {
		errs = append(errs, errors.New("address is required"))
	}
	if c.SecretKey == "" {
		errs = append(errs, errors.New("secret key is required"))
	}
	if c.TokenValidityDuration <= 0 {
		errs = append(errs, errors.New("token validity must be positive"))
	}
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("shutdown timeout must be positive"))
	}
	if c.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("max body size must be positive"))
	}
	return errors.Join(errs...)
}
