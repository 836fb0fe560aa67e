package config

import (
	"errors"
	"fmt"
	"math"
	"net/url"
	"os"
	"time"

	"github.com/dmitrijs2005/cleansync/internal/client/conflict"
	"github.com/dmitrijs2005/cleansync/internal/client/identity"
)

// Config holds runtime settings for the sync agent.
type Config struct {
	// ServerURL is the base URL of the sync endpoint (push and pull paths are
	// appended to it).
	ServerURL string
	AuthToken string

	// DatabasePath is the SQLite file holding records, queues and conflicts.
	DatabasePath string

	SyncInterval      time.Duration
	RequestTimeout    time.Duration
	ConcurrencyWindow time.Duration

	MaxRetries     int
	BaseRetryDelay time.Duration
	MaxRetryDelay  time.Duration
	MaxQueueSize   int

	// PushRate caps pushes per second; 0 disables pacing.
	PushRate  float64
	PushBurst int

	Strategy     string
	PullOnRead   bool
	RunMigration bool
	Buckets      []string
	TaxRate      float64

	LogFile  string
	LogLevel string

	PostHogKey      string
	PostHogEndpoint string
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ServerURL = "http://127.0.0.1:8080"
	c.DatabasePath = "cleansync.db"
	c.SyncInterval = 30 * time.Second
	c.RequestTimeout = 10 * time.Second
	c.ConcurrencyWindow = conflict.DefaultWindow
	c.MaxRetries = 5
	c.BaseRetryDelay = time.Second
	c.MaxRetryDelay = 5 * time.Minute
	c.MaxQueueSize = 1000
	c.PushRate = 10
	c.PushBurst = 1
	c.Strategy = string(conflict.LastWriteWins)
	c.PullOnRead = true
	c.RunMigration = true
	c.Buckets = append([]string(nil), identity.DefaultBuckets...)
	c.TaxRate = identity.DefaultTaxRate
	c.LogLevel = "info"
}

// LoadConfig builds a Config from defaults, the optional JSON file and
// command-line flags taken from os.Args. Later sources take precedence.
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

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	var errs []error

	u, err := url.Parse(c.ServerURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("server url %q must be an absolute http(s) URL", c.ServerURL))
	}
	if c.DatabasePath == "" {
		errs = append(errs, errors.New("database path is required"))
	}
	if c.SyncInterval <= 0 {
		errs = append(errs, errors.New("sync interval must be positive"))
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, errors.New("request timeout must be positive"))
	}
	if c.ConcurrencyWindow <= 0 {
		errs = append(errs, errors.New("concurrency window must be positive"))
	}
	if c.MaxRetries < 1 {
		errs = append(errs, errors.New("max retries must be at least 1"))
	}
	if c.BaseRetryDelay <= 0 {
		errs = append(errs, errors.New("base retry delay must be positive"))
	}
	if c.MaxRetryDelay < c.BaseRetryDelay {
		errs = append(errs, errors.New("max retry delay must not be below the base delay"))
	}
	if c.MaxQueueSize < 1 {
		errs = append(errs, errors.New("max queue size must be at least 1"))
	}
	if c.PushRate < 0 || math.IsNaN(c.PushRate) {
		errs = append(errs, errors.New("push rate must not be negative"))
	}
	if c.PushBurst < 0 {
		errs = append(errs, errors.New("push burst must not be negative"))
	}
	if _, err := conflict.ParseStrategy(c.Strategy); err != nil {
		errs = append(errs, err)
	}
	if c.TaxRate < 0 || c.TaxRate >= 1 || math.IsNaN(c.TaxRate) {
		errs = append(errs, fmt.Errorf("tax rate %v must be in [0, 1)", c.TaxRate))
	}

	return errors.Join(errs...)
}
