package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/dmitrijs2005/cleansync/internal/flagx"
	"github.com/dmitrijs2005/cleansync/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling. Durations
// accept strings like "3s" or integer nanoseconds. Pointer fields tell an
// explicit false or zero apart from an absent key.
type JsonConfig struct {
	ServerURL         string          `json:"server_url"`
	AuthToken         string          `json:"auth_token"`
	DatabasePath      string          `json:"database_path"`
	SyncInterval      *timex.Duration `json:"sync_interval"`
	RequestTimeout    *timex.Duration `json:"request_timeout"`
	ConcurrencyWindow *timex.Duration `json:"concurrency_window"`
	MaxRetries        *int            `json:"max_retries"`
	BaseRetryDelay    *timex.Duration `json:"base_retry_delay"`
	MaxRetryDelay     *timex.Duration `json:"max_retry_delay"`
	MaxQueueSize      *int            `json:"max_queue_size"`
	PushRate          *float64        `json:"push_rate"`
	PushBurst         *int            `json:"push_burst"`
	Strategy          string          `json:"strategy"`
	PullOnRead        *bool           `json:"pull_on_read"`
	RunMigration      *bool           `json:"run_migration"`
	Buckets           []string        `json:"buckets"`
	TaxRate           *float64        `json:"tax_rate"`
	LogFile           string          `json:"log_file"`
	LogLevel          string          `json:"log_level"`
	PostHogKey        string          `json:"posthog_key"`
	PostHogEndpoint   string          `json:"posthog_endpoint"`
}

// parseJson overlays cfg with the JSON file named by -c/-config in args.
// Keys missing from the file leave the current values untouched.
func parseJson(cfg *Config, args []string) error {
	path := flagx.JsonConfigPath(args)
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}

	var jc JsonConfig
	if err := json.Unmarshal(data, &jc); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	jc.apply(cfg)
	return nil
}

func (jc *JsonConfig) apply(cfg *Config) {
	setString(&cfg.ServerURL, jc.ServerURL)
	setString(&cfg.AuthToken, jc.AuthToken)
	setString(&cfg.DatabasePath, jc.DatabasePath)
	setDuration(&cfg.SyncInterval, jc.SyncInterval)
	setDuration(&cfg.RequestTimeout, jc.RequestTimeout)
	setDuration(&cfg.ConcurrencyWindow, jc.ConcurrencyWindow)
	setValue(&cfg.MaxRetries, jc.MaxRetries)
	setDuration(&cfg.BaseRetryDelay, jc.BaseRetryDelay)
	setDuration(&cfg.MaxRetryDelay, jc.MaxRetryDelay)
	setValue(&cfg.MaxQueueSize, jc.MaxQueueSize)
	setValue(&cfg.PushRate, jc.PushRate)
	setValue(&cfg.PushBurst, jc.PushBurst)
	setString(&cfg.Strategy, jc.Strategy)
	setValue(&cfg.PullOnRead, jc.PullOnRead)
	setValue(&cfg.RunMigration, jc.RunMigration)
	if len(jc.Buckets) > 0 {
		cfg.Buckets = append([]string(nil), jc.Buckets...)
	}
	setValue(&cfg.TaxRate, jc.TaxRate)
	setString(&cfg.LogFile, jc.LogFile)
	setString(&cfg.LogLevel, jc.LogLevel)
	setString(&cfg.PostHogKey, jc.PostHogKey)
	setString(&cfg.PostHogEndpoint, jc.PostHogEndpoint)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setValue[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

func setDuration(dst *time.Duration, v *timex.Duration) {
	if v != nil {
		*dst = v.Duration
	}
}
