// Package config loads runtime configuration for the sync agent.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file selected via -c or -config.
//  3. Command-line flags, which override earlier values.
//
// The result is checked with (*Config).Validate; a malformed configuration
// fails startup.
//
// # JSON schema
//
// Durations can be strings like "30s" or integer nanoseconds:
//
//	{
//	  "server_url": "https://sync.example.com",
//	  "auth_token": "eyJhbGciOi...",
//	  "database_path": "/var/lib/cleansync/client.db",
//	  "sync_interval": "30s",
//	  "request_timeout": "10s",
//	  "concurrency_window": "60s",
//	  "max_retries": 5,
//	  "base_retry_delay": "1s",
//	  "max_retry_delay": "5m",
//	  "max_queue_size": 1000,
//	  "push_rate": 10,
//	  "strategy": "last-write-wins",
//	  "pull_on_read": true,
//	  "run_migration": true,
//	  "buckets": ["quotes", "invoices", "clients", "contracts"],
//	  "tax_rate": 0.15,
//	  "log_file": "/var/log/cleansync/client.log",
//	  "posthog_key": "phc_..."
//	}
package config
