package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/dmitrijs2005/cleansync/internal/flagx"
	"github.com/dmitrijs2005/cleansync/internal/timex"
)

// JsonConfig is the DTO read from the JSON config file. Durations accept
// "10s" style strings or integer nanoseconds.
type JsonConfig struct {
	Address               string          `json:"address"`
	DatabaseDSN           string          `json:"database_dsn"`
	SecretKey             string          `json:"secret_key"`
	TokenValidityDuration *timex.Duration `json:"token_validity_duration"`
	ShutdownTimeout       *timex.Duration `json:"shutdown_timeout"`
	MaxBodyBytes          *int64          `json:"max_body_bytes"`
	LogFile               string          `json:"log_file"`
	LogLevel              string          `json:"log_level"`
}

// parseJson overlays cfg with the file named by -c/-config in args.
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

	if jc.Address != "" {
		cfg.Address = jc.Address
	}
	if jc.DatabaseDSN != "" {
		cfg.DatabaseDSN = jc.DatabaseDSN
	}
	if jc.SecretKey != "" {
		cfg.SecretKey = jc.SecretKey
	}
	if jc.TokenValidityDuration != nil {
		cfg.TokenValidityDuration = jc.TokenValidityDuration.Duration
	}
	if jc.ShutdownTimeout != nil {
		cfg.ShutdownTimeout = jc.ShutdownTimeout.Duration
	}
	if jc.MaxBodyBytes != nil {
		cfg.MaxBodyBytes = *jc.MaxBodyBytes
	}
	if jc.LogFile != "" {
		cfg.LogFile = jc.LogFile
	}
	if jc.LogLevel != "" {
		cfg.LogLevel = jc.LogLevel
	}
	return nil
}
