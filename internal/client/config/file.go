package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pashudhan/fieldsync/internal/flagx"
	"github.com/pashudhan/fieldsync/internal/timex"
)

// FileConfig is a DTO used exclusively for decoding config files. Pointer
// fields tell an absent key from a zero value.
type FileConfig struct {
	DatabasePath       *string `json:"database_path" yaml:"database_path"`
	ServerEndpointAddr *string `json:"server_endpoint_addr" yaml:"server_endpoint_addr"`
	AccessToken        *string `json:"access_token" yaml:"access_token"`
	UserID             *string `json:"user_id" yaml:"user_id"`
	LogLevel           *string `json:"log_level" yaml:"log_level"`

	QuotaLimitBytes   *int64          `json:"quota_limit_bytes" yaml:"quota_limit_bytes"`
	ReconcileInterval *timex.Duration `json:"reconcile_interval" yaml:"reconcile_interval"`
	RetentionAge      *timex.Duration `json:"retention_age" yaml:"retention_age"`

	OnlineCheckInterval  *timex.Duration `json:"online_check_interval" yaml:"online_check_interval"`
	PushTimeout          *timex.Duration `json:"push_timeout" yaml:"push_timeout"`
	BackoffBase          *timex.Duration `json:"backoff_base" yaml:"backoff_base"`
	BackoffCap           *timex.Duration `json:"backoff_cap" yaml:"backoff_cap"`
	BackoffJitterPercent *uint64         `json:"backoff_jitter_percent" yaml:"backoff_jitter_percent"`
	MaxAttempts          *int            `json:"max_attempts" yaml:"max_attempts"`
	SyncWorkers          *int            `json:"sync_workers" yaml:"sync_workers"`
	PruneGrace           *timex.Duration `json:"prune_grace" yaml:"prune_grace"`
}

// parseFile overlays cfg with the file named by -c/-config in args. It is a
// no-op when no file is named.
func parseFile(cfg *Config, args []string) error {
	path := flagx.ConfigFileFlag(args)
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	var fc FileConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &fc)
	default:
		err = json.Unmarshal(data, &fc)
	}
	if err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	fc.apply(cfg)
	return nil
}

func set[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

func setDuration(dst *time.Duration, src *timex.Duration) {
	if src != nil {
		*dst = src.Duration
	}
}

func (fc *FileConfig) apply(cfg *Config) {
	set(&cfg.DatabasePath, fc.DatabasePath)
	set(&cfg.ServerEndpointAddr, fc.ServerEndpointAddr)
	set(&cfg.AccessToken, fc.AccessToken)
	set(&cfg.UserID, fc.UserID)
	set(&cfg.LogLevel, fc.LogLevel)
	set(&cfg.QuotaLimitBytes, fc.QuotaLimitBytes)
	setDuration(&cfg.ReconcileInterval, fc.ReconcileInterval)
	setDuration(&cfg.RetentionAge, fc.RetentionAge)
	setDuration(&cfg.OnlineCheckInterval, fc.OnlineCheckInterval)
	setDuration(&cfg.PushTimeout, fc.PushTimeout)
	setDuration(&cfg.BackoffBase, fc.BackoffBase)
	setDuration(&cfg.BackoffCap, fc.BackoffCap)
	set(&cfg.BackoffJitterPercent, fc.BackoffJitterPercent)
	set(&cfg.MaxAttempts, fc.MaxAttempts)
	set(&cfg.SyncWorkers, fc.SyncWorkers)
	setDuration(&cfg.PruneGrace, fc.PruneGrace)
}
