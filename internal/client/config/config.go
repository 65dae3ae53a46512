package config

import "time"

// Config holds runtime settings for the field client.
//
// Units: QuotaLimitBytes is in bytes; every interval is a time.Duration.
type Config struct {
	DatabasePath       string
	ServerEndpointAddr string
	AccessToken        string
	UserID             string
	LogLevel           string

	QuotaLimitBytes   int64
	ReconcileInterval time.Duration
	RetentionAge      time.Duration

	OnlineCheckInterval  time.Duration
	PushTimeout          time.Duration
	BackoffBase          time.Duration
	BackoffCap           time.Duration
	BackoffJitterPercent uint64
	MaxAttempts          int
	SyncWorkers          int
	PruneGrace           time.Duration
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.DatabasePath = "fieldsync.db"
	c.ServerEndpointAddr = "127.0.0.1:50051"
	c.UserID = "field-worker"
	c.LogLevel = "info"

	c.QuotaLimitBytes = 50 << 20
	c.ReconcileInterval = 10 * time.Minute
	c.RetentionAge = 90 * 24 * time.Hour

	c.OnlineCheckInterval = 3 * time.Second
	c.PushTimeout = 15 * time.Second
	c.BackoffBase = 2 * time.Second
	c.BackoffCap = 5 * time.Minute
	c.BackoffJitterPercent = 20
	c.MaxAttempts = 8
	c.SyncWorkers = 4
	c.PruneGrace = 24 * time.Hour
}

// LoadConfig constructs a Config from defaults, then a config file (if one
// is named with -c/-config) and finally command-line flags. Later sources
// take precedence over earlier ones.
func LoadConfig(args []string) (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()
	if err := parseFile(cfg, args); err != nil {
		return nil, err
	}
	if err := parseFlags(cfg, args); err != nil {
		return nil, err
	}
	return cfg, nil
}
