// Package config loads runtime configuration for the field client.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional config file selected with -c or -config. Files ending in
//     .yaml or .yml are read as YAML, anything else as JSON.
//  3. Command-line flags (see parseFlags), which override earlier values.
//
// Supported flags
//
//	-a string   address:port of the system of record
//	-d string   path of the local SQLite database
//	-t string   access token sent with every push
//	-u string   user id stamped on new captures
//	-q int      local storage quota in MiB
//	-i int      online status check interval (seconds)
//	-w int      concurrent sync workers
//	-l string   log level (debug, info, warn, error)
//
// # File schema
//
// Intervals use timex.Duration, so they can be strings like "3s" or integer
// nanoseconds. Keys that are absent keep their previous value:
//
//	{
//	  "database_path": "/var/lib/fieldsync/records.db",
//	  "server_endpoint_addr": "sync.example.org:50051",
//	  "quota_limit_bytes": 52428800,
//	  "backoff_base": "2s",
//	  "backoff_cap": "5m",
//	  "retention_age": "2160h"
//	}
package config
