package config

import (
	"flag"
	"io"
	"time"

	"github.com/pashudhan/fieldsync/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Only the flags known here are parsed; args is filtered with
// flagx.FilterArgs so other layers' flags do not interfere.
func parseFlags(cfg *Config, args []string) error {
	args = flagx.FilterArgs(args, []string{"-a", "-d", "-t", "-u", "-q", "-i", "-w", "-l"})

	fs := flag.NewFlagSet("client", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&cfg.ServerEndpointAddr, "a", cfg.ServerEndpointAddr, "address and port of the sync server")
	fs.StringVar(&cfg.DatabasePath, "d", cfg.DatabasePath, "local database path")
	fs.StringVar(&cfg.AccessToken, "t", cfg.AccessToken, "access token")
	fs.StringVar(&cfg.UserID, "u", cfg.UserID, "user id for new captures")
	fs.StringVar(&cfg.LogLevel, "l", cfg.LogLevel, "log level")
	fs.IntVar(&cfg.SyncWorkers, "w", cfg.SyncWorkers, "concurrent sync workers")
	quotaMiB := fs.Int64("q", cfg.QuotaLimitBytes>>20, "storage quota (in MiB)")
	onlineCheckInterval := fs.Int("i", int(cfg.OnlineCheckInterval.Seconds()), "online check interval (in seconds)")

	if err := fs.Parse(args); err != nil {
		return err
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "q":
			cfg.QuotaLimitBytes = *quotaMiB << 20
		case "i":
			cfg.OnlineCheckInterval = time.Duration(*onlineCheckInterval) * time.Second
		}
	})
	return nil
}
