package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/grantstore/internal/flagx"
)

var flagNames = []string{"-a", "-d", "-m", "-l", "-x", "-i", "-n", "-t", "-u", "-p", "-b", "-g", "-e", "-r", "-q"}

// parseFlags overlays command-line flags onto config:
//
//	-a string   gRPC health endpoint address
//	-d string   PostgreSQL DSN
//	-m string   Prometheus /metrics address (empty disables)
//	-l string   log level (debug, info, warn, error)
//	-x bool     enable the cleanup reaper
//	-i int      cleanup interval, seconds
//	-n int      cleanup batch size
//	-t int      removal notification timeout, seconds
//	-u, -p      S3 user and password
//	-b string   S3 bucket for archived removals (empty disables)
//	-g, -e      S3 region and base endpoint
//	-r string   Redis address for the cleanup lock (empty disables)
//	-q string   NATS URL for removal events (empty disables)
//
// Unknown arguments are ignored. Invalid values panic.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], flagNames)

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddrGRPC, "a", config.EndpointAddrGRPC, "address and port of the gRPC health endpoint")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.MetricsAddr, "m", config.MetricsAddr, "metrics address")
	fs.StringVar(&config.LogLevel, "l", config.LogLevel, "log level")
	fs.BoolVar(&config.CleanupEnabled, "x", config.CleanupEnabled, "enable token cleanup")

	cleanupInterval := fs.Int("i", int(config.CleanupInterval.Seconds()), "token cleanup interval (in seconds)")
	fs.IntVar(&config.CleanupBatchSize, "n", config.CleanupBatchSize, "token cleanup batch size")
	notificationTimeout := fs.Int("t", int(config.NotificationTimeout.Seconds()), "removal notification timeout (in seconds)")

	fs.StringVar(&config.S3RootUser, "u", config.S3RootUser, "S3 root user")
	fs.StringVar(&config.S3RootPassword, "p", config.S3RootPassword, "S3 root password")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 archive bucket")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")
	fs.StringVar(&config.RedisAddr, "r", config.RedisAddr, "Redis address")
	fs.StringVar(&config.NATSURL, "q", config.NATSURL, "NATS URL")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	// seconds only replace durations that were given on the command line,
	// so finer values from JSON survive
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "i":
			config.CleanupInterval = time.Duration(*cleanupInterval) * time.Second
		case "t":
			config.NotificationTimeout = time.Duration(*notificationTimeout) * time.Second
		}
	})
}
