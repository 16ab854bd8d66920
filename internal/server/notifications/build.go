package notifications

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/grantstore/internal/server/cleanup"
	"github.com/dmitrijs2005/grantstore/internal/server/config"
)

// Settings selects the removal sinks. A sink is off while its bucket or URL
// is empty.
type Settings struct {
	S3      S3Config
	NATSURL string

	// DialNATS replaces Connect when set.
	DialNATS func(url string) (Conn, func(), error)
}

// SettingsFromConfig picks the sink settings out of the daemon config.
func SettingsFromConfig(c *config.Config) Settings {
	return Settings{
		S3: S3Config{
			RootUser:     c.S3RootUser,
			RootPassword: c.S3RootPassword,
			Bucket:       c.S3Bucket,
			Region:       c.S3Region,
			BaseEndpoint: c.S3BaseEndpoint,
		},
		NATSURL: c.NATSURL,
	}
}

func dialNATS(url string) (Conn, func(), error) {
	nc, err := Connect(url)
	if err != nil {
		return nil, nil, err
	}
	return nc, nc.Close, nil
}

// Build returns the configured sinks as one notifier, or nil when none is
// configured. closeAll releases their connections and is never nil.
func Build(ctx context.Context, s Settings) (n cleanup.Notifier, closeAll func(), err error) {
	var (
		fanout  Fanout
		closers []func()
	)
	closeAll = func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if s.S3.Bucket != "" {
		client, err := NewS3Client(ctx, s.S3)
		if err != nil {
			return nil, closeAll, fmt.Errorf("s3 init error: %w", err)
		}
		fanout = append(fanout, NewS3Archiver(client, s.S3.Bucket))
	}

	if s.NATSURL != "" {
		dial := s.DialNATS
		if dial == nil {
			dial = dialNATS
		}
		conn, closeConn, err := dial(s.NATSURL)
		if err != nil {
			return nil, closeAll, fmt.Errorf("nats init error: %w", err)
		}
		closers = append(closers, closeConn)
		fanout = append(fanout, NewNATSPublisher(conn))
	}

	if len(fanout) == 0 {
		return nil, closeAll, nil
	}
	return fanout, closeAll, nil
}
