package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/dmitrijs2005/grantstore/internal/flagx"
	"github.com/dmitrijs2005/grantstore/internal/timex"
)

// JsonConfig is the on-disk form of Config. Durations accept "90s" style
// strings or integer nanoseconds. Absent keys leave the current value alone.
type JsonConfig struct {
	EndpointAddrGRPC    string         `json:"endpoint_addr_grpc"`
	DatabaseDSN         string         `json:"database_dsn"`
	MetricsAddr         string         `json:"metrics_addr"`
	LogLevel            string         `json:"log_level"`
	CleanupEnabled      *bool          `json:"cleanup_enabled"`
	CleanupInterval     timex.Duration `json:"cleanup_interval"`
	CleanupBatchSize    int            `json:"cleanup_batch_size"`
	NotificationTimeout timex.Duration `json:"notification_timeout"`
	S3RootUser          string         `json:"s3_root_user"`
	S3RootPassword      string         `json:"s3_root_password"`
	S3Bucket            string         `json:"s3_bucket"`
	S3Region            string         `json:"s3_region"`
	S3BaseEndpoint      string         `json:"s3_base_endpoint"`
	RedisAddr           string         `json:"redis_addr"`
	NATSURL             string         `json:"nats_url"`
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// parseJson overlays the JSON config file onto config. It panics when the
// file cannot be read or parsed.
func parseJson(config *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()

	if jsonConfigFile == "" {
		return
	}

	if err := overlayJSON(config, jsonConfigFile); err != nil {
		panic(err)
	}
}

func overlayJSON(config *Config, path string) error {
	c := &JsonConfig{}

	file, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(file, c); err != nil {
		return fmt.Errorf("config %s: %w", path, err)
	}

	setString(&config.EndpointAddrGRPC, c.EndpointAddrGRPC)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.MetricsAddr, c.MetricsAddr)
	setString(&config.LogLevel, c.LogLevel)
	if c.CleanupEnabled != nil {
		config.CleanupEnabled = *c.CleanupEnabled
	}
	if c.CleanupInterval.Duration != 0 {
		config.CleanupInterval = c.CleanupInterval.Duration
	}
	if c.CleanupBatchSize != 0 {
		config.CleanupBatchSize = c.CleanupBatchSize
	}
	if c.NotificationTimeout.Duration != 0 {
		config.NotificationTimeout = c.NotificationTimeout.Duration
	}
	setString(&config.S3RootUser, c.S3RootUser)
	setString(&config.S3RootPassword, c.S3RootPassword)
	setString(&config.S3Bucket, c.S3Bucket)
	setString(&config.S3Region, c.S3Region)
	setString(&config.S3BaseEndpoint, c.S3BaseEndpoint)
	setString(&config.RedisAddr, c.RedisAddr)
	setString(&config.NATSURL, c.NATSURL)
	return nil
}
