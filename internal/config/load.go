package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Defaults used when the config file or environment leaves a knob unset.
const (
	DefaultPort                = 5555
	DefaultDevice              = "server"
	DefaultLinkCheckBatch      = 50
	DefaultArchiveRetryMax     = 10
	DefaultArchiveBoxQueueMax  = 25
	DefaultLinkCheckInterval   = time.Hour
	DefaultLinkCheckTimeout    = 15 * time.Second
	DefaultLinkCheckDelay      = 1500 * time.Millisecond
	DefaultHealthcheckInterval = time.Minute
	DefaultMagicLinkTTL        = 5 * time.Minute
)

// Load reads the daemon configuration from an optional YAML file plus
// HOLOD_-prefixed environment overrides. A missing file is not an error;
// every field has a default.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("HOLOD")
	// Nested keys map dots to underscores: archive.retry_max reads
	// HOLOD_ARCHIVE_RETRY_MAX.
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("device", DefaultDevice)
	v.SetDefault("data_dir", "~/.holocene")
	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("port", DefaultPort)
	v.SetDefault("base_url", "")
	v.SetDefault("archive.local_by_default", true)
	v.SetDefault("archive.local_format", "monolith")
	v.SetDefault("archive.box_queue_limit", DefaultArchiveBoxQueueMax)
	v.SetDefault("archive.retry_max", DefaultArchiveRetryMax)
	v.SetDefault("archive.box_host", "")
	v.SetDefault("archive.box_dir", "~/archivebox")
	v.SetDefault("archive.box_web_base", "")
	v.SetDefault("linkcheck.interval", DefaultLinkCheckInterval)
	v.SetDefault("linkcheck.batch_size", DefaultLinkCheckBatch)
	v.SetDefault("linkcheck.timeout", DefaultLinkCheckTimeout)
	v.SetDefault("linkcheck.delay", DefaultLinkCheckDelay)
	v.SetDefault("healthcheck.ping_url", "")
	v.SetDefault("healthcheck.interval", DefaultHealthcheckInterval)
	v.SetDefault("auth.magic_link_ttl", DefaultMagicLinkTTL)
	v.SetDefault("log_level", "info")

	if path != "" {
		v.SetConfigFile(ExpandHome(path))
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, err
			}
		}
	}

	cfg := Config{
		Device:                v.GetString("device"),
		DataDir:               ExpandHome(v.GetString("data_dir")),
		Host:                  v.GetString("host"),
		Port:                  v.GetInt("port"),
		BaseURL:               v.GetString("base_url"),
		ArchiveLocalByDefault: v.GetBool("archive.local_by_default"),
		ArchiveLocalFormat:    v.GetString("archive.local_format"),
		ArchiveBoxQueueLimit:  v.GetInt("archive.box_queue_limit"),
		ArchiveRetryMax:       v.GetInt("archive.retry_max"),
		ArchiveBoxHost:        v.GetString("archive.box_host"),
		ArchiveBoxDir:         v.GetString("archive.box_dir"),
		ArchiveBoxWebBase:     v.GetString("archive.box_web_base"),
		LinkCheckInterval:     v.GetDuration("linkcheck.interval"),
		LinkCheckBatchSize:    v.GetInt("linkcheck.batch_size"),
		LinkCheckTimeout:      v.GetDuration("linkcheck.timeout"),
		LinkCheckDelay:        v.GetDuration("linkcheck.delay"),
		HealthcheckPingURL:    v.GetString("healthcheck.ping_url"),
		HealthcheckInterval:   v.GetDuration("healthcheck.interval"),
		MagicLinkTTL:          v.GetDuration("auth.magic_link_ttl"),
		LogLevel:              v.GetString("log_level"),
	}
	return cfg, nil
}
