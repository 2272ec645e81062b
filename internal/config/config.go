package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config is an immutable snapshot of daemon configuration. It is built once
// by Load and passed to Core at construction; nothing mutates it afterwards.
type Config struct {
	// Device identifies which plugins load on this host ("server", "laptop", ...).
	Device string

	// DataDir holds the database, PID file, log file and local archives.
	DataDir string

	// HTTP surface.
	Host string
	Port int
	// BaseURL is the externally reachable prefix used in magic-link URLs.
	BaseURL string

	// Archiving.
	ArchiveLocalByDefault bool
	ArchiveLocalFormat    string // "monolith" or "warc"
	ArchiveBoxQueueLimit  int
	ArchiveRetryMax       int
	// ArchiveBox remote; empty host leaves the provider unconfigured.
	ArchiveBoxHost    string // ssh destination, e.g. "user@box"
	ArchiveBoxDir     string
	ArchiveBoxWebBase string

	// Link health checking.
	LinkCheckInterval   time.Duration
	LinkCheckBatchSize  int
	LinkCheckTimeout    time.Duration
	LinkCheckDelay      time.Duration
	HealthcheckPingURL  string
	HealthcheckInterval time.Duration

	// Auth.
	MagicLinkTTL time.Duration

	LogLevel string
}

// DatabasePath returns the SQLite file location under the data dir.
func (c Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "holocene.db")
}

// PIDPath returns the daemon PID file location.
func (c Config) PIDPath() string {
	return filepath.Join(c.DataDir, "holod.pid")
}

// LogPath returns the daemon log file location.
func (c Config) LogPath() string {
	return filepath.Join(c.DataDir, "holod.log")
}

// ArchiveRoot returns the base directory for local snapshots.
func (c Config) ArchiveRoot() string {
	return filepath.Join(c.DataDir, "archives")
}

// ListenAddr returns the host:port the API server binds.
func (c Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ExpandHome rewrites a leading "~/" to the user home directory.
func ExpandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		if path == "~" {
			return home
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
