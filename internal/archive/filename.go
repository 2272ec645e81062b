package archive

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"
)

// Local snapshot formats.
const (
	FormatMonolith = "monolith"
	FormatWARC     = "warc"
)

// SnapshotFilename builds the canonical local archive filename:
// {domain}_{sha256(url)[:8]}_{YYYYMMDD_HHMMSS}.{html|warc.gz}. A new name is
// generated per call; local archiving is deliberately never deduplicated.
func SnapshotFilename(rawURL, format string, now time.Time) string {
	domain := "unknown"
	if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
		domain = strings.TrimPrefix(strings.ToLower(u.Host), "www.")
	}
	sum := sha256.Sum256([]byte(rawURL))
	hash := hex.EncodeToString(sum[:])[:8]

	ext := "html"
	if format == FormatWARC {
		ext = "warc.gz"
	}
	return fmt.Sprintf("%s_%s_%s.%s", domain, hash, now.Format("20060102_150405"), ext)
}

// SnapshotPath resolves the destination for a local snapshot under the
// archive root: archives/{monolith,warc}/{filename}.
func SnapshotPath(root, rawURL, format string, now time.Time) string {
	return filepath.Join(root, format, SnapshotFilename(rawURL, format, now))
}
