package archive

import (
	"context"
	"time"
)

// LocalSnapshotter writes a self-contained snapshot of url to destPath.
// Implementations shell out to monolith or a WARC capture tool; the core only
// cares about the resulting file and its size.
type LocalSnapshotter interface {
	Snapshot(ctx context.Context, url, format, destPath string) (size int64, err error)
}

// SaveResult is the outcome of an Internet Archive save request.
type SaveResult struct {
	Status      string
	SnapshotURL string
	ArchiveDate *time.Time
}

// IASaveClient submits a URL to the Internet Archive save endpoint.
type IASaveClient interface {
	SaveURL(ctx context.Context, url string, force bool) (SaveResult, error)
}

// BoxResult is the outcome of an ArchiveBox submission.
type BoxResult struct {
	Status     string
	SnapshotID string
	ArchiveURL string
}

// ArchiveBoxRemote drives an ArchiveBox instance over SSH. QueueStatus
// returns the pending queue depth, or an error when the remote does not
// expose it.
type ArchiveBoxRemote interface {
	Archive(ctx context.Context, url string) (BoxResult, error)
	QueueStatus(ctx context.Context) (int, error)
}

// HealthPinger fires a best-effort GET against an external healthcheck
// endpoint.
type HealthPinger interface {
	Ping(ctx context.Context, payload map[string]any) error
}
