package archive

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	holoerrors "github.com/endarthur/holocene-sub000/internal/errors"
	"github.com/endarthur/holocene-sub000/internal/logging"
	"github.com/endarthur/holocene-sub000/internal/metrics"
	"github.com/endarthur/holocene-sub000/internal/store"
)

// Per-service result statuses beyond success/failed.
const (
	StatusSuccess         = "success"
	StatusFailed          = "failed"
	StatusAlreadyArchived = "already_archived"
)

const (
	defaultProviderTimeout = 120 * time.Second
	retryBatchLimit        = 50
)

// Options selects which providers one archive call exercises.
type Options struct {
	Local       bool
	LocalFormat string
	IA          bool
	ForceIA     bool
	Box         bool
	ForceBox    bool
}

// ServiceResult is the per-provider slice of an archive result.
type ServiceResult struct {
	Status      string `json:"status"`
	SnapshotURL string `json:"snapshot_url,omitempty"`
	FileSize    int64  `json:"file_size,omitempty"`
	Error       string `json:"error,omitempty"`
	Attempts    int    `json:"attempts,omitempty"`
}

// Result is the structured outcome of one archive_url call. Success is true
// when any provider succeeded.
type Result struct {
	Success  bool                     `json:"success"`
	Services map[string]ServiceResult `json:"services"`
	Errors   []string                 `json:"errors"`
}

// Config tunes the archiving policy.
type Config struct {
	Root            string // local archive root directory
	LocalByDefault  bool
	LocalFormat     string
	BoxQueueLimit   int
	RetryMax        int
	ProviderTimeout time.Duration
}

// Service coordinates the local snapshotter, the Internet Archive save
// endpoint and an ArchiveBox remote, recording every attempt in the store.
// Any provider may be nil, in which case it is reported as failed when
// requested.
type Service struct {
	store  *store.Store
	local  LocalSnapshotter
	ia     IASaveClient
	box    ArchiveBoxRemote
	cfg    Config
	logger logging.Logger
}

// NewService wires an archiving service.
func NewService(st *store.Store, local LocalSnapshotter, ia IASaveClient, box ArchiveBoxRemote, cfg Config, logger logging.Logger) *Service {
	if cfg.LocalFormat == "" {
		cfg.LocalFormat = FormatMonolith
	}
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = defaultProviderTimeout
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = 10
	}
	return &Service{store: st, local: local, ia: ia, box: box, cfg: cfg, logger: logging.OrNop(logger)}
}

// DefaultOptions reflects the configured policy: local first, IA without
// force, no ArchiveBox unless asked.
func (s *Service) DefaultOptions() Options {
	return Options{
		Local:       s.cfg.LocalByDefault,
		LocalFormat: s.cfg.LocalFormat,
		IA:          true,
	}
}

// ArchiveURL runs the archiving policy for one link: local snapshot first,
// then Internet Archive (with prior-success dedup), then ArchiveBox. Every
// attempt lands in the snapshot table before the next provider runs.
func (s *Service) ArchiveURL(ctx context.Context, linkID int64, url string, opts Options) Result {
	result := Result{Services: map[string]ServiceResult{}, Errors: []string{}}

	if opts.Local {
		format := opts.LocalFormat
		if format == "" {
			format = s.cfg.LocalFormat
		}
		service := store.ServiceLocalMonolith
		if format == FormatWARC {
			service = store.ServiceLocalWARC
		}
		res := s.archiveLocal(ctx, linkID, url, format)
		result.Services[service] = res
		s.fold(&result, service, res)
	}

	if opts.IA {
		res := s.archiveIA(ctx, linkID, url, opts.ForceIA)
		result.Services[store.ServiceInternetArchive] = res
		s.fold(&result, store.ServiceInternetArchive, res)
	}

	if opts.Box {
		if skip, depth := s.boxShouldSkip(ctx, opts.ForceBox); skip {
			msg := fmt.Sprintf("archivebox skipped: queue depth %d over limit %d", depth, s.cfg.BoxQueueLimit)
			s.logger.Info("%s", msg)
			result.Errors = append(result.Errors, msg)
		} else {
			res := s.archiveBox(ctx, linkID, url)
			result.Services[store.ServiceArchiveBox] = res
			s.fold(&result, store.ServiceArchiveBox, res)
		}
	}

	return result
}

func (s *Service) fold(result *Result, service string, res ServiceResult) {
	switch res.Status {
	case StatusSuccess, StatusAlreadyArchived:
		result.Success = true
	case StatusFailed:
		result.Errors = append(result.Errors, fmt.Sprintf("%s: %s", service, res.Error))
	}
}

func (s *Service) archiveLocal(ctx context.Context, linkID int64, url, format string) ServiceResult {
	service := store.ServiceLocalMonolith
	if format == FormatWARC {
		service = store.ServiceLocalWARC
	}
	if s.local == nil {
		return s.recordFailure(ctx, linkID, service, holoerrors.NewPermanent(nil, "local snapshotter not configured"))
	}

	now := time.Now().UTC()
	destPath := SnapshotPath(s.cfg.Root, url, format, now)
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return s.recordFailure(ctx, linkID, service, err)
	}

	cctx, cancel := context.WithTimeout(ctx, s.cfg.ProviderTimeout)
	defer cancel()
	size, err := s.local.Snapshot(cctx, url, format, destPath)
	if err != nil {
		return s.recordFailure(ctx, linkID, service, err)
	}

	meta := map[string]any{"file_size": size, "format": format}
	if _, err := s.store.RecordSnapshotSuccess(ctx, linkID, service, destPath, &now, meta); err != nil {
		s.logger.Error("Failed to record %s success for link %d: %v", service, linkID, err)
		return ServiceResult{Status: StatusFailed, Error: err.Error()}
	}
	metrics.ArchiveAttempts.WithLabelValues(service, "success").Inc()
	s.logger.Info("Local %s snapshot for link %d: %s (%d bytes)", format, linkID, destPath, size)
	return ServiceResult{Status: StatusSuccess, SnapshotURL: destPath, FileSize: size}
}

func (s *Service) archiveIA(ctx context.Context, linkID int64, url string, force bool) ServiceResult {
	if !force {
		if prior, err := s.store.LatestSuccess(ctx, linkID, store.ServiceInternetArchive); err == nil {
			metrics.ArchiveAttempts.WithLabelValues(store.ServiceInternetArchive, "already_archived").Inc()
			return ServiceResult{Status: StatusAlreadyArchived, SnapshotURL: prior.SnapshotURL}
		} else if !errors.Is(err, store.ErrNotFound) {
			return ServiceResult{Status: StatusFailed, Error: err.Error()}
		}
	}
	if s.ia == nil {
		return s.recordFailure(ctx, linkID, store.ServiceInternetArchive, holoerrors.NewPermanent(nil, "internet archive client not configured"))
	}

	cctx, cancel := context.WithTimeout(ctx, s.cfg.ProviderTimeout)
	defer cancel()
	save, err := s.ia.SaveURL(cctx, url, force)
	if err != nil {
		return s.recordFailure(ctx, linkID, store.ServiceInternetArchive, err)
	}

	meta := map[string]any{"status": save.Status}
	if _, err := s.store.RecordSnapshotSuccess(ctx, linkID, store.ServiceInternetArchive, save.SnapshotURL, save.ArchiveDate, meta); err != nil {
		s.logger.Error("Failed to record IA success for link %d: %v", linkID, err)
		return ServiceResult{Status: StatusFailed, Error: err.Error()}
	}
	metrics.ArchiveAttempts.WithLabelValues(store.ServiceInternetArchive, "success").Inc()
	return ServiceResult{Status: StatusSuccess, SnapshotURL: save.SnapshotURL}
}

func (s *Service) archiveBox(ctx context.Context, linkID int64, url string) ServiceResult {
	if s.box == nil {
		return s.recordFailure(ctx, linkID, store.ServiceArchiveBox, holoerrors.NewPermanent(nil, "archivebox remote not configured"))
	}

	cctx, cancel := context.WithTimeout(ctx, s.cfg.ProviderTimeout)
	defer cancel()
	res, err := s.box.Archive(cctx, url)
	if err != nil {
		return s.recordFailure(ctx, linkID, store.ServiceArchiveBox, err)
	}

	meta := map[string]any{"snapshot_id": res.SnapshotID, "status": res.Status}
	if _, err := s.store.RecordSnapshotSuccess(ctx, linkID, store.ServiceArchiveBox, res.ArchiveURL, nil, meta); err != nil {
		s.logger.Error("Failed to record archivebox success for link %d: %v", linkID, err)
		return ServiceResult{Status: StatusFailed, Error: err.Error()}
	}
	metrics.ArchiveAttempts.WithLabelValues(store.ServiceArchiveBox, "success").Inc()
	return ServiceResult{Status: StatusSuccess, SnapshotURL: res.ArchiveURL}
}

// boxShouldSkip checks the remote queue depth against the configured limit.
// An unreadable queue is treated as empty; the submission itself will report
// any real failure.
func (s *Service) boxShouldSkip(ctx context.Context, force bool) (bool, int) {
	if force || s.box == nil || s.cfg.BoxQueueLimit <= 0 {
		return false, 0
	}
	cctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	depth, err := s.box.QueueStatus(cctx)
	if err != nil {
		s.logger.Warn("ArchiveBox queue status unavailable: %v", err)
		return false, 0
	}
	s.logger.Debug("ArchiveBox queue depth: %d", depth)
	return depth > s.cfg.BoxQueueLimit, depth
}

// recordFailure writes the failure to the snapshot table. Transient errors
// land on the backoff ladder; permanent ones get no retry horizon.
func (s *Service) recordFailure(ctx context.Context, linkID int64, service string, cause error) ServiceResult {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	metrics.ArchiveAttempts.WithLabelValues(service, "failed").Inc()

	if holoerrors.Classify(cause) == holoerrors.KindPermanent {
		attempts, err := s.store.RecordSnapshotPermanentFailure(ctx, linkID, service, msg)
		if err != nil {
			s.logger.Error("Failed to record %s failure for link %d: %v", service, linkID, err)
			return ServiceResult{Status: StatusFailed, Error: msg}
		}
		s.logger.Warn("%s permanently failed for link %d (attempt %d): %s", service, linkID, attempts, msg)
		return ServiceResult{Status: StatusFailed, Error: msg, Attempts: attempts}
	}

	attempts, nextRetry, err := s.store.RecordSnapshotFailure(ctx, linkID, service, msg)
	if err != nil {
		s.logger.Error("Failed to record %s failure for link %d: %v", service, linkID, err)
		return ServiceResult{Status: StatusFailed, Error: msg}
	}
	s.logger.Warn("%s failed for link %d (attempt %d, retry after %s): %s",
		service, linkID, attempts, nextRetry.Format(time.RFC3339), msg)
	return ServiceResult{Status: StatusFailed, Error: msg, Attempts: attempts}
}

// RetryFailed re-runs the provider for every retry-eligible failed snapshot,
// bounded per invocation. Returns how many were retried and how many
// succeeded.
func (s *Service) RetryFailed(ctx context.Context, maxAttempts int) (retried, succeeded int, err error) {
	if maxAttempts <= 0 {
		maxAttempts = s.cfg.RetryMax
	}
	snaps, err := s.store.GetRetryEligibleSnapshots(ctx, maxAttempts, time.Now().UTC(), retryBatchLimit)
	if err != nil {
		return 0, 0, err
	}

	for _, snap := range snaps {
		link, err := s.store.GetLink(ctx, snap.LinkID)
		if err != nil {
			s.logger.Warn("Retry skipped, link %d unavailable: %v", snap.LinkID, err)
			continue
		}
		retried++

		var res ServiceResult
		switch snap.Service {
		case store.ServiceLocalMonolith:
			res = s.archiveLocal(ctx, link.ID, link.URL, FormatMonolith)
		case store.ServiceLocalWARC:
			res = s.archiveLocal(ctx, link.ID, link.URL, FormatWARC)
		case store.ServiceInternetArchive:
			res = s.archiveIA(ctx, link.ID, link.URL, true)
		case store.ServiceArchiveBox:
			res = s.archiveBox(ctx, link.ID, link.URL)
		default:
			s.logger.Warn("Retry skipped, unknown service %q", snap.Service)
			retried--
			continue
		}
		if res.Status == StatusSuccess {
			succeeded++
		}
	}
	if retried > 0 {
		s.logger.Info("Retry sweep: %d retried, %d succeeded", retried, succeeded)
	}
	return retried, succeeded, nil
}
