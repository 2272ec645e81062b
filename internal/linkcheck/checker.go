package linkcheck

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/endarthur/holocene-sub000/internal/logging"
	"github.com/endarthur/holocene-sub000/internal/metrics"
	"github.com/endarthur/holocene-sub000/internal/store"
)

// Probe outcome statuses stored on the link row.
const (
	StatusAlive            = "alive"
	StatusNotFound         = "not_found"
	StatusForbidden        = "forbidden"
	StatusServerError      = "server_error"
	StatusDead             = "dead"
	StatusTimeout          = "timeout"
	StatusConnectionError  = "connection_error"
	StatusDNSError         = "dns_error"
	StatusTooManyRedirects = "too_many_redirects"
)

const maxRedirects = 10

var errTooManyRedirects = errors.New("stopped after too many redirects")

// Prober issues one HTTP request. *http.Client satisfies it.
type Prober interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config tunes the batch checker.
type Config struct {
	BatchSize int
	Timeout   time.Duration
	Delay     time.Duration
}

// Checker probes stored links and records their health. One Checker instance
// is owned by the linkhealth plugin worker.
type Checker struct {
	store  *store.Store
	prober Prober
	cfg    Config
	logger logging.Logger
}

// NewChecker builds a Checker. A nil prober gets a default client with
// redirect-capped following and the configured timeout.
func NewChecker(st *store.Store, prober Prober, cfg Config, logger logging.Logger) *Checker {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.Delay < 0 {
		cfg.Delay = 0
	}
	if prober == nil {
		prober = &http.Client{
			Timeout: cfg.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return errTooManyRedirects
				}
				return nil
			},
		}
	}
	return &Checker{store: st, prober: prober, cfg: cfg, logger: logging.OrNop(logger)}
}

// RunBatch probes one batch of due links, updating each row as it goes. The
// stop channel is observed between links so shutdown waits for at most one
// in-flight request. Returns aggregate stats over the whole table.
func (c *Checker) RunBatch(ctx context.Context, stop <-chan struct{}) (store.HealthStats, error) {
	links, err := c.store.GetLinksDueForCheck(ctx, c.cfg.BatchSize)
	if err != nil {
		return store.HealthStats{}, err
	}
	c.logger.Info("Link health batch: %d links due", len(links))

	for i, link := range links {
		select {
		case <-stop:
			c.logger.Info("Link health batch interrupted at %d/%d", i, len(links))
			return c.store.LinkHealthStats(ctx)
		case <-ctx.Done():
			return store.HealthStats{}, ctx.Err()
		default:
		}

		status, code, elapsed := c.probe(ctx, link.URL)
		metrics.LinkProbes.WithLabelValues(status).Inc()
		if err := c.store.UpdateLinkCheck(ctx, link.ID, status, code, int(elapsed.Milliseconds())); err != nil {
			// One bad row must not kill the loop.
			c.logger.Error("Failed to update link %d: %v", link.ID, err)
		}
		c.logger.Debug("Probed %s: %s (%d, %dms)", link.URL, status, code, elapsed.Milliseconds())

		if i < len(links)-1 && c.cfg.Delay > 0 {
			select {
			case <-stop:
				return c.store.LinkHealthStats(ctx)
			case <-time.After(c.cfg.Delay):
			}
		}
	}

	return c.store.LinkHealthStats(ctx)
}

// probe issues a HEAD request, falling back to a streamed GET on 405. The GET
// body is closed before it is consumed; only the status line matters.
func (c *Checker) probe(ctx context.Context, rawURL string) (status string, code int, elapsed time.Duration) {
	start := time.Now()
	resp, cancel, err := c.request(ctx, http.MethodHead, rawURL)
	if err != nil {
		cancel()
		return classifyError(err), 0, time.Since(start)
	}
	drainAndClose(resp)
	cancel()

	if resp.StatusCode == http.StatusMethodNotAllowed {
		resp, cancel, err = c.request(ctx, http.MethodGet, rawURL)
		if err != nil {
			cancel()
			return classifyError(err), 0, time.Since(start)
		}
		drainAndClose(resp)
		cancel()
	}
	return classifyStatus(resp.StatusCode), resp.StatusCode, time.Since(start)
}

// request issues one probe. The returned cancel must be called after the
// response body is done; cancelling earlier would abort the read.
func (c *Checker) request(ctx context.Context, method, rawURL string) (*http.Response, context.CancelFunc, error) {
	cctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	req, err := http.NewRequestWithContext(cctx, method, rawURL, nil)
	if err != nil {
		return nil, cancel, err
	}
	req.Header.Set("User-Agent", "holod-linkcheck/1.0")
	resp, err := c.prober.Do(req)
	return resp, cancel, err
}

func drainAndClose(resp *http.Response) {
	if resp.Body != nil {
		_, _ = io.CopyN(io.Discard, resp.Body, 512)
		_ = resp.Body.Close()
	}
}

func classifyStatus(code int) string {
	switch {
	case code >= 200 && code < 400:
		return StatusAlive
	case code == http.StatusNotFound:
		return StatusNotFound
	case code == http.StatusForbidden:
		return StatusForbidden
	case code >= 500:
		return StatusServerError
	default:
		return StatusDead
	}
}

func classifyError(err error) string {
	if errors.Is(err, errTooManyRedirects) {
		return StatusTooManyRedirects
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && errors.Is(urlErr.Err, errTooManyRedirects) {
		return StatusTooManyRedirects
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return StatusDNSError
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return StatusTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return StatusTimeout
	}

	return StatusConnectionError
}
