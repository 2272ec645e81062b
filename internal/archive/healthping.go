package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/endarthur/holocene-sub000/internal/logging"
)

// HTTPPinger posts liveness payloads to an external healthcheck endpoint
// (healthchecks.io style). Best effort: failures are the caller's to log.
type HTTPPinger struct {
	url    string
	client *http.Client
	logger logging.Logger
}

// NewHTTPPinger builds a pinger. Returns nil when url is empty so callers can
// treat the port as unconfigured.
func NewHTTPPinger(url string, logger logging.Logger) *HTTPPinger {
	if url == "" {
		return nil
	}
	return &HTTPPinger{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logging.OrNop(logger),
	}
}

// Ping sends the payload as a JSON POST, or a bare GET when payload is empty.
func (p *HTTPPinger) Ping(ctx context.Context, payload map[string]any) error {
	var req *http.Request
	var err error
	if len(payload) == 0 {
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	} else {
		var body []byte
		if body, err = json.Marshal(payload); err != nil {
			return err
		}
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
		if req != nil {
			req.Header.Set("Content-Type", "application/json")
		}
	}
	if err != nil {
		return err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("healthcheck endpoint returned status %d", resp.StatusCode)
	}
	return nil
}
