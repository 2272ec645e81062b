package archive

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"time"

	holoerrors "github.com/endarthur/holocene-sub000/internal/errors"
	"github.com/endarthur/holocene-sub000/internal/logging"
)

const waybackBase = "https://web.archive.org"

var waybackSnapshotRe = regexp.MustCompile(`/web/(\d{14})/`)

// WaybackClient drives the Internet Archive Save Page Now endpoint.
type WaybackClient struct {
	base   string
	client *http.Client
	logger logging.Logger
}

// NewWaybackClient builds an IA save client against the public endpoint.
func NewWaybackClient(logger logging.Logger) *WaybackClient {
	return &WaybackClient{
		base:   waybackBase,
		client: &http.Client{Timeout: 90 * time.Second},
		logger: logging.OrNop(logger),
	}
}

// SaveURL submits url to the save endpoint. The snapshot location comes back
// in the Content-Location header or the final redirect target; its embedded
// 14-digit timestamp becomes the archive date.
func (c *WaybackClient) SaveURL(ctx context.Context, url string, force bool) (SaveResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/save/"+url, nil)
	if err != nil {
		return SaveResult{}, err
	}
	req.Header.Set("User-Agent", "holod/1.0")
	if force {
		req.Header.Set("Cache-Control", "no-cache")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return SaveResult{}, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))

	switch {
	case resp.StatusCode == http.StatusOK, resp.StatusCode/100 == 3:
	case resp.StatusCode == http.StatusTooManyRequests:
		return SaveResult{}, holoerrors.NewTransient(
			fmt.Errorf("save rate limited"), "internet archive rate limit")
	case resp.StatusCode/100 == 4:
		return SaveResult{}, holoerrors.NewPermanent(
			fmt.Errorf("save rejected"), fmt.Sprintf("internet archive refused url (status %d)", resp.StatusCode))
	default:
		return SaveResult{}, fmt.Errorf("internet archive save returned status %d", resp.StatusCode)
	}

	location := resp.Header.Get("Content-Location")
	if location == "" && resp.Request != nil && resp.Request.URL != nil {
		location = resp.Request.URL.Path
	}
	if location == "" {
		return SaveResult{}, fmt.Errorf("internet archive response had no snapshot location")
	}

	result := SaveResult{Status: "saved", SnapshotURL: c.base + location}
	if m := waybackSnapshotRe.FindStringSubmatch(location); m != nil {
		if ts, err := time.Parse("20060102150405", m[1]); err == nil {
			utc := ts.UTC()
			result.ArchiveDate = &utc
		}
	}
	c.logger.Info("Internet Archive saved %s -> %s", url, result.SnapshotURL)
	return result, nil
}
