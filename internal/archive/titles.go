package archive

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

const (
	titleFetchTimeout = 15 * time.Second
	titleFetchLimit   = 2 << 20 // bytes read before giving up on finding <title>
)

var titleClient = &http.Client{Timeout: titleFetchTimeout}

// FetchTitle downloads a page and returns the text of its <title> element.
// Non-HTML responses and pages without a title return "".
func FetchTitle(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", "holod/1.0")

	resp, err := titleClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch title: status %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.Contains(ct, "html") {
		return "", nil
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, titleFetchLimit))
	if err != nil {
		return "", err
	}
	title := strings.TrimSpace(doc.Find("title").First().Text())
	return strings.Join(strings.Fields(title), " "), nil
}
