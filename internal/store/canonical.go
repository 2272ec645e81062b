package store

import (
	"errors"
	"net/url"
	"strings"
)

var errNotAbsolute = errors.New("store: url must be absolute http(s)")

// Tracking parameters stripped from every stored URL.
var trackingParams = map[string]bool{
	"fbclid":      true,
	"gclid":       true,
	"dclid":       true,
	"msclkid":     true,
	"igshid":      true,
	"mc_cid":      true,
	"mc_eid":      true,
	"yclid":       true,
	"ref_src":     true,
	"ref_url":     true,
	"vero_id":     true,
	"oly_enc_id":  true,
	"oly_anon_id": true,
	"_ga":         true,
}

// redirector hosts whose wrapped target lives in a query parameter. An empty
// path matches any path on the host.
type redirectRule struct {
	path  string
	param string
}

var redirectors = map[string]redirectRule{
	"www.google.com":  {path: "/url", param: "q"},
	"google.com":      {path: "/url", param: "q"},
	"l.facebook.com":  {path: "/l.php", param: "u"},
	"lm.facebook.com": {path: "/l.php", param: "u"},
	"l.instagram.com": {param: "u"},
	"www.youtube.com": {path: "/redirect", param: "q"},
	"youtube.com":     {path: "/redirect", param: "q"},
	"t.umblr.com":     {param: "z"},
	"href.li":         {},
}

// CanonicalizeURL normalizes a URL before storage: unwraps common redirector
// wrappers, strips tracking parameters and fragments, lowercases scheme and
// host. The result is stable under re-canonicalization.
func CanonicalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}

	u = unwrapRedirector(u)

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", errNotAbsolute
	}
	u.Fragment = ""

	q := u.Query()
	for key := range q {
		lower := strings.ToLower(key)
		if strings.HasPrefix(lower, "utm_") || trackingParams[lower] {
			q.Del(key)
		}
	}
	// Twitter's share links append ?s=NN&t=... noise.
	if isTwitterHost(u.Host) {
		q.Del("s")
		q.Del("t")
	}
	u.RawQuery = q.Encode()

	return u.String(), nil
}

func unwrapRedirector(u *url.URL) *url.URL {
	host := strings.ToLower(u.Host)
	rule, ok := redirectors[host]
	if !ok {
		return u
	}
	if rule.path != "" && u.Path != rule.path {
		return u
	}

	var target string
	if rule.param == "" {
		// href.li style: target is the raw query itself.
		target = u.RawQuery
	} else {
		target = u.Query().Get(rule.param)
	}
	if target == "" {
		return u
	}
	inner, err := url.Parse(target)
	if err != nil || inner.Host == "" {
		return u
	}
	return inner
}

func isTwitterHost(host string) bool {
	return host == "twitter.com" || host == "www.twitter.com" || host == "x.com" || host == "mobile.twitter.com"
}
