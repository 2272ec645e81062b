package store

import "testing"

func TestCanonicalizeURL(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "strips utm params",
			in:   "https://example.com/a?utm_source=x&utm_medium=y&id=1",
			want: "https://example.com/a?id=1",
		},
		{
			name: "strips fbclid",
			in:   "https://example.com/a?fbclid=abc123",
			want: "https://example.com/a",
		},
		{
			name: "strips fragment",
			in:   "https://example.com/a#section-2",
			want: "https://example.com/a",
		},
		{
			name: "lowercases scheme and host",
			in:   "HTTPS://Example.COM/Path",
			want: "https://example.com/Path",
		},
		{
			name: "preserves meaningful query",
			in:   "https://example.com/search?q=golang&page=2",
			want: "https://example.com/search?page=2&q=golang",
		},
		{
			name: "unwraps google redirect",
			in:   "https://www.google.com/url?q=https://example.com/real&sa=t",
			want: "https://example.com/real",
		},
		{
			name: "unwraps facebook redirect",
			in:   "https://l.facebook.com/l.php?u=https%3A%2F%2Fexample.com%2Fpost",
			want: "https://example.com/post",
		},
		{
			name: "unwraps youtube redirect",
			in:   "https://www.youtube.com/redirect?q=https://example.com/video",
			want: "https://example.com/video",
		},
		{
			name: "google search is not a redirect",
			in:   "https://www.google.com/search?q=holocene",
			want: "https://www.google.com/search?q=holocene",
		},
		{
			name: "strips twitter tracking",
			in:   "https://twitter.com/user/status/1?s=20&t=abcdef",
			want: "https://twitter.com/user/status/1",
		},
		{
			name: "unwrapped url is itself canonicalized",
			in:   "https://www.google.com/url?q=https://example.com/a%3Futm_source%3Dx",
			want: "https://example.com/a",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := CanonicalizeURL(tc.in)
			if err != nil {
				t.Fatalf("CanonicalizeURL(%q): %v", tc.in, err)
			}
			if got != tc.want {
				t.Fatalf("CanonicalizeURL(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestCanonicalizeURLRejectsGarbage(t *testing.T) {
	for _, in := range []string{"", "://nope", "not-a-url", "ftp://example.com/file"} {
		if _, err := CanonicalizeURL(in); err == nil {
			t.Errorf("CanonicalizeURL(%q) expected error", in)
		}
	}
}

func TestTrustTier(t *testing.T) {
	cases := []struct {
		date string
		want string
	}{
		{"2019-06-15", TierPreLLM},
		{"2020-12-31", TierPreLLM},
		{"2021-01-01", TierEarlyLLM},
		{"2022-11-30", TierEarlyLLM},
		{"2022-12-01", TierRecent},
		{"2025-01-01", TierRecent},
	}
	for _, tc := range cases {
		got := TrustTier(mustDate(t, tc.date))
		if got != tc.want {
			t.Errorf("TrustTier(%s) = %q, want %q", tc.date, got, tc.want)
		}
	}
}
