package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/endarthur/holocene-sub000/internal/store"
)

// monolith pages inline all assets, so a relaxed same-document policy is
// enough once any embedded CSP meta tag is removed.
const snapshotCSP = "default-src 'self' 'unsafe-inline' data: blob:; img-src * data: blob:"

const boxBanner = `<div style="position:sticky;top:0;background:#ffe;border-bottom:1px solid #cc0;padding:4px 8px;font:13px sans-serif;z-index:99999">archived copy served by holod</div>`

var errOutsideRoot = errors.New("path escapes archive root")

// resolveUnderRoot canonicalizes a stored snapshot path and verifies it stays
// inside the archive root. Every file-serving handler goes through here.
// Symlinks are resolved before the containment check; a path that cannot be
// resolved is refused rather than checked lexically, except for plain
// not-exist, which the caller surfaces as a missing file.
func resolveUnderRoot(root, candidate string) (string, error) {
	rootAbs, err := filepath.Abs(filepath.Clean(root))
	if err != nil {
		return "", err
	}
	rootAbs, err = resolveLinks(rootAbs)
	if err != nil {
		return "", err
	}
	pathAbs, err := filepath.Abs(filepath.Clean(candidate))
	if err != nil {
		return "", err
	}
	pathAbs, err = resolveLinks(pathAbs)
	if err != nil {
		return "", err
	}
	if pathAbs != rootAbs && !strings.HasPrefix(pathAbs, rootAbs+string(filepath.Separator)) {
		return "", errOutsideRoot
	}
	return pathAbs, nil
}

func resolveLinks(path string) (string, error) {
	resolved, err := filepath.EvalSymlinks(path)
	if err == nil {
		return resolved, nil
	}
	if os.IsNotExist(err) {
		return path, nil
	}
	return "", err
}

// handleMonoView serves a stored monolith snapshot for a link. The selector
// picks which success: "latest" (default), "first", or a 1-based index.
func (s *Server) handleMonoView(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		s.writeJSONError(w, http.StatusBadRequest, "invalid link id")
		return
	}

	snaps, err := s.core.Store.ListSnapshotsForLink(r.Context(), id, store.ServiceLocalMonolith)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "failed to list snapshots")
		return
	}
	var successes []*store.Snapshot
	for _, snap := range snaps {
		if snap.Status == store.SnapshotSuccess {
			successes = append(successes, snap)
		}
	}
	if len(successes) == 0 {
		s.writeJSONError(w, http.StatusNotFound, "no monolith snapshot for link")
		return
	}

	snap, err := pickSnapshot(successes, r.PathValue("selector"))
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.serveMonolith(w, snap)
}

// pickSnapshot resolves a selector against an oldest-first snapshot list.
func pickSnapshot(snaps []*store.Snapshot, selector string) (*store.Snapshot, error) {
	switch selector {
	case "", "latest":
		return snaps[len(snaps)-1], nil
	case "first":
		return snaps[0], nil
	}
	n, err := strconv.Atoi(selector)
	if err != nil || n < 1 || n > len(snaps) {
		return nil, fmt.Errorf("invalid snapshot selector %q", selector)
	}
	return snaps[n-1], nil
}

// handleSnapshotView serves one snapshot by id: local files come off disk,
// remote services redirect to the service URL.
func (s *Server) handleSnapshotView(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		s.writeJSONError(w, http.StatusBadRequest, "invalid snapshot id")
		return
	}
	snap, err := s.core.Store.GetSnapshot(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeJSONError(w, http.StatusNotFound, "snapshot not found")
		return
	}
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "failed to load snapshot")
		return
	}
	if snap.Status != store.SnapshotSuccess {
		s.writeJSONError(w, http.StatusNotFound, "snapshot did not succeed")
		return
	}

	switch snap.Service {
	case store.ServiceLocalMonolith:
		s.serveMonolith(w, snap)
	case store.ServiceLocalWARC:
		s.serveWARC(w, snap)
	default:
		http.Redirect(w, r, snap.SnapshotURL, http.StatusFound)
	}
}

func (s *Server) serveMonolith(w http.ResponseWriter, snap *store.Snapshot) {
	path, err := resolveUnderRoot(s.core.Config.ArchiveRoot(), snap.SnapshotURL)
	if err != nil {
		s.logger.Warn("Refused snapshot path %q: %v", snap.SnapshotURL, err)
		s.writeJSONError(w, http.StatusForbidden, "snapshot path refused")
		return
	}

	f, err := os.Open(path)
	if err != nil {
		s.writeJSONError(w, http.StatusNotFound, "snapshot file missing")
		return
	}
	defer f.Close()

	doc, err := goquery.NewDocumentFromReader(f)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "snapshot unreadable")
		return
	}
	// The stored page may carry its own CSP meta tag that blocks the inlined
	// assets when served from our origin.
	doc.Find(`meta[http-equiv="Content-Security-Policy"]`).Remove()
	html, err := doc.Html()
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "snapshot unreadable")
		return
	}

	w.Header().Set("Content-Security-Policy", snapshotCSP)
	s.writeHTML(w, http.StatusOK, html)
}

func (s *Server) serveWARC(w http.ResponseWriter, snap *store.Snapshot) {
	path, err := resolveUnderRoot(s.core.Config.ArchiveRoot(), snap.SnapshotURL)
	if err != nil {
		s.logger.Warn("Refused snapshot path %q: %v", snap.SnapshotURL, err)
		s.writeJSONError(w, http.StatusForbidden, "snapshot path refused")
		return
	}
	f, err := os.Open(path)
	if err != nil {
		s.writeJSONError(w, http.StatusNotFound, "snapshot file missing")
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "application/warc")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", filepath.Base(path)))
	if info, err := f.Stat(); err == nil {
		w.Header().Set("Content-Length", strconv.FormatInt(info.Size(), 10))
	}
	_, _ = io.Copy(w, f)
}

// handleBoxView proxies an ArchiveBox snapshot page, injecting a banner so the
// reader knows they are looking at an archived copy.
func (s *Server) handleBoxView(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		s.writeJSONError(w, http.StatusBadRequest, "invalid snapshot id")
		return
	}
	snap, err := s.core.Store.GetSnapshot(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeJSONError(w, http.StatusNotFound, "snapshot not found")
		return
	}
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "failed to load snapshot")
		return
	}
	if snap.Service != store.ServiceArchiveBox || snap.Status != store.SnapshotSuccess || snap.SnapshotURL == "" {
		s.writeJSONError(w, http.StatusNotFound, "no archivebox snapshot")
		return
	}

	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, snap.SnapshotURL, nil)
	if err != nil {
		s.writeJSONError(w, http.StatusBadGateway, "archivebox url invalid")
		return
	}
	resp, err := boxProxyClient.Do(req)
	if err != nil {
		s.writeJSONError(w, http.StatusBadGateway, "archivebox unreachable")
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		s.writeJSONError(w, http.StatusBadGateway,
			fmt.Sprintf("archivebox returned status %d", resp.StatusCode))
		return
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		s.writeJSONError(w, http.StatusBadGateway, "archivebox page unreadable")
		return
	}
	doc.Find("body").First().PrependHtml(boxBanner)
	html, err := doc.Html()
	if err != nil {
		s.writeJSONError(w, http.StatusBadGateway, "archivebox page unreadable")
		return
	}
	s.writeHTML(w, http.StatusOK, html)
}

var boxProxyClient = &http.Client{Timeout: 30 * time.Second}
