package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/endarthur/holocene-sub000/internal/archive"
	"github.com/endarthur/holocene-sub000/internal/store"
)

func linkJSON(link *store.Link) map[string]any {
	out := map[string]any{
		"id":               link.ID,
		"url":              link.URL,
		"source":           link.Source,
		"title":            link.Title,
		"first_seen":       link.FirstSeen.Format(time.RFC3339),
		"last_seen":        link.LastSeen.Format(time.RFC3339),
		"status":           link.Status,
		"archived":         link.Archived,
		"archive_url":      link.ArchiveURL,
		"trust_tier":       link.TrustTier,
		"archive_attempts": link.ArchiveAttempts,
	}
	if link.LastChecked != nil {
		out["last_checked"] = link.LastChecked.Format(time.RFC3339)
	}
	if link.StatusCode != nil {
		out["status_code"] = *link.StatusCode
	}
	if link.ResponseTimeMs != nil {
		out["response_time_ms"] = *link.ResponseTimeMs
	}
	if link.ArchiveDate != nil {
		out["archive_date"] = link.ArchiveDate.Format(time.RFC3339)
	}
	if link.NextRetryAfter != nil {
		out["next_retry_after"] = link.NextRetryAfter.Format(time.RFC3339)
	}
	return out
}

func snapshotJSON(snap *store.Snapshot) map[string]any {
	out := map[string]any{
		"id":           snap.ID,
		"link_id":      snap.LinkID,
		"service":      snap.Service,
		"status":       snap.Status,
		"snapshot_url": snap.SnapshotURL,
		"attempts":     snap.Attempts,
		"created_at":   snap.CreatedAt.Format(time.RFC3339),
	}
	if snap.ArchiveDate != nil {
		out["archive_date"] = snap.ArchiveDate.Format(time.RFC3339)
	}
	if snap.NextRetryAfter != nil {
		out["next_retry_after"] = snap.NextRetryAfter.Format(time.RFC3339)
	}
	if snap.ErrorMessage != "" {
		out["error"] = snap.ErrorMessage
	}
	if snap.Metadata != nil {
		out["metadata"] = snap.Metadata
	}
	return out
}

// handleLinkCreate stores a link, announces it on links.added, and when no
// title was supplied schedules a background page-title fetch.
func (s *Server) handleLinkCreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		URL    string `json:"url"`
		Source string `json:"source"`
		Title  string `json:"title"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		s.writeJSONError(w, http.StatusBadRequest, "url is required")
		return
	}
	if req.Source == "" {
		req.Source = "api"
	}

	id, created, err := s.core.Store.UpsertLink(r.Context(), req.URL, req.Source, req.Title)
	if err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	link, err := s.core.Store.GetLink(r.Context(), id)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "failed to load link")
		return
	}

	s.core.Bus.Publish("links.added", map[string]any{
		"link_id": link.ID,
		"url":     link.URL,
		"source":  link.Source,
		"created": created,
	}, "api")

	if link.Title == "" {
		s.scheduleTitleFetch(link.ID, link.URL)
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	s.writeJSON(w, status, map[string]any{"link": linkJSON(link), "created": created})
}

func (s *Server) handleLinkList(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	links, err := s.core.Store.ListLinks(r.Context(), limit, offset)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "failed to list links")
		return
	}
	out := make([]map[string]any, 0, len(links))
	for _, link := range links {
		out = append(out, linkJSON(link))
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"links": out, "limit": limit, "offset": offset})
}

func (s *Server) handleLinkGet(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		s.writeJSONError(w, http.StatusBadRequest, "invalid link id")
		return
	}
	link, err := s.core.Store.GetLink(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeJSONError(w, http.StatusNotFound, "link not found")
		return
	}
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "failed to load link")
		return
	}
	s.writeJSON(w, http.StatusOK, linkJSON(link))
}

func (s *Server) handleLinkSnapshots(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		s.writeJSONError(w, http.StatusBadRequest, "invalid link id")
		return
	}
	snaps, err := s.core.Store.ListSnapshotsForLink(r.Context(), id, r.URL.Query().Get("service"))
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "failed to list snapshots")
		return
	}
	out := make([]map[string]any, 0, len(snaps))
	for _, snap := range snaps {
		out = append(out, snapshotJSON(snap))
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"snapshots": out})
}

// handleLinkArchive runs the archiving pipeline for one link. By default the
// work goes to the background runner and the call returns 202; ?wait=true runs
// inline and returns the full per-service result.
func (s *Server) handleLinkArchive(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		s.writeJSONError(w, http.StatusBadRequest, "invalid link id")
		return
	}
	link, err := s.core.Store.GetLink(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeJSONError(w, http.StatusNotFound, "link not found")
		return
	}
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "failed to load link")
		return
	}

	opts := s.archiver.DefaultOptions()
	if r.ContentLength > 0 {
		var req struct {
			Local       *bool  `json:"local"`
			LocalFormat string `json:"local_format"`
			IA          *bool  `json:"ia"`
			ForceIA     bool   `json:"force_ia"`
			Box         bool   `json:"box"`
			ForceBox    bool   `json:"force_box"`
		}
		if err := decodeJSON(r, &req); err != nil {
			s.writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		if req.Local != nil {
			opts.Local = *req.Local
		}
		if req.LocalFormat != "" {
			opts.LocalFormat = req.LocalFormat
		}
		if req.IA != nil {
			opts.IA = *req.IA
		}
		opts.ForceIA = req.ForceIA
		opts.Box = req.Box
		opts.ForceBox = req.ForceBox
	}

	if r.URL.Query().Get("wait") == "true" {
		result := s.archiver.ArchiveURL(r.Context(), link.ID, link.URL, opts)
		s.writeJSON(w, http.StatusOK, result)
		return
	}

	name := fmt.Sprintf("archive-link-%d", link.ID)
	_, err = s.core.Runner.Submit(name, func(ctx context.Context) (any, error) {
		return s.archiver.ArchiveURL(ctx, link.ID, link.URL, opts), nil
	}, nil, nil)
	if err != nil {
		s.writeJSONError(w, http.StatusServiceUnavailable, "daemon is shutting down")
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]any{"status": "queued", "link_id": link.ID})
}

func (s *Server) handleBookCreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title         string `json:"title"`
		Author        string `json:"author"`
		Year          *int   `json:"year"`
		ISBN          string `json:"isbn"`
		DeweyNumber   string `json:"dewey_number"`
		Cutter        string `json:"cutter"`
		CallNumber    string `json:"call_number"`
		ReadingStatus string `json:"reading_status"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Title) == "" || strings.TrimSpace(req.Author) == "" {
		s.writeJSONError(w, http.StatusBadRequest, "title and author are required")
		return
	}

	id, created, err := s.core.Store.UpsertBook(r.Context(), store.Book{
		Title: req.Title, Author: req.Author, Year: req.Year, ISBN: req.ISBN,
		DeweyNumber: req.DeweyNumber, Cutter: req.Cutter,
		CallNumber: req.CallNumber, ReadingStatus: req.ReadingStatus,
	})
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "failed to store book")
		return
	}
	book, err := s.core.Store.GetBook(r.Context(), id)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "failed to load book")
		return
	}

	s.core.Bus.Publish("books.added", map[string]any{
		"book_id": book.ID,
		"title":   book.Title,
		"author":  book.Author,
		"created": created,
	}, "api")

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	s.writeJSON(w, status, map[string]any{"book": bookJSON(book), "created": created})
}

func (s *Server) handleBookList(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	books, err := s.core.Store.ListBooks(r.Context(), limit, offset)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "failed to list books")
		return
	}
	out := make([]map[string]any, 0, len(books))
	for _, book := range books {
		out = append(out, bookJSON(book))
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"books": out, "limit": limit, "offset": offset})
}

func (s *Server) handleBookGet(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		s.writeJSONError(w, http.StatusBadRequest, "invalid book id")
		return
	}
	book, err := s.core.Store.GetBook(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeJSONError(w, http.StatusNotFound, "book not found")
		return
	}
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "failed to load book")
		return
	}
	s.writeJSON(w, http.StatusOK, bookJSON(book))
}

func (s *Server) handlePaperCreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DOI           string `json:"doi"`
		Title         string `json:"title"`
		FirstAuthor   string `json:"first_author"`
		Year          *int   `json:"year"`
		Journal       string `json:"journal"`
		UDCNumber     string `json:"udc_number"`
		Cutter        string `json:"cutter"`
		CallNumber    string `json:"call_number"`
		ReadingStatus string `json:"reading_status"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		s.writeJSONError(w, http.StatusBadRequest, "title is required")
		return
	}

	id, created, err := s.core.Store.UpsertPaper(r.Context(), store.Paper{
		DOI: req.DOI, Title: req.Title, FirstAuthor: req.FirstAuthor, Year: req.Year,
		Journal: req.Journal, UDCNumber: req.UDCNumber, Cutter: req.Cutter,
		CallNumber: req.CallNumber, ReadingStatus: req.ReadingStatus,
	})
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "failed to store paper")
		return
	}
	paper, err := s.core.Store.GetPaper(r.Context(), id)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "failed to load paper")
		return
	}

	s.core.Bus.Publish("papers.added", map[string]any{
		"paper_id": paper.ID,
		"title":    paper.Title,
		"doi":      paper.DOI,
		"created":  created,
	}, "api")

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	s.writeJSON(w, status, map[string]any{"paper": paperJSON(paper), "created": created})
}

func (s *Server) handlePaperList(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	papers, err := s.core.Store.ListPapers(r.Context(), limit, offset)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "failed to list papers")
		return
	}
	out := make([]map[string]any, 0, len(papers))
	for _, paper := range papers {
		out = append(out, paperJSON(paper))
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"papers": out, "limit": limit, "offset": offset})
}

func (s *Server) handlePaperGet(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		s.writeJSONError(w, http.StatusBadRequest, "invalid paper id")
		return
	}
	paper, err := s.core.Store.GetPaper(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeJSONError(w, http.StatusNotFound, "paper not found")
		return
	}
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "failed to load paper")
		return
	}
	s.writeJSON(w, http.StatusOK, paperJSON(paper))
}

func bookJSON(book *store.Book) map[string]any {
	out := map[string]any{
		"id":             book.ID,
		"title":          book.Title,
		"author":         book.Author,
		"isbn":           book.ISBN,
		"dewey_number":   book.DeweyNumber,
		"cutter":         book.Cutter,
		"call_number":    book.CallNumber,
		"reading_status": book.ReadingStatus,
		"created_at":     book.CreatedAt.Format(time.RFC3339),
	}
	if book.Year != nil {
		out["year"] = *book.Year
	}
	return out
}

func paperJSON(paper *store.Paper) map[string]any {
	out := map[string]any{
		"id":             paper.ID,
		"doi":            paper.DOI,
		"title":          paper.Title,
		"first_author":   paper.FirstAuthor,
		"journal":        paper.Journal,
		"udc_number":     paper.UDCNumber,
		"cutter":         paper.Cutter,
		"call_number":    paper.CallNumber,
		"reading_status": paper.ReadingStatus,
		"created_at":     paper.CreatedAt.Format(time.RFC3339),
	}
	if paper.Year != nil {
		out["year"] = *paper.Year
	}
	return out
}

// scheduleTitleFetch asks the background runner to pull the page title for a
// link saved without one. Best effort; failures are only logged.
func (s *Server) scheduleTitleFetch(linkID int64, url string) {
	name := fmt.Sprintf("title-fetch-%d", linkID)
	_, err := s.core.Runner.Submit(name, func(ctx context.Context) (any, error) {
		title, err := archive.FetchTitle(ctx, url)
		if err != nil || title == "" {
			return nil, err
		}
		return title, s.core.Store.UpdateLinkTitle(ctx, linkID, title)
	}, nil, nil)
	if err != nil {
		s.logger.Debug("Title fetch for link %d not scheduled: %v", linkID, err)
	}
}
