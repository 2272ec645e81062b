package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

const bookColumns = `id, title, author, year, isbn, dewey_number, cutter, call_number, reading_status, created_at`
const paperColumns = `id, doi, title, first_author, year, journal, udc_number, cutter, call_number, reading_status, created_at`

// UpsertBook inserts a book or returns the existing row id for the same
// (title, author) pair. Classification fields are filled when previously
// empty.
func (s *Store) UpsertBook(ctx context.Context, book Book) (int64, bool, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
SELECT id FROM books WHERE title = ? AND author = ?`, book.Title, book.Author).Scan(&id)
	switch {
	case err == nil:
		_, err = s.db.ExecContext(ctx, `
UPDATE books SET
    isbn = CASE WHEN isbn = '' THEN ? ELSE isbn END,
    dewey_number = CASE WHEN dewey_number = '' THEN ? ELSE dewey_number END,
    cutter = CASE WHEN cutter = '' THEN ? ELSE cutter END,
    call_number = CASE WHEN call_number = '' THEN ? ELSE call_number END,
    reading_status = CASE WHEN reading_status = '' THEN ? ELSE reading_status END
WHERE id = ?`, book.ISBN, book.DeweyNumber, book.Cutter, book.CallNumber, book.ReadingStatus, id)
		return id, false, err
	case errors.Is(err, sql.ErrNoRows):
		res, err := s.db.ExecContext(ctx, `
INSERT INTO books (title, author, year, isbn, dewey_number, cutter, call_number, reading_status, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			book.Title, book.Author, book.Year, book.ISBN, book.DeweyNumber,
			book.Cutter, book.CallNumber, book.ReadingStatus, time.Now().UTC())
		if err != nil {
			return 0, false, err
		}
		id, err := res.LastInsertId()
		return id, true, err
	default:
		return 0, false, err
	}
}

// UpsertPaper inserts a paper. Identity is the DOI when present; otherwise a
// fuzzy (title, first_author, year) match decides whether the row exists.
func (s *Store) UpsertPaper(ctx context.Context, paper Paper) (int64, bool, error) {
	var id int64
	var err error
	if paper.DOI != "" {
		err = s.db.QueryRowContext(ctx, `SELECT id FROM papers WHERE doi = ?`, paper.DOI).Scan(&id)
	} else {
		err = s.db.QueryRowContext(ctx, `
SELECT id FROM papers
WHERE LOWER(title) = ? AND LOWER(first_author) = ? AND (year IS ? OR year = ?)`,
			strings.ToLower(paper.Title), strings.ToLower(paper.FirstAuthor), paper.Year, paper.Year).Scan(&id)
	}
	switch {
	case err == nil:
		_, err = s.db.ExecContext(ctx, `
UPDATE papers SET
    journal = CASE WHEN journal = '' THEN ? ELSE journal END,
    udc_number = CASE WHEN udc_number = '' THEN ? ELSE udc_number END,
    cutter = CASE WHEN cutter = '' THEN ? ELSE cutter END,
    call_number = CASE WHEN call_number = '' THEN ? ELSE call_number END,
    reading_status = CASE WHEN reading_status = '' THEN ? ELSE reading_status END
WHERE id = ?`, paper.Journal, paper.UDCNumber, paper.Cutter, paper.CallNumber, paper.ReadingStatus, id)
		return id, false, err
	case errors.Is(err, sql.ErrNoRows):
		var doi any
		if paper.DOI != "" {
			doi = paper.DOI
		}
		res, err := s.db.ExecContext(ctx, `
INSERT INTO papers (doi, title, first_author, year, journal, udc_number, cutter, call_number, reading_status, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			doi, paper.Title, paper.FirstAuthor, paper.Year, paper.Journal,
			paper.UDCNumber, paper.Cutter, paper.CallNumber, paper.ReadingStatus, time.Now().UTC())
		if err != nil {
			return 0, false, err
		}
		id, err := res.LastInsertId()
		return id, true, err
	default:
		return 0, false, err
	}
}

// GetBook fetches one book by id.
func (s *Store) GetBook(ctx context.Context, id int64) (*Book, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+bookColumns+` FROM books WHERE id = ?`, id)
	return scanBook(row)
}

// GetPaper fetches one paper by id.
func (s *Store) GetPaper(ctx context.Context, id int64) (*Paper, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+paperColumns+` FROM papers WHERE id = ?`, id)
	return scanPaper(row)
}

// ListBooks returns books newest-first with pagination.
func (s *Store) ListBooks(ctx context.Context, limit, offset int) ([]*Book, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT `+bookColumns+` FROM books ORDER BY id DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var books []*Book
	for rows.Next() {
		book, err := scanBook(rows)
		if err != nil {
			return nil, err
		}
		books = append(books, book)
	}
	return books, rows.Err()
}

// ListPapers returns papers newest-first with pagination.
func (s *Store) ListPapers(ctx context.Context, limit, offset int) ([]*Paper, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT `+paperColumns+` FROM papers ORDER BY id DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var papers []*Paper
	for rows.Next() {
		paper, err := scanPaper(rows)
		if err != nil {
			return nil, err
		}
		papers = append(papers, paper)
	}
	return papers, rows.Err()
}

func scanBook(row rowScanner) (*Book, error) {
	var book Book
	var year sql.NullInt64
	err := row.Scan(&book.ID, &book.Title, &book.Author, &year, &book.ISBN,
		&book.DeweyNumber, &book.Cutter, &book.CallNumber, &book.ReadingStatus, &book.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if year.Valid {
		v := int(year.Int64)
		book.Year = &v
	}
	return &book, nil
}

func scanPaper(row rowScanner) (*Paper, error) {
	var paper Paper
	var doi sql.NullString
	var year sql.NullInt64
	err := row.Scan(&paper.ID, &doi, &paper.Title, &paper.FirstAuthor, &year, &paper.Journal,
		&paper.UDCNumber, &paper.Cutter, &paper.CallNumber, &paper.ReadingStatus, &paper.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if doi.Valid {
		paper.DOI = doi.String
	}
	if year.Valid {
		v := int(year.Int64)
		paper.Year = &v
	}
	return &paper, nil
}
