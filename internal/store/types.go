package store

import "time"

// Trust tiers classify archive freshness relative to the LLM era.
const (
	TierPreLLM   = "pre-llm"
	TierEarlyLLM = "early-llm"
	TierRecent   = "recent"
)

// Archive service identifiers. One snapshot row is written per attempt per
// service; the newest row for a (link, service) pair is the current state.
const (
	ServiceLocalMonolith   = "local_monolith"
	ServiceLocalWARC       = "local_warc"
	ServiceInternetArchive = "internet_archive"
	ServiceArchiveBox      = "archivebox"
)

// Snapshot statuses.
const (
	SnapshotSuccess = "success"
	SnapshotFailed  = "failed"
)

// Link is a stored reference to a URL.
type Link struct {
	ID              int64
	URL             string
	Source          string
	Title           string
	FirstSeen       time.Time
	LastSeen        time.Time
	LastChecked     *time.Time
	Status          string
	StatusCode      *int
	ResponseTimeMs  *int
	Archived        bool
	ArchiveURL      string
	ArchiveDate     *time.Time
	TrustTier       string
	ArchiveAttempts int
	NextRetryAfter  *time.Time
}

// Snapshot records one archive attempt for a link at one service.
type Snapshot struct {
	ID             int64
	LinkID         int64
	Service        string
	Status         string
	SnapshotURL    string
	ArchiveDate    *time.Time
	Attempts       int
	NextRetryAfter *time.Time
	ErrorMessage   string
	Metadata       map[string]any
	CreatedAt      time.Time
}

// Book is a bibliographic record identified by (title, author).
type Book struct {
	ID            int64
	Title         string
	Author        string
	Year          *int
	ISBN          string
	DeweyNumber   string
	Cutter        string
	CallNumber    string
	ReadingStatus string
	CreatedAt     time.Time
}

// Paper is a bibliographic record identified by DOI when present, with a
// fuzzy (title, first_author, year) fallback.
type Paper struct {
	ID            int64
	DOI           string
	Title         string
	FirstAuthor   string
	Year          *int
	Journal       string
	UDCNumber     string
	Cutter        string
	CallNumber    string
	ReadingStatus string
	CreatedAt     time.Time
}

// User is an account known through the messaging side channel.
type User struct {
	ID               int64
	TelegramUserID   int64
	TelegramUsername string
	IsAdmin          bool
	CreatedAt        time.Time
	LastLoginAt      *time.Time
}

// AuthToken is a single-use magic-link credential.
type AuthToken struct {
	ID        int64
	UserID    int64
	Token     string
	CreatedAt time.Time
	ExpiresAt time.Time
	UsedAt    *time.Time
	IPAddress string
	UserAgent string
}

// APIToken is a long-lived bearer credential.
type APIToken struct {
	ID         int64
	UserID     int64
	Token      string
	Name       string
	CreatedAt  time.Time
	LastUsedAt *time.Time
	RevokedAt  *time.Time
}

// HealthStats aggregates link probe outcomes for one batch report.
type HealthStats struct {
	Total     int `json:"total"`
	Alive     int `json:"alive"`
	Dead      int `json:"dead"`
	Unchecked int `json:"unchecked"`
}

// TrustTier derives the tier from an archive date. Pure: before 2021 is
// pre-llm, through 2022-11-30 is early-llm, after that recent.
func TrustTier(archiveDate time.Time) string {
	preLLMEnd := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	earlyLLMEnd := time.Date(2022, 12, 1, 0, 0, 0, 0, time.UTC)
	switch {
	case archiveDate.Before(preLLMEnd):
		return TierPreLLM
	case archiveDate.Before(earlyLLMEnd):
		return TierEarlyLLM
	default:
		return TierRecent
	}
}
