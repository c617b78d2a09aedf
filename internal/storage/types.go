package storage

import "time"

// DayLayout is the calendar-day format stored in visits.day.
const DayLayout = "2006-01-02"

// VisitRecord is one page view to be stored.
// Day is the calendar day in the reporting time zone; when empty it is
// derived from Timestamp in Timestamp's own location.
type VisitRecord struct {
	VisitorID  string
	Timestamp  time.Time
	Day        string
	Path       string
	Browser    string
	OS         string
	DeviceType string
	Country    string
}

// Paper is a question paper's metadata. The PDF body is fetched separately.
type Paper struct {
	ID          int64     `json:"id"`
	YearName    string    `json:"year_name"`
	SemesterNo  int       `json:"semester_no"`
	SubjectName string    `json:"subject_name"`
	SubjectCode string    `json:"subject_code"`
	PaperType   string    `json:"paper_type"`
	PaperYear   *int      `json:"paper_year"`
	CreatedAt   time.Time `json:"created_at"`
}

// PaperInput holds the writable fields of a paper. A nil File on update
// keeps the stored PDF.
type PaperInput struct {
	YearName    string
	SemesterNo  int
	SubjectName string
	SubjectCode string
	PaperType   string
	PaperYear   *int
	File        []byte
}

// PaperFile is a stored PDF with the fields used to name the download.
type PaperFile struct {
	Data        []byte
	SubjectName string
	YearName    string
}

// PaperQuery filters and orders a paper listing.
type PaperQuery struct {
	Search  string
	Sort    string
	Page    int
	PerPage int
}

// PaperPage is one page of a paper listing.
type PaperPage struct {
	Papers     []Paper `json:"papers"`
	Page       int     `json:"page"`
	PerPage    int     `json:"per_page"`
	Total      int64   `json:"total"`
	TotalPages int     `json:"total_pages"`
	Search     string  `json:"search"`
	Sort       string  `json:"sort"`
}

// User is an administrator account.
type User struct {
	ID           int64
	Username     string
	PasswordHash string
}

// Session represents an authentication session.
type Session struct {
	Token     string
	Username  string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// DatabaseStats holds row counts for the main tables.
type DatabaseStats struct {
	VisitsCount   int64
	PapersCount   int64
	UsersCount    int64
	SessionsCount int64
}
