package database

import (
	"time"
)

// Feed is one row of the control table: where a feed resumes and how it last fared.
type Feed struct {
	Name                string // Configuration feed identifier derived from filename
	URL                 string // First page of the feed
	Cursor              string // Next page to fetch
	Enabled             bool
	PagesFetched        int64
	ConsecutiveFailures int
	LastError           string
	LastErrorKind       string
	LastFetchedAt       *time.Time
	LastSuccessAt       *time.Time
	NextAttemptAt       *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// IsDue reports whether the feed may be attempted at now.
func (f *Feed) IsDue(now time.Time) bool {
	return f.NextAttemptAt == nil || !f.NextAttemptAt.After(now)
}

type Failure struct {
	Kind          string
	Message       string
	FailedAt      time.Time
	NextAttemptAt time.Time
}
