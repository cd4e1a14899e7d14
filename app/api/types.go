package api

import (
	"time"

	"github.com/lysyi3m/rpde-comb/app/database"
	"github.com/lysyi3m/rpde-comb/app/feed"
	"github.com/lysyi3m/rpde-comb/app/tasks"
)

type Handler struct {
	feedRepo     database.FeedRepository
	snapshotRepo database.SnapshotRepository
	configCache  *feed.ConfigCache
	scheduler    tasks.TaskSchedulerInterface
	limiter      *feed.HostLimiter
}

// feedStatus is the externally visible progress of one feed.
type feedStatus struct {
	Name                string     `json:"name"`
	URL                 string     `json:"url"`
	Enabled             bool       `json:"enabled"`
	Registered          bool       `json:"registered"`
	Cursor              string     `json:"cursor,omitempty"`
	ItemCount           int        `json:"item_count"`
	PagesFetched        int64      `json:"pages_fetched"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	LastError           string     `json:"last_error,omitempty"`
	LastErrorKind       string     `json:"last_error_kind,omitempty"`
	LastFetchedAt       *time.Time `json:"last_fetched_at,omitempty"`
	LastSuccessAt       *time.Time `json:"last_success_at,omitempty"`
	NextAttemptAt       *time.Time `json:"next_attempt_at,omitempty"`
	LastRequestAt       *time.Time `json:"last_request_at,omitempty"` // last request let through to the cursor's host
	State               string     `json:"state,omitempty"`
}
