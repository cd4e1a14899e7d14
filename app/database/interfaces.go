package database

import (
	"errors"
	"time"

	"github.com/lysyi3m/rpde-comb/app/feed"
)

// ErrFeedChanged is returned by writes made on behalf of a feed that is no longer
// registered under the URL the caller synchronised.
var ErrFeedChanged = errors.New("feed not registered under this URL")

type FeedRepository interface {
	GetFeed(feedName string) (*Feed, error)
	ListFeeds(enabledOnly bool) ([]Feed, error)
	GetFeedCount() (int, error)

	UpsertFeed(feedName, feedURL string, enabled bool) (created bool, urlChanged bool, err error)
	SetFeedEnabled(feedName string, enabled bool) error
	SaveCursor(feedName, feedURL, cursor string, fetchedAt time.Time) error
	RecordFailure(feedName string, failure Failure) error
}

type SnapshotRepository interface {
	GetSnapshot(feedName string) (feed.Snapshot, error)
	GetItemCount(feedName string) (int, error)

	SaveSnapshot(feedName, feedURL string, snapshot feed.Snapshot) error
}

var (
	_ FeedRepository     = (*feedRepository)(nil)
	_ SnapshotRepository = (*snapshotRepository)(nil)
)
