package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/huandu/go-sqlbuilder"
)

var feedColumns = []string{
	"name", "url", "cursor", "enabled", "pages_fetched", "consecutive_failures",
	"last_error", "last_error_kind", "last_fetched_at", "last_success_at", "next_attempt_at",
	"created_at", "updated_at",
}

// feedRepository handles database operations for feeds
type feedRepository struct {
	db *DB
}

// NewFeedRepository creates a new feed repository
func NewFeedRepository(db *DB) FeedRepository {
	return &feedRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFeed(row rowScanner) (*Feed, error) {
	var feed Feed
	var lastFetched, lastSuccess, nextAttempt sql.NullTime

	err := row.Scan(
		&feed.Name, &feed.URL, &feed.Cursor, &feed.Enabled, &feed.PagesFetched, &feed.ConsecutiveFailures,
		&feed.LastError, &feed.LastErrorKind, &lastFetched, &lastSuccess, &nextAttempt,
		&feed.CreatedAt, &feed.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	feed.LastFetchedAt = nullTimePtr(lastFetched)
	feed.LastSuccessAt = nullTimePtr(lastSuccess)
	feed.NextAttemptAt = nullTimePtr(nextAttempt)

	return &feed, nil
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

// UpsertFeed registers a feed or refreshes its settings. A new feed, or one whose
// URL changed, starts over from its first page with an empty snapshot.
func (r *feedRepository) UpsertFeed(feedName, feedURL string, enabled bool) (bool, bool, error) {
	tx, err := r.db.Begin()
	if err != nil {
		return false, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var existingURL string
	err = tx.QueryRow(`SELECT url FROM feeds WHERE name = ?`, feedName).Scan(&existingURL)
	if err != nil && err != sql.ErrNoRows {
		return false, false, fmt.Errorf("failed to check existing feed: %w", err)
	}

	now := time.Now().UTC()
	created := err == sql.ErrNoRows
	urlChanged := !created && existingURL != feedURL

	switch {
	case created:
		_, err = tx.Exec(`
			INSERT INTO feeds (name, url, cursor, enabled, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, feedName, feedURL, feedURL, enabled, now, now)
	case urlChanged:
		_, err = tx.Exec(`
			UPDATE feeds
			SET url = ?, cursor = ?, enabled = ?, pages_fetched = 0, consecutive_failures = 0,
			    last_error = '', last_error_kind = '', next_attempt_at = NULL, updated_at = ?
			WHERE name = ?
		`, feedURL, feedURL, enabled, now, feedName)
		if err == nil {
			_, err = tx.Exec(`DELETE FROM snapshots WHERE feed_name = ?`, feedName)
		}
	default:
		_, err = tx.Exec(`UPDATE feeds SET enabled = ?, updated_at = ? WHERE name = ?`, enabled, now, feedName)
	}
	if err != nil {
		return false, false, fmt.Errorf("failed to upsert feed: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, false, fmt.Errorf("failed to commit feed upsert: %w", err)
	}

	return created, urlChanged, nil
}

// SetFeedEnabled sets the enabled status of a feed
func (r *feedRepository) SetFeedEnabled(feedName string, enabled bool) error {
	_, err := r.db.Exec(`
		UPDATE feeds
		SET enabled = ?, updated_at = ?
		WHERE name = ?
	`, enabled, time.Now().UTC(), feedName)

	if err != nil {
		return fmt.Errorf("failed to set feed enabled status: %w", err)
	}

	return nil
}

// SaveCursor durably records the next page to fetch and clears any failure state. It
// only applies while the feed is still registered under feedURL.
func (r *feedRepository) SaveCursor(feedName, feedURL, cursor string, fetchedAt time.Time) error {
	res, err := r.db.Exec(`
		UPDATE feeds
		SET cursor = ?, pages_fetched = pages_fetched + 1, consecutive_failures = 0,
		    last_error = '', last_error_kind = '', last_fetched_at = ?, last_success_at = ?,
		    next_attempt_at = NULL, updated_at = ?
		WHERE name = ? AND url = ?
	`, cursor, fetchedAt.UTC(), fetchedAt.UTC(), time.Now().UTC(), feedName, feedURL)
	if err != nil {
		return fmt.Errorf("failed to save cursor: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to save cursor: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("failed to save cursor of %s: %w", feedName, ErrFeedChanged)
	}

	return nil
}

// RecordFailure stores the outcome of a failed sweep and when the feed may be retried
func (r *feedRepository) RecordFailure(feedName string, failure Failure) error {
	_, err := r.db.Exec(`
		UPDATE feeds
		SET consecutive_failures = consecutive_failures + 1, last_error = ?, last_error_kind = ?,
		    last_fetched_at = ?, next_attempt_at = ?, updated_at = ?
		WHERE name = ?
	`, failure.Message, failure.Kind, failure.FailedAt.UTC(), failure.NextAttemptAt.UTC(), time.Now().UTC(), feedName)

	if err != nil {
		return fmt.Errorf("failed to record feed failure: %w", err)
	}

	return nil
}

// GetFeed retrieves a feed by name, returning nil when it is not registered
func (r *feedRepository) GetFeed(feedName string) (*Feed, error) {
	sb := sqlbuilder.NewSelectBuilder()
	sb.Select(feedColumns...).From("feeds").Where(sb.Equal("name", feedName))
	query, args := sb.BuildWithFlavor(sqlbuilder.SQLite)

	feed, err := scanFeed(r.db.QueryRow(query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get feed: %w", err)
	}

	return feed, nil
}

// ListFeeds returns registered feeds ordered by name
func (r *feedRepository) ListFeeds(enabledOnly bool) ([]Feed, error) {
	sb := sqlbuilder.NewSelectBuilder()
	sb.Select(feedColumns...).From("feeds")
	if enabledOnly {
		sb.Where(sb.Equal("enabled", true))
	}
	sb.OrderBy("name")
	query, args := sb.BuildWithFlavor(sqlbuilder.SQLite)

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list feeds: %w", err)
	}
	defer rows.Close()

	var feeds []Feed
	for rows.Next() {
		feed, err := scanFeed(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan feed row: %w", err)
		}
		feeds = append(feeds, *feed)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating feed rows: %w", err)
	}

	return feeds, nil
}

// GetFeedCount returns the total number of registered feeds
func (r *feedRepository) GetFeedCount() (int, error) {
	var count int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM feeds`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to get feed count: %w", err)
	}

	return count, nil
}
