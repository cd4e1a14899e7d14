package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/lysyi3m/rpde-comb/app/feed"
)

// snapshotRepository stores the reconciled item set of each feed as a single record
type snapshotRepository struct {
	db *DB
}

func NewSnapshotRepository(db *DB) SnapshotRepository {
	return &snapshotRepository{db: db}
}

// GetSnapshot returns the stored snapshot, or an empty one when nothing was saved yet
func (r *snapshotRepository) GetSnapshot(feedName string) (feed.Snapshot, error) {
	var data []byte
	err := r.db.QueryRow(`SELECT items FROM snapshots WHERE feed_name = ?`, feedName).Scan(&data)
	if err == sql.ErrNoRows {
		return feed.Snapshot{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}

	var items []feed.Item
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}

	return feed.SnapshotFromItems(items), nil
}

// SaveSnapshot replaces the stored snapshot in one statement, provided the feed is still
// registered under feedURL
func (r *snapshotRepository) SaveSnapshot(feedName, feedURL string, snapshot feed.Snapshot) error {
	items := snapshot.Items()
	if items == nil {
		items = []feed.Item{}
	}

	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	res, err := r.db.Exec(`
		INSERT INTO snapshots (feed_name, items, item_count, updated_at)
		SELECT ?, ?, ?, ?
		WHERE EXISTS (SELECT 1 FROM feeds WHERE name = ? AND url = ?)
		ON CONFLICT (feed_name) DO UPDATE
		SET items = excluded.items, item_count = excluded.item_count, updated_at = excluded.updated_at
	`, feedName, string(data), len(items), time.Now().UTC(), feedName, feedURL)
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("failed to save snapshot of %s: %w", feedName, ErrFeedChanged)
	}

	return nil
}

// GetItemCount returns the number of items in the stored snapshot
func (r *snapshotRepository) GetItemCount(feedName string) (int, error) {
	var count int
	err := r.db.QueryRow(`SELECT item_count FROM snapshots WHERE feed_name = ?`, feedName).Scan(&count)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get item count: %w", err)
	}

	return count, nil
}
