package tasks

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/lysyi3m/rpde-comb/app/database"
	"github.com/lysyi3m/rpde-comb/app/feed"
)

// MockFeedRepository is an in-memory control table
type MockFeedRepository struct {
	mu             sync.Mutex
	feeds          map[string]*database.Feed
	failures       []database.Failure
	saveCursorErrs int // number of upcoming SaveCursor calls that fail
}

var _ database.FeedRepository = (*MockFeedRepository)(nil)

func NewMockFeedRepository() *MockFeedRepository {
	return &MockFeedRepository{feeds: make(map[string]*database.Feed)}
}

func (m *MockFeedRepository) add(name, url string, enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.feeds[name] = &database.Feed{Name: name, URL: url, Cursor: url, Enabled: enabled}
}

func (m *MockFeedRepository) GetFeed(feedName string) (*database.Feed, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.feeds[feedName]
	if !ok {
		return nil, nil
	}
	copied := *f
	return &copied, nil
}

func (m *MockFeedRepository) ListFeeds(enabledOnly bool) ([]database.Feed, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var feeds []database.Feed
	for _, f := range m.feeds {
		if enabledOnly && !f.Enabled {
			continue
		}
		feeds = append(feeds, *f)
	}
	return feeds, nil
}

func (m *MockFeedRepository) GetFeedCount() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.feeds), nil
}

func (m *MockFeedRepository) UpsertFeed(feedName, feedURL string, enabled bool) (bool, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.feeds[feedName]
	if !ok {
		m.feeds[feedName] = &database.Feed{Name: feedName, URL: feedURL, Cursor: feedURL, Enabled: enabled}
		return true, false, nil
	}

	urlChanged := f.URL != feedURL
	if urlChanged {
		f.URL = feedURL
		f.Cursor = feedURL
	}
	f.Enabled = enabled
	return false, urlChanged, nil
}

func (m *MockFeedRepository) SetFeedEnabled(feedName string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if f, ok := m.feeds[feedName]; ok {
		f.Enabled = enabled
	}
	return nil
}

func (m *MockFeedRepository) SaveCursor(feedName, feedURL, cursor string, fetchedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.saveCursorErrs > 0 {
		m.saveCursorErrs--
		return errors.New("disk I/O error")
	}

	f, ok := m.feeds[feedName]
	if !ok || f.URL != feedURL {
		return database.ErrFeedChanged
	}
	f.Cursor = cursor
	f.PagesFetched++
	f.ConsecutiveFailures = 0
	f.NextAttemptAt = nil
	f.LastError = ""
	f.LastErrorKind = ""
	f.LastSuccessAt = &fetchedAt
	return nil
}

func (m *MockFeedRepository) RecordFailure(feedName string, failure database.Failure) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.failures = append(m.failures, failure)
	if f, ok := m.feeds[feedName]; ok {
		f.ConsecutiveFailures++
		f.LastError = failure.Message
		f.LastErrorKind = failure.Kind
		next := failure.NextAttemptAt
		f.NextAttemptAt = &next
	}
	return nil
}

func (m *MockFeedRepository) failureCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.failures)
}

// MockSnapshotRepository keeps encoded snapshots so stored records never alias live maps
type MockSnapshotRepository struct {
	mu        sync.Mutex
	snapshots map[string][]byte
	saveErr   error
}

var _ database.SnapshotRepository = (*MockSnapshotRepository)(nil)

func NewMockSnapshotRepository() *MockSnapshotRepository {
	return &MockSnapshotRepository{snapshots: make(map[string][]byte)}
}

func (m *MockSnapshotRepository) GetSnapshot(feedName string) (feed.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, ok := m.snapshots[feedName]
	if !ok {
		return feed.Snapshot{}, nil
	}

	var items []feed.Item
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, err
	}
	return feed.SnapshotFromItems(items), nil
}

func (m *MockSnapshotRepository) GetItemCount(feedName string) (int, error) {
	snapshot, err := m.GetSnapshot(feedName)
	return len(snapshot), err
}

func (m *MockSnapshotRepository) SaveSnapshot(feedName, feedURL string, snapshot feed.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.saveErr != nil {
		return m.saveErr
	}

	data, err := json.Marshal(snapshot.Items())
	if err != nil {
		return err
	}
	m.snapshots[feedName] = data
	return nil
}

// MockFetcher serves canned pages by URL
type MockFetcher struct {
	mu    sync.Mutex
	pages map[string]feed.Page
	errs  map[string]error
	calls []string
	next  func(pageURL string) *feed.Page
}

func NewMockFetcher() *MockFetcher {
	return &MockFetcher{
		pages: make(map[string]feed.Page),
		errs:  make(map[string]error),
	}
}

func (m *MockFetcher) addPage(pageURL, next string, items ...feed.Item) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pages[pageURL] = feed.Page{URL: pageURL, Items: items, Next: next}
}

func (m *MockFetcher) fail(pageURL string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs[pageURL] = err
}

func (m *MockFetcher) Run(ctx context.Context, pageURL string) (*feed.Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, pageURL)

	if err := ctx.Err(); err != nil {
		return nil, feed.NewTransportError(pageURL, err)
	}
	if err, ok := m.errs[pageURL]; ok {
		return nil, err
	}
	if page, ok := m.pages[pageURL]; ok {
		return &page, nil
	}
	if m.next != nil {
		return m.next(pageURL), nil
	}
	return nil, feed.NewHTTPStatusError(pageURL, 404)
}

func (m *MockFetcher) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func item(id string, modified int64, state feed.ItemState) feed.Item {
	it := feed.Item{ID: id, Modified: feed.ModifiedInt(modified), State: state}
	if state == feed.StateUpdated {
		it.Data = json.RawMessage(`{"v":` + it.Modified.String() + `}`)
	}
	return it
}
