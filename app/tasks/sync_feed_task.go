package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lysyi3m/rpde-comb/app/database"
	"github.com/lysyi3m/rpde-comb/app/feed"
	"github.com/lysyi3m/rpde-comb/app/metrics"
)

// PageFetcher retrieves one decoded RPDE page.
type PageFetcher interface {
	Run(ctx context.Context, pageURL string) (*feed.Page, error)
}

type sweepResult struct {
	Pages     int
	Items     int
	EndOfFeed bool
	Skipped   bool
}

// SyncFeedTask walks a feed from its stored cursor, one page at a time, until the
// publisher repeats the cursor, a step fails, or the page cap is hit.
type SyncFeedTask struct {
	Task
	FeedConfig   *feed.Config
	fetcher      PageFetcher
	reconciler   *feed.Reconciler
	feedRepo     database.FeedRepository
	snapshotRepo database.SnapshotRepository
	control      *RunControl
	events       chan<- Event
	maxPages     int
}

func NewSyncFeedTask(feedName string, feedConfig *feed.Config, fetcher PageFetcher, reconciler *feed.Reconciler,
	feedRepo database.FeedRepository, snapshotRepo database.SnapshotRepository, control *RunControl,
	events chan<- Event, maxPages int) *SyncFeedTask {
	task := NewTask(TaskTypeSyncFeed, feedName)
	task.MaxRetries = 0 // a failed sweep waits for its cool-down instead

	return &SyncFeedTask{
		Task:         task,
		FeedConfig:   feedConfig,
		fetcher:      fetcher,
		reconciler:   reconciler,
		feedRepo:     feedRepo,
		snapshotRepo: snapshotRepo,
		control:      control,
		events:       events,
		maxPages:     maxPages,
	}
}

func (t *SyncFeedTask) Execute(ctx context.Context) error {
	result, err := t.sweep(ctx)
	if err != nil {
		t.setState(ctx, FeedStateIdle)
		if interrupted(ctx, err) {
			return fmt.Errorf("%w after %d pages: %w", ErrInterrupted, result.Pages, err)
		}
		t.recordFailure(err)
		return err
	}

	if result.Skipped {
		t.setState(ctx, FeedStateIdle)
		return nil
	}

	if result.EndOfFeed {
		metrics.SweepsCompleted.WithLabelValues(t.FeedName).Inc()
	} else {
		slog.Warn("Page limit reached before end of feed", "feed", t.FeedName, "pages", result.Pages)
	}

	slog.Info("Task completed",
		"type", "SyncFeed",
		"feed", t.FeedName,
		"pages", result.Pages,
		"items", result.Items,
		"end_of_feed", result.EndOfFeed,
		"duration", t.GetDuration())

	return nil
}

func (t *SyncFeedTask) sweep(ctx context.Context) (sweepResult, error) {
	var result sweepResult

	for result.Pages < t.maxPages {
		if err := t.control.Wait(ctx); err != nil {
			return result, err
		}

		f, err := t.feedRepo.GetFeed(t.FeedName)
		if err != nil {
			return result, feed.NewPersistenceError(err)
		}
		if f == nil {
			return result, fmt.Errorf("feed %s is not registered", t.FeedName)
		}
		if !f.Enabled {
			slog.Debug("Feed disabled, skipping", "feed", t.FeedName)
			result.Skipped = true
			return result, nil
		}

		isEnd, items, err := t.step(ctx, f.URL, f.Cursor)
		if err != nil {
			return result, err
		}

		result.Pages++
		result.Items += items

		if isEnd {
			t.setState(ctx, FeedStateEndOfFeed)
			result.EndOfFeed = true
			return result, nil
		}
		t.setState(ctx, FeedStateMorePages)
	}

	return result, nil
}

// step fetches, reconciles and persists the page at cursor. Once the page is fetched the
// step runs to completion; pausing takes effect before the next step. Both writes are
// bound to feedURL, so a re-registration under another URL discards the step.
func (t *SyncFeedTask) step(ctx context.Context, feedURL, cursor string) (bool, int, error) {
	started := time.Now()

	t.setState(ctx, FeedStateFetchingPage)
	page, err := t.fetchPage(ctx, cursor)
	if err != nil {
		return false, 0, err
	}

	t.setState(ctx, FeedStateReconciling)
	existing, err := t.snapshotRepo.GetSnapshot(t.FeedName)
	if err != nil {
		return false, 0, feed.NewPersistenceError(err)
	}
	snapshot, items := t.reconciler.Run(existing, page)

	t.setState(ctx, FeedStatePersisting)
	if err := t.snapshotRepo.SaveSnapshot(t.FeedName, feedURL, snapshot); err != nil {
		return false, 0, feed.NewPersistenceError(err)
	}
	if err := t.feedRepo.SaveCursor(t.FeedName, feedURL, page.Next, time.Now()); err != nil {
		return false, 0, feed.NewPersistenceError(err)
	}

	metrics.PagesFetched.WithLabelValues(t.FeedName).Inc()
	metrics.ItemsReconciled.WithLabelValues(t.FeedName).Add(float64(items))
	metrics.SnapshotItems.WithLabelValues(t.FeedName).Set(float64(len(snapshot)))
	metrics.PageDuration.Observe(time.Since(started).Seconds())

	slog.Debug("Page synchronised", "feed", t.FeedName, "url", cursor, "next", page.Next, "items", items, "snapshot", len(snapshot))

	return page.Next == cursor, items, nil
}

func (t *SyncFeedTask) fetchPage(ctx context.Context, cursor string) (*feed.Page, error) {
	if t.FeedConfig != nil && t.FeedConfig.Settings.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(t.FeedConfig.Settings.Timeout)*time.Second)
		defer cancel()
	}
	return t.fetcher.Run(ctx, cursor)
}

func (t *SyncFeedTask) recordFailure(err error) {
	kind := feed.KindOf(err)
	if kind == "" {
		kind = feed.ErrorKindPersistence
	}
	metrics.FetchErrors.WithLabelValues(t.FeedName, string(kind)).Inc()

	f, getErr := t.feedRepo.GetFeed(t.FeedName)
	if getErr != nil || f == nil {
		slog.Error("Failed to load feed for failure status", "feed", t.FeedName, "error", getErr)
		return
	}

	now := time.Now()
	failure := database.Failure{
		Kind:          string(kind),
		Message:       err.Error(),
		FailedAt:      now,
		NextAttemptAt: now.Add(cooldown(f.ConsecutiveFailures + 1)),
	}
	if recErr := t.feedRepo.RecordFailure(t.FeedName, failure); recErr != nil {
		slog.Error("Failed to record feed failure", "feed", t.FeedName, "error", recErr)
	}
}

func (t *SyncFeedTask) setState(ctx context.Context, state FeedState) {
	emit(ctx, t.events, Event{
		Type:     EventState,
		TaskID:   t.ID,
		TaskType: t.Type,
		FeedName: t.FeedName,
		State:    state,
	})
}

// interrupted reports whether err comes from the scheduler stopping, the task running
// out of time while idle, or the feed being re-registered mid-step, rather than from the
// feed itself.
func interrupted(ctx context.Context, err error) bool {
	if errors.Is(err, ErrStopped) || errors.Is(err, database.ErrFeedChanged) || errors.Is(ctx.Err(), context.Canceled) {
		return true
	}
	return feed.KindOf(err) == "" && ctx.Err() != nil
}
