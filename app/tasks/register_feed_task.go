package tasks

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lysyi3m/rpde-comb/app/database"
	"github.com/lysyi3m/rpde-comb/app/feed"
)

// RegisterFeedTask writes a feed configuration into the control table.
type RegisterFeedTask struct {
	Task
	FeedConfig *feed.Config
	Enabled    bool
	feedRepo   database.FeedRepository
}

func NewRegisterFeedTask(feedName string, feedConfig *feed.Config, enabled bool, feedRepo database.FeedRepository) *RegisterFeedTask {
	return &RegisterFeedTask{
		Task:       NewTask(TaskTypeRegisterFeed, feedName),
		FeedConfig: feedConfig,
		Enabled:    enabled,
		feedRepo:   feedRepo,
	}
}

func (t *RegisterFeedTask) Execute(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrInterrupted, ctx.Err())
	default:
	}

	created, urlChanged, err := t.feedRepo.UpsertFeed(t.FeedConfig.Name, t.FeedConfig.URL, t.Enabled)
	if err != nil {
		return fmt.Errorf("failed to register feed: %w", err)
	}

	if urlChanged {
		slog.Warn("Feed URL changed, restarting from first page", "feed", t.FeedName, "url", t.FeedConfig.URL)
	}

	slog.Info("Task completed",
		"type", "RegisterFeed",
		"feed", t.FeedName,
		"created", created,
		"enabled", t.Enabled,
		"duration", t.GetDuration())

	return nil
}
