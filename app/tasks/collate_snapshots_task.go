package tasks

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/lysyi3m/rpde-comb/app/database"
	"github.com/lysyi3m/rpde-comb/app/feed"
	"github.com/lysyi3m/rpde-comb/app/metrics"
)

const collateConcurrency = 4

// CollateSnapshotsTask reads every stored snapshot, refreshes the item gauges and,
// when an export path is configured, writes the combined document.
type CollateSnapshotsTask struct {
	Task
	feedRepo     database.FeedRepository
	snapshotRepo database.SnapshotRepository
	generator    *feed.Generator
	exportPath   string
}

func NewCollateSnapshotsTask(feedRepo database.FeedRepository, snapshotRepo database.SnapshotRepository,
	generator *feed.Generator, exportPath string) *CollateSnapshotsTask {
	return &CollateSnapshotsTask{
		Task:         NewTask(TaskTypeCollateSnapshots, ""),
		feedRepo:     feedRepo,
		snapshotRepo: snapshotRepo,
		generator:    generator,
		exportPath:   exportPath,
	}
}

func (t *CollateSnapshotsTask) Execute(ctx context.Context) error {
	feeds, err := t.feedRepo.ListFeeds(false)
	if err != nil {
		return fmt.Errorf("failed to list feeds: %w", err)
	}

	collated, err := t.collect(ctx, feeds)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %w", ErrInterrupted, err)
		}
		return err
	}

	totalItems := 0
	for _, c := range collated {
		metrics.SnapshotItems.WithLabelValues(c.Name).Set(float64(len(c.Items)))
		totalItems += len(c.Items)
	}

	if t.exportPath != "" {
		if err := t.generator.WriteFile(t.exportPath, collated); err != nil {
			return fmt.Errorf("failed to write export: %w", err)
		}
	}

	slog.Info("Task completed",
		"type", "CollateSnapshots",
		"feeds", len(collated),
		"items", totalItems,
		"exported", t.exportPath != "",
		"duration", t.GetDuration())

	return nil
}

func (t *CollateSnapshotsTask) collect(ctx context.Context, feeds []database.Feed) ([]feed.CollatedFeed, error) {
	collated := make([]feed.CollatedFeed, len(feeds))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(collateConcurrency)

	for i, f := range feeds {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			snapshot, err := t.snapshotRepo.GetSnapshot(f.Name)
			if err != nil {
				return fmt.Errorf("failed to read snapshot of %s: %w", f.Name, err)
			}

			collated[i] = feed.CollatedFeed{
				Name:   f.Name,
				URL:    f.URL,
				Cursor: f.Cursor,
				Items:  snapshot.Items(),
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return collated, nil
}
