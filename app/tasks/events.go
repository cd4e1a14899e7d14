package tasks

import (
	"context"
	"errors"
	"time"
)

// ErrInterrupted marks a task cut short by shutdown or re-registration. It is not a
// failure of the feed.
var ErrInterrupted = errors.New("task interrupted")

// FeedState is the position of a feed in its synchronisation cycle.
type FeedState string

const (
	FeedStateIdle         FeedState = "idle"
	FeedStateFetchingPage FeedState = "fetching_page"
	FeedStateReconciling  FeedState = "reconciling"
	FeedStatePersisting   FeedState = "persisting"
	FeedStateEndOfFeed    FeedState = "end_of_feed"
	FeedStateMorePages    FeedState = "more_pages"
)

type EventType string

const (
	EventStarted     EventType = "started"
	EventState       EventType = "state"
	EventCompleted   EventType = "completed"
	EventFailed      EventType = "failed"
	EventInterrupted EventType = "interrupted"
)

type Event struct {
	Type     EventType
	TaskID   string
	TaskType TaskType
	FeedName string
	State    FeedState
	Err      error
	At       time.Time
}

// emit delivers ev unless events is nil or ctx is done first.
func emit(ctx context.Context, events chan<- Event, ev Event) {
	if events == nil {
		return
	}
	ev.At = time.Now()

	select {
	case events <- ev:
	case <-ctx.Done():
	}
}
