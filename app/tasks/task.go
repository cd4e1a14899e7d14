package tasks

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
)

type TaskType string

const (
	TaskTypeSyncFeed         TaskType = "sync_feed"
	TaskTypeRegisterFeed     TaskType = "register_feed"
	TaskTypeCollateSnapshots TaskType = "collate_snapshots"
)

const (
	DefaultMaxRetries = 3

	baseRetryDelay = time.Second
	maxRetryDelay  = 30 * time.Second
)

type TaskInterface interface {
	Execute(ctx context.Context) error
	GetID() string
	GetType() TaskType
	GetFeedName() string
	GetRetryCount() int
	GetMaxRetries() int
	IncrementRetryCount()
	CanRetry() bool
	RetryDelay() time.Duration
	MarkQueued()
	QueueWait() time.Duration
	Start()
	GetDuration() time.Duration
}

// Task carries the bookkeeping shared by every task kind. FeedName is empty for tasks
// that span all feeds.
type Task struct {
	ID         string
	Type       TaskType
	FeedName   string
	RetryCount int
	MaxRetries int
	QueuedAt   *time.Time
	StartedAt  *time.Time
}

func (t *Task) GetID() string       { return t.ID }
func (t *Task) GetType() TaskType   { return t.Type }
func (t *Task) GetFeedName() string { return t.FeedName }
func (t *Task) GetRetryCount() int  { return t.RetryCount }
func (t *Task) GetMaxRetries() int  { return t.MaxRetries }

func (t *Task) IncrementRetryCount() {
	t.RetryCount++
}

func (t *Task) CanRetry() bool {
	return t.RetryCount < t.MaxRetries
}

// RetryDelay is the pause before the current retry: one second, doubling per attempt,
// capped at thirty seconds.
func (t *Task) RetryDelay() time.Duration {
	if t.RetryCount == 0 {
		return 0
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = baseRetryDelay
	b.MaxInterval = maxRetryDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()

	d := b.NextBackOff()
	for i := 1; i < t.RetryCount; i++ {
		d = b.NextBackOff()
	}
	return d
}

func (t *Task) MarkQueued() {
	now := time.Now()
	t.QueuedAt = &now
	t.StartedAt = nil
}

// QueueWait is how long the task sat in the queue before a worker picked it up.
func (t *Task) QueueWait() time.Duration {
	if t.QueuedAt == nil || t.StartedAt == nil {
		return 0
	}
	return t.StartedAt.Sub(*t.QueuedAt)
}

func (t *Task) Start() {
	now := time.Now()
	t.StartedAt = &now
}

func (t *Task) GetDuration() time.Duration {
	if t.StartedAt == nil {
		return 0
	}
	return time.Since(*t.StartedAt)
}

func NewTask(taskType TaskType, feedName string) Task {
	return Task{
		ID:         uuid.NewString(),
		Type:       taskType,
		FeedName:   feedName,
		MaxRetries: DefaultMaxRetries,
	}
}
