package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/lysyi3m/rpde-comb/app/cfg"
	"github.com/lysyi3m/rpde-comb/app/database"
	"github.com/lysyi3m/rpde-comb/app/feed"
	"github.com/lysyi3m/rpde-comb/app/metrics"
)

var _ TaskSchedulerInterface = (*Scheduler)(nil)

var (
	ErrUnknownFeed  = errors.New("feed not found")
	ErrFeedDisabled = errors.New("feed is disabled")
	ErrFeedInFlight = errors.New("feed is already being synchronised")
	ErrNotRunning   = errors.New("scheduler is not running")
	errQueueFull    = errors.New("task queue is full")
)

const (
	taskQueueSize = 300
	taskTimeout   = 30 * time.Minute
)

type Options struct {
	Interval         time.Duration
	CollateInterval  time.Duration
	WorkerCount      int
	MaxPagesPerSweep int
	ExportPath       string
}

func OptionsFromConfig(c *cfg.Cfg) Options {
	return Options{
		Interval:         c.GetSchedulerInterval(),
		CollateInterval:  c.GetCollateInterval(),
		WorkerCount:      c.WorkerCount,
		MaxPagesPerSweep: c.MaxPagesPerSweep,
		ExportPath:       c.ExportPath,
	}
}

type Stats struct {
	State          string               `json:"state"`
	Workers        int                  `json:"workers"`
	QueueLength    int                  `json:"queue_length"`
	InFlight       []string             `json:"in_flight"`
	TasksProcessed int64                `json:"tasks_processed"`
	TasksFailed    int64                `json:"tasks_failed"`
	Feeds          map[string]FeedState `json:"feeds"`
}

type Scheduler struct {
	feedRepo     database.FeedRepository
	snapshotRepo database.SnapshotRepository
	configCache  *feed.ConfigCache
	fetcher      PageFetcher
	reconciler   *feed.Reconciler
	generator    *feed.Generator
	control      *RunControl
	opts         Options
	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	taskQueue    chan TaskInterface
	events       chan Event

	mu          sync.RWMutex
	inFlight    map[string]string // feed name -> sync or register task ID
	pendingRegs map[string]*feed.Config
	feedStates  map[string]FeedState
	processed   int64
	failed      int64
}

func NewScheduler(configCache *feed.ConfigCache, feedRepo database.FeedRepository, snapshotRepo database.SnapshotRepository,
	fetcher PageFetcher, opts Options) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		feedRepo:     feedRepo,
		snapshotRepo: snapshotRepo,
		configCache:  configCache,
		fetcher:      fetcher,
		reconciler:   feed.NewReconciler(),
		generator:    feed.NewGenerator(),
		control:      NewRunControl(),
		opts:         opts,
		ctx:          ctx,
		cancel:       cancel,
		taskQueue:    make(chan TaskInterface, taskQueueSize),
		events:       make(chan Event, taskQueueSize),
		inFlight:     make(map[string]string),
		pendingRegs:  make(map[string]*feed.Config),
		feedStates:   make(map[string]FeedState),
	}
}

func (s *Scheduler) Start() {
	s.control.Start()
	metrics.SchedulerPaused.Set(0)

	for i := 0; i < s.opts.WorkerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.wg.Add(1)
	go s.eventLoop()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.configCache.Watch(s.ctx, s.enqueueRegister); err != nil {
			slog.Warn("Configuration watcher stopped", "error", err)
		}
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.opts.Interval)
		defer ticker.Stop()

		var collate <-chan time.Time
		if s.opts.CollateInterval > 0 {
			collateTicker := time.NewTicker(s.opts.CollateInterval)
			defer collateTicker.Stop()
			collate = collateTicker.C
		}

		s.enqueueStartupTasks()

		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				s.enqueueSweep()
			case <-collate:
				s.enqueueCollate()
			}
		}
	}()
}

// Stop halts every task between page steps and waits for the workers to exit.
func (s *Scheduler) Stop() {
	s.control.Stop()
	s.cancel()
	s.wg.Wait()
}

func (s *Scheduler) Pause() bool {
	if !s.control.Pause() {
		return false
	}
	metrics.SchedulerPaused.Set(1)
	slog.Info("Scheduler paused")
	return true
}

func (s *Scheduler) Resume() bool {
	if !s.control.Resume() {
		return false
	}
	metrics.SchedulerPaused.Set(0)
	slog.Info("Scheduler resumed")
	return true
}

func (s *Scheduler) State() RunState {
	return s.control.State()
}

func (s *Scheduler) EnqueueTask(task TaskInterface) error {
	select {
	case <-s.ctx.Done():
		return s.ctx.Err()
	default:
	}

	task.MarkQueued()

	select {
	case s.taskQueue <- task:
		return nil
	case <-s.ctx.Done():
		return s.ctx.Err()
	default:
		return errQueueFull
	}
}

// SyncFeed starts a sweep of feedName now, outside the regular interval.
func (s *Scheduler) SyncFeed(feedName string) error {
	if s.State() == RunStateStopped {
		return ErrNotRunning
	}

	feedConfig, err := s.configCache.GetConfig(feedName)
	if err != nil {
		return ErrUnknownFeed
	}
	if !s.configCache.IsEnabled(feedConfig) {
		return ErrFeedDisabled
	}

	return s.enqueueSync(feedConfig)
}

func (s *Scheduler) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inFlight := lo.Keys(s.inFlight)
	slices.Sort(inFlight)

	return Stats{
		State:          s.State().String(),
		Workers:        s.opts.WorkerCount,
		QueueLength:    len(s.taskQueue),
		InFlight:       inFlight,
		TasksProcessed: s.processed,
		TasksFailed:    s.failed,
		Feeds:          lo.Assign(s.feedStates),
	}
}

func (s *Scheduler) enqueueStartupTasks() {
	feedConfigs := s.configCache.GetConfigs()
	if len(feedConfigs) == 0 {
		slog.Debug("No feed configurations found")
		return
	}

	slog.Debug("Registering feed configurations", "count", len(feedConfigs))

	for _, feedConfig := range feedConfigs {
		s.enqueueRegister(feedConfig)
	}
}

// enqueueRegister queues a registration under the feed's in-flight slot. While a sweep
// holds the slot the latest configuration waits and is queued once the slot is released.
func (s *Scheduler) enqueueRegister(feedConfig *feed.Config) {
	task := NewRegisterFeedTask(feedConfig.Name, feedConfig, s.configCache.IsEnabled(feedConfig), s.feedRepo)

	s.mu.Lock()
	if _, ok := s.inFlight[feedConfig.Name]; ok {
		s.pendingRegs[feedConfig.Name] = feedConfig
		s.mu.Unlock()
		slog.Debug("Feed in flight, deferring registration", "feed", feedConfig.Name)
		return
	}
	s.inFlight[feedConfig.Name] = task.ID
	metrics.FeedsInFlight.Set(float64(len(s.inFlight)))
	s.mu.Unlock()

	if err := s.EnqueueTask(task); err != nil {
		s.release(feedConfig.Name, task.ID)
		slog.Warn("Failed to enqueue RegisterFeedTask", "feed", feedConfig.Name, "error", err)
	}
}

func (s *Scheduler) enqueueSweep() {
	if s.State() != RunStateRunning {
		slog.Debug("Scheduler not running, skipping sweep", "state", s.State().String())
		return
	}

	feedConfigs := s.configCache.GetEnabledConfigs()
	if len(feedConfigs) == 0 {
		slog.Debug("No enabled feed configurations found")
		return
	}

	enabled, err := s.feedRepo.ListFeeds(true)
	if err != nil {
		slog.Warn("Failed to list feeds, skipping sweep", "error", err)
		return
	}
	feeds := lo.KeyBy(enabled, func(f database.Feed) string { return f.Name })

	slog.Debug("Processing enabled feed configurations for task scheduling", "count", len(feedConfigs))

	now := time.Now()
	for _, feedConfig := range feedConfigs {
		f, ok := feeds[feedConfig.Name]
		if !ok {
			s.sweepUnlisted(feedConfig)
			continue
		}
		if !f.IsDue(now) {
			slog.Debug("Feed cooling down", "feed", feedConfig.Name, "next_attempt_at", f.NextAttemptAt)
			continue
		}

		if err := s.enqueueSync(feedConfig); err != nil && !errors.Is(err, ErrFeedInFlight) {
			slog.Warn("Failed to enqueue SyncFeedTask", "feed", feedConfig.Name, "error", err)
		}
	}
}

// sweepUnlisted handles an enabled configuration with no enabled control row: either it
// was never registered or it was switched off through the API.
func (s *Scheduler) sweepUnlisted(feedConfig *feed.Config) {
	f, err := s.feedRepo.GetFeed(feedConfig.Name)
	if err != nil {
		slog.Warn("Failed to get feed from database, skipping", "feed", feedConfig.Name, "error", err)
		return
	}
	if f == nil {
		slog.Warn("Feed not registered yet, registering", "feed", feedConfig.Name)
		s.enqueueRegister(feedConfig)
		return
	}
	slog.Debug("Feed disabled at runtime, skipping", "feed", feedConfig.Name)
}

func (s *Scheduler) enqueueSync(feedConfig *feed.Config) error {
	task := NewSyncFeedTask(feedConfig.Name, feedConfig, s.fetcher, s.reconciler, s.feedRepo, s.snapshotRepo,
		s.control, s.events, s.opts.MaxPagesPerSweep)

	s.mu.Lock()
	if _, ok := s.inFlight[feedConfig.Name]; ok {
		s.mu.Unlock()
		return ErrFeedInFlight
	}
	s.inFlight[feedConfig.Name] = task.ID
	metrics.FeedsInFlight.Set(float64(len(s.inFlight)))
	s.mu.Unlock()

	if err := s.EnqueueTask(task); err != nil {
		s.release(feedConfig.Name, task.ID)
		return fmt.Errorf("failed to enqueue sync: %w", err)
	}
	return nil
}

func (s *Scheduler) enqueueCollate() {
	task := NewCollateSnapshotsTask(s.feedRepo, s.snapshotRepo, s.generator, s.opts.ExportPath)
	if err := s.EnqueueTask(task); err != nil {
		slog.Warn("Failed to enqueue CollateSnapshotsTask", "error", err)
	}
}

func (s *Scheduler) release(feedName, taskID string) {
	s.mu.Lock()
	if s.inFlight[feedName] != taskID {
		s.mu.Unlock()
		return
	}
	delete(s.inFlight, feedName)
	metrics.FeedsInFlight.Set(float64(len(s.inFlight)))

	pending, ok := s.pendingRegs[feedName]
	delete(s.pendingRegs, feedName)
	s.mu.Unlock()

	if ok {
		s.enqueueRegister(pending)
	}
}

func (s *Scheduler) eventLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case ev := <-s.events:
			s.handleEvent(ev)
		}
	}
}

func (s *Scheduler) handleEvent(ev Event) {
	switch ev.Type {
	case EventStarted:
		if ev.TaskType == TaskTypeSyncFeed {
			s.setFeedState(ev.FeedName, FeedStateIdle)
		}
	case EventState:
		s.setFeedState(ev.FeedName, ev.State)
	case EventCompleted, EventFailed, EventInterrupted:
		s.mu.Lock()
		switch ev.Type {
		case EventCompleted:
			s.processed++
		case EventFailed:
			s.failed++
		}
		s.mu.Unlock()

		if ev.TaskType == TaskTypeSyncFeed || ev.TaskType == TaskTypeRegisterFeed {
			s.release(ev.FeedName, ev.TaskID)
		}
		if ev.TaskType == TaskTypeRegisterFeed && ev.Type == EventCompleted {
			s.syncAfterRegister(ev.FeedName)
		}
	}
}

func (s *Scheduler) syncAfterRegister(feedName string) {
	if s.State() != RunStateRunning {
		return
	}

	feedConfig, err := s.configCache.GetConfig(feedName)
	if err != nil || !s.configCache.IsEnabled(feedConfig) {
		return
	}

	if err := s.enqueueSync(feedConfig); err != nil && !errors.Is(err, ErrFeedInFlight) {
		slog.Warn("Failed to enqueue SyncFeedTask", "feed", feedName, "error", err)
	}
}

func (s *Scheduler) setFeedState(feedName string, state FeedState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.feedStates[feedName] = state
}

func (s *Scheduler) worker(id int) {
	defer s.wg.Done()

	for {
		select {
		case task := <-s.taskQueue:
			s.executeTask(id, task)

		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Scheduler) executeTask(workerID int, task TaskInterface) {
	task.Start()
	metrics.TaskQueueWait.Observe(task.QueueWait().Seconds())
	s.report(EventStarted, task, nil)

	taskCtx, cancel := context.WithTimeout(s.ctx, taskTimeout)
	defer cancel()

	err := task.Execute(taskCtx)
	if err == nil {
		s.report(EventCompleted, task, nil)
		return
	}

	if errors.Is(err, ErrInterrupted) {
		slog.Debug("Task interrupted", "worker_id", workerID, "type", string(task.GetType()), "feed", task.GetFeedName(), "id", task.GetID(), "reason", err)
		s.report(EventInterrupted, task, err)
		return
	}

	if !task.CanRetry() {
		slog.Error("Task failed", "worker_id", workerID, "type", string(task.GetType()), "feed", task.GetFeedName(), "id", task.GetID(), "retry_count", task.GetRetryCount(), "max_retries", task.GetMaxRetries(), "error", err)
		s.report(EventFailed, task, err)
		return
	}

	task.IncrementRetryCount()
	retryDelay := task.RetryDelay()

	slog.Warn("Task retry scheduled", "type", string(task.GetType()), "feed", task.GetFeedName(), "retry_count", task.GetRetryCount(), "max_retries", task.GetMaxRetries(), "delay", retryDelay.String(), "error", err)

	go func() {
		select {
		case <-time.After(retryDelay):
		case <-s.ctx.Done():
			slog.Debug("Scheduler stopped, skipping task retry", "type", string(task.GetType()), "id", task.GetID())
			return
		}
		if retryErr := s.EnqueueTask(task); retryErr != nil {
			slog.Error("Failed to re-enqueue task for retry", "type", string(task.GetType()), "id", task.GetID(), "retry_count", task.GetRetryCount(), "error", retryErr)
		}
	}()
}

func (s *Scheduler) report(eventType EventType, task TaskInterface, err error) {
	emit(s.ctx, s.events, Event{
		Type:     eventType,
		TaskID:   task.GetID(),
		TaskType: task.GetType(),
		FeedName: task.GetFeedName(),
		Err:      err,
	})
}
