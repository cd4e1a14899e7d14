package tasks

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lysyi3m/rpde-comb/app/database"
	"github.com/lysyi3m/rpde-comb/app/feed"
)

func writeFeedConfig(t *testing.T, dir, name, url string, enabled bool) {
	t.Helper()

	content := "url: " + url + "\nsettings:\n  enabled: false\n"
	if enabled {
		content = "url: " + url + "\nsettings:\n  enabled: true\n"
	}
	if err := os.WriteFile(filepath.Join(dir, name+".yml"), []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
}

type schedulerFixture struct {
	scheduler    *Scheduler
	feedRepo     *MockFeedRepository
	snapshotRepo *MockSnapshotRepository
	fetcher      *MockFetcher
}

func newSchedulerFixture(t *testing.T, workers int) *schedulerFixture {
	t.Helper()

	dir := t.TempDir()
	writeFeedConfig(t, dir, "sessions", url1, true)
	writeFeedConfig(t, dir, "facilities", "https://other.example.com/feed", false)

	configCache := feed.NewConfigCache(dir, nil)
	if err := configCache.Run(); err != nil {
		t.Fatalf("Failed to load configs: %v", err)
	}

	fx := &schedulerFixture{
		feedRepo:     NewMockFeedRepository(),
		snapshotRepo: NewMockSnapshotRepository(),
		fetcher:      NewMockFetcher(),
	}
	fx.scheduler = NewScheduler(configCache, fx.feedRepo, fx.snapshotRepo, fx.fetcher, Options{
		Interval:         time.Hour,
		WorkerCount:      workers,
		MaxPagesPerSweep: 10,
	})
	return fx
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

func TestSchedulerRegistersAndSyncsOnStart(t *testing.T) {
	fx := newSchedulerFixture(t, 2)
	fx.fetcher.addPage(url1, url2, item("a", 1, feed.StateUpdated))
	fx.fetcher.addPage(url2, url2)

	fx.scheduler.Start()
	defer fx.scheduler.Stop()

	waitFor(t, "feed to reach end of feed", func() bool {
		f, _ := fx.feedRepo.GetFeed("sessions")
		return f != nil && f.Cursor == url2
	})

	waitFor(t, "sync task to finish", func() bool {
		return len(fx.scheduler.Stats().InFlight) == 0 && fx.scheduler.Stats().Feeds["sessions"] == FeedStateEndOfFeed
	})

	snapshot, _ := fx.snapshotRepo.GetSnapshot("sessions")
	if len(snapshot) != 1 {
		t.Errorf("Expected 1 item in snapshot, got %d", len(snapshot))
	}

	disabled, _ := fx.feedRepo.GetFeed("facilities")
	if disabled == nil {
		t.Fatal("Expected disabled feed to be registered")
	}
	if disabled.Enabled {
		t.Error("Expected facilities to be registered as disabled")
	}
	if disabled.PagesFetched != 0 {
		t.Error("Expected disabled feed not to be fetched")
	}
}

func TestSchedulerSyncFeed(t *testing.T) {
	fx := newSchedulerFixture(t, 0)

	if err := fx.scheduler.SyncFeed("sessions"); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Expected ErrNotRunning before start, got %v", err)
	}

	fx.scheduler.control.Start()

	if err := fx.scheduler.SyncFeed("unknown"); !errors.Is(err, ErrUnknownFeed) {
		t.Errorf("Expected ErrUnknownFeed, got %v", err)
	}
	if err := fx.scheduler.SyncFeed("facilities"); !errors.Is(err, ErrFeedDisabled) {
		t.Errorf("Expected ErrFeedDisabled, got %v", err)
	}
	if err := fx.scheduler.SyncFeed("sessions"); err != nil {
		t.Fatalf("Expected sync to be enqueued, got %v", err)
	}
	if err := fx.scheduler.SyncFeed("sessions"); !errors.Is(err, ErrFeedInFlight) {
		t.Errorf("Expected ErrFeedInFlight for second sync, got %v", err)
	}

	stats := fx.scheduler.Stats()
	if len(stats.InFlight) != 1 || stats.InFlight[0] != "sessions" {
		t.Errorf("Expected sessions in flight, got %v", stats.InFlight)
	}
	if stats.QueueLength != 1 {
		t.Errorf("Expected 1 queued task, got %d", stats.QueueLength)
	}
}

func TestSchedulerEventsReleaseInFlight(t *testing.T) {
	fx := newSchedulerFixture(t, 0)
	fx.scheduler.control.Start()

	if err := fx.scheduler.SyncFeed("sessions"); err != nil {
		t.Fatalf("Expected sync to be enqueued, got %v", err)
	}
	task := <-fx.scheduler.taskQueue

	fx.scheduler.handleEvent(Event{Type: EventStarted, TaskID: task.GetID(), TaskType: TaskTypeSyncFeed, FeedName: "sessions"})
	fx.scheduler.handleEvent(Event{Type: EventState, TaskID: task.GetID(), TaskType: TaskTypeSyncFeed, FeedName: "sessions", State: FeedStateFetchingPage})

	stats := fx.scheduler.Stats()
	if stats.Feeds["sessions"] != FeedStateFetchingPage {
		t.Errorf("Expected sessions fetching, got %s", stats.Feeds["sessions"])
	}

	fx.scheduler.handleEvent(Event{Type: EventFailed, TaskID: task.GetID(), TaskType: TaskTypeSyncFeed, FeedName: "sessions", Err: errors.New("boom")})

	stats = fx.scheduler.Stats()
	if len(stats.InFlight) != 0 {
		t.Errorf("Expected no feeds in flight, got %v", stats.InFlight)
	}
	if stats.TasksFailed != 1 {
		t.Errorf("Expected 1 failed task, got %d", stats.TasksFailed)
	}

	if err := fx.scheduler.SyncFeed("sessions"); err != nil {
		t.Errorf("Expected feed to be schedulable again, got %v", err)
	}
}

func TestSchedulerSweepSkipsCoolingDownFeeds(t *testing.T) {
	fx := newSchedulerFixture(t, 0)
	fx.scheduler.control.Start()

	fx.feedRepo.add("sessions", url1, true)
	fx.feedRepo.RecordFailure("sessions", database.Failure{
		Kind:          "transport",
		FailedAt:      time.Now(),
		NextAttemptAt: time.Now().Add(time.Hour),
	})

	fx.scheduler.enqueueSweep()
	if n := len(fx.scheduler.Stats().InFlight); n != 0 {
		t.Errorf("Expected cooling down feed to be skipped, got %d in flight", n)
	}

	fx.feedRepo.SaveCursor("sessions", url1, url1, time.Now())
	fx.scheduler.enqueueSweep()
	if n := len(fx.scheduler.Stats().InFlight); n != 1 {
		t.Errorf("Expected due feed to be enqueued, got %d in flight", n)
	}
}

func TestSchedulerPausedSweepDoesNothing(t *testing.T) {
	fx := newSchedulerFixture(t, 0)
	fx.feedRepo.add("sessions", url1, true)
	fx.scheduler.control.Start()
	fx.scheduler.control.Pause()

	fx.scheduler.enqueueSweep()
	if n := len(fx.scheduler.taskQueue); n != 0 {
		t.Errorf("Expected no tasks while paused, got %d", n)
	}
}

func TestSchedulerPauseResume(t *testing.T) {
	fx := newSchedulerFixture(t, 1)

	fx.scheduler.Start()

	if !fx.scheduler.Pause() {
		t.Error("Expected pause to succeed")
	}
	if fx.scheduler.Pause() {
		t.Error("Expected second pause to be rejected")
	}
	if state := fx.scheduler.Stats().State; state != "paused" {
		t.Errorf("Expected paused state, got %s", state)
	}
	if !fx.scheduler.Resume() {
		t.Error("Expected resume to succeed")
	}
	if fx.scheduler.State() != RunStateRunning {
		t.Errorf("Expected running, got %s", fx.scheduler.State())
	}

	fx.scheduler.Stop()
	if fx.scheduler.State() != RunStateStopped {
		t.Errorf("Expected stopped, got %s", fx.scheduler.State())
	}
	if err := fx.scheduler.SyncFeed("sessions"); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Expected ErrNotRunning after stop, got %v", err)
	}
}

func TestSchedulerDefersRegistrationWhileSyncInFlight(t *testing.T) {
	fx := newSchedulerFixture(t, 0)
	fx.scheduler.control.Start()
	fx.feedRepo.add("sessions", url1, true)

	if err := fx.scheduler.SyncFeed("sessions"); err != nil {
		t.Fatalf("Expected sync to be enqueued, got %v", err)
	}
	sync := <-fx.scheduler.taskQueue

	const moved = "https://moved.example.com/feed"
	fx.scheduler.enqueueRegister(&feed.Config{Name: "sessions", URL: moved, Settings: feed.ConfigSettings{Enabled: true}})
	if n := len(fx.scheduler.taskQueue); n != 0 {
		t.Fatalf("Expected registration to wait for the sweep, got %d queued", n)
	}

	fx.scheduler.handleEvent(Event{Type: EventCompleted, TaskID: sync.GetID(), TaskType: TaskTypeSyncFeed, FeedName: "sessions"})

	if n := len(fx.scheduler.taskQueue); n != 1 {
		t.Fatalf("Expected deferred registration to be queued, got %d", n)
	}
	register := <-fx.scheduler.taskQueue
	if register.GetType() != TaskTypeRegisterFeed {
		t.Fatalf("Expected register task, got %s", register.GetType())
	}
	if err := fx.scheduler.SyncFeed("sessions"); !errors.Is(err, ErrFeedInFlight) {
		t.Errorf("Expected ErrFeedInFlight while registering, got %v", err)
	}

	if err := register.Execute(context.Background()); err != nil {
		t.Fatalf("Expected registration to succeed, got %v", err)
	}
	fx.scheduler.handleEvent(Event{Type: EventCompleted, TaskID: register.GetID(), TaskType: TaskTypeRegisterFeed, FeedName: "sessions"})

	if f, _ := fx.feedRepo.GetFeed("sessions"); f.URL != moved {
		t.Errorf("Expected feed moved to %s, got %s", moved, f.URL)
	}
	if n := len(fx.scheduler.taskQueue); n != 1 {
		t.Fatalf("Expected sync to follow registration, got %d queued", n)
	}
	if next := <-fx.scheduler.taskQueue; next.GetType() != TaskTypeSyncFeed {
		t.Errorf("Expected sync task, got %s", next.GetType())
	}
}

func TestSchedulerInterruptedTaskIsNotAFailure(t *testing.T) {
	fx := newSchedulerFixture(t, 0)
	fx.scheduler.control.Start()
	fx.feedRepo.add("sessions", url1, true)

	if err := fx.scheduler.SyncFeed("sessions"); err != nil {
		t.Fatalf("Expected sync to be enqueued, got %v", err)
	}
	task := <-fx.scheduler.taskQueue

	fx.scheduler.control.Stop()
	fx.scheduler.executeTask(0, task)
	for len(fx.scheduler.events) > 0 {
		fx.scheduler.handleEvent(<-fx.scheduler.events)
	}

	stats := fx.scheduler.Stats()
	if stats.TasksFailed != 0 {
		t.Errorf("Expected no failed tasks, got %d", stats.TasksFailed)
	}
	if stats.TasksProcessed != 0 {
		t.Errorf("Expected no processed tasks, got %d", stats.TasksProcessed)
	}
	if len(stats.InFlight) != 0 {
		t.Errorf("Expected slot released, got %v", stats.InFlight)
	}
	if fx.feedRepo.failureCount() != 0 {
		t.Errorf("Expected no feed failure recorded, got %d", fx.feedRepo.failureCount())
	}
}

func TestSchedulerSweepSkipsFeedDisabledAtRuntime(t *testing.T) {
	fx := newSchedulerFixture(t, 0)
	fx.scheduler.control.Start()
	fx.feedRepo.add("sessions", url1, true)
	fx.feedRepo.SetFeedEnabled("sessions", false)

	fx.scheduler.enqueueSweep()
	if n := len(fx.scheduler.taskQueue); n != 0 {
		t.Errorf("Expected no tasks for a feed disabled at runtime, got %d", n)
	}

	fx.feedRepo.SetFeedEnabled("sessions", true)
	fx.scheduler.enqueueSweep()
	if n := len(fx.scheduler.taskQueue); n != 1 {
		t.Errorf("Expected re-enabled feed to be swept, got %d", n)
	}
}

func TestSchedulerSweepRegistersUnknownFeed(t *testing.T) {
	fx := newSchedulerFixture(t, 0)
	fx.scheduler.control.Start()

	fx.scheduler.enqueueSweep()
	if n := len(fx.scheduler.taskQueue); n != 1 {
		t.Fatalf("Expected a registration, got %d queued", n)
	}
	if task := <-fx.scheduler.taskQueue; task.GetType() != TaskTypeRegisterFeed {
		t.Errorf("Expected register task, got %s", task.GetType())
	}
}
