package tasks

// TaskSchedulerInterface defines the interface for task scheduling operations.
// Used by the main application and the HTTP API to drive background synchronisation.
// Example usage:
//
//	scheduler := NewScheduler(configCache, feedRepo, snapshotRepo, fetcher, opts)
//	scheduler.Start()
//	defer scheduler.Stop()
//	scheduler.Pause()
type TaskSchedulerInterface interface {
	Start()
	Stop()
	Pause() bool
	Resume() bool
	State() RunState
	SyncFeed(feedName string) error
	EnqueueTask(task TaskInterface) error
	Stats() Stats
}
