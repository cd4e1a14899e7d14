package api

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"

	"github.com/lysyi3m/rpde-comb/app/database"
	"github.com/lysyi3m/rpde-comb/app/feed"
	"github.com/lysyi3m/rpde-comb/app/tasks"
)

func NewHandler(configCache *feed.ConfigCache, feedRepo database.FeedRepository,
	snapshotRepo database.SnapshotRepository, scheduler tasks.TaskSchedulerInterface, limiter *feed.HostLimiter) *Handler {
	return &Handler{
		feedRepo:     feedRepo,
		snapshotRepo: snapshotRepo,
		configCache:  configCache,
		scheduler:    scheduler,
		limiter:      limiter,
	}
}

// GetFeed serves the current snapshot of a feed
func (h *Handler) GetFeed(c *gin.Context) {
	name := c.Param("name")

	f, err := h.feedRepo.GetFeed(name)
	if err != nil {
		slog.Error("Database error", "operation", "get_feed", "feed", name, "error", err)
		c.Status(http.StatusInternalServerError)
		return
	}

	if f == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Feed not found"})
		return
	}

	snapshot, err := h.snapshotRepo.GetSnapshot(name)
	if err != nil {
		slog.Error("Database error", "operation", "get_snapshot", "feed", name, "error", err)
		c.Status(http.StatusInternalServerError)
		return
	}

	items := snapshot.Items()

	c.Header("X-Feed-Items", strconv.Itoa(len(items)))
	c.Header("X-Feed-Name", name)
	c.Header("X-Last-Updated", f.UpdatedAt.Format(time.RFC3339))

	c.JSON(http.StatusOK, gin.H{
		"name":       name,
		"url":        f.URL,
		"cursor":     f.Cursor,
		"item_count": len(items),
		"items":      items,
	})
}

func (h *Handler) GetHealth(c *gin.Context) {
	health := map[string]interface{}{
		"timestamp": time.Now().In(time.Local).Format(time.RFC3339),
		"state":     h.scheduler.State().String(),
	}

	if feedCount, err := h.feedRepo.GetFeedCount(); err == nil {
		health["feeds"] = feedCount
	}

	health["loaded_configurations"] = h.configCache.GetConfigCount()

	c.JSON(http.StatusOK, health)
}

func (h *Handler) APIListFeeds(c *gin.Context) {
	configs := h.configCache.GetConfigs()
	states := h.scheduler.Stats().Feeds

	names := lo.Keys(configs)
	slices.Sort(names)

	feeds := make([]feedStatus, 0, len(names))
	for _, name := range names {
		status, err := h.feedStatus(configs[name], states)
		if err != nil {
			slog.Error("Database error", "operation", "feed_status", "feed", name, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
			return
		}
		feeds = append(feeds, status)
	}

	c.JSON(http.StatusOK, map[string]interface{}{
		"feeds": feeds,
		"total": len(feeds),
	})
}

func (h *Handler) APIGetFeedDetails(c *gin.Context) {
	name := c.Param("name")

	feedConfig, err := h.configCache.GetConfig(name)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Feed configuration not found"})
		return
	}

	status, err := h.feedStatus(feedConfig, h.scheduler.Stats().Feeds)
	if err != nil {
		slog.Error("Database error", "operation", "feed_status", "feed", name, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"feed": status,
		"settings": gin.H{
			"enabled":  feedConfig.Settings.Enabled,
			"selected": h.configCache.IsEnabled(feedConfig),
			"timeout":  (time.Duration(feedConfig.Settings.Timeout) * time.Second).String(),
		},
	})
}

func (h *Handler) APISyncFeed(c *gin.Context) {
	name := c.Param("name")

	err := h.scheduler.SyncFeed(name)
	switch {
	case err == nil:
		c.JSON(http.StatusAccepted, gin.H{"success": true, "message": "Sync enqueued", "feed": name})
	case errors.Is(err, tasks.ErrUnknownFeed):
		c.JSON(http.StatusNotFound, gin.H{"error": "Feed configuration not found"})
	case errors.Is(err, tasks.ErrFeedDisabled), errors.Is(err, tasks.ErrFeedInFlight):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, tasks.ErrNotRunning):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		slog.Error("Error enqueueing sync task", "feed", name, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to enqueue sync task",
			"details": err.Error(),
		})
	}
}

// APIEnableFeed switches a registered feed back on. A feed whose configuration is off or
// outside the selection cannot be enabled here.
func (h *Handler) APIEnableFeed(c *gin.Context) {
	name := c.Param("name")

	feedConfig, err := h.configCache.GetConfig(name)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Feed configuration not found"})
		return
	}
	if !h.configCache.IsEnabled(feedConfig) {
		c.JSON(http.StatusConflict, gin.H{"error": tasks.ErrFeedDisabled.Error()})
		return
	}

	h.setFeedEnabled(c, name, true)
}

// APIDisableFeed stops scheduled sweeps of a feed until it is enabled again or its
// configuration is re-registered.
func (h *Handler) APIDisableFeed(c *gin.Context) {
	name := c.Param("name")

	if _, err := h.configCache.GetConfig(name); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Feed configuration not found"})
		return
	}

	h.setFeedEnabled(c, name, false)
}

func (h *Handler) setFeedEnabled(c *gin.Context, name string, enabled bool) {
	f, err := h.feedRepo.GetFeed(name)
	if err != nil {
		slog.Error("Database error", "operation", "get_feed", "feed", name, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}
	if f == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "Feed is not registered yet"})
		return
	}

	if err := h.feedRepo.SetFeedEnabled(name, enabled); err != nil {
		slog.Error("Database error", "operation", "set_feed_enabled", "feed", name, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	slog.Info("Feed toggled", "feed", name, "enabled", enabled)
	c.JSON(http.StatusOK, gin.H{"success": true, "feed": name, "enabled": enabled, "changed": f.Enabled != enabled})
}

func (h *Handler) APIGetControl(c *gin.Context) {
	c.JSON(http.StatusOK, h.scheduler.Stats())
}

func (h *Handler) APIPause(c *gin.Context) {
	changed := h.scheduler.Pause()
	c.JSON(http.StatusOK, gin.H{"changed": changed, "state": h.scheduler.State().String()})
}

func (h *Handler) APIResume(c *gin.Context) {
	changed := h.scheduler.Resume()
	c.JSON(http.StatusOK, gin.H{"changed": changed, "state": h.scheduler.State().String()})
}

func (h *Handler) feedStatus(feedConfig *feed.Config, states map[string]tasks.FeedState) (feedStatus, error) {
	status := feedStatus{
		Name:    feedConfig.Name,
		URL:     feedConfig.URL,
		Enabled: h.configCache.IsEnabled(feedConfig),
		State:   string(states[feedConfig.Name]),
	}

	f, err := h.feedRepo.GetFeed(feedConfig.Name)
	if err != nil {
		return status, err
	}
	if f == nil {
		return status, nil
	}

	itemCount, err := h.snapshotRepo.GetItemCount(feedConfig.Name)
	if err != nil {
		return status, err
	}

	status.Registered = true
	status.Cursor = f.Cursor
	status.ItemCount = itemCount
	status.PagesFetched = f.PagesFetched
	status.ConsecutiveFailures = f.ConsecutiveFailures
	status.LastError = f.LastError
	status.LastErrorKind = f.LastErrorKind
	status.LastFetchedAt = f.LastFetchedAt
	status.LastSuccessAt = f.LastSuccessAt
	status.NextAttemptAt = f.NextAttemptAt
	status.LastRequestAt = h.lastRequest(f.Cursor)

	return status, nil
}

func (h *Handler) lastRequest(pageURL string) *time.Time {
	if h.limiter == nil {
		return nil
	}
	u, err := url.Parse(pageURL)
	if err != nil || u.Host == "" {
		return nil
	}
	if at, ok := h.limiter.LastCall(u.Host); ok {
		return &at
	}
	return nil
}
