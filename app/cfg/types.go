package cfg

import "time"

type Cfg struct {
	// Storage configuration
	DBPath string

	// Application configuration
	FeedsDir          string
	Port              string
	WorkerCount       int
	SchedulerInterval int
	CollateInterval   int
	APIAccessKey      string
	ExportPath        string

	// Fetch configuration
	MinFetchInterval int
	FetchTimeout     int
	MaxPagesPerSweep int
	EnabledFeeds     []string

	// Application metadata
	UserAgent string
	Timezone  string
	Debug     bool
	Version   string
}

func (c *Cfg) GetSchedulerInterval() time.Duration {
	return time.Duration(c.SchedulerInterval) * time.Second
}

func (c *Cfg) GetCollateInterval() time.Duration {
	return time.Duration(c.CollateInterval) * time.Second
}

func (c *Cfg) GetMinFetchInterval() time.Duration {
	return time.Duration(c.MinFetchInterval) * time.Millisecond
}

func (c *Cfg) GetFetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeout) * time.Second
}
