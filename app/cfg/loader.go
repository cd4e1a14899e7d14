package cfg

import (
	"cmp"
	"fmt"
	"strings"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/samber/lo"
)

// Version is set at build time via -ldflags
var Version = "dev"

func GetVersion() string {
	return cmp.Or(Version, "unknown")
}

type rawCfg struct {
	// Storage configuration
	DBPath string `long:"db-path" env:"DB_PATH" default:"./rpde-comb.db" description:"SQLite database file"`

	// Application configuration
	FeedsDir          string `long:"feeds-dir" env:"FEEDS_DIR" default:"./feeds" description:"Directory containing feed configuration files"`
	Port              string `long:"port" env:"PORT" default:"8080" description:"HTTP server port"`
	WorkerCount       int    `long:"worker-count" env:"WORKER_COUNT" default:"5" description:"Number of background workers for feed synchronisation"`
	SchedulerInterval int    `long:"scheduler-interval" env:"SCHEDULER_INTERVAL" default:"60" description:"Sweep interval in seconds"`
	CollateInterval   int    `long:"collate-interval" env:"COLLATE_INTERVAL" default:"300" description:"Snapshot collate interval in seconds"`
	APIAccessKey      string `long:"api-key" env:"API_ACCESS_KEY" description:"API access key for authentication (optional)"`
	ExportPath        string `long:"export-path" env:"EXPORT_PATH" description:"Write collated snapshots to this JSON file (optional)"`

	// Fetch configuration
	MinFetchInterval int    `long:"min-fetch-interval" env:"MIN_FETCH_INTERVAL" default:"1000" description:"Minimum spacing between requests to the same host in milliseconds"`
	FetchTimeout     int    `long:"fetch-timeout" env:"FETCH_TIMEOUT" default:"30" description:"Page fetch timeout in seconds"`
	MaxPagesPerSweep int    `long:"max-pages-per-sweep" env:"MAX_PAGES_PER_SWEEP" default:"1000" description:"Upper bound of pages fetched for one feed in a single sweep"`
	EnabledFeeds     string `long:"enabled-feeds" env:"ENABLED_FEEDS" description:"Comma separated feed names to synchronise (default: all enabled feeds)"`

	// Application metadata
	UserAgent string `long:"user-agent" env:"USER_AGENT" default:"RPDE Comb/1.0" description:"User agent string for HTTP requests"`
	Timezone  string `long:"timezone" env:"TZ" default:"UTC" description:"Timezone for timestamps (e.g., UTC, Europe/London)"`
	Debug     bool   `long:"debug" env:"DEBUG" description:"Enable debug logging"`
}

var globalCfg *Cfg

func Load() (*Cfg, error) {
	return LoadArgs(nil)
}

// LoadArgs parses the given arguments instead of os.Args when args is non-nil.
func LoadArgs(args []string) (*Cfg, error) {
	var raw rawCfg

	parser := flags.NewParser(&raw, flags.Default)

	var err error
	if args != nil {
		_, err = parser.ParseArgs(args)
	} else {
		_, err = parser.Parse()
	}
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				return nil, nil
			}
		}
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	cfg := &Cfg{
		DBPath:            raw.DBPath,
		FeedsDir:          raw.FeedsDir,
		Port:              raw.Port,
		WorkerCount:       raw.WorkerCount,
		SchedulerInterval: raw.SchedulerInterval,
		CollateInterval:   raw.CollateInterval,
		APIAccessKey:      raw.APIAccessKey,
		ExportPath:        raw.ExportPath,
		MinFetchInterval:  raw.MinFetchInterval,
		FetchTimeout:      raw.FetchTimeout,
		MaxPagesPerSweep:  raw.MaxPagesPerSweep,
		EnabledFeeds:      splitList(raw.EnabledFeeds),
		UserAgent:         raw.UserAgent,
		Timezone:          raw.Timezone,
		Debug:             raw.Debug,
		Version:           GetVersion(),
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	if err := applyTimezone(cfg.Timezone); err != nil {
		fmt.Printf("Warning: Invalid timezone '%s', using system default: %v\n", cfg.Timezone, err)
	}

	globalCfg = cfg

	return cfg, nil
}

func Get() *Cfg {
	if globalCfg == nil {
		panic("configuration not loaded - call cfg.Load() first")
	}
	return globalCfg
}

func validate(cfg *Cfg) error {
	positiveFields := map[string]int{
		"worker count":        cfg.WorkerCount,
		"scheduler interval":  cfg.SchedulerInterval,
		"collate interval":    cfg.CollateInterval,
		"fetch timeout":       cfg.FetchTimeout,
		"max pages per sweep": cfg.MaxPagesPerSweep,
	}

	for fieldName, fieldValue := range positiveFields {
		if fieldValue <= 0 {
			return fmt.Errorf("%s must be positive", fieldName)
		}
	}

	if cfg.MinFetchInterval < 0 {
		return fmt.Errorf("min fetch interval must be non-negative")
	}

	return nil
}

func splitList(value string) []string {
	parts := lo.Map(strings.Split(value, ","), func(s string, _ int) string {
		return strings.TrimSpace(s)
	})
	return lo.Uniq(lo.Compact(parts))
}

func applyTimezone(timezone string) error {
	if timezone != "" {
		if loc, err := time.LoadLocation(timezone); err != nil {
			return err
		} else {
			time.Local = loc
		}
	}
	return nil
}
