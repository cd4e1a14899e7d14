package feed

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
	"gopkg.in/yaml.v3"
)

const configExt = ".yml"

type ConfigCache struct {
	feedsDir  string
	selection []string
	validate  *validator.Validate
	cache     map[string]*Config
	mu        sync.RWMutex
}

// NewConfigCache reads feed configurations from feedsDir. A non-empty selection restricts
// synchronisation to the named feeds.
func NewConfigCache(feedsDir string, selection []string) *ConfigCache {
	return &ConfigCache{
		feedsDir:  feedsDir,
		selection: selection,
		validate:  validator.New(),
		cache:     make(map[string]*Config),
	}
}

func (cc *ConfigCache) Run() error {
	if _, err := os.Stat(cc.feedsDir); os.IsNotExist(err) {
		return nil
	}

	files, err := filepath.Glob(filepath.Join(cc.feedsDir, "*"+configExt))
	if err != nil {
		return fmt.Errorf("failed to find YML files: %w", err)
	}

	for _, file := range files {
		feedName := feedNameOf(file)

		config, err := cc.LoadConfig(feedName)
		if err != nil {
			return fmt.Errorf("error loading %s: %w", file, err)
		}

		slog.Debug("Configuration loaded", "feed", feedName, "enabled", config.Settings.Enabled, "url", config.URL)
	}

	for _, name := range cc.selection {
		if _, err := cc.GetConfig(name); err != nil {
			slog.Warn("Selected feed has no configuration", "feed", name)
		}
	}

	return nil
}

func (cc *ConfigCache) LoadConfig(feedName string) (*Config, error) {
	configFile := cc.getConfigFilePath(feedName)
	feedConfig, err := cc.parseConfig(configFile)
	if err != nil {
		return nil, err
	}

	feedConfig.Name = feedName

	if err := cc.validate.Struct(feedConfig); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", configFile, err)
	}

	cc.mu.Lock()
	defer cc.mu.Unlock()
	cc.cache[feedConfig.Name] = feedConfig

	return feedConfig, nil
}

func (cc *ConfigCache) GetConfig(feedName string) (*Config, error) {
	cc.mu.RLock()
	defer cc.mu.RUnlock()

	feedConfig, ok := cc.cache[feedName]
	if !ok {
		return nil, fmt.Errorf("feed config with name '%s' not found", feedName)
	}
	return feedConfig, nil
}

func (cc *ConfigCache) GetConfigs() map[string]*Config {
	cc.mu.RLock()
	defer cc.mu.RUnlock()

	configsCopy := make(map[string]*Config, len(cc.cache))
	for k, v := range cc.cache {
		configsCopy[k] = v
	}
	return configsCopy
}

func (cc *ConfigCache) GetEnabledConfigs() map[string]*Config {
	cc.mu.RLock()
	defer cc.mu.RUnlock()

	return lo.PickBy(cc.cache, func(_ string, v *Config) bool {
		return cc.isEnabled(v)
	})
}

// IsEnabled reports whether feedConfig is switched on and inside the selection.
func (cc *ConfigCache) IsEnabled(feedConfig *Config) bool {
	cc.mu.RLock()
	defer cc.mu.RUnlock()
	return cc.isEnabled(feedConfig)
}

func (cc *ConfigCache) GetConfigCount() int {
	cc.mu.RLock()
	defer cc.mu.RUnlock()
	return len(cc.cache)
}

// Watch reloads configuration files written to the feeds directory and hands every
// successfully reloaded config to onChange. It returns when ctx is done.
func (cc *ConfigCache) Watch(ctx context.Context, onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(cc.feedsDir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", cc.feedsDir, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !strings.HasSuffix(event.Name, configExt) || !event.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}

			feedName := feedNameOf(event.Name)
			feedConfig, err := cc.LoadConfig(feedName)
			if err != nil {
				slog.Warn("Failed to reload configuration", "feed", feedName, "error", err)
				continue
			}

			slog.Info("Configuration reloaded", "feed", feedName)
			onChange(feedConfig)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("Configuration watcher error", "error", err)
		}
	}
}

func (cc *ConfigCache) isEnabled(feedConfig *Config) bool {
	if !feedConfig.Settings.Enabled {
		return false
	}
	return len(cc.selection) == 0 || lo.Contains(cc.selection, feedConfig.Name)
}

func (cc *ConfigCache) parseConfig(configFile string) (*Config, error) {
	data, err := os.ReadFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var feedConfig Config
	if err := yaml.Unmarshal(data, &feedConfig); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	return &feedConfig, nil
}

func (cc *ConfigCache) getConfigFilePath(feedName string) string {
	return filepath.Join(cc.feedsDir, feedName+configExt)
}

func feedNameOf(file string) string {
	return strings.TrimSuffix(filepath.Base(file), configExt)
}
