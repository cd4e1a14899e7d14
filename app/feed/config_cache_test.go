package feed

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name+".yml"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestConfigCacheLoadValidConfig(t *testing.T) {
	tempDir := t.TempDir()

	writeConfig(t, tempDir, "test", `
url: "https://example.com/feeds/sessions"

settings:
  enabled: true
  timeout: 15
`)

	configCache := NewConfigCache(tempDir, nil)
	if err := configCache.Run(); err != nil {
		t.Fatal(err)
	}

	if configCache.GetConfigCount() != 1 {
		t.Errorf("Expected 1 feedConfig, got %d", configCache.GetConfigCount())
	}

	feedConfig, err := configCache.GetConfig("test")
	if err != nil {
		t.Fatal(err)
	}

	if feedConfig.Name != "test" {
		t.Errorf("Expected name 'test', got '%s'", feedConfig.Name)
	}
	if feedConfig.URL != "https://example.com/feeds/sessions" {
		t.Errorf("Expected URL 'https://example.com/feeds/sessions', got '%s'", feedConfig.URL)
	}
	if feedConfig.Settings.Timeout != 15 {
		t.Errorf("Expected timeout 15, got %d", feedConfig.Settings.Timeout)
	}
	if !feedConfig.Settings.Enabled {
		t.Error("Expected feed to be enabled")
	}
}

func TestConfigCacheEmptyDirectory(t *testing.T) {
	configCache := NewConfigCache(filepath.Join(t.TempDir(), "missing"), nil)
	if err := configCache.Run(); err != nil {
		t.Fatalf("Expected no error for missing directory, got: %v", err)
	}

	if configCache.GetConfigCount() != 0 {
		t.Errorf("Expected 0 configs, got %d", configCache.GetConfigCount())
	}
}

func TestConfigCacheInvalidConfig(t *testing.T) {
	testCases := map[string]string{
		"missing url":   "settings:\n  enabled: true\n",
		"not a url":     "url: \"sessions\"\n",
		"ftp url":       "url: \"ftp://example.com/feed\"\n",
		"negative time": "url: \"https://example.com/feed\"\nsettings:\n  timeout: -1\n",
		"broken yaml":   "url: [",
	}

	for name, content := range testCases {
		t.Run(name, func(t *testing.T) {
			tempDir := t.TempDir()
			writeConfig(t, tempDir, "bad", content)

			configCache := NewConfigCache(tempDir, nil)
			if err := configCache.Run(); err == nil {
				t.Error("Expected error for invalid config")
			}
		})
	}
}

func TestConfigCacheGetConfigNotFound(t *testing.T) {
	configCache := NewConfigCache(t.TempDir(), nil)

	_, err := configCache.GetConfig("nope")
	if err == nil {
		t.Fatal("Expected error for unknown feed")
	}
	if !strings.Contains(err.Error(), "not found") {
		t.Errorf("Expected 'not found' error, got: %v", err)
	}
}

func TestConfigCacheEnabledConfigsWithSelection(t *testing.T) {
	tempDir := t.TempDir()

	writeConfig(t, tempDir, "alpha", "url: \"https://a.example.com/feed\"\nsettings:\n  enabled: true\n")
	writeConfig(t, tempDir, "beta", "url: \"https://b.example.com/feed\"\nsettings:\n  enabled: true\n")
	writeConfig(t, tempDir, "gamma", "url: \"https://c.example.com/feed\"\nsettings:\n  enabled: false\n")

	all := NewConfigCache(tempDir, nil)
	if err := all.Run(); err != nil {
		t.Fatal(err)
	}
	if got := len(all.GetEnabledConfigs()); got != 2 {
		t.Errorf("Expected 2 enabled configs, got %d", got)
	}

	selected := NewConfigCache(tempDir, []string{"beta", "gamma"})
	if err := selected.Run(); err != nil {
		t.Fatal(err)
	}

	enabled := selected.GetEnabledConfigs()
	if len(enabled) != 1 {
		t.Fatalf("Expected 1 enabled config, got %d", len(enabled))
	}
	if _, ok := enabled["beta"]; !ok {
		t.Error("Expected beta to be enabled")
	}

	gamma, _ := selected.GetConfig("gamma")
	if selected.IsEnabled(gamma) {
		t.Error("Expected gamma to stay disabled although selected")
	}
}

func TestConfigCacheWatchReloadsChangedFile(t *testing.T) {
	tempDir := t.TempDir()
	writeConfig(t, tempDir, "alpha", "url: \"https://a.example.com/feed\"\n")

	configCache := NewConfigCache(tempDir, nil)
	if err := configCache.Run(); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changed := make(chan *Config, 4)
	done := make(chan error, 1)
	go func() {
		done <- configCache.Watch(ctx, func(c *Config) { changed <- c })
	}()

	// Give the watcher time to register the directory.
	time.Sleep(100 * time.Millisecond)
	writeConfig(t, tempDir, "alpha", "url: \"https://a.example.com/feed-v2\"\n")

	select {
	case c := <-changed:
		if c.URL != "https://a.example.com/feed-v2" {
			t.Errorf("Expected reloaded URL, got '%s'", c.URL)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Expected configuration change notification")
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Expected watcher to stop cleanly, got: %v", err)
	}
}
