package config_test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/duologue/internal/config"
)

const watcherBaseYAML = `
server:
  log_level: info
providers:
  llm:
    name: openai
    api_key: test
speech:
  mode: local
`

const watcherPersonasYAML = `
server:
  log_level: debug
providers:
  llm:
    name: openai
    api_key: test
speech:
  mode: local
personas:
  custom:
    - id: ada-lovelace
      name: Ada Lovelace
      personality: Visionary and exacting
`

const watcherBrokenYAML = `
server:
  log_level: bananas
`

// changeLog collects watcher callbacks.
type changeLog struct {
	mu    sync.Mutex
	calls [][2]*config.Config
}

func (c *changeLog) record(old, new *config.Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, [2]*config.Config{old, new})
}

func (c *changeLog) snapshot() [][2]*config.Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][2]*config.Config(nil), c.calls...)
}

// newWatchedFile writes content to a temp config and starts a watcher on it.
func newWatchedFile(t *testing.T, content string, interval time.Duration) (string, *config.Watcher, *changeLog) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, content, time.Now().Add(-time.Minute))

	log := &changeLog{}
	w, err := config.NewWatcher(path, log.record, config.WithInterval(interval))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	t.Cleanup(w.Stop)
	return path, w, log
}

// writeConfig writes content and pins the mtime so polls see a change
// regardless of filesystem timestamp granularity.
func writeConfig(t *testing.T, path, content string, mtime time.Time) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatalf("chtimes %s: %v", path, err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()
	_, w, _ := newWatchedFile(t, watcherBaseYAML, time.Hour)

	cfg := w.Current()
	if cfg == nil || cfg.Server.LogLevel != config.LogInfo {
		t.Fatalf("Current() = %+v, want log level info", cfg)
	}

	if _, err := config.NewWatcher(filepath.Join(t.TempDir(), "missing.yaml"), nil); err == nil {
		t.Error("NewWatcher on a missing file should fail")
	}
}

func TestWatcher_PollPicksUpPersonaEdit(t *testing.T) {
	t.Parallel()
	path, w, log := newWatchedFile(t, watcherBaseYAML, 20*time.Millisecond)

	writeConfig(t, path, watcherPersonasYAML, time.Now())
	waitFor(t, "reload callback", func() bool { return len(log.snapshot()) == 1 })

	call := log.snapshot()[0]
	if call[0].Server.LogLevel != config.LogInfo || call[1].Server.LogLevel != config.LogDebug {
		t.Errorf("callback log levels = %q -> %q, want info -> debug", call[0].Server.LogLevel, call[1].Server.LogLevel)
	}
	if w.Current() != call[1] {
		t.Error("Current() does not return the config passed to the callback")
	}
	d := config.Diff(call[0], call[1])
	if !d.PersonasChanged {
		t.Errorf("Diff = %+v, want personas changed", d)
	}
}

func TestWatcher_Reload(t *testing.T) {
	t.Parallel()
	path, w, log := newWatchedFile(t, watcherBaseYAML, time.Hour)

	// Same mtime as before: only a forced reload notices the new content.
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	writeConfig(t, path, watcherPersonasYAML, info.ModTime())

	if !w.Reload() {
		t.Fatal("Reload() = false, want true for new content")
	}
	if w.Reload() {
		t.Error("second Reload() = true, want false for unchanged content")
	}
	if got := len(log.snapshot()); got != 1 {
		t.Errorf("callbacks = %d, want 1", got)
	}
}

func TestWatcher_IgnoresInvalidAndTouchOnly(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
	}{
		{name: "invalid edit", content: watcherBrokenYAML},
		{name: "touch only", content: watcherBaseYAML},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			path, w, log := newWatchedFile(t, watcherBaseYAML, 20*time.Millisecond)
			before := w.Current()

			writeConfig(t, path, tt.content, time.Now())
			if w.Reload() {
				t.Error("Reload() = true, want false")
			}
			time.Sleep(100 * time.Millisecond)

			if got := len(log.snapshot()); got != 0 {
				t.Errorf("callbacks = %d, want 0", got)
			}
			if w.Current() != before {
				t.Error("Current() changed, want the previous config kept")
			}
		})
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	t.Parallel()
	_, w, _ := newWatchedFile(t, watcherBaseYAML, 10*time.Millisecond)
	w.Stop()
	w.Stop()
}
