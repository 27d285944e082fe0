package config

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// changeLog records OnChange batches.
type changeLog struct {
	mu      sync.Mutex
	batches [][]string
}

func (c *changeLog) record(changed []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batches = append(c.batches, changed)
	return nil
}

func (c *changeLog) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batches = nil
}

func (c *changeLog) snapshot() [][]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]string(nil), c.batches...)
}

func startWatcher(t *testing.T, paths []string, cfg *WatcherConfig) *Watcher {
	t.Helper()
	w, err := NewWatcher(paths, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatal(err)
	}
	w.Start()
	t.Cleanup(func() { w.Stop() })
	// Give watcher time to start
	time.Sleep(100 * time.Millisecond)
	return w
}

func TestWatcher(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "client.properties")

	initial := "con_timeout=1500\nkeep_alive=60\n"
	if err := os.WriteFile(path, []byte(initial), 0644); err != nil {
		t.Fatal(err)
	}

	var log changeLog
	var lastTimeout atomic.Int64
	startWatcher(t, []string{path}, &WatcherConfig{
		DebounceDuration: 100 * time.Millisecond,
		OnChange: func(changed []string) error {
			d, err := Load(changed[0])
			if err != nil {
				return err
			}
			lastTimeout.Store(int64(d.ConnectionTimeoutMs))
			return log.record(changed)
		},
		OnError: func(err error) {
			t.Errorf("Watcher error: %v", err)
		},
	})

	t.Run("FileModification", func(t *testing.T) {
		if err := os.WriteFile(path, []byte("con_timeout=2500\nkeep_alive=60\n"), 0644); err != nil {
			t.Fatal(err)
		}
		time.Sleep(300 * time.Millisecond)

		if got := len(log.snapshot()); got != 1 {
			t.Errorf("Expected 1 change, got %d", got)
		}
		if lastTimeout.Load() != 2500 {
			t.Errorf("Expected timeout 2500, got %d", lastTimeout.Load())
		}
	})

	t.Run("Debouncing", func(t *testing.T) {
		log.reset()

		for i := 1; i <= 3; i++ {
			content := "con_timeout=" + string(rune('0'+i)) + "000\nkeep_alive=60\n"
			if err := os.WriteFile(path, []byte(content), 0644); err != nil {
				t.Fatal(err)
			}
			time.Sleep(30 * time.Millisecond)
		}
		time.Sleep(300 * time.Millisecond)

		if got := len(log.snapshot()); got != 1 {
			t.Errorf("Expected 1 change after debouncing, got %d", got)
		}
		if lastTimeout.Load() != 3000 {
			t.Errorf("Expected last write to win, got %d", lastTimeout.Load())
		}
	})

	t.Run("AtomicReplace", func(t *testing.T) {
		log.reset()

		tmp := filepath.Join(tmpDir, "client.properties.tmp")
		if err := os.WriteFile(tmp, []byte("con_timeout=4000\nkeep_alive=60\n"), 0644); err != nil {
			t.Fatal(err)
		}
		if err := os.Rename(tmp, path); err != nil {
			t.Fatal(err)
		}
		time.Sleep(300 * time.Millisecond)

		if got := len(log.snapshot()); got != 1 {
			t.Errorf("Expected 1 change after rename, got %d", got)
		}
		if lastTimeout.Load() != 4000 {
			t.Errorf("Expected timeout 4000, got %d", lastTimeout.Load())
		}
	})

	t.Run("FileRecreation", func(t *testing.T) {
		if err := os.Remove(path); err != nil {
			t.Fatal(err)
		}
		time.Sleep(200 * time.Millisecond)
		log.reset()

		if err := os.WriteFile(path, []byte(initial), 0644); err != nil {
			t.Fatal(err)
		}
		time.Sleep(300 * time.Millisecond)

		if got := len(log.snapshot()); got != 1 {
			t.Errorf("Expected 1 change after recreation, got %d", got)
		}
	})
}

func TestWatcherBatchesFiles(t *testing.T) {
	dir := t.TempDir()
	props := filepath.Join(dir, "client.properties")
	trust := filepath.Join(dir, "trust.p12")
	other := filepath.Join(dir, "unrelated.txt")
	for _, p := range []string{props, trust, other} {
		if err := os.WriteFile(p, []byte("initial"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	var log changeLog
	w := startWatcher(t, []string{trust, props}, &WatcherConfig{
		DebounceDuration: 100 * time.Millisecond,
		OnChange:         log.record,
	})
	if got := w.Paths(); len(got) != 2 || got[0] != props || got[1] != trust {
		t.Errorf("Paths() = %v", got)
	}

	for _, p := range []string{other, trust, props} {
		if err := os.WriteFile(p, []byte("updated"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	time.Sleep(300 * time.Millisecond)

	batches := log.snapshot()
	if len(batches) != 1 {
		t.Fatalf("Expected 1 batch, got %v", batches)
	}
	if got := batches[0]; len(got) != 2 || got[0] != props || got[1] != trust {
		t.Errorf("changed = %v, want [%s %s]", got, props, trust)
	}
}

func TestWatcherCallbackError(t *testing.T) {
	path := writeTemp(t, "trust.p12", "initial")

	var errorCount atomic.Int32
	startWatcher(t, []string{path}, &WatcherConfig{
		DebounceDuration: 50 * time.Millisecond,
		OnChange: func([]string) error {
			return errors.New("keystore rejected")
		},
		OnError: func(err error) {
			errorCount.Add(1)
		},
	})

	if err := os.WriteFile(path, []byte("updated"), 0644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(300 * time.Millisecond)

	if errorCount.Load() == 0 {
		t.Error("Expected callback error to be reported")
	}
}

func TestWatcherStopDropsPending(t *testing.T) {
	path := writeTemp(t, "client.properties", "con_timeout=1\nkeep_alive=1\n")

	var log changeLog
	w := startWatcher(t, []string{path}, &WatcherConfig{
		DebounceDuration: 200 * time.Millisecond,
		OnChange:         log.record,
	})
	if err := os.WriteFile(path, []byte("con_timeout=2\nkeep_alive=1\n"), 0644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)
	w.Stop()
	time.Sleep(300 * time.Millisecond)

	if got := log.snapshot(); len(got) != 0 {
		t.Errorf("Expected no change after Stop, got %v", got)
	}
}

func TestNewWatcherErrors(t *testing.T) {
	if _, err := NewWatcher(nil, nil, nil); err == nil {
		t.Error("Expected error with no files")
	}
	if _, err := NewWatcher([]string{filepath.Join(t.TempDir(), "absent")}, nil, nil); err == nil {
		t.Error("Expected error watching a missing file")
	}
}

func TestWatcherStopTwice(t *testing.T) {
	path := writeTemp(t, "client.properties", "con_timeout=1\nkeep_alive=1\n")
	w, err := NewWatcher([]string{path}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	w.Start()
	if err := w.Stop(); err != nil {
		t.Fatal(err)
	}
	if err := w.Stop(); err != nil {
		t.Errorf("Second Stop() error = %v", err)
	}
}
