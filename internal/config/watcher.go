package config

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"codechat/internal/logging"

	"github.com/fsnotify/fsnotify"
)

// Watcher watches .codechat/config.yaml and reloads it on change, so settings
// toggles (notably auto-apply) take effect without a restart. Editors fire
// rapid bursts of write events on save; changes are debounced before reload.
type Watcher struct {
	mu          sync.Mutex
	watcher     *fsnotify.Watcher
	workspace   string
	onReload    func(*Config)
	debounceDur time.Duration
	lastEvent   time.Time
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool
}

// NewWatcher creates a watcher for the workspace config file. onReload is
// invoked with the freshly loaded config after every debounced change.
func NewWatcher(workspace string, onReload func(*Config)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		watcher:     fsw,
		workspace:   workspace,
		onReload:    onReload,
		debounceDur: 500 * time.Millisecond,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}, nil
}

// Start begins watching. Non-blocking; events are handled in a goroutine.
// The directory is watched rather than the file itself so atomic-rename saves
// keep being observed.
func (w *Watcher) Start() error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	dir := filepath.Dir(Path(w.workspace))
	if err := w.watcher.Add(dir); err != nil {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	logging.Config("Watcher: watching %s", dir)

	go w.loop()
	return nil
}

// Stop ends watching and waits for the event loop to drain.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh
	w.watcher.Close()
}

func (w *Watcher) loop() {
	defer close(w.doneCh)

	target := filepath.Base(Path(w.workspace))
	var pending <-chan time.Time

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.mu.Lock()
			w.lastEvent = time.Now()
			w.mu.Unlock()
			pending = time.After(w.debounceDur)

		case <-pending:
			pending = nil
			w.reload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.Get(logging.CategoryConfig).Warn("Watcher error: %v", err)

		case <-w.stopCh:
			return
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.workspace)
	if err != nil {
		logging.Get(logging.CategoryConfig).Error("Watcher: reload failed: %v", err)
		return
	}
	logging.Config("Watcher: config reloaded (auto_apply=%v mode=%s)",
		cfg.Settings.AutoApplyChanges, cfg.Settings.Mode)
	if err := logging.ReloadConfig(); err != nil {
		logging.Get(logging.CategoryConfig).Warn("Watcher: logging reload failed: %v", err)
	}
	if w.onReload != nil {
		w.onReload(cfg)
	}
}
