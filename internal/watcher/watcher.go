package watcher

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/ah-its-andy/mediaconv/internal/config"
	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce collapses the burst of events editors emit on save.
const DefaultDebounce = 250 * time.Millisecond

// Watcher reloads the config file when it changes and hands the new config
// to a callback.
type Watcher struct {
	path     string
	debounce time.Duration
	onReload func(*config.Config)
	logger   *slog.Logger

	w *fsnotify.Watcher

	mu    sync.Mutex
	timer *time.Timer
}

// New watches path's directory so that files replaced by rename are still
// seen. The file itself does not need to exist yet.
func New(path string, debounce time.Duration, logger *slog.Logger, onReload func(*config.Config)) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = slog.Default()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		w.Close()
		return nil, err
	}
	return &Watcher{path: abs, debounce: debounce, onReload: onReload, logger: logger, w: w}, nil
}

// Start processes events until ctx is done or the watcher is closed.
func (wr *Watcher) Start(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-wr.w.Events:
			if !ok {
				return nil
			}
			wr.handleEvent(ev)
		case err, ok := <-wr.w.Errors:
			if !ok {
				return nil
			}
			wr.logger.Warn("config watcher error", "error", err)
		}
	}
}

func (wr *Watcher) Close() error {
	wr.mu.Lock()
	if wr.timer != nil {
		wr.timer.Stop()
	}
	wr.mu.Unlock()
	return wr.w.Close()
}

func (wr *Watcher) handleEvent(ev fsnotify.Event) {
	if filepath.Clean(ev.Name) != wr.path {
		return
	}
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
		return
	}

	wr.mu.Lock()
	defer wr.mu.Unlock()
	if wr.timer != nil {
		wr.timer.Stop()
	}
	wr.timer = time.AfterFunc(wr.debounce, wr.reload)
}

func (wr *Watcher) reload() {
	cfg, err := config.Load(wr.path)
	if err != nil {
		wr.logger.Error("config reload failed", "path", wr.path, "error", err)
		return
	}
	wr.logger.Info("config reloaded", "path", wr.path)
	if wr.onReload != nil {
		wr.onReload(cfg)
	}
}
