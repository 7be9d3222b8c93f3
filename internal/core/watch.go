package core

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	defaultDebounce    = 100 * time.Millisecond
	restartBackoffBase = 250 * time.Millisecond
	restartBackoffMax  = 5 * time.Second
)

// Syncer reloads scheduling state from the registry.
type Syncer interface {
	Sync(ctx context.Context) error
}

// RegistryWatcher resyncs the engine whenever another process writes to the
// registry database, and on a fixed interval as a fallback.
type RegistryWatcher struct {
	syncer   Syncer
	logger   *slog.Logger
	dir      string
	prefix   string
	interval time.Duration
	debounce time.Duration
	opened   *fsnotify.Watcher
}

// NewRegistryWatcher watches files in dir whose base name starts with prefix.
// A zero interval disables the periodic resync.
func NewRegistryWatcher(syncer Syncer, logger *slog.Logger, dir, prefix string, interval time.Duration) *RegistryWatcher {
	return &RegistryWatcher{
		syncer:   syncer,
		logger:   logger,
		dir:      dir,
		prefix:   prefix,
		interval: interval,
		debounce: defaultDebounce,
	}
}

// Open puts the directory watch in place before Run starts, so writes made
// in between are not missed. Run opens the watch itself when Open was not
// called or failed.
func (w *RegistryWatcher) Open() error {
	watcher, err := w.open()
	if err != nil {
		return err
	}
	w.opened = watcher
	return nil
}

// Run blocks until ctx is cancelled.
func (w *RegistryWatcher) Run(ctx context.Context) {
	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	trigger := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(w.debounce, func() { w.sync(ctx) })
	}
	defer func() {
		timerMu.Lock()
		if timer != nil {
			timer.Stop()
		}
		timerMu.Unlock()
	}()

	var tick <-chan time.Time
	if w.interval > 0 {
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	backoff := restartBackoffBase
	for ctx.Err() == nil {
		var err error
		watcher := w.opened
		w.opened = nil
		if watcher == nil {
			watcher, err = w.open()
		}
		if err != nil {
			w.logger.Warn("registry watch failed", "dir", w.dir, "err", err)
			if !sleepCtx(ctx, backoff, tick, w.sync) {
				return
			}
			backoff = min(backoff*2, restartBackoffMax)
			continue
		}
		backoff = restartBackoffBase
		w.logger.Debug("registry watcher started", "dir", w.dir)

		broken := false
		for !broken {
			select {
			case <-ctx.Done():
				_ = watcher.Close()
				return
			case <-tick:
				w.sync(ctx)
			case ev, ok := <-watcher.Events:
				if !ok {
					broken = true
					break
				}
				if strings.HasPrefix(filepath.Base(ev.Name), w.prefix) && ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0 {
					trigger()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					broken = true
					break
				}
				if err != nil {
					w.logger.Warn("registry watch error", "dir", w.dir, "err", err)
					trigger()
				}
			}
		}
		_ = watcher.Close()
		w.logger.Warn("registry watcher stopped; restarting", "dir", w.dir)
	}
	if w.opened != nil {
		_ = w.opened.Close()
		w.opened = nil
	}
}

func (w *RegistryWatcher) open() (*fsnotify.Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(w.dir); err != nil {
		_ = watcher.Close()
		return nil, err
	}
	return watcher, nil
}

func (w *RegistryWatcher) sync(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if err := w.syncer.Sync(ctx); err != nil {
		w.logger.Error("resync tasks", "err", err)
	}
}

// sleepCtx waits for d while still serving periodic resyncs. It returns false
// once ctx is done.
func sleepCtx(ctx context.Context, d time.Duration, tick <-chan time.Time, resync func(context.Context)) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-tick:
			resync(ctx)
		case <-timer.C:
			return true
		}
	}
}
