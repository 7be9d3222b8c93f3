package cli

import (
	"context"
	"time"

	"taskschedule/internal/core"
	"taskschedule/internal/notify"
	"taskschedule/internal/store"
)

// localEngine fires the tasks of the local registry.
type localEngine struct {
	store     *store.Store
	scheduler *core.Scheduler
	cancel    context.CancelFunc
	done      chan struct{}
}

func startEngine(ctx context.Context) (*localEngine, error) {
	st, err := store.Open(ctx, cfg.StateDir, cfg.Log.Retention)
	if err != nil {
		return nil, failure("open local registry: %w", err)
	}

	executor := core.NewCommandExecutor(st, logger,
		core.WithTimeout(cfg.Engine.RunTimeout),
		core.WithNotifier(buildNotifier()),
	)
	scheduler := core.NewScheduler(st, executor, logger, cfg.Location())

	// The watch must be in place before the initial sync and before this
	// returns, or a task registered right after startup waits for the
	// periodic resync.
	watcher := core.NewRegistryWatcher(scheduler, logger, cfg.StateDir, store.DBFileName, cfg.Engine.ResyncInterval)
	if err := watcher.Open(); err != nil {
		logger.Warn("registry watch failed", "dir", cfg.StateDir, "err", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	scheduler.Start(ctx)
	if err := scheduler.Sync(ctx); err != nil {
		logger.Error("initial sync", "err", err)
	}

	e := &localEngine{store: st, scheduler: scheduler, cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(e.done)
		watcher.Run(ctx)
	}()
	logger.Debug("local engine started", "state_dir", cfg.StateDir)
	return e, nil
}

// Stop stops firing triggers and waits up to grace for dispatch to finish.
// Runs already started keep going in their own processes.
func (e *localEngine) Stop(grace time.Duration) {
	e.cancel()
	<-e.done
	stopCtx := e.scheduler.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(grace):
		logger.Warn("scheduler stop timed out")
	}
	if err := e.store.Close(); err != nil {
		logger.Warn("close local registry", "err", err)
	}
}

func buildNotifier() notify.Notifier {
	bark := cfg.Notification.Bark
	if !bark.Enabled || bark.URL == "" {
		return &notify.NoOpNotifier{}
	}
	n, err := notify.NewBarkNotifier(bark.URL)
	if err != nil {
		logger.Warn("bark notifications disabled", "err", err)
		return &notify.NoOpNotifier{}
	}
	return notify.NewMultiNotifier(n)
}
