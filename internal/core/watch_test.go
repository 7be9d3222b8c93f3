package core

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSyncer struct {
	calls atomic.Int32
}

func (c *countingSyncer) Sync(context.Context) error {
	c.calls.Add(1)
	return nil
}

func startWatcher(t *testing.T, w *RegistryWatcher) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestRegistryWatcherSeesWritesBeforeRun(t *testing.T) {
	dir := t.TempDir()
	syncer := &countingSyncer{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	w := NewRegistryWatcher(syncer, logger, dir, "registry.db", 0)
	require.NoError(t, w.Open())

	// Written after Open but before the watch loop runs.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "registry.db-wal"), []byte("x"), 0o600))
	startWatcher(t, w)

	assert.Eventually(t, func() bool { return syncer.calls.Load() > 0 }, 2*time.Second, 20*time.Millisecond)
}

func TestRegistryWatcherIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	syncer := &countingSyncer{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	w := NewRegistryWatcher(syncer, logger, dir, "registry.db", 0)
	require.NoError(t, w.Open())
	startWatcher(t, w)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o600))
	time.Sleep(4 * defaultDebounce)
	assert.Zero(t, syncer.calls.Load())

	require.NoError(t, os.WriteFile(filepath.Join(dir, "registry.db"), []byte("x"), 0o600))
	assert.Eventually(t, func() bool { return syncer.calls.Load() > 0 }, 2*time.Second, 20*time.Millisecond)
}
