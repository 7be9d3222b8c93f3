//go:build !windows

package event

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventSetFromAnotherHandle(t *testing.T) {
	ns := NewNamespace(t.TempDir())

	waiter, err := ns.Create("ready")
	require.NoError(t, err)
	defer waiter.Close()

	go func() {
		time.Sleep(100 * time.Millisecond)
		setter, err := ns.Open("ready")
		if err != nil {
			return
		}
		_ = setter.Set()
		_ = setter.Close()
	}()

	signaled, err := waiter.Wait(context.Background(), 5*time.Second)
	require.NoError(t, err)
	assert.True(t, signaled)
}

func TestEventWaitTimeout(t *testing.T) {
	ns := NewNamespace(t.TempDir())

	ev, err := ns.Create("never")
	require.NoError(t, err)
	defer ev.Close()

	start := time.Now()
	signaled, err := ev.Wait(context.Background(), 200*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, signaled)
	assert.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond)
}

func TestEventAlreadySignaled(t *testing.T) {
	ns := NewNamespace(t.TempDir())

	ev, err := ns.Create("early")
	require.NoError(t, err)
	defer ev.Close()
	require.NoError(t, ev.Set())

	signaled, err := ev.Wait(context.Background(), time.Second)
	require.NoError(t, err)
	assert.True(t, signaled)
}

func TestEventCreateResetsStaleSignal(t *testing.T) {
	root := t.TempDir()
	ns := NewNamespace(root)

	require.NoError(t, os.MkdirAll(filepath.Join(root, "stale"), 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(root, "stale", signalFile), nil, 0o600))

	ev, err := ns.Create("stale")
	require.NoError(t, err)
	defer ev.Close()

	signaled, err := ev.Wait(context.Background(), 50*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, signaled)
}

func TestEventOpenMissing(t *testing.T) {
	ns := NewNamespace(t.TempDir())

	_, err := ns.Open("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEventCloseRemovesOwnedEvent(t *testing.T) {
	ns := NewNamespace(t.TempDir())

	ev, err := ns.Create("cleanup")
	require.NoError(t, err)

	other, err := ns.Open("cleanup")
	require.NoError(t, err)
	require.NoError(t, other.Close())

	_, err = ns.Open("cleanup")
	require.NoError(t, err, "closing an opened handle keeps the event")

	require.NoError(t, ev.Close())
	_, err = ns.Open("cleanup")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEventWaitCancelled(t *testing.T) {
	ns := NewNamespace(t.TempDir())

	ev, err := ns.Create("cancel")
	require.NoError(t, err)
	defer ev.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = ev.Wait(ctx, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEventInvalidName(t *testing.T) {
	ns := NewNamespace(t.TempDir())

	_, err := ns.Create("a/b")
	assert.Error(t, err)
	_, err = ns.Create("")
	assert.Error(t, err)
}
