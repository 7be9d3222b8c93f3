//go:build !windows

package event

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

const signalFile = "signaled"

// DefaultNamespace is shared by every process of the same user on this host.
func DefaultNamespace() Namespace {
	return NewNamespace(filepath.Join(os.TempDir(), fmt.Sprintf("taskschedule-events-%d", os.Getuid())))
}

// Create creates the named event in the unsignaled state. An event left over
// from an earlier run is reset.
func (n Namespace) Create(name string) (Event, error) {
	dir, err := n.eventDir(name)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create event dir: %w", err)
	}
	if err := os.Remove(filepath.Join(dir, signalFile)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("reset event: %w", err)
	}
	return &fileEvent{dir: dir, owner: true}, nil
}

// Open opens an event created by another process.
func (n Namespace) Open(name string) (Event, error) {
	dir, err := n.eventDir(name)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("open event: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return &fileEvent{dir: dir}, nil
}

func (n Namespace) eventDir(name string) (string, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", fmt.Errorf("invalid event name %q", name)
	}
	return filepath.Join(n.root, name), nil
}

type fileEvent struct {
	dir   string
	owner bool
}

func (e *fileEvent) Set() error {
	tmp, err := os.CreateTemp(e.dir, ".signal-*")
	if err != nil {
		return fmt.Errorf("set event: %w", err)
	}
	tmpName := tmp.Name()
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("set event: %w", err)
	}
	if err := os.Rename(tmpName, filepath.Join(e.dir, signalFile)); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("set event: %w", err)
	}
	return nil
}

func (e *fileEvent) Wait(ctx context.Context, timeout time.Duration) (bool, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return false, fmt.Errorf("watch event: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(e.dir); err != nil {
		return false, fmt.Errorf("watch event: %w", err)
	}

	// The watch is in place, so a Set from here on cannot be missed.
	if e.signaled() {
		return true, nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-timer.C:
			return e.signaled(), nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return e.signaled(), nil
			}
			if filepath.Base(ev.Name) == signalFile && e.signaled() {
				return true, nil
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return e.signaled(), nil
			}
			if e.signaled() {
				return true, nil
			}
			return false, fmt.Errorf("watch event: %w", err)
		}
	}
}

func (e *fileEvent) signaled() bool {
	_, err := os.Stat(filepath.Join(e.dir, signalFile))
	return err == nil
}

func (e *fileEvent) Close() error {
	if !e.owner {
		return nil
	}
	if err := os.RemoveAll(e.dir); err != nil {
		return fmt.Errorf("remove event: %w", err)
	}
	return nil
}
