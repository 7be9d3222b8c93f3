//go:build windows

package event

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sys/windows"
)

const (
	eventModifyState = 0x0002
	synchronize      = 0x00100000
	waitObject0      = 0x00000000
	waitTimeout      = 0x00000102

	// Wait in slices so a cancelled ctx is noticed.
	waitSlice = 100 * time.Millisecond
)

// DefaultNamespace is the current logon session's namespace.
func DefaultNamespace() Namespace {
	return NewNamespace(`Local\`)
}

// Create creates or opens the named manual-reset event and leaves it
// unsignaled.
func (n Namespace) Create(name string) (Event, error) {
	ptr, err := windows.UTF16PtrFromString(n.root + name)
	if err != nil {
		return nil, fmt.Errorf("invalid event name %q: %w", name, err)
	}
	h, err := windows.CreateEvent(nil, 1, 0, ptr)
	if h == 0 {
		return nil, fmt.Errorf("create event: %w", err)
	}
	// ERROR_ALREADY_EXISTS still yields a usable handle on the existing event.
	if err := windows.ResetEvent(h); err != nil {
		_ = windows.CloseHandle(h)
		return nil, fmt.Errorf("reset event: %w", err)
	}
	return &kernelEvent{handle: h}, nil
}

// Open opens an existing named event for signaling.
func (n Namespace) Open(name string) (Event, error) {
	ptr, err := windows.UTF16PtrFromString(n.root + name)
	if err != nil {
		return nil, fmt.Errorf("invalid event name %q: %w", name, err)
	}
	h, err := windows.OpenEvent(eventModifyState|synchronize, false, ptr)
	if err != nil {
		if errors.Is(err, windows.ERROR_FILE_NOT_FOUND) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("open event: %w", err)
	}
	return &kernelEvent{handle: h}, nil
}

type kernelEvent struct {
	handle windows.Handle
}

func (e *kernelEvent) Set() error {
	if err := windows.SetEvent(e.handle); err != nil {
		return fmt.Errorf("set event: %w", err)
	}
	return nil
}

func (e *kernelEvent) Wait(ctx context.Context, timeout time.Duration) (bool, error) {
	deadline := time.Now().Add(timeout)
	for {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		remaining := time.Until(deadline)
		if remaining < 0 {
			remaining = 0
		}
		slice := waitSlice
		if remaining < slice {
			slice = remaining
		}
		status, err := windows.WaitForSingleObject(e.handle, uint32(slice/time.Millisecond))
		switch status {
		case waitObject0:
			return true, nil
		case waitTimeout:
			if remaining <= slice {
				return false, nil
			}
		default:
			return false, fmt.Errorf("wait event: %w", err)
		}
	}
}

func (e *kernelEvent) Close() error {
	if e.handle == 0 {
		return nil
	}
	err := windows.CloseHandle(e.handle)
	e.handle = 0
	return err
}
