// Package platform picks the task service backend for the running system.
package platform

import (
	"errors"
	"fmt"
	"runtime"
	"strings"

	"taskschedule/internal/store"
	"taskschedule/internal/taskservice"
)

// Backend names a task service implementation.
type Backend string

const (
	BackendAuto    Backend = "auto"
	BackendWindows Backend = "windows"
	BackendLocal   Backend = "local"
)

var ErrNativeUnavailable = errors.New("windows task scheduler is only available on windows")

// ParseBackend accepts auto, windows or local in any case.
func ParseBackend(s string) (Backend, error) {
	switch b := Backend(strings.ToLower(strings.TrimSpace(s))); b {
	case "", BackendAuto:
		return BackendAuto, nil
	case BackendWindows, BackendLocal:
		return b, nil
	default:
		return "", fmt.Errorf("unknown backend %q (want auto, windows or local)", s)
	}
}

// Resolve turns auto into the concrete backend for this OS.
func Resolve(b Backend) Backend {
	if b != BackendAuto && b != "" {
		return b
	}
	if runtime.GOOS == "windows" {
		return BackendWindows
	}
	return BackendLocal
}

// Options configures the local registry backend.
type Options struct {
	StateDir     string
	LogRetention int
}

// Service returns the task service for b, resolving auto first.
func Service(b Backend, opts Options) (taskservice.Service, Backend, error) {
	resolved := Resolve(b)
	switch resolved {
	case BackendWindows:
		svc, err := nativeService()
		if err != nil {
			return nil, resolved, err
		}
		return svc, resolved, nil
	case BackendLocal:
		if opts.StateDir == "" {
			return nil, resolved, errors.New("local backend needs a state directory")
		}
		return store.NewRegistry(opts.StateDir, opts.LogRetention), resolved, nil
	default:
		return nil, resolved, fmt.Errorf("unknown backend %q", b)
	}
}
