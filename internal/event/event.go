// Package event provides named, manual-reset events that one process sets
// and another waits on. Events carry no payload.
package event

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("event not found")

// Event is an open handle on a named event.
type Event interface {
	// Set signals the event. It stays signaled until the creator closes it.
	Set() error
	// Wait blocks until the event is signaled, the timeout elapses or ctx is
	// done. It reports whether the event was signaled.
	Wait(ctx context.Context, timeout time.Duration) (bool, error)
	Close() error
}

// Namespace scopes event names. On Windows the root is a kernel object
// namespace prefix; elsewhere it is a directory.
type Namespace struct {
	root string
}

// NewNamespace returns a namespace rooted at root.
func NewNamespace(root string) Namespace {
	return Namespace{root: root}
}

// Root returns the namespace root.
func (n Namespace) Root() string { return n.root }
