// Package tasks tracks detached background goroutines so that shutdown can
// wait for them instead of abandoning them mid-render.
package tasks

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samuelrizzo/github-unwrapped/internal/pkg/logger"
)

// ErrClosed is returned by Go once Wait has been called.
var ErrClosed = errors.New("tasks: group is closed")

// Group owns a set of background tasks.
type Group struct {
	log *logger.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
	active atomic.Int64
}

// NewGroup creates an open Group.
func NewGroup(log *logger.Logger) *Group {
	if log == nil {
		log = logger.Discard()
	}
	return &Group{log: log.WithComponent("tasks")}
}

// Go runs fn in its own goroutine. A panic inside fn is recovered and
// logged; it never takes the process down.
func (g *Group) Go(name string, fn func()) error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return ErrClosed
	}
	g.wg.Add(1)
	g.active.Add(1)
	g.mu.Unlock()

	go func() {
		start := time.Now()
		defer func() {
			if rec := recover(); rec != nil {
				g.log.Error("task panicked",
					"task", name,
					"panic", rec,
					"stack", string(debug.Stack()),
				)
			}
			g.active.Add(-1)
			g.wg.Done()
			g.log.Debug("task finished", "task", name, "duration_ms", time.Since(start).Milliseconds())
		}()
		fn()
	}()

	return nil
}

// Active returns the number of tasks still running.
func (g *Group) Active() int {
	return int(g.active.Load())
}

// Wait stops accepting new tasks and blocks until every running task has
// returned or ctx is done.
func (g *Group) Wait(ctx context.Context) error {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	g.log.Info("waiting for background tasks", "active", g.Active())

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		g.log.Warn("background tasks still running at deadline", "active", g.Active())
		return ctx.Err()
	}
}
