package shutdown

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/samuelrizzo/github-unwrapped/internal/pkg/logger"
)

func TestNewManagerDefaultTimeout(t *testing.T) {
	mgr := NewManager(logger.Discard(), 0)
	if mgr.timeout != 30*time.Second {
		t.Errorf("expected default timeout 30s, got %s", mgr.timeout)
	}
}

func TestShutdownRunsHandlersInReverseOrder(t *testing.T) {
	mgr := NewManager(logger.Discard(), 5*time.Second)

	var order []string
	mgr.Register("store", func(ctx context.Context) error {
		order = append(order, "store")
		return nil
	})
	mgr.Register("render-tasks", func(ctx context.Context) error {
		order = append(order, "render-tasks")
		return nil
	})
	mgr.RegisterSimple("http-server", func() {
		order = append(order, "http-server")
	})

	mgr.Shutdown()

	want := []string{"http-server", "render-tasks", "store"}
	if len(order) != len(want) {
		t.Fatalf("expected %d handlers to run, got %v", len(want), order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i], order[i])
		}
	}
}

func TestShutdownContinuesAfterFailure(t *testing.T) {
	mgr := NewManager(logger.Discard(), 5*time.Second)

	var ranFirst bool
	mgr.Register("first", func(ctx context.Context) error {
		ranFirst = true
		return nil
	})
	mgr.Register("failing", func(ctx context.Context) error {
		return errors.New("boom")
	})

	mgr.Shutdown()

	if !ranFirst {
		t.Error("expected handler after a failing one to still run")
	}
}

func TestShutdownSkipsHandlersAfterTimeout(t *testing.T) {
	mgr := NewManager(logger.Discard(), 20*time.Millisecond)

	var skippedRan bool
	mgr.Register("skipped", func(ctx context.Context) error {
		skippedRan = true
		return nil
	})
	mgr.Register("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	mgr.Shutdown()

	if skippedRan {
		t.Error("expected handler to be skipped once the timeout expired")
	}
}

func TestShutdownIsIdempotent(t *testing.T) {
	mgr := NewManager(logger.Discard(), time.Second)

	calls := 0
	mgr.RegisterSimple("once", func() { calls++ })

	mgr.Shutdown()
	mgr.Shutdown()

	if calls != 1 {
		t.Errorf("expected handler to run once, got %d", calls)
	}

	select {
	case <-mgr.Done():
	default:
		t.Error("expected Done to be closed")
	}
}
