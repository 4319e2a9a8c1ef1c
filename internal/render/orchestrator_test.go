package render

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/samuelrizzo/github-unwrapped/internal/domain"
	apperrors "github.com/samuelrizzo/github-unwrapped/internal/pkg/errors"
	"github.com/samuelrizzo/github-unwrapped/internal/renderer"
	"github.com/samuelrizzo/github-unwrapped/internal/stats"
)

func assertRunning(t *testing.T, resp domain.RenderResponse, progress float64) {
	t.Helper()
	if resp.Type != domain.ResponseRenderRunning || resp.Progress == nil || *resp.Progress != progress {
		t.Fatalf("expected render-running %.1f, got %+v", progress, resp)
	}
}

func assertError(t *testing.T, resp domain.RenderResponse, msg string) {
	t.Helper()
	if resp.Type != domain.ResponseRenderError || resp.Error != msg {
		t.Fatalf("expected render-error %q, got %+v", msg, resp)
	}
}

func TestRequestRenderLifecycle(t *testing.T) {
	engine := newFakeEngine().hold()
	h := newHarness(t, engine, harnessOptions{})

	assertRunning(t, h.request(t, "octocat", "dark"), 0)
	assertRunning(t, h.request(t, "octocat", "dark"), domain.ProgressRunning)

	engine.release()
	h.settle(t)

	resp := h.request(t, "octocat", "dark")
	if resp.Type != domain.ResponseVideoAvailable || resp.URL != "/output/unwrapped-octocat-dark.mp4" {
		t.Fatalf("expected video-available, got %+v", resp)
	}

	if n := engine.count(renderer.CompositionMain); n != 1 {
		t.Errorf("main renders = %d, want 1", n)
	}
	if h.registry.Len() != 0 {
		t.Errorf("registry not empty: %d", h.registry.Len())
	}
	if _, err := os.Stat(filepath.Join(h.outDir, "unwrapped-octocat-dark.mp4")); err != nil {
		t.Errorf("published video missing: %v", err)
	}

	rec := h.store.record(t, domain.NewJobKey("octocat", domain.VariantDark))
	if rec.Finality.OutputSize != int64(len("rendered Main")) || rec.Finality.ReportedCost != 0 {
		t.Errorf("unexpected finality %+v", rec.Finality)
	}
	if engine.bundles.Load() != 1 {
		t.Errorf("bundles = %d, want 1", engine.bundles.Load())
	}
}

func TestRequestRenderCacheHit(t *testing.T) {
	engine := newFakeEngine()
	h := newHarness(t, engine, harnessOptions{})

	key := domain.NewJobKey("octocat", domain.VariantBlue)
	rec := domain.NewJobRecord(key, time.Now())
	rec.Finality = domain.SuccessFinality("/output/unwrapped-octocat-blue.mp4", 1024, 0)
	h.store.records = append(h.store.records, rec)

	for i := 0; i < 2; i++ {
		resp := h.request(t, "octocat", "blue")
		if resp.Type != domain.ResponseVideoAvailable || resp.URL != "/output/unwrapped-octocat-blue.mp4" {
			t.Fatalf("call %d: unexpected response %+v", i, resp)
		}
		if h.registry.Len() != 0 || h.tasks.Active() != 0 {
			t.Fatalf("call %d started work", i)
		}
	}

	if _, inserts, _ := h.store.counts(); inserts != 0 {
		t.Errorf("inserts = %d, want 0", inserts)
	}
}

func TestRequestRenderDedupUnderConcurrency(t *testing.T) {
	const n = 16

	engine := newFakeEngine().hold()
	h := newHarness(t, engine, harnessOptions{})

	var (
		wg        sync.WaitGroup
		start     = make(chan struct{})
		responses = make([]domain.RenderResponse, n)
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			resp, err := h.orch.RequestRender(context.Background(), RenderRequest{SubjectIdentifier: "octocat", Variant: "purple"})
			if err != nil {
				t.Errorf("request %d: %v", i, err)
			}
			responses[i] = resp
		}(i)
	}
	close(start)
	wg.Wait()

	started := 0
	for _, resp := range responses {
		if resp.Type != domain.ResponseRenderRunning || resp.Progress == nil {
			t.Fatalf("unexpected response %+v", resp)
		}
		if *resp.Progress == 0 {
			started++
		}
	}
	if started != 1 {
		t.Errorf("started = %d, want 1", started)
	}
	if _, inserts, _ := h.store.counts(); inserts != 1 {
		t.Errorf("inserts = %d, want 1", inserts)
	}

	engine.release()
	h.settle(t)

	if c := engine.count(renderer.CompositionMain); c != 1 {
		t.Errorf("main renders = %d, want 1", c)
	}
}

func TestRequestRenderFailureReleasesRegistry(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(*fakeEngine)
		timeout time.Duration
		wantMsg string
	}{
		{
			name:    "engine error",
			setup:   func(e *fakeEngine) { e.renderErr = errBoom },
			wantMsg: "engine exploded",
		},
		{
			name:    "engine panic",
			setup:   func(e *fakeEngine) { e.panicMsg = "nil composition" },
			wantMsg: "render panicked: nil composition",
		},
		{
			name:    "no output",
			setup:   func(e *fakeEngine) { e.skipOutput = true },
			wantMsg: "render produced no output",
		},
		{
			name:    "timeout",
			setup:   func(e *fakeEngine) { e.hang = true },
			timeout: 50 * time.Millisecond,
			wantMsg: "render timed out after 50ms",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := newFakeEngine()
			tt.setup(engine)
			h := newHarness(t, engine, harnessOptions{timeout: tt.timeout})
			key := domain.NewJobKey("octocat", domain.VariantRed)

			assertRunning(t, h.request(t, "octocat", "red"), 0)
			h.settle(t)

			if h.registry.Contains(key.String()) {
				t.Fatal("key still in flight after failure")
			}
			rec := h.store.record(t, key)
			if rec.Finality == nil || rec.Finality.Type != domain.FinalityError {
				t.Fatalf("expected error finality, got %+v", rec.Finality)
			}
			if rec.Finality.Message != tt.wantMsg {
				t.Errorf("message = %q, want %q", rec.Finality.Message, tt.wantMsg)
			}

			// The error is sticky: the engine is not invoked again.
			assertError(t, h.request(t, "octocat", "red"), tt.wantMsg)
			if c := engine.count(renderer.CompositionMain); c != 1 {
				t.Errorf("main renders = %d, want 1", c)
			}
		})
	}
}

func TestRequestRenderStickyError(t *testing.T) {
	engine := newFakeEngine()
	h := newHarness(t, engine, harnessOptions{})

	rec := domain.NewJobRecord(domain.NewJobKey("octocat", domain.VariantGreen), time.Now())
	rec.Finality = domain.ErrorFinality("composition crashed")
	h.store.records = append(h.store.records, rec)

	for i := 0; i < 3; i++ {
		assertError(t, h.request(t, "Octocat", "green"), "composition crashed")
	}
	if c := engine.count(renderer.CompositionMain); c != 0 {
		t.Errorf("main renders = %d, want 0", c)
	}
	if h.registry.Len() != 0 {
		t.Errorf("registry not empty")
	}
}

func TestRequestRenderNormalizesSubject(t *testing.T) {
	engine := newFakeEngine().hold()
	h := newHarness(t, engine, harnessOptions{})

	assertRunning(t, h.request(t, "Alice", "light"), 0)
	assertRunning(t, h.request(t, "alice", "light"), domain.ProgressRunning)
	assertRunning(t, h.request(t, "  ALICE ", "light"), domain.ProgressRunning)

	engine.release()
	h.settle(t)

	resp := h.request(t, "aLiCe", "light")
	if resp.Type != domain.ResponseVideoAvailable || resp.URL != "/output/unwrapped-alice-light.mp4" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if c := engine.count(renderer.CompositionMain); c != 1 {
		t.Errorf("main renders = %d, want 1", c)
	}
}

func TestRequestRenderInsertFailure(t *testing.T) {
	engine := newFakeEngine()
	claimer := &fakeClaimer{ok: true}
	h := newHarness(t, engine, harnessOptions{claimer: claimer})

	h.store.mu.Lock()
	h.store.insertErr = errors.New("disk full")
	h.store.mu.Unlock()

	assertError(t, h.request(t, "octocat", "silver"), MsgCouldNotStart)
	if h.registry.Len() != 0 {
		t.Fatal("registry entry leaked after insert failure")
	}
	if claimer.released.Load() != 1 {
		t.Errorf("claim released %d times, want 1", claimer.released.Load())
	}
	if h.tasks.Active() != 0 {
		t.Error("worker started without a record")
	}

	h.store.mu.Lock()
	h.store.insertErr = nil
	h.store.mu.Unlock()

	assertRunning(t, h.request(t, "octocat", "silver"), 0)
	h.settle(t)
}

func TestRequestRenderUpdateFailureStillReleases(t *testing.T) {
	engine := newFakeEngine()
	claimer := &fakeClaimer{ok: true}
	h := newHarness(t, engine, harnessOptions{claimer: claimer})

	h.store.mu.Lock()
	h.store.updateErr = errors.New("connection reset")
	h.store.mu.Unlock()

	assertRunning(t, h.request(t, "octocat", "dark"), 0)
	h.settle(t)

	if h.registry.Len() != 0 {
		t.Error("registry entry leaked after update failure")
	}
	if claimer.acquired.Load() != 1 || claimer.released.Load() != 1 {
		t.Errorf("claims acquired=%d released=%d", claimer.acquired.Load(), claimer.released.Load())
	}
	if _, _, updates := h.store.counts(); updates != 1 {
		t.Errorf("updates = %d, want 1", updates)
	}
}

func TestRequestRenderProfileMisses(t *testing.T) {
	tests := []struct {
		subject string
		wantMsg string
	}{
		{"ghost", stats.MsgUserNotFound},
		{"mona", stats.MsgUserNotFetched},
	}

	for _, tt := range tests {
		t.Run(tt.subject, func(t *testing.T) {
			claimer := &fakeClaimer{ok: true}
			h := newHarness(t, newFakeEngine(), harnessOptions{claimer: claimer})

			assertError(t, h.request(t, tt.subject, "dark"), tt.wantMsg)

			if h.registry.Len() != 0 {
				t.Error("registry entry leaked")
			}
			if claimer.released.Load() != claimer.acquired.Load() {
				t.Errorf("claims acquired=%d released=%d", claimer.acquired.Load(), claimer.released.Load())
			}
			if _, inserts, _ := h.store.counts(); inserts != 0 {
				t.Errorf("inserts = %d, want 0", inserts)
			}
		})
	}
}

func TestRequestRenderClaim(t *testing.T) {
	t.Run("held elsewhere", func(t *testing.T) {
		h := newHarness(t, newFakeEngine(), harnessOptions{claimer: &fakeClaimer{ok: false}})

		assertRunning(t, h.request(t, "octocat", "dark"), domain.ProgressRunning)
		if h.registry.Len() != 0 {
			t.Error("registry entry leaked")
		}
		if _, inserts, _ := h.store.counts(); inserts != 0 {
			t.Errorf("inserts = %d, want 0", inserts)
		}
	})

	t.Run("claim backend down", func(t *testing.T) {
		engine := newFakeEngine()
		h := newHarness(t, engine, harnessOptions{claimer: &fakeClaimer{err: errors.New("redis: connection refused")}})

		assertRunning(t, h.request(t, "octocat", "dark"), 0)
		h.settle(t)
		if c := engine.count(renderer.CompositionMain); c != 1 {
			t.Errorf("main renders = %d, want 1", c)
		}
	})
}

func TestRequestRenderStoreUnavailable(t *testing.T) {
	h := newHarness(t, newFakeEngine(), harnessOptions{})
	h.store.findErr = errors.New("no reachable servers")

	assertError(t, h.request(t, "octocat", "dark"), MsgUnavailable)
	if h.registry.Len() != 0 {
		t.Error("registry entry leaked")
	}
}

func TestRequestRenderDoubleCheck(t *testing.T) {
	h := newHarness(t, newFakeEngine(), harnessOptions{})

	// The first lookup misses; by the second one a worker has finished.
	done := domain.NewJobRecord(domain.NewJobKey("octocat", domain.VariantDark), time.Now())
	done.Finality = domain.SuccessFinality("/output/unwrapped-octocat-dark.mp4", 10, 0)
	h.store.findHook = func(call int) *domain.JobRecord {
		if call == 2 {
			return &done
		}
		return nil
	}

	resp := h.request(t, "octocat", "dark")
	if resp.Type != domain.ResponseVideoAvailable {
		t.Fatalf("expected video-available, got %+v", resp)
	}
	if h.registry.Len() != 0 {
		t.Error("registry entry leaked")
	}
	if _, inserts, _ := h.store.counts(); inserts != 0 {
		t.Errorf("inserts = %d, want 0", inserts)
	}
}

func TestRequestRenderAfterShutdown(t *testing.T) {
	h := newHarness(t, newFakeEngine(), harnessOptions{})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := h.tasks.Wait(ctx); err != nil {
		t.Fatal(err)
	}

	assertError(t, h.request(t, "octocat", "dark"), MsgShuttingDown)
	if h.registry.Len() != 0 {
		t.Error("registry entry leaked")
	}
}

func TestRequestRenderValidation(t *testing.T) {
	tests := []struct {
		name      string
		req       RenderRequest
		wantField string
	}{
		{"missing subject", RenderRequest{Variant: "dark"}, "subjectIdentifier"},
		{"blank subject", RenderRequest{SubjectIdentifier: "   ", Variant: "dark"}, "subjectIdentifier"},
		{"leading hyphen", RenderRequest{SubjectIdentifier: "-octocat", Variant: "dark"}, "subjectIdentifier"},
		{"space inside", RenderRequest{SubjectIdentifier: "octo cat", Variant: "dark"}, "subjectIdentifier"},
		{"too long", RenderRequest{SubjectIdentifier: strings.Repeat("a", 40), Variant: "dark"}, "subjectIdentifier"},
		{"missing variant", RenderRequest{SubjectIdentifier: "octocat"}, "variant"},
		{"unknown variant", RenderRequest{SubjectIdentifier: "octocat", Variant: "rainbow"}, "variant"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, newFakeEngine(), harnessOptions{})

			_, err := h.orch.RequestRender(context.Background(), tt.req)
			if !apperrors.IsCode(err, apperrors.CodeValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if got := apperrors.GetFields(err)["field"]; got != tt.wantField {
				t.Errorf("field = %v, want %s", got, tt.wantField)
			}
			if finds, _, _ := h.store.counts(); finds != 0 {
				t.Error("validation must happen before any store access")
			}
		})
	}
}

func TestParseAcceptsLoginShapes(t *testing.T) {
	o := New(Deps{})
	for _, login := range []string{"a", "octocat", "Mona-Lisa", "x1", strings.Repeat("b", 39)} {
		key, err := o.Parse(RenderRequest{SubjectIdentifier: login, Variant: "blue"})
		if err != nil {
			t.Errorf("Parse(%q): %v", login, err)
			continue
		}
		if key.Subject != strings.ToLower(login) {
			t.Errorf("subject = %q", key.Subject)
		}
	}
}
