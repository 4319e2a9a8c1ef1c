package render

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/samuelrizzo/github-unwrapped/internal/adapters/storage/localfs"
	"github.com/samuelrizzo/github-unwrapped/internal/claim"
	"github.com/samuelrizzo/github-unwrapped/internal/domain"
	"github.com/samuelrizzo/github-unwrapped/internal/github"
	"github.com/samuelrizzo/github-unwrapped/internal/inflight"
	apperrors "github.com/samuelrizzo/github-unwrapped/internal/pkg/errors"
	"github.com/samuelrizzo/github-unwrapped/internal/pkg/logger"
	"github.com/samuelrizzo/github-unwrapped/internal/pkg/tasks"
	"github.com/samuelrizzo/github-unwrapped/internal/renderer"
	"github.com/samuelrizzo/github-unwrapped/internal/stats"
	"github.com/samuelrizzo/github-unwrapped/internal/store"
)

// memStore is an in-memory store.Store.
type memStore struct {
	mu       sync.Mutex
	records  []domain.JobRecord
	assets   map[string]domain.DerivedAsset
	profiles map[string]domain.Profile

	finds   int
	inserts int
	updates int

	findErr   error
	insertErr error
	updateErr error
	// findHook may answer a FindJobRecord call by its 1-based index.
	findHook func(call int) *domain.JobRecord
}

func newMemStore() *memStore {
	return &memStore{
		assets:   make(map[string]domain.DerivedAsset),
		profiles: make(map[string]domain.Profile),
	}
}

func (s *memStore) FindJobRecord(_ context.Context, key domain.JobKey) (*domain.JobRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finds++
	if s.findErr != nil {
		return nil, s.findErr
	}
	if s.findHook != nil {
		if rec := s.findHook(s.finds); rec != nil {
			return rec, nil
		}
	}
	for i := len(s.records) - 1; i >= 0; i-- {
		rec := s.records[i]
		if rec.Key() == key && rec.Terminal() {
			return &rec, nil
		}
	}
	return nil, nil
}

func (s *memStore) InsertJobRecord(_ context.Context, rec domain.JobRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return s.insertErr
	}
	s.inserts++
	s.records = append(s.records, rec)
	return nil
}

func (s *memStore) UpdateJobRecord(_ context.Context, rec domain.JobRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates++
	if s.updateErr != nil {
		return s.updateErr
	}
	for i := range s.records {
		if s.records[i].ID == rec.ID {
			if s.records[i].Terminal() {
				return store.ErrNotPending
			}
			s.records[i].Finality = rec.Finality
			return nil
		}
	}
	return store.ErrNotPending
}

func (s *memStore) FindDerivedAsset(_ context.Context, subject string, kind domain.AssetKind) (*domain.DerivedAsset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.assets[subject+":"+string(kind)]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

func (s *memStore) InsertDerivedAsset(_ context.Context, a domain.DerivedAsset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := a.Subject + ":" + string(a.Kind)
	if _, ok := s.assets[k]; !ok {
		s.assets[k] = a
	}
	return nil
}

func (s *memStore) FindProfile(_ context.Context, login string) (*domain.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[login]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (s *memStore) SaveProfile(_ context.Context, p domain.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[domain.NormalizeSubject(p.Login)] = p
	return nil
}

func (s *memStore) Migrate(context.Context) error { return nil }
func (s *memStore) Ping(context.Context) error    { return nil }
func (s *memStore) Close() error                  { return nil }

// record returns the single record stored for key.
func (s *memStore) record(t *testing.T, key domain.JobKey) domain.JobRecord {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	var found []domain.JobRecord
	for _, rec := range s.records {
		if rec.Key() == key {
			found = append(found, rec)
		}
	}
	if len(found) != 1 {
		t.Fatalf("expected one record for %s, got %d", key, len(found))
	}
	return found[0]
}

func (s *memStore) counts() (finds, inserts, updates int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finds, s.inserts, s.updates
}

// fakeEngine writes a small file for every render. Main renders can be
// held on a gate, fail, panic or hang until the deadline.
type fakeEngine struct {
	mu      sync.Mutex
	renders map[string]int
	bundles atomic.Int32

	gate     chan struct{}
	gateOnce sync.Once

	renderErr  error
	panicMsg   string
	skipOutput bool
	hang       bool
	stillErr   error
	// relocateDir makes the engine write into its own directory and report
	// that path instead of the requested one.
	relocateDir string
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{renders: make(map[string]int)}
}

func (e *fakeEngine) hold() *fakeEngine {
	e.gate = make(chan struct{})
	return e
}

func (e *fakeEngine) release() {
	if e.gate != nil {
		e.gateOnce.Do(func() { close(e.gate) })
	}
}

func (e *fakeEngine) count(id string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.renders[id]
}

func (e *fakeEngine) Bundle(context.Context) (string, error) {
	e.bundles.Add(1)
	return "http://renderer/bundle", nil
}

func (e *fakeEngine) SelectComposition(_ context.Context, _ string, id string, _ any) (renderer.Composition, error) {
	return renderer.Composition{ID: id, Width: 1080, Height: 1080, FPS: 30, DurationInFrames: 900}, nil
}

func (e *fakeEngine) RenderToFile(ctx context.Context, in renderer.RenderToFileInput) (renderer.RenderOutput, error) {
	e.mu.Lock()
	e.renders[in.Composition.ID]++
	e.mu.Unlock()

	if in.Composition.ID == renderer.CompositionMain {
		if e.gate != nil {
			select {
			case <-e.gate:
			case <-ctx.Done():
				return renderer.RenderOutput{}, ctx.Err()
			}
		}
		if e.hang {
			<-ctx.Done()
			return renderer.RenderOutput{}, ctx.Err()
		}
		if e.panicMsg != "" {
			panic(e.panicMsg)
		}
		if e.renderErr != nil {
			return renderer.RenderOutput{}, e.renderErr
		}
		if e.skipOutput {
			return renderer.RenderOutput{}, nil
		}
	} else if e.stillErr != nil {
		return renderer.RenderOutput{}, e.stillErr
	}

	path := in.OutputPath
	if e.relocateDir != "" {
		path = filepath.Join(e.relocateDir, filepath.Base(in.OutputPath))
	}
	body := []byte("rendered " + in.Composition.ID)
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return renderer.RenderOutput{}, err
	}
	return renderer.RenderOutput{OutputPath: path}, nil
}

type fakeClaimer struct {
	ok       bool
	err      error
	acquired atomic.Int32
	released atomic.Int32
}

func (c *fakeClaimer) Acquire(_ context.Context, key string) (claim.Lease, bool, error) {
	if c.err != nil {
		return claim.Lease{}, false, c.err
	}
	if !c.ok {
		return claim.Lease{}, false, nil
	}
	c.acquired.Add(1)
	return claim.Lease{Key: key, Token: "t"}, true, nil
}

func (c *fakeClaimer) Release(_ context.Context, lease claim.Lease) error {
	if lease.Token != "" {
		c.released.Add(1)
	}
	return nil
}

// knownUsers answers GitHub user lookups.
type knownUsers map[string]bool

func (k knownUsers) GetUser(_ context.Context, login string) (*github.User, error) {
	if !k[login] {
		return nil, apperrors.NotFound("user", login)
	}
	return &github.User{Login: login}, nil
}

type harness struct {
	store    *memStore
	engine   *fakeEngine
	registry *inflight.Registry
	tasks    *tasks.Group
	storage  *localfs.LocalFS
	outDir   string
	workDir  string
	orch     *Orchestrator
}

type harnessOptions struct {
	claimer claim.Claimer
	timeout time.Duration
}

func newHarness(t *testing.T, engine *fakeEngine, opts harnessOptions) *harness {
	t.Helper()

	h := &harness{
		store:    newMemStore(),
		engine:   engine,
		registry: inflight.New(),
		tasks:    tasks.NewGroup(logger.Discard()),
		outDir:   t.TempDir(),
		workDir:  t.TempDir(),
	}
	h.storage = localfs.New(h.outDir)

	for _, login := range []string{"octocat", "alice"} {
		h.store.profiles[login] = domain.Profile{
			Login:        login,
			TotalStars:   42,
			TopLanguages: []domain.Language{{Name: "Go", Percent: 80}},
		}
	}

	bundle := renderer.NewBundleCache(engine)
	worker := NewWorker(WorkerDeps{
		Engine:   engine,
		Bundle:   bundle,
		Storage:  h.storage,
		Store:    h.store,
		Registry: h.registry,
		Claimer:  opts.claimer,
		Log:      logger.Discard(),
		WorkDir:  h.workDir,
		Timeout:  opts.timeout,
	})
	derived := NewDerivedGenerator(DerivedDeps{
		Engine:  engine,
		Bundle:  bundle,
		Storage: h.storage,
		Store:   h.store,
		Log:     logger.Discard(),
		WorkDir: h.workDir,
	})

	h.orch = New(Deps{
		Store:    h.store,
		Registry: h.registry,
		Claimer:  opts.claimer,
		Profiles: stats.NewLoader(h.store, knownUsers{"mona": true}, logger.Discard()),
		Tasks:    h.tasks,
		Worker:   worker,
		Derived:  derived,
		Log:      logger.Discard(),
	})

	t.Cleanup(func() {
		engine.release()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.tasks.Wait(ctx); err != nil {
			t.Errorf("background tasks did not finish: %v", err)
		}
	})

	return h
}

func (h *harness) request(t *testing.T, subject, variant string) domain.RenderResponse {
	t.Helper()
	resp, err := h.orch.RequestRender(context.Background(), RenderRequest{SubjectIdentifier: subject, Variant: variant})
	if err != nil {
		t.Fatalf("RequestRender(%q, %q): %v", subject, variant, err)
	}
	return resp
}

// settle waits until no background task is running.
func (h *harness) settle(t *testing.T) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for h.tasks.Active() > 0 {
		if time.Now().After(deadline) {
			t.Fatalf("background work did not settle (active=%d inflight=%d)", h.tasks.Active(), h.registry.Len())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

var errBoom = errors.New("engine exploded")

type fakeReporter struct {
	mu     sync.Mutex
	errs   []error
	panics []any
	tags   []map[string]string
}

func (r *fakeReporter) CaptureError(_ context.Context, err error, tags map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
	r.tags = append(r.tags, tags)
}

func (r *fakeReporter) CapturePanic(_ context.Context, rec any, tags map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.panics = append(r.panics, rec)
	r.tags = append(r.tags, tags)
}

func (r *fakeReporter) Flush(time.Duration) bool { return true }
