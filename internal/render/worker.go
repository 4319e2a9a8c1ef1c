package render

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/samuelrizzo/github-unwrapped/internal/claim"
	"github.com/samuelrizzo/github-unwrapped/internal/domain"
	"github.com/samuelrizzo/github-unwrapped/internal/inflight"
	apperrors "github.com/samuelrizzo/github-unwrapped/internal/pkg/errors"
	"github.com/samuelrizzo/github-unwrapped/internal/pkg/logger"
	"github.com/samuelrizzo/github-unwrapped/internal/pkg/reporting"
	"github.com/samuelrizzo/github-unwrapped/internal/ports"
	"github.com/samuelrizzo/github-unwrapped/internal/renderer"
	"github.com/samuelrizzo/github-unwrapped/internal/store"
)

// DefaultTimeout bounds a single engine render when none is configured.
const DefaultTimeout = 10 * time.Minute

// OutputPrefix is the public path under which published artifacts are served.
const OutputPrefix = "/output/"

// Job is one accepted render handed to the worker.
type Job struct {
	Record domain.JobRecord
	Props  domain.VideoProps
	Lease  claim.Lease
}

type WorkerDeps struct {
	Engine   renderer.Engine
	Bundle   *renderer.BundleCache
	Storage  ports.StorageProvider
	Store    store.Store
	Registry *inflight.Registry
	Claimer  claim.Claimer
	Log      *logger.Logger
	// Reporter receives render failures and panics. Nil disables reporting.
	Reporter reporting.Reporter

	WorkDir      string
	Timeout      time.Duration
	CleanupLocal bool
}

// Worker renders a video, publishes it and records the outcome.
type Worker struct {
	engine   renderer.Engine
	bundle   *renderer.BundleCache
	storage  ports.StorageProvider
	store    store.Store
	registry *inflight.Registry
	claimer  claim.Claimer
	log      *logger.Logger
	reporter reporting.Reporter

	workDir      string
	timeout      time.Duration
	cleanupLocal bool
}

func NewWorker(d WorkerDeps) *Worker {
	log := d.Log
	if log == nil {
		log = logger.Discard()
	}
	bundle := d.Bundle
	if bundle == nil {
		bundle = renderer.NewBundleCache(d.Engine)
	}
	claimer := d.Claimer
	if claimer == nil {
		claimer = claim.Nop{}
	}
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	reporter := d.Reporter
	if reporter == nil {
		reporter = reporting.Nop{}
	}

	return &Worker{
		engine:       d.Engine,
		bundle:       bundle,
		storage:      d.Storage,
		store:        d.Store,
		registry:     d.Registry,
		claimer:      claimer,
		log:          log.WithComponent("render-worker"),
		reporter:     reporter,
		workDir:      d.WorkDir,
		timeout:      timeout,
		cleanupLocal: d.CleanupLocal,
	}
}

// Run executes job to completion. It never returns an error: every outcome
// is written to the job record, and the in-flight entry and claim are
// released on every exit path.
func (w *Worker) Run(ctx context.Context, job Job) {
	key := job.Record.Key()
	log := w.log.FromContext(ctx).WithJobKey(key.String())
	start := time.Now()

	defer func() {
		w.registry.Remove(key.String())
		if err := w.claimer.Release(context.WithoutCancel(ctx), job.Lease); err != nil {
			log.Warn("failed to release claim", "error", err.Error())
		}
	}()

	log.Info("starting render", "record_id", job.Record.ID.String())

	rec := job.Record
	rec.Finality = w.execute(ctx, key, job.Props, log)

	if err := w.store.UpdateJobRecord(ctx, rec); err != nil {
		log.LogError(ctx, "failed to record finality", apperrors.Store(err, "render.worker.update"),
			"finality", string(rec.Finality.Type),
		)
		return
	}

	if rec.Finality.Type == domain.FinalitySuccess {
		log.Info("render completed",
			"url", rec.Finality.URL,
			"size_bytes", rec.Finality.OutputSize,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	} else {
		log.Warn("render failed",
			"message", rec.Finality.Message,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}

// execute turns every result of the render, including a panic, into a
// finality.
func (w *Worker) execute(ctx context.Context, key domain.JobKey, props domain.VideoProps, log *logger.Logger) (f *domain.Finality) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error("render panicked", "panic", rec, "stack", string(debug.Stack()))
			w.reporter.CapturePanic(ctx, rec, map[string]string{"job_key": key.String()})
			f = domain.ErrorFinality(fmt.Sprintf("render panicked: %v", rec))
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	name := key.OutputName()
	size, err := w.render(ctx, name, props)
	if err != nil {
		log.LogError(ctx, "render error", err)
		w.reporter.CaptureError(ctx, err, map[string]string{"job_key": key.String()})
		return domain.ErrorFinality(failureMessage(err, w.timeout))
	}
	return domain.SuccessFinality(OutputPrefix+name, size, 0)
}

func (w *Worker) render(ctx context.Context, name string, props domain.VideoProps) (int64, error) {
	serveURL, err := w.bundle.Get(ctx)
	if err != nil {
		return 0, apperrors.Engine(fmt.Errorf("bundle: %w", err), "render.worker.bundle")
	}

	comp, err := w.engine.SelectComposition(ctx, serveURL, renderer.CompositionMain, props)
	if err != nil {
		return 0, apperrors.Engine(fmt.Errorf("select composition: %w", err), "render.worker.select")
	}

	outPath := filepath.Join(w.workDir, name)
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return 0, fmt.Errorf("create work dir: %w", err)
	}

	out, err := w.engine.RenderToFile(ctx, renderer.RenderToFileInput{
		Composition: comp,
		ServeURL:    serveURL,
		OutputPath:  outPath,
		Props:       props,
		Format:      renderer.FormatH264,
	})
	if err != nil {
		return 0, apperrors.Engine(fmt.Errorf("render to file: %w", err), "render.worker.render")
	}

	produced := producedPath(out, outPath)
	size, err := publish(ctx, w.storage, produced, name, "video/mp4")
	if err != nil {
		return 0, err
	}
	if w.cleanupLocal {
		_ = os.Remove(produced)
	}
	return size, nil
}

// publish uploads the file at localPath under objectKey.
func publish(ctx context.Context, sp ports.StorageProvider, localPath, objectKey, contentType string) (int64, error) {
	f, err := os.Open(localPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, apperrors.Engine(errors.New("render produced no output"), "render.publish")
		}
		return 0, err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return 0, err
	}

	out, err := sp.PutObject(ctx, ports.PutObjectInput{
		ObjectKey:   objectKey,
		ContentType: contentType,
		Reader:      f,
		Size:        st.Size(),
	})
	if err != nil {
		return 0, apperrors.Wrap(err, "render.publish", "failed to publish artifact")
	}
	return out.Size, nil
}

// producedPath is the file the engine reports having written, or requested
// when it reports none.
func producedPath(out renderer.RenderOutput, requested string) string {
	if out.OutputPath != "" {
		return out.OutputPath
	}
	return requested
}

// failureMessage is the text stored in an Error finality: the message of the
// innermost error, without the operation context wrapped around it.
func failureMessage(err error, timeout time.Duration) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Sprintf("render timed out after %s", timeout)
	}
	root := err
	for next := errors.Unwrap(root); next != nil; next = errors.Unwrap(root) {
		root = next
	}
	var appErr *apperrors.Error
	if errors.As(root, &appErr) && appErr.Message != "" {
		return appErr.Message
	}
	return root.Error()
}
