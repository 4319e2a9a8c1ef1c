package render

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/samuelrizzo/github-unwrapped/internal/domain"
	apperrors "github.com/samuelrizzo/github-unwrapped/internal/pkg/errors"
	"github.com/samuelrizzo/github-unwrapped/internal/pkg/logger"
	"github.com/samuelrizzo/github-unwrapped/internal/ports"
	"github.com/samuelrizzo/github-unwrapped/internal/renderer"
	"github.com/samuelrizzo/github-unwrapped/internal/store"
)

type DerivedDeps struct {
	Engine  renderer.Engine
	Bundle  *renderer.BundleCache
	Storage ports.StorageProvider
	Store   store.Store
	Log     *logger.Logger
	Now     func() time.Time

	WorkDir      string
	Timeout      time.Duration
	CleanupLocal bool
}

// DerivedGenerator produces the share and story images of a subject. Each
// (subject, kind) pair is rendered at most once; later calls reuse the
// stored asset.
type DerivedGenerator struct {
	engine  renderer.Engine
	bundle  *renderer.BundleCache
	storage ports.StorageProvider
	store   store.Store
	log     *logger.Logger
	now     func() time.Time

	workDir      string
	timeout      time.Duration
	cleanupLocal bool

	flight singleflight.Group
}

func NewDerivedGenerator(d DerivedDeps) *DerivedGenerator {
	log := d.Log
	if log == nil {
		log = logger.Discard()
	}
	bundle := d.Bundle
	if bundle == nil {
		bundle = renderer.NewBundleCache(d.Engine)
	}
	now := d.Now
	if now == nil {
		now = time.Now
	}
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &DerivedGenerator{
		engine:       d.Engine,
		bundle:       bundle,
		storage:      d.Storage,
		store:        d.Store,
		log:          log.WithComponent("derived-assets"),
		now:          now,
		workDir:      d.WorkDir,
		timeout:      timeout,
		cleanupLocal: d.CleanupLocal,
	}
}

// Generate makes sure every derived asset of profile's subject exists and
// returns the URLs it could resolve. Failures are logged and left out of
// the result.
func (g *DerivedGenerator) Generate(ctx context.Context, profile domain.Profile) map[domain.AssetKind]string {
	subject := domain.NormalizeSubject(profile.Login)
	props := profile.StillProps()
	log := g.log.FromContext(ctx).With("subject", subject)

	var (
		mu   sync.Mutex
		urls = make(map[domain.AssetKind]string, len(domain.AssetKinds))
		eg   errgroup.Group
	)

	for _, kind := range domain.AssetKinds {
		kind := kind
		eg.Go(func() error {
			url, err := g.ensure(ctx, subject, kind, props)
			if err != nil {
				log.Warn("derived asset failed", "kind", string(kind), "error", err.Error())
				return nil
			}
			mu.Lock()
			urls[kind] = url
			mu.Unlock()
			return nil
		})
	}
	_ = eg.Wait()

	return urls
}

func (g *DerivedGenerator) ensure(ctx context.Context, subject string, kind domain.AssetKind, props domain.StillProps) (string, error) {
	v, err, _ := g.flight.Do(subject+":"+string(kind), func() (any, error) {
		existing, err := g.store.FindDerivedAsset(ctx, subject, kind)
		if err != nil {
			return "", err
		}
		if existing != nil {
			return existing.URL, nil
		}
		return g.produce(ctx, subject, kind, props)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (g *DerivedGenerator) produce(ctx context.Context, subject string, kind domain.AssetKind, props domain.StillProps) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	serveURL, err := g.bundle.Get(ctx)
	if err != nil {
		return "", apperrors.Engine(fmt.Errorf("bundle: %w", err), "render.derived.bundle")
	}

	comp, err := g.engine.SelectComposition(ctx, serveURL, kind.Composition(), props)
	if err != nil {
		return "", apperrors.Engine(fmt.Errorf("select composition %s: %w", kind.Composition(), err), "render.derived.select")
	}

	objectKey := kind.ObjectKey(subject)
	outPath := filepath.Join(g.workDir, filepath.FromSlash(objectKey))
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return "", fmt.Errorf("create work dir: %w", err)
	}

	out, err := g.engine.RenderToFile(ctx, renderer.RenderToFileInput{
		Composition: comp,
		ServeURL:    serveURL,
		OutputPath:  outPath,
		Props:       props,
		Format:      renderer.FormatJPEG,
	})
	if err != nil {
		return "", apperrors.Engine(fmt.Errorf("render still: %w", err), "render.derived.render")
	}

	produced := producedPath(out, outPath)
	if _, err := publish(ctx, g.storage, produced, objectKey, "image/jpeg"); err != nil {
		return "", err
	}
	if g.cleanupLocal {
		_ = os.Remove(produced)
	}

	asset := domain.DerivedAsset{
		Subject:   subject,
		Kind:      kind,
		URL:       OutputPrefix + objectKey,
		CreatedAt: g.now().UTC(),
	}
	if err := g.store.InsertDerivedAsset(ctx, asset); err != nil {
		return "", apperrors.Store(err, "render.derived.insert")
	}

	g.log.FromContext(ctx).Info("derived asset created", "subject", subject, "kind", string(kind), "url", asset.URL)
	return asset.URL, nil
}
