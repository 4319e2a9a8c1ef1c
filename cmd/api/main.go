package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/samuelrizzo/github-unwrapped/internal/claim"
	"github.com/samuelrizzo/github-unwrapped/internal/config"
	"github.com/samuelrizzo/github-unwrapped/internal/credentials"
	"github.com/samuelrizzo/github-unwrapped/internal/github"
	"github.com/samuelrizzo/github-unwrapped/internal/httpapi"
	"github.com/samuelrizzo/github-unwrapped/internal/httpapi/handlers"
	"github.com/samuelrizzo/github-unwrapped/internal/inflight"
	"github.com/samuelrizzo/github-unwrapped/internal/pkg/logger"
	"github.com/samuelrizzo/github-unwrapped/internal/pkg/reporting"
	"github.com/samuelrizzo/github-unwrapped/internal/pkg/shutdown"
	"github.com/samuelrizzo/github-unwrapped/internal/pkg/tasks"
	"github.com/samuelrizzo/github-unwrapped/internal/render"
	"github.com/samuelrizzo/github-unwrapped/internal/renderer"
	"github.com/samuelrizzo/github-unwrapped/internal/stats"
	"github.com/samuelrizzo/github-unwrapped/internal/storage"
	"github.com/samuelrizzo/github-unwrapped/internal/store/driver"
)

const version = "0.1.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New(logger.Config{}).LogFatal("invalid configuration", err)
	}

	log := logger.New(logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		ServiceName: "github-unwrapped",
		AddSource:   cfg.Log.Source,
	})

	log.Info("starting render service",
		"version", version,
		"env", cfg.AppEnv,
		"store", cfg.Store.Driver,
		"storage", cfg.Storage.Provider,
	)

	ctx := context.Background()

	shutdownMgr := shutdown.NewManager(log, cfg.ShutdownTimeout)

	reporter, err := reporting.New(reporting.Options{
		DSN:         cfg.SentryDSN,
		Environment: cfg.AppEnv,
		Release:     "github-unwrapped@" + version,
	})
	if err != nil {
		log.LogFatal("failed to initialize error reporting", err)
	}
	if reporting.Enabled(cfg.SentryDSN) {
		log.Info("error reporting enabled")
	}
	shutdownMgr.RegisterSimple("reporting", func() {
		reporter.Flush(5 * time.Second)
	})

	// Store
	log.Info("connecting to store", "driver", cfg.Store.Driver)
	st, err := driver.Open(ctx, cfg.Store)
	if err != nil {
		log.LogFatal("failed to open store", err)
	}
	shutdownMgr.Register("store", func(ctx context.Context) error {
		return st.Close()
	})
	log.Info("store ready")

	// Cross-process claim
	var (
		rdb     *redis.Client
		claimer claim.Claimer = claim.Nop{}
	)
	if cfg.Redis.Addr != "" {
		log.Info("connecting to Redis", "addr", cfg.Redis.Addr)
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		shutdownMgr.Register("redis", func(ctx context.Context) error {
			return rdb.Close()
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.LogFatal("failed to ping Redis", err)
		}
		claimer = claim.NewRedis(rdb, cfg.Redis.ClaimTTL)
		log.Info("Redis connected", "claim_ttl", cfg.Redis.ClaimTTL.String())
	} else {
		log.Warn("REDIS_ADDR not set, render dedup is per process only")
	}

	// Artifact storage
	sp, err := storage.NewProvider(ctx, cfg.Storage)
	if err != nil {
		log.LogFatal("failed to initialize storage provider", err)
	}
	log.Info("storage provider initialized", "provider", sp.Provider())

	// Render engine
	engine := renderer.NewHTTPEngine(cfg.Renderer.BaseURL, nil)
	bundle := renderer.NewBundleCache(engine)

	// GitHub
	selector, err := credentials.NewSelector(cfg.Credentials())
	if err != nil {
		log.LogFatal("no usable GitHub credentials", err)
	}
	log.Info("GitHub credentials loaded", "usable", selector.Len())
	gh := github.NewClient(cfg.GitHubAPIURL, selector)

	registry := inflight.New()
	bg := tasks.NewGroup(log)

	worker := render.NewWorker(render.WorkerDeps{
		Engine:       engine,
		Bundle:       bundle,
		Storage:      sp,
		Store:        st,
		Registry:     registry,
		Claimer:      claimer,
		Log:          log,
		Reporter:     reporter,
		WorkDir:      cfg.Renderer.WorkDir,
		Timeout:      cfg.Renderer.Timeout,
		CleanupLocal: cfg.Renderer.CleanupLocal,
	})
	derived := render.NewDerivedGenerator(render.DerivedDeps{
		Engine:       engine,
		Bundle:       bundle,
		Storage:      sp,
		Store:        st,
		Log:          log,
		WorkDir:      cfg.Renderer.WorkDir,
		Timeout:      cfg.Renderer.Timeout,
		CleanupLocal: cfg.Renderer.CleanupLocal,
	})
	orchestrator := render.New(render.Deps{
		Store:    st,
		Registry: registry,
		Claimer:  claimer,
		Profiles: stats.NewLoader(st, gh, log),
		Tasks:    bg,
		Worker:   worker,
		Derived:  derived,
		Log:      log,
	})

	// Renders still running at shutdown are awaited before the store closes.
	shutdownMgr.Register("render-tasks", bg.Wait)

	router := httpapi.NewRouter(httpapi.Deps{
		Handlers: handlers.New(handlers.Deps{
			Render:   orchestrator,
			Storage:  sp,
			Store:    st,
			Redis:    rdb,
			Engine:   engine,
			Registry: registry,
			Tasks:    bg,
			WorkDir:  cfg.Renderer.WorkDir,
			Host:     cfg.Host,
			ClientID: cfg.ClientID,
			Version:  version,
			Log:      log,
		}),
		Log:                log,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
	})

	server := &http.Server{
		Addr:         "0.0.0.0:" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	shutdownMgr.Register("http-server", func(ctx context.Context) error {
		log.Info("shutting down HTTP server")
		return server.Shutdown(ctx)
	})

	go func() {
		log.Info("HTTP server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.LogFatal("HTTP server failed", err)
		}
	}()

	shutdownMgr.Wait()
}
