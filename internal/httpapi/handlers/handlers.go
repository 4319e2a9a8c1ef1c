// Package handlers implements the HTTP endpoints of the render service.
package handlers

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/samuelrizzo/github-unwrapped/internal/domain"
	"github.com/samuelrizzo/github-unwrapped/internal/inflight"
	"github.com/samuelrizzo/github-unwrapped/internal/pkg/logger"
	"github.com/samuelrizzo/github-unwrapped/internal/pkg/tasks"
	"github.com/samuelrizzo/github-unwrapped/internal/ports"
	"github.com/samuelrizzo/github-unwrapped/internal/render"
)

// RenderService answers render requests.
type RenderService interface {
	RequestRender(ctx context.Context, req render.RenderRequest) (domain.RenderResponse, error)
}

// Pinger is a dependency the deep health check can probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	Render  RenderService
	Storage ports.StorageProvider
	Store   Pinger
	// Redis and Engine are optional.
	Redis    *redis.Client
	Engine   Pinger
	Registry *inflight.Registry
	Tasks    *tasks.Group

	// WorkDir is reported with its disk usage by the deep health check.
	WorkDir  string
	Host     string
	ClientID string
	Version  string
	Log      *logger.Logger
}

type Handler struct {
	render   RenderService
	sp       ports.StorageProvider
	store    Pinger
	rdb      *redis.Client
	engine   Pinger
	registry *inflight.Registry
	tasks    *tasks.Group

	workDir  string
	host     string
	clientID string
	version  string
	log      *logger.Logger
}

func New(d Deps) *Handler {
	log := d.Log
	if log == nil {
		log = logger.Discard()
	}
	version := d.Version
	if version == "" {
		version = "dev"
	}
	return &Handler{
		render:   d.Render,
		sp:       d.Storage,
		store:    d.Store,
		rdb:      d.Redis,
		engine:   d.Engine,
		registry: d.Registry,
		tasks:    d.Tasks,
		workDir:  d.WorkDir,
		host:     d.Host,
		clientID: d.ClientID,
		version:  version,
		log:      log.WithComponent("http"),
	}
}

// Log returns the handler's logger, used by the router's error wrapper.
func (h *Handler) Log() *logger.Logger { return h.log }
