// Package render is the core of the service: it decides for each request
// whether a video is already available, already being rendered or has to be
// started, and runs the background render and derived-asset jobs.
package render

import (
	"context"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/samuelrizzo/github-unwrapped/internal/claim"
	"github.com/samuelrizzo/github-unwrapped/internal/domain"
	"github.com/samuelrizzo/github-unwrapped/internal/inflight"
	apperrors "github.com/samuelrizzo/github-unwrapped/internal/pkg/errors"
	"github.com/samuelrizzo/github-unwrapped/internal/pkg/logger"
	"github.com/samuelrizzo/github-unwrapped/internal/pkg/tasks"
	"github.com/samuelrizzo/github-unwrapped/internal/store"
)

// Client-facing messages for requests that cannot be started.
const (
	MsgUnavailable   = "render service unavailable"
	MsgCouldNotStart = "could not start render"
	MsgShuttingDown  = "service is shutting down"
)

// RenderRequest is the body of a render request.
type RenderRequest struct {
	SubjectIdentifier string `json:"subjectIdentifier" validate:"required,max=39,githublogin"`
	Variant           string `json:"variant" validate:"required,variant"`
}

// ProfileLoader returns the statistics a render is built from.
type ProfileLoader interface {
	Load(ctx context.Context, subject string) (*domain.Profile, error)
}

type Deps struct {
	Store    store.Store
	Registry *inflight.Registry
	Claimer  claim.Claimer
	Profiles ProfileLoader
	Tasks    *tasks.Group
	Worker   *Worker
	Derived  *DerivedGenerator
	Log      *logger.Logger
	Now      func() time.Time
}

// Orchestrator runs the render request state machine.
type Orchestrator struct {
	store    store.Store
	registry *inflight.Registry
	claimer  claim.Claimer
	profiles ProfileLoader
	tasks    *tasks.Group
	worker   *Worker
	derived  *DerivedGenerator
	log      *logger.Logger
	now      func() time.Time

	validate *validator.Validate
}

func New(d Deps) *Orchestrator {
	log := d.Log
	if log == nil {
		log = logger.Discard()
	}
	claimer := d.Claimer
	if claimer == nil {
		claimer = claim.Nop{}
	}
	now := d.Now
	if now == nil {
		now = time.Now
	}

	return &Orchestrator{
		store:    d.Store,
		registry: d.Registry,
		claimer:  claimer,
		profiles: d.Profiles,
		tasks:    d.Tasks,
		worker:   d.Worker,
		derived:  d.Derived,
		log:      log.WithComponent("orchestrator"),
		now:      now,
		validate: newValidator(),
	}
}

// RequestRender answers a render request. The returned error is non-nil
// only for malformed requests (CodeValidation); every other outcome is
// expressed as a RenderResponse.
func (o *Orchestrator) RequestRender(ctx context.Context, req RenderRequest) (domain.RenderResponse, error) {
	key, err := o.Parse(req)
	if err != nil {
		return domain.RenderResponse{}, err
	}

	ctx = logger.ContextWithJobKey(ctx, key.String())
	log := o.log.FromContext(ctx)

	resp, done, err := o.lookup(ctx, key)
	if err != nil {
		log.LogError(ctx, "job record lookup failed", err)
		return domain.RenderError(MsgUnavailable), nil
	}
	if done {
		return resp, nil
	}

	if !o.registry.TryAdd(key.String()) {
		return domain.RenderRunning(domain.ProgressRunning), nil
	}

	var (
		lease   claim.Lease
		started bool
	)
	defer func() {
		if started {
			return
		}
		o.registry.Remove(key.String())
		if err := o.claimer.Release(context.WithoutCancel(ctx), lease); err != nil {
			log.Warn("failed to release claim", "error", err.Error())
		}
	}()

	// A worker may have finished between the first lookup and TryAdd.
	resp, done, err = o.lookup(ctx, key)
	if err != nil {
		log.LogError(ctx, "job record lookup failed", err)
		return domain.RenderError(MsgUnavailable), nil
	}
	if done {
		return resp, nil
	}

	l, ok, err := o.claimer.Acquire(ctx, key.String())
	switch {
	case err != nil:
		log.Warn("claim unavailable, relying on in-process dedup", "error", err.Error())
	case !ok:
		log.Debug("job claimed by another instance")
		return domain.RenderRunning(domain.ProgressRunning), nil
	default:
		lease = l
	}

	profile, err := o.profiles.Load(ctx, key.Subject)
	if err != nil {
		return o.profileError(ctx, err), nil
	}

	rec := domain.NewJobRecord(key, o.now())
	if err := o.store.InsertJobRecord(ctx, rec); err != nil {
		log.LogError(ctx, "failed to create job record", err)
		return domain.RenderError(MsgCouldNotStart), nil
	}

	bg := context.WithoutCancel(ctx)
	job := Job{Record: rec, Props: profile.VideoProps(key.Variant), Lease: lease}
	if err := o.tasks.Go("render "+key.String(), func() { o.worker.Run(bg, job) }); err != nil {
		log.Warn("render not started", "error", err.Error())
		return domain.RenderError(MsgShuttingDown), nil
	}
	started = true

	log.Info("render accepted", "record_id", rec.ID.String())

	if o.derived != nil {
		p := *profile
		if err := o.tasks.Go("derived "+key.Subject, func() { o.derived.Generate(bg, p) }); err != nil {
			log.Debug("derived assets skipped", "error", err.Error())
		}
	}

	return domain.RenderRunning(0), nil
}

// Parse validates req and builds its normalized key.
func (o *Orchestrator) Parse(req RenderRequest) (domain.JobKey, error) {
	req.SubjectIdentifier = strings.TrimSpace(req.SubjectIdentifier)
	req.Variant = strings.TrimSpace(req.Variant)

	if err := o.validate.Struct(req); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			fe := verrs[0]
			return domain.JobKey{}, apperrors.ValidationField(fe.Field(),
				fmt.Sprintf("%s failed on '%s' validation", fe.Field(), fe.Tag()))
		}
		return domain.JobKey{}, apperrors.WrapWithCode(err, apperrors.CodeValidation, "render.parse", "invalid request")
	}

	return domain.NewJobKey(req.SubjectIdentifier, domain.Variant(req.Variant)), nil
}

// lookup reports the response for a terminal record of key, if any.
func (o *Orchestrator) lookup(ctx context.Context, key domain.JobKey) (domain.RenderResponse, bool, error) {
	rec, err := o.store.FindJobRecord(ctx, key)
	if err != nil {
		return domain.RenderResponse{}, false, apperrors.Store(err, "render.lookup")
	}
	if rec == nil || !rec.Terminal() {
		return domain.RenderResponse{}, false, nil
	}
	return domain.FromFinality(rec.Finality), true, nil
}

func (o *Orchestrator) profileError(ctx context.Context, err error) domain.RenderResponse {
	var appErr *apperrors.Error
	switch apperrors.GetCode(err) {
	case apperrors.CodeNotFound, apperrors.CodeFailedPrecond:
		if apperrors.As(err, &appErr) {
			return domain.RenderError(appErr.Message)
		}
	}
	o.log.LogError(ctx, "profile lookup failed", err)
	return domain.RenderError(MsgUnavailable)
}

var githubLogin = regexp.MustCompile(`^[A-Za-z0-9](?:[A-Za-z0-9-]{0,37}[A-Za-z0-9])?$`)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	_ = v.RegisterValidation("githublogin", func(fl validator.FieldLevel) bool {
		return githubLogin.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("variant", func(fl validator.FieldLevel) bool {
		return domain.Variant(fl.Field().String()).Valid()
	})
	return v
}
