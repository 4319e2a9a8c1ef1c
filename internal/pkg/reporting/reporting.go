// Package reporting forwards render failures and panics to Sentry when a DSN
// is configured.
package reporting

import (
	"context"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
)

// Reporter receives failures worth an alert.
type Reporter interface {
	CaptureError(ctx context.Context, err error, tags map[string]string)
	CapturePanic(ctx context.Context, rec any, tags map[string]string)
	Flush(timeout time.Duration) bool
}

// Nop drops every report.
type Nop struct{}

func (Nop) CaptureError(context.Context, error, map[string]string) {}
func (Nop) CapturePanic(context.Context, any, map[string]string)   {}
func (Nop) Flush(time.Duration) bool                               { return true }

type Options struct {
	DSN         string
	Environment string
	Release     string
	// Transport replaces the HTTP transport. Nil uses Sentry's default.
	Transport sentry.Transport
}

// Enabled reports whether dsn names a real project. Blank and placeholder
// DSNs disable reporting.
func Enabled(dsn string) bool {
	dsn = strings.TrimSpace(dsn)
	return dsn != "" && !strings.Contains(dsn, "dummy") && !strings.Contains(dsn, "x@x")
}

// New returns a Sentry reporter, or Nop when the DSN is disabled.
func New(opts Options) (Reporter, error) {
	if !Enabled(opts.DSN) {
		return Nop{}, nil
	}
	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn:         opts.DSN,
		Environment: opts.Environment,
		Release:     opts.Release,
		Transport:   opts.Transport,
	})
	if err != nil {
		return nil, err
	}
	return &Sentry{hub: sentry.NewHub(client, sentry.NewScope())}, nil
}

// Sentry reports through a dedicated hub, leaving the global hub untouched.
type Sentry struct {
	hub *sentry.Hub
}

func (s *Sentry) CaptureError(ctx context.Context, err error, tags map[string]string) {
	if err == nil {
		return
	}
	s.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTags(tags)
		s.hub.CaptureException(err)
	})
}

func (s *Sentry) CapturePanic(ctx context.Context, rec any, tags map[string]string) {
	s.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTags(tags)
		scope.SetLevel(sentry.LevelFatal)
		s.hub.RecoverWithContext(ctx, rec)
	})
}

func (s *Sentry) Flush(timeout time.Duration) bool {
	return s.hub.Flush(timeout)
}
