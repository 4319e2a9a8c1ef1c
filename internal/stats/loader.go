// Package stats resolves the profile statistics a render is built from.
package stats

import (
	"context"

	"github.com/samuelrizzo/github-unwrapped/internal/domain"
	"github.com/samuelrizzo/github-unwrapped/internal/github"
	apperrors "github.com/samuelrizzo/github-unwrapped/internal/pkg/errors"
	"github.com/samuelrizzo/github-unwrapped/internal/pkg/logger"
)

// Messages shown to clients when no profile can be rendered.
const (
	MsgUserNotFound   = "User not found"
	MsgUserNotFetched = "User not fetched"
)

// ProfileStore reads cached profiles.
type ProfileStore interface {
	FindProfile(ctx context.Context, login string) (*domain.Profile, error)
}

// UserLookup checks whether a GitHub account exists.
type UserLookup interface {
	GetUser(ctx context.Context, login string) (*github.User, error)
}

// Loader returns cached statistics and classifies misses.
type Loader struct {
	profiles ProfileStore
	users    UserLookup
	log      *logger.Logger
}

// NewLoader creates a Loader. users may be nil, in which case every miss is
// reported as not fetched.
func NewLoader(profiles ProfileStore, users UserLookup, log *logger.Logger) *Loader {
	if log == nil {
		log = logger.Discard()
	}
	return &Loader{profiles: profiles, users: users, log: log.WithComponent("stats")}
}

// Load returns the profile for subject. A subject unknown to GitHub yields a
// NotFound error, a known subject without cached statistics a
// FailedPrecondition error; both carry the client-facing message.
func (l *Loader) Load(ctx context.Context, subject string) (*domain.Profile, error) {
	p, err := l.profiles.FindProfile(ctx, subject)
	if err != nil {
		return nil, err
	}
	if p != nil {
		return p, nil
	}

	if l.users != nil {
		_, err := l.users.GetUser(ctx, subject)
		if apperrors.IsNotFound(err) {
			return nil, apperrors.New(apperrors.CodeNotFound, MsgUserNotFound).WithField("subject", subject)
		}
		if err != nil {
			l.log.FromContext(ctx).Warn("github user lookup failed", "subject", subject, "error", err.Error())
		}
	}

	return nil, apperrors.New(apperrors.CodeFailedPrecond, MsgUserNotFetched).WithField("subject", subject)
}
