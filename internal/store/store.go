// Package store defines the persistence contract of the render service. The
// postgres and sqlite subpackages implement it.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/samuelrizzo/github-unwrapped/internal/domain"
)

var (
	// ErrNotPending is returned by UpdateJobRecord when the record is
	// missing or already carries a finality.
	ErrNotPending = errors.New("store: job record is not pending")
	// ErrDuplicate is returned when an insert collides with an existing id.
	ErrDuplicate = errors.New("store: duplicate record")
)

// Store persists job records, derived assets and cached profiles. All keyed
// lookups are exact matches on normalized values.
type Store interface {
	// FindJobRecord returns the newest terminal record for key, or nil when
	// no render for key has finished. Pending records are ignored.
	FindJobRecord(ctx context.Context, key domain.JobKey) (*domain.JobRecord, error)
	// InsertJobRecord persists a new record.
	InsertJobRecord(ctx context.Context, rec domain.JobRecord) error
	// UpdateJobRecord sets the finality of a pending record. It fails with
	// ErrNotPending if the record is already terminal.
	UpdateJobRecord(ctx context.Context, rec domain.JobRecord) error

	// FindDerivedAsset returns the asset for subject and kind, or nil.
	FindDerivedAsset(ctx context.Context, subject string, kind domain.AssetKind) (*domain.DerivedAsset, error)
	// InsertDerivedAsset persists asset. If one already exists for the same
	// subject and kind the call is a no-op.
	InsertDerivedAsset(ctx context.Context, asset domain.DerivedAsset) error

	// FindProfile returns the cached statistics for login, or nil.
	FindProfile(ctx context.Context, login string) (*domain.Profile, error)
	// SaveProfile creates or replaces the cached statistics for p.Login.
	SaveProfile(ctx context.Context, p domain.Profile) error

	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// FinalityColumns is the flattened, nullable form of a finality.
type FinalityColumns struct {
	Type         *string  `db:"finality_type"`
	URL          *string  `db:"url"`
	OutputSize   *int64   `db:"output_size"`
	ReportedCost *float64 `db:"reported_cost"`
	Message      *string  `db:"error_message"`
}

// Flatten converts f to columns. A nil finality yields all NULLs.
func Flatten(f *domain.Finality) FinalityColumns {
	if f == nil {
		return FinalityColumns{}
	}
	typ := string(f.Type)
	cols := FinalityColumns{Type: &typ}
	switch f.Type {
	case domain.FinalitySuccess:
		url, size, cost := f.URL, f.OutputSize, f.ReportedCost
		cols.URL, cols.OutputSize, cols.ReportedCost = &url, &size, &cost
	case domain.FinalityError:
		msg := f.Message
		cols.Message = &msg
	}
	return cols
}

// Finality rebuilds the finality the columns describe.
func (c FinalityColumns) Finality() (*domain.Finality, error) {
	if c.Type == nil {
		return nil, nil
	}
	switch domain.FinalityType(*c.Type) {
	case domain.FinalitySuccess:
		f := &domain.Finality{Type: domain.FinalitySuccess}
		if c.URL != nil {
			f.URL = *c.URL
		}
		if c.OutputSize != nil {
			f.OutputSize = *c.OutputSize
		}
		if c.ReportedCost != nil {
			f.ReportedCost = *c.ReportedCost
		}
		return f, nil
	case domain.FinalityError:
		f := &domain.Finality{Type: domain.FinalityError}
		if c.Message != nil {
			f.Message = *c.Message
		}
		return f, nil
	default:
		return nil, fmt.Errorf("store: unknown finality type %q", *c.Type)
	}
}
