// Package postgres implements store.Store on PostgreSQL through pgxpool.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/samuelrizzo/github-unwrapped/internal/domain"
	apperrors "github.com/samuelrizzo/github-unwrapped/internal/pkg/errors"
	"github.com/samuelrizzo/github-unwrapped/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS renders (
	id            UUID PRIMARY KEY,
	subject       TEXT NOT NULL,
	variant       TEXT NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	finality_type TEXT CHECK (finality_type IN ('success', 'error')),
	url           TEXT,
	output_size   BIGINT,
	reported_cost DOUBLE PRECISION,
	error_message TEXT,
	finalized_at  TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS renders_subject_variant_idx
	ON renders (subject, variant, created_at DESC);

CREATE TABLE IF NOT EXISTS derived_assets (
	subject    TEXT NOT NULL,
	kind       TEXT NOT NULL,
	url        TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (subject, kind)
);

CREATE TABLE IF NOT EXISTS profiles (
	login      TEXT PRIMARY KEY,
	stats      JSONB NOT NULL,
	fetched_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// Store is the PostgreSQL store.
type Store struct {
	db *pgxpool.Pool
}

var _ store.Store = (*Store)(nil)

// New wraps an existing pool.
func New(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// Connect opens a pool for url and pings it.
func Connect(ctx context.Context, url string) (*Store, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, apperrors.Store(err, "postgres.connect")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, apperrors.Store(err, "postgres.ping")
	}
	return New(pool), nil
}

// Migrate creates tables and indexes when missing.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return apperrors.Store(err, "postgres.migrate")
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func (s *Store) Close() error {
	s.db.Close()
	return nil
}

func (s *Store) FindJobRecord(ctx context.Context, key domain.JobKey) (*domain.JobRecord, error) {
	var (
		rec     domain.JobRecord
		variant string
		cols    store.FinalityColumns
	)
	err := s.db.QueryRow(ctx, `
		SELECT id, subject, variant, created_at,
		       finality_type, url, output_size, reported_cost, error_message
		FROM renders
		WHERE subject = $1 AND variant = $2 AND finality_type IS NOT NULL
		ORDER BY created_at DESC
		LIMIT 1
	`, key.Subject, string(key.Variant)).Scan(
		&rec.ID, &rec.Subject, &variant, &rec.CreatedAt,
		&cols.Type, &cols.URL, &cols.OutputSize, &cols.ReportedCost, &cols.Message,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		if isUndefinedTable(err) {
			return nil, apperrors.WrapWithCode(err, apperrors.CodeStore, "postgres.find_job_record", "renders table missing, run migrations")
		}
		return nil, apperrors.Store(err, "postgres.find_job_record")
	}

	rec.Variant = domain.Variant(variant)
	if rec.Finality, err = cols.Finality(); err != nil {
		return nil, apperrors.Store(err, "postgres.find_job_record")
	}
	return &rec, nil
}

func (s *Store) InsertJobRecord(ctx context.Context, rec domain.JobRecord) error {
	cols := store.Flatten(rec.Finality)
	_, err := s.db.Exec(ctx, `
		INSERT INTO renders (id, subject, variant, created_at,
		                     finality_type, url, output_size, reported_cost, error_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, uuidOrNil(rec.ID), rec.Subject, string(rec.Variant), rec.CreatedAt,
		cols.Type, cols.URL, cols.OutputSize, cols.ReportedCost, cols.Message)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicate
		}
		return apperrors.Store(err, "postgres.insert_job_record")
	}
	return nil
}

func (s *Store) UpdateJobRecord(ctx context.Context, rec domain.JobRecord) error {
	if rec.Finality == nil {
		return apperrors.Validation("finality is required to update a job record")
	}
	cols := store.Flatten(rec.Finality)
	cmd, err := s.db.Exec(ctx, `
		UPDATE renders
		SET finality_type = $2, url = $3, output_size = $4, reported_cost = $5,
		    error_message = $6, finalized_at = now()
		WHERE id = $1 AND finality_type IS NULL
	`, rec.ID, cols.Type, cols.URL, cols.OutputSize, cols.ReportedCost, cols.Message)
	if err != nil {
		return apperrors.Store(err, "postgres.update_job_record")
	}
	if cmd.RowsAffected() == 0 {
		return store.ErrNotPending
	}
	return nil
}

func (s *Store) FindDerivedAsset(ctx context.Context, subject string, kind domain.AssetKind) (*domain.DerivedAsset, error) {
	a := domain.DerivedAsset{Kind: kind}
	err := s.db.QueryRow(ctx, `
		SELECT subject, url, created_at
		FROM derived_assets
		WHERE subject = $1 AND kind = $2
	`, subject, string(kind)).Scan(&a.Subject, &a.URL, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, apperrors.Store(err, "postgres.find_derived_asset")
	}
	return &a, nil
}

func (s *Store) InsertDerivedAsset(ctx context.Context, a domain.DerivedAsset) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO derived_assets (subject, kind, url, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (subject, kind) DO NOTHING
	`, a.Subject, string(a.Kind), a.URL, a.CreatedAt)
	if err != nil {
		return apperrors.Store(err, "postgres.insert_derived_asset")
	}
	return nil
}

func (s *Store) FindProfile(ctx context.Context, login string) (*domain.Profile, error) {
	var raw []byte
	err := s.db.QueryRow(ctx, `SELECT stats FROM profiles WHERE login = $1`, login).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, apperrors.Store(err, "postgres.find_profile")
	}

	var p domain.Profile
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, apperrors.Store(err, "postgres.find_profile")
	}
	return &p, nil
}

func (s *Store) SaveProfile(ctx context.Context, p domain.Profile) error {
	p.Login = domain.NormalizeSubject(p.Login)
	if p.FetchedAt.IsZero() {
		p.FetchedAt = time.Now().UTC()
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return apperrors.Wrap(err, "postgres.save_profile", "encode profile")
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO profiles (login, stats, fetched_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (login) DO UPDATE SET stats = EXCLUDED.stats, fetched_at = EXCLUDED.fetched_at
	`, p.Login, raw, p.FetchedAt)
	if err != nil {
		return apperrors.Store(err, "postgres.save_profile")
	}
	return nil
}

// uuidOrNil turns the zero id into NULL so the primary key rejects it.
func uuidOrNil(id uuid.UUID) any {
	if id == uuid.Nil {
		return nil
	}
	return id
}
