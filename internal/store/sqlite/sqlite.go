// Package sqlite implements store.Store on a local SQLite file, for single
// instance deployments and development.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"

	"github.com/samuelrizzo/github-unwrapped/internal/domain"
	apperrors "github.com/samuelrizzo/github-unwrapped/internal/pkg/errors"
	"github.com/samuelrizzo/github-unwrapped/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS renders (
	id            TEXT PRIMARY KEY,
	subject       TEXT NOT NULL,
	variant       TEXT NOT NULL,
	created_at    INTEGER NOT NULL,
	finality_type TEXT CHECK (finality_type IN ('success', 'error')),
	url           TEXT,
	output_size   INTEGER,
	reported_cost REAL,
	error_message TEXT,
	finalized_at  INTEGER
);

CREATE INDEX IF NOT EXISTS idx_renders_subject_variant ON renders(subject, variant, created_at);

CREATE TABLE IF NOT EXISTS derived_assets (
	subject    TEXT NOT NULL,
	kind       TEXT NOT NULL,
	url        TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	PRIMARY KEY (subject, kind)
);

CREATE TABLE IF NOT EXISTS profiles (
	login      TEXT PRIMARY KEY,
	stats      TEXT NOT NULL,
	fetched_at INTEGER NOT NULL
);
`

// Store is the SQLite store.
type Store struct {
	db *sqlx.DB
}

var _ store.Store = (*Store)(nil)

type jobRow struct {
	ID        string `db:"id"`
	Subject   string `db:"subject"`
	Variant   string `db:"variant"`
	CreatedAt int64  `db:"created_at"`
	store.FinalityColumns
}

type assetRow struct {
	Subject   string `db:"subject"`
	Kind      string `db:"kind"`
	URL       string `db:"url"`
	CreatedAt int64  `db:"created_at"`
}

// Open opens (creating if needed) the database at path.
func Open(path string) (*Store, error) {
	db, err := sqlx.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, apperrors.Store(err, "sqlite.open")
	}
	// One writer at a time; SQLite serializes writes anyway.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, apperrors.Store(err, "sqlite.ping")
	}
	return &Store{db: db}, nil
}

func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return apperrors.Store(err, "sqlite.migrate")
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) FindJobRecord(ctx context.Context, key domain.JobKey) (*domain.JobRecord, error) {
	var row jobRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, subject, variant, created_at,
		       finality_type, url, output_size, reported_cost, error_message
		FROM renders
		WHERE subject = ? AND variant = ? AND finality_type IS NOT NULL
		ORDER BY created_at DESC
		LIMIT 1`, key.Subject, string(key.Variant))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, apperrors.Store(err, "sqlite.find_job_record")
	}

	rec, err := row.record()
	if err != nil {
		return nil, apperrors.Store(err, "sqlite.find_job_record")
	}
	return &rec, nil
}

func (r jobRow) record() (domain.JobRecord, error) {
	id, err := uuid.Parse(r.ID)
	if err != nil {
		return domain.JobRecord{}, err
	}
	f, err := r.FinalityColumns.Finality()
	if err != nil {
		return domain.JobRecord{}, err
	}
	return domain.JobRecord{
		ID:        id,
		Subject:   r.Subject,
		Variant:   domain.Variant(r.Variant),
		CreatedAt: time.Unix(0, r.CreatedAt).UTC(),
		Finality:  f,
	}, nil
}

func (s *Store) InsertJobRecord(ctx context.Context, rec domain.JobRecord) error {
	if rec.ID == uuid.Nil {
		return apperrors.Validation("job record id is required")
	}
	row := jobRow{
		ID:              rec.ID.String(),
		Subject:         rec.Subject,
		Variant:         string(rec.Variant),
		CreatedAt:       rec.CreatedAt.UnixNano(),
		FinalityColumns: store.Flatten(rec.Finality),
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO renders (id, subject, variant, created_at,
		                     finality_type, url, output_size, reported_cost, error_message)
		VALUES (:id, :subject, :variant, :created_at,
		        :finality_type, :url, :output_size, :reported_cost, :error_message)`, row)
	if err != nil {
		if isConstraintViolation(err) {
			return store.ErrDuplicate
		}
		return apperrors.Store(err, "sqlite.insert_job_record")
	}
	return nil
}

func (s *Store) UpdateJobRecord(ctx context.Context, rec domain.JobRecord) error {
	if rec.Finality == nil {
		return apperrors.Validation("finality is required to update a job record")
	}
	cols := store.Flatten(rec.Finality)
	res, err := s.db.ExecContext(ctx, `
		UPDATE renders
		SET finality_type = ?, url = ?, output_size = ?, reported_cost = ?,
		    error_message = ?, finalized_at = ?
		WHERE id = ? AND finality_type IS NULL`,
		cols.Type, cols.URL, cols.OutputSize, cols.ReportedCost, cols.Message,
		time.Now().UnixNano(), rec.ID.String())
	if err != nil {
		return apperrors.Store(err, "sqlite.update_job_record")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperrors.Store(err, "sqlite.update_job_record")
	}
	if n == 0 {
		return store.ErrNotPending
	}
	return nil
}

func (s *Store) FindDerivedAsset(ctx context.Context, subject string, kind domain.AssetKind) (*domain.DerivedAsset, error) {
	var row assetRow
	err := s.db.GetContext(ctx, &row, `
		SELECT subject, kind, url, created_at
		FROM derived_assets
		WHERE subject = ? AND kind = ?`, subject, string(kind))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, apperrors.Store(err, "sqlite.find_derived_asset")
	}
	return &domain.DerivedAsset{
		Subject:   row.Subject,
		Kind:      domain.AssetKind(row.Kind),
		URL:       row.URL,
		CreatedAt: time.Unix(0, row.CreatedAt).UTC(),
	}, nil
}

func (s *Store) InsertDerivedAsset(ctx context.Context, a domain.DerivedAsset) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO derived_assets (subject, kind, url, created_at)
		VALUES (:subject, :kind, :url, :created_at)
		ON CONFLICT (subject, kind) DO NOTHING`, assetRow{
		Subject:   a.Subject,
		Kind:      string(a.Kind),
		URL:       a.URL,
		CreatedAt: a.CreatedAt.UnixNano(),
	})
	if err != nil {
		return apperrors.Store(err, "sqlite.insert_derived_asset")
	}
	return nil
}

func (s *Store) FindProfile(ctx context.Context, login string) (*domain.Profile, error) {
	var raw string
	err := s.db.GetContext(ctx, &raw, `SELECT stats FROM profiles WHERE login = ?`, login)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, apperrors.Store(err, "sqlite.find_profile")
	}

	var p domain.Profile
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, apperrors.Store(err, "sqlite.find_profile")
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
		return apperrors.Wrap(err, "sqlite.save_profile", "encode profile")
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO profiles (login, stats, fetched_at)
		VALUES (?, ?, ?)
		ON CONFLICT (login) DO UPDATE SET stats = excluded.stats, fetched_at = excluded.fetched_at`,
		p.Login, string(raw), p.FetchedAt.UnixNano())
	if err != nil {
		return apperrors.Store(err, "sqlite.save_profile")
	}
	return nil
}

func isConstraintViolation(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
			se.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}
