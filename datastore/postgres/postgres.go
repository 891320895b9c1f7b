// Package postgres implements the release store on PostgreSQL.
//
// The sqlite store is the usual deployment; this implementation exists for
// installations that already run a database server.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/remind101/migrate"

	"github.com/zigtools/releaseworker"
	"github.com/zigtools/releaseworker/datastore"
	"github.com/zigtools/releaseworker/datastore/postgres/migrations"
)

// MigrationTable records which migrations have run.
const MigrationTable = "releaseworker_migrations"

// Store is a [datastore.ReleaseStore] backed by PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

var _ datastore.ReleaseStore = (*Store)(nil)

// Open connects to the database described by dsn and runs pending
// migrations.
//
// The returned Store must have its Close method called.
func Open(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parsing dsn: %w", err)
	}
	db := stdlib.OpenDB(*cfg.ConnConfig)
	migrator := migrate.NewPostgresMigrator(db)
	migrator.Table = MigrationTable
	if err := migrator.Exec(migrate.Up, migrations.Migrations...); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: migrations failed: %w", err)
	}
	if err := db.Close(); err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: creating pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool}, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) selectRecords(ctx context.Context, query string, args ...interface{}) ([]*releaseworker.ReleaseRecord, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query: %w", err)
	}
	defer rows.Close()
	var recs []*releaseworker.ReleaseRecord
	for rows.Next() {
		var blob []byte
		if err := rows.Scan(&blob); err != nil {
			return nil, fmt.Errorf("postgres: scan error: %w", err)
		}
		rec := new(releaseworker.ReleaseRecord)
		if err := json.Unmarshal(blob, rec); err != nil {
			return nil, fmt.Errorf("postgres: decoding record: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: sql error: %w", err)
	}
	return recs, nil
}

// AllTaggedDesc implements [datastore.ReleaseStore].
func (s *Store) AllTaggedDesc(ctx context.Context) ([]*releaseworker.ReleaseRecord, error) {
	const query = `
SELECT json_data FROM zls_releases
WHERE is_release
ORDER BY major DESC, minor DESC, patch DESC;`
	return s.selectRecords(ctx, query)
}

// AllTaggedAsc implements [datastore.ReleaseStore].
func (s *Store) AllTaggedAsc(ctx context.Context) ([]*releaseworker.ReleaseRecord, error) {
	const query = `
SELECT json_data FROM zls_releases
WHERE is_release
ORDER BY major ASC, minor ASC, patch ASC;`
	return s.selectRecords(ctx, query)
}

// TaggedByMinor implements [datastore.ReleaseStore].
func (s *Store) TaggedByMinor(ctx context.Context, major, minor uint32) ([]*releaseworker.ReleaseRecord, error) {
	const query = `
SELECT json_data FROM zls_releases
WHERE is_release AND major = $1 AND minor = $2
ORDER BY patch DESC;`
	return s.selectRecords(ctx, query, major, minor)
}

// DevByMinor implements [datastore.ReleaseStore].
func (s *Store) DevByMinor(ctx context.Context, major, minor uint32) ([]*releaseworker.ReleaseRecord, error) {
	const query = `
SELECT json_data FROM zls_releases
WHERE NOT is_release AND major = $1 AND minor = $2
ORDER BY build_id ASC;`
	return s.selectRecords(ctx, query, major, minor)
}

// DevByQuad implements [datastore.ReleaseStore].
func (s *Store) DevByQuad(ctx context.Context, major, minor, patch, height uint32) (*releaseworker.ReleaseRecord, error) {
	const query = `
SELECT json_data FROM zls_releases
WHERE NOT is_release AND major = $1 AND minor = $2 AND patch = $3 AND build_id = $4
LIMIT 1;`
	recs, err := s.selectRecords(ctx, query, major, minor, patch, height)
	if err != nil || len(recs) == 0 {
		return nil, err
	}
	return recs[0], nil
}

// GetByVersion implements [datastore.ReleaseStore].
func (s *Store) GetByVersion(ctx context.Context, version string) (*releaseworker.ReleaseRecord, error) {
	const query = `SELECT json_data FROM zls_releases WHERE zls_version = $1;`
	recs, err := s.selectRecords(ctx, query, version)
	if err != nil || len(recs) == 0 {
		return nil, err
	}
	return recs[0], nil
}

// UpsertRecord implements [datastore.ReleaseStore].
func (s *Store) UpsertRecord(ctx context.Context, rec *releaseworker.ReleaseRecord) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return upsertTx(ctx, tx, rec)
	})
}

// PatchTestedZigVersions implements [datastore.ReleaseStore].
func (s *Store) PatchTestedZigVersions(ctx context.Context, zlsVersion string, tested map[string]releaseworker.Compatibility) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return patchTx(ctx, tx, zlsVersion, tested)
	})
}

// Batch implements [datastore.ReleaseStore].
func (s *Store) Batch(ctx context.Context, rec *releaseworker.ReleaseRecord, tested map[string]releaseworker.Compatibility) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if err := upsertTx(ctx, tx, rec); err != nil {
			return err
		}
		return patchTx(ctx, tx, rec.ZLSVersion.String(), tested)
	})
}

func upsertTx(ctx context.Context, tx pgx.Tx, rec *releaseworker.ReleaseRecord) error {
	blob, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("postgres: encoding record: %w", err)
	}
	v := rec.ZLSVersion
	var buildID sql.NullInt64
	if v.IsDev {
		buildID = sql.NullInt64{Int64: int64(v.CommitHeight), Valid: true}
	}
	const insert = `
INSERT INTO zls_releases (zls_version, major, minor, patch, is_release, build_id, json_data)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (zls_version) DO NOTHING;`
	if _, err := tx.Exec(ctx, insert, v.String(), v.Major, v.Minor, v.Patch, v.IsTagged(), buildID, blob); err != nil {
		return fmt.Errorf("postgres: upsert: %w", err)
	}
	return nil
}

func patchTx(ctx context.Context, tx pgx.Tx, zlsVersion string, tested map[string]releaseworker.Compatibility) error {
	patch, err := json.Marshal(tested)
	if err != nil {
		return fmt.Errorf("postgres: encoding patch: %w", err)
	}
	const update = `
UPDATE zls_releases
SET json_data = jsonb_set(json_data, '{testedZigVersions}',
	COALESCE(json_data->'testedZigVersions', '{}'::jsonb) || $2::jsonb)
WHERE zls_version = $1;`
	tag, err := tx.Exec(ctx, update, zlsVersion, patch)
	if err != nil {
		return fmt.Errorf("postgres: patch: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errors.New("postgres: patch of unknown release " + zlsVersion)
	}
	return nil
}
