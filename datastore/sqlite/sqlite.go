// Package sqlite implements the release store on an embedded SQLite
// database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"

	"github.com/doug-martin/goqu/v8"
	_ "github.com/doug-martin/goqu/v8/dialect/sqlite3"
	"github.com/remind101/migrate"
	_ "modernc.org/sqlite" // register the sqlite driver

	"github.com/zigtools/releaseworker"
	"github.com/zigtools/releaseworker/datastore"
	"github.com/zigtools/releaseworker/datastore/sqlite/migrations"
)

var dialect = goqu.Dialect("sqlite3")

// Store is a [datastore.ReleaseStore] backed by a SQLite file.
type Store struct {
	db *sql.DB
}

var _ datastore.ReleaseStore = (*Store)(nil)

// Open opens (creating if needed) the SQLite database at path and runs
// pending migrations.
//
// The returned Store must have its Close method called.
func Open(ctx context.Context, path string) (*Store, error) {
	u := url.URL{
		Scheme: `file`,
		Opaque: path,
		RawQuery: url.Values{
			"_pragma": {
				"foreign_keys(1)",
				"journal_mode(wal)",
				"busy_timeout(5000)",
			},
		}.Encode(),
	}
	db, err := sql.Open(`sqlite`, u.String())
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	// The sqlite driver does not tolerate concurrent writers on one
	// connection pool member; the busy_timeout pragma plus a single
	// connection keeps writes serialized.
	db.SetMaxOpenConns(1)
	if err := migrate.Exec(db, migrate.Up, migrations.Migrations...); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: migrations failed: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// AllTaggedDesc implements [datastore.ReleaseStore].
func (s *Store) AllTaggedDesc(ctx context.Context) (_ []*releaseworker.ReleaseRecord, err error) {
	defer observe(`alltagged_desc`, &err)()
	return s.selectRecords(ctx, dialect.From(table).Select(jsonCol).
		Where(goqu.Ex{"is_release": 1}).
		Order(goqu.I("major").Desc(), goqu.I("minor").Desc(), goqu.I("patch").Desc()))
}

// AllTaggedAsc implements [datastore.ReleaseStore].
func (s *Store) AllTaggedAsc(ctx context.Context) (_ []*releaseworker.ReleaseRecord, err error) {
	defer observe(`alltagged_asc`, &err)()
	return s.selectRecords(ctx, dialect.From(table).Select(jsonCol).
		Where(goqu.Ex{"is_release": 1}).
		Order(goqu.I("major").Asc(), goqu.I("minor").Asc(), goqu.I("patch").Asc()))
}

// TaggedByMinor implements [datastore.ReleaseStore].
func (s *Store) TaggedByMinor(ctx context.Context, major, minor uint32) (_ []*releaseworker.ReleaseRecord, err error) {
	defer observe(`tagged_by_minor`, &err)()
	return s.selectRecords(ctx, dialect.From(table).Select(jsonCol).
		Where(goqu.Ex{"is_release": 1, "major": major, "minor": minor}).
		Order(goqu.I("patch").Desc()))
}

// DevByMinor implements [datastore.ReleaseStore].
func (s *Store) DevByMinor(ctx context.Context, major, minor uint32) (_ []*releaseworker.ReleaseRecord, err error) {
	defer observe(`dev_by_minor`, &err)()
	return s.selectRecords(ctx, dialect.From(table).Select(jsonCol).
		Where(goqu.Ex{"is_release": 0, "major": major, "minor": minor}).
		Order(goqu.I("build_id").Asc()))
}

// DevByQuad implements [datastore.ReleaseStore].
func (s *Store) DevByQuad(ctx context.Context, major, minor, patch, height uint32) (_ *releaseworker.ReleaseRecord, err error) {
	defer observe(`dev_by_quad`, &err)()
	recs, err := s.selectRecords(ctx, dialect.From(table).Select(jsonCol).
		Where(goqu.Ex{"is_release": 0, "major": major, "minor": minor, "patch": patch, "build_id": height}).
		Limit(1))
	if err != nil || len(recs) == 0 {
		return nil, err
	}
	return recs[0], nil
}

// GetByVersion implements [datastore.ReleaseStore].
func (s *Store) GetByVersion(ctx context.Context, version string) (_ *releaseworker.ReleaseRecord, err error) {
	defer observe(`get_by_version`, &err)()
	recs, err := s.selectRecords(ctx, dialect.From(table).Select(jsonCol).
		Where(goqu.Ex{"zls_version": version}).
		Limit(1))
	if err != nil || len(recs) == 0 {
		return nil, err
	}
	return recs[0], nil
}

// UpsertRecord implements [datastore.ReleaseStore].
func (s *Store) UpsertRecord(ctx context.Context, rec *releaseworker.ReleaseRecord) (err error) {
	defer observe(`upsert_record`, &err)()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := upsertTx(ctx, tx, rec); err != nil {
		return err
	}
	return tx.Commit()
}

// PatchTestedZigVersions implements [datastore.ReleaseStore].
func (s *Store) PatchTestedZigVersions(ctx context.Context, zlsVersion string, tested map[string]releaseworker.Compatibility) (err error) {
	defer observe(`patch_tested`, &err)()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := patchTx(ctx, tx, zlsVersion, tested); err != nil {
		return err
	}
	return tx.Commit()
}

// Batch implements [datastore.ReleaseStore].
func (s *Store) Batch(ctx context.Context, rec *releaseworker.ReleaseRecord, tested map[string]releaseworker.Compatibility) (err error) {
	defer observe(`batch`, &err)()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := upsertTx(ctx, tx, rec); err != nil {
		return err
	}
	if err := patchTx(ctx, tx, rec.ZLSVersion.String(), tested); err != nil {
		return err
	}
	return tx.Commit()
}

const (
	table   = `zls_releases`
	jsonCol = `json_data`
)

type sqler interface {
	ToSQL() (string, []interface{}, error)
}

func (s *Store) selectRecords(ctx context.Context, ds sqler) ([]*releaseworker.ReleaseRecord, error) {
	query, args, err := ds.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("sqlite: building query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query: %w", err)
	}
	defer rows.Close()
	var recs []*releaseworker.ReleaseRecord
	for rows.Next() {
		var blob []byte
		if err := rows.Scan(&blob); err != nil {
			return nil, fmt.Errorf("sqlite: scan error: %w", err)
		}
		rec := new(releaseworker.ReleaseRecord)
		if err := json.Unmarshal(blob, rec); err != nil {
			return nil, fmt.Errorf("sqlite: decoding record: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: sql error: %w", err)
	}
	return recs, nil
}

func upsertTx(ctx context.Context, tx *sql.Tx, rec *releaseworker.ReleaseRecord) error {
	blob, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("sqlite: encoding record: %w", err)
	}
	v := rec.ZLSVersion
	var buildID sql.NullInt64
	if v.IsDev {
		buildID = sql.NullInt64{Int64: int64(v.CommitHeight), Valid: true}
	}
	isRelease := 0
	if v.IsTagged() {
		isRelease = 1
	}
	const insert = `
INSERT INTO zls_releases (zls_version, major, minor, patch, is_release, build_id, json_data)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (zls_version) DO NOTHING;`
	if _, err := tx.ExecContext(ctx, insert, v.String(), v.Major, v.Minor, v.Patch, isRelease, buildID, blob); err != nil {
		return fmt.Errorf("sqlite: upsert: %w", err)
	}
	return nil
}

func patchTx(ctx context.Context, tx *sql.Tx, zlsVersion string, tested map[string]releaseworker.Compatibility) error {
	var blob []byte
	err := tx.QueryRowContext(ctx, `SELECT json_data FROM zls_releases WHERE zls_version = ?;`, zlsVersion).Scan(&blob)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("sqlite: patch of unknown release %q", zlsVersion)
	case err != nil:
		return fmt.Errorf("sqlite: patch read: %w", err)
	}
	rec := new(releaseworker.ReleaseRecord)
	if err := json.Unmarshal(blob, rec); err != nil {
		return fmt.Errorf("sqlite: decoding record: %w", err)
	}
	if rec.TestedZigVersions == nil {
		rec.TestedZigVersions = make(map[string]releaseworker.Compatibility, len(tested))
	}
	for k, c := range tested {
		rec.TestedZigVersions[k] = c
	}
	blob, err = json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("sqlite: encoding record: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE zls_releases SET json_data = ? WHERE zls_version = ?;`, blob, zlsVersion); err != nil {
		return fmt.Errorf("sqlite: patch write: %w", err)
	}
	return nil
}
