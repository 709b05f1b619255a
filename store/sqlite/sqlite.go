// Package sqlite provides the SQLite-backed persistent store adapter.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/unkn0wn-root/clientdb/store"
	_ "modernc.org/sqlite"
)

const refMarker = ":REF:"

// Store persists cache rows in SQLite.
type Store struct {
	sqlDB *sql.DB
}

var _ store.Adapter = (*Store)(nil)

// Open opens (creating if needed) a SQLite store at path. The schema itself
// is managed by the cache's migrator, not here.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("store path is required")
	}
	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Store) EnsureTables(ctx context.Context) error {
	_, err := s.sqlDB.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS settings (
		name TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("ensure settings table: %w", err)
	}
	if err := s.createRecords(ctx, s.sqlDB); err != nil {
		return fmt.Errorf("ensure records table: %w", err)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) createRecords(ctx context.Context, db execer) error {
	_, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS records (
		expires INTEGER NOT NULL,
		collection TEXT NOT NULL,
		refCollection TEXT NOT NULL DEFAULT '',
		objId TEXT NOT NULL,
		obj BLOB,
		UNIQUE (objId, collection)
	)`)
	return err
}

func (s *Store) RecreateRecordsTable(ctx context.Context) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DROP TABLE IF EXISTS records`); err != nil {
			return fmt.Errorf("drop records table: %w", err)
		}
		if err := s.createRecords(ctx, tx); err != nil {
			return fmt.Errorf("create records table: %w", err)
		}
		return nil
	})
}

func (s *Store) GetSetting(ctx context.Context, name string) (string, bool, error) {
	var value string
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT value FROM settings WHERE name = ?`, name,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get setting %q: %w", name, err)
	}
	return value, true, nil
}

func (s *Store) SetSetting(ctx context.Context, name, value string) error {
	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO settings (name, value) VALUES (?, ?)
		 ON CONFLICT (name) DO UPDATE SET value = excluded.value`,
		name, value,
	)
	if err != nil {
		return fmt.Errorf("set setting %q: %w", name, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, collection, id string) (store.Record, bool, error) {
	var rec store.Record
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT expires, collection, refCollection, objId, obj
		 FROM records WHERE collection = ? AND objId = ?`,
		collection, id,
	).Scan(&rec.Expires, &rec.Collection, &rec.RefCollection, &rec.ID, &rec.Payload)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Record{}, false, nil
	}
	if err != nil {
		return store.Record{}, false, fmt.Errorf("get record %s/%s: %w", collection, id, err)
	}
	return rec, true, nil
}

func (s *Store) QueryCollection(ctx context.Context, collection string) ([]store.Record, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT expires, collection, refCollection, objId, obj
		 FROM records WHERE collection = ?`,
		collection,
	)
	if err != nil {
		return nil, fmt.Errorf("query collection %q: %w", collection, err)
	}
	defer rows.Close()

	var recs []store.Record
	for rows.Next() {
		var rec store.Record
		if err := rows.Scan(&rec.Expires, &rec.Collection, &rec.RefCollection, &rec.ID, &rec.Payload); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate collection %q: %w", collection, err)
	}
	return recs, nil
}

func (s *Store) Upsert(ctx context.Context, recs []store.Record) error {
	if len(recs) == 0 {
		return nil
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO records (expires, collection, refCollection, objId, obj)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT (objId, collection) DO UPDATE SET
			   expires = excluded.expires,
			   refCollection = excluded.refCollection,
			   obj = excluded.obj`)
		if err != nil {
			return fmt.Errorf("prepare upsert: %w", err)
		}
		defer stmt.Close()
		for _, rec := range recs {
			if _, err := stmt.ExecContext(ctx,
				rec.Expires, rec.Collection, rec.RefCollection, rec.ID, rec.Payload,
			); err != nil {
				return fmt.Errorf("upsert record %s/%s: %w", rec.Collection, rec.ID, err)
			}
		}
		return nil
	})
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	_, err := s.sqlDB.ExecContext(ctx,
		`DELETE FROM records WHERE collection = ? AND objId = ?`,
		collection, id,
	)
	if err != nil {
		return fmt.Errorf("delete record %s/%s: %w", collection, id, err)
	}
	return nil
}

func (s *Store) DeleteOwnedRefs(ctx context.Context, collection, id string) (int, error) {
	prefix := collection + refMarker
	res, err := s.sqlDB.ExecContext(ctx,
		`DELETE FROM records
		 WHERE objId = ? AND substr(collection, 1, ?) = ?`,
		id, len(prefix), prefix,
	)
	if err != nil {
		return 0, fmt.Errorf("delete owned refs %s/%s: %w", collection, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count deleted refs: %w", err)
	}
	return int(n), nil
}

func (s *Store) DeleteCollection(ctx context.Context, collection string) error {
	prefix := collection + refMarker
	_, err := s.sqlDB.ExecContext(ctx,
		`DELETE FROM records
		 WHERE collection = ?
		    OR refCollection = ?
		    OR substr(collection, 1, ?) = ?`,
		collection, collection, len(prefix), prefix,
	)
	if err != nil {
		return fmt.Errorf("delete collection %q: %w", collection, err)
	}
	return nil
}

func (s *Store) DeleteAll(ctx context.Context) error {
	_, err := s.sqlDB.ExecContext(ctx, `DELETE FROM records`)
	if err != nil {
		return fmt.Errorf("delete all records: %w", err)
	}
	return nil
}

// Compact runs VACUUM, which SQLite requires outside any transaction.
func (s *Store) Compact(ctx context.Context) error {
	if _, err := s.sqlDB.ExecContext(ctx, `VACUUM`); err != nil {
		return fmt.Errorf("compact store: %w", err)
	}
	return nil
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
