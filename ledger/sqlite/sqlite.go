// Package sqlite provides a ledger backed by a single SQLite file.
package sqlite

import (
	"bytes"
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/ipfs/go-cid"
	_ "github.com/mattn/go-sqlite3"

	"xdao.co/streams/ledger"
)

//go:embed migrations/*.sql
var migrations embed.FS

type Store struct {
	db *sql.DB
}

var _ ledger.Store = (*Store)(nil)

func dsn(path string) string {
	return fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000", path)
}

// Open opens (creating if needed) the ledger database at path and applies
// pending migrations.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("sqlite: empty path")
	}
	if err := migrateUp(path); err != nil {
		return nil, fmt.Errorf("sqlite: migrate: %w", err)
	}
	db, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	return &Store{db: db}, nil
}

// migrateUp runs on its own connection: closing the migrate instance closes
// the database handle it was given.
func migrateUp(path string) error {
	db, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		return err
	}
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		_ = db.Close()
		return err
	}
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		_ = db.Close()
		return err
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		_ = db.Close()
		return err
	}
	defer m.Close()

	err = m.Up()
	if errors.Is(err, migrate.ErrNoChange) {
		return nil
	}
	return err
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Put(ctx context.Context, id cid.Cid, data []byte) error {
	if !id.Defined() {
		return ledger.ErrInvalidID
	}
	if data == nil {
		data = []byte{}
	}
	return withTx(ctx, s.db, func(tx *sql.Tx) error {
		var cur []byte
		err := tx.QueryRowContext(ctx, `SELECT data FROM entries WHERE id = ?`, id.String()).Scan(&cur)
		switch {
		case err == nil:
			if !bytes.Equal(cur, data) {
				return ledger.ErrImmutable
			}
			return nil
		case errors.Is(err, sql.ErrNoRows):
		default:
			return err
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO entries (id, data) VALUES (?, ?)`, id.String(), data)
		return err
	})
}

func (s *Store) Get(ctx context.Context, id cid.Cid) ([]byte, error) {
	if !id.Defined() {
		return nil, ledger.ErrInvalidID
	}
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM entries WHERE id = ?`, id.String()).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if data == nil {
		data = []byte{}
	}
	return data, nil
}

func (s *Store) Has(ctx context.Context, id cid.Cid) bool {
	if !id.Defined() {
		return false
	}
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM entries WHERE id = ?`, id.String()).Scan(&one)
	return err == nil
}

func (s *Store) List(ctx context.Context) ([]cid.Cid, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM entries ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []cid.Cid
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		id, err := cid.Decode(raw)
		if err != nil {
			return nil, fmt.Errorf("sqlite: corrupt id %q: %w", raw, err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	ledger.SortIDs(out)
	return out, nil
}

func withTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
