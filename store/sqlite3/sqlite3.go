// Package sqlite3 implements an accession store on Sqlite.
package sqlite3

import (
	"context"
	"database/sql"
	stderrs "errors"
	"time"

	gosqlite3 "github.com/mattn/go-sqlite3" // also registers the sqlite3 type for sql.Open
	"github.com/pkg/errors"

	"github.com/bobg/accession"
	"github.com/bobg/accession/internal/sqlstore"
	"github.com/bobg/accession/store"
)

var _ store.Backend = &Store[string]{}

// Store is a Sqlite-based accession store and block store.
type Store[A accession.ID] struct {
	*sqlstore.Store[A]
}

// Schema is the SQL that New executes.
// It creates the `accessions`, `accession_history`, and `blocks` tables if they do not exist.
// (If they do exist, they must have the columns, constraints, and indexing described here.)
const Schema = `
CREATE TABLE IF NOT EXISTS accessions (
  accession TEXT PRIMARY KEY NOT NULL,
  hash TEXT NOT NULL UNIQUE,
  version INTEGER NOT NULL,
  data BLOB NOT NULL,
  created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS accession_history (
  accession TEXT NOT NULL,
  version INTEGER NOT NULL,
  hash TEXT NOT NULL,
  data BLOB NOT NULL,
  created_at TEXT NOT NULL,
  event TEXT NOT NULL,
  merged_into TEXT NOT NULL,
  archived_at TEXT NOT NULL,
  PRIMARY KEY (accession, version)
);

CREATE TABLE IF NOT EXISTS blocks (
  category_id TEXT NOT NULL,
  instance_id TEXT NOT NULL,
  first_value INTEGER NOT NULL,
  last_value INTEGER NOT NULL,
  last_committed INTEGER NOT NULL,
  PRIMARY KEY (category_id, first_value)
);

CREATE UNIQUE INDEX IF NOT EXISTS blocks_last_idx ON blocks (category_id, last_value);
CREATE INDEX IF NOT EXISTS blocks_instance_idx ON blocks (category_id, instance_id, last_value);
`

// Dialect is the Sqlite flavor of sqlstore.Dialect.
var Dialect = sqlstore.Dialect{
	Schema: Schema,
	TimeArg: func(t time.Time) interface{} {
		return t.UTC().Format(time.RFC3339Nano)
	},
	IsUniqueViolation: func(err error) bool {
		var e gosqlite3.Error
		return stderrs.As(err, &e) && e.Code == gosqlite3.ErrConstraint
	},
	IsRetryable: func(err error) bool {
		var e gosqlite3.Error
		return stderrs.As(err, &e) && (e.Code == gosqlite3.ErrBusy || e.Code == gosqlite3.ErrLocked)
	},
}

// New produces a new Store using `db` for storage.
// It expects to create its tables,
// or for those tables already to exist with the correct schema.
// (See Schema.)
func New[A accession.ID](ctx context.Context, db *sql.DB) (*Store[A], error) {
	s, err := sqlstore.New[A](ctx, db, Dialect)
	if err != nil {
		return nil, err
	}
	return &Store[A]{Store: s}, nil
}

var pragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA synchronous = NORMAL",
	"PRAGMA busy_timeout = 5000",
}

// Open opens (creating if necessary) the Sqlite database at path
// and produces a Store on it.
// The database is limited to a single connection,
// since Sqlite allows only one writer at a time.
func Open[A accession.ID](ctx context.Context, path string) (*Store[A], error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", path)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, errors.Wrapf(err, "executing %q", pragma)
		}
	}

	s, err := New[A](ctx, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store[A]) Close() error {
	return s.DB().Close()
}

func init() {
	store.Register("sqlite3", func(ctx context.Context, conf map[string]interface{}) (store.Backend, error) {
		conn, ok := conf["conn"].(string)
		if !ok {
			return nil, errors.New(`missing "conn" parameter`)
		}
		return Open[string](ctx, conn)
	})
}
