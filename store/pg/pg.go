// Package pg implements an accession store on Postgresql.
package pg

import (
	"context"
	"database/sql"
	stderrs "errors"
	"time"

	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/bobg/accession"
	"github.com/bobg/accession/internal/sqlstore"
	"github.com/bobg/accession/store"
)

var _ store.Backend = &Store[string]{}

// Store is a Postgresql-based accession store and block store.
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
  data BYTEA NOT NULL,
  created_at TIMESTAMP WITH TIME ZONE NOT NULL
);

CREATE TABLE IF NOT EXISTS accession_history (
  accession TEXT NOT NULL,
  version INTEGER NOT NULL,
  hash TEXT NOT NULL,
  data BYTEA NOT NULL,
  created_at TIMESTAMP WITH TIME ZONE NOT NULL,
  event TEXT NOT NULL,
  merged_into TEXT NOT NULL,
  archived_at TIMESTAMP WITH TIME ZONE NOT NULL,
  PRIMARY KEY (accession, version)
);

CREATE TABLE IF NOT EXISTS blocks (
  category_id TEXT NOT NULL,
  instance_id TEXT NOT NULL,
  first_value BIGINT NOT NULL,
  last_value BIGINT NOT NULL,
  last_committed BIGINT NOT NULL,
  PRIMARY KEY (category_id, first_value)
);

CREATE UNIQUE INDEX IF NOT EXISTS blocks_last_idx ON blocks (category_id, last_value);
CREATE INDEX IF NOT EXISTS blocks_instance_idx ON blocks (category_id, instance_id, last_value);
`

// Postgresql error codes.
const (
	uniqueViolation      = "23505"
	serializationFailure = "40001"
	deadlockDetected     = "40P01"
)

func pqCode(err error) pq.ErrorCode {
	var e *pq.Error
	if stderrs.As(err, &e) {
		return e.Code
	}
	return ""
}

// Dialect is the Postgresql flavor of sqlstore.Dialect.
var Dialect = sqlstore.Dialect{
	Schema: Schema,
	TimeArg: func(t time.Time) interface{} {
		return t
	},
	IsUniqueViolation: func(err error) bool {
		return pqCode(err) == uniqueViolation
	},
	IsRetryable: func(err error) bool {
		code := pqCode(err)
		return code == serializationFailure || code == deadlockDetected
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

func init() {
	store.Register("pg", func(ctx context.Context, conf map[string]interface{}) (store.Backend, error) {
		conn, ok := conf["conn"].(string)
		if !ok {
			return nil, errors.New(`missing "conn" parameter`)
		}
		db, err := sql.Open("postgres", conn)
		if err != nil {
			return nil, errors.Wrap(err, "opening db")
		}
		return New[string](ctx, db)
	})
}
