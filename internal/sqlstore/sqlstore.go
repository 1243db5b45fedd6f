// Package sqlstore implements accession and block storage on database/sql.
// The sqlite3 and pg store packages supply a Dialect and register the result.
package sqlstore

import (
	"context"
	"database/sql"
	stderrs "errors"
	"fmt"
	"strings"
	"time"

	"github.com/bobg/sqlutil"
	"github.com/pkg/errors"

	"github.com/bobg/accession"
	"github.com/bobg/accession/block"
)

// Dialect is what differs between SQL engines.
type Dialect struct {
	// Schema is executed by New.
	// It must create the tables accessions, accession_history, and blocks
	// if they do not exist.
	Schema string

	// TimeArg converts a time to a query argument.
	TimeArg func(time.Time) interface{}

	// IsUniqueViolation tells whether err is a uniqueness-constraint violation.
	IsUniqueViolation func(error) bool

	// IsRetryable tells whether err is a transient locking failure.
	// It may be nil.
	IsRetryable func(error) bool
}

func (d Dialect) isConflict(err error) bool {
	if d.IsUniqueViolation(err) {
		return true
	}
	return d.IsRetryable != nil && d.IsRetryable(err)
}

// Max number of hashes in one IN clause.
const hashChunk = 500

type querier interface {
	sqlutil.QueryerContext
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

// Store is a database/sql-based accession store and block store.
type Store[A accession.ID] struct {
	getter[A]
	db *sql.DB
}

var (
	_ accession.Store[string] = &Store[string]{}
	_ block.Store             = &Store[string]{}
)

// New produces a new Store using db for storage.
// It executes d.Schema first.
func New[A accession.ID](ctx context.Context, db *sql.DB, d Dialect) (*Store[A], error) {
	_, err := db.ExecContext(ctx, d.Schema)
	if err != nil {
		return nil, errors.Wrap(err, "creating schema")
	}
	return &Store[A]{getter: getter[A]{q: db, d: d}, db: db}, nil
}

// DB is the database underlying s.
func (s *Store[A]) DB() *sql.DB {
	return s.db
}

// Tx implements accession.Store.
// The transaction rolls back if f returns an error or panics.
func (s *Store[A]) Tx(ctx context.Context, f func(accession.Tx[A]) error) error {
	sqltx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}

	var committed bool
	defer func() {
		if !committed {
			sqltx.Rollback()
		}
	}()

	if err := f(&tx[A]{getter: getter[A]{q: sqltx, d: s.d}}); err != nil {
		return err
	}

	if err := sqltx.Commit(); err != nil {
		return errors.Wrap(err, "committing transaction")
	}
	committed = true
	return nil
}

type getter[A accession.ID] struct {
	q querier
	d Dialect
}

func placeholders(start, n int) string {
	strs := make([]string, n)
	for i := 0; i < n; i++ {
		strs[i] = fmt.Sprintf("$%d", start+i)
	}
	return strings.Join(strs, ", ")
}

func (g getter[A]) FindAccessionsByHash(ctx context.Context, hashes []accession.Hash) (map[accession.Hash]A, error) {
	result := make(map[accession.Hash]A)
	for start := 0; start < len(hashes); start += hashChunk {
		end := start + hashChunk
		if end > len(hashes) {
			end = len(hashes)
		}
		chunk := hashes[start:end]

		q := `SELECT hash, accession FROM accessions WHERE hash IN (` + placeholders(1, len(chunk)) + `)`
		args := make([]interface{}, 0, len(chunk)+1)
		for _, h := range chunk {
			args = append(args, h)
		}
		args = append(args, func(h accession.Hash, a A) {
			result[h] = a
		})
		if err := sqlutil.ForQueryRows(ctx, g.q, q, args...); err != nil {
			return nil, errors.Wrap(err, "querying accessions by hash")
		}
	}
	return result, nil
}

func (g getter[A]) FindByAccession(ctx context.Context, a A) (accession.Record[A], error) {
	const q = `SELECT hash, version, data, created_at FROM accessions WHERE accession = $1`

	rec := accession.Record[A]{Accession: a}
	var created scanTime
	err := g.q.QueryRowContext(ctx, q, a).Scan(&rec.Hash, &rec.Version, &rec.Data, &created)
	if stderrs.Is(err, sql.ErrNoRows) {
		return accession.Record[A]{}, accession.ErrNotFound
	}
	if err != nil {
		return accession.Record[A]{}, errors.Wrapf(err, "getting accession %v", a)
	}
	rec.CreatedAt = time.Time(created)
	return rec, nil
}

func (g getter[A]) FindByAccessionAndVersion(ctx context.Context, a A, version int) (accession.Record[A], error) {
	rec, err := g.FindByAccession(ctx, a)
	if err == nil && rec.Version == version {
		return rec, nil
	}
	if err != nil && !stderrs.Is(err, accession.ErrNotFound) {
		return accession.Record[A]{}, err
	}

	const q = `SELECT hash, data, created_at FROM accession_history WHERE accession = $1 AND version = $2`

	rec = accession.Record[A]{Accession: a, Version: version}
	var created scanTime
	err = g.q.QueryRowContext(ctx, q, a, version).Scan(&rec.Hash, &rec.Data, &created)
	if stderrs.Is(err, sql.ErrNoRows) {
		return accession.Record[A]{}, accession.ErrNotFound
	}
	if err != nil {
		return accession.Record[A]{}, errors.Wrapf(err, "getting accession %v version %d from history", a, version)
	}
	rec.CreatedAt = time.Time(created)
	return rec, nil
}

func (g getter[A]) ListHistory(ctx context.Context, a A, f func(accession.HistoryRecord[A]) error) error {
	const q = `SELECT version, hash, data, created_at, event, merged_into, archived_at
		FROM accession_history WHERE accession = $1 ORDER BY version`

	return sqlutil.ForQueryRows(ctx, g.q, q, a, func(version int, hash accession.Hash, data []byte, created scanTime, event accession.Event, mergedInto A, archived scanTime) error {
		return f(accession.HistoryRecord[A]{
			Record: accession.Record[A]{
				Accession: a,
				Hash:      hash,
				Version:   version,
				Data:      data,
				CreatedAt: time.Time(created),
			},
			Event:      event,
			MergedInto: mergedInto,
			ArchivedAt: time.Time(archived),
		})
	})
}

type tx[A accession.ID] struct {
	getter[A]
}

func (t *tx[A]) InsertBatch(ctx context.Context, recs []accession.Record[A]) ([]bool, error) {
	const (
		q1 = `SELECT 1 FROM accession_history WHERE accession = $1 LIMIT 1`
		q2 = `INSERT INTO accessions (accession, hash, version, data, created_at) VALUES ($1, $2, $3, $4, $5) ON CONFLICT DO NOTHING`
	)

	result := make([]bool, len(recs))
	for i, rec := range recs {
		// Retired accessions are never reissued.
		var one int
		err := t.q.QueryRowContext(ctx, q1, rec.Accession).Scan(&one)
		if err == nil {
			continue
		}
		if !stderrs.Is(err, sql.ErrNoRows) {
			return nil, errors.Wrapf(err, "checking history of accession %v", rec.Accession)
		}

		res, err := t.q.ExecContext(ctx, q2, rec.Accession, rec.Hash, rec.Version, rec.Data, t.d.TimeArg(rec.CreatedAt))
		if err != nil {
			return nil, errors.Wrapf(err, "inserting accession %v", rec.Accession)
		}
		aff, err := res.RowsAffected()
		if err != nil {
			return nil, errors.Wrap(err, "counting affected rows")
		}
		result[i] = aff > 0
	}
	return result, nil
}

func (t *tx[A]) Replace(ctx context.Context, rec accession.Record[A]) error {
	const q1 = `SELECT accession FROM accessions WHERE hash = $1`

	var other A
	err := t.q.QueryRowContext(ctx, q1, rec.Hash).Scan(&other)
	switch {
	case stderrs.Is(err, sql.ErrNoRows):
		// ok
	case err != nil:
		return errors.Wrapf(err, "checking hash %s", rec.Hash)
	case other != rec.Accession:
		return accession.ErrHashExists
	}

	const q2 = `UPDATE accessions SET hash = $1, version = $2, data = $3, created_at = $4 WHERE accession = $5`

	res, err := t.q.ExecContext(ctx, q2, rec.Hash, rec.Version, rec.Data, t.d.TimeArg(rec.CreatedAt), rec.Accession)
	if t.d.IsUniqueViolation(err) {
		return accession.ErrHashExists
	}
	if err != nil {
		return errors.Wrapf(err, "updating accession %v", rec.Accession)
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "counting affected rows")
	}
	if aff == 0 {
		return accession.ErrNotFound
	}
	return nil
}

func (t *tx[A]) Delete(ctx context.Context, a A) error {
	const q = `DELETE FROM accessions WHERE accession = $1`

	res, err := t.q.ExecContext(ctx, q, a)
	if err != nil {
		return errors.Wrapf(err, "deleting accession %v", a)
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "counting affected rows")
	}
	if aff == 0 {
		return accession.ErrNotFound
	}
	return nil
}

func (t *tx[A]) Archive(ctx context.Context, h accession.HistoryRecord[A]) error {
	const q = `INSERT INTO accession_history (accession, version, hash, data, created_at, event, merged_into, archived_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8) ON CONFLICT DO NOTHING`

	res, err := t.q.ExecContext(ctx, q, h.Accession, h.Version, h.Hash, h.Data, t.d.TimeArg(h.CreatedAt), h.Event, h.MergedInto, t.d.TimeArg(h.ArchivedAt))
	if err != nil {
		return errors.Wrapf(err, "archiving accession %v version %d", h.Accession, h.Version)
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "counting affected rows")
	}
	if aff == 0 {
		return accession.ErrHistoryExists
	}
	return nil
}

// scanTime scans timestamps stored either natively or as RFC3339 text.
type scanTime time.Time

func (t *scanTime) Scan(src interface{}) error {
	switch v := src.(type) {
	case time.Time:
		*t = scanTime(v)
		return nil
	case string:
		return t.parse(v)
	case []byte:
		return t.parse(string(v))
	}
	return fmt.Errorf("cannot scan %T into a time", src)
}

func (t *scanTime) parse(s string) error {
	parsed, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return errors.Wrapf(err, "parsing time %s", s)
	}
	*t = scanTime(parsed)
	return nil
}
