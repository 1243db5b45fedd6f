package sqlstore

import (
	"context"
	"database/sql"
	stderrs "errors"

	"github.com/bobg/sqlutil"
	"github.com/pkg/errors"

	"github.com/bobg/accession"
	"github.com/bobg/accession/block"
)

const blockCols = `category_id, instance_id, first_value, last_value, last_committed`

func (s *Store[A]) findBlock(ctx context.Context, q string, args ...interface{}) (block.Block, error) {
	var b block.Block
	err := s.db.QueryRowContext(ctx, q, args...).Scan(&b.CategoryID, &b.InstanceID, &b.FirstValue, &b.LastValue, &b.LastCommitted)
	if stderrs.Is(err, sql.ErrNoRows) {
		return block.Block{}, accession.ErrNotFound
	}
	return b, errors.Wrap(err, "querying block")
}

// FindLatestBlock implements block.Store.
func (s *Store[A]) FindLatestBlock(ctx context.Context, category, instance string) (block.Block, error) {
	const q = `SELECT ` + blockCols + ` FROM blocks WHERE category_id = $1 AND instance_id = $2 ORDER BY last_value DESC LIMIT 1`
	return s.findBlock(ctx, q, category, instance)
}

// FindGlobalLatestBlock implements block.Store.
func (s *Store[A]) FindGlobalLatestBlock(ctx context.Context, category string) (block.Block, error) {
	const q = `SELECT ` + blockCols + ` FROM blocks WHERE category_id = $1 ORDER BY last_value DESC LIMIT 1`
	return s.findBlock(ctx, q, category)
}

// FindAllBlocks implements block.Store.
func (s *Store[A]) FindAllBlocks(ctx context.Context, category, instance string, f func(block.Block) error) error {
	const q = `SELECT ` + blockCols + ` FROM blocks WHERE category_id = $1 AND instance_id = $2 ORDER BY last_value`
	return sqlutil.ForQueryRows(ctx, s.db, q, category, instance, func(cat, inst string, first, last, committed int64) error {
		return f(block.Block{
			CategoryID:    cat,
			InstanceID:    inst,
			FirstValue:    first,
			LastValue:     last,
			LastCommitted: committed,
		})
	})
}

// InsertBlock implements block.Store.
// Two reservations racing from the same global maximum
// both start at the same value,
// so the unique index on (category_id, first_value) rejects the loser.
// The overlap query covers the rest.
func (s *Store[A]) InsertBlock(ctx context.Context, b block.Block) error {
	err := s.insertBlock(ctx, b)
	if s.d.isConflict(err) {
		return errors.Wrapf(block.ErrConflict, "%s: %s", b, err)
	}
	return err
}

func (s *Store[A]) insertBlock(ctx context.Context, b block.Block) error {
	sqltx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer sqltx.Rollback()

	const q1 = `SELECT COUNT(*) FROM blocks WHERE category_id = $1 AND first_value <= $2 AND last_value >= $3`

	var n int
	err = sqltx.QueryRowContext(ctx, q1, b.CategoryID, b.LastValue, b.FirstValue).Scan(&n)
	if err != nil {
		return err
	}
	if n > 0 {
		return block.ErrConflict
	}

	const q2 = `INSERT INTO blocks (` + blockCols + `) VALUES ($1, $2, $3, $4, $5)`

	_, err = sqltx.ExecContext(ctx, q2, b.CategoryID, b.InstanceID, b.FirstValue, b.LastValue, b.LastCommitted)
	if err != nil {
		return err
	}
	return sqltx.Commit()
}

// CommitBlock implements block.Store.
func (s *Store[A]) CommitBlock(ctx context.Context, b block.Block) error {
	const q = `UPDATE blocks SET last_committed = $1
		WHERE category_id = $2 AND instance_id = $3 AND first_value = $4 AND last_committed <= $1 AND last_value >= $1`

	res, err := s.db.ExecContext(ctx, q, b.LastCommitted, b.CategoryID, b.InstanceID, b.FirstValue)
	if err != nil {
		return errors.Wrapf(err, "committing block %s", b)
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
