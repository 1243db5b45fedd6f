// Package history keeps superseded versions of accessioned records.
//
// Whenever a live record is overwritten, deprecated, or merged into another,
// its prior state is first archived as an immutable HistoryRecord
// keyed by (accession, version).
// The archive write and the change to the live record
// happen in the same transaction.
package history

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/bobg/accession"
)

// Archive writes prior to history inside tx.
// It fails with accession.ErrHistoryExists if that version was already archived.
func Archive[A accession.ID](ctx context.Context, tx accession.Tx[A], prior accession.Record[A], event accession.Event, mergedInto A, at time.Time) (accession.HistoryRecord[A], error) {
	h := accession.HistoryRecord[A]{
		Record:     prior,
		Event:      event,
		MergedInto: mergedInto,
		ArchivedAt: at,
	}
	err := tx.Archive(ctx, h)
	return h, errors.Wrapf(err, "archiving %v version %d", prior.Accession, prior.Version)
}

// Archiver changes live records,
// archiving each prior version as it goes.
type Archiver[A accession.ID] struct {
	Store accession.Store[A]

	// Now, if set, supplies timestamps.
	Now func() time.Time
}

func (ar *Archiver[A]) now() time.Time {
	if ar.Now != nil {
		return ar.Now()
	}
	return time.Now()
}

// Update replaces the content of accession a with new data having the given hash,
// as version prior+1.
// If version is nonzero it must equal the live version,
// otherwise Update fails with accession.ErrVersionMismatch.
// If hash equals the live record's hash,
// nothing changes and the live record is returned.
func (ar *Archiver[A]) Update(ctx context.Context, a A, hash accession.Hash, data []byte, version int) (accession.Record[A], error) {
	var result accession.Record[A]
	err := ar.Store.Tx(ctx, func(tx accession.Tx[A]) error {
		prior, err := live(ctx, tx, a, version)
		if err != nil {
			return err
		}
		if prior.Hash == hash {
			result = prior
			return nil
		}

		now := ar.now()
		if _, err := Archive(ctx, tx, prior, accession.EventUpdated, zero[A](), now); err != nil {
			return err
		}

		result = accession.Record[A]{
			Accession: a,
			Hash:      hash,
			Version:   prior.Version + 1,
			Data:      data,
			CreatedAt: now,
		}
		return errors.Wrapf(tx.Replace(ctx, result), "replacing %v", a)
	})
	return result, err
}

// Deprecate archives the live version of a
// and removes it,
// freeing its hash.
// If version is nonzero it must equal the live version.
func (ar *Archiver[A]) Deprecate(ctx context.Context, a A, version int) (accession.HistoryRecord[A], error) {
	var result accession.HistoryRecord[A]
	err := ar.Store.Tx(ctx, func(tx accession.Tx[A]) error {
		prior, err := live(ctx, tx, a, version)
		if err != nil {
			return err
		}
		result, err = Archive(ctx, tx, prior, accession.EventDeprecated, zero[A](), ar.now())
		if err != nil {
			return err
		}
		return errors.Wrapf(tx.Delete(ctx, a), "deleting %v", a)
	})
	return result, err
}

// Merge archives the live version of a,
// recording that it was merged into the live accession into,
// and removes it.
func (ar *Archiver[A]) Merge(ctx context.Context, a, into A) (accession.HistoryRecord[A], error) {
	if a == into {
		return accession.HistoryRecord[A]{}, errors.Errorf("cannot merge %v into itself", a)
	}

	var result accession.HistoryRecord[A]
	err := ar.Store.Tx(ctx, func(tx accession.Tx[A]) error {
		if _, err := tx.FindByAccession(ctx, into); err != nil {
			return errors.Wrapf(err, "finding merge target %v", into)
		}
		prior, err := live(ctx, tx, a, 0)
		if err != nil {
			return err
		}
		result, err = Archive(ctx, tx, prior, accession.EventMerged, into, ar.now())
		if err != nil {
			return err
		}
		return errors.Wrapf(tx.Delete(ctx, a), "deleting %v", a)
	})
	return result, err
}

// List returns the archived versions of a, oldest first.
func List[A accession.ID](ctx context.Context, g accession.Getter[A], a A) ([]accession.HistoryRecord[A], error) {
	var result []accession.HistoryRecord[A]
	err := g.ListHistory(ctx, a, func(h accession.HistoryRecord[A]) error {
		result = append(result, h)
		return nil
	})
	return result, errors.Wrapf(err, "listing history of %v", a)
}

// Inactive tells why a has no live record,
// returning an *accession.InactiveError built from its latest history record.
// It returns accession.ErrNotFound if a has no history either.
func Inactive[A accession.ID](ctx context.Context, g accession.Getter[A], a A) error {
	hist, err := List(ctx, g, a)
	if err != nil {
		return err
	}
	if len(hist) == 0 {
		return accession.ErrNotFound
	}
	last := hist[len(hist)-1]
	if last.Event == accession.EventUpdated {
		// An update leaves a live record, so this is not an inactive accession.
		return accession.ErrNotFound
	}
	return &accession.InactiveError[A]{
		Accession:  a,
		Version:    last.Version,
		Event:      last.Event,
		MergedInto: last.MergedInto,
	}
}

func live[A accession.ID](ctx context.Context, tx accession.Tx[A], a A, version int) (accession.Record[A], error) {
	prior, err := tx.FindByAccession(ctx, a)
	if err != nil {
		return accession.Record[A]{}, errors.Wrapf(err, "finding %v", a)
	}
	if version != 0 && version != prior.Version {
		return accession.Record[A]{}, errors.Wrapf(accession.ErrVersionMismatch, "%v is at version %d, not %d", a, prior.Version, version)
	}
	return prior, nil
}

func zero[A accession.ID]() A {
	var z A
	return z
}
