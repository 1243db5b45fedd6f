// Package save stores batches of accessioned models,
// reconciling proposed accessions against ones already stored.
//
// For any hash the first writer wins:
// exactly one accession is ever stored for it,
// and every later save of the same hash observes that accession.
// Races between concurrent batches are not prevented but detected and resolved.
// Any proposal that can be explained neither as inserted
// nor as already stored
// is reported in an *accession.MissingUnsavedError.
package save

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/bobg/accession"
)

// Coordinator saves batches to a Store.
type Coordinator[M any, A accession.ID] struct {
	Store accession.Store[A]

	// Encode produces the stored form of a model.
	Encode func(M) ([]byte, error)

	// Now, if set, supplies creation times.
	Now func() time.Time

	// Log, if set, receives a summary of each batch.
	Log logrus.FieldLogger
}

// Response is the result of a save.
type Response[M any, A accession.ID] struct {
	// Saved is the triples inserted by this save.
	Saved []accession.ModelHashAccession[M, A]

	// Existing maps hashes that were already stored,
	// before this save began or by a concurrent writer during it,
	// to their stored accessions.
	Existing map[accession.Hash]A
}

// Accession tells the stored accession for a hash of the batch.
func (r Response[M, A]) Accession(h accession.Hash) (A, bool) {
	if a, ok := r.Existing[h]; ok {
		return a, true
	}
	for _, s := range r.Saved {
		if s.Hash == h {
			return s.Accession, true
		}
	}
	var zero A
	return zero, false
}

// Save stores a batch in one transaction.
// Triples whose hash is already stored are not inserted;
// their accessions are reported in the Response's Existing map.
//
// If some triples remain unexplained,
// Save commits the rest
// and returns both the Response and an *accession.MissingUnsavedError listing those triples.
func (c *Coordinator[M, A]) Save(ctx context.Context, batch []accession.ModelHashAccession[M, A]) (Response[M, A], error) {
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}

	var (
		resp    Response[M, A]
		missing []accession.ModelHashAccession[M, A]
	)

	err := c.Store.Tx(ctx, func(tx accession.Tx[A]) error {
		resp = Response[M, A]{Existing: make(map[accession.Hash]A)}
		missing = nil

		var (
			hashes = make([]accession.Hash, 0, len(batch))
			seen   = make(map[accession.Hash]bool)
		)
		for _, m := range batch {
			if !seen[m.Hash] {
				hashes = append(hashes, m.Hash)
				seen[m.Hash] = true
			}
		}

		existing, err := tx.FindAccessionsByHash(ctx, hashes)
		if err != nil {
			return errors.Wrap(err, "finding existing accessions")
		}
		for h, a := range existing {
			resp.Existing[h] = a
		}

		// One candidate per new hash.
		// Later triples with the same hash resolve to the first one's accession.
		var (
			candidates []accession.ModelHashAccession[M, A]
			recs       []accession.Record[A]
			proposed   = make(map[accession.Hash]bool)
		)
		for _, m := range batch {
			if _, ok := existing[m.Hash]; ok || proposed[m.Hash] {
				continue
			}
			data, err := c.Encode(m.Model)
			if err != nil {
				return errors.Wrapf(err, "encoding model with hash %s", m.Hash)
			}
			candidates = append(candidates, m)
			recs = append(recs, accession.Record[A]{
				Accession: m.Accession,
				Hash:      m.Hash,
				Version:   1,
				Data:      data,
				CreatedAt: now(),
			})
			proposed[m.Hash] = true
		}
		if len(recs) == 0 {
			return nil
		}

		inserted, err := tx.InsertBatch(ctx, recs)
		if err != nil {
			return errors.Wrap(err, "inserting batch")
		}

		var (
			losers      []accession.ModelHashAccession[M, A]
			loserHashes []accession.Hash
		)
		for i, ok := range inserted {
			if ok {
				resp.Saved = append(resp.Saved, candidates[i])
				continue
			}
			losers = append(losers, candidates[i])
			loserHashes = append(loserHashes, candidates[i].Hash)
		}
		if len(losers) == 0 {
			return nil
		}

		winners, err := tx.FindAccessionsByHash(ctx, loserHashes)
		if err != nil {
			return errors.Wrap(err, "finding concurrently saved accessions")
		}
		for _, m := range losers {
			if a, ok := winners[m.Hash]; ok {
				resp.Existing[m.Hash] = a
				continue
			}
			missing = append(missing, m)
		}
		return nil
	})
	if err != nil {
		return Response[M, A]{}, err
	}

	if c.Log != nil {
		c.Log.WithFields(logrus.Fields{
			"batch":    len(batch),
			"saved":    len(resp.Saved),
			"existing": len(resp.Existing),
			"missing":  len(missing),
		}).Debug("saved batch")
	}

	if len(missing) > 0 {
		return resp, &accession.MissingUnsavedError[M, A]{Missing: missing}
	}
	return resp, nil
}
