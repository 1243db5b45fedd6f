// Package logging implements a store that delegates everything to a nested store,
// logging operations as they happen.
package logging

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/bobg/accession"
	"github.com/bobg/accession/block"
	"github.com/bobg/accession/store"
)

var _ store.Backend = &Store{}

type Store struct {
	s   store.Backend
	log logrus.FieldLogger
}

// New produces a Store that logs to log,
// or to the logrus standard logger if log is nil.
func New(s store.Backend, log logrus.FieldLogger) *Store {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Store{s: s, log: log}
}

func report(log logrus.FieldLogger, err error, msg string) {
	if err != nil {
		log.WithError(err).Error(msg)
	} else {
		log.Debug(msg)
	}
}

func (s *Store) FindAccessionsByHash(ctx context.Context, hashes []accession.Hash) (map[accession.Hash]string, error) {
	m, err := s.s.FindAccessionsByHash(ctx, hashes)
	report(s.log.WithFields(logrus.Fields{"hashes": len(hashes), "found": len(m)}), err, "FindAccessionsByHash")
	return m, err
}

func (s *Store) FindByAccession(ctx context.Context, a string) (accession.Record[string], error) {
	rec, err := s.s.FindByAccession(ctx, a)
	report(s.log.WithFields(logrus.Fields{"accession": a, "version": rec.Version}), err, "FindByAccession")
	return rec, err
}

func (s *Store) FindByAccessionAndVersion(ctx context.Context, a string, version int) (accession.Record[string], error) {
	rec, err := s.s.FindByAccessionAndVersion(ctx, a, version)
	report(s.log.WithFields(logrus.Fields{"accession": a, "version": version}), err, "FindByAccessionAndVersion")
	return rec, err
}

func (s *Store) ListHistory(ctx context.Context, a string, f func(accession.HistoryRecord[string]) error) error {
	return listHistory(ctx, s.log, s.s, a, f)
}

func listHistory(ctx context.Context, log logrus.FieldLogger, g accession.Getter[string], a string, f func(accession.HistoryRecord[string]) error) error {
	log = log.WithField("accession", a)
	log.Debug("ListHistory")
	return g.ListHistory(ctx, a, func(h accession.HistoryRecord[string]) error {
		err := f(h)
		report(log.WithFields(logrus.Fields{"version": h.Version, "event": h.Event}), err, "  ListHistory")
		return err
	})
}

func (s *Store) Tx(ctx context.Context, f func(accession.Tx[string]) error) error {
	err := s.s.Tx(ctx, func(t accession.Tx[string]) error {
		return f(&tx{t: t, log: s.log})
	})
	report(s.log, err, "Tx")
	return err
}

type tx struct {
	t   accession.Tx[string]
	log logrus.FieldLogger
}

func (t *tx) FindAccessionsByHash(ctx context.Context, hashes []accession.Hash) (map[accession.Hash]string, error) {
	m, err := t.t.FindAccessionsByHash(ctx, hashes)
	report(t.log.WithFields(logrus.Fields{"hashes": len(hashes), "found": len(m)}), err, "  FindAccessionsByHash")
	return m, err
}

func (t *tx) FindByAccession(ctx context.Context, a string) (accession.Record[string], error) {
	rec, err := t.t.FindByAccession(ctx, a)
	report(t.log.WithFields(logrus.Fields{"accession": a, "version": rec.Version}), err, "  FindByAccession")
	return rec, err
}

func (t *tx) FindByAccessionAndVersion(ctx context.Context, a string, version int) (accession.Record[string], error) {
	rec, err := t.t.FindByAccessionAndVersion(ctx, a, version)
	report(t.log.WithFields(logrus.Fields{"accession": a, "version": version}), err, "  FindByAccessionAndVersion")
	return rec, err
}

func (t *tx) ListHistory(ctx context.Context, a string, f func(accession.HistoryRecord[string]) error) error {
	return listHistory(ctx, t.log, t.t, a, f)
}

func (t *tx) InsertBatch(ctx context.Context, recs []accession.Record[string]) ([]bool, error) {
	inserted, err := t.t.InsertBatch(ctx, recs)
	var n int
	for _, ok := range inserted {
		if ok {
			n++
		}
	}
	report(t.log.WithFields(logrus.Fields{"records": len(recs), "inserted": n}), err, "  InsertBatch")
	return inserted, err
}

func (t *tx) Replace(ctx context.Context, rec accession.Record[string]) error {
	err := t.t.Replace(ctx, rec)
	report(t.log.WithFields(logrus.Fields{"accession": rec.Accession, "version": rec.Version, "hash": rec.Hash}), err, "  Replace")
	return err
}

func (t *tx) Delete(ctx context.Context, a string) error {
	err := t.t.Delete(ctx, a)
	report(t.log.WithField("accession", a), err, "  Delete")
	return err
}

func (t *tx) Archive(ctx context.Context, h accession.HistoryRecord[string]) error {
	err := t.t.Archive(ctx, h)
	report(t.log.WithFields(logrus.Fields{"accession": h.Accession, "version": h.Version, "event": h.Event}), err, "  Archive")
	return err
}

func (s *Store) FindLatestBlock(ctx context.Context, category, instance string) (block.Block, error) {
	b, err := s.s.FindLatestBlock(ctx, category, instance)
	report(s.log.WithFields(logrus.Fields{"category": category, "instance": instance, "block": b}), err, "FindLatestBlock")
	return b, err
}

func (s *Store) FindAllBlocks(ctx context.Context, category, instance string, f func(block.Block) error) error {
	log := s.log.WithFields(logrus.Fields{"category": category, "instance": instance})
	log.Debug("FindAllBlocks")
	return s.s.FindAllBlocks(ctx, category, instance, func(b block.Block) error {
		err := f(b)
		report(log.WithField("block", b), err, "  FindAllBlocks")
		return err
	})
}

func (s *Store) FindGlobalLatestBlock(ctx context.Context, category string) (block.Block, error) {
	b, err := s.s.FindGlobalLatestBlock(ctx, category)
	report(s.log.WithFields(logrus.Fields{"category": category, "block": b}), err, "FindGlobalLatestBlock")
	return b, err
}

func (s *Store) InsertBlock(ctx context.Context, b block.Block) error {
	err := s.s.InsertBlock(ctx, b)
	report(s.log.WithField("block", b), err, "InsertBlock")
	return err
}

func (s *Store) CommitBlock(ctx context.Context, b block.Block) error {
	err := s.s.CommitBlock(ctx, b)
	report(s.log.WithField("block", b), err, "CommitBlock")
	return err
}

func init() {
	store.Register("logging", func(ctx context.Context, conf map[string]interface{}) (store.Backend, error) {
		nested, err := store.Nested(ctx, conf)
		if err != nil {
			return nil, err
		}
		return New(nested, nil), nil
	})
}
