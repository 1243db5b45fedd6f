// Package compress implements a store that compresses and uncompresses record data
// on its way into and out of a nested store.
//
// Hashes are computed from model summaries before data reaches the store,
// so compression does not affect deduplication.
// All data in the nested store must have been written through a compress.Store.
package compress

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/bobg/accession"
	"github.com/bobg/accession/store"
)

var _ store.Backend = &Store{}

// Stored data begins with one of these tags.
const (
	tagRaw        byte = 0
	tagCompressed byte = 1
)

// Store wraps a nested store.Backend.
// Blocks and hash lookups pass straight through.
type Store struct {
	store.Backend
	c Compressor
}

type Compressor interface {
	Compress([]byte) ([]byte, error)
	Uncompress([]byte) ([]byte, error)
}

func New(s store.Backend, c Compressor) *Store {
	return &Store{Backend: s, c: c}
}

func (s *Store) pack(data []byte) ([]byte, error) {
	cdata, err := s.c.Compress(data)
	if err != nil {
		return nil, errors.Wrap(err, "compressing")
	}
	if len(cdata) < len(data) {
		return append([]byte{tagCompressed}, cdata...), nil
	}
	return append([]byte{tagRaw}, data...), nil
}

func (s *Store) unpack(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return data, nil
	}
	switch data[0] {
	case tagRaw:
		return data[1:], nil
	case tagCompressed:
		result, err := s.c.Uncompress(data[1:])
		return result, errors.Wrap(err, "uncompressing")
	}
	return nil, fmt.Errorf("unknown data tag %d", data[0])
}

func (s *Store) packRecord(rec accession.Record[string]) (accession.Record[string], error) {
	data, err := s.pack(rec.Data)
	if err != nil {
		return rec, errors.Wrapf(err, "packing %s version %d", rec.Accession, rec.Version)
	}
	rec.Data = data
	return rec, nil
}

func (s *Store) unpackRecord(rec accession.Record[string]) (accession.Record[string], error) {
	data, err := s.unpack(rec.Data)
	if err != nil {
		return rec, errors.Wrapf(err, "unpacking %s version %d", rec.Accession, rec.Version)
	}
	rec.Data = data
	return rec, nil
}

func (s *Store) FindByAccession(ctx context.Context, a string) (accession.Record[string], error) {
	rec, err := s.Backend.FindByAccession(ctx, a)
	if err != nil {
		return rec, err
	}
	return s.unpackRecord(rec)
}

func (s *Store) FindByAccessionAndVersion(ctx context.Context, a string, version int) (accession.Record[string], error) {
	rec, err := s.Backend.FindByAccessionAndVersion(ctx, a, version)
	if err != nil {
		return rec, err
	}
	return s.unpackRecord(rec)
}

func (s *Store) ListHistory(ctx context.Context, a string, f func(accession.HistoryRecord[string]) error) error {
	return listHistory(ctx, s, s.Backend, a, f)
}

func listHistory(ctx context.Context, s *Store, g accession.Getter[string], a string, f func(accession.HistoryRecord[string]) error) error {
	return g.ListHistory(ctx, a, func(h accession.HistoryRecord[string]) error {
		rec, err := s.unpackRecord(h.Record)
		if err != nil {
			return err
		}
		h.Record = rec
		return f(h)
	})
}

func (s *Store) Tx(ctx context.Context, f func(accession.Tx[string]) error) error {
	return s.Backend.Tx(ctx, func(t accession.Tx[string]) error {
		return f(&tx{Tx: t, s: s})
	})
}

type tx struct {
	accession.Tx[string]
	s *Store
}

func (t *tx) FindByAccession(ctx context.Context, a string) (accession.Record[string], error) {
	rec, err := t.Tx.FindByAccession(ctx, a)
	if err != nil {
		return rec, err
	}
	return t.s.unpackRecord(rec)
}

func (t *tx) FindByAccessionAndVersion(ctx context.Context, a string, version int) (accession.Record[string], error) {
	rec, err := t.Tx.FindByAccessionAndVersion(ctx, a, version)
	if err != nil {
		return rec, err
	}
	return t.s.unpackRecord(rec)
}

func (t *tx) ListHistory(ctx context.Context, a string, f func(accession.HistoryRecord[string]) error) error {
	return listHistory(ctx, t.s, t.Tx, a, f)
}

func (t *tx) InsertBatch(ctx context.Context, recs []accession.Record[string]) ([]bool, error) {
	packed := make([]accession.Record[string], 0, len(recs))
	for _, rec := range recs {
		p, err := t.s.packRecord(rec)
		if err != nil {
			return nil, err
		}
		packed = append(packed, p)
	}
	return t.Tx.InsertBatch(ctx, packed)
}

func (t *tx) Replace(ctx context.Context, rec accession.Record[string]) error {
	p, err := t.s.packRecord(rec)
	if err != nil {
		return err
	}
	return t.Tx.Replace(ctx, p)
}

func (t *tx) Archive(ctx context.Context, h accession.HistoryRecord[string]) error {
	p, err := t.s.packRecord(h.Record)
	if err != nil {
		return err
	}
	h.Record = p
	return t.Tx.Archive(ctx, h)
}

func init() {
	store.Register("compress", func(ctx context.Context, conf map[string]interface{}) (store.Backend, error) {
		nested, err := store.Nested(ctx, conf)
		if err != nil {
			return nil, err
		}
		var c Compressor = Flate{Level: -1}
		if alg, ok := conf["algorithm"].(string); ok {
			switch alg {
			case "flate":
			case "lzw":
				c = LZW{}
			default:
				return nil, fmt.Errorf("unknown compression algorithm %s", alg)
			}
		}
		if level, ok := store.Int(conf, "level"); ok {
			if _, isFlate := c.(Flate); isFlate {
				c = Flate{Level: level}
			}
		}
		return New(nested, c), nil
	})
}
