// Package lru implements a store that acts as a least-recently-used cache for a nested store.
package lru

import (
	"context"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"

	"github.com/bobg/accession"
	"github.com/bobg/accession/block"
	"github.com/bobg/accession/store"
)

var _ store.Backend = &Store{}

// Store implements a memory-based least-recently-used cache for an accession store.
// It caches live records by accession and accessions by hash.
// It does not cache history or blocks.
// Writes pass through to the underlying store,
// and the entries a transaction touches are evicted when it commits.
type Store struct {
	s       store.Backend
	records *lru.Cache // accession->accession.Record[string]
	hashes  *lru.Cache // accession.Hash->string

	mu  sync.Mutex
	gen uint64 // bumped by every committed write
}

// New produces a new Store backed by s and caching up to size entries of each kind.
func New(s store.Backend, size int) (*Store, error) {
	records, err := lru.New(size)
	if err != nil {
		return nil, errors.Wrap(err, "creating record cache")
	}
	hashes, err := lru.New(size)
	if err != nil {
		return nil, errors.Wrap(err, "creating hash cache")
	}
	return &Store{s: s, records: records, hashes: hashes}, nil
}

func (s *Store) generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

// add caches a value read from the nested store
// unless a write committed since the read began.
func (s *Store) add(c *lru.Cache, gen uint64, key, val interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen == gen {
		c.Add(key, val)
	}
}

// FindAccessionsByHash implements accession.Getter.
func (s *Store) FindAccessionsByHash(ctx context.Context, hashes []accession.Hash) (map[accession.Hash]string, error) {
	var (
		result = make(map[accession.Hash]string)
		misses []accession.Hash
	)
	for _, h := range hashes {
		if a, ok := s.hashes.Get(h); ok {
			result[h] = a.(string)
		} else {
			misses = append(misses, h)
		}
	}
	if len(misses) == 0 {
		return result, nil
	}

	gen := s.generation()
	found, err := s.s.FindAccessionsByHash(ctx, misses)
	if err != nil {
		return nil, err
	}
	for h, a := range found {
		result[h] = a
		s.add(s.hashes, gen, h, a)
	}
	return result, nil
}

// FindByAccession implements accession.Getter.
func (s *Store) FindByAccession(ctx context.Context, a string) (accession.Record[string], error) {
	if got, ok := s.records.Get(a); ok {
		return got.(accession.Record[string]), nil
	}
	gen := s.generation()
	rec, err := s.s.FindByAccession(ctx, a)
	if err != nil {
		return accession.Record[string]{}, err
	}
	s.add(s.records, gen, a, rec)
	return rec, nil
}

// FindByAccessionAndVersion implements accession.Getter.
func (s *Store) FindByAccessionAndVersion(ctx context.Context, a string, version int) (accession.Record[string], error) {
	if got, ok := s.records.Get(a); ok {
		if rec := got.(accession.Record[string]); rec.Version == version {
			return rec, nil
		}
	}
	return s.s.FindByAccessionAndVersion(ctx, a, version)
}

// ListHistory implements accession.Getter.
func (s *Store) ListHistory(ctx context.Context, a string, f func(accession.HistoryRecord[string]) error) error {
	return s.s.ListHistory(ctx, a, f)
}

// Tx implements accession.Store.
// Reads inside the transaction bypass the cache.
func (s *Store) Tx(ctx context.Context, f func(accession.Tx[string]) error) error {
	var t *tx
	err := s.s.Tx(ctx, func(inner accession.Tx[string]) error {
		t = &tx{Tx: inner}
		return f(t)
	})
	if err != nil || t == nil || (len(t.accessions) == 0 && len(t.hashes) == 0) {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	for _, a := range t.accessions {
		s.records.Remove(a)
	}
	for _, h := range t.hashes {
		s.hashes.Remove(h)
	}
	return nil
}

// tx records the accessions and hashes its writes touch.
type tx struct {
	accession.Tx[string]
	accessions []string
	hashes     []accession.Hash
}

func (t *tx) touch(ctx context.Context, a string) {
	t.accessions = append(t.accessions, a)
	if prior, err := t.Tx.FindByAccession(ctx, a); err == nil {
		t.hashes = append(t.hashes, prior.Hash)
	}
}

func (t *tx) InsertBatch(ctx context.Context, recs []accession.Record[string]) ([]bool, error) {
	inserted, err := t.Tx.InsertBatch(ctx, recs)
	for i, ok := range inserted {
		if ok {
			t.accessions = append(t.accessions, recs[i].Accession)
			t.hashes = append(t.hashes, recs[i].Hash)
		}
	}
	return inserted, err
}

func (t *tx) Replace(ctx context.Context, rec accession.Record[string]) error {
	t.touch(ctx, rec.Accession)
	t.hashes = append(t.hashes, rec.Hash)
	return t.Tx.Replace(ctx, rec)
}

func (t *tx) Delete(ctx context.Context, a string) error {
	t.touch(ctx, a)
	return t.Tx.Delete(ctx, a)
}

// FindLatestBlock implements block.Store.
func (s *Store) FindLatestBlock(ctx context.Context, category, instance string) (block.Block, error) {
	return s.s.FindLatestBlock(ctx, category, instance)
}

// FindAllBlocks implements block.Store.
func (s *Store) FindAllBlocks(ctx context.Context, category, instance string, f func(block.Block) error) error {
	return s.s.FindAllBlocks(ctx, category, instance, f)
}

// FindGlobalLatestBlock implements block.Store.
func (s *Store) FindGlobalLatestBlock(ctx context.Context, category string) (block.Block, error) {
	return s.s.FindGlobalLatestBlock(ctx, category)
}

// InsertBlock implements block.Store.
func (s *Store) InsertBlock(ctx context.Context, b block.Block) error {
	return s.s.InsertBlock(ctx, b)
}

// CommitBlock implements block.Store.
func (s *Store) CommitBlock(ctx context.Context, b block.Block) error {
	return s.s.CommitBlock(ctx, b)
}

func init() {
	store.Register("lru", func(ctx context.Context, conf map[string]interface{}) (store.Backend, error) {
		size, ok := store.Int(conf, "size")
		if !ok {
			return nil, errors.New(`missing "size" parameter`)
		}
		nested, err := store.Nested(ctx, conf)
		if err != nil {
			return nil, err
		}
		return New(nested, size)
	})
}
