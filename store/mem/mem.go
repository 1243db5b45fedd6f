// Package mem implements an in-memory accession store.
package mem

import (
	"context"
	"sort"
	"sync"

	"github.com/bobg/accession"
	"github.com/bobg/accession/block"
	"github.com/bobg/accession/store"
)

var (
	_ accession.Store[string] = &Store[string]{}
	_ block.Store             = &Store[string]{}
	_ store.Backend           = &Store[string]{}
)

// Store is a memory-based implementation of an accession store and a block store.
//
// A transaction holds the Store's lock for its whole duration
// and works on a copy of the Store's contents,
// which replaces the original only if the transaction succeeds.
// The callback passed to Tx must not call methods on the Store itself.
type Store[A accession.ID] struct {
	mu     sync.Mutex
	st     *state[A]
	blocks []block.Block
}

type state[A accession.ID] struct {
	records map[A]accession.Record[A]
	byHash  map[accession.Hash]A
	history map[A][]accession.HistoryRecord[A] // ascending by version
}

func newState[A accession.ID]() *state[A] {
	return &state[A]{
		records: make(map[A]accession.Record[A]),
		byHash:  make(map[accession.Hash]A),
		history: make(map[A][]accession.HistoryRecord[A]),
	}
}

func (st *state[A]) clone() *state[A] {
	result := newState[A]()
	for k, v := range st.records {
		result.records[k] = v
	}
	for k, v := range st.byHash {
		result.byHash[k] = v
	}
	for k, v := range st.history {
		result.history[k] = append([]accession.HistoryRecord[A](nil), v...)
	}
	return result
}

// New produces a new Store.
func New[A accession.ID]() *Store[A] {
	return &Store[A]{st: newState[A]()}
}

// FindAccessionsByHash implements accession.Getter.
func (s *Store[A]) FindAccessionsByHash(ctx context.Context, hashes []accession.Hash) (map[accession.Hash]A, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.findAccessionsByHash(hashes), nil
}

// FindByAccession implements accession.Getter.
func (s *Store[A]) FindByAccession(ctx context.Context, a A) (accession.Record[A], error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.findByAccession(a)
}

// FindByAccessionAndVersion implements accession.Getter.
func (s *Store[A]) FindByAccessionAndVersion(ctx context.Context, a A, version int) (accession.Record[A], error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.findByAccessionAndVersion(a, version)
}

// ListHistory implements accession.Getter.
func (s *Store[A]) ListHistory(ctx context.Context, a A, f func(accession.HistoryRecord[A]) error) error {
	s.mu.Lock()
	hist := append([]accession.HistoryRecord[A](nil), s.st.history[a]...)
	s.mu.Unlock()

	for _, h := range hist {
		if err := f(h); err != nil {
			return err
		}
	}
	return nil
}

// Tx implements accession.Store.
func (s *Store[A]) Tx(ctx context.Context, f func(accession.Tx[A]) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &tx[A]{st: s.st.clone()}
	if err := f(tx); err != nil {
		return err
	}
	s.st = tx.st
	return nil
}

// Caller must obtain a lock.
func (st *state[A]) findAccessionsByHash(hashes []accession.Hash) map[accession.Hash]A {
	result := make(map[accession.Hash]A)
	for _, h := range hashes {
		if a, ok := st.byHash[h]; ok {
			result[h] = a
		}
	}
	return result
}

// Caller must obtain a lock.
func (st *state[A]) findByAccession(a A) (accession.Record[A], error) {
	if rec, ok := st.records[a]; ok {
		return rec, nil
	}
	return accession.Record[A]{}, accession.ErrNotFound
}

// Caller must obtain a lock.
func (st *state[A]) findByAccessionAndVersion(a A, version int) (accession.Record[A], error) {
	if rec, ok := st.records[a]; ok && rec.Version == version {
		return rec, nil
	}
	for _, h := range st.history[a] {
		if h.Version == version {
			return h.Record, nil
		}
	}
	return accession.Record[A]{}, accession.ErrNotFound
}

type tx[A accession.ID] struct {
	st *state[A]
}

func (t *tx[A]) FindAccessionsByHash(_ context.Context, hashes []accession.Hash) (map[accession.Hash]A, error) {
	return t.st.findAccessionsByHash(hashes), nil
}

func (t *tx[A]) FindByAccession(_ context.Context, a A) (accession.Record[A], error) {
	return t.st.findByAccession(a)
}

func (t *tx[A]) FindByAccessionAndVersion(_ context.Context, a A, version int) (accession.Record[A], error) {
	return t.st.findByAccessionAndVersion(a, version)
}

func (t *tx[A]) ListHistory(_ context.Context, a A, f func(accession.HistoryRecord[A]) error) error {
	for _, h := range t.st.history[a] {
		if err := f(h); err != nil {
			return err
		}
	}
	return nil
}

func (t *tx[A]) InsertBatch(_ context.Context, recs []accession.Record[A]) ([]bool, error) {
	result := make([]bool, len(recs))
	for i, rec := range recs {
		if _, ok := t.st.byHash[rec.Hash]; ok {
			continue
		}
		if _, ok := t.st.records[rec.Accession]; ok {
			continue
		}
		if len(t.st.history[rec.Accession]) > 0 {
			// Retired accessions are never reissued.
			continue
		}
		t.st.records[rec.Accession] = rec
		t.st.byHash[rec.Hash] = rec.Accession
		result[i] = true
	}
	return result, nil
}

func (t *tx[A]) Replace(_ context.Context, rec accession.Record[A]) error {
	old, ok := t.st.records[rec.Accession]
	if !ok {
		return accession.ErrNotFound
	}
	if other, ok := t.st.byHash[rec.Hash]; ok && other != rec.Accession {
		return accession.ErrHashExists
	}
	delete(t.st.byHash, old.Hash)
	t.st.records[rec.Accession] = rec
	t.st.byHash[rec.Hash] = rec.Accession
	return nil
}

func (t *tx[A]) Delete(_ context.Context, a A) error {
	old, ok := t.st.records[a]
	if !ok {
		return accession.ErrNotFound
	}
	delete(t.st.byHash, old.Hash)
	delete(t.st.records, a)
	return nil
}

func (t *tx[A]) Archive(_ context.Context, h accession.HistoryRecord[A]) error {
	hist := t.st.history[h.Accession]
	for _, existing := range hist {
		if existing.Version == h.Version {
			return accession.ErrHistoryExists
		}
	}
	hist = append(hist, h)
	sort.Slice(hist, func(i, j int) bool { return hist[i].Version < hist[j].Version })
	t.st.history[h.Accession] = hist
	return nil
}

// FindLatestBlock implements block.Store.
func (s *Store[A]) FindLatestBlock(_ context.Context, category, instance string) (block.Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest(func(b block.Block) bool {
		return b.CategoryID == category && b.InstanceID == instance
	})
}

// FindGlobalLatestBlock implements block.Store.
func (s *Store[A]) FindGlobalLatestBlock(_ context.Context, category string) (block.Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest(func(b block.Block) bool {
		return b.CategoryID == category
	})
}

// Caller must obtain a lock.
func (s *Store[A]) latest(pred func(block.Block) bool) (block.Block, error) {
	var (
		result block.Block
		found  bool
	)
	for _, b := range s.blocks {
		if pred(b) && (!found || b.LastValue > result.LastValue) {
			result, found = b, true
		}
	}
	if !found {
		return block.Block{}, accession.ErrNotFound
	}
	return result, nil
}

// FindAllBlocks implements block.Store.
func (s *Store[A]) FindAllBlocks(_ context.Context, category, instance string, f func(block.Block) error) error {
	s.mu.Lock()
	var blocks []block.Block
	for _, b := range s.blocks {
		if b.CategoryID == category && b.InstanceID == instance {
			blocks = append(blocks, b)
		}
	}
	s.mu.Unlock()

	sort.Slice(blocks, func(i, j int) bool { return blocks[i].LastValue < blocks[j].LastValue })
	for _, b := range blocks {
		if err := f(b); err != nil {
			return err
		}
	}
	return nil
}

// InsertBlock implements block.Store.
func (s *Store[A]) InsertBlock(_ context.Context, b block.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.blocks {
		if existing.Overlaps(b) {
			return block.ErrConflict
		}
	}
	s.blocks = append(s.blocks, b)
	return nil
}

// CommitBlock implements block.Store.
func (s *Store[A]) CommitBlock(_ context.Context, b block.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, existing := range s.blocks {
		if existing.CategoryID != b.CategoryID || existing.InstanceID != b.InstanceID || existing.FirstValue != b.FirstValue {
			continue
		}
		if existing.LastCommitted > b.LastCommitted {
			break
		}
		s.blocks[i].LastCommitted = b.LastCommitted
		return nil
	}
	return accession.ErrNotFound
}

func init() {
	store.Register("mem", func(context.Context, map[string]interface{}) (store.Backend, error) {
		return New[string](), nil
	})
}
