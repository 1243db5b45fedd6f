package save

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/sync/errgroup"

	"github.com/bobg/accession"
	"github.com/bobg/accession/store/mem"
)

type triple = accession.ModelHashAccession[string, string]

func encode(m string) ([]byte, error) { return []byte(m), nil }

func TestSave(t *testing.T) {
	var (
		ctx = context.Background()
		s   = mem.New[string]()
		c   = &Coordinator[string, string]{Store: s, Encode: encode}
	)

	resp, err := c.Save(ctx, []triple{
		{Model: "one", Hash: "h1", Accession: "a1"},
		{Model: "two", Hash: "h2", Accession: "a2"},
		{Model: "one again", Hash: "h1", Accession: "a3"},
	})
	if err != nil {
		t.Fatal(err)
	}
	wantSaved := []triple{
		{Model: "one", Hash: "h1", Accession: "a1"},
		{Model: "two", Hash: "h2", Accession: "a2"},
	}
	if diff := cmp.Diff(wantSaved, resp.Saved); diff != "" {
		t.Errorf("saved mismatch (-want +got):\n%s", diff)
	}
	if len(resp.Existing) != 0 {
		t.Errorf("got %d existing, want 0", len(resp.Existing))
	}
	if a, _ := resp.Accession("h1"); a != "a1" {
		t.Errorf("got accession %s for h1, want a1", a)
	}

	resp, err = c.Save(ctx, []triple{
		{Model: "one", Hash: "h1", Accession: "b1"},
		{Model: "two", Hash: "h2", Accession: "b2"},
		{Model: "three", Hash: "h3", Accession: "b3"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]triple{{Model: "three", Hash: "h3", Accession: "b3"}}, resp.Saved); diff != "" {
		t.Errorf("saved mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(map[accession.Hash]string{"h1": "a1", "h2": "a2"}, resp.Existing); diff != "" {
		t.Errorf("existing mismatch (-want +got):\n%s", diff)
	}

	rec, err := s.FindByAccession(ctx, "a1")
	if err != nil {
		t.Fatal(err)
	}
	if string(rec.Data) != "one" || rec.Version != 1 {
		t.Errorf("got data %q version %d, want \"one\" version 1", rec.Data, rec.Version)
	}
}

// racingStore inserts competing records inside the transaction
// just before the coordinator's own insert,
// as a concurrent writer committing between the coordinator's lookup and insert would.
type racingStore struct {
	*mem.Store[string]
	competitors []accession.Record[string]
}

func (s *racingStore) Tx(ctx context.Context, f func(accession.Tx[string]) error) error {
	return s.Store.Tx(ctx, func(tx accession.Tx[string]) error {
		return f(&racingTx{Tx: tx, competitors: s.competitors})
	})
}

type racingTx struct {
	accession.Tx[string]
	competitors []accession.Record[string]
}

func (tx *racingTx) InsertBatch(ctx context.Context, recs []accession.Record[string]) ([]bool, error) {
	if len(tx.competitors) > 0 {
		if _, err := tx.Tx.InsertBatch(ctx, tx.competitors); err != nil {
			return nil, err
		}
		tx.competitors = nil
	}
	return tx.Tx.InsertBatch(ctx, recs)
}

func TestLostRace(t *testing.T) {
	var (
		ctx = context.Background()
		s   = &racingStore{
			Store:       mem.New[string](),
			competitors: []accession.Record[string]{{Accession: "a2", Hash: "h", Version: 1, Data: []byte("x")}},
		}
		c = &Coordinator[string, string]{Store: s, Encode: encode}
	)

	resp, err := c.Save(ctx, []triple{{Model: "x", Hash: "h", Accession: "a1"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Saved) != 0 {
		t.Errorf("got %d saved, want 0", len(resp.Saved))
	}
	if a, ok := resp.Accession("h"); !ok || a != "a2" {
		t.Errorf("got accession %q (%v), want a2", a, ok)
	}

	m, err := s.FindAccessionsByHash(ctx, []accession.Hash{"h"})
	if err != nil {
		t.Fatal(err)
	}
	if m["h"] != "a2" {
		t.Errorf("stored accession for h is %q, want a2", m["h"])
	}
	if _, err := s.FindByAccession(ctx, "a1"); !errors.Is(err, accession.ErrNotFound) {
		t.Errorf("got error %v for losing accession, want ErrNotFound", err)
	}
}

func TestMissingUnsaved(t *testing.T) {
	var (
		ctx = context.Background()
		s   = &racingStore{
			Store: mem.New[string](),
			// Takes accession a1 with different content.
			competitors: []accession.Record[string]{{Accession: "a1", Hash: "other", Version: 1, Data: []byte("y")}},
		}
		c = &Coordinator[string, string]{Store: s, Encode: encode}
	)

	resp, err := c.Save(ctx, []triple{
		{Model: "x", Hash: "h1", Accession: "a1"},
		{Model: "z", Hash: "h2", Accession: "a2"},
	})

	var missingErr *accession.MissingUnsavedError[string, string]
	if !errors.As(err, &missingErr) {
		t.Fatalf("got error %v, want MissingUnsavedError", err)
	}
	if diff := cmp.Diff([]triple{{Model: "x", Hash: "h1", Accession: "a1"}}, missingErr.Missing); diff != "" {
		t.Errorf("missing mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]triple{{Model: "z", Hash: "h2", Accession: "a2"}}, resp.Saved); diff != "" {
		t.Errorf("saved mismatch (-want +got):\n%s", diff)
	}

	// The rest of the batch was committed.
	if _, err := s.FindByAccession(ctx, "a2"); err != nil {
		t.Errorf("getting a2: %s", err)
	}
}

func TestConcurrentSaves(t *testing.T) {
	const n = 10

	var (
		ctx = context.Background()
		s   = mem.New[string]()
		c   = &Coordinator[string, string]{Store: s, Encode: encode}

		mu   sync.Mutex
		seen = make(map[string]bool)
	)

	eg, ctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		i := i
		eg.Go(func() error {
			resp, err := c.Save(ctx, []triple{{Model: "same", Hash: "h", Accession: fmt.Sprintf("a%d", i)}})
			if err != nil {
				return err
			}
			a, ok := resp.Accession("h")
			if !ok {
				return errors.New("no accession for h")
			}
			mu.Lock()
			seen[a] = true
			mu.Unlock()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		t.Fatal(err)
	}
	if len(seen) != 1 {
		t.Errorf("callers observed %d distinct accessions, want 1", len(seen))
	}
}
