package history

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/bobg/accession"
	"github.com/bobg/accession/store/mem"
)

var t0 = time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)

func seed(t *testing.T, s accession.Store[string], recs ...accession.Record[string]) {
	t.Helper()
	err := s.Tx(context.Background(), func(tx accession.Tx[string]) error {
		_, err := tx.InsertBatch(context.Background(), recs)
		return err
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestUpdate(t *testing.T) {
	var (
		ctx = context.Background()
		s   = mem.New[string]()
		ar  = &Archiver[string]{Store: s, Now: func() time.Time { return t0 }}
		v1  = accession.Record[string]{Accession: "a", Hash: "h1", Version: 1, Data: []byte("one"), CreatedAt: t0.Add(-time.Hour)}
	)
	seed(t, s, v1)

	v2, err := ar.Update(ctx, "a", "h2", []byte("two"), 1)
	if err != nil {
		t.Fatal(err)
	}
	want := accession.Record[string]{Accession: "a", Hash: "h2", Version: 2, Data: []byte("two"), CreatedAt: t0}
	if diff := cmp.Diff(want, v2); diff != "" {
		t.Errorf("new version mismatch (-want +got):\n%s", diff)
	}

	hist, err := List[string](ctx, s, "a")
	if err != nil {
		t.Fatal(err)
	}
	wantHist := []accession.HistoryRecord[string]{{Record: v1, Event: accession.EventUpdated, ArchivedAt: t0}}
	if diff := cmp.Diff(wantHist, hist); diff != "" {
		t.Errorf("history mismatch (-want +got):\n%s", diff)
	}

	// Stale version.
	_, err = ar.Update(ctx, "a", "h3", []byte("three"), 1)
	if !errors.Is(err, accession.ErrVersionMismatch) {
		t.Errorf("got error %v, want ErrVersionMismatch", err)
	}

	// Same content: no new version, no new history.
	same, err := ar.Update(ctx, "a", "h2", []byte("two"), 0)
	if err != nil {
		t.Fatal(err)
	}
	if same.Version != 2 {
		t.Errorf("got version %d, want 2", same.Version)
	}
	hist, err = List[string](ctx, s, "a")
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != 1 {
		t.Errorf("got %d history records, want 1", len(hist))
	}

	_, err = ar.Update(ctx, "nope", "h9", nil, 0)
	if !errors.Is(err, accession.ErrNotFound) {
		t.Errorf("got error %v, want ErrNotFound", err)
	}
}

func TestUpdateHashTaken(t *testing.T) {
	var (
		ctx = context.Background()
		s   = mem.New[string]()
		ar  = &Archiver[string]{Store: s}
	)
	seed(t, s,
		accession.Record[string]{Accession: "a", Hash: "ha", Version: 1, Data: []byte("a")},
		accession.Record[string]{Accession: "b", Hash: "hb", Version: 1, Data: []byte("b")},
	)

	_, err := ar.Update(ctx, "a", "hb", []byte("b"), 0)
	if !errors.Is(err, accession.ErrHashExists) {
		t.Fatalf("got error %v, want ErrHashExists", err)
	}

	// Neither the overwrite nor the archive happened.
	hist, err := List[string](ctx, s, "a")
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != 0 {
		t.Errorf("got %d history records after failed update, want 0", len(hist))
	}
	rec, err := s.FindByAccession(ctx, "a")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Hash != "ha" {
		t.Errorf("got hash %s, want ha", rec.Hash)
	}
}

func TestDeprecateAndMerge(t *testing.T) {
	var (
		ctx = context.Background()
		s   = mem.New[string]()
		ar  = &Archiver[string]{Store: s}
	)
	seed(t, s,
		accession.Record[string]{Accession: "a", Hash: "ha", Version: 1, Data: []byte("a")},
		accession.Record[string]{Accession: "b", Hash: "hb", Version: 1, Data: []byte("b")},
		accession.Record[string]{Accession: "c", Hash: "hc", Version: 1, Data: []byte("c")},
	)

	if _, err := ar.Deprecate(ctx, "a", 2); !errors.Is(err, accession.ErrVersionMismatch) {
		t.Errorf("got error %v, want ErrVersionMismatch", err)
	}
	if _, err := ar.Deprecate(ctx, "a", 1); err != nil {
		t.Fatal(err)
	}
	if _, err := ar.Merge(ctx, "b", "c"); err != nil {
		t.Fatal(err)
	}
	if _, err := ar.Merge(ctx, "c", "a"); !errors.Is(err, accession.ErrNotFound) {
		t.Errorf("got error %v merging into deprecated accession, want ErrNotFound", err)
	}
	if _, err := ar.Merge(ctx, "c", "c"); err == nil {
		t.Error("got no error merging an accession into itself")
	}

	err := Inactive[string](ctx, s, "a")
	var inactive *accession.InactiveError[string]
	if !errors.As(err, &inactive) || inactive.Event != accession.EventDeprecated {
		t.Errorf("got %v, want deprecated InactiveError", err)
	}
	if !errors.Is(err, accession.ErrNotFound) {
		t.Errorf("InactiveError does not match ErrNotFound")
	}

	err = Inactive[string](ctx, s, "b")
	if !errors.As(err, &inactive) || inactive.Event != accession.EventMerged || inactive.MergedInto != "c" {
		t.Errorf("got %v, want InactiveError merged into c", err)
	}

	err = Inactive[string](ctx, s, "zzz")
	if !errors.Is(err, accession.ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}

	// The freed hash can be accessioned afresh.
	m, err := s.FindAccessionsByHash(ctx, []accession.Hash{"ha", "hb", "hc"})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(map[accession.Hash]string{"hc": "c"}, m); diff != "" {
		t.Errorf("live hashes mismatch (-want +got):\n%s", diff)
	}
}
