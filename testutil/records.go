// Package testutil holds conformance tests
// that every accession-store backend runs from its own tests.
package testutil

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/bobg/accession"
)

var t0 = time.Date(1977, 8, 5, 12, 0, 0, 0, time.UTC)

func rec(a string, h accession.Hash, version int, data string) accession.Record[string] {
	return accession.Record[string]{
		Accession: a,
		Hash:      h,
		Version:   version,
		Data:      []byte(data),
		CreatedAt: t0.Add(time.Duration(version) * time.Hour),
	}
}

// Records tests inserting, finding, replacing, deleting, and archiving records.
func Records(ctx context.Context, t *testing.T, s accession.Store[string]) {
	var (
		r1 = rec("acc1", "hash1", 1, "one")
		r2 = rec("acc2", "hash2", 1, "two")
		r3 = rec("acc3", "hash1", 1, "three") // same hash as r1
		r4 = rec("acc1", "hash4", 1, "four")  // same accession as r1
	)

	var got []bool
	err := s.Tx(ctx, func(tx accession.Tx[string]) error {
		var err error
		got, err = tx.InsertBatch(ctx, []accession.Record[string]{r1, r2, r3, r4})
		return err
	})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]bool{true, true, false, false}, got); diff != "" {
		t.Errorf("insert results mismatch (-want +got):\n%s", diff)
	}

	m, err := s.FindAccessionsByHash(ctx, []accession.Hash{"hash1", "hash2", "hash4", "nope"})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(map[accession.Hash]string{"hash1": "acc1", "hash2": "acc2"}, m); diff != "" {
		t.Errorf("accessions by hash mismatch (-want +got):\n%s", diff)
	}

	gotRec, err := s.FindByAccession(ctx, "acc1")
	if err != nil {
		t.Fatal(err)
	}
	checkRecord(t, r1, gotRec)

	_, err = s.FindByAccession(ctx, "acc3")
	if !errors.Is(err, accession.ErrNotFound) {
		t.Errorf("got error %v, want ErrNotFound", err)
	}

	// Supersede acc1 with version 2.
	r1v2 := rec("acc1", "hash1b", 2, "one, revised")
	err = s.Tx(ctx, func(tx accession.Tx[string]) error {
		err := tx.Archive(ctx, accession.HistoryRecord[string]{Record: r1, Event: accession.EventUpdated, ArchivedAt: t0.Add(10 * time.Hour)})
		if err != nil {
			return err
		}
		return tx.Replace(ctx, r1v2)
	})
	if err != nil {
		t.Fatal(err)
	}

	m, err = s.FindAccessionsByHash(ctx, []accession.Hash{"hash1", "hash1b"})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(map[accession.Hash]string{"hash1b": "acc1"}, m); diff != "" {
		t.Errorf("accessions by hash after replace mismatch (-want +got):\n%s", diff)
	}

	cases := []struct {
		a       string
		version int
		want    accession.Record[string]
		wantErr error
	}{
		{a: "acc1", version: 1, want: r1},
		{a: "acc1", version: 2, want: r1v2},
		{a: "acc1", version: 3, wantErr: accession.ErrNotFound},
		{a: "acc2", version: 1, want: r2},
		{a: "acc3", version: 1, wantErr: accession.ErrNotFound},
	}
	for i, c := range cases {
		t.Run(fmt.Sprintf("case_%02d", i+1), func(t *testing.T) {
			got, err := s.FindByAccessionAndVersion(ctx, c.a, c.version)
			if c.wantErr != nil {
				if !errors.Is(err, c.wantErr) {
					t.Errorf("got error %v, want %v", err, c.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			checkRecord(t, c.want, got)
		})
	}

	// Archiving the same version twice fails, and rolls back the whole transaction.
	r1v3 := rec("acc1", "hash1c", 3, "one, revised again")
	err = s.Tx(ctx, func(tx accession.Tx[string]) error {
		if err := tx.Replace(ctx, r1v3); err != nil {
			return err
		}
		return tx.Archive(ctx, accession.HistoryRecord[string]{Record: r1, Event: accession.EventUpdated, ArchivedAt: t0})
	})
	if !errors.Is(err, accession.ErrHistoryExists) {
		t.Errorf("got error %v, want ErrHistoryExists", err)
	}
	gotRec, err = s.FindByAccession(ctx, "acc1")
	if err != nil {
		t.Fatal(err)
	}
	checkRecord(t, r1v2, gotRec)

	// Replacing with another accession's hash fails.
	err = s.Tx(ctx, func(tx accession.Tx[string]) error {
		return tx.Replace(ctx, rec("acc1", "hash2", 3, "two"))
	})
	if !errors.Is(err, accession.ErrHashExists) {
		t.Errorf("got error %v, want ErrHashExists", err)
	}

	// Deprecate acc2.
	err = s.Tx(ctx, func(tx accession.Tx[string]) error {
		err := tx.Archive(ctx, accession.HistoryRecord[string]{Record: r2, Event: accession.EventMerged, MergedInto: "acc1", ArchivedAt: t0.Add(11 * time.Hour)})
		if err != nil {
			return err
		}
		return tx.Delete(ctx, "acc2")
	})
	if err != nil {
		t.Fatal(err)
	}
	_, err = s.FindByAccession(ctx, "acc2")
	if !errors.Is(err, accession.ErrNotFound) {
		t.Errorf("got error %v, want ErrNotFound", err)
	}

	var hist []accession.HistoryRecord[string]
	err = s.ListHistory(ctx, "acc2", func(h accession.HistoryRecord[string]) error {
		hist = append(hist, h)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != 1 {
		t.Fatalf("got %d history records, want 1", len(hist))
	}
	if hist[0].Event != accession.EventMerged || hist[0].MergedInto != "acc1" {
		t.Errorf("got event %s into %q, want merged into acc1", hist[0].Event, hist[0].MergedInto)
	}
	checkRecord(t, r2, hist[0].Record)

	// The freed hash can be inserted again under a new accession.
	err = s.Tx(ctx, func(tx accession.Tx[string]) error {
		got, err := tx.InsertBatch(ctx, []accession.Record[string]{rec("acc5", "hash2", 1, "two")})
		if err != nil {
			return err
		}
		if !got[0] {
			return errors.New("reinsert of freed hash reported duplicate")
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	// An accession that exists only in history is never reissued,
	// whatever the content.
	err = s.Tx(ctx, func(tx accession.Tx[string]) error {
		got, err := tx.InsertBatch(ctx, []accession.Record[string]{
			rec("acc2", "hash6", 1, "six"),
			rec("acc6", "hash7", 1, "seven"),
		})
		if err != nil {
			return err
		}
		if diff := cmp.Diff([]bool{false, true}, got); diff != "" {
			t.Errorf("insert of retired accession mismatch (-want +got):\n%s", diff)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	_, err = s.FindByAccession(ctx, "acc2")
	if !errors.Is(err, accession.ErrNotFound) {
		t.Errorf("got error %v for retired accession, want ErrNotFound", err)
	}
	m, err = s.FindAccessionsByHash(ctx, []accession.Hash{"hash6", "hash7"})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(map[accession.Hash]string{"hash7": "acc6"}, m); diff != "" {
		t.Errorf("accessions by hash after retired insert mismatch (-want +got):\n%s", diff)
	}
}

func checkRecord(t *testing.T, want, got accession.Record[string]) {
	t.Helper()
	if diff := cmp.Diff(want, got, cmp.Comparer(func(a, b time.Time) bool { return a.Equal(b) })); diff != "" {
		t.Errorf("record mismatch (-want +got):\n%s", diff)
	}
}

// Int64Records tests a store whose accessions are integers.
func Int64Records(ctx context.Context, t *testing.T, s accession.Store[int64]) {
	r := accession.Record[int64]{Accession: 1001, Hash: "h1001", Version: 1, Data: []byte("x"), CreatedAt: t0}

	err := s.Tx(ctx, func(tx accession.Tx[int64]) error {
		if _, err := tx.InsertBatch(ctx, []accession.Record[int64]{r}); err != nil {
			return err
		}
		return tx.Archive(ctx, accession.HistoryRecord[int64]{Record: r, Event: accession.EventDeprecated, ArchivedAt: t0})
	})
	if err != nil {
		t.Fatal(err)
	}

	m, err := s.FindAccessionsByHash(ctx, []accession.Hash{"h1001"})
	if err != nil {
		t.Fatal(err)
	}
	if m["h1001"] != 1001 {
		t.Errorf("got accession %d, want 1001", m["h1001"])
	}

	var hist []accession.HistoryRecord[int64]
	err = s.ListHistory(ctx, 1001, func(h accession.HistoryRecord[int64]) error {
		hist = append(hist, h)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != 1 || hist[0].Accession != 1001 || hist[0].MergedInto != 0 || hist[0].Event != accession.EventDeprecated {
		t.Errorf("got history %+v", hist)
	}
}
