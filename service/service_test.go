package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/bobg/accession"
	"github.com/bobg/accession/block"
	"github.com/bobg/accession/generator"
	"github.com/bobg/accession/hashing"
	"github.com/bobg/accession/history"
	"github.com/bobg/accession/store/mem"
)

type sample struct {
	Name  string `json:"name"`
	Value int    `json:"value"`
}

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetLevel(logrus.WarnLevel)
	return l
}

func TestGetOrCreateHashed(t *testing.T) {
	var (
		ctx = context.Background()
		s   = mem.New[string]()
		svc = New[sample, string](s, generator.Hashed[sample, string]{Prefix: "S-"}, Config[sample]{Log: quietLogger()})
	)

	models := []sample{{Name: "a", Value: 1}, {Name: "b", Value: 2}, {Name: "a", Value: 1}}
	got, err := svc.GetOrCreate(ctx, models)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d results, want 3", len(got))
	}
	if got[0].Accession != got[2].Accession {
		t.Errorf("equal models got accessions %s and %s", got[0].Accession, got[2].Accession)
	}
	if got[0].Accession == got[1].Accession {
		t.Errorf("distinct models share accession %s", got[0].Accession)
	}

	h, err := svc.Hash(sample{Name: "a", Value: 1})
	if err != nil {
		t.Fatal(err)
	}
	if want := "S-" + string(h); got[0].Accession != want {
		t.Errorf("got accession %s, want %s", got[0].Accession, want)
	}
	if len(h) != hashing.MustNew(hashing.DefaultName).Size() {
		t.Errorf("hash %s has length %d", h, len(h))
	}

	again, err := svc.GetOrCreate(ctx, models)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(got, again); diff != "" {
		t.Errorf("resubmission mismatch (-want +got):\n%s", diff)
	}
}

func TestGetOrCreateMonotonic(t *testing.T) {
	var (
		ctx   = context.Background()
		s     = mem.New[int64]()
		alloc = block.NewAllocator(s, "samples", "inst1", block.WithBlockSize(5))
		svc   = New[sample, int64](s, generator.Monotonic[sample, int64]{Allocator: alloc}, Config[sample]{Log: quietLogger()})
	)

	first, err := svc.GetOrCreate(ctx, []sample{{Name: "x"}, {Name: "y"}})
	if err != nil {
		t.Fatal(err)
	}
	want := []accession.Wrapper[sample, int64]{
		{Accession: 1, Hash: first[0].Hash, Version: 1, Model: sample{Name: "x"}},
		{Accession: 2, Hash: first[1].Hash, Version: 1, Model: sample{Name: "y"}},
	}
	if diff := cmp.Diff(want, first); diff != "" {
		t.Errorf("first batch mismatch (-want +got):\n%s", diff)
	}

	// Resubmitting known content must not consume values.
	if _, err := svc.GetOrCreate(ctx, []sample{{Name: "y"}, {Name: "x"}}); err != nil {
		t.Fatal(err)
	}
	next, err := svc.GetOrCreate(ctx, []sample{{Name: "z"}})
	if err != nil {
		t.Fatal(err)
	}
	if next[0].Accession != 3 {
		t.Errorf("got accession %d, want 3", next[0].Accession)
	}
}

func TestConcurrentGetOrCreate(t *testing.T) {
	const n = 8

	var (
		ctx   = context.Background()
		s     = mem.New[int64]()
		model = sample{Name: "shared", Value: 7}

		mu   sync.Mutex
		seen = make(map[int64]bool)
	)

	eg, ctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		i := i
		eg.Go(func() error {
			alloc := block.NewAllocator(s, "samples", fmt.Sprintf("inst%d", i), block.WithBlockSize(3))
			svc := New[sample, int64](s, generator.Monotonic[sample, int64]{Allocator: alloc}, Config[sample]{Log: quietLogger()})
			got, err := svc.GetOrCreate(ctx, []sample{model})
			if err != nil {
				return err
			}
			mu.Lock()
			seen[got[0].Accession] = true
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

func TestLifecycle(t *testing.T) {
	var (
		ctx  = context.Background()
		s    = mem.New[string]()
		t0   = time.Date(2021, 6, 1, 0, 0, 0, 0, time.UTC)
		conf = Config[sample]{Log: quietLogger(), Now: func() time.Time { return t0 }}
		svc  = New[sample, string](s, generator.Hashed[sample, string]{}, conf)
	)

	created, err := svc.GetOrCreate(ctx, []sample{{Name: "a", Value: 1}, {Name: "b", Value: 2}})
	if err != nil {
		t.Fatal(err)
	}
	a, b := created[0].Accession, created[1].Accession

	upd, err := svc.Update(ctx, a, 1, sample{Name: "a", Value: 10})
	if err != nil {
		t.Fatal(err)
	}
	if upd.Version != 2 {
		t.Errorf("got version %d after update, want 2", upd.Version)
	}

	cur, err := svc.GetByAccession(ctx, a)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(upd, cur); diff != "" {
		t.Errorf("current version mismatch (-want +got):\n%s", diff)
	}

	old, err := svc.GetByAccessionAndVersion(ctx, a, 1)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(created[0], old); diff != "" {
		t.Errorf("old version mismatch (-want +got):\n%s", diff)
	}

	hist, err := svc.History(ctx, a)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]accession.Wrapper[sample, string]{created[0]}, hist); diff != "" {
		t.Errorf("history mismatch (-want +got):\n%s", diff)
	}

	// The old content is no longer live, so Get finds nothing for it.
	found, err := svc.Get(ctx, []sample{{Name: "a", Value: 1}, {Name: "b", Value: 2}})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]accession.Wrapper[sample, string]{created[1]}, found); diff != "" {
		t.Errorf("Get mismatch (-want +got):\n%s", diff)
	}

	// Updating a to b's content collides.
	if _, err := svc.Update(ctx, a, 0, sample{Name: "b", Value: 2}); !errors.Is(err, accession.ErrHashExists) {
		t.Errorf("got error %v, want ErrHashExists", err)
	}

	if err := svc.Merge(ctx, b, a); err != nil {
		t.Fatal(err)
	}
	_, err = svc.GetByAccession(ctx, b)
	var inactive *accession.InactiveError[string]
	if !errors.As(err, &inactive) {
		t.Fatalf("got error %v, want InactiveError", err)
	}
	if inactive.Event != accession.EventMerged || inactive.MergedInto != a {
		t.Errorf("got %+v, want merged into %s", inactive, a)
	}

	if err := svc.Deprecate(ctx, a, 1); !errors.Is(err, accession.ErrVersionMismatch) {
		t.Errorf("got error %v, want ErrVersionMismatch", err)
	}
	if err := svc.Deprecate(ctx, a, 2); err != nil {
		t.Fatal(err)
	}
	_, err = svc.GetByAccession(ctx, a)
	if !errors.As(err, &inactive) || inactive.Event != accession.EventDeprecated {
		t.Errorf("got error %v, want deprecated InactiveError", err)
	}

	// Deprecated content may be accessioned afresh.
	again, err := svc.GetOrCreate(ctx, []sample{{Name: "a", Value: 10}})
	if err != nil {
		t.Fatal(err)
	}
	if again[0].Version != 1 {
		t.Errorf("got version %d for re-accessioned content, want 1", again[0].Version)
	}
}

type countingGen struct {
	generator.Generator[sample, string]
	calls int
}

func (g *countingGen) Generate(ctx context.Context, hashed []accession.Hashed[sample]) ([]accession.ModelHashAccession[sample, string], error) {
	g.calls++
	return g.Generator.Generate(ctx, hashed)
}

func TestHashedRetiredContent(t *testing.T) {
	var (
		ctx = context.Background()
		s   = mem.New[string]()
		gen = &countingGen{Generator: generator.Hashed[sample, string]{}}
		svc = New[sample, string](s, gen, Config[sample]{Log: quietLogger(), Retries: 3})

		x = sample{Name: "x", Value: 1}
		y = sample{Name: "y", Value: 2}
		z = sample{Name: "z", Value: 3}
		w = sample{Name: "w", Value: 4}
	)

	created, err := svc.GetOrCreate(ctx, []sample{x, y, w})
	if err != nil {
		t.Fatal(err)
	}
	ax, ay, aw := created[0].Accession, created[1].Accession, created[2].Accession

	if err := svc.Deprecate(ctx, ax, 1); err != nil {
		t.Fatal(err)
	}
	if err := svc.Merge(ctx, aw, ay); err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		model   sample
		retired string
		event   accession.Event
	}{
		{model: x, retired: ax, event: accession.EventDeprecated},
		{model: w, retired: aw, event: accession.EventMerged},
	}
	for i, c := range cases {
		t.Run(fmt.Sprintf("case_%02d", i+1), func(t *testing.T) {
			gen.calls = 0
			_, err := svc.GetOrCreate(ctx, []sample{c.model})
			var missing *accession.MissingUnsavedError[sample, string]
			if !errors.As(err, &missing) {
				t.Fatalf("got error %v, want MissingUnsavedError", err)
			}
			if len(missing.Missing) != 1 || missing.Missing[0].Accession != c.retired {
				t.Errorf("got missing %v, want just %s", missing.Missing, c.retired)
			}
			if gen.calls != 2 {
				t.Errorf("generator called %d times, want 2", gen.calls)
			}

			_, err = svc.GetByAccession(ctx, c.retired)
			var inactive *accession.InactiveError[string]
			if !errors.As(err, &inactive) {
				t.Fatalf("got error %v, want InactiveError", err)
			}
			if inactive.Event != c.event || inactive.Version != 1 {
				t.Errorf("got %+v, want event %s at version 1", inactive, c.event)
			}
		})
	}

	// y is updated to z; resubmitting y must leave ay intact.
	if _, err := svc.Update(ctx, ay, 1, z); err != nil {
		t.Fatal(err)
	}
	gen.calls = 0
	_, err = svc.GetOrCreate(ctx, []sample{y})
	var missing *accession.MissingUnsavedError[sample, string]
	if !errors.As(err, &missing) {
		t.Fatalf("got error %v, want MissingUnsavedError", err)
	}
	if gen.calls != 2 {
		t.Errorf("generator called %d times, want 2", gen.calls)
	}
	cur, err := svc.GetByAccession(ctx, ay)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(accession.Wrapper[sample, string]{Accession: ay, Hash: cur.Hash, Version: 2, Model: z}, cur); diff != "" {
		t.Errorf("updated accession mismatch (-want +got):\n%s", diff)
	}

	upd, err := svc.Update(ctx, ay, 2, sample{Name: "y", Value: 20})
	if err != nil {
		t.Fatal(err)
	}
	if upd.Version != 3 {
		t.Errorf("got version %d after second update, want 3", upd.Version)
	}
	hist, err := svc.History(ctx, ay)
	if err != nil {
		t.Fatal(err)
	}
	var models []sample
	for _, h := range hist {
		models = append(models, h.Model)
	}
	if diff := cmp.Diff([]sample{y, z}, models); diff != "" {
		t.Errorf("history mismatch (-want +got):\n%s", diff)
	}

	// Content alongside a retired one is still saved.
	v := sample{Name: "v", Value: 5}
	_, err = svc.GetOrCreate(ctx, []sample{x, v})
	if !errors.As(err, &missing) || len(missing.Missing) != 1 || missing.Missing[0].Accession != ax {
		t.Errorf("got error %v, want just %s missing", err, ax)
	}
	found, err := svc.Get(ctx, []sample{v})
	if err != nil {
		t.Fatal(err)
	}
	if len(found) != 1 || found[0].Version != 1 {
		t.Errorf("got %v for new content, want one version-1 accession", found)
	}
}

// deprecatingStore deprecates each accession it reports from a hash lookup,
// once, as if a concurrent caller had.
type deprecatingStore struct {
	*mem.Store[string]
	done map[string]bool
}

func (s *deprecatingStore) FindAccessionsByHash(ctx context.Context, hashes []accession.Hash) (map[accession.Hash]string, error) {
	found, err := s.Store.FindAccessionsByHash(ctx, hashes)
	if err != nil {
		return nil, err
	}
	ar := &history.Archiver[string]{Store: s.Store}
	for _, a := range found {
		if s.done[a] {
			continue
		}
		s.done[a] = true
		if _, err := ar.Deprecate(ctx, a, 0); err != nil {
			return nil, err
		}
	}
	return found, nil
}

func TestGetOrCreateConcurrentDeprecate(t *testing.T) {
	var (
		ctx   = context.Background()
		s     = &deprecatingStore{Store: mem.New[string](), done: make(map[string]bool)}
		plain = New[sample, string](s.Store, generator.Hashed[sample, string]{}, Config[sample]{Log: quietLogger()})
		svc   = New[sample, string](s, generator.Hashed[sample, string]{}, Config[sample]{Log: quietLogger()})

		x  = sample{Name: "x", Value: 1}
		x2 = sample{Name: "x", Value: 2}
	)

	created, err := plain.GetOrCreate(ctx, []sample{x})
	if err != nil {
		t.Fatal(err)
	}
	a := created[0].Accession
	if _, err := plain.Update(ctx, a, 1, x2); err != nil {
		t.Fatal(err)
	}

	got, err := svc.GetOrCreate(ctx, []sample{x2, x2})
	if err != nil {
		t.Fatal(err)
	}
	for i, w := range got {
		if w.Accession != a || w.Version != 2 {
			t.Errorf("result %d: got %s version %d, want %s version 2", i, w.Accession, w.Version, a)
		}
	}
	if !s.done[a] {
		t.Error("accession was not deprecated during the lookup")
	}
}
