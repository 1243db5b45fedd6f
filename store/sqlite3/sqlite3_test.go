package sqlite3

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/bobg/accession/testutil"
)

func TestRecords(t *testing.T) {
	ctx := context.Background()
	withTestStore(ctx, t, func(s *Store[string]) {
		testutil.Records(ctx, t, s)
	})
}

func TestBlocks(t *testing.T) {
	ctx := context.Background()
	withTestStore(ctx, t, func(s *Store[string]) {
		testutil.Blocks(ctx, t, s)
	})
}

func TestAllocators(t *testing.T) {
	ctx := context.Background()
	withTestStore(ctx, t, func(s *Store[string]) {
		testutil.Allocators(ctx, t, s)
	})
}

func TestInt64Accessions(t *testing.T) {
	ctx := context.Background()

	dir, err := os.MkdirTemp("", "accessionsqlite3test")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	s, err := Open[int64](ctx, filepath.Join(dir, "db"))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	testutil.Int64Records(ctx, t, s)
}

func withTestStore(ctx context.Context, t *testing.T, fn func(*Store[string])) {
	dir, err := os.MkdirTemp("", "accessionsqlite3test")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	s, err := Open[string](ctx, filepath.Join(dir, "db"))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	fn(s)
}
