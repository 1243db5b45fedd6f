package testutil

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/sync/errgroup"

	"github.com/bobg/accession"
	"github.com/bobg/accession/block"
)

// Blocks tests storing, finding, and committing blocks.
func Blocks(ctx context.Context, t *testing.T, s block.Store) {
	_, err := s.FindLatestBlock(ctx, "cat", "inst1")
	if !errors.Is(err, accession.ErrNotFound) {
		t.Fatalf("got error %v, want ErrNotFound", err)
	}
	_, err = s.FindGlobalLatestBlock(ctx, "cat")
	if !errors.Is(err, accession.ErrNotFound) {
		t.Fatalf("got error %v, want ErrNotFound", err)
	}

	var (
		b1 = block.New("cat", "inst1", 1, 100)
		b2 = block.New("cat", "inst2", 101, 100)
		b3 = block.New("cat", "inst1", 201, 50)
		b4 = block.New("other", "inst1", 1, 10)
	)
	for _, b := range []block.Block{b1, b2, b3, b4} {
		if err := s.InsertBlock(ctx, b); err != nil {
			t.Fatalf("inserting %s: %s", b, err)
		}
	}

	conflicts := []block.Block{
		block.New("cat", "inst3", 1, 100),
		block.New("cat", "inst3", 150, 10),
		block.New("cat", "inst1", 250, 10),
		block.New("cat", "inst2", 50, 1000),
	}
	for i, b := range conflicts {
		t.Run(fmt.Sprintf("conflict_%02d", i+1), func(t *testing.T) {
			err := s.InsertBlock(ctx, b)
			if !errors.Is(err, block.ErrConflict) {
				t.Errorf("inserting %s: got error %v, want ErrConflict", b, err)
			}
		})
	}

	got, err := s.FindLatestBlock(ctx, "cat", "inst1")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(b3, got); diff != "" {
		t.Errorf("latest block mismatch (-want +got):\n%s", diff)
	}

	got, err = s.FindGlobalLatestBlock(ctx, "cat")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(b3, got); diff != "" {
		t.Errorf("global latest block mismatch (-want +got):\n%s", diff)
	}

	b1.LastCommitted = 42
	if err := s.CommitBlock(ctx, b1); err != nil {
		t.Fatal(err)
	}
	stale := b1
	stale.LastCommitted = 41
	if err := s.CommitBlock(ctx, stale); !errors.Is(err, accession.ErrNotFound) {
		t.Errorf("got error %v for backward commit, want ErrNotFound", err)
	}

	var all []block.Block
	err = s.FindAllBlocks(ctx, "cat", "inst1", func(b block.Block) error {
		all = append(all, b)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]block.Block{b1, b3}, all); diff != "" {
		t.Errorf("all blocks mismatch (-want +got):\n%s", diff)
	}
}

// Allocators runs allocators for several instances concurrently against s
// and checks that every value handed out is unique
// and that each instance's values strictly increase.
func Allocators(ctx context.Context, t *testing.T, s block.Store) {
	const (
		category  = "concurrent"
		instances = 4
		perCall   = 7
		calls     = 20
	)

	results := make([][]int64, instances)

	eg, ctx := errgroup.WithContext(ctx)
	for i := 0; i < instances; i++ {
		i := i
		a := block.NewAllocator(s, category, fmt.Sprintf("inst%d", i), block.WithBlockSize(25), block.WithMaxRetries(100))
		eg.Go(func() error {
			for j := 0; j < calls; j++ {
				vals, err := a.NextN(ctx, perCall)
				if err != nil {
					return err
				}
				results[i] = append(results[i], vals...)
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		t.Fatal(err)
	}

	seen := make(map[int64]int)
	for i, vals := range results {
		if len(vals) != perCall*calls {
			t.Errorf("instance %d got %d values, want %d", i, len(vals), perCall*calls)
		}
		for j, v := range vals {
			if j > 0 && v <= vals[j-1] {
				t.Errorf("instance %d: value %d follows %d", i, v, vals[j-1])
			}
			if other, ok := seen[v]; ok {
				t.Errorf("value %d handed out to instances %d and %d", v, other, i)
			}
			seen[v] = i
		}
	}

	var blocks []block.Block
	for i := 0; i < instances; i++ {
		err := s.FindAllBlocks(ctx, category, fmt.Sprintf("inst%d", i), func(b block.Block) error {
			blocks = append(blocks, b)
			return nil
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	sort.Slice(blocks, func(i, j int) bool { return blocks[i].FirstValue < blocks[j].FirstValue })
	for i := 1; i < len(blocks); i++ {
		if blocks[i].Overlaps(blocks[i-1]) {
			t.Errorf("blocks %s and %s overlap", blocks[i-1], blocks[i])
		}
	}
}
