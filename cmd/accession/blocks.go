package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/bobg/accession/block"
)

func (c maincmd) hashcmd(ctx context.Context, fs *flag.FlagSet, args []string) error {
	raw := fs.Bool("raw", false, "hash stdin as-is instead of as JSON models")
	err := fs.Parse(args)
	if err != nil {
		return errors.Wrap(err, "parsing args")
	}

	if *raw {
		b, err := io.ReadAll(os.Stdin)
		if err != nil {
			return errors.Wrap(err, "reading stdin")
		}
		fmt.Println(c.hash.Hash(b))
		return nil
	}

	models, err := readModels(os.Stdin)
	if err != nil {
		return err
	}
	for i, m := range models {
		h, err := c.svc.Hash(m)
		if err != nil {
			return errors.Wrapf(err, "hashing model %d", i)
		}
		fmt.Println(h)
	}
	return nil
}

func (c maincmd) next(ctx context.Context, fs *flag.FlagSet, args []string) error {
	var (
		n       = fs.Int("n", 1, "number of values to allocate")
		workers = fs.Int("workers", 1, "number of concurrent callers sharing the allocation")
	)
	err := fs.Parse(args)
	if err != nil {
		return errors.Wrap(err, "parsing args")
	}
	if *n < 1 || *workers < 1 {
		return errors.New("-n and -workers must be positive")
	}

	var (
		mu   sync.Mutex
		vals []int64
	)
	eg, ctx := errgroup.WithContext(ctx)
	for i := 0; i < *workers; i++ {
		count := *n / *workers
		if i < *n%*workers {
			count++
		}
		if count == 0 {
			continue
		}
		eg.Go(func() error {
			got, err := c.alloc.NextN(ctx, count)
			if err != nil {
				return err
			}
			mu.Lock()
			vals = append(vals, got...)
			mu.Unlock()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return errors.Wrap(err, "allocating values")
	}

	sort.Slice(vals, func(i, j int) bool { return vals[i] < vals[j] })
	for _, v := range vals {
		fmt.Println(v)
	}
	return nil
}

func (c maincmd) blocks(ctx context.Context, fs *flag.FlagSet, args []string) error {
	instance := fs.String("instance", "", "instance whose blocks to list (default: configured instance)")
	err := fs.Parse(args)
	if err != nil {
		return errors.Wrap(err, "parsing args")
	}

	inst := c.alloc.Instance()
	if *instance != "" {
		inst = *instance
	}
	return c.s.FindAllBlocks(ctx, c.alloc.Category(), inst, func(b block.Block) error {
		fmt.Printf("%s\t%d\n", b, b.Remaining())
		return nil
	})
}
