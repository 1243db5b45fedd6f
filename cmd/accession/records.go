package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	canonicaljson "github.com/gibson042/canonicaljson-go"
	"github.com/pkg/errors"

	"github.com/bobg/accession"
)

// readModels reads one JSON model per line from r, skipping blank lines.
func readModels(r io.Reader) ([]model, error) {
	var (
		result []model
		sc     = bufio.NewScanner(r)
	)
	sc.Buffer(nil, 16*1024*1024)
	for lineno := 1; sc.Scan(); lineno++ {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var m model
		if err := json.Unmarshal(line, &m); err != nil {
			return nil, errors.Wrapf(err, "decoding line %d", lineno)
		}
		result = append(result, m)
	}
	return result, errors.Wrap(sc.Err(), "reading input")
}

func printWrapper(w accession.Wrapper[model, string]) error {
	m, err := canonicaljson.Marshal(w.Model)
	if err != nil {
		return errors.Wrapf(err, "encoding %s", w.Accession)
	}
	fmt.Printf("%s\t%d\t%s\t%s\n", w.Accession, w.Version, w.Hash, m)
	return nil
}

func (c maincmd) put(ctx context.Context, fs *flag.FlagSet, args []string) error {
	err := fs.Parse(args)
	if err != nil {
		return errors.Wrap(err, "parsing args")
	}

	models, err := readModels(os.Stdin)
	if err != nil {
		return err
	}
	ws, err := c.svc.GetOrCreate(ctx, models)
	if err != nil {
		return errors.Wrap(err, "accessioning models")
	}
	for _, w := range ws {
		fmt.Printf("%s\t%d\t%s\n", w.Accession, w.Version, w.Hash)
	}
	return nil
}

func (c maincmd) get(ctx context.Context, fs *flag.FlagSet, args []string) error {
	var (
		acc     = fs.String("accession", "", "accession to get")
		version = fs.Int("version", 0, "version to get (default: live version)")
	)
	err := fs.Parse(args)
	if err != nil {
		return errors.Wrap(err, "parsing args")
	}
	if *acc == "" {
		return errors.New("must supply -accession")
	}

	var w accession.Wrapper[model, string]
	if *version > 0 {
		w, err = c.svc.GetByAccessionAndVersion(ctx, *acc, *version)
	} else {
		w, err = c.svc.GetByAccession(ctx, *acc)
	}
	if err != nil {
		return err
	}
	return printWrapper(w)
}

func (c maincmd) update(ctx context.Context, fs *flag.FlagSet, args []string) error {
	var (
		acc     = fs.String("accession", "", "accession to update")
		version = fs.Int("version", 0, "expected current version (default: any)")
	)
	err := fs.Parse(args)
	if err != nil {
		return errors.Wrap(err, "parsing args")
	}
	if *acc == "" {
		return errors.New("must supply -accession")
	}

	models, err := readModels(os.Stdin)
	if err != nil {
		return err
	}
	if len(models) != 1 {
		return fmt.Errorf("got %d models on stdin, want 1", len(models))
	}

	w, err := c.svc.Update(ctx, *acc, *version, models[0])
	if err != nil {
		return err
	}
	return printWrapper(w)
}

func (c maincmd) deprecate(ctx context.Context, fs *flag.FlagSet, args []string) error {
	var (
		acc     = fs.String("accession", "", "accession to deprecate")
		version = fs.Int("version", 0, "expected current version (default: any)")
	)
	err := fs.Parse(args)
	if err != nil {
		return errors.Wrap(err, "parsing args")
	}
	if *acc == "" {
		return errors.New("must supply -accession")
	}
	return c.svc.Deprecate(ctx, *acc, *version)
}

func (c maincmd) merge(ctx context.Context, fs *flag.FlagSet, args []string) error {
	var (
		acc  = fs.String("accession", "", "accession to merge")
		into = fs.String("into", "", "accession to merge into")
	)
	err := fs.Parse(args)
	if err != nil {
		return errors.Wrap(err, "parsing args")
	}
	if *acc == "" || *into == "" {
		return errors.New("must supply -accession and -into")
	}
	return c.svc.Merge(ctx, *acc, *into)
}

func (c maincmd) history(ctx context.Context, fs *flag.FlagSet, args []string) error {
	acc := fs.String("accession", "", "accession whose history to list")
	err := fs.Parse(args)
	if err != nil {
		return errors.Wrap(err, "parsing args")
	}
	if *acc == "" {
		return errors.New("must supply -accession")
	}

	return c.s.ListHistory(ctx, *acc, func(h accession.HistoryRecord[string]) error {
		fmt.Printf("%d\t%s\t%s\t%s", h.Version, h.Event, h.ArchivedAt.Format(time.RFC3339), h.Hash)
		if h.Event == accession.EventMerged {
			fmt.Printf("\t%s", h.MergedInto)
		}
		fmt.Println()
		return nil
	})
}
