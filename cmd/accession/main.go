// Command accession is a general purpose CLI interface to accession stores.
package main

import (
	"context"
	"flag"

	"github.com/bobg/subcmd"
	"github.com/sirupsen/logrus"

	"github.com/bobg/accession/block"
	"github.com/bobg/accession/hashing"
	"github.com/bobg/accession/service"
	"github.com/bobg/accession/store"
	_ "github.com/bobg/accession/store/compress"
	_ "github.com/bobg/accession/store/logging"
	_ "github.com/bobg/accession/store/lru"
	_ "github.com/bobg/accession/store/mem"
	_ "github.com/bobg/accession/store/pg"
	_ "github.com/bobg/accession/store/sqlite3"
)

// Models on the command line are arbitrary JSON values.
type model = interface{}

type maincmd struct {
	s     store.Backend
	alloc *block.Allocator
	hash  *hashing.Func
	svc   *service.Service[model, string]
	log   logrus.FieldLogger
}

func main() {
	var (
		config  = flag.String("config", "accconf.json", "path to config file")
		verbose = flag.Bool("v", false, "log debug output")
	)
	flag.Parse()

	if *config == "" {
		logrus.Fatal("Config value not set")
	}
	if *verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}

	ctx := context.Background()

	c, err := fromConfig(ctx, *config, logrus.StandardLogger())
	if err != nil {
		logrus.WithError(err).Fatalf("Loading config file %s", *config)
	}

	err = subcmd.Run(ctx, c, flag.Args())
	if err != nil {
		logrus.Fatal(err)
	}
}

func (c maincmd) Subcmds() map[string]subcmd.Subcmd {
	return map[string]subcmd.Subcmd{
		"blocks":    c.blocks,
		"deprecate": c.deprecate,
		"get":       c.get,
		"hash":      c.hashcmd,
		"history":   c.history,
		"merge":     c.merge,
		"next":      c.next,
		"put":       c.put,
		"update":    c.update,
	}
}
