package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/bobg/accession/block"
	"github.com/bobg/accession/generator"
	"github.com/bobg/accession/hashing"
	"github.com/bobg/accession/service"
	"github.com/bobg/accession/store"
)

// A config file looks like:
//
//	{
//	  "type": "sqlite3",
//	  "conn": "accessions.db",
//	  "category": "samples",
//	  "instance": "host1",
//	  "block_size": 1000,
//	  "generator": "monotonic",
//	  "prefix": "SAM",
//	  "pad": 8
//	}
//
// where type, conn, and any nested configuration
// are as understood by the store registry.
// Without an instance,
// the file's name plus ".instance" holds a generated one.
func fromConfig(ctx context.Context, filename string, log logrus.FieldLogger) (maincmd, error) {
	var conf map[string]interface{}
	f, err := os.Open(filename)
	if err != nil {
		return maincmd{}, errors.Wrapf(err, "opening config file %s", filename)
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	dec.UseNumber()
	err = dec.Decode(&conf)
	if err != nil {
		return maincmd{}, errors.Wrapf(err, "decoding config file %s", filename)
	}
	if _, ok := conf["instance"].(string); !ok {
		instance, err := savedInstance(filename + ".instance")
		if err != nil {
			return maincmd{}, err
		}
		conf["instance"] = instance
	}
	return configure(ctx, conf, log)
}

// savedInstance reads the instance name stored in filename,
// first creating the file with a new random name if it does not exist.
// Every run with the same config file is then the same allocator instance
// and resumes its partly used block.
func savedInstance(filename string) (string, error) {
	b, err := os.ReadFile(filename)
	if err == nil {
		if instance := strings.TrimSpace(string(b)); instance != "" {
			return instance, nil
		}
	} else if !os.IsNotExist(err) {
		return "", errors.Wrapf(err, "reading instance file %s", filename)
	}
	instance := uuid.New().String()
	if err := os.WriteFile(filename, []byte(instance+"\n"), 0644); err != nil {
		return "", errors.Wrapf(err, "writing instance file %s", filename)
	}
	return instance, nil
}

func configure(ctx context.Context, conf map[string]interface{}, log logrus.FieldLogger) (maincmd, error) {
	typ, ok := conf["type"].(string)
	if !ok {
		return maincmd{}, errors.New("config missing `type` parameter")
	}
	s, err := store.Create(ctx, typ, conf)
	if err != nil {
		return maincmd{}, errors.Wrapf(err, "creating %s-type store", typ)
	}

	var (
		category = stringParam(conf, "category", "default")
		instance = stringParam(conf, "instance", uuid.New().String())
		hashName = stringParam(conf, "hash", hashing.DefaultName)
		genType  = stringParam(conf, "generator", "monotonic")
		prefix   = stringParam(conf, "prefix", "")
		opts     = []block.Option{block.WithLogger(log)}
	)
	if size, ok := store.Int(conf, "block_size"); ok {
		opts = append(opts, block.WithBlockSize(int64(size)))
	}
	if retries, ok := store.Int(conf, "max_retries"); ok {
		opts = append(opts, block.WithMaxRetries(retries))
	}

	h, err := hashing.New(hashName)
	if err != nil {
		return maincmd{}, err
	}

	alloc := block.NewAllocator(s, category, instance, opts...)

	var gen generator.Generator[model, string]
	switch genType {
	case "hash":
		gen = generator.Hashed[model, string]{Prefix: prefix}
	case "monotonic":
		pad, _ := store.Int(conf, "pad")
		gen = generator.Decorated[model, string]{Allocator: alloc, Prefix: prefix, Pad: pad}
	default:
		return maincmd{}, fmt.Errorf("unknown generator type %s", genType)
	}

	log.WithFields(logrus.Fields{
		"store":     typ,
		"category":  category,
		"instance":  instance,
		"generator": genType,
		"hash":      h,
	}).Debug("configured")

	return maincmd{
		s:     s,
		alloc: alloc,
		hash:  h,
		svc:   service.New[model, string](s, gen, service.Config[model]{Hashing: h, Log: log}),
		log:   log,
	}, nil
}

func stringParam(conf map[string]interface{}, key, dflt string) string {
	if s, ok := conf[key].(string); ok && s != "" {
		return s
	}
	return dflt
}
