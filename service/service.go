// Package service ties hashing, generation, saving, and history together
// into an accessioning service for one model type.
package service

import (
	"context"
	"encoding/json"
	stderrs "errors"
	"time"

	canonicaljson "github.com/gibson042/canonicaljson-go"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/bobg/accession"
	"github.com/bobg/accession/generator"
	"github.com/bobg/accession/hashing"
	"github.com/bobg/accession/history"
	"github.com/bobg/accession/save"
)

// DefaultRetries is the number of times GetOrCreate
// retries the unresolved part of a save.
const DefaultRetries = 1

// Config holds optional settings for New.
// The zero Config is usable.
type Config[M any] struct {
	// Hashing hashes model summaries.
	// Default: hashing.DefaultName.
	Hashing *hashing.Func

	// Summarize produces the bytes that are hashed for a model.
	// Equal models must have equal summaries.
	// Default: canonical JSON.
	Summarize func(M) ([]byte, error)

	// Encode and Decode convert models to and from their stored form.
	// Default: canonical JSON and encoding/json.
	Encode func(M) ([]byte, error)
	Decode func([]byte) (M, error)

	// Retries is how many times GetOrCreate retries
	// triples reported missing by the save coordinator.
	// Default: DefaultRetries. Negative means none.
	Retries int

	Log logrus.FieldLogger
	Now func() time.Time
}

// Service accessions models of type M with accessions of type A.
// It is safe for concurrent use.
type Service[M any, A accession.ID] struct {
	store     accession.Store[A]
	gen       generator.Generator[M, A]
	hash      *hashing.Func
	summarize func(M) ([]byte, error)
	encode    func(M) ([]byte, error)
	decode    func([]byte) (M, error)
	retries   int
	log       logrus.FieldLogger
	saver     *save.Coordinator[M, A]
	archiver  *history.Archiver[A]
}

// New produces a new Service.
func New[M any, A accession.ID](s accession.Store[A], gen generator.Generator[M, A], conf Config[M]) *Service[M, A] {
	svc := &Service[M, A]{
		store:     s,
		gen:       gen,
		hash:      conf.Hashing,
		summarize: conf.Summarize,
		encode:    conf.Encode,
		decode:    conf.Decode,
		retries:   conf.Retries,
		log:       conf.Log,
	}
	if svc.hash == nil {
		svc.hash = hashing.MustNew(hashing.DefaultName)
	}
	if svc.summarize == nil {
		svc.summarize = canonicalJSON[M]
	}
	if svc.encode == nil {
		svc.encode = canonicalJSON[M]
	}
	if svc.decode == nil {
		svc.decode = decodeJSON[M]
	}
	if svc.retries == 0 {
		svc.retries = DefaultRetries
	}
	if svc.log == nil {
		svc.log = logrus.StandardLogger()
	}
	svc.saver = &save.Coordinator[M, A]{
		Store:  s,
		Encode: svc.encode,
		Now:    conf.Now,
		Log:    svc.log,
	}
	svc.archiver = &history.Archiver[A]{Store: s, Now: conf.Now}
	return svc
}

func canonicalJSON[M any](m M) ([]byte, error) {
	return canonicaljson.Marshal(m)
}

func decodeJSON[M any](b []byte) (M, error) {
	var m M
	err := json.Unmarshal(b, &m)
	return m, err
}

// Hash computes the hash of a model's summary.
func (s *Service[M, A]) Hash(m M) (accession.Hash, error) {
	b, err := s.summarize(m)
	if err != nil {
		return "", errors.Wrap(err, "summarizing model")
	}
	return s.hash.Hash(b), nil
}

func (s *Service[M, A]) hashAll(models []M) ([]accession.Hashed[M], error) {
	result := make([]accession.Hashed[M], 0, len(models))
	for i, m := range models {
		h, err := s.Hash(m)
		if err != nil {
			return nil, errors.Wrapf(err, "model %d", i)
		}
		result = append(result, accession.Hashed[M]{Model: m, Hash: h})
	}
	return result, nil
}

func hashesOf[M any](hashed []accession.Hashed[M]) []accession.Hash {
	var (
		result []accession.Hash
		seen   = make(map[accession.Hash]bool)
	)
	for _, h := range hashed {
		if !seen[h.Hash] {
			result = append(result, h.Hash)
			seen[h.Hash] = true
		}
	}
	return result
}

// GetOrCreate returns the accession of each model,
// creating accessions for models whose content has none.
// The result is in the order of models.
//
// Models whose content is already stored are answered before any accession is generated,
// so a monotonic generator is not consumed by resubmissions.
// If some models still cannot be saved after retrying,
// GetOrCreate returns the *accession.MissingUnsavedError for them.
// With generator.Hashed that includes content whose accession is retired or was updated to other content:
// the generator can only propose the same accession again,
// so it is reported without retrying.
func (s *Service[M, A]) GetOrCreate(ctx context.Context, models []M) ([]accession.Wrapper[M, A], error) {
	hashed, err := s.hashAll(models)
	if err != nil {
		return nil, err
	}

	known, err := s.store.FindAccessionsByHash(ctx, hashesOf(hashed))
	if err != nil {
		return nil, errors.Wrap(err, "finding existing accessions")
	}

	var (
		todo    []accession.Hashed[M]
		pending = make(map[accession.Hash]bool)
	)
	for _, h := range hashed {
		if _, ok := known[h.Hash]; ok || pending[h.Hash] {
			continue
		}
		todo = append(todo, h)
		pending[h.Hash] = true
	}

	var (
		created  = make(map[accession.Hash]bool)
		proposed = make(map[accession.Hash]A)
		stuck    []accession.ModelHashAccession[M, A]
	)
	for attempt := 0; len(todo) > 0; attempt++ {
		triples, err := s.gen.Generate(ctx, todo)
		if err != nil {
			return nil, errors.Wrap(err, "generating accessions")
		}

		// A deterministic generator (such as generator.Hashed)
		// proposes the same accession again after it was refused.
		// Saving it again cannot succeed.
		var fresh []accession.ModelHashAccession[M, A]
		for _, t := range triples {
			if prev, ok := proposed[t.Hash]; ok && prev == t.Accession {
				stuck = append(stuck, t)
				continue
			}
			proposed[t.Hash] = t.Accession
			fresh = append(fresh, t)
		}
		if len(fresh) == 0 {
			break
		}

		resp, err := s.saver.Save(ctx, fresh)
		var missingErr *accession.MissingUnsavedError[M, A]
		if err != nil && !stderrs.As(err, &missingErr) {
			return nil, errors.Wrap(err, "saving accessions")
		}
		for _, t := range resp.Saved {
			known[t.Hash] = t.Accession
			created[t.Hash] = true
		}
		for h, a := range resp.Existing {
			known[h] = a
		}

		todo = nil
		if missingErr == nil {
			break
		}
		if attempt >= s.retries {
			stuck = append(stuck, missingErr.Missing...)
			break
		}
		s.log.WithFields(logrus.Fields{"missing": len(missingErr.Missing), "attempt": attempt + 1}).Warn("retrying unsaved accessions")
		for _, m := range missingErr.Missing {
			todo = append(todo, accession.Hashed[M]{Model: m.Model, Hash: m.Hash})
		}
	}
	if len(stuck) > 0 {
		return nil, &accession.MissingUnsavedError[M, A]{Missing: stuck}
	}

	versions := make(map[accession.Hash]int)
	result := make([]accession.Wrapper[M, A], 0, len(hashed))
	for _, h := range hashed {
		a := known[h.Hash]
		v, ok := versions[h.Hash]
		if !ok {
			v = 1
			if !created[h.Hash] {
				v, err = s.liveVersion(ctx, a)
				if err != nil {
					return nil, err
				}
			}
			versions[h.Hash] = v
		}
		result = append(result, accession.Wrapper[M, A]{
			Accession: a,
			Hash:      h.Hash,
			Version:   v,
			Model:     h.Model,
		})
	}
	return result, nil
}

// liveVersion is the version of a found by an earlier hash lookup.
// If a was deprecated or merged since,
// it is the version that was live at the time.
func (s *Service[M, A]) liveVersion(ctx context.Context, a A) (int, error) {
	rec, err := s.store.FindByAccession(ctx, a)
	if err == nil {
		return rec.Version, nil
	}
	if !stderrs.Is(err, accession.ErrNotFound) {
		return 0, errors.Wrapf(err, "getting %v", a)
	}
	var inactive *accession.InactiveError[A]
	if ierr := history.Inactive[A](ctx, s.store, a); !stderrs.As(ierr, &inactive) {
		return 0, errors.Wrapf(ierr, "getting %v", a)
	}
	return inactive.Version, nil
}

// Get returns the stored accessions of those models that have one,
// in the order of models,
// omitting models that have none.
func (s *Service[M, A]) Get(ctx context.Context, models []M) ([]accession.Wrapper[M, A], error) {
	hashed, err := s.hashAll(models)
	if err != nil {
		return nil, err
	}
	known, err := s.store.FindAccessionsByHash(ctx, hashesOf(hashed))
	if err != nil {
		return nil, errors.Wrap(err, "finding existing accessions")
	}

	var result []accession.Wrapper[M, A]
	for _, h := range hashed {
		a, ok := known[h.Hash]
		if !ok {
			continue
		}
		w, err := s.GetByAccession(ctx, a)
		if err != nil {
			return nil, err
		}
		result = append(result, w)
	}
	return result, nil
}

func (s *Service[M, A]) wrap(rec accession.Record[A]) (accession.Wrapper[M, A], error) {
	m, err := s.decode(rec.Data)
	if err != nil {
		return accession.Wrapper[M, A]{}, errors.Wrapf(err, "decoding %v version %d", rec.Accession, rec.Version)
	}
	return accession.Wrapper[M, A]{
		Accession: rec.Accession,
		Hash:      rec.Hash,
		Version:   rec.Version,
		Model:     m,
	}, nil
}

// GetByAccession returns the live version of an accession.
// If it was deprecated or merged,
// the error is an *accession.InactiveError
// (which also matches accession.ErrNotFound).
func (s *Service[M, A]) GetByAccession(ctx context.Context, a A) (accession.Wrapper[M, A], error) {
	rec, err := s.store.FindByAccession(ctx, a)
	if stderrs.Is(err, accession.ErrNotFound) {
		return accession.Wrapper[M, A]{}, history.Inactive[A](ctx, s.store, a)
	}
	if err != nil {
		return accession.Wrapper[M, A]{}, errors.Wrapf(err, "getting %v", a)
	}
	return s.wrap(rec)
}

// GetByAccessionAndVersion returns a specific version of an accession,
// live or archived.
func (s *Service[M, A]) GetByAccessionAndVersion(ctx context.Context, a A, version int) (accession.Wrapper[M, A], error) {
	rec, err := s.store.FindByAccessionAndVersion(ctx, a, version)
	if err != nil {
		return accession.Wrapper[M, A]{}, errors.Wrapf(err, "getting %v version %d", a, version)
	}
	return s.wrap(rec)
}

// Update gives accession a new content m as a new version,
// archiving the current version.
// If version is nonzero it must be the current version.
// It fails with accession.ErrHashExists if m's content already has a different accession.
func (s *Service[M, A]) Update(ctx context.Context, a A, version int, m M) (accession.Wrapper[M, A], error) {
	h, err := s.Hash(m)
	if err != nil {
		return accession.Wrapper[M, A]{}, err
	}
	data, err := s.encode(m)
	if err != nil {
		return accession.Wrapper[M, A]{}, errors.Wrap(err, "encoding model")
	}
	rec, err := s.archiver.Update(ctx, a, h, data, version)
	if err != nil {
		return accession.Wrapper[M, A]{}, err
	}
	s.log.WithFields(logrus.Fields{"accession": a, "version": rec.Version}).Info("updated")
	return accession.Wrapper[M, A]{Accession: a, Hash: h, Version: rec.Version, Model: m}, nil
}

// Deprecate retires accession a.
// If version is nonzero it must be the current version.
func (s *Service[M, A]) Deprecate(ctx context.Context, a A, version int) error {
	h, err := s.archiver.Deprecate(ctx, a, version)
	if err != nil {
		return err
	}
	s.log.WithFields(logrus.Fields{"accession": a, "version": h.Version}).Info("deprecated")
	return nil
}

// Merge retires accession a in favor of into.
func (s *Service[M, A]) Merge(ctx context.Context, a, into A) error {
	h, err := s.archiver.Merge(ctx, a, into)
	if err != nil {
		return err
	}
	s.log.WithFields(logrus.Fields{"accession": a, "version": h.Version, "into": into}).Info("merged")
	return nil
}

// History returns the archived versions of a, oldest first.
func (s *Service[M, A]) History(ctx context.Context, a A) ([]accession.Wrapper[M, A], error) {
	hist, err := history.List[A](ctx, s.store, a)
	if err != nil {
		return nil, err
	}
	result := make([]accession.Wrapper[M, A], 0, len(hist))
	for _, h := range hist {
		w, err := s.wrap(h.Record)
		if err != nil {
			return nil, err
		}
		result = append(result, w)
	}
	return result, nil
}
