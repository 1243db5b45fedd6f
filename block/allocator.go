package block

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/bobg/accession"
)

// Defaults for NewAllocator.
const (
	DefaultBlockSize  = 1000
	DefaultMaxRetries = 10
)

// Allocator hands out increasing values for one (category, instance) pair,
// reserving new blocks from a Store as needed.
//
// Every call records the last value it handed out in the Store
// before returning,
// so a restarted process resumes after it
// and never repeats a value.
// Values discarded by a failed call leave a gap instead.
//
// An Allocator is safe for concurrent use.
// Two Allocators for the same (category, instance) pair must not run at once;
// use distinct instance IDs for distinct processes.
type Allocator struct {
	s          Store
	category   string
	instance   string
	size       int64
	maxRetries int
	log        logrus.FieldLogger

	mu     sync.Mutex
	loaded bool
	cur    *Block // nil when there is no usable block
}

// Option configures an Allocator.
type Option func(*Allocator)

// WithBlockSize sets the number of values in each reserved block.
func WithBlockSize(n int64) Option {
	return func(a *Allocator) {
		if n > 0 {
			a.size = n
		}
	}
}

// WithMaxRetries sets how many times a conflicting reservation is retried
// before the Allocator gives up with ErrExhausted.
func WithMaxRetries(n int) Option {
	return func(a *Allocator) {
		if n >= 0 {
			a.maxRetries = n
		}
	}
}

// WithLogger sets the logger for block reservations.
func WithLogger(l logrus.FieldLogger) Option {
	return func(a *Allocator) {
		a.log = l
	}
}

// NewAllocator produces an Allocator for the given category and instance.
// It does not touch the Store until the first value is requested.
func NewAllocator(s Store, category, instance string, opts ...Option) *Allocator {
	a := &Allocator{
		s:          s,
		category:   category,
		instance:   instance,
		size:       DefaultBlockSize,
		maxRetries: DefaultMaxRetries,
		log:        logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.log = a.log.WithFields(logrus.Fields{"category": category, "instance": instance})
	return a
}

// Category is the category a was created for.
func (a *Allocator) Category() string { return a.category }

// Instance is the application instance a was created for.
func (a *Allocator) Instance() string { return a.instance }

// Next hands out the next value.
func (a *Allocator) Next(ctx context.Context) (int64, error) {
	vals, err := a.NextN(ctx, 1)
	if err != nil {
		return 0, err
	}
	return vals[0], nil
}

// NextN hands out the next n values, in increasing order.
func (a *Allocator) NextN(ctx context.Context, n int) ([]int64, error) {
	if n <= 0 {
		return nil, nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.loaded {
		err := a.load(ctx)
		if err != nil {
			return nil, err
		}
	}

	var (
		result = make([]int64, 0, n)
		dirty  bool
	)
	for len(result) < n {
		if a.cur == nil || a.cur.Full() {
			if dirty {
				err := a.commit(ctx)
				if err != nil {
					return nil, err
				}
				dirty = false
			}
			b, err := a.reserve(ctx)
			if err != nil {
				return nil, err
			}
			a.cur = &b
		}

		take := int64(n - len(result))
		if rem := a.cur.Remaining(); take > rem {
			take = rem
		}
		for i := int64(1); i <= take; i++ {
			result = append(result, a.cur.LastCommitted+i)
		}
		a.cur.LastCommitted += take
		dirty = true
	}

	if err := a.commit(ctx); err != nil {
		return nil, err
	}
	return result, nil
}

// Blocks calls f for each block owned by a, in ascending order.
func (a *Allocator) Blocks(ctx context.Context, f func(Block) error) error {
	return a.s.FindAllBlocks(ctx, a.category, a.instance, f)
}

// Caller must hold a.mu.
func (a *Allocator) load(ctx context.Context) error {
	b, err := a.s.FindLatestBlock(ctx, a.category, a.instance)
	switch {
	case errors.Is(err, accession.ErrNotFound):
		// no block yet
	case err != nil:
		return errors.Wrap(err, "finding latest block")
	case !b.Full():
		a.cur = &b
		a.log.WithField("block", b.String()).Debug("resuming block")
	}
	a.loaded = true
	return nil
}

// Caller must hold a.mu.
func (a *Allocator) commit(ctx context.Context) error {
	return errors.Wrapf(a.s.CommitBlock(ctx, *a.cur), "committing block %s", a.cur)
}

// Caller must hold a.mu.
func (a *Allocator) reserve(ctx context.Context) (Block, error) {
	for attempt := 0; attempt <= a.maxRetries; attempt++ {
		first := int64(1)
		latest, err := a.s.FindGlobalLatestBlock(ctx, a.category)
		switch {
		case errors.Is(err, accession.ErrNotFound):
			// first block in this category
		case err != nil:
			return Block{}, errors.Wrap(err, "finding global latest block")
		default:
			first = latest.LastValue + 1
		}

		b := New(a.category, a.instance, first, a.size)
		err = a.s.InsertBlock(ctx, b)
		if errors.Is(err, ErrConflict) {
			a.log.WithFields(logrus.Fields{"block": b.String(), "attempt": attempt + 1}).Info("block reservation conflict, retrying")
			continue
		}
		if err != nil {
			return Block{}, errors.Wrapf(err, "inserting block %s", b)
		}
		a.log.WithField("block", b.String()).Info("reserved block")
		return b, nil
	}
	return Block{}, errors.Wrapf(ErrExhausted, "category %s, instance %s, %d attempts", a.category, a.instance, a.maxRetries+1)
}
