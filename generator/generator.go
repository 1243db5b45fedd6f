// Package generator proposes accessions for hashed models.
package generator

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/bobg/accession"
	"github.com/bobg/accession/block"
)

// Generator proposes one accession for each of a list of hashed models.
// Proposals are candidates:
// the save coordinator discards any whose hash turns out to be stored already.
type Generator[M any, A accession.ID] interface {
	Generate(context.Context, []accession.Hashed[M]) ([]accession.ModelHashAccession[M, A], error)
}

// Hashed derives each accession from the model's hash,
// with an optional prefix.
// It needs no storage and no coordination:
// equal content always gets the same accession.
// For the same reason it cannot accession content a second time
// once that content's accession has been deprecated, merged, or updated to other content:
// the only accession it can propose is taken,
// so the save reports the content as missing and unsaved.
type Hashed[M any, A ~string] struct {
	Prefix string
}

var _ Generator[any, string] = Hashed[any, string]{}

// Generate implements Generator.
func (g Hashed[M, A]) Generate(_ context.Context, models []accession.Hashed[M]) ([]accession.ModelHashAccession[M, A], error) {
	result := make([]accession.ModelHashAccession[M, A], 0, len(models))
	for _, m := range models {
		result = append(result, accession.ModelHashAccession[M, A]{
			Model:     m.Model,
			Hash:      m.Hash,
			Accession: A(g.Prefix + string(m.Hash)),
		})
	}
	return result, nil
}

// Monotonic hands out integer accessions from a block.Allocator.
// Within one application instance they strictly increase.
type Monotonic[M any, A ~int64] struct {
	Allocator *block.Allocator
}

var _ Generator[any, int64] = Monotonic[any, int64]{}

// Generate implements Generator.
func (g Monotonic[M, A]) Generate(ctx context.Context, models []accession.Hashed[M]) ([]accession.ModelHashAccession[M, A], error) {
	if len(models) == 0 {
		return nil, nil
	}
	vals, err := g.Allocator.NextN(ctx, len(models))
	if err != nil {
		return nil, errors.Wrapf(err, "allocating %d values", len(models))
	}
	result := make([]accession.ModelHashAccession[M, A], 0, len(models))
	for i, m := range models {
		result = append(result, accession.ModelHashAccession[M, A]{
			Model:     m.Model,
			Hash:      m.Hash,
			Accession: A(vals[i]),
		})
	}
	return result, nil
}

// Decorated hands out string accessions
// made from a block.Allocator's values
// with a prefix, zero-padding, and a suffix,
// e.g. "ACC0000042".
type Decorated[M any, A ~string] struct {
	Allocator *block.Allocator
	Prefix    string
	Pad       int
	Suffix    string
}

var _ Generator[any, string] = Decorated[any, string]{}

// Format renders a value the way g does.
func (g Decorated[M, A]) Format(v int64) A {
	return A(fmt.Sprintf("%s%0*d%s", g.Prefix, g.Pad, v, g.Suffix))
}

// Generate implements Generator.
func (g Decorated[M, A]) Generate(ctx context.Context, models []accession.Hashed[M]) ([]accession.ModelHashAccession[M, A], error) {
	inner, err := Monotonic[M, int64]{Allocator: g.Allocator}.Generate(ctx, models)
	if err != nil {
		return nil, err
	}
	result := make([]accession.ModelHashAccession[M, A], 0, len(inner))
	for _, m := range inner {
		result = append(result, accession.ModelHashAccession[M, A]{
			Model:     m.Model,
			Hash:      m.Hash,
			Accession: g.Format(m.Accession),
		})
	}
	return result, nil
}
