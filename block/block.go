// Package block reserves contiguous ranges of integers in shared storage
// and hands them out, in increasing order, one at a time.
//
// A Block belongs to one application instance and one category.
// For any category,
// the ranges of all blocks,
// whichever instance owns them,
// are pairwise disjoint.
// That property is enforced by the Store,
// through its own write-conflict detection,
// so any number of independent processes may share one Store.
package block

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrConflict is returned by Store.InsertBlock
	// when the new block's range overlaps a block already stored
	// for the same category.
	// It is transient: the Allocator retries after rereading the global maximum.
	ErrConflict = errors.New("block range conflict")

	// ErrExhausted is returned by the Allocator when it cannot reserve a block
	// within its retry limit.
	ErrExhausted = errors.New("block allocation retries exhausted")
)

// Block is a range of reserved values,
// FirstValue through LastValue inclusive.
// LastCommitted is the last value handed out;
// it is FirstValue-1 when none has been.
type Block struct {
	CategoryID    string
	InstanceID    string
	FirstValue    int64
	LastValue     int64
	LastCommitted int64
}

// New produces an unused block of the given size starting at first.
func New(category, instance string, first, size int64) Block {
	return Block{
		CategoryID:    category,
		InstanceID:    instance,
		FirstValue:    first,
		LastValue:     first + size - 1,
		LastCommitted: first - 1,
	}
}

// Full tells whether every value in b has been handed out.
func (b Block) Full() bool {
	return b.LastCommitted >= b.LastValue
}

// Remaining is the number of values in b not yet handed out.
func (b Block) Remaining() int64 {
	return b.LastValue - b.LastCommitted
}

// Overlaps tells whether b and other are in the same category
// and share at least one value.
func (b Block) Overlaps(other Block) bool {
	return b.CategoryID == other.CategoryID && b.FirstValue <= other.LastValue && other.FirstValue <= b.LastValue
}

func (b Block) String() string {
	return fmt.Sprintf("%s/%s[%d..%d]@%d", b.CategoryID, b.InstanceID, b.FirstValue, b.LastValue, b.LastCommitted)
}

// Store is persistent storage for blocks.
type Store interface {
	// FindLatestBlock returns the block with the highest LastValue
	// owned by the given instance in the given category,
	// or accession.ErrNotFound.
	FindLatestBlock(ctx context.Context, category, instance string) (Block, error)

	// FindAllBlocks calls a function for each block
	// owned by the given instance in the given category,
	// in ascending LastValue order.
	// If the callback returns an error,
	// FindAllBlocks exits with that error.
	FindAllBlocks(ctx context.Context, category, instance string, f func(Block) error) error

	// FindGlobalLatestBlock returns the block with the highest LastValue
	// in the given category, whatever its owner,
	// or accession.ErrNotFound.
	FindGlobalLatestBlock(ctx context.Context, category string) (Block, error)

	// InsertBlock stores a new block.
	// It returns ErrConflict if the block overlaps one already stored.
	InsertBlock(context.Context, Block) error

	// CommitBlock records b.LastCommitted for the stored block
	// identified by b's category, instance, and FirstValue.
	// LastCommitted never moves backward;
	// CommitBlock returns accession.ErrNotFound
	// if there is no such block or the stored value is already higher.
	CommitBlock(ctx context.Context, b Block) error
}
