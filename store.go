package accession

import "context"

// Getter is the read side of an accession store.
type Getter[A ID] interface {
	// FindAccessionsByHash maps each of the given hashes that has a live record
	// to that record's accession.
	// Hashes with no record are absent from the result.
	FindAccessionsByHash(context.Context, []Hash) (map[Hash]A, error)

	// FindByAccession returns the live record for an accession,
	// or ErrNotFound.
	FindByAccession(context.Context, A) (Record[A], error)

	// FindByAccessionAndVersion returns a specific version of an accession,
	// whether it is the live version or one that has been archived.
	// It returns ErrNotFound if there is no such version.
	FindByAccessionAndVersion(context.Context, A, int) (Record[A], error)

	// ListHistory calls a function for each archived version of an accession,
	// in ascending version order.
	// If the callback returns an error,
	// ListHistory exits with that error.
	ListHistory(context.Context, A, func(HistoryRecord[A]) error) error
}

// Tx is the set of operations available inside a Store transaction.
// Reads through a Tx observe the transaction's own writes.
type Tx[A ID] interface {
	Getter[A]

	// InsertBatch inserts records.
	// The result has one element per input record:
	// true if it was inserted,
	// false if a record with the same hash or accession already existed,
	// or if the accession has history
	// (a deprecated or merged accession is never reissued).
	// A duplicate is not an error.
	InsertBatch(context.Context, []Record[A]) ([]bool, error)

	// Replace overwrites the live record having rec.Accession.
	// It returns ErrNotFound if there is none
	// and ErrHashExists if rec.Hash belongs to a different accession.
	Replace(ctx context.Context, rec Record[A]) error

	// Delete removes the live record for an accession.
	// It returns ErrNotFound if there is none.
	Delete(context.Context, A) error

	// Archive appends a history record.
	// It returns ErrHistoryExists if (Accession, Version) was already archived.
	Archive(context.Context, HistoryRecord[A]) error
}

// Store is an accession store.
type Store[A ID] interface {
	Getter[A]

	// Tx runs f in a transaction.
	// If f returns nil the transaction commits;
	// otherwise it rolls back and Tx returns f's error.
	Tx(ctx context.Context, f func(Tx[A]) error) error
}
