// Package accession assigns stable, unique identifiers
// ("accessions")
// to submitted objects
// and remembers which content each accession belongs to.
//
// Objects are reduced to a canonical summary
// and hashed.
// The hash is the deduplication key:
// submitting the same content twice,
// from the same process or from two processes racing each other,
// yields the same accession.
// The first writer of a given hash wins;
// everyone else observes the winner's accession.
//
// Accessions themselves come from a generator.
// The generator package offers two families:
// accessions derived from the content hash itself,
// which need no coordination at all,
// and monotonically increasing integers handed out from contiguous blocks
// (see package block).
// A block is a range of integers reserved in shared storage
// by one application instance for one category.
// Instances never share a block,
// so they never emit the same value,
// and only one storage round trip is needed per block rather than per value.
//
// When an accessioned object changes,
// its previous version is copied into an append-only history
// (see package history)
// in the same transaction that overwrites it.
//
// This package defines the core types
// and the storage contracts that backends
// (in the store subpackages)
// implement.
package accession
