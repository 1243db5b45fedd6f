// Package hashing computes the content hashes used as deduplication keys.
package hashing

import (
	"crypto"
	_ "crypto/sha1" // register digests with package crypto
	_ "crypto/sha256"
	_ "crypto/sha512"
	"encoding/hex"
	"fmt"

	"github.com/pkg/errors"

	"github.com/bobg/accession"
)

// DefaultName is the algorithm New uses when given an empty name.
// Its digests are 40 hex characters long.
const DefaultName = "sha1"

// ErrUnavailable is returned by New for an unknown algorithm
// or one not linked into the binary.
// It is a configuration error and should stop startup.
var ErrUnavailable = errors.New("hash algorithm unavailable")

var algorithms = map[string]crypto.Hash{
	"sha1":   crypto.SHA1,
	"sha256": crypto.SHA256,
	"sha512": crypto.SHA512,
}

// Func is a hashing function.
// It is safe for concurrent use.
type Func struct {
	name string
	h    crypto.Hash
}

// New produces the Func for the named algorithm.
func New(name string) (*Func, error) {
	if name == "" {
		name = DefaultName
	}
	h, ok := algorithms[name]
	if !ok || !h.Available() {
		return nil, errors.Wrap(ErrUnavailable, name)
	}
	return &Func{name: name, h: h}, nil
}

// MustNew is like New but panics on error.
func MustNew(name string) *Func {
	f, err := New(name)
	if err != nil {
		panic(err)
	}
	return f
}

// Hash computes the hash of b.
func (f *Func) Hash(b []byte) accession.Hash {
	d := f.h.New()
	d.Write(b)
	return accession.Hash(hex.EncodeToString(d.Sum(nil)))
}

// Size is the length of every hash f produces, in hex characters.
func (f *Func) Size() int {
	return 2 * f.h.Size()
}

// Name is the name of f's algorithm.
func (f *Func) Name() string {
	return f.name
}

func (f *Func) String() string {
	return fmt.Sprintf("hashing.Func(%s)", f.name)
}
