package accession

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is the error returned when looking up
	// a non-existent accession, version, or block.
	ErrNotFound = errors.New("not found")

	// ErrHistoryExists is returned when archiving
	// an (accession, version) pair a second time.
	ErrHistoryExists = errors.New("history record exists")

	// ErrHashExists is returned when an update would give an accession
	// content that already belongs to another accession.
	ErrHashExists = errors.New("hash belongs to another accession")

	// ErrVersionMismatch is returned when an update names a version
	// other than the live one.
	ErrVersionMismatch = errors.New("version mismatch")
)

// MissingUnsavedError reports the triples of a save batch
// that were neither found already stored
// nor confirmed inserted.
// Callers can retry exactly Missing.
type MissingUnsavedError[M any, A ID] struct {
	Missing []ModelHashAccession[M, A]
}

func (e *MissingUnsavedError[M, A]) Error() string {
	strs := make([]string, 0, len(e.Missing))
	for _, m := range e.Missing {
		strs = append(strs, fmt.Sprintf("%v (hash %s)", m.Accession, m.Hash))
	}
	return fmt.Sprintf("%d accession(s) missing and unsaved: %s", len(e.Missing), strings.Join(strs, ", "))
}

// InactiveError is returned when looking up an accession
// that was deprecated or merged into another.
type InactiveError[A ID] struct {
	Accession  A
	Version    int
	Event      Event
	MergedInto A
}

func (e *InactiveError[A]) Error() string {
	if e.Event == EventMerged {
		return fmt.Sprintf("accession %v was merged into %v", e.Accession, e.MergedInto)
	}
	return fmt.Sprintf("accession %v is %s", e.Accession, e.Event)
}

// Is makes errors.Is(err, ErrNotFound) true for an InactiveError,
// since there is no live record.
func (e *InactiveError[A]) Is(target error) bool {
	return target == ErrNotFound
}
