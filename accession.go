package accession

import "time"

type (
	// Hash is the hex-encoded digest of an object's canonical summary.
	// It is compared for equality and never decoded.
	Hash string

	// ID is the set of types an accession can have.
	ID interface {
		~string | ~int64
	}
)

// Hashed is a model paired with the hash of its summary.
type Hashed[M any] struct {
	Model M
	Hash  Hash
}

// ModelHashAccession is a unit of work for the save coordinator:
// a model, its hash, and the accession proposed for it.
type ModelHashAccession[M any, A ID] struct {
	Model     M
	Hash      Hash
	Accession A
}

// Wrapper is the view of an accessioned object as returned from lookups.
type Wrapper[M any, A ID] struct {
	Accession A
	Hash      Hash
	Version   int
	Model     M
}

// Record is the storage form of an accessioned object.
// Data is the encoded model.
// Versions start at 1.
type Record[A ID] struct {
	Accession A
	Hash      Hash
	Version   int
	Data      []byte
	CreatedAt time.Time
}

// Event says why a version was moved to history.
type Event string

// Values for Event.
const (
	EventUpdated    Event = "updated"
	EventDeprecated Event = "deprecated"
	EventMerged     Event = "merged"
)

// HistoryRecord is an immutable snapshot of a superseded version,
// keyed by (Accession, Version).
// MergedInto is set only when Event is EventMerged;
// otherwise it is the zero value of A.
type HistoryRecord[A ID] struct {
	Record[A]
	Event      Event
	MergedInto A
	ArchivedAt time.Time
}
