package watch

import (
	"fmt"
	"time"
)

// ChangeKind classifies a filesystem mutation.
type ChangeKind int

// The four semantic change kinds. Ambiguous native flags (e.g. chmod)
// are reported as KindModified.
const (
	KindCreated ChangeKind = iota
	KindModified
	KindRemoved
	KindRenamed
)

// String returns the wire name of the kind.
func (k ChangeKind) String() string {
	switch k {
	case KindCreated:
		return "created"
	case KindModified:
		return "modified"
	case KindRemoved:
		return "removed"
	case KindRenamed:
		return "renamed"
	default:
		return fmt.Sprintf("ChangeKind(%d)", int(k))
	}
}

// MarshalText serializes the kind with its wire name so that batches encode
// as {"kind":"modified"} rather than an opaque integer.
func (k ChangeKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// FileChange is a single semantic filesystem mutation, resolved to a
// slash-separated path relative to the served root. Immutable once created.
//
// For renames, Path is the path the file now lives at and RenamedFrom is the
// path it left. fsnotify only reports the departing side of a rename; when
// the arriving side cannot be paired within the same notification drain,
// Path holds the departed path and RenamedFrom is empty.
type FileChange struct {
	Path        string     `json:"path"`
	Kind        ChangeKind `json:"kind"`
	RenamedFrom string     `json:"renamedFrom,omitempty"`
	ObservedAt  time.Time  `json:"-"`
}

// ChangeBatch is a deduplicated, ordered group of file changes representing
// one "build settled" moment. It is the unit of broadcast. Sequence numbers
// are strictly increasing and never reused within a watch session.
type ChangeBatch struct {
	Sequence  uint64       `json:"sequence"`
	Changes   []FileChange `json:"changes"`
	SettledAt time.Time    `json:"settledAt"`
}
