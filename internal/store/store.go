// Package store provides the keyed record stores the agents communicate
// through: typed get/set/delete/scan plus a change-notification feed.
package store

import (
	"context"
	"errors"
)

// Database names used by the pipeline. Each name maps to a key prefix in
// the shared backend, so the five stores stay independent keyspaces.
const (
	ConfigDB   = "CONFIG_DB"
	ApplDB     = "APPL_DB"
	StateDB    = "STATE_DB"
	AsicDB     = "ASIC_DB"
	CountersDB = "COUNTERS_DB"
)

var (
	// ErrNotFound is returned by Get when no record exists for the key.
	ErrNotFound = errors.New("store: record not found")
	// ErrStoreUnavailable is returned when the backend cannot be reached.
	ErrStoreUnavailable = errors.New("store: backend unavailable")
)

// Record is one stored entity: a flat set of named string fields. A record
// is always written as a whole, never field by field, so readers never
// observe a partial update.
type Record map[string]string

// Clone returns an independent copy of the record.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Op is the operation carried by a change notification.
type Op int

const (
	OpSet Op = iota
	OpDelete
)

func (o Op) String() string {
	if o == OpDelete {
		return "delete"
	}
	return "set"
}

// Event is a single change notification: which key changed and how.
// Events for the same key arrive in write order as long as the key has a
// single writer, which is how the pipeline assigns store ownership. No
// ordering is guaranteed across distinct keys or concurrent writers.
type Event struct {
	Key string
	Op  Op
}

// KeyRecord is one result of a prefix scan.
type KeyRecord struct {
	Key    string
	Record Record
}

// Store is a keyed record store with a change-notification feed. Every
// successful Set or Delete emits exactly one Event to each active watcher
// whose prefix matches the key.
type Store interface {
	// Get returns the record stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) (Record, error)

	// Set stores the record under key, replacing any existing record.
	Set(ctx context.Context, key string, rec Record) error

	// Delete removes the record under key. Deleting a missing key is not
	// an error.
	Delete(ctx context.Context, key string) error

	// Scan returns all records whose key starts with prefix, sorted by
	// key. The result is a snapshot; call again for a fresh view.
	Scan(ctx context.Context, prefix string) ([]KeyRecord, error)

	// Watch returns a channel of change events for keys under prefix,
	// starting from the moment of the call. The channel is closed when
	// ctx is cancelled or the feed terminates.
	Watch(ctx context.Context, prefix string) (<-chan Event, error)
}
