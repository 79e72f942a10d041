// Package identity allocates process-lifetime-unique object identifiers
// and maps logical entity names to them.
package identity

import (
	"fmt"
	"sync"
)

// DefaultBase is the first ObjectID handed out by a fresh registry.
const DefaultBase uint64 = 0x1000000000000001

// ObjectID is a simulated SAI object identifier. IDs are unique for the
// lifetime of the allocating process and strictly increasing in allocation
// order; freed IDs are never reused.
type ObjectID uint64

// String renders the canonical oid form used in store keys, e.g.
// "oid:0x1000000000000001".
func (id ObjectID) String() string {
	return fmt.Sprintf("oid:0x%x", uint64(id))
}

// Registry maps logical names (e.g. "vlan_100", "port_Ethernet0") to
// allocated ObjectIDs. The mapping lives only in memory and is lost on
// restart. Ensure is an atomic check-then-create, so concurrent callers
// can never allocate two IDs for one name.
type Registry struct {
	mu     sync.Mutex
	next   uint64
	byName map[string]ObjectID
}

// NewRegistry returns a registry whose first allocation is base.
func NewRegistry(base uint64) *Registry {
	return &Registry{
		next:   base,
		byName: make(map[string]ObjectID),
	}
}

// Lookup returns the ObjectID allocated for name, if any.
func (r *Registry) Lookup(name string) (ObjectID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byName[name]
	return id, ok
}

// Ensure returns the ObjectID for name, allocating one on first use.
// created reports whether this call performed the allocation.
func (r *Registry) Ensure(name string) (id ObjectID, created bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.byName[name]; ok {
		return id, false
	}

	id = ObjectID(r.next)
	r.next++
	r.byName[name] = id
	return id, true
}

// Drop removes the mapping for name. The allocated ID is never reused, so
// a later Ensure for the same name yields a fresh identifier.
func (r *Registry) Drop(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byName, name)
}

// Len returns the number of registered names.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byName)
}
