// Package identity assigns stable integer ids to GATT entities.
//
// A native GATT object is identified by the triple (device, UUID, instance).
// The first lookup of a triple allocates the next value of a monotonic counter;
// every later lookup of the same triple returns that value, so rediscovery of
// the same physical attribute keeps its id.
package identity

import (
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/cornelk/hashmap"
)

// Scope separates services, characteristics and descriptors that happen to
// share a UUID and instance on the same device.
type Scope byte

const (
	ScopeService        Scope = 's'
	ScopeCharacteristic Scope = 'c'
	ScopeDescriptor     Scope = 'd'
)

// SyntheticInstanceBase is added to a discovery ordinal when the native stack
// reports no attribute handle.
const SyntheticInstanceBase = 0x10000

// Registry maps entity triples to ids. The zero value is not usable; use New.
type Registry struct {
	ids     atomic.Pointer[hashmap.Map[string, int]]
	allocMu sync.Mutex
	next    int
}

// New creates an empty registry whose first id is 1.
func New() *Registry {
	r := &Registry{}
	r.ids.Store(hashmap.New[string, int]())
	return r
}

// IDFor returns the id for the triple, allocating one on first use.
func (r *Registry) IDFor(scope Scope, deviceID, uuid string, instance int) int {
	key := makeKey(scope, deviceID, uuid, instance)

	if id, ok := r.ids.Load().Get(key); ok {
		return id
	}

	r.allocMu.Lock()
	defer r.allocMu.Unlock()

	// Reset may have swapped the map while we waited.
	m := r.ids.Load()
	if id, ok := m.Get(key); ok {
		return id
	}
	r.next++
	m.Set(key, r.next)
	return r.next
}

// Lookup returns the id already assigned to the triple, if any.
func (r *Registry) Lookup(scope Scope, deviceID, uuid string, instance int) (int, bool) {
	return r.ids.Load().Get(makeKey(scope, deviceID, uuid, instance))
}

// Len returns the number of assigned ids.
func (r *Registry) Len() int {
	return r.ids.Load().Len()
}

// Reset forgets every mapping and restarts the counter. Only for engine teardown.
func (r *Registry) Reset() {
	r.allocMu.Lock()
	defer r.allocMu.Unlock()

	r.ids.Store(hashmap.New[string, int]())
	r.next = 0
}

// Instance picks the native instance for an attribute: its handle when the
// stack reports one, otherwise a synthetic value from the discovery ordinal.
func Instance(handle uint16, ordinal int) int {
	if handle != 0 {
		return int(handle)
	}
	return SyntheticInstanceBase + ordinal
}

func makeKey(scope Scope, deviceID, uuid string, instance int) string {
	var b strings.Builder
	b.Grow(len(deviceID) + len(uuid) + 12)
	b.WriteByte(byte(scope))
	b.WriteByte('|')
	b.WriteString(deviceID)
	b.WriteByte('|')
	b.WriteString(uuid)
	b.WriteByte('|')
	b.WriteString(strconv.Itoa(instance))
	return b.String()
}
