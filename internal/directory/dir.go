// Package directory maintains the broker's peer directory, a mapping of
// node names to the addresses they announced in their Hails.
//
// The directory lives only in memory and only grows: a Hail inserts or
// overwrites its name, nothing ever removes one. The last Hail for a name
// wins. Reads are safe from other goroutines so status endpoints can take
// snapshots while the node loop writes.
package directory

import (
	"sort"
	"sync"
)

// Entry is one registered node.
type Entry struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

// Directory is a concurrent-safe name → address store.
type Directory struct {
	mu      sync.RWMutex
	entries map[string]string
}

// New returns an empty directory.
func New() *Directory {
	return &Directory{entries: make(map[string]string)}
}

// Put registers name at address, overwriting any earlier address.
// It returns the previous address and whether there was one.
func (d *Directory) Put(name, address string) (previous string, replaced bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	previous, replaced = d.entries[name]
	d.entries[name] = address
	return previous, replaced
}

// Lookup returns the address registered for name.
func (d *Directory) Lookup(name string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	addr, ok := d.entries[name]
	return addr, ok
}

// Len returns the number of registered names.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.entries)
}

// All returns every entry, ordered by name.
func (d *Directory) All() []Entry {
	d.mu.RLock()
	out := make([]Entry, 0, len(d.entries))
	for name, addr := range d.entries {
		out = append(out, Entry{Name: name, Address: addr})
	}
	d.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Snapshot returns a copy of the directory as a map.
func (d *Directory) Snapshot() map[string]string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]string, len(d.entries))
	for name, addr := range d.entries {
		out[name] = addr
	}
	return out
}
