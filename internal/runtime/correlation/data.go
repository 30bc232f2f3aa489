package correlation

import "sync"

// Scope controls whether a context data entry survives a transport hop.
type Scope int

const (
	// ScopeInProcess entries are visible only within the current process.
	ScopeInProcess Scope = iota
	// ScopeAcrossTransports entries are encoded by transports and restored on
	// the remote side. Only string values can carry this scope.
	ScopeAcrossTransports
)

func (s Scope) String() string {
	if s == ScopeAcrossTransports {
		return "across_transports"
	}
	return "in_process"
}

// Entry is a single context data item.
type Entry struct {
	Key   string
	Value any
	Scope Scope
}

// Data is an insertion ordered key/value store safe for concurrent use.
// Overwriting a key keeps its original position.
type Data struct {
	mu      sync.RWMutex
	entries []Entry
	index   map[string]int
}

// Set stores a string value under key with the given scope.
func (d *Data) Set(key, value string, scope Scope) {
	d.set(Entry{Key: key, Value: value, Scope: scope})
}

// SetValue stores an arbitrary value. Such entries never leave the process.
func (d *Data) SetValue(key string, value any) {
	d.set(Entry{Key: key, Value: value, Scope: ScopeInProcess})
}

func (d *Data) set(e Entry) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.index == nil {
		d.index = make(map[string]int)
	}
	if i, ok := d.index[e.Key]; ok {
		d.entries[i] = e
		return
	}
	d.index[e.Key] = len(d.entries)
	d.entries = append(d.entries, e)
}

// Get returns the value stored under key.
func (d *Data) Get(key string) (any, bool) {
	e, ok := d.Lookup(key)
	return e.Value, ok
}

// String returns the value under key when it is a string.
func (d *Data) String(key string) (string, bool) {
	v, ok := d.Get(key)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Lookup returns the full entry stored under key.
func (d *Data) Lookup(key string) (Entry, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	i, ok := d.index[key]
	if !ok {
		return Entry{}, false
	}
	return d.entries[i], true
}

// Remove deletes key and reports whether it was present.
func (d *Data) Remove(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	i, ok := d.index[key]
	if !ok {
		return false
	}
	d.entries = append(d.entries[:i], d.entries[i+1:]...)
	delete(d.index, key)
	for j := i; j < len(d.entries); j++ {
		d.index[d.entries[j].Key] = j
	}
	return true
}

// Clear removes every entry.
func (d *Data) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries = nil
	d.index = nil
}

// Len returns the number of entries.
func (d *Data) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.entries)
}

// Entries returns a snapshot of all entries in insertion order.
func (d *Data) Entries() []Entry {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]Entry, len(d.entries))
	copy(out, d.entries)
	return out
}

func (d *Data) copyFrom(src *Data) {
	for _, e := range src.Entries() {
		d.set(e)
	}
}

func (d *Data) replaceWith(src *Data) {
	snapshot := src.Entries()

	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries = snapshot
	d.index = make(map[string]int, len(snapshot))
	for i, e := range snapshot {
		d.index[e.Key] = i
	}
}
