// Package index implements the in-memory key directory mapping each live
// key to the location of its most recent Set record.
package index

// Location points at a Set record inside a specific segment.
type Location struct {
	Epoch  uint64
	Offset int64
}

// Directory is a plain map wrapper with the semantics spec'd for the key
// directory: O(1) expected get/insert/remove/contains, keys enumerable.
// It performs no locking of its own — the store above it owns the
// single-writer contract.
type Directory struct {
	entries map[string]Location
}

// New returns an empty Directory.
func New() *Directory {
	return &Directory{entries: make(map[string]Location)}
}

// Get returns the location for key, if present.
func (d *Directory) Get(key string) (Location, bool) {
	loc, ok := d.entries[key]
	return loc, ok
}

// Insert records loc as the current location of key, returning whatever
// was previously recorded (if anything). This is how Store detects an
// overwrite vs. a fresh key for mutation-counter purposes.
func (d *Directory) Insert(key string, loc Location) (previous Location, hadPrevious bool) {
	previous, hadPrevious = d.entries[key]
	d.entries[key] = loc
	return previous, hadPrevious
}

// Remove deletes key from the directory, reporting whether it was present.
func (d *Directory) Remove(key string) bool {
	_, ok := d.entries[key]
	delete(d.entries, key)
	return ok
}

// Contains reports whether key is currently live.
func (d *Directory) Contains(key string) bool {
	_, ok := d.entries[key]
	return ok
}

// Keys returns a snapshot of all live keys. The order is unspecified.
func (d *Directory) Keys() []string {
	keys := make([]string, 0, len(d.entries))
	for k := range d.entries {
		keys = append(keys, k)
	}
	return keys
}

// Len returns the number of live keys.
func (d *Directory) Len() int {
	return len(d.entries)
}
