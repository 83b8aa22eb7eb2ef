package host

import "sync"

// Registry is the shared collection of host records. Lookups, mutations and
// snapshots are serialized by a single mutex; iteration follows insertion
// order.
type Registry struct {
	mu      sync.Mutex
	index   map[string]int
	records []Record
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		index: make(map[string]int),
	}
}

// Upsert finds the record for the normalized hostname, creating a
// zero-initialized one if needed, and applies one frame of frameLen bytes in
// direction dir. country is recorded only when the record has none yet.
// Unknown direction leaves the registry untouched and returns false.
func (r *Registry) Upsert(hostname string, frameLen int, dir Direction, country string) (Record, bool) {
	if dir != Inbound && dir != Outbound {
		return Record{}, false
	}
	key := Normalize(hostname)

	r.mu.Lock()
	defer r.mu.Unlock()

	i, ok := r.index[key]
	if !ok {
		i = len(r.records)
		r.records = append(r.records, Record{Hostname: key})
		r.index[key] = i
	}

	rec := &r.records[i]
	if rec.Country == "" {
		rec.Country = country
	}
	rec.add(frameLen, dir)
	return *rec, true
}

// Lookup returns a copy of the record for the exact normalized hostname.
func (r *Registry) Lookup(hostname string) (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	i, ok := r.index[hostname]
	if !ok {
		return Record{}, false
	}
	return r.records[i], true
}

// Snapshot returns a point-in-time copy of all records in insertion order.
func (r *Registry) Snapshot() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Record, len(r.records))
	copy(out, r.records)
	return out
}

// Len returns the number of known hosts.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}
