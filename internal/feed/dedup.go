package feed

// dedupSet is a bounded recency set of source IDs. When the set is full the
// oldest ID is evicted, so a provider re-serving very old records could in
// principle re-ingest them; capacity is sized well above one fetch window.
type dedupSet struct {
	capacity int
	order    []string
	seen     map[string]struct{}
}

func newDedupSet(capacity int) *dedupSet {
	if capacity < 1 {
		capacity = 1
	}
	return &dedupSet{
		capacity: capacity,
		seen:     make(map[string]struct{}, capacity),
	}
}

func (d *dedupSet) contains(id string) bool {
	_, ok := d.seen[id]
	return ok
}

func (d *dedupSet) add(id string) {
	if d.contains(id) {
		return
	}
	if len(d.order) >= d.capacity {
		oldest := d.order[0]
		d.order = d.order[1:]
		delete(d.seen, oldest)
	}
	d.order = append(d.order, id)
	d.seen[id] = struct{}{}
}
