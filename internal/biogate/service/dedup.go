package service

// DefaultDedupCapacity bounds how many recent scan keys are remembered.
const DefaultDedupCapacity = 500

// Dedup remembers the most recent scan keys. Oldest keys are evicted first
// regardless of how often they were seen. Not safe for concurrent use.
type Dedup struct {
	seen map[string]struct{}
	ring []string
	next int
	full bool
}

func NewDedup(capacity int) *Dedup {
	if capacity <= 0 {
		capacity = DefaultDedupCapacity
	}
	return &Dedup{
		seen: make(map[string]struct{}, capacity),
		ring: make([]string, capacity),
	}
}

// Seen reports whether key is already in the window. A new key is recorded.
func (d *Dedup) Seen(key string) bool {
	if _, ok := d.seen[key]; ok {
		return true
	}
	if d.full {
		delete(d.seen, d.ring[d.next])
	}
	d.ring[d.next] = key
	d.seen[key] = struct{}{}
	d.next++
	if d.next == len(d.ring) {
		d.next = 0
		d.full = true
	}
	return false
}

func (d *Dedup) Len() int { return len(d.seen) }
