package realtime

// SubscriptionRegistry is the set of channels the caller asked to receive. Members keep their
// insertion order so replay is deterministic. Guarded by ConnectionManager's mutex.
type SubscriptionRegistry struct {
	index    map[string]int
	channels []string
}

func NewSubscriptionRegistry() *SubscriptionRegistry {
	return &SubscriptionRegistry{index: make(map[string]int)}
}

// Add inserts channel and reports whether it was not already present.
func (r *SubscriptionRegistry) Add(channel string) bool {
	if _, ok := r.index[channel]; ok {
		return false
	}
	r.index[channel] = len(r.channels)
	r.channels = append(r.channels, channel)
	return true
}

// Remove deletes channel and reports whether it was present.
func (r *SubscriptionRegistry) Remove(channel string) bool {
	i, ok := r.index[channel]
	if !ok {
		return false
	}
	delete(r.index, channel)
	r.channels = append(r.channels[:i], r.channels[i+1:]...)
	for j := i; j < len(r.channels); j++ {
		r.index[r.channels[j]] = j
	}
	return true
}

func (r *SubscriptionRegistry) Has(channel string) bool {
	_, ok := r.index[channel]
	return ok
}

// All returns a snapshot of the members in insertion order.
func (r *SubscriptionRegistry) All() []string {
	out := make([]string, len(r.channels))
	copy(out, r.channels)
	return out
}

func (r *SubscriptionRegistry) Len() int {
	return len(r.channels)
}
