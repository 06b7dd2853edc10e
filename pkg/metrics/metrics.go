package metrics

import "sync"

// Registry collects named counters from the subsystems. Counters are
// monotonically increasing and surfaced by the admin API's dump-metrics.
type Registry struct {
	lock     sync.RWMutex
	counters map[string]int64
}

func NewRegistry() *Registry {
	return &Registry{
		counters: make(map[string]int64),
	}
}

// Inc increments the named counter by one.
func (r *Registry) Inc(name string) {
	r.Add(name, 1)
}

// Add increments the named counter by delta.
func (r *Registry) Add(name string, delta int64) {
	if r == nil {
		return
	}
	r.lock.Lock()
	defer r.lock.Unlock()
	r.counters[name] += delta
}

// Get returns the current value of the named counter.
func (r *Registry) Get(name string) int64 {
	if r == nil {
		return 0
	}
	r.lock.RLock()
	defer r.lock.RUnlock()
	return r.counters[name]
}

// Snapshot returns a copy of all counters.
func (r *Registry) Snapshot() map[string]int64 {
	if r == nil {
		return nil
	}
	r.lock.RLock()
	defer r.lock.RUnlock()
	snapshot := make(map[string]int64, len(r.counters))
	for k, v := range r.counters {
		snapshot[k] = v
	}
	return snapshot
}
