package jobs

import (
	"sort"
	"sync"
)

// Registry tracks the machines of jobs that are queued or running in this process.
// Finished jobs are removed; their history lives in the store.
type Registry struct {
	mu       sync.RWMutex
	machines map[string]*Machine
}

func NewRegistry() *Registry {
	return &Registry{machines: make(map[string]*Machine)}
}

// Add registers m, returning false if a machine with the same id already exists
func (r *Registry) Add(m *Machine) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.machines[m.ID()]; exists {
		return false
	}
	r.machines[m.ID()] = m
	return true
}

func (r *Registry) Get(id string) (*Machine, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.machines[id]
	return m, ok
}

func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.machines, id)
	r.mu.Unlock()
}

// List returns the live machines ordered by job id
func (r *Registry) List() []*Machine {
	r.mu.RLock()
	out := make([]*Machine, 0, len(r.machines))
	for _, m := range r.machines {
		out = append(out, m)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.machines)
}
