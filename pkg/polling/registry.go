package polling

import (
	"sort"
	"sync"
)

// Registry records which jobs currently have a poller. A job id is held by at
// most one poller at a time; Release is idempotent.
type Registry struct {
	mu     sync.Mutex
	active map[string]struct{}
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{active: make(map[string]struct{})}
}

// Register claims jobID. It returns false if the job is already being polled.
func (r *Registry) Register(jobID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.active[jobID]; ok {
		return false
	}
	r.active[jobID] = struct{}{}
	return true
}

// Release drops jobID. Releasing an unknown id is a no-op.
func (r *Registry) Release(jobID string) {
	r.mu.Lock()
	delete(r.active, jobID)
	r.mu.Unlock()
}

// Active reports whether jobID is being polled.
func (r *Registry) Active(jobID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.active[jobID]
	return ok
}

// List returns the active job ids in sorted order.
func (r *Registry) List() []string {
	r.mu.Lock()
	ids := make([]string, 0, len(r.active))
	for id := range r.active {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	sort.Strings(ids)
	return ids
}
