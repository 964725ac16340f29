package pipeline

import (
	"fmt"
	"sync"
)

// TargetRegistry serializes access to verification targets. Restores
// and drops mutate shared instance state with no isolation, so two
// concurrent jobs may never lease the same target.
type TargetRegistry struct {
	mu     sync.Mutex
	leased map[string]bool
}

func NewTargetRegistry() *TargetRegistry {
	return &TargetRegistry{leased: make(map[string]bool)}
}

// Acquire leases the named target. The returned release function is
// idempotent.
func (r *TargetRegistry) Acquire(id string) (func(), error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.leased[id] {
		return nil, fmt.Errorf("verification target %s is already in use by another job", id)
	}
	r.leased[id] = true

	var once sync.Once
	release := func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			delete(r.leased, id)
		})
	}
	return release, nil
}
