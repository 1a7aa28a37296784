package dispatcher

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// atomicString is a minimal typed wrapper around atomic.Value for the one
// field (currentStage) that's written by the forwarder goroutine and read
// concurrently by Status calls.
type atomicString struct {
	v atomic.Value
}

func (a *atomicString) store(s string) { a.v.Store(s) }

func (a *atomicString) load() string {
	s, _ := a.v.Load().(string)
	return s
}

// registryMap is the process-wide deliberationId → registration table
// §4.6 calls for, modeled on the teacher's pkg/session.Manager mutex+map.
type registryMap struct {
	mu   sync.RWMutex
	regs map[uuid.UUID]*registration
}

func newRegistryMap() registryMap {
	return registryMap{regs: make(map[uuid.UUID]*registration)}
}

func (r *registryMap) put(id uuid.UUID, reg *registration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.regs[id] = reg
}

func (r *registryMap) get(id uuid.UUID) (*registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.regs[id]
	return reg, ok
}

// deleteIfSame removes id's entry only if it still points at reg, so a
// concurrent retry()/submit() that has already installed a newer
// registration for the same deliberationId is never clobbered by a
// slow-finishing previous run's cleanup.
func (r *registryMap) deleteIfSame(id uuid.UUID, reg *registration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.regs[id] == reg {
		delete(r.regs, id)
	}
}

// popIfPresent removes and returns id's registration, if any.
func (r *registryMap) popIfPresent(id uuid.UUID) (*registration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, ok := r.regs[id]
	if ok {
		delete(r.regs, id)
	}
	return reg, ok
}
