// internal/dispatch/registry.go
package dispatch

import (
	"fmt"
	"sync"

	"github.com/fyrsmithlabs/foundry/internal/request"
)

// Registry maps roles to workers. Unknown roles are rejected at registration,
// mirroring request validation's closed role set.
type Registry struct {
	mu      sync.RWMutex
	workers map[request.Role]Worker
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{workers: make(map[request.Role]Worker)}
}

// Register adds a worker for its role.
func (r *Registry) Register(w Worker) error {
	role := w.Role()
	if !role.Known() {
		return fmt.Errorf("cannot register worker for unknown role %q", role)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.workers[role]; exists {
		return fmt.Errorf("worker already registered for role %q", role)
	}
	r.workers[role] = w
	return nil
}

// Lookup returns the worker for a role.
func (r *Registry) Lookup(role request.Role) (Worker, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.workers[role]
	if !ok {
		return nil, fmt.Errorf("no worker registered for role %q", role)
	}
	return w, nil
}

// Roles returns every registered role.
func (r *Registry) Roles() []request.Role {
	r.mu.RLock()
	defer r.mu.RUnlock()
	roles := make([]request.Role, 0, len(r.workers))
	for _, role := range request.KnownRoles() {
		if _, ok := r.workers[role]; ok {
			roles = append(roles, role)
		}
	}
	return roles
}
