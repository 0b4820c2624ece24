package contracts

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Registry maps contract addresses to roles. Static protocol contracts are
// registered at start-up; tranched pools are added as they are discovered.
type Registry struct {
	mu    sync.RWMutex
	roles map[common.Address]Role
}

// NewRegistry builds a registry from a static address book.
func NewRegistry(static map[Role]common.Address) *Registry {
	r := &Registry{roles: make(map[common.Address]Role, len(static))}
	for role, addr := range static {
		if addr == (common.Address{}) {
			continue
		}
		r.roles[addr] = role
	}
	return r
}

// Register assigns role to addr.
func (r *Registry) Register(addr common.Address, role Role) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.roles[addr] = role
}

// Role returns the role registered for addr, or RoleUnknown.
func (r *Registry) Role(addr common.Address) Role {
	if r == nil {
		return RoleUnknown
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.roles[addr]
}

// Address returns the first address registered for role.
func (r *Registry) Address(role Role) (common.Address, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for addr, candidate := range r.roles {
		if candidate == role {
			return addr, true
		}
	}
	return common.Address{}, false
}

// Addresses returns every registered address with its role.
func (r *Registry) Addresses() map[common.Address]Role {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[common.Address]Role, len(r.roles))
	for addr, role := range r.roles {
		out[addr] = role
	}
	return out
}
