package messaging

import (
	"reflect"
	"sync"

	"github.com/drblury/relay/internal/runtime/transport"
)

// Registry holds at most one registration per message type. Registering a
// type again replaces the previous registration.
type Registry struct {
	mu     sync.RWMutex
	byType map[reflect.Type]int
	regs   []Registration
}

// NewRegistry builds a registry from regs. Later entries for the same message
// type win.
func NewRegistry(regs ...Registration) *Registry {
	r := &Registry{byType: make(map[reflect.Type]int, len(regs))}
	for _, reg := range regs {
		r.register(reg)
	}
	return r
}

// Register adds reg, replacing any registration for the same message type.
func (r *Registry) Register(reg Registration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.register(reg)
}

func (r *Registry) register(reg Registration) {
	if reg.PayloadType == nil || reg.Invoker == nil {
		return
	}
	if i, ok := r.byType[reg.PayloadType]; ok {
		r.regs[i] = reg
		return
	}
	r.byType[reg.PayloadType] = len(r.regs)
	r.regs = append(r.regs, reg)
}

// Lookup returns the registration handling payloadType with responseType that
// is reachable through capability.
func (r *Registry) Lookup(payloadType, responseType reflect.Type, capability transport.Capability) (Registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	i, ok := r.byType[payloadType]
	if !ok {
		return Registration{}, false
	}
	reg := r.regs[i]
	if reg.ResponseType != responseType || !reg.Supports(capability) {
		return Registration{}, false
	}
	return reg, true
}

// Registrations returns all registrations in first-registration order.
func (r *Registry) Registrations() []Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Registration(nil), r.regs...)
}

// Len returns the number of registered message types.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.regs)
}
