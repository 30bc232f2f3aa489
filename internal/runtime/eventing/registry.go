package eventing

import (
	"reflect"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/drblury/relay/internal/runtime/transport"
)

// ReceiverInvoker pairs a registration with the injector that makes it
// reachable through one capability. Transport adapters type-assert Injector
// back to their own injector type.
type ReceiverInvoker struct {
	Registration
	Injector transport.TypesInjector
}

type cacheKey struct {
	capability  transport.Capability
	payloadType reflect.Type
}

// Registry is the immutable table of event notification handlers. Lists
// derived from it are computed once per key and shared afterwards; callers
// must not modify returned slices.
type Registry struct {
	regs []Registration

	mu           sync.Mutex
	cache        sync.Map
	computations atomic.Int64
}

// NewRegistry builds a registry from regs in order. Registering the same
// handler type again removes the earlier entry and appends the later one, so
// the replacement runs in its own registration position. Delegates are never
// deduplicated. Registrations without a payload type or invoker are ignored.
func NewRegistry(regs ...Registration) *Registry {
	r := &Registry{}
	for _, reg := range regs {
		if reg.PayloadType == nil || reg.Invoker == nil {
			continue
		}
		if reg.HandlerType != nil && !reg.HasDelegate {
			r.regs = slices.DeleteFunc(r.regs, func(existing Registration) bool {
				return !existing.HasDelegate && existing.HandlerType == reg.HandlerType
			})
		}
		r.regs = append(r.regs, reg)
	}
	return r
}

// Registrations returns a copy of the registrations in order.
func (r *Registry) Registrations() []Registration {
	return append([]Registration(nil), r.regs...)
}

// Len returns the number of registrations.
func (r *Registry) Len() int { return len(r.regs) }

// ReceiverInvokers returns every handler reachable through capability. The
// list is computed on first use and the same slice is returned afterwards.
func (r *Registry) ReceiverInvokers(capability transport.Capability) []ReceiverInvoker {
	return loadOrCompute(r, cacheKey{capability: capability}, func() []ReceiverInvoker {
		var out []ReceiverInvoker
		for _, reg := range r.regs {
			if inj, ok := transport.FindInjector(reg.TypesInjectors, capability); ok {
				out = append(out, ReceiverInvoker{Registration: reg, Injector: inj})
			}
		}
		return out
	})
}

// InvokersFor returns, in registration order, the invokers of every handler
// observing payloadType through capability.
func (r *Registry) InvokersFor(payloadType reflect.Type, capability transport.Capability) []Invoker {
	return loadOrCompute(r, cacheKey{capability: capability, payloadType: payloadType}, func() []Invoker {
		var out []Invoker
		for _, reg := range r.regs {
			if reg.Handles(payloadType) && reg.Supports(capability) {
				out = append(out, reg.Invoker)
			}
		}
		return out
	})
}

func loadOrCompute[T any](r *Registry, key cacheKey, compute func() T) T {
	if v, ok := r.cache.Load(key); ok {
		return v.(T)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if v, ok := r.cache.Load(key); ok {
		return v.(T)
	}
	v := compute()
	r.computations.Add(1)
	r.cache.Store(key, v)
	return v
}
