// Package services is the minimal service resolution contract handed to
// transports, middlewares and handlers.
package services

import (
	"reflect"
	"sync"
)

// Provider resolves collaborators by key.
type Provider interface {
	Service(key any) (any, bool)
}

// Map is a concurrency safe Provider backed by a map. The zero value is ready
// to use.
type Map struct {
	mu       sync.RWMutex
	services map[any]any
}

// NewMap returns an empty Map.
func NewMap() *Map {
	return &Map{}
}

// Set registers value under key, replacing any previous value.
func (m *Map) Set(key, value any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.services == nil {
		m.services = make(map[any]any)
	}
	m.services[key] = value
}

func (m *Map) Service(key any) (any, bool) {
	if m == nil {
		return nil, false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.services[key]
	return v, ok
}

// KeyOf returns the key Register and Resolve use for T.
func KeyOf[T any]() any {
	return reflect.TypeFor[T]()
}

// Register stores value keyed by its static type T.
func Register[T any](m *Map, value T) {
	m.Set(KeyOf[T](), value)
}

// Resolve looks up the service registered for T.
func Resolve[T any](p Provider) (T, bool) {
	var zero T
	if p == nil {
		return zero, false
	}
	v, ok := p.Service(KeyOf[T]())
	if !ok {
		return zero, false
	}
	typed, ok := v.(T)
	return typed, ok
}

type empty struct{}

func (empty) Service(any) (any, bool) { return nil, false }

// Empty returns a Provider without services.
func Empty() Provider { return empty{} }

// OrEmpty returns p, or Empty when p is nil.
func OrEmpty(p Provider) Provider {
	if p == nil {
		return Empty()
	}
	return p
}
