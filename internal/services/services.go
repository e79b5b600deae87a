// SPDX-License-Identifier: MPL-2.0

// Package services is the dependency-resolution service handed to module
// factories. Shared collaborators are provided once at boot under typed keys
// and resolved by name; nothing is constructed by reflection.
package services

import (
	"errors"
	"fmt"
	"sync"

	"github.com/invowk/guildhost/pkg/botmod"
)

var (
	// ErrNotRegistered is returned when a service name was never provided.
	ErrNotRegistered = errors.New("service not registered")
	// ErrWrongType is returned when a provided service does not have the key's type.
	ErrWrongType = errors.New("service has unexpected type")
)

type (
	// Key names a service and fixes its Go type.
	Key[T any] struct {
		name string
	}

	// Container holds provided services. It implements botmod.Resolver.
	Container struct {
		mu      sync.RWMutex
		entries map[string]any
	}

	// NotRegisteredError names the missing service.
	NotRegisteredError struct {
		Name string
	}
)

// NewKey creates a key for a service of type T.
func NewKey[T any](name string) Key[T] {
	return Key[T]{name: name}
}

// Name returns the key's service name.
func (k Key[T]) Name() string { return k.name }

// New creates an empty Container.
func New() *Container {
	return &Container{entries: make(map[string]any)}
}

// Provide registers v under k, replacing any previous value.
func Provide[T any](c *Container, k Key[T], v T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[k.name] = v
}

// Get resolves k through r and checks its type.
func Get[T any](r botmod.Resolver, k Key[T]) (T, error) {
	var zero T
	v, err := r.Resolve(k.name)
	if err != nil {
		return zero, err
	}
	typed, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %s is %T", ErrWrongType, k.name, v)
	}
	return typed, nil
}

// Resolve returns the service registered under name.
func (c *Container) Resolve(name string) (any, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.entries[name]
	if !ok {
		return nil, &NotRegisteredError{Name: name}
	}
	return v, nil
}

// Missing returns the names in required that were never provided.
func (c *Container) Missing(required []string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var missing []string
	for _, name := range required {
		if _, ok := c.entries[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}

// Error implements the error interface.
func (e *NotRegisteredError) Error() string {
	return fmt.Sprintf("service %q not registered", e.Name)
}

// Unwrap returns ErrNotRegistered for errors.Is() compatibility.
func (e *NotRegisteredError) Unwrap() error { return ErrNotRegistered }
