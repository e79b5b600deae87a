// SPDX-License-Identifier: MPL-2.0

package botmod

import (
	"errors"
	"fmt"
)

var (
	// ErrNilFactory is returned when a descriptor has no factory.
	ErrNilFactory = errors.New("module descriptor has no factory")
	// ErrSelfDependency is returned when a descriptor lists itself as a dependency.
	ErrSelfDependency = errors.New("module depends on itself")
)

type (
	// Resolver hands out shared services to module factories by name.
	// It fails if the named service was never registered.
	Resolver interface {
		Resolve(name string) (any, error)
	}

	// Factory constructs a fresh module instance for one guild.
	Factory func(r Resolver) (Module, error)

	// Descriptor is the immutable description of a module, created once at boot.
	Descriptor struct {
		ID          ModuleID
		Name        string
		Description string
		Author      string
		Version     string
		URL         string
		// Dependencies lists modules that must be live in the same guild first.
		Dependencies []ModuleID
		// Requires lists the service names the factory resolves. They are
		// checked before the factory runs.
		Requires []string
		Factory  Factory
	}
)

// Validate checks the descriptor's id, dependency ids and factory.
func (d Descriptor) Validate() error {
	if err := d.ID.Validate(); err != nil {
		return err
	}
	for _, dep := range d.Dependencies {
		if err := dep.Validate(); err != nil {
			return fmt.Errorf("module %s dependency: %w", d.ID, err)
		}
		if dep == d.ID {
			return fmt.Errorf("module %s: %w", d.ID, ErrSelfDependency)
		}
	}
	if d.Factory == nil {
		return fmt.Errorf("module %s: %w", d.ID, ErrNilFactory)
	}
	return nil
}

// DisplayName returns Name, falling back to the id.
func (d Descriptor) DisplayName() string {
	if d.Name != "" {
		return d.Name
	}
	return string(d.ID)
}
