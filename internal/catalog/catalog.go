// SPDX-License-Identifier: MPL-2.0

// Package catalog holds the process-lifetime table of module descriptors.
//
// A Catalog is built once at boot from the descriptors registered with a
// Builder and is immutable afterwards, so it is safe for concurrent reads.
package catalog

import (
	"errors"
	"fmt"
	"slices"

	"github.com/invowk/guildhost/pkg/botmod"
)

// ErrDuplicateModule is returned when two descriptors share an id.
var ErrDuplicateModule = errors.New("duplicate module id")

type (
	// Catalog is an immutable set of module descriptors keyed by id.
	Catalog struct {
		order []botmod.ModuleID
		byID  map[botmod.ModuleID]botmod.Descriptor
	}

	// Builder collects descriptors before the catalog is frozen.
	Builder struct {
		descs []botmod.Descriptor
	}

	// DuplicateModuleError names the id registered more than once.
	DuplicateModuleError struct {
		ID botmod.ModuleID
	}
)

// NewBuilder creates an empty Builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Add queues a descriptor. Validation happens in Build.
func (b *Builder) Add(d botmod.Descriptor) *Builder {
	b.descs = append(b.descs, d)
	return b
}

// Build validates the queued descriptors and freezes them into a Catalog.
func (b *Builder) Build() (*Catalog, error) {
	return New(b.descs...)
}

// New creates a Catalog from descriptors, preserving their order.
func New(descs ...botmod.Descriptor) (*Catalog, error) {
	c := &Catalog{
		order: make([]botmod.ModuleID, 0, len(descs)),
		byID:  make(map[botmod.ModuleID]botmod.Descriptor, len(descs)),
	}
	for _, d := range descs {
		if err := d.Validate(); err != nil {
			return nil, err
		}
		if _, exists := c.byID[d.ID]; exists {
			return nil, &DuplicateModuleError{ID: d.ID}
		}
		d.Dependencies = slices.Clone(d.Dependencies)
		d.Requires = slices.Clone(d.Requires)
		c.byID[d.ID] = d
		c.order = append(c.order, d.ID)
	}
	return c, nil
}

// Get returns the descriptor for id.
func (c *Catalog) Get(id botmod.ModuleID) (botmod.Descriptor, bool) {
	d, ok := c.byID[id]
	return d, ok
}

// Has reports whether id is in the catalog.
func (c *Catalog) Has(id botmod.ModuleID) bool {
	_, ok := c.byID[id]
	return ok
}

// IDs returns module ids in registration order.
func (c *Catalog) IDs() []botmod.ModuleID {
	return slices.Clone(c.order)
}

// Descriptors returns all descriptors in registration order.
func (c *Catalog) Descriptors() []botmod.Descriptor {
	out := make([]botmod.Descriptor, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.byID[id])
	}
	return out
}

// Len returns the number of modules.
func (c *Catalog) Len() int { return len(c.order) }

// Error implements the error interface.
func (e *DuplicateModuleError) Error() string {
	return fmt.Sprintf("duplicate module id %q", e.ID)
}

// Unwrap returns ErrDuplicateModule for errors.Is() compatibility.
func (e *DuplicateModuleError) Unwrap() error { return ErrDuplicateModule }
