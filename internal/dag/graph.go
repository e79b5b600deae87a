// SPDX-License-Identifier: MPL-2.0

// Package dag models "must be live before" relationships between modules.
//
// ModuleGraph is built once from the catalog's descriptors and answers the
// lifecycle manager's ordering and admission questions.
package dag

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/invowk/guildhost/pkg/botmod"
)

var (
	// ErrCycleDetected is the sentinel error wrapped by CycleError.
	ErrCycleDetected = errors.New("dependency cycle detected")
	// ErrDuplicateNode is returned by Build when two descriptors share an id.
	ErrDuplicateNode = errors.New("duplicate module in graph")
)

type (
	// CycleError names the modules of a dependency cycle in traversal order,
	// closed on the first member: a -> b -> c -> a.
	CycleError struct {
		Cycle []botmod.ModuleID
	}

	// ModuleGraph is the immutable dependency graph over the catalog.
	// It is safe for concurrent reads.
	ModuleGraph struct {
		nodes map[botmod.ModuleID]*node
		// order is the depth-first post-order of Build: every module comes
		// after all of its dependencies.
		order []botmod.ModuleID
	}

	// node wraps a descriptor with its edges. Nodes never outlive their graph.
	node struct {
		desc       botmod.Descriptor
		dependsOn  []botmod.ModuleID
		dependedBy []botmod.ModuleID
		// missing lists declared dependencies that are not in the catalog.
		missing []botmod.ModuleID
	}

	visitState uint8

	builder struct {
		byID  map[botmod.ModuleID]botmod.Descriptor
		state map[botmod.ModuleID]visitState
		// stack holds the modules currently being inserted.
		stack []botmod.ModuleID
		nodes map[botmod.ModuleID]*node
		// inserted records post-order insertion, dependencies first.
		inserted []botmod.ModuleID
	}
)

const (
	unvisited visitState = iota
	active
	done
)

// Build inserts every descriptor depth-first and fails with a *CycleError
// naming the full chain when a module is reached again while still on the
// active stack. Dependencies absent from descs are recorded as missing rather
// than rejected; such modules are never ordered for instantiation.
func Build(descs []botmod.Descriptor) (*ModuleGraph, error) {
	b := &builder{
		byID:  make(map[botmod.ModuleID]botmod.Descriptor, len(descs)),
		state: make(map[botmod.ModuleID]visitState, len(descs)),
		nodes: make(map[botmod.ModuleID]*node, len(descs)),
	}
	for _, d := range descs {
		if _, exists := b.byID[d.ID]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateNode, d.ID)
		}
		b.byID[d.ID] = d
	}
	for _, d := range descs {
		if err := b.visit(d.ID); err != nil {
			return nil, err
		}
	}

	for _, id := range b.inserted {
		for _, dep := range b.nodes[id].dependsOn {
			b.nodes[dep].dependedBy = append(b.nodes[dep].dependedBy, id)
		}
	}
	return &ModuleGraph{nodes: b.nodes, order: b.inserted}, nil
}

func (e *CycleError) Error() string {
	parts := make([]string, len(e.Cycle))
	for i, id := range e.Cycle {
		parts[i] = string(id)
	}
	return "dependency cycle detected: " + strings.Join(parts, " -> ")
}

func (e *CycleError) Unwrap() error { return ErrCycleDetected }

func (b *builder) visit(id botmod.ModuleID) error {
	switch b.state[id] {
	case done:
		return nil
	case active:
		start := slices.Index(b.stack, id)
		cycle := append(slices.Clone(b.stack[start:]), id)
		return &CycleError{Cycle: cycle}
	}

	b.state[id] = active
	b.stack = append(b.stack, id)

	desc := b.byID[id]
	n := &node{desc: desc}
	for _, dep := range desc.Dependencies {
		if _, known := b.byID[dep]; !known {
			n.missing = append(n.missing, dep)
			continue
		}
		if err := b.visit(dep); err != nil {
			return err
		}
		if !slices.Contains(n.dependsOn, dep) {
			n.dependsOn = append(n.dependsOn, dep)
		}
	}

	b.stack = b.stack[:len(b.stack)-1]
	b.state[id] = done
	b.nodes[id] = n
	b.inserted = append(b.inserted, id)
	return nil
}

// OrderForInstantiation decides which of requested can be instantiated given
// the modules already live. A module is ordered when it is already live or
// when it was requested and every dependency resolves, recursively. Anything
// else, including unknown modules and modules whose dependencies are missing
// or unrequested, lands in skipped, and the failure propagates to every
// requested dependent without raising. Already-live modules are never
// returned in ordered. Decisions are memoized for the duration of the call.
func (g *ModuleGraph) OrderForInstantiation(requested, alreadyInstantiated []botmod.ModuleID) (ordered, skipped []botmod.ModuleID) {
	live := make(map[botmod.ModuleID]bool, len(alreadyInstantiated))
	for _, id := range alreadyInstantiated {
		live[id] = true
	}
	wanted := make(map[botmod.ModuleID]bool, len(requested))
	for _, id := range requested {
		wanted[id] = true
	}

	memo := make(map[botmod.ModuleID]bool)
	var resolve func(id botmod.ModuleID) bool
	resolve = func(id botmod.ModuleID) bool {
		if ok, seen := memo[id]; seen {
			return ok
		}
		if live[id] {
			memo[id] = true
			return true
		}

		n, known := g.nodes[id]
		if !known || !wanted[id] || len(n.missing) > 0 {
			memo[id] = false
			if wanted[id] {
				skipped = append(skipped, id)
			}
			return false
		}

		for _, dep := range n.dependsOn {
			if !resolve(dep) {
				memo[id] = false
				skipped = append(skipped, id)
				return false
			}
		}

		memo[id] = true
		ordered = append(ordered, id)
		return true
	}

	for _, id := range requested {
		resolve(id)
	}
	return ordered, skipped
}

// Dependencies returns the declared dependencies of id, sorted.
func (g *ModuleGraph) Dependencies(id botmod.ModuleID) []botmod.ModuleID {
	n, ok := g.nodes[id]
	if !ok {
		return nil
	}
	return sorted(n.desc.Dependencies)
}

// Dependents returns the modules that directly depend on id, sorted.
func (g *ModuleGraph) Dependents(id botmod.ModuleID) []botmod.ModuleID {
	n, ok := g.nodes[id]
	if !ok {
		return nil
	}
	return sorted(n.dependedBy)
}

// Missing returns the declared dependencies of id absent from the catalog.
func (g *ModuleGraph) Missing(id botmod.ModuleID) []botmod.ModuleID {
	n, ok := g.nodes[id]
	if !ok {
		return nil
	}
	return sorted(n.missing)
}

// Has reports whether id is a node of the graph.
func (g *ModuleGraph) Has(id botmod.ModuleID) bool {
	_, ok := g.nodes[id]
	return ok
}

// Order returns every module in dependency-first order.
func (g *ModuleGraph) Order() []botmod.ModuleID {
	return slices.Clone(g.order)
}

// TeardownOrder returns the given modules dependents-first, so that each
// module is torn down before anything it depends on. Unknown ids are dropped.
func (g *ModuleGraph) TeardownOrder(ids []botmod.ModuleID) []botmod.ModuleID {
	include := make(map[botmod.ModuleID]bool, len(ids))
	for _, id := range ids {
		include[id] = true
	}
	out := make([]botmod.ModuleID, 0, len(ids))
	for i := len(g.order) - 1; i >= 0; i-- {
		if include[g.order[i]] {
			out = append(out, g.order[i])
		}
	}
	return out
}

func sorted(ids []botmod.ModuleID) []botmod.ModuleID {
	if len(ids) == 0 {
		return nil
	}
	out := slices.Clone(ids)
	slices.Sort(out)
	return out
}
