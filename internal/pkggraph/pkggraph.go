// Package pkggraph orders the packages selected for an image by their
// declared dependencies.
package pkggraph

import (
	"fmt"
	"strings"
)

// PackageSpec describes one buildable package: its dependencies and the
// install action the external toolchain runs for it.
type PackageSpec struct {
	ID string
	// Requires lists the ids of packages that must be built and installed
	// before this one.
	Requires []string
	// Feature names the flag that enables this package. Empty means the
	// package is part of every image.
	Feature string
	// InstallAction is an opaque reference consumed by the toolchain,
	// e.g. a package recipe name.
	InstallAction string
}

// A Registry holds package specs in declaration order. Declaration order is
// the tie-breaker for the build order, which keeps it reproducible.
type Registry struct {
	specs []PackageSpec
	byID  map[string]int
}

func NewRegistry(specs ...PackageSpec) (*Registry, error) {
	reg := &Registry{
		specs: specs,
		byID:  make(map[string]int, len(specs)),
	}
	for i, spec := range specs {
		if _, exists := reg.byID[spec.ID]; exists {
			return nil, fmt.Errorf("package %q declared twice", spec.ID)
		}
		reg.byID[spec.ID] = i
	}
	return reg, nil
}

// Get returns the spec for the given package id.
func (r *Registry) Get(id string) (PackageSpec, bool) {
	i, ok := r.byID[id]
	if !ok {
		return PackageSpec{}, false
	}
	return r.specs[i], true
}

// All returns every registered spec in declaration order.
func (r *Registry) All() []PackageSpec {
	all := make([]PackageSpec, len(r.specs))
	copy(all, r.specs)
	return all
}

// An UnknownPackageError is returned when a requested or required package id
// is not present in the registry.
type UnknownPackageError struct {
	ID string
}

func (e *UnknownPackageError) Error() string {
	return fmt.Sprintf("unknown package: %q", e.ID)
}

// A DependencyCycleError is returned when the dependency graph of the
// requested packages contains a cycle. IDs names the packages on the cycle
// in the order they require each other.
type DependencyCycleError struct {
	IDs []string
}

func (e *DependencyCycleError) Error() string {
	return "dependency cycle: " + strings.Join(e.IDs, " -> ")
}

// BuildOrder returns the transitive dependency closure of the given package
// ids, topologically sorted so that every dependency precedes its
// dependents. Ties are broken by registry declaration order. A cycle yields
// a DependencyCycleError and no partial result.
func BuildOrder(reg *Registry, ids []string) ([]PackageSpec, error) {
	// collect the closure, keyed by registry index so the order below
	// stays tied to declaration order
	selected := map[int]bool{}
	worklist := make([]string, 0, len(ids))
	worklist = append(worklist, ids...)
	for len(worklist) > 0 {
		id := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]
		idx, ok := reg.byID[id]
		if !ok {
			return nil, &UnknownPackageError{ID: id}
		}
		if selected[idx] {
			continue
		}
		selected[idx] = true
		worklist = append(worklist, reg.specs[idx].Requires...)
	}

	order := make([]PackageSpec, 0, len(selected))
	done := map[int]bool{}
	for len(order) < len(selected) {
		// pick the first declared package whose dependencies are all done;
		// scanning from the start on each round is what makes ties
		// deterministic
		progress := false
		for idx := 0; idx < len(reg.specs); idx++ {
			if !selected[idx] || done[idx] {
				continue
			}
			ready := true
			for _, req := range reg.specs[idx].Requires {
				if !done[reg.byID[req]] {
					ready = false
					break
				}
			}
			if !ready {
				continue
			}
			done[idx] = true
			order = append(order, reg.specs[idx])
			progress = true
			break
		}
		if !progress {
			return nil, &DependencyCycleError{IDs: findCycle(reg, selected, done)}
		}
	}

	return order, nil
}

// findCycle walks Requires edges among the unfinished packages until one
// repeats, then returns the ids on the loop.
func findCycle(reg *Registry, selected, done map[int]bool) []string {
	start := -1
	for idx := 0; idx < len(reg.specs); idx++ {
		if selected[idx] && !done[idx] {
			start = idx
			break
		}
	}

	visited := map[int]int{} // index -> position in path
	path := []int{}
	cur := start
	for {
		if pos, seen := visited[cur]; seen {
			ids := make([]string, 0, len(path)-pos)
			for _, idx := range path[pos:] {
				ids = append(ids, reg.specs[idx].ID)
			}
			return ids
		}
		visited[cur] = len(path)
		path = append(path, cur)

		next := -1
		for _, req := range reg.specs[cur].Requires {
			reqIdx := reg.byID[req]
			if selected[reqIdx] && !done[reqIdx] {
				next = reqIdx
				break
			}
		}
		if next == -1 {
			// cannot happen: an unfinished package always has an
			// unfinished dependency when the sort stalls
			return []string{reg.specs[cur].ID}
		}
		cur = next
	}
}
