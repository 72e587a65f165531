// Package board is the static registry of build targets: per-board
// partition layouts and the boot artifacts a finished image must carry.
package board

import (
	"fmt"
	"sort"

	"github.com/glowbarn/forge/internal/disk"
)

// TargetDescriptor describes everything board-specific about an image.
type TargetDescriptor struct {
	Name string
	Arch string
	// MediaSize is the fixed capacity of the target media in bytes. Zero
	// means the image may grow to whatever the layout needs.
	MediaSize uint64
	// BootArtifacts lists the file names that must be present in the boot
	// content directory when the image is assembled: firmware blobs,
	// device trees and the kernel.
	BootArtifacts []string

	// Layout is the board's partition table template. Use PartitionTable
	// to get a mutable copy.
	Layout disk.PartitionTable
}

// PartitionTable returns a copy of the board's partition layout, safe for
// the caller to lay out and mutate.
func (t *TargetDescriptor) PartitionTable() *disk.PartitionTable {
	return t.Layout.Clone()
}

// An UnknownTargetError is returned when a board id is not present in the
// registry.
type UnknownTargetError struct {
	Name string
}

func (e *UnknownTargetError) Error() string {
	return fmt.Sprintf("unknown target: %q", e.Name)
}

var registered = map[string]*TargetDescriptor{}

// New returns the descriptor registered under the given board id.
func New(name string) (*TargetDescriptor, error) {
	target, ok := registered[name]
	if !ok {
		return nil, &UnknownTargetError{Name: name}
	}
	return target, nil
}

// Register adds a descriptor to the registry. Boards are registered from
// init functions; a duplicate name is a programming error.
func Register(target *TargetDescriptor) {
	if _, exists := registered[target.Name]; exists {
		panic("a target with this name already exists: " + target.Name)
	}
	registered[target.Name] = target
}

// Names returns all registered board ids, sorted.
func Names() []string {
	names := make([]string, 0, len(registered))
	for name := range registered {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
