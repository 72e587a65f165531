// Package provision applies idempotent mutation ops to a staged root tree.
//
// Ops run strictly in declared order; later ops may rely on what earlier
// ones created. Because every op is a no-op when its target is already
// satisfied, a failed run can be resumed from its state marker or simply
// restarted from scratch with the same end result.
package provision

import (
	"fmt"

	"github.com/glowbarn/forge/internal/jsondb"
)

// A PartialProvisionError is returned when applying the op sequence failed
// partway. OpIndex is the index of the op that failed; everything before it
// was applied successfully and is recorded in the state marker.
type PartialProvisionError struct {
	OpIndex int
	Key     string
	Err     error
}

func (e *PartialProvisionError) Error() string {
	return fmt.Sprintf("provisioning failed at op %d (%s): %v", e.OpIndex, e.Key, e.Err)
}

func (e *PartialProvisionError) Unwrap() error {
	return e.Err
}

// Provisioner applies mutation ops to one staged tree, keeping a state
// marker so an interrupted run resumes where it stopped.
type Provisioner struct {
	tree  *Tree
	state *jsondb.JSONDatabase
	name  string
}

type stateMarker struct {
	NextOp int `json:"next_op"`
}

// New creates a provisioner for the given tree. Markers are stored in state
// under the given name, which must be unique per build run target.
func New(tree *Tree, state *jsondb.JSONDatabase, name string) *Provisioner {
	return &Provisioner{tree: tree, state: state, name: name}
}

// Apply runs the ops in order, resuming from a previous partial run if a
// state marker exists. Returns the number of ops that effectively changed
// the tree. On failure the marker holds the resume index and the error is a
// PartialProvisionError.
func (p *Provisioner) Apply(ops []MutationOp) (int, error) {
	var marker stateMarker
	if _, err := p.state.Read(p.name, &marker); err != nil {
		return 0, err
	}
	if marker.NextOp > len(ops) {
		return 0, fmt.Errorf("state marker %q points past the op list (%d > %d)", p.name, marker.NextOp, len(ops))
	}

	changed := 0
	for i := marker.NextOp; i < len(ops); i++ {
		op := &ops[i]
		didChange, err := op.apply(p.tree)
		if err != nil {
			return changed, &PartialProvisionError{OpIndex: i, Key: op.Key, Err: err}
		}
		if didChange {
			changed++
		}
		marker.NextOp = i + 1
		if err := p.state.Write(p.name, &marker); err != nil {
			return changed, &PartialProvisionError{OpIndex: i, Key: op.Key, Err: err}
		}
	}

	// clear the marker so the next run starts from the top again
	if err := p.state.Delete(p.name); err != nil {
		return changed, err
	}
	return changed, nil
}
