package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/glowbarn/forge/internal/board"
	"github.com/glowbarn/forge/internal/pkggraph"
)

// PackageResult is the outcome of building one package.
type PackageResult struct {
	ID      string `json:"id"`
	Success bool   `json:"success"`
	// Output carries the toolchain's error output for failed packages,
	// surfaced verbatim to the user.
	Output string `json:"output,omitempty"`
}

// BuildResult is the aggregate completion signal the external toolchain
// hands back. The toolchain may build packages in parallel internally; the
// pipeline only ever consumes this one aggregate result.
type BuildResult struct {
	Packages []PackageResult `json:"packages"`
}

// FailedPackages returns the ids of packages that failed to build.
func (r *BuildResult) FailedPackages() []PackageResult {
	var failed []PackageResult
	for _, p := range r.Packages {
		if !p.Success {
			failed = append(failed, p)
		}
	}
	return failed
}

// An ExternalBuildError reports packages the toolchain failed to build.
type ExternalBuildError struct {
	Failed []PackageResult
}

func (e *ExternalBuildError) Error() string {
	ids := make([]string, len(e.Failed))
	for i, p := range e.Failed {
		ids[i] = p.ID
	}
	msg := fmt.Sprintf("external build failed for: %s", strings.Join(ids, ", "))
	if len(e.Failed) > 0 && e.Failed[0].Output != "" {
		msg += ": " + e.Failed[0].Output
	}
	return msg
}

// Builder is the external cross-toolchain collaborator. It compiles the
// ordered package list for the target and populates the staging directory
// layout (rootfs/ and boot/) with the results.
type Builder interface {
	Build(ctx context.Context, target *board.TargetDescriptor, packages []pkggraph.PackageSpec, buildOptions []string) (*BuildResult, error)
}
