// Package forgeerr maps the tool's error kinds to process exit codes.
// Scripts key on these, so each kind has a stable code.
package forgeerr

import (
	"errors"

	"github.com/glowbarn/forge/internal/assembler"
	"github.com/glowbarn/forge/internal/board"
	"github.com/glowbarn/forge/internal/disk"
	"github.com/glowbarn/forge/internal/feature"
	"github.com/glowbarn/forge/internal/pipeline"
	"github.com/glowbarn/forge/internal/pkggraph"
	"github.com/glowbarn/forge/internal/provision"
)

const (
	ExitSuccess             = 0
	ExitFailure             = 1
	ExitUsage               = 2
	ExitConfiguration       = 10
	ExitDependencyCycle     = 11
	ExitPartialProvision    = 12
	ExitMissingBootArtifact = 13
	ExitOversize            = 14
	ExitContentMissing      = 15
	ExitBuildInProgress     = 16
	ExitUnknownTarget       = 17
)

// ExitCode returns the exit code for an error, unwrapping as needed. A nil
// error is success, an unrecognized one a generic failure.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var (
		configuration *feature.ConfigurationError
		unknownPkg    *pkggraph.UnknownPackageError
		cycle         *pkggraph.DependencyCycleError
		partial       *provision.PartialProvisionError
		missingBoot   *assembler.MissingBootArtifactError
		oversize      *disk.OversizeError
		missing       *assembler.ContentMissingError
		inProgress    *pipeline.BuildInProgressError
		unknownTarget *board.UnknownTargetError
	)
	switch {
	case errors.As(err, &configuration), errors.As(err, &unknownPkg):
		return ExitConfiguration
	case errors.As(err, &cycle):
		return ExitDependencyCycle
	case errors.As(err, &partial):
		return ExitPartialProvision
	case errors.As(err, &missingBoot):
		return ExitMissingBootArtifact
	case errors.As(err, &oversize):
		return ExitOversize
	case errors.As(err, &missing):
		return ExitContentMissing
	case errors.As(err, &inProgress):
		return ExitBuildInProgress
	case errors.As(err, &unknownTarget):
		return ExitUnknownTarget
	default:
		return ExitFailure
	}
}
