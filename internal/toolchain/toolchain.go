// Package toolchain invokes the external cross-toolchain that compiles
// packages into the staging layout. The pipeline only sees the aggregate
// per-package results.
package toolchain

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/glowbarn/forge/internal/board"
	"github.com/glowbarn/forge/internal/pipeline"
	"github.com/glowbarn/forge/internal/pkggraph"
)

// DefaultCommand is the toolchain driver expected on PATH.
var DefaultCommand = []string{"glowbarn-mk"}

// ExecBuilder builds packages by running the toolchain driver once per
// package, in the order given. Each invocation gets the target architecture,
// the staging directory and the package's install action:
//
//	glowbarn-mk --arch aarch64 --staging DIR [--option KEY=VAL]... pkg/busybox
//
// The driver is expected to install its results under DIR/rootfs and, for
// boot payloads, DIR/boot.
type ExecBuilder struct {
	// Command is the driver invocation prefix; per-package arguments are
	// appended to it. Empty means DefaultCommand.
	Command []string
	// StagingDir is created before the first package builds.
	StagingDir string
}

func (b *ExecBuilder) Build(ctx context.Context, target *board.TargetDescriptor, packages []pkggraph.PackageSpec, buildOptions []string) (*pipeline.BuildResult, error) {
	command := b.Command
	if len(command) == 0 {
		command = DefaultCommand
	}

	for _, sub := range []string{"rootfs", "boot"} {
		if err := os.MkdirAll(filepath.Join(b.StagingDir, sub), 0755); err != nil {
			return nil, err
		}
	}

	result := &pipeline.BuildResult{}
	for _, pkg := range packages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		args := append([]string{}, command[1:]...)
		args = append(args, "--arch", target.Arch, "--staging", b.StagingDir)
		for _, option := range buildOptions {
			args = append(args, "--option", option)
		}
		args = append(args, pkg.InstallAction)

		logrus.WithFields(logrus.Fields{"package": pkg.ID, "target": target.Name}).Debug("building package")
		cmd := exec.CommandContext(ctx, command[0], args...)
		output, err := cmd.CombinedOutput()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			result.Packages = append(result.Packages, pipeline.PackageResult{
				ID:     pkg.ID,
				Output: string(output),
			})
			// dependents cannot build on top of a failed package
			break
		}
		result.Packages = append(result.Packages, pipeline.PackageResult{ID: pkg.ID, Success: true})
	}
	return result, nil
}
