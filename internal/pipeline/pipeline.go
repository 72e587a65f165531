// Package pipeline sequences one build run: feature resolution, package
// ordering, the external toolchain build, provisioning and assembly.
//
// A run is linear and owns its staging directory and output path
// exclusively. Stage transitions are persisted as markers so an operator
// can see where a failed run stopped and a retried run can resume its
// provisioning where it left off.
package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/segmentio/ksuid"
	"github.com/sirupsen/logrus"

	"github.com/glowbarn/forge/internal/assembler"
	"github.com/glowbarn/forge/internal/board"
	"github.com/glowbarn/forge/internal/buildconfig"
	"github.com/glowbarn/forge/internal/disk"
	"github.com/glowbarn/forge/internal/feature"
	"github.com/glowbarn/forge/internal/jsondb"
	"github.com/glowbarn/forge/internal/pkggraph"
	"github.com/glowbarn/forge/internal/provision"
)

// Options configure one build run.
type Options struct {
	Target     string
	Flags      map[string]bool
	ConfigPath string
	OutputDir  string
	StateDir   string
	// ForceConfig overwrites configuration files that already exist in the
	// staged tree, discarding hand edits.
	ForceConfig bool
	// ExternalBuildTimeout bounds only the wait for the external
	// toolchain. Zero means no timeout.
	ExternalBuildTimeout time.Duration
}

// OutputPath returns the deterministic image path for a target.
func (o *Options) OutputPath() string {
	return filepath.Join(o.OutputDir, "glowbarn-"+o.Target+".img")
}

// StagingDir returns the directory the run stages its root tree and boot
// content in. The external builder populates rootfs/ and boot/ below it.
func (o *Options) StagingDir() string {
	return filepath.Join(o.StateDir, "staging", o.Target)
}

// Pipeline runs builds. Builder is the external toolchain collaborator;
// Sources may be set to override how partition content is derived from the
// staging directory, which the tests use to avoid invoking mkfs.
type Pipeline struct {
	Builder Builder
	Sources func(target *board.TargetDescriptor, pt *disk.PartitionTable, stagingDir string) (map[string]assembler.Source, error)
	// OnStateChange, if set, observes every state transition.
	OnStateChange func(State)
}

// runMarker is the persisted stage marker of the most recent run for a
// target. A retry reports the previous failure from it; operators can
// inspect it under <state-dir>/runs.
type runMarker struct {
	RunID string `json:"run_id"`
	State State  `json:"state"`
	Error string `json:"error,omitempty"`
}

// Run executes one build to completion and returns the published image.
func (p *Pipeline) Run(ctx context.Context, opts Options) (*assembler.Image, error) {
	// an unknown target must fail before any file is created
	target, err := board.New(opts.Target)
	if err != nil {
		return nil, err
	}

	runID := ksuid.New().String()
	log := logrus.WithFields(logrus.Fields{"run": runID, "target": target.Name})

	release, err := LockSession(opts.StateDir, opts.Target, opts.OutputPath())
	if err != nil {
		return nil, err
	}
	defer release()

	runsDir := filepath.Join(opts.StateDir, "runs")
	if err := os.MkdirAll(runsDir, 0755); err != nil {
		return nil, err
	}

	r := &run{
		id:     runID,
		opts:   opts,
		target: target,
		state:  jsondb.New(runsDir, 0644),
		log:    log,
		hook:   p.OnStateChange,
	}

	var previous runMarker
	if ok, err := r.state.Read("run-"+opts.Target, &previous); err == nil && ok && previous.State == Failed {
		log.WithFields(logrus.Fields{
			"previous_run":   previous.RunID,
			"previous_error": previous.Error,
		}).Info("retrying after a failed run")
	}

	image, err := r.execute(ctx, p)
	if err != nil {
		r.transition(Failed, err)
		return nil, fmt.Errorf("target %s: stage %s: %w", opts.Target, r.failedIn, err)
	}
	return image, nil
}

type run struct {
	id       string
	opts     Options
	target   *board.TargetDescriptor
	state    *jsondb.JSONDatabase
	log      *logrus.Entry
	hook     func(State)
	current  State
	failedIn State
}

// transition persists the stage marker and logs the change. The cause is
// recorded when entering Failed.
func (r *run) transition(next State, cause error) {
	if next == Failed {
		r.failedIn = r.current
	}
	r.current = next

	marker := runMarker{RunID: r.id, State: next}
	if cause != nil {
		marker.Error = cause.Error()
	}
	if err := r.state.Write("run-"+r.opts.Target, &marker); err != nil {
		r.log.WithError(err).Warn("could not persist stage marker")
	}

	r.log.WithField("state", next.String()).Info("pipeline state changed")
	if r.hook != nil {
		r.hook(next)
	}
}

func (r *run) execute(ctx context.Context, p *Pipeline) (*assembler.Image, error) {
	r.transition(Configuring, nil)

	config, err := buildconfig.Load(r.opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	resolved, err := feature.Resolve(r.opts.Flags)
	if err != nil {
		return nil, err
	}
	r.log.WithField("features", resolved.Features).Info("features resolved")

	r.transition(ResolvingPackages, nil)

	registry := pkggraph.DefaultRegistry()
	requested := append([]string{}, pkggraph.BasePackages...)
	requested = append(requested, resolved.Packages...)
	packages, err := pkggraph.BuildOrder(registry, requested)
	if err != nil {
		return nil, err
	}
	r.log.WithField("packages", len(packages)).Info("package order resolved")

	r.transition(AwaitingExternalBuild, nil)

	buildCtx := ctx
	if r.opts.ExternalBuildTimeout > 0 {
		var cancel context.CancelFunc
		buildCtx, cancel = context.WithTimeout(ctx, r.opts.ExternalBuildTimeout)
		defer cancel()
	}
	result, err := p.Builder.Build(buildCtx, r.target, packages, resolved.BuildOptions)
	if err != nil {
		return nil, err
	}
	if failed := result.FailedPackages(); len(failed) > 0 {
		// any package failure aborts before provisioning
		return nil, &ExternalBuildError{Failed: failed}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.transition(Provisioning, nil)

	tree := provision.NewTree(filepath.Join(r.opts.StagingDir(), "rootfs"))
	provisioner := provision.New(tree, r.state, "provision-"+r.opts.Target)
	ops, err := provision.DefaultOps(config, resolved, r.opts.ForceConfig)
	if err != nil {
		return nil, err
	}
	changed, err := provisioner.Apply(ops)
	if err != nil {
		return nil, err
	}
	r.log.WithField("changed", changed).Info("root tree provisioned")

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.transition(Assembling, nil)

	pt := r.target.PartitionTable()
	pt.GenerateUUIDs(rand.New(rand.NewSource(time.Now().UnixNano())))
	if err := pt.Layout(r.target.MediaSize); err != nil {
		return nil, err
	}
	if err := writeFstab(tree, pt); err != nil {
		return nil, err
	}

	sourcesFor := p.Sources
	if sourcesFor == nil {
		sourcesFor = defaultSources
	}
	sources, err := sourcesFor(r.target, pt, r.opts.StagingDir())
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(r.opts.OutputDir, 0755); err != nil {
		return nil, err
	}
	image, err := assembler.Assemble(pt, sources, r.opts.OutputPath())
	if err != nil {
		return nil, err
	}

	r.transition(Done, nil)
	return image, nil
}

// writeFstab renders /etc/fstab into the staged root from the laid-out
// table. The boot filesystem is referenced by label (FAT volume ids are not
// preserved when the filesystem is built), the root filesystem by the UUID
// mkfs stamps on it.
func writeFstab(tree *provision.Tree, pt *disk.PartitionTable) error {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "# <file system>\t<mount point>\t<type>\t<options>\t<dump>\t<pass>\n")
	err := pt.ForEachFilesystem(func(fs *disk.Filesystem) error {
		if fs.Mountpoint == "" {
			return nil
		}
		var spec string
		switch {
		case fs.Type == "vfat" && fs.Label != "":
			spec = "LABEL=" + fs.Label
		case fs.UUID != "":
			spec = "UUID=" + fs.UUID
		default:
			return fmt.Errorf("filesystem for %q has neither label nor uuid", fs.Mountpoint)
		}
		options := fs.FSTabOptions
		if options == "" {
			options = "defaults"
		}
		fmt.Fprintf(&buf, "%s\t%s\t%s\t%s\t%d\t%d\n",
			spec, fs.Mountpoint, fs.Type, options, fs.FSTabFreq, fs.FSTabPassNo)
		return nil
	})
	if err != nil {
		return err
	}
	return tree.WriteFile("/etc/fstab", buf.Bytes(), 0644)
}

// defaultSources maps the staging directory onto partition content: the
// boot filesystem is built from boot/ with the board's artifact manifest,
// the root filesystem from the provisioned rootfs/ tree.
func defaultSources(target *board.TargetDescriptor, pt *disk.PartitionTable, stagingDir string) (map[string]assembler.Source, error) {
	sources := map[string]assembler.Source{}
	for i := range pt.Partitions {
		p := &pt.Partitions[i]
		fs := p.Payload
		if fs == nil {
			return nil, fmt.Errorf("partition %q has no filesystem payload", p.Name)
		}
		switch fs.Type {
		case "vfat":
			sources[p.Name] = &assembler.BootTreeSource{
				Dir:       filepath.Join(stagingDir, "boot"),
				Artifacts: target.BootArtifacts,
				Label:     fs.Label,
			}
		case "ext4":
			sources[p.Name] = &assembler.RootTreeSource{
				Dir:   filepath.Join(stagingDir, "rootfs"),
				Label: fs.Label,
				UUID:  fs.UUID,
			}
		default:
			return nil, fmt.Errorf("partition %q has unsupported filesystem type %q", p.Name, fs.Type)
		}
	}
	return sources, nil
}
