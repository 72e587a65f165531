package pipeline_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glowbarn/forge/internal/assembler"
	"github.com/glowbarn/forge/internal/board"
	"github.com/glowbarn/forge/internal/common"
	"github.com/glowbarn/forge/internal/disk"
	"github.com/glowbarn/forge/internal/jsondb"
	"github.com/glowbarn/forge/internal/pipeline"
	"github.com/glowbarn/forge/internal/pkggraph"
)

func init() {
	// a miniature board so tests do not write multi-gigabyte images
	board.Register(&board.TargetDescriptor{
		Name:          "testboard",
		Arch:          "aarch64",
		MediaSize:     16 * common.MiB,
		BootArtifacts: []string{"kernel8.img"},
		Layout: disk.PartitionTable{
			Type: disk.PT_DOS,
			Partitions: []disk.Partition{
				{
					Name:     "boot",
					Size:     2 * common.MiB,
					Type:     disk.DosFat32LBATypeID,
					Bootable: true,
					Payload:  &disk.Filesystem{Type: "vfat", Label: "BOOT", Mountpoint: "/boot"},
				},
				{
					Name:          "rootfs",
					Size:          4 * common.MiB,
					SizeRemaining: true,
					Type:          disk.DosLinuxTypeID,
					Payload:       &disk.Filesystem{Type: "ext4", Label: "rootfs", Mountpoint: "/"},
				},
			},
		},
	})
}

// fakeBuilder pretends to be the external toolchain: it populates the
// staging layout and reports per-package results.
type fakeBuilder struct {
	failPackages []string
	blockUntil   func(ctx context.Context) error
	built        []string
}

func (b *fakeBuilder) Build(ctx context.Context, target *board.TargetDescriptor, packages []pkggraph.PackageSpec, buildOptions []string) (*pipeline.BuildResult, error) {
	if b.blockUntil != nil {
		if err := b.blockUntil(ctx); err != nil {
			return nil, err
		}
	}

	result := &pipeline.BuildResult{}
	for _, pkg := range packages {
		b.built = append(b.built, pkg.ID)
		success := true
		output := ""
		for _, fail := range b.failPackages {
			if pkg.ID == fail {
				success = false
				output = "recipe error in " + pkg.InstallAction
			}
		}
		result.Packages = append(result.Packages, pipeline.PackageResult{ID: pkg.ID, Success: success, Output: output})
	}
	return result, nil
}

// rawTestSources sidesteps mkfs and FAT32 creation with prebuilt blobs.
func rawTestSources(t *testing.T, dir string) func(*board.TargetDescriptor, *disk.PartitionTable, string) (map[string]assembler.Source, error) {
	t.Helper()
	bootImg := filepath.Join(dir, "boot-src.img")
	rootImg := filepath.Join(dir, "root-src.img")
	require.NoError(t, os.WriteFile(bootImg, []byte("boot"), 0644))
	require.NoError(t, os.WriteFile(rootImg, []byte("root"), 0644))
	return func(*board.TargetDescriptor, *disk.PartitionTable, string) (map[string]assembler.Source, error) {
		return map[string]assembler.Source{
			"boot":   &assembler.RawImageSource{Path: bootImg},
			"rootfs": &assembler.RawImageSource{Path: rootImg},
		}, nil
	}
}

func testOptions(t *testing.T) pipeline.Options {
	t.Helper()
	return pipeline.Options{
		Target:    "testboard",
		Flags:     map[string]bool{"sensors-gpio": true},
		OutputDir: filepath.Join(t.TempDir(), "out"),
		StateDir:  t.TempDir(),
	}
}

func TestRunHappyPath(t *testing.T) {
	opts := testOptions(t)
	builder := &fakeBuilder{}

	var states []pipeline.State
	p := &pipeline.Pipeline{
		Builder:       builder,
		Sources:       rawTestSources(t, t.TempDir()),
		OnStateChange: func(s pipeline.State) { states = append(states, s) },
	}

	image, err := p.Run(context.Background(), opts)
	require.NoError(t, err)
	require.NotNil(t, image)

	assert.Equal(t, opts.OutputPath(), image.Path)
	assert.FileExists(t, image.Path)
	assert.FileExists(t, image.ChecksumPath)
	assert.NotEmpty(t, image.Checksum)

	assert.Equal(t, []pipeline.State{
		pipeline.Configuring,
		pipeline.ResolvingPackages,
		pipeline.AwaitingExternalBuild,
		pipeline.Provisioning,
		pipeline.Assembling,
		pipeline.Done,
	}, states)

	// the builder got dependencies before dependents
	assert.Equal(t, "base-files", builder.built[0])
	assert.Contains(t, builder.built, "glowbarn-sensors-gpio")
	assert.NotContains(t, builder.built, "alsa-utils")

	// provisioning ran against the staged rootfs
	assert.FileExists(t, filepath.Join(opts.StagingDir(), "rootfs", "etc", "passwd"))

	fstab, err := os.ReadFile(filepath.Join(opts.StagingDir(), "rootfs", "etc", "fstab"))
	require.NoError(t, err)
	assert.Contains(t, string(fstab), "LABEL=BOOT\t/boot\tvfat")
	assert.Contains(t, string(fstab), "\t/\text4\t")
}

func TestRunUnknownTargetCreatesNoFiles(t *testing.T) {
	opts := testOptions(t)
	opts.Target = "raspberrypi7"
	p := &pipeline.Pipeline{Builder: &fakeBuilder{}}

	_, err := p.Run(context.Background(), opts)
	var unknown *board.UnknownTargetError
	require.ErrorAs(t, err, &unknown)

	// neither state dir entries nor output may exist
	entries, readErr := os.ReadDir(opts.StateDir)
	require.NoError(t, readErr)
	assert.Empty(t, entries)
	_, statErr := os.Stat(opts.OutputDir)
	assert.True(t, os.IsNotExist(statErr))
}

func TestRunPackageBuildFailureAbortsBeforeProvisioning(t *testing.T) {
	opts := testOptions(t)
	builder := &fakeBuilder{failPackages: []string{"glowbarn-core"}}

	var states []pipeline.State
	p := &pipeline.Pipeline{
		Builder:       builder,
		Sources:       rawTestSources(t, t.TempDir()),
		OnStateChange: func(s pipeline.State) { states = append(states, s) },
	}

	_, err := p.Run(context.Background(), opts)
	require.Error(t, err)

	var buildErr *pipeline.ExternalBuildError
	require.ErrorAs(t, err, &buildErr)
	assert.Contains(t, err.Error(), "glowbarn-core")
	assert.Contains(t, err.Error(), "recipe error")

	assert.NotContains(t, states, pipeline.Provisioning)
	assert.Contains(t, states, pipeline.Failed)

	// no image was produced
	_, statErr := os.Stat(opts.OutputPath())
	assert.True(t, os.IsNotExist(statErr))
}

func TestRunStageMarkerSurvivesFailureAndRetry(t *testing.T) {
	opts := testOptions(t)
	sources := rawTestSources(t, t.TempDir())

	p := &pipeline.Pipeline{
		Builder: &fakeBuilder{failPackages: []string{"glowbarn-core"}},
		Sources: sources,
	}
	_, err := p.Run(context.Background(), opts)
	require.Error(t, err)

	type markerDoc struct {
		RunID string         `json:"run_id"`
		State pipeline.State `json:"state"`
		Error string         `json:"error"`
	}
	markers := jsondb.New(filepath.Join(opts.StateDir, "runs"), 0644)

	var marker markerDoc
	exist, err := markers.Read("run-testboard", &marker)
	require.NoError(t, err)
	require.True(t, exist)
	assert.Equal(t, pipeline.Failed, marker.State)
	assert.Contains(t, marker.Error, "glowbarn-core")
	assert.NotEmpty(t, marker.RunID)

	// a successful retry replaces the failure marker
	p.Builder = &fakeBuilder{}
	_, err = p.Run(context.Background(), opts)
	require.NoError(t, err)

	var retried markerDoc
	exist, err = markers.Read("run-testboard", &retried)
	require.NoError(t, err)
	require.True(t, exist)
	assert.Equal(t, pipeline.Done, retried.State)
	assert.Empty(t, retried.Error)
	assert.NotEqual(t, marker.RunID, retried.RunID)
}

func TestRunConcurrentSameTargetFailsFast(t *testing.T) {
	opts := testOptions(t)

	release, err := pipeline.LockSession(opts.StateDir, opts.Target, opts.OutputPath())
	require.NoError(t, err)
	defer release()

	p := &pipeline.Pipeline{Builder: &fakeBuilder{}, Sources: rawTestSources(t, t.TempDir())}
	_, err = p.Run(context.Background(), opts)

	var inProgress *pipeline.BuildInProgressError
	require.ErrorAs(t, err, &inProgress)
	assert.Equal(t, "testboard", inProgress.Target)
}

func TestRunDistinctOutputsDoNotContend(t *testing.T) {
	opts := testOptions(t)

	release, err := pipeline.LockSession(opts.StateDir, opts.Target, opts.OutputPath())
	require.NoError(t, err)
	defer release()

	other, err := pipeline.LockSession(opts.StateDir, opts.Target, filepath.Join(opts.OutputDir, "elsewhere.img"))
	require.NoError(t, err)
	other()
}

func TestRunExternalBuildTimeout(t *testing.T) {
	opts := testOptions(t)
	opts.ExternalBuildTimeout = 50 * time.Millisecond

	builder := &fakeBuilder{
		blockUntil: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
	}
	p := &pipeline.Pipeline{Builder: builder, Sources: rawTestSources(t, t.TempDir())}

	_, err := p.Run(context.Background(), opts)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	_, statErr := os.Stat(opts.OutputPath())
	assert.True(t, os.IsNotExist(statErr))
}

func TestRunCancellationBeforeAssemblingPublishesNothing(t *testing.T) {
	opts := testOptions(t)
	ctx, cancel := context.WithCancel(context.Background())

	builder := &fakeBuilder{
		blockUntil: func(context.Context) error {
			cancel() // cancel while the run waits for the external build
			return nil
		},
	}
	p := &pipeline.Pipeline{Builder: builder, Sources: rawTestSources(t, t.TempDir())}

	_, err := p.Run(ctx, opts)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))

	_, statErr := os.Stat(opts.OutputPath())
	assert.True(t, os.IsNotExist(statErr))
}

func TestStateJSONRoundTrip(t *testing.T) {
	for _, state := range []pipeline.State{
		pipeline.Configuring, pipeline.ResolvingPackages, pipeline.AwaitingExternalBuild,
		pipeline.Provisioning, pipeline.Assembling, pipeline.Done, pipeline.Failed,
	} {
		data, err := state.MarshalJSON()
		require.NoError(t, err)

		var decoded pipeline.State
		require.NoError(t, decoded.UnmarshalJSON(data))
		assert.Equal(t, state, decoded)
	}

	var invalid pipeline.State
	assert.Error(t, invalid.UnmarshalJSON([]byte(`"LEVITATING"`)))
}
