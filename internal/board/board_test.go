package board_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glowbarn/forge/internal/board"
	"github.com/glowbarn/forge/internal/disk"
)

func TestNewKnownTargets(t *testing.T) {
	for _, name := range []string{"generic-x86_64", "raspberrypi4", "raspberrypi5"} {
		target, err := board.New(name)
		require.NoError(t, err, name)
		assert.Equal(t, name, target.Name)
		assert.NotEmpty(t, target.BootArtifacts)
	}
}

func TestNewUnknownTarget(t *testing.T) {
	_, err := board.New("raspberrypi7")
	require.Error(t, err)

	var unknown *board.UnknownTargetError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "raspberrypi7", unknown.Name)
}

func TestNames(t *testing.T) {
	names := board.Names()
	assert.Contains(t, names, "generic-x86_64")
	assert.Contains(t, names, "raspberrypi4")
	assert.Contains(t, names, "raspberrypi5")
	assert.IsIncreasing(t, names)
}

func TestEveryLayoutIsValid(t *testing.T) {
	for _, name := range board.Names() {
		target, err := board.New(name)
		require.NoError(t, err)

		pt := target.PartitionTable()
		require.NoError(t, pt.Validate(), name)
		require.NoError(t, pt.Layout(target.MediaSize), name)
	}
}

func TestRaspberryPi4Layout(t *testing.T) {
	target, err := board.New("raspberrypi4")
	require.NoError(t, err)

	pt := target.PartitionTable()
	require.Len(t, pt.Partitions, 2)
	assert.Equal(t, disk.PT_DOS, pt.Type)

	boot := pt.Partitions[0]
	assert.True(t, boot.Bootable)
	assert.Equal(t, "vfat", boot.Payload.Type)

	root := pt.Partitions[1]
	assert.False(t, root.Bootable)
	assert.Equal(t, "ext4", root.Payload.Type)
	assert.True(t, root.SizeRemaining)

	assert.Contains(t, target.BootArtifacts, "bcm2711-rpi-4-b.dtb")
}

func TestPartitionTableReturnsCopy(t *testing.T) {
	target, err := board.New("raspberrypi4")
	require.NoError(t, err)

	pt := target.PartitionTable()
	pt.Partitions[0].Payload.Label = "CHANGED"

	fresh := target.PartitionTable()
	assert.Equal(t, "BOOT", fresh.Partitions[0].Payload.Label)
}
