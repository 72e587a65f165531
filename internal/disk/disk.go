// Package disk contains abstract data-types to define disk-related entities.
//
// PartitionTable, Partition and Filesystem describe the layout of an image
// before any byte of it exists. The assembler turns a laid-out table into an
// actual image file.
package disk

import (
	"math/rand"

	"github.com/google/uuid"
)

const (
	DefaultSectorSize = uint64(512)

	// DefaultGrainBytes is the alignment for partition starts and sizes.
	// 1 MiB suits both the GPT ESP rule and SD card erase blocks.
	DefaultGrainBytes = uint64(1048576)
)

// Partition table types.
const (
	PT_DOS = "dos"
	PT_GPT = "gpt"
)

// MBR partition type ids.
const (
	DosFat32LBATypeID = "0c"
	DosLinuxTypeID    = "83"
)

// GPT partition type GUIDs.
const (
	EFISystemPartitionGUID = "C12A7328-F81F-11D2-BA4B-00A0C93EC93B"
	FilesystemDataGUID     = "0FC63DAF-8483-4772-8E79-3D69D8477DE4"
	BIOSBootPartitionGUID  = "21686148-6449-6E6F-744E-656564454649"
)

type Filesystem struct {
	Type string
	// ID of the filesystem, vfat doesn't use traditional UUIDs, therefore
	// this is just a string.
	UUID       string
	Label      string
	Mountpoint string
	// The fourth field of fstab(5); fs_mntops
	FSTabOptions string
	// The fifth field of fstab(5); fs_freq
	FSTabFreq uint64
	// The sixth field of fstab(5); fs_passno
	FSTabPassNo uint64
}

// newRandomUUIDFromReader creates a random UUID using the given random
// number generator, so layouts stay reproducible under a seeded rng.
func newRandomUUIDFromReader(r *rand.Rand) (uuid.UUID, error) {
	var id uuid.UUID
	_, err := r.Read(id[:])
	if err != nil {
		return uuid.Nil, err
	}
	id[6] = (id[6] & 0x0f) | 0x40 // version 4
	id[8] = (id[8] & 0x3f) | 0x80 // variant 10
	return id, nil
}
