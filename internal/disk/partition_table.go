package disk

import (
	"fmt"
	"math/rand"

	"github.com/google/uuid"
)

type PartitionTable struct {
	Size       uint64 // Size of the disk (in bytes).
	UUID       string // Unique identifier of the partition table (GPT only).
	Type       string // Partition table type, dos or gpt.
	Partitions []Partition

	SectorSize   uint64 // Sector size in bytes
	ExtraPadding uint64 // Extra space at the end of the disk (in bytes)
}

// An OversizeError is returned when a layout does not fit the fixed media
// capacity of its target.
type OversizeError struct {
	Needed   uint64
	Capacity uint64
}

func (e *OversizeError) Error() string {
	return fmt.Sprintf("partition layout needs %d bytes but the media only holds %d", e.Needed, e.Capacity)
}

func (pt *PartitionTable) Clone() *PartitionTable {
	if pt == nil {
		return nil
	}
	clone := *pt
	clone.Partitions = make([]Partition, len(pt.Partitions))
	for idx, partition := range pt.Partitions {
		p := partition
		if p.Payload != nil {
			fs := *p.Payload
			p.Payload = &fs
		}
		clone.Partitions[idx] = p
	}
	return &clone
}

// AlignUp will align the given bytes to next aligned grain if not already
// aligned
func (pt *PartitionTable) AlignUp(size uint64) uint64 {
	grain := DefaultGrainBytes
	if size%grain == 0 {
		// already aligned: return unchanged
		return size
	}
	return ((size + grain) / grain) * grain
}

// Convert the given bytes to the number of sectors.
func (pt *PartitionTable) BytesToSectors(size uint64) uint64 {
	sectorSize := pt.SectorSize
	if sectorSize == 0 {
		sectorSize = DefaultSectorSize
	}
	return size / sectorSize
}

// Convert the given number of sectors to bytes.
func (pt *PartitionTable) SectorsToBytes(size uint64) uint64 {
	sectorSize := pt.SectorSize
	if sectorSize == 0 {
		sectorSize = DefaultSectorSize
	}
	return size * sectorSize
}

// BootablePartition returns the partition with the bootable flag. Nil is
// returned if there is none.
func (pt *PartitionTable) BootablePartition() *Partition {
	for idx, p := range pt.Partitions {
		if p.Bootable {
			return &pt.Partitions[idx]
		}
	}
	return nil
}

func (pt *PartitionTable) FindPartitionForMountpoint(mountpoint string) *Partition {
	for idx, p := range pt.Partitions {
		if p.Payload == nil {
			continue
		}
		if p.Payload.Mountpoint == mountpoint {
			return &pt.Partitions[idx]
		}
	}
	return nil
}

// Returns the root partition (the partition whose filesystem has / as
// a mountpoint) of the partition table. Nil is returned if there's no such
// partition.
func (pt *PartitionTable) RootPartition() *Partition {
	return pt.FindPartitionForMountpoint("/")
}

// ForEachFileSystemFunc is a type of function called by ForEachFilesystem
// to iterate over every filesystem in the partition table.
//
// If the function returns an error, the iteration stops.
type ForEachFileSystemFunc func(fs *Filesystem) error

// Iterates over all filesystems in the partition table and calls the
// callback on each one. The iteration continues as long as the callback
// does not return an error.
func (pt *PartitionTable) ForEachFilesystem(cb ForEachFileSystemFunc) error {
	for idx := range pt.Partitions {
		fs := pt.Partitions[idx].Payload
		if fs == nil {
			continue
		}
		if err := cb(fs); err != nil {
			return err
		}
	}
	return nil
}

// Returns if the partition table contains a filesystem with the given
// mount point.
func (pt *PartitionTable) ContainsMountpoint(mountpoint string) bool {
	return pt.FindPartitionForMountpoint(mountpoint) != nil
}

// Validate checks the structural invariants of the table: a known table
// type, exactly one bootable partition, nonzero sizes, and at most one
// grow-to-fill partition which must be declared last. DOS tables are
// limited to four primary partitions.
func (pt *PartitionTable) Validate() error {
	if pt.Type != PT_DOS && pt.Type != PT_GPT {
		return fmt.Errorf("unknown partition table type: %q", pt.Type)
	}
	if len(pt.Partitions) == 0 {
		return fmt.Errorf("partition table has no partitions")
	}
	if pt.Type == PT_DOS && len(pt.Partitions) > 4 {
		return fmt.Errorf("dos partition tables hold at most 4 primary partitions, got %d", len(pt.Partitions))
	}

	bootable := 0
	for idx, p := range pt.Partitions {
		if p.Bootable {
			bootable++
		}
		if p.SizeRemaining && idx != len(pt.Partitions)-1 {
			return fmt.Errorf("partition %q grows to fill the media and must be declared last", p.Name)
		}
		if !p.SizeRemaining && p.Size == 0 {
			return fmt.Errorf("partition %q has no size", p.Name)
		}
	}
	if bootable != 1 {
		return fmt.Errorf("partition table must have exactly one bootable partition, got %d", bootable)
	}
	return nil
}

// Layout computes the start offset of every partition under the grain
// alignment rule and fixes the total size of the table.
//
// capacity is the fixed media size in bytes, or zero when the image may
// grow to whatever the layout needs. With a fixed capacity the
// grow-to-fill partition takes all space that remains after the concrete
// partitions; if the concrete partitions (plus alignment and table
// overhead) do not fit, or the grow-to-fill partition would end up below
// its declared minimum, an OversizeError is returned.
func (pt *PartitionTable) Layout(capacity uint64) error {
	if err := pt.Validate(); err != nil {
		return err
	}

	// always reserve one extra sector for the MBR, plus the partition entry
	// area and its backup copy on GPT
	header := pt.SectorsToBytes(1)
	footer := uint64(0)
	if pt.Type == PT_GPT {
		// reserve a minimum of 128 partition entries
		parts := len(pt.Partitions)
		if parts < 128 {
			parts = 128
		}
		header += pt.SectorsToBytes(1) + uint64(parts*128)
		footer = pt.SectorsToBytes(1) + uint64(parts*128)
	}
	footer += pt.ExtraPadding

	start := pt.AlignUp(header)
	var grow *Partition
	for i := range pt.Partitions {
		partition := &pt.Partitions[i]
		partition.Start = start
		if partition.SizeRemaining {
			grow = partition
			continue
		}
		partition.Size = pt.AlignUp(partition.Size)
		start += partition.Size
	}

	if grow == nil {
		needed := pt.AlignUp(start + footer)
		if capacity != 0 && needed > capacity {
			return &OversizeError{Needed: needed, Capacity: capacity}
		}
		pt.Size = needed
		if capacity != 0 {
			pt.Size = capacity
		}
		return nil
	}

	minSize := pt.AlignUp(grow.Size)
	if capacity == 0 {
		grow.Size = minSize
		pt.Size = pt.AlignUp(grow.Start + grow.Size + footer)
		return nil
	}

	needed := pt.AlignUp(grow.Start + minSize + footer)
	if needed > capacity {
		return &OversizeError{Needed: needed, Capacity: capacity}
	}
	pt.Size = capacity
	grow.Size = capacity - grow.Start - footer
	return nil
}

// Generate all needed UUIDs for all the partitions and filesystems
//
// Will not overwrite existing UUIDs and only generate UUIDs for
// partitions if the layout is GPT.
func (pt *PartitionTable) GenerateUUIDs(rng *rand.Rand) {
	_ = pt.ForEachFilesystem(func(fs *Filesystem) error {
		if fs.UUID == "" {
			fs.UUID = uuid.Must(newRandomUUIDFromReader(rng)).String()
		}
		return nil
	})

	// if this is a MBR partition table, there is no need to generate
	// uuids for the partitions themselves
	if pt.Type != PT_GPT {
		return
	}

	if pt.UUID == "" {
		pt.UUID = uuid.Must(newRandomUUIDFromReader(rng)).String()
	}
	for idx, part := range pt.Partitions {
		if part.UUID == "" {
			pt.Partitions[idx].UUID = uuid.Must(newRandomUUIDFromReader(rng)).String()
		}
	}
}
