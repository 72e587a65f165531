package assembler

import (
	"fmt"
	"strconv"

	"github.com/diskfs/go-diskfs/partition"
	"github.com/diskfs/go-diskfs/partition/gpt"
	"github.com/diskfs/go-diskfs/partition/mbr"

	"github.com/glowbarn/forge/internal/disk"
)

// toDiskfsTable converts a laid-out partition table into the on-disk table
// representation go-diskfs writes.
func toDiskfsTable(pt *disk.PartitionTable) (partition.Table, error) {
	switch pt.Type {
	case disk.PT_GPT:
		return toGPTTable(pt)
	case disk.PT_DOS:
		return toMBRTable(pt)
	}
	return nil, fmt.Errorf("unknown partition table type: %q", pt.Type)
}

// gptAttrLegacyBIOSBootable is bit 2 of the GPT partition attributes,
// "Legacy BIOS bootable" per the UEFI specification.
const gptAttrLegacyBIOSBootable = uint64(1) << 2

func toGPTTable(pt *disk.PartitionTable) (*gpt.Table, error) {
	table := &gpt.Table{
		LogicalSectorSize: int(sectorSize(pt)),
		ProtectiveMBR:     true,
		GUID:              pt.UUID,
	}
	for _, p := range pt.Partitions {
		var attributes uint64
		if p.Bootable {
			attributes |= gptAttrLegacyBIOSBootable
		}
		table.Partitions = append(table.Partitions, &gpt.Partition{
			Start:      pt.BytesToSectors(p.Start),
			End:        pt.BytesToSectors(p.End()) - 1,
			Type:       gpt.Type(p.Type),
			Name:       p.Name,
			GUID:       p.UUID,
			Attributes: attributes,
		})
	}
	return table, nil
}

func toMBRTable(pt *disk.PartitionTable) (*mbr.Table, error) {
	table := &mbr.Table{
		LogicalSectorSize: int(sectorSize(pt)),
	}
	for _, p := range pt.Partitions {
		typeID, err := strconv.ParseUint(p.Type, 16, 8)
		if err != nil {
			return nil, fmt.Errorf("partition %q has invalid dos type id %q: %w", p.Name, p.Type, err)
		}
		table.Partitions = append(table.Partitions, &mbr.Partition{
			Bootable: p.Bootable,
			Type:     mbr.Type(typeID),
			Start:    uint32(pt.BytesToSectors(p.Start)),
			Size:     uint32(pt.BytesToSectors(p.Size)),
		})
	}
	return table, nil
}

func sectorSize(pt *disk.PartitionTable) uint64 {
	if pt.SectorSize != 0 {
		return pt.SectorSize
	}
	return disk.DefaultSectorSize
}
