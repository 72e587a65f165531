package disk

type Partition struct {
	// Name labels the partition (GPT partition name; also used to match
	// content sources during assembly).
	Name  string
	Start uint64 // Start of the partition in bytes, filled in by Layout
	Size  uint64 // Size of the partition in bytes
	// SizeRemaining marks the partition that grows to fill the rest of the
	// media. At most one per table and it must be declared last; Size then
	// acts as its minimum.
	SizeRemaining bool
	Type          string // Partition type, e.g. 83 for dos or a type GUID for gpt
	Bootable      bool   // `Legacy BIOS bootable` (GPT) or `active` (DOS) flag
	// ID of the partition, dos doesn't use traditional UUIDs, therefore this
	// is just a string.
	UUID string
	// If nil, the partition is raw; it doesn't contain a filesystem.
	Payload *Filesystem
}

// Ensure the partition has at least the given size. Will do nothing
// if the partition is already larger. Returns if the size changed.
func (p *Partition) EnsureSize(s uint64) bool {
	if s > p.Size {
		p.Size = s
		return true
	}
	return false
}

// End returns the first byte after the partition.
func (p *Partition) End() uint64 {
	return p.Start + p.Size
}
