package board

import (
	"github.com/glowbarn/forge/internal/common"
	"github.com/glowbarn/forge/internal/disk"
)

func init() {
	Register(&TargetDescriptor{
		Name:      "generic-x86_64",
		Arch:      "x86_64",
		MediaSize: 0, // image file, grows as needed
		BootArtifacts: []string{
			"bootx64.efi",
			"bzImage",
			"loader.conf",
		},
		Layout: disk.PartitionTable{
			Type: disk.PT_GPT,
			Partitions: []disk.Partition{
				{
					Name:     "esp",
					Size:     128 * common.MiB,
					Type:     disk.EFISystemPartitionGUID,
					Bootable: true,
					Payload: &disk.Filesystem{
						Type:       "vfat",
						Label:      "ESP",
						Mountpoint: "/boot",
					},
				},
				{
					Name:          "rootfs",
					Size:          512 * common.MiB,
					SizeRemaining: true,
					Type:          disk.FilesystemDataGUID,
					Payload: &disk.Filesystem{
						Type:         "ext4",
						Label:        "rootfs",
						Mountpoint:   "/",
						FSTabOptions: "defaults",
						FSTabFreq:    1,
						FSTabPassNo:  1,
					},
				},
			},
		},
	})

	Register(&TargetDescriptor{
		Name:      "raspberrypi4",
		Arch:      "aarch64",
		MediaSize: 4 * common.GiB, // smallest SD card we support
		BootArtifacts: []string{
			"start4.elf",
			"fixup4.dat",
			"bcm2711-rpi-4-b.dtb",
			"kernel8.img",
			"config.txt",
			"cmdline.txt",
		},
		Layout: rpiLayout(),
	})

	Register(&TargetDescriptor{
		Name:      "raspberrypi5",
		Arch:      "aarch64",
		MediaSize: 4 * common.GiB,
		BootArtifacts: []string{
			"bcm2712-rpi-5-b.dtb",
			"kernel_2712.img",
			"config.txt",
			"cmdline.txt",
		},
		Layout: rpiLayout(),
	})
}

// rpiLayout is the layout the Raspberry Pi firmware expects: a FAT32 boot
// partition first, the root filesystem taking the rest of the card.
func rpiLayout() disk.PartitionTable {
	return disk.PartitionTable{
		Type: disk.PT_DOS,
		Partitions: []disk.Partition{
			{
				Name:     "boot",
				Size:     256 * common.MiB,
				Type:     disk.DosFat32LBATypeID,
				Bootable: true,
				Payload: &disk.Filesystem{
					Type:       "vfat",
					Label:      "BOOT",
					Mountpoint: "/boot",
				},
			},
			{
				Name:          "rootfs",
				Size:          512 * common.MiB,
				SizeRemaining: true,
				Type:          disk.DosLinuxTypeID,
				Payload: &disk.Filesystem{
					Type:         "ext4",
					Label:        "rootfs",
					Mountpoint:   "/",
					FSTabOptions: "defaults",
					FSTabFreq:    1,
					FSTabPassNo:  1,
				},
			},
		},
	}
}
