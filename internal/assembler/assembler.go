// Package assembler turns a laid-out partition table and a set of content
// sources into one bootable disk image.
//
// The image is staged under a temporary path and renamed to its published
// path only after every partition is written and the checksum is computed,
// so a failed or interrupted assembly never leaves a partial artifact
// behind.
package assembler

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	diskfs "github.com/diskfs/go-diskfs"
	"github.com/sirupsen/logrus"

	"github.com/glowbarn/forge/internal/disk"
)

// Image is the terminal artifact of a build run.
type Image struct {
	Path         string
	ChecksumPath string
	Checksum     string
	Size         uint64
}

// Assemble materializes every partition of the laid-out table from its
// content source (matched by partition name), writes the partition table
// and contents into a temporary file and atomically publishes it at
// outputPath together with a sha256 checksum file.
func Assemble(pt *disk.PartitionTable, sources map[string]Source, outputPath string) (*Image, error) {
	if err := pt.Validate(); err != nil {
		return nil, err
	}
	if pt.Size == 0 {
		return nil, fmt.Errorf("partition table has not been laid out")
	}
	for _, p := range pt.Partitions {
		if _, ok := sources[p.Name]; !ok {
			return nil, fmt.Errorf("no content source for partition %q", p.Name)
		}
	}

	// materialize partition images first; a missing source must fail
	// before the output file even exists
	stagingDir, err := os.MkdirTemp(filepath.Dir(outputPath), "assemble-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(stagingDir)

	partImages := make([]string, len(pt.Partitions))
	for i, p := range pt.Partitions {
		partImages[i] = filepath.Join(stagingDir, fmt.Sprintf("part-%d.img", i))
		logrus.Debugf("materializing partition %q (%d bytes)", p.Name, p.Size)
		if err := sources[p.Name].Materialize(partImages[i], p.Size); err != nil {
			return nil, fmt.Errorf("materializing partition %q: %w", p.Name, err)
		}
	}

	tmpPath := outputPath + ".tmp"
	if err := os.Remove(tmpPath); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	image, err := writeImage(pt, partImages, tmpPath, outputPath)
	if err != nil {
		os.Remove(tmpPath)
		return nil, err
	}
	return image, nil
}

func writeImage(pt *disk.PartitionTable, partImages []string, tmpPath, outputPath string) (*Image, error) {
	table, err := toDiskfsTable(pt)
	if err != nil {
		return nil, err
	}

	d, err := diskfs.Create(tmpPath, int64(pt.Size), diskfs.SectorSizeDefault)
	if err != nil {
		return nil, fmt.Errorf("creating image file: %w", err)
	}

	if err := d.Partition(table); err != nil {
		d.Close()
		return nil, fmt.Errorf("writing partition table: %w", err)
	}

	for i := range pt.Partitions {
		f, err := os.Open(partImages[i])
		if err != nil {
			d.Close()
			return nil, err
		}
		// partition numbers are 1-based on disk
		_, err = d.WritePartitionContents(i+1, f)
		f.Close()
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("writing partition %q: %w", pt.Partitions[i].Name, err)
		}
	}

	if err := d.Close(); err != nil {
		return nil, err
	}

	checksum, err := checksumFile(tmpPath)
	if err != nil {
		return nil, err
	}

	checksumPath := outputPath + ".sha256"
	checksumLine := fmt.Sprintf("%s  %s\n", checksum, filepath.Base(outputPath))
	if err := os.WriteFile(checksumPath+".tmp", []byte(checksumLine), 0644); err != nil {
		return nil, err
	}
	if err := os.Rename(checksumPath+".tmp", checksumPath); err != nil {
		os.Remove(checksumPath + ".tmp")
		return nil, err
	}

	// the image appears at its published path last; its presence implies a
	// complete, checksummed artifact
	if err := os.Rename(tmpPath, outputPath); err != nil {
		os.Remove(checksumPath)
		return nil, err
	}

	logrus.Infof("published %s (%d bytes, sha256 %s)", outputPath, pt.Size, checksum)
	return &Image{
		Path:         outputPath,
		ChecksumPath: checksumPath,
		Checksum:     checksum,
		Size:         pt.Size,
	}, nil
}

func checksumFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
