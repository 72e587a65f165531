package assembler

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/diskfs/go-diskfs/backend/file"
	"github.com/diskfs/go-diskfs/filesystem/fat32"
)

// A ContentMissingError is returned when a declared content source does not
// exist at assembly time.
type ContentMissingError struct {
	Path string
}

func (e *ContentMissingError) Error() string {
	return fmt.Sprintf("content source does not exist: %q", e.Path)
}

// A MissingBootArtifactError is returned when a boot artifact required by
// the board manifest is absent from the boot content directory.
type MissingBootArtifactError struct {
	Artifact string
}

func (e *MissingBootArtifactError) Error() string {
	return fmt.Sprintf("required boot artifact missing: %q", e.Artifact)
}

// A Source materializes one partition's filesystem image. The image it
// produces at path must not exceed size bytes.
type Source interface {
	Materialize(path string, size uint64) error
}

// RawImageSource uses a prebuilt filesystem image as partition content,
// zero-padded up to the partition size.
type RawImageSource struct {
	Path string
}

func (s *RawImageSource) Materialize(path string, size uint64) error {
	info, err := os.Stat(s.Path)
	if os.IsNotExist(err) {
		return &ContentMissingError{Path: s.Path}
	} else if err != nil {
		return err
	}
	if uint64(info.Size()) > size {
		return fmt.Errorf("image %q is larger than its partition (%d > %d)", s.Path, info.Size(), size)
	}

	in, err := os.Open(s.Path)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(path)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Truncate(int64(size))
}

// BootTreeSource builds a FAT32 boot filesystem from a directory of boot
// content, after verifying that every artifact in the board manifest is
// present.
type BootTreeSource struct {
	Dir       string
	Artifacts []string
	Label     string
}

func (s *BootTreeSource) Materialize(path string, size uint64) error {
	if _, err := os.Stat(s.Dir); os.IsNotExist(err) {
		return &ContentMissingError{Path: s.Dir}
	} else if err != nil {
		return err
	}

	for _, artifact := range s.Artifacts {
		if _, err := os.Stat(filepath.Join(s.Dir, artifact)); os.IsNotExist(err) {
			return &MissingBootArtifactError{Artifact: artifact}
		} else if err != nil {
			return err
		}
	}

	b, err := file.CreateFromPath(path, int64(size))
	if err != nil {
		return err
	}
	defer b.Close()

	fs, err := fat32.Create(b, int64(size), 0, 0, s.Label)
	if err != nil {
		return fmt.Errorf("creating boot filesystem: %w", err)
	}

	return filepath.Walk(s.Dir, func(srcPath string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(s.Dir, srcPath)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		dst := "/" + filepath.ToSlash(rel)
		if info.IsDir() {
			return fs.Mkdir(dst)
		}
		if !info.Mode().IsRegular() {
			return nil
		}

		in, err := os.Open(srcPath)
		if err != nil {
			return err
		}
		defer in.Close()

		out, err := fs.OpenFile(dst, os.O_RDWR|os.O_TRUNC|os.O_CREATE)
		if err != nil {
			return err
		}
		defer out.Close()

		_, err = io.Copy(out, in)
		return err
	})
}

// RootTreeSource builds an ext4 root filesystem image from the provisioned
// tree by running mkfs.ext4 with the tree as its content directory.
type RootTreeSource struct {
	Dir   string
	Label string
	UUID  string
}

func (s *RootTreeSource) Materialize(path string, size uint64) error {
	if _, err := os.Stat(s.Dir); os.IsNotExist(err) {
		return &ContentMissingError{Path: s.Dir}
	} else if err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := f.Truncate(int64(size)); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	args := []string{"-F", "-q", "-d", s.Dir}
	if s.Label != "" {
		args = append(args, "-L", s.Label)
	}
	if s.UUID != "" {
		args = append(args, "-U", s.UUID)
	}
	args = append(args, path)

	cmd := exec.Command("mkfs.ext4", args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("mkfs.ext4 failed: %w: %s", err, output)
	}
	return nil
}
