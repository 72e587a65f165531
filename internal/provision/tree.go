package provision

import (
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Tree is a handle to a staged root filesystem directory. All mutation ops
// resolve their paths against it; nothing outside the root is ever touched.
type Tree struct {
	root string
}

func NewTree(root string) *Tree {
	return &Tree{root: root}
}

func (t *Tree) Root() string {
	return t.root
}

// Path resolves an absolute in-image path against the staged root.
func (t *Tree) Path(imagePath string) string {
	return filepath.Join(t.root, strings.TrimPrefix(imagePath, "/"))
}

// ReadFile reads an in-image file. A missing file yields empty content,
// not an error; identity files start out absent on a fresh tree.
func (t *Tree) ReadFile(imagePath string) ([]byte, error) {
	data, err := os.ReadFile(t.Path(imagePath))
	if os.IsNotExist(err) {
		return nil, nil
	}
	return data, err
}

// WriteFile atomically replaces an in-image file, creating parent
// directories as needed.
func (t *Tree) WriteFile(imagePath string, data []byte, perm os.FileMode) error {
	target := t.Path(imagePath)
	if err := os.MkdirAll(path.Dir(target), 0755); err != nil {
		return err
	}

	tmpfile, err := os.CreateTemp(path.Dir(target), path.Base(target)+"-*.tmp")
	if err != nil {
		return err
	}
	abort := func() {
		tmpfile.Close()
		os.Remove(tmpfile.Name())
	}

	if _, err := tmpfile.Write(data); err != nil {
		abort()
		return err
	}
	if err := tmpfile.Chmod(perm); err != nil {
		abort()
		return err
	}
	if err := tmpfile.Close(); err != nil {
		abort()
		return err
	}
	if err := os.Rename(tmpfile.Name(), target); err != nil {
		os.Remove(tmpfile.Name())
		return err
	}
	return nil
}

// Exists returns whether an in-image path exists.
func (t *Tree) Exists(imagePath string) (bool, error) {
	_, err := os.Lstat(t.Path(imagePath))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
