package jsondb

import (
	"errors"
	"os"
	"path"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteFileAtomically(t *testing.T) {
	dir := t.TempDir()

	t.Run("success", func(t *testing.T) {
		contents := []byte("state: DONE\n")

		// use an uncommon mode to check it's set correctly
		perm := os.FileMode(0750)

		err := writeFileAtomically(dir, "run-marker", perm, func(f *os.File) error {
			_, err := f.Write(contents)
			return err
		})
		require.NoError(t, err)

		// no stray temporary files may be left behind
		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		require.Equal(t, 1, len(entries))
		require.Equal(t, "run-marker", entries[0].Name())
		info, err := entries[0].Info()
		require.NoError(t, err)
		require.Equal(t, perm, info.Mode())

		filename := path.Join(dir, "run-marker")
		got, err := os.ReadFile(filename)
		require.NoError(t, err)
		require.Equal(t, contents, got)

		require.NoError(t, os.Remove(filename))
	})

	t.Run("error", func(t *testing.T) {
		err := writeFileAtomically(dir, "never-written", 0750, func(f *os.File) error {
			return errors.New("something went wrong")
		})
		require.Error(t, err)

		_, err = os.Stat(path.Join(dir, "never-written"))
		require.Error(t, err)

		// the aborted write may not leave a temporary file either
		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		require.Equal(t, 0, len(entries))
	})
}
