// Package jsondb implements a simple database of JSON documents, keyed by
// name, stored in one directory. Writes are atomic: a document is first
// written to a temporary file and only renamed into place when complete.
package jsondb

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
)

type JSONDatabase struct {
	dir  string
	perm os.FileMode
}

func New(dir string, perm os.FileMode) *JSONDatabase {
	return &JSONDatabase{dir, perm}
}

// Read unmarshals the document with the given name into document. Returns
// whether the document existed. document is only valid when it did.
func (db *JSONDatabase) Read(name string, document interface{}) (bool, error) {
	f, err := os.Open(path.Join(db.dir, name+".json"))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	} else if err != nil {
		return false, err
	}
	defer f.Close()

	if document != nil {
		err = json.NewDecoder(f).Decode(document)
		if err != nil {
			return false, fmt.Errorf("error reading %s: %w", name, err)
		}
	}
	return true, nil
}

// Write marshals document to JSON and stores it under the given name.
func (db *JSONDatabase) Write(name string, document interface{}) error {
	return writeFileAtomically(db.dir, name+".json", db.perm, func(f *os.File) error {
		return json.NewEncoder(f).Encode(document)
	})
}

// Delete removes the document with the given name. Deleting a document that
// does not exist is not an error.
func (db *JSONDatabase) Delete(name string) error {
	err := os.Remove(path.Join(db.dir, name+".json"))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// writeFileAtomically writes to a temporary file in dir, lets write fill it
// in, and renames it to filename only when everything succeeded. The target
// is never visible in a partially-written state.
func writeFileAtomically(dir, filename string, perm os.FileMode, write func(*os.File) error) error {
	tmpfile, err := os.CreateTemp(dir, filename+"-*.tmp")
	if err != nil {
		return err
	}

	abort := func() {
		tmpfile.Close()
		os.Remove(tmpfile.Name())
	}

	if err := write(tmpfile); err != nil {
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

	if err := os.Rename(tmpfile.Name(), path.Join(dir, filename)); err != nil {
		os.Remove(tmpfile.Name())
		return err
	}

	return nil
}
