package utils

import (
	"fmt"
	"os"
	"path/filepath"
)

// AtomicFile is an output file that only appears at its final path once
// Commit succeeds. Until then the bytes live in a hidden temporary file next
// to the target, which Abort removes.
type AtomicFile struct {
	*os.File
	path string
	done bool
}

// CreateAtomic creates the temporary file backing an AtomicFile for path.
func CreateAtomic(path string, perm os.FileMode) (*AtomicFile, error) {
	dir := filepath.Dir(path)
	if err := EnsureDir(dir); err != nil {
		return nil, err
	}

	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return nil, err
	}
	if err := f.Chmod(perm); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, err
	}

	return &AtomicFile{File: f, path: path}, nil
}

// Commit flushes the file to disk and renames it over the target path.
func (a *AtomicFile) Commit() error {
	if a.done {
		return fmt.Errorf("%s: already finished", a.path)
	}
	a.done = true

	tmp := a.File.Name()
	if err := a.File.Sync(); err != nil {
		a.File.Close()
		os.Remove(tmp)
		return err
	}
	if err := a.File.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, a.path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// Abort discards the temporary file. It is a no-op after Commit, so it can
// be deferred unconditionally.
func (a *AtomicFile) Abort() {
	if a.done {
		return
	}
	a.done = true
	a.File.Close()
	os.Remove(a.File.Name())
}

// WriteFile writes data to a file, creating directories as needed
func WriteFile(path string, data []byte, perm os.FileMode) error {
	out, err := CreateAtomic(path, perm)
	if err != nil {
		return err
	}
	defer out.Abort()

	if _, err := out.Write(data); err != nil {
		return err
	}
	return out.Commit()
}

// EnsureDir ensures a directory exists, creating it if necessary
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}
