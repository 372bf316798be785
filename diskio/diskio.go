// Package diskio implements crash-safe file replacement for the filesystem
// driver.
package diskio

import (
	"errors"
	"os"
	"path/filepath"
)

type Options uint

const (
	// NoSync skips fdatasync and directory syncs. Writes are still atomic
	// with respect to readers, but not durable across power loss.
	NoSync Options = 1 << 0

	// MkdirAll creates missing parent directories.
	MkdirAll Options = 1 << 1
)

func (o Options) Has(v Options) bool {
	return o&v != 0
}

// WriteFile atomically replaces name with data: the data is written into a
// temporary file in the same directory, synced, and renamed over name.
func WriteFile(name string, data []byte, perm os.FileMode, opt Options) (err error) {
	dir := filepath.Dir(name)
	if opt.Has(MkdirAll) {
		err = os.MkdirAll(dir, 0o755)
		if err != nil {
			return err
		}
	}

	f, err := os.CreateTemp(dir, "."+filepath.Base(name)+".*.tmp")
	if err != nil {
		return err
	}
	tmp := f.Name()
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(tmp)
		}
	}()

	_, err = f.Write(data)
	if err != nil {
		return err
	}
	err = f.Chmod(perm)
	if err != nil {
		return err
	}
	if !opt.Has(NoSync) {
		err = Fdatasync(f)
		if err != nil {
			return err
		}
	}
	err = f.Close()
	if err != nil {
		return err
	}
	err = os.Rename(tmp, name)
	if err != nil {
		return err
	}
	if !opt.Has(NoSync) {
		return SyncDir(dir)
	}
	return nil
}

// Remove deletes name. A missing file is not an error; the returned bool
// reports whether the file existed.
func Remove(name string, opt Options) (bool, error) {
	err := os.Remove(name)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	} else if err != nil {
		return false, err
	}
	if !opt.Has(NoSync) {
		return true, SyncDir(filepath.Dir(name))
	}
	return true, nil
}

// RemoveAll deletes the directory tree at path.
func RemoveAll(path string, opt Options) error {
	err := os.RemoveAll(path)
	if err != nil {
		return err
	}
	if !opt.Has(NoSync) {
		err = SyncDir(filepath.Dir(path))
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	return nil
}
