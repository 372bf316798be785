//go:build !linux

package diskio

import "os"

func fdatasync(f *os.File) error {
	return f.Sync()
}
