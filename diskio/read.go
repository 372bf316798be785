package diskio

import (
	"io"
	"os"
)

// MmapThreshold is the file size from which ReadFile maps the file instead of
// reading it.
var MmapThreshold int64 = 64 * 1024

// ReadFile returns the contents of name. Large files are read through a
// read-only shared mapping with sequential read-ahead. The returned slice is
// always a private copy.
func ReadFile(name string) ([]byte, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := fi.Size()
	if size == 0 {
		return []byte{}, nil
	}
	if size >= MmapThreshold && canMmap {
		return readMapped(f, int(size))
	}
	data := make([]byte, size)
	_, err = io.ReadFull(f, data)
	if err != nil {
		return nil, err
	}
	return data, nil
}
