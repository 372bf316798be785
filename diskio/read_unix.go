//go:build unix

package diskio

import (
	"fmt"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

const canMmap = true

func readMapped(f *os.File, size int) ([]byte, error) {
	b, err := unix.Mmap(int(f.Fd()), 0, size, syscall.PROT_READ, syscall.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap %s: %w", f.Name(), err)
	}
	defer unix.Munmap(b)

	err = unix.Madvise(b, syscall.MADV_SEQUENTIAL)
	if err != nil && err != syscall.ENOSYS {
		return nil, fmt.Errorf("madvise(MADV_SEQUENTIAL): %w", err)
	}

	data := make([]byte, size)
	copy(data, b)
	return data, nil
}
