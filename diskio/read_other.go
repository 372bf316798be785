//go:build !unix

package diskio

import (
	"errors"
	"os"
)

const canMmap = false

func readMapped(f *os.File, size int) ([]byte, error) {
	return nil, errors.ErrUnsupported
}
