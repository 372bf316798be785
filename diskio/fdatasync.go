package diskio

import "os"

// Fdatasync flushes the data written to f to stable storage.
//
// On Linux this skips the metadata that plain fsync also writes (access and
// modification times), which is not needed for the data to be durable.
//
// Errors returned by Fdatasync are not recoverable: many file systems mark
// dirty pages as clean after a failed sync, so retrying will report success
// without the data ever reaching the disk. Callers should treat the file as
// lost.
func Fdatasync(f *os.File) error {
	return fdatasync(f)
}
