//go:build !unix

package diskio

// SyncDir is a no-op on platforms where directories cannot be synced.
func SyncDir(dir string) error {
	return nil
}
