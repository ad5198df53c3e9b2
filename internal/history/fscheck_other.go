//go:build !darwin && !linux

package history

// detectFilesystemType reports no type where statfs is unavailable; the
// network filesystem check is skipped.
func detectFilesystemType(path string) (string, error) {
	return "", nil
}
