//go:build windows

package lock

import (
	"errors"
	"os"
)

// TODO: use LockFileEx once golang.org/x/sys/windows is a direct dependency.
func lockFile(f *os.File) error {
	return errors.New("pid lock is not supported on windows")
}

func unlockFile(f *os.File) error { return nil }
