package spawner

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
)

// ErrSpawn matches every failure to start a subprocess.
var ErrSpawn = errors.New("spawn failed")

// SpawnError reports that the OS could not start an agent process. It is
// never used for a process that started and then exited non-zero.
type SpawnError struct {
	Agent   string
	Command string
	Dir     string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %s (%s): %v", e.Agent, e.Command, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

func (e *SpawnError) Is(target error) bool { return target == ErrSpawn }

// NotFound reports whether the executable or the working directory is missing.
func (e *SpawnError) NotFound() bool {
	return errors.Is(e.Err, exec.ErrNotFound) || errors.Is(e.Err, fs.ErrNotExist)
}

// MissingDir reports whether the configured working directory does not exist.
func (e *SpawnError) MissingDir() bool {
	if e.Dir == "" {
		return false
	}
	_, err := os.Stat(e.Dir)
	return errors.Is(err, fs.ErrNotExist)
}
