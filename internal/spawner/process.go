package spawner

import (
	"bytes"
	"errors"
	"io"
	"os/exec"
	"sync"
	"time"
)

// Exit describes how a process ended.
type Exit struct {
	// Code is nil when the process did not exit normally (e.g. it was
	// terminated by a signal).
	Code *int
	// Err is set for process-level failures that are not an exit status.
	Err error
}

// Process is a live agent subprocess. Output is delivered to the writers
// passed to Attach; exit observers registered with OnExit run after all
// output has been delivered.
type Process struct {
	agent   string
	cmd     *exec.Cmd
	started time.Time

	stdout *sink
	stderr *sink
	done   chan struct{}

	mu        sync.Mutex
	exit      *Exit
	killed    bool
	killTimer *time.Timer
	observers []func(Exit)
}

func newProcess(agent string, cmd *exec.Cmd) *Process {
	p := &Process{
		agent:  agent,
		cmd:    cmd,
		stdout: &sink{},
		stderr: &sink{},
		done:   make(chan struct{}),
	}
	cmd.Stdout = p.stdout
	cmd.Stderr = p.stderr
	return p
}

// Agent returns the agent this process runs.
func (p *Process) Agent() string { return p.agent }

// StartedAt returns the time the process was started.
func (p *Process) StartedAt() time.Time { return p.started }

// PID returns the OS process id. ok is false if the platform did not report one.
func (p *Process) PID() (pid int, ok bool) {
	if p.cmd.Process == nil || p.cmd.Process.Pid <= 0 {
		return 0, false
	}
	return p.cmd.Process.Pid, true
}

// Done is closed once the exit has been observed and all output delivered.
func (p *Process) Done() <-chan struct{} { return p.done }

// Exited reports whether the exit has been observed.
func (p *Process) Exited() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exit != nil
}

// Killed reports whether termination has been requested.
func (p *Process) Killed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.killed
}

// Exit returns the exit description once available.
func (p *Process) Exit() (Exit, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.exit == nil {
		return Exit{}, false
	}
	return *p.exit, true
}

// Attach routes the process's stdout and stderr to the given writers.
// Output produced before Attach is replayed in order. A nil writer discards.
func (p *Process) Attach(stdout, stderr io.Writer) {
	p.stdout.attach(stdout)
	p.stderr.attach(stderr)
}

// OnExit registers fn to run once the process has exited. If the exit was
// already observed, fn runs immediately on the calling goroutine.
func (p *Process) OnExit(fn func(Exit)) {
	p.mu.Lock()
	if p.exit == nil {
		p.observers = append(p.observers, fn)
		p.mu.Unlock()
		return
	}
	exit := *p.exit
	p.mu.Unlock()
	fn(exit)
}

// markKilled flips the killed flag. It returns false if the process has
// already exited or was already marked.
func (p *Process) markKilled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.exit != nil || p.killed {
		return false
	}
	p.killed = true
	return true
}

// setKillTimer stores the pending forced-kill timer so it can be stopped
// when the process exits first.
func (p *Process) setKillTimer(t *time.Timer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.exit != nil {
		t.Stop()
		return
	}
	p.killTimer = t
}

// wait blocks on the underlying command and publishes the exit. exec.Cmd.Wait
// returns only after the stdout/stderr copies finished, so every byte has
// reached the sinks before observers run.
func (p *Process) wait() {
	err := p.cmd.Wait()
	exit := exitFrom(p.cmd, err)

	p.mu.Lock()
	p.exit = &exit
	if p.killTimer != nil {
		p.killTimer.Stop()
		p.killTimer = nil
	}
	observers := p.observers
	p.observers = nil
	p.mu.Unlock()

	close(p.done)
	for _, fn := range observers {
		fn(exit)
	}
}

func exitFrom(cmd *exec.Cmd, err error) Exit {
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		code := 0
		return Exit{Code: &code}
	case errors.As(err, &exitErr):
		if code := exitErr.ExitCode(); code >= 0 {
			return Exit{Code: &code}
		}
		// Terminated by a signal: no exit code.
		return Exit{}
	case errors.Is(err, exec.ErrWaitDelay):
		// Exited, but a grandchild kept the output pipes open past WaitDelay.
		if cmd.ProcessState != nil {
			if code := cmd.ProcessState.ExitCode(); code >= 0 {
				return Exit{Code: &code}
			}
		}
		return Exit{}
	default:
		return Exit{Err: err}
	}
}

// sink is the writer handed to exec.Cmd for one stream. Chunks that arrive
// before a consumer is attached are held and replayed on attach.
type sink struct {
	mu       sync.Mutex
	w        io.Writer
	attached bool
	pending  [][]byte
}

func (s *sink) Write(b []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.attached {
		s.pending = append(s.pending, bytes.Clone(b))
		return len(b), nil
	}
	if s.w != nil {
		_, _ = s.w.Write(b)
	}
	return len(b), nil
}

func (s *sink) attach(w io.Writer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attached {
		return
	}
	s.attached = true
	s.w = w
	if w != nil {
		for _, chunk := range s.pending {
			_, _ = w.Write(chunk)
		}
	}
	s.pending = nil
}
