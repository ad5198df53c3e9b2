package spawner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/mattjoyce/crewgate/internal/buffer"
	"github.com/mattjoyce/crewgate/internal/log"
)

const (
	// DefaultTimeout bounds a foreground call when neither the call nor the
	// configuration sets one.
	DefaultTimeout = 5 * time.Minute

	// DefaultGracePeriod is the wait between SIGTERM and SIGKILL.
	DefaultGracePeriod = 3 * time.Second

	// defaultWaitDelay bounds how long Wait keeps draining output pipes held
	// open by grandchildren after the agent itself has exited.
	defaultWaitDelay = 2 * time.Second
)

// Resolver maps an agent name to the executable and leading arguments.
type Resolver func(agent string) (cmd string, baseArgs []string)

// Config holds spawner tunables.
type Config struct {
	DefaultTimeout time.Duration
	GracePeriod    time.Duration
	MaxStdout      int
}

// Options configures one invocation.
type Options struct {
	Dir string
	// Timeout overrides the default foreground timeout. Ignored in background mode.
	Timeout time.Duration
	Env     map[string]string
	// Stdin is written to the process's standard input when non-empty.
	// Otherwise stdin is the null device.
	Stdin string
}

// Result is the captured outcome of a foreground call.
type Result struct {
	Stdout string
	Stderr string
	// ExitCode is nil when the call was abandoned on timeout or the process
	// was ended by a signal.
	ExitCode *int

	timedOut bool
}

// TimedOut reports whether the call was cut off by its timeout.
func (r *Result) TimedOut() bool { return r.timedOut }

// Spawner starts agent processes and tracks every live one.
type Spawner struct {
	cfg       Config
	resolve   Resolver
	logger    *slog.Logger
	mu        sync.Mutex
	active    map[*Process]struct{}
	baseEnv   []string
	waitDelay time.Duration
}

// Option configures a Spawner.
type Option func(*Spawner)

// WithResolver overrides how agent names map to executables.
func WithResolver(r Resolver) Option {
	return func(s *Spawner) { s.resolve = r }
}

// WithLogger sets the spawner's logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Spawner) { s.logger = l }
}

// New creates a Spawner. Zero values in cfg fall back to package defaults.
func New(cfg Config, opts ...Option) *Spawner {
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = DefaultTimeout
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = DefaultGracePeriod
	}
	if cfg.MaxStdout <= 0 {
		cfg.MaxStdout = buffer.DefaultMaxStdout
	}
	s := &Spawner{
		cfg:       cfg,
		resolve:   ResolveCommand,
		logger:    log.WithComponent("spawner"),
		active:    make(map[*Process]struct{}),
		baseEnv:   os.Environ(),
		waitDelay: defaultWaitDelay,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// MaxStdout returns the configured stdout cap.
func (s *Spawner) MaxStdout() int { return s.cfg.MaxStdout }

// DefaultTimeout returns the configured foreground timeout.
func (s *Spawner) DefaultTimeout() time.Duration { return s.cfg.DefaultTimeout }

// RunForeground starts the agent and blocks until it exits, the timeout
// elapses, or ctx is cancelled. A non-zero exit is not an error; the only
// error returned for a started process is ctx's. On timeout or cancellation
// the process is terminated but stays in the active set until it exits.
func (s *Spawner) RunForeground(ctx context.Context, agent string, args []string, opts Options) (*Result, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = s.cfg.DefaultTimeout
	}

	p, err := s.start(agent, args, opts)
	if err != nil {
		return nil, err
	}

	stdout := buffer.NewStdout(s.cfg.MaxStdout)
	stderr := buffer.NewStderr()
	p.Attach(stdout, stderr)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-p.Done():
		exit, _ := p.Exit()
		if exit.Err != nil {
			s.logger.Warn("foreground process failed", "agent", agent, "error", exit.Err)
		}
		return &Result{
			Stdout:   stdout.String(),
			Stderr:   stderr.String(),
			ExitCode: exit.Code,
		}, nil

	case <-timer.C:
		s.logger.Warn("foreground call timed out", "agent", agent, "timeout", timeout)
		s.Terminate(p)
		return &Result{
			Stdout:   stdout.String(),
			Stderr:   stderr.String() + fmt.Sprintf("\n[timeout after %dms]", timeout.Milliseconds()),
			timedOut: true,
		}, nil

	case <-ctx.Done():
		s.logger.Warn("foreground call cancelled", "agent", agent, "error", ctx.Err())
		s.Terminate(p)
		return nil, ctx.Err()
	}
}

// RunBackground starts the agent and returns the live process immediately.
// The caller must Attach sinks; no timeout applies.
func (s *Spawner) RunBackground(agent string, args []string, opts Options) (*Process, error) {
	return s.start(agent, args, opts)
}

// Terminate escalates termination of p. It is a no-op if p already exited
// or termination was already requested.
func (s *Spawner) Terminate(p *Process) {
	if p == nil || !p.markKilled() {
		return
	}
	s.escalate(p)
}

// TerminateAll ends every tracked process and clears the active set. Used at
// shutdown. Processes still running after an earlier termination request
// (a timed-out call waiting out its grace period) are killed outright.
func (s *Spawner) TerminateAll() {
	s.mu.Lock()
	procs := make([]*Process, 0, len(s.active))
	for p := range s.active {
		procs = append(procs, p)
	}
	s.active = make(map[*Process]struct{})
	s.mu.Unlock()

	if len(procs) > 0 {
		s.logger.Info("terminating active processes", "count", len(procs))
	}
	for _, p := range procs {
		if p.markKilled() {
			s.escalate(p)
			continue
		}
		if !p.Exited() {
			s.forceKill(p)
		}
	}
}

// Active returns the pids of tracked processes, sorted.
func (s *Spawner) Active() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	pids := make([]int, 0, len(s.active))
	for p := range s.active {
		if pid, ok := p.PID(); ok {
			pids = append(pids, pid)
		}
	}
	sort.Ints(pids)
	return pids
}

func (s *Spawner) start(agent string, args []string, opts Options) (*Process, error) {
	name, baseArgs := s.resolve(agent)
	argv := append(append([]string{}, baseArgs...), args...)

	cmd := exec.Command(name, argv...)
	cmd.Dir = opts.Dir
	cmd.Env = s.buildEnv(opts.Env)
	cmd.WaitDelay = s.waitDelay
	configureCmd(cmd)

	p := newProcess(agent, cmd)

	var stdin io.WriteCloser
	if opts.Stdin != "" {
		w, err := cmd.StdinPipe()
		if err != nil {
			return nil, &SpawnError{Agent: agent, Command: name, Dir: opts.Dir, Err: fmt.Errorf("create stdin pipe: %w", err)}
		}
		stdin = w
	}

	if err := cmd.Start(); err != nil {
		if stdin != nil {
			_ = stdin.Close()
		}
		s.logger.Warn("spawn failed", "agent", agent, "command", name, "dir", opts.Dir, "error", err)
		return nil, &SpawnError{Agent: agent, Command: name, Dir: opts.Dir, Err: err}
	}
	p.started = time.Now()

	s.track(p)
	p.OnExit(func(exit Exit) {
		s.untrack(p)
		s.logger.Debug("process exited", "agent", agent, "exit_code", exit.Code, "error", exit.Err)
	})

	if stdin != nil {
		go s.feedStdin(agent, stdin, opts.Stdin)
	}
	go p.wait()

	pid, _ := p.PID()
	s.logger.Debug("process started", "agent", agent, "pid", pid, "dir", opts.Dir)
	return p, nil
}

// feedStdin writes data and closes stdin. The agent may exit before reading
// everything; broken pipes are expected and ignored.
func (s *Spawner) feedStdin(agent string, w io.WriteCloser, data string) {
	defer w.Close()
	if _, err := io.WriteString(w, data); err != nil {
		if errors.Is(err, syscall.EPIPE) || errors.Is(err, os.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
			return
		}
		s.logger.Debug("stdin write failed", "agent", agent, "error", err)
	}
}

func (s *Spawner) buildEnv(extra map[string]string) []string {
	env := make([]string, 0, len(s.baseEnv)+len(extra)+1)
	env = append(env, s.baseEnv...)
	env = append(env, "MSYS_NO_PATHCONV=1")
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+extra[k])
	}
	return env
}

func (s *Spawner) track(p *Process) {
	s.mu.Lock()
	s.active[p] = struct{}{}
	s.mu.Unlock()
}

func (s *Spawner) untrack(p *Process) {
	s.mu.Lock()
	delete(s.active, p)
	s.mu.Unlock()
}
