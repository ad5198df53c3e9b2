//go:build !windows

package spawner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/mattjoyce/crewgate/internal/buffer"
	"github.com/mattjoyce/crewgate/internal/log"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR")
	os.Exit(m.Run())
}

// fakeAgents writes one shell script per agent into a temp dir and returns a
// resolver that runs them through /bin/sh.
func fakeAgents(t *testing.T, scripts map[string]string) Resolver {
	t.Helper()
	dir := t.TempDir()
	for name, body := range scripts {
		path := filepath.Join(dir, name+".sh")
		if err := os.WriteFile(path, []byte(body), 0o755); err != nil {
			t.Fatalf("write fake agent %s: %v", name, err)
		}
	}
	return func(agent string) (string, []string) {
		path := filepath.Join(dir, agent+".sh")
		if _, err := os.Stat(path); err != nil {
			return filepath.Join(dir, "missing-"+agent), nil
		}
		return "/bin/sh", []string{path}
	}
}

func newTestSpawner(t *testing.T, scripts map[string]string, cfg Config) *Spawner {
	t.Helper()
	if cfg.GracePeriod == 0 {
		cfg.GracePeriod = 200 * time.Millisecond
	}
	return New(cfg, WithResolver(fakeAgents(t, scripts)))
}

func TestRunForegroundSuccess(t *testing.T) {
	t.Parallel()
	s := newTestSpawner(t, map[string]string{
		"gemini": "printf 'hello %s' \"$1\"\nprintf 'warn' >&2\n",
	}, Config{})

	res, err := s.RunForeground(context.Background(), "gemini", []string{"world"}, Options{})
	if err != nil {
		t.Fatalf("RunForeground: %v", err)
	}
	if res.Stdout != "hello world" {
		t.Fatalf("stdout = %q, want %q", res.Stdout, "hello world")
	}
	if res.Stderr != "warn" {
		t.Fatalf("stderr = %q, want %q", res.Stderr, "warn")
	}
	if res.ExitCode == nil || *res.ExitCode != 0 {
		t.Fatalf("exit code = %v, want 0", res.ExitCode)
	}
	if len(s.Active()) != 0 {
		t.Fatalf("active set not empty after exit: %v", s.Active())
	}
}

func TestRunForegroundNonZeroExitIsNotError(t *testing.T) {
	t.Parallel()
	s := newTestSpawner(t, map[string]string{
		"codex": "echo boom >&2\nexit 3\n",
	}, Config{})

	res, err := s.RunForeground(context.Background(), "codex", nil, Options{})
	if err != nil {
		t.Fatalf("RunForeground: %v", err)
	}
	if res.ExitCode == nil || *res.ExitCode != 3 {
		t.Fatalf("exit code = %v, want 3", res.ExitCode)
	}
	if !strings.Contains(res.Stderr, "boom") {
		t.Fatalf("stderr = %q, want boom", res.Stderr)
	}
}

func TestRunForegroundStdin(t *testing.T) {
	t.Parallel()
	s := newTestSpawner(t, map[string]string{
		"gemini": "cat\n",
	}, Config{})

	res, err := s.RunForeground(context.Background(), "gemini", nil, Options{Stdin: "prompt via stdin"})
	if err != nil {
		t.Fatalf("RunForeground: %v", err)
	}
	if res.Stdout != "prompt via stdin" {
		t.Fatalf("stdout = %q", res.Stdout)
	}
}

func TestRunForegroundNoStdinReadsEOF(t *testing.T) {
	t.Parallel()
	s := newTestSpawner(t, map[string]string{
		"claude": "cat\necho done\n",
	}, Config{})

	res, err := s.RunForeground(context.Background(), "claude", nil, Options{Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("RunForeground: %v", err)
	}
	if res.TimedOut() {
		t.Fatal("child blocked on stdin; expected null device")
	}
	if strings.TrimSpace(res.Stdout) != "done" {
		t.Fatalf("stdout = %q", res.Stdout)
	}
}

func TestRunForegroundEnvAndDir(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	s := newTestSpawner(t, map[string]string{
		"codex": "printf '%s|%s|%s' \"$CREW_TEST\" \"$MSYS_NO_PATHCONV\" \"$(pwd -P)\"\n",
	}, Config{})

	res, err := s.RunForeground(context.Background(), "codex", nil, Options{
		Dir: dir,
		Env: map[string]string{"CREW_TEST": "x"},
	})
	if err != nil {
		t.Fatalf("RunForeground: %v", err)
	}
	resolved, _ := filepath.EvalSymlinks(dir)
	want := "x|1|" + resolved
	if res.Stdout != want {
		t.Fatalf("stdout = %q, want %q", res.Stdout, want)
	}
}

func TestRunForegroundTimeout(t *testing.T) {
	t.Parallel()
	s := newTestSpawner(t, map[string]string{
		"gemini": "printf partial\nexec sleep 30\n",
	}, Config{})

	start := time.Now()
	res, err := s.RunForeground(context.Background(), "gemini", nil, Options{Timeout: 300 * time.Millisecond})
	if err != nil {
		t.Fatalf("RunForeground: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Fatalf("timeout took %v", elapsed)
	}
	if res.ExitCode != nil {
		t.Fatalf("exit code = %v, want nil", *res.ExitCode)
	}
	if !res.TimedOut() {
		t.Fatal("TimedOut() = false")
	}
	if !strings.HasSuffix(res.Stderr, "\n[timeout after 300ms]") {
		t.Fatalf("stderr = %q, want timeout trailer", res.Stderr)
	}
	// Tracked until the SIGTERM actually lands.
	eventually(t, 5*time.Second, func() bool { return len(s.Active()) == 0 })
}

func TestRunForegroundTimeoutEscalatesToKill(t *testing.T) {
	t.Parallel()
	s := newTestSpawner(t, map[string]string{
		"gemini": "trap '' TERM\nwhile :; do sleep 0.05; done\n",
	}, Config{GracePeriod: 500 * time.Millisecond})

	res, err := s.RunForeground(context.Background(), "gemini", nil, Options{Timeout: 200 * time.Millisecond})
	if err != nil {
		t.Fatalf("RunForeground: %v", err)
	}
	if !res.TimedOut() {
		t.Fatal("TimedOut() = false")
	}

	active := s.Active()
	if len(active) != 1 {
		t.Fatalf("active = %v, want the process that ignored SIGTERM", active)
	}
	pid := active[0]
	if err := syscall.Kill(pid, 0); err != nil {
		t.Fatalf("process gone before the grace period: %v", err)
	}

	eventually(t, 5*time.Second, func() bool { return errors.Is(syscall.Kill(pid, 0), syscall.ESRCH) })
	eventually(t, time.Second, func() bool { return len(s.Active()) == 0 })
}

func TestTerminateAllKillsTimedOutProcess(t *testing.T) {
	t.Parallel()
	s := newTestSpawner(t, map[string]string{
		"codex": "trap '' TERM\nwhile :; do sleep 0.05; done\n",
	}, Config{GracePeriod: time.Minute})

	res, err := s.RunForeground(context.Background(), "codex", nil, Options{Timeout: 200 * time.Millisecond})
	if err != nil {
		t.Fatalf("RunForeground: %v", err)
	}
	if !res.TimedOut() {
		t.Fatal("TimedOut() = false")
	}
	active := s.Active()
	if len(active) != 1 {
		t.Fatalf("active = %v, want 1 process waiting out its grace period", active)
	}

	s.TerminateAll()
	eventually(t, 5*time.Second, func() bool { return errors.Is(syscall.Kill(active[0], 0), syscall.ESRCH) })
}

func TestRunForegroundSignalledIsNotTimeout(t *testing.T) {
	t.Parallel()
	s := newTestSpawner(t, map[string]string{
		"gemini": "kill -KILL $$\n",
	}, Config{})

	res, err := s.RunForeground(context.Background(), "gemini", nil, Options{})
	if err != nil {
		t.Fatalf("RunForeground: %v", err)
	}
	if res.ExitCode != nil {
		t.Fatalf("exit code = %d, want nil for signalled process", *res.ExitCode)
	}
	if res.TimedOut() {
		t.Fatal("signalled process reported as timed out")
	}
}

// eventually polls cond until it holds or d elapses.
func eventually(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met within %v", d)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestRunForegroundDefaultTimeoutFromConfig(t *testing.T) {
	t.Parallel()
	s := newTestSpawner(t, map[string]string{
		"gemini": "exec sleep 30\n",
	}, Config{DefaultTimeout: 250 * time.Millisecond})

	res, err := s.RunForeground(context.Background(), "gemini", nil, Options{})
	if err != nil {
		t.Fatalf("RunForeground: %v", err)
	}
	if !res.TimedOut() {
		t.Fatal("expected timeout")
	}
	if !strings.HasSuffix(res.Stderr, "[timeout after 250ms]") {
		t.Fatalf("stderr = %q", res.Stderr)
	}
}

func TestRunForegroundContextCancel(t *testing.T) {
	t.Parallel()
	s := newTestSpawner(t, map[string]string{
		"codex": "exec sleep 30\n",
	}, Config{})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, err := s.RunForeground(ctx, "codex", nil, Options{})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want context.DeadlineExceeded", err)
	}
}

func TestRunForegroundStdoutCap(t *testing.T) {
	t.Parallel()
	s := newTestSpawner(t, map[string]string{
		"gemini": "i=0; while [ $i -lt 100 ]; do printf '0123456789'; i=$((i+1)); done\n",
	}, Config{MaxStdout: 64})

	res, err := s.RunForeground(context.Background(), "gemini", nil, Options{})
	if err != nil {
		t.Fatalf("RunForeground: %v", err)
	}
	if !strings.HasSuffix(res.Stdout, buffer.StdoutTrailer) {
		t.Fatalf("stdout missing trailer: %q", res.Stdout)
	}
	if len(res.Stdout) > 64+len(buffer.StdoutTrailer) {
		t.Fatalf("stdout length %d exceeds cap", len(res.Stdout))
	}
}

func TestSpawnFailure(t *testing.T) {
	t.Parallel()
	s := New(Config{}, WithResolver(func(agent string) (string, []string) {
		return "/nonexistent/crewgate-agent-" + agent, nil
	}))

	_, err := s.RunForeground(context.Background(), "gemini", nil, Options{})
	if !errors.Is(err, ErrSpawn) {
		t.Fatalf("err = %v, want ErrSpawn", err)
	}
	var se *SpawnError
	if !errors.As(err, &se) {
		t.Fatalf("err = %T, want *SpawnError", err)
	}
	if !se.NotFound() {
		t.Fatalf("NotFound() = false for %v", se.Err)
	}

	if _, err := s.RunBackground("gemini", nil, Options{}); !errors.Is(err, ErrSpawn) {
		t.Fatalf("background err = %v, want ErrSpawn", err)
	}
	if len(s.Active()) != 0 {
		t.Fatalf("failed spawn left tracked process")
	}
}

func TestSpawnFailureMissingDir(t *testing.T) {
	t.Parallel()
	s := newTestSpawner(t, map[string]string{"codex": "true\n"}, Config{})

	_, err := s.RunForeground(context.Background(), "codex", nil, Options{Dir: filepath.Join(t.TempDir(), "gone")})
	var se *SpawnError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want *SpawnError", err)
	}
	if !se.MissingDir() {
		t.Fatal("MissingDir() = false")
	}
}

func TestRunBackgroundAttachReplaysOutput(t *testing.T) {
	t.Parallel()
	s := newTestSpawner(t, map[string]string{
		"claude": "printf early\n",
	}, Config{})

	p, err := s.RunBackground("claude", nil, Options{})
	if err != nil {
		t.Fatalf("RunBackground: %v", err)
	}
	if _, ok := p.PID(); !ok {
		t.Fatal("expected pid")
	}

	// Let the process finish before anything is attached.
	time.Sleep(200 * time.Millisecond)

	stdout := buffer.NewStdout(1024)
	stderr := buffer.NewStderr()
	p.Attach(stdout, stderr)

	exited := make(chan Exit, 1)
	p.OnExit(func(e Exit) { exited <- e })

	select {
	case e := <-exited:
		if e.Code == nil || *e.Code != 0 {
			t.Fatalf("exit = %+v", e)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("process never exited")
	}
	if stdout.String() != "early" {
		t.Fatalf("stdout = %q", stdout.String())
	}
}

func TestOutputDeliveredBeforeExitObservers(t *testing.T) {
	t.Parallel()
	s := newTestSpawner(t, map[string]string{
		"codex": "i=0; while [ $i -lt 200 ]; do echo line$i; i=$((i+1)); done\n",
	}, Config{})

	p, err := s.RunBackground("codex", nil, Options{})
	if err != nil {
		t.Fatalf("RunBackground: %v", err)
	}
	stdout := buffer.NewStdout(1 << 20)
	p.Attach(stdout, nil)

	seen := make(chan string, 1)
	p.OnExit(func(Exit) { seen <- stdout.String() })

	select {
	case out := <-seen:
		if !strings.Contains(out, "line199") {
			t.Fatalf("exit observed before final output; got %d bytes", len(out))
		}
	case <-time.After(5 * time.Second):
		t.Fatal("process never exited")
	}
}

func TestTerminateEscalatesToKill(t *testing.T) {
	t.Parallel()
	s := newTestSpawner(t, map[string]string{
		"gemini": "trap '' TERM\nwhile :; do sleep 0.05; done\n",
	}, Config{GracePeriod: 300 * time.Millisecond})

	p, err := s.RunBackground("gemini", nil, Options{})
	if err != nil {
		t.Fatalf("RunBackground: %v", err)
	}
	p.Attach(nil, nil)
	time.Sleep(100 * time.Millisecond)

	s.Terminate(p)
	if !p.Killed() {
		t.Fatal("Killed() = false after Terminate")
	}
	// Second request is a no-op.
	s.Terminate(p)

	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("process ignored SIGKILL escalation")
	}
	exit, _ := p.Exit()
	if exit.Code != nil {
		t.Fatalf("exit code = %d, want nil for signalled process", *exit.Code)
	}
}

func TestTerminateAfterExitIsNoop(t *testing.T) {
	t.Parallel()
	s := newTestSpawner(t, map[string]string{"codex": "true\n"}, Config{})

	p, err := s.RunBackground("codex", nil, Options{})
	if err != nil {
		t.Fatalf("RunBackground: %v", err)
	}
	p.Attach(nil, nil)
	<-p.Done()

	s.Terminate(p)
	if p.Killed() {
		t.Fatal("Terminate marked an exited process as killed")
	}
}

func TestTerminateAll(t *testing.T) {
	t.Parallel()
	s := newTestSpawner(t, map[string]string{
		"gemini": "exec sleep 30\n",
		"codex":  "exec sleep 30\n",
	}, Config{})

	var procs []*Process
	for _, agent := range []string{"gemini", "codex"} {
		p, err := s.RunBackground(agent, nil, Options{})
		if err != nil {
			t.Fatalf("RunBackground(%s): %v", agent, err)
		}
		p.Attach(nil, nil)
		procs = append(procs, p)
	}
	if got := len(s.Active()); got != 2 {
		t.Fatalf("active = %d, want 2", got)
	}

	s.TerminateAll()
	if got := len(s.Active()); got != 0 {
		t.Fatalf("active after TerminateAll = %d", got)
	}
	for _, p := range procs {
		select {
		case <-p.Done():
		case <-time.After(5 * time.Second):
			t.Fatalf("%s survived TerminateAll", p.Agent())
		}
	}
}
